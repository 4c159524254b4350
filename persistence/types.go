package persistence

import (
	"errors"
	"fmt"

	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/types"
)

var ErrNotFound = errors.New("not found")

// Persister stores generated images so the prompt -> image cache survives restarts.
type Persister interface {
	StoreImage(types.Image) error
	GetImage(*types.Image) error // by prompt
	GetImageByRef(string) (*types.Image, error)
	GetImages() ([]*types.Image, error)
	DeleteImage(*types.Image) error
	Close() error
}

// NewPersister creates the persister configured in cfg.PersistenceConfig. It returns nil (and no error) if no
// persistence is configured.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "":
		return nil, nil
	case "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	}
	return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
}
