package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/globals"
	"github.com/tcriess/geonote-chat/types"
	"github.com/tidwall/buntdb"
)

const imageKeyPrefix = "image:"

type BuntDBPersist struct {
	db   *buntdb.DB
	lock *flock.Flock
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	var lock *flock.Flock
	if fileName != ":memory:" {
		lockPath := cfg.PersistenceConfig.FlockPath
		if lockPath == "" {
			lockPath = fileName + ".lock"
		}
		lock = flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("database %s is locked by another process", fileName)
		}
	}
	db, err := setupBuntDB(fileName)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}
	return &BuntDBPersist{db: db, lock: lock}, nil
}

func setupBuntDB(fileName string) (*buntdb.DB, error) {
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("imagesref", imageKeyPrefix+"*", buntdb.IndexJSON("ref"))
	if err != nil {
		db.Close()
		return nil, err
	}
	err = db.CreateIndex("imagescreated", imageKeyPrefix+"*", buntdb.IndexJSON("created_at"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (p *BuntDBPersist) StoreImage(image types.Image) error {
	if image.Prompt == "" {
		return fmt.Errorf("no prompt")
	}
	i, err := json.Marshal(image)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(imageKeyPrefix+image.Prompt, string(i), nil)
		return err
	})
}

func (p *BuntDBPersist) GetImage(image *types.Image) error {
	if image.Prompt == "" {
		return fmt.Errorf("no prompt")
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		i, err := tx.Get(imageKeyPrefix + image.Prompt)
		if errors.Is(err, buntdb.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(i), image)
	})
}

func (p *BuntDBPersist) GetImageByRef(ref string) (*types.Image, error) {
	var image *types.Image
	pivot := fmt.Sprintf(`{"ref":%q}`, ref)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		iterErr := tx.AscendEqual("imagesref", pivot, func(key, val string) bool {
			image = &types.Image{}
			err = json.Unmarshal([]byte(val), image)
			return false
		})
		if iterErr != nil {
			return iterErr
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if image == nil {
		return nil, ErrNotFound
	}
	return image, nil
}

// GetImages returns all images, newest first.
func (p *BuntDBPersist) GetImages() ([]*types.Image, error) {
	images := make([]*types.Image, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend("imagescreated", func(key, val string) bool {
			image := &types.Image{}
			if err := json.Unmarshal([]byte(val), image); err != nil {
				globals.AppLogger.Error("could not unmarshal image (skipped)", "key", key, "error", err)
				return true
			}
			images = append(images, image)
			return true
		})
	})
	return images, err
}

func (p *BuntDBPersist) DeleteImage(image *types.Image) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(imageKeyPrefix + image.Prompt)
		if errors.Is(err, buntdb.ErrNotFound) {
			return ErrNotFound
		}
		return err
	})
}

func (p *BuntDBPersist) Close() error {
	err := p.db.Close()
	if p.lock != nil {
		if unlockErr := p.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}
