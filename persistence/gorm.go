package persistence

import (
	"errors"
	"fmt"

	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	err = db.AutoMigrate(&types.Image{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (p *GormPersist) StoreImage(image types.Image) error {
	if image.Prompt == "" {
		return fmt.Errorf("no prompt")
	}
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&image).Error
}

func (p *GormPersist) GetImage(image *types.Image) error {
	if image.Prompt == "" {
		return fmt.Errorf("no prompt")
	}
	return notFound(p.db.First(image, "prompt = ?", image.Prompt).Error)
}

func (p *GormPersist) GetImageByRef(ref string) (*types.Image, error) {
	image := &types.Image{}
	err := p.db.First(image, "ref = ?", ref).Error
	if err != nil {
		return nil, notFound(err)
	}
	return image, nil
}

// GetImages returns all images, newest first.
func (p *GormPersist) GetImages() ([]*types.Image, error) {
	images := make([]*types.Image, 0)
	err := p.db.Order("created_at DESC").Find(&images).Error
	return images, err
}

func (p *GormPersist) DeleteImage(image *types.Image) error {
	res := p.db.Delete(&types.Image{}, "prompt = ?", image.Prompt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
