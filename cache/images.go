package cache

import (
	"errors"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/geonote-chat/globals"
	"github.com/tcriess/geonote-chat/persistence"
	"github.com/tcriess/geonote-chat/types"
)

const defaultSize = 256

// Images caches generated images by prompt. The in-memory LRU is backed by the (optional) persister, so entries
// evicted from memory or from a previous run are still found.
type Images struct {
	byPrompt  *lru.Cache // prompt -> types.Image
	byRef     *lru.Cache // ref -> prompt
	persister persistence.Persister
	logger    hclog.Logger
}

func NewImages(size int, persister persistence.Persister) (*Images, error) {
	if size <= 0 {
		size = defaultSize
	}
	byPrompt, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	byRef, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Images{
		byPrompt:  byPrompt,
		byRef:     byRef,
		persister: persister,
		logger:    globals.AppLogger.Named("image-cache"),
	}, nil
}

// Get returns the image generated for prompt.
func (c *Images) Get(prompt string) (types.Image, bool) {
	if v, ok := c.byPrompt.Get(prompt); ok {
		return v.(types.Image), true
	}
	if c.persister == nil {
		return types.Image{}, false
	}
	image := types.Image{Prompt: prompt}
	err := c.persister.GetImage(&image)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			c.logger.Error("could not get image", "prompt", prompt, "error", err)
		}
		return types.Image{}, false
	}
	c.add(image)
	return image, true
}

// ByRef returns the image with the given transport reference.
func (c *Images) ByRef(ref string) (types.Image, bool) {
	if v, ok := c.byRef.Get(ref); ok {
		if image, ok := c.Get(v.(string)); ok && image.Ref == ref {
			return image, true
		}
	}
	if c.persister == nil {
		return types.Image{}, false
	}
	image, err := c.persister.GetImageByRef(ref)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			c.logger.Error("could not get image", "ref", ref, "error", err)
		}
		return types.Image{}, false
	}
	c.add(*image)
	return *image, true
}

// Put adds or replaces the image for image.Prompt.
func (c *Images) Put(image types.Image) error {
	c.add(image)
	if c.persister == nil {
		return nil
	}
	return c.persister.StoreImage(image)
}

func (c *Images) add(image types.Image) {
	c.byPrompt.Add(image.Prompt, image)
	if image.Ref != "" {
		c.byRef.Add(image.Ref, image.Prompt)
	}
}
