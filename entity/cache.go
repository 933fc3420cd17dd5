package entity

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jacentio/arbor/key"
)

// CachedBackend decorates a backend with a TTL read-through cache on Get.
// Writes through the decorator invalidate the affected key; writes that
// bypass it leave the cache stale until expiry, so keep the TTL short for
// shared tables. Listing operations pass through uncached.
type CachedBackend struct {
	Backend
	coord  key.Coordinate
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewCachedBackend wraps b for the entity at coord. Entries live for ttl;
// expired entries are swept every cleanup interval.
func NewCachedBackend(b Backend, coord key.Coordinate, ttl, cleanup time.Duration, logger *slog.Logger) *CachedBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedBackend{
		Backend: b,
		coord:   coord,
		cache:   gocache.New(ttl, cleanup),
		logger:  logger,
	}
}

func (c *CachedBackend) Create(ctx context.Context, item Item) (Item, error) {
	created, err := c.Backend.Create(ctx, item)
	if err != nil {
		return nil, err
	}
	c.cache.Delete(created.Key(c.coord).String())
	return created, nil
}

func (c *CachedBackend) Get(ctx context.Context, k key.Key) (Item, error) {
	ck := k.String()
	if v, ok := c.cache.Get(ck); ok {
		if item, ok := v.(Item); ok {
			c.logger.Debug("backend cache hit", "key", ck)
			return item.clone(), nil
		}
	}
	item, err := c.Backend.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(ck, item.clone())
	return item, nil
}

func (c *CachedBackend) Update(ctx context.Context, k key.Key, patch Item) (Item, error) {
	updated, err := c.Backend.Update(ctx, k, patch)
	if err != nil {
		return nil, err
	}
	c.cache.Delete(k.String())
	return updated, nil
}

func (c *CachedBackend) Remove(ctx context.Context, k key.Key) (Item, error) {
	removed, err := c.Backend.Remove(ctx, k)
	if err != nil {
		return nil, err
	}
	c.cache.Delete(k.String())
	return removed, nil
}
