package storage

import (
	"context"
	"time"

	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	gocache "github.com/patrickmn/go-cache"
)

type ConfigLoader interface {
	LoadConfig(ctx context.Context, businessID string) (model.BusinessConfig, error)
}

// CachedConfigReader serves configuration snapshots to read endpoints. Booking never reads
// through it. Owner edits call Invalidate so the next read sees them.
type CachedConfigReader struct {
	source ConfigLoader
	cache  *gocache.Cache
}

func NewCachedConfigReader(source ConfigLoader, ttl time.Duration) *CachedConfigReader {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedConfigReader{source: source, cache: gocache.New(ttl, 2*ttl)}
}

func (c *CachedConfigReader) LoadConfig(ctx context.Context, businessID string) (model.BusinessConfig, error) {
	if v, ok := c.cache.Get(businessID); ok {
		return v.(model.BusinessConfig), nil
	}
	cfg, err := c.source.LoadConfig(ctx, businessID)
	if err != nil {
		return model.BusinessConfig{}, err
	}
	c.cache.SetDefault(businessID, cfg)
	return cfg, nil
}

func (c *CachedConfigReader) Invalidate(businessID string) {
	c.cache.Delete(businessID)
}
