package datasource

import (
	"context"
	"encoding/json"
	"time"

	"quantcore/internal/cache"
	"quantcore/pkg/types"
)

// historyTTL bounds how long fetched bars stay cached.
const historyTTL = 5 * time.Minute

// CachedSource decorates a Source with a cache for FetchBars. Realtime
// quotes are never cached.
type CachedSource struct {
	inner Source
	cache *cache.Manager
}

// NewCachedSource wraps src with the given backend.
func NewCachedSource(src Source, backend cache.Cache) *CachedSource {
	return &CachedSource{inner: src, cache: cache.NewManager(backend)}
}

func (c *CachedSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	key := cache.Key("bars", symbol, start.Format("20060102"), end.Format("20060102"))

	value, err := c.cache.GetOrSet(key, func() (any, error) {
		bars, err := c.inner.FetchBars(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		return bars, nil
	}, historyTTL)
	if err != nil {
		return nil, err
	}

	if bars, ok := value.([]types.Bar); ok {
		return bars, nil
	}
	// file-backed caches round-trip through JSON; decode the generic form
	data, err := json.Marshal(value)
	if err != nil {
		return nil, normalizeError("fetch_bars", err)
	}
	var bars []types.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, normalizeError("fetch_bars", err)
	}
	return bars, nil
}

func (c *CachedSource) FetchRealtime(ctx context.Context, symbol string) (*types.Quote, error) {
	return c.inner.FetchRealtime(ctx, symbol)
}
