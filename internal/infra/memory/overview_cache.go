package memory

import (
	"context"
	"sync"
	"time"

	"course-progression-service/internal/app"
	"course-progression-service/internal/domain"
)

// OverviewCache is an in-process app.OverviewCache with a fixed TTL.
type OverviewCache struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.RWMutex
	entries map[domain.LedgerKey]cachedOverview
}

type cachedOverview struct {
	overview  app.Overview
	expiresAt time.Time
}

func NewOverviewCache(ttl time.Duration) *OverviewCache {
	return &OverviewCache{ttl: ttl, clock: time.Now, entries: make(map[domain.LedgerKey]cachedOverview)}
}

func (c *OverviewCache) Get(_ context.Context, key domain.LedgerKey) (app.Overview, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return app.Overview{}, false
	}
	return entry.overview, true
}

func (c *OverviewCache) Set(_ context.Context, key domain.LedgerKey, overview app.Overview) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cachedOverview{overview: overview, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *OverviewCache) Invalidate(_ context.Context, key domain.LedgerKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
