package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"course-progression-service/internal/app"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/logger"
)

// OverviewCache shares computed overviews between instances. Cache errors
// are logged and treated as misses.
type OverviewCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewOverviewCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *OverviewCache {
	if log == nil {
		log = logger.Nop()
	}
	return &OverviewCache{client: client, ttl: ttl, log: log}
}

func (c *OverviewCache) Get(ctx context.Context, key domain.LedgerKey) (app.Overview, bool) {
	raw, err := c.client.Get(ctx, overviewKey(key)).Bytes()
	if err != nil {
		if !isNil(err) {
			c.log.Warn("overview cache read failed", "ledger", key.String(), "err", err)
		}
		return app.Overview{}, false
	}
	var ov app.Overview
	if err := json.Unmarshal(raw, &ov); err != nil {
		return app.Overview{}, false
	}
	return ov, true
}

func (c *OverviewCache) Set(ctx context.Context, key domain.LedgerKey, overview app.Overview) {
	if c.ttl <= 0 {
		return
	}
	payload, err := json.Marshal(overview)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, overviewKey(key), payload, c.ttl).Err(); err != nil {
		c.log.Warn("overview cache write failed", "ledger", key.String(), "err", err)
	}
}

func (c *OverviewCache) Invalidate(ctx context.Context, key domain.LedgerKey) {
	if err := c.client.Del(ctx, overviewKey(key)).Err(); err != nil {
		c.log.Warn("overview cache invalidate failed", "ledger", key.String(), "err", err)
	}
}

func overviewKey(key domain.LedgerKey) string {
	return "progress:overview:" + key.StudentID + ":" + key.CourseID
}
