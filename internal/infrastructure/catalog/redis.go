package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/usecase"
)

// Cached puts a Redis read-through cache in front of another catalog. Redis
// failures are logged and the inner catalog is asked directly.
type Cached struct {
	inner  usecase.MenuCatalog
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewCached(inner usecase.MenuCatalog, client *redis.Client, ttl time.Duration, log *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cached{inner: inner, client: client, ttl: ttl, log: log}
}

func cacheKey(day domain.Date) string {
	return "mealsub:menu:" + day.String()
}

func (c *Cached) ActiveMenu(ctx context.Context, day domain.Date) (map[string]domain.MenuItem, error) {
	key := cacheKey(day)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var m map[string]domain.MenuItem
		if err := json.Unmarshal(data, &m); err == nil {
			return m, nil
		}
		c.log.Warn("menu cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("menu cache get failed", "key", key, "err", err)
	}

	m, err := c.inner.ActiveMenu(ctx, day)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, key, m); err != nil {
		c.log.Warn("menu cache set failed", "key", key, "err", err)
	}
	return m, nil
}

func (c *Cached) store(ctx context.Context, key string, m map[string]domain.MenuItem) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal menu: %w", err)
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// invalidate drops the cached menu of day.
func (c *Cached) invalidate(ctx context.Context, day domain.Date) error {
	return c.client.Del(ctx, cacheKey(day)).Err()
}
