// Package dedup guards the exactly-once-per-event-id verdict property
// with a Redis-backed marker cache.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache records which event IDs have already produced a verdict. When
// disabled (no Redis configured), every event is treated as new.
type Cache struct {
	redis   *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewCache creates a dedup cache. Markers expire after ttl.
func NewCache(client *redis.Client, enabled bool, ttl time.Duration) *Cache {
	return &Cache{redis: client, enabled: enabled, ttl: ttl}
}

// IsEnabled returns whether the cache is backed by Redis.
func (c *Cache) IsEnabled() bool {
	return c.enabled && c.redis != nil
}

// MarkProcessed atomically records the event ID and reports whether this
// call was the first to do so. Subsequent calls for the same ID return
// false, so only one verdict is ever emitted per event.
func (c *Cache) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	if !c.IsEnabled() {
		return true, nil
	}
	ok, err := c.redis.SetNX(ctx, c.key(eventID), time.Now().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return ok, nil
}

// Seen reports whether a verdict already exists for the event ID.
func (c *Cache) Seen(ctx context.Context, eventID string) (bool, error) {
	if !c.IsEnabled() {
		return false, nil
	}
	n, err := c.redis.Exists(ctx, c.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event marker: %w", err)
	}
	return n > 0, nil
}

func (c *Cache) key(eventID string) string {
	return "verdict:" + eventID
}
