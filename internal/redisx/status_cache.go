package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

type StatusEntry struct {
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps the latest status of every order in Redis. It is fed by engine
// events, so it implements orders.Publisher.
type StatusCache struct {
	RDB redis.Cmdable
	TTL time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{RDB: rdb, TTL: TTLStatusCache}
}

func (c *StatusCache) PublishOrderEvent(ctx context.Context, ev orders.Event) error {
	key := fmt.Sprintf(KeyOrderStatus, ev.OrderID)
	switch ev.Type {
	case orders.EventOrderCreated, orders.EventStatusChanged:
		b, err := json.Marshal(StatusEntry{Status: ev.Status, UpdatedAt: ev.OccurredAt})
		if err != nil {
			return err
		}
		if err := c.RDB.Set(ctx, key, b, c.TTL).Err(); err != nil {
			return fmt.Errorf("cache status %s: %w", ev.OrderID, err)
		}
	case orders.EventOrderDeleted:
		if err := c.RDB.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("evict status %s: %w", ev.OrderID, err)
		}
	}
	return nil
}

// Status returns the cached entry; ok is false on a cache miss.
func (c *StatusCache) Status(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, fmt.Errorf("read status %s: %w", orderID, err)
	}
	var e StatusEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("decode status %s: %w", orderID, err)
	}
	return e, true, nil
}

// Seed fills the cache after a miss was served from the engine. It never replaces an
// entry written in the meantime; stored reports whether e was written.
func (c *StatusCache) Seed(ctx context.Context, orderID string, e StatusEntry) (bool, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	stored, err := c.RDB.SetNX(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, c.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("seed status %s: %w", orderID, err)
	}
	return stored, nil
}
