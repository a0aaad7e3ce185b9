package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type StatusEntry struct {
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	Status    string `json:"status"`
	Payable   int64  `json:"payable"`
	UpdatedAt string `json:"updated_at"`
}

// StatusCache keeps the last known status per order for cheap polling.
type StatusCache struct{ RDB redis.Cmdable }

func (c StatusCache) Set(ctx context.Context, orderID int64, e StatusEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Get returns ok=false on a cache miss.
func (c StatusCache) Get(ctx context.Context, orderID int64) (StatusEntry, bool, error) {
	var e StatusEntry
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, false, err
	}
	return e, true, nil
}

// Delete drops the entry; the next poll reads the order from the store.
func (c StatusCache) Delete(ctx context.Context, orderID int64) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// Dedup remembers processed event ids.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

// FirstSeen marks id as processed and reports whether this call was the first.
func (d Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
}

// Forget drops the marker so a failed event can be retried.
func (d Dedup) Forget(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
