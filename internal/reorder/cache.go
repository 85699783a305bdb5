package reorder

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps Redis based caching for reorder reports. A nil cache (or
// nil client) degrades to calling the loader directly.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func candidatesKey(warehouseID int64) string {
	return strings.Join([]string{"reorder", "candidates", strconv.FormatInt(warehouseID, 10)}, ":")
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Invalidate drops cached reports for the given warehouses, always
// including the global (zero-warehouse) report. Movement paths do not
// invalidate eagerly; reports age out on the cache TTL instead, so a
// candidate list can lag a movement by at most the TTL.
func (c *Cache) Invalidate(ctx context.Context, warehouseIDs ...int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	keys := make([]string, 0, len(warehouseIDs)+1)
	keys = append(keys, candidatesKey(0))
	for _, id := range warehouseIDs {
		if id != 0 {
			keys = append(keys, candidatesKey(id))
		}
	}
	return c.client.Del(ctx, keys...).Err()
}
