package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON wraps Redis helpers for JSON payloads with a shared TTL.
type JSON struct {
	client *redis.Client
	ttl    time.Duration
}

// NewJSON constructs a JSON cache helper.
func NewJSON(client *redis.Client, ttl time.Duration) *JSON {
	return &JSON{client: client, ttl: ttl}
}

// Get unmarshals a cached JSON payload into dst. It reports whether the key
// existed.
func (c *JSON) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set serialises v as JSON and stores it with the configured TTL.
func (c *JSON) Set(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Delete drops a key so the next read repopulates from the source of truth.
func (c *JSON) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}
