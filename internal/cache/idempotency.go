// Package cache stores replayable image responses keyed by the caller's
// Idempotency-Key header.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a stored response.
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyCache stores serialized responses keyed by caller and request key.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

// Enabled reports whether responses can be stored.
func (c *IdempotencyCache) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *IdempotencyCache) Get(ctx context.Context, caller, key string) (Entry, bool) {
	if !c.Enabled() || key == "" {
		return Entry{}, false
	}
	data, err := c.client.Get(ctx, c.prefixed(caller, key)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Body) == 0 {
		return Entry{}, false
	}
	return entry, true
}

func (c *IdempotencyCache) Set(ctx context.Context, caller, key string, entry Entry) {
	if !c.Enabled() || key == "" || len(entry.Body) == 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefixed(caller, key), data, c.ttl)
}

func (c *IdempotencyCache) prefixed(caller, key string) string {
	return "idem:" + caller + ":" + key
}
