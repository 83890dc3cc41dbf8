// Package limits enforces per-caller request, image and concurrency budgets
// backed by redis counters.
package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_image_gateway/internal/config"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// semaphoreTTL releases parallel slots leaked by crashed requests. It must
// exceed the longest job (max attempts times poll interval).
const semaphoreTTL = 5 * time.Minute

type LimitConfig struct {
	RequestsPerMinute int
	ImagesPerMinute   int
	ParallelRequests  int
}

// FromConfig converts the rate_limits configuration section.
func FromConfig(cfg config.RateLimitConfig) LimitConfig {
	return LimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		ImagesPerMinute:   cfg.ImagesPerMinute,
		ParallelRequests:  cfg.ParallelRequests,
	}
}

// Enabled reports whether any limit is configured.
func (c LimitConfig) Enabled() bool {
	return c.RequestsPerMinute > 0 || c.ImagesPerMinute > 0 || c.ParallelRequests > 0
}

type RateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow counts one request against the caller's per-minute window and takes
// a parallel slot. A successful Allow must be paired with Release.
func (l *RateLimiter) Allow(ctx context.Context, caller string, cfg LimitConfig) error {
	if l == nil || l.client == nil {
		return nil
	}
	if cfg.RequestsPerMinute > 0 {
		if err := l.countCheck(ctx, fmt.Sprintf("rpm:%s", caller), time.Minute, cfg.RequestsPerMinute); err != nil {
			return err
		}
	}
	if cfg.ParallelRequests > 0 {
		if err := l.semaphoreAcquire(ctx, fmt.Sprintf("sem:%s", caller), cfg.ParallelRequests); err != nil {
			return err
		}
	}
	return nil
}

// Release frees the parallel slot taken by Allow.
func (l *RateLimiter) Release(ctx context.Context, caller string, cfg LimitConfig) {
	if l == nil || l.client == nil {
		return
	}
	if cfg.ParallelRequests > 0 {
		l.client.Decr(ctx, fmt.Sprintf("sem:%s", caller))
	}
}

// ImageAllowance reserves images from the caller's per-minute image budget.
// A rejected reservation is rolled back so it does not consume budget.
func (l *RateLimiter) ImageAllowance(ctx context.Context, caller string, images int, cfg LimitConfig) error {
	if l == nil || l.client == nil || cfg.ImagesPerMinute <= 0 || images <= 0 {
		return nil
	}
	redisKey := l.windowKey(fmt.Sprintf("ipm:%s", caller), time.Minute)

	used, err := l.client.IncrBy(ctx, redisKey, int64(images)).Result()
	if err != nil {
		return err
	}
	if used == int64(images) {
		l.client.Expire(ctx, redisKey, time.Minute)
	}
	if int(used) > cfg.ImagesPerMinute {
		l.client.IncrBy(ctx, redisKey, -int64(images))
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) countCheck(ctx context.Context, key string, window time.Duration, limit int) error {
	redisKey := l.windowKey(key, window)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, window)
	}
	if int(cnt) > limit {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int) error {
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, key, semaphoreTTL)
	}
	if int(cnt) > max {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) windowKey(key string, window time.Duration) string {
	bucket := l.now().UTC().Unix() / int64(window.Seconds())
	return fmt.Sprintf("%s:%d", key, bucket)
}
