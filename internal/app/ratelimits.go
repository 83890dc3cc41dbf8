package app

import (
	"context"
	"sync"

	"github.com/ncecere/open_image_gateway/internal/limits"
)

// AcquireRateLimits takes a request slot for caller and reserves images from
// its per-minute image budget. The returned release func is safe to call more
// than once.
func (c *Container) AcquireRateLimits(ctx context.Context, caller string, images int) (func(), error) {
	cfg := c.RateLimits
	noop := func() {}
	if c.RateLimiter == nil || !cfg.Enabled() {
		return noop, nil
	}

	storage := "caller:" + caller
	if err := c.RateLimiter.Allow(ctx, storage, cfg); err != nil {
		return nil, err
	}
	if err := c.RateLimiter.ImageAllowance(ctx, storage, images, cfg); err != nil {
		c.RateLimiter.Release(ctx, storage, cfg)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.RateLimiter.Release(context.WithoutCancel(ctx), storage, cfg)
		})
	}
	return release, nil
}

// UpdateRateLimits swaps the in-memory limits.
func (c *Container) UpdateRateLimits(cfg limits.LimitConfig) {
	c.RateLimits = cfg
}
