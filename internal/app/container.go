package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_image_gateway/internal/adapters/fal"
	"github.com/ncecere/open_image_gateway/internal/auth"
	"github.com/ncecere/open_image_gateway/internal/cache"
	"github.com/ncecere/open_image_gateway/internal/capability"
	"github.com/ncecere/open_image_gateway/internal/catalog"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/health"
	"github.com/ncecere/open_image_gateway/internal/jobs"
	"github.com/ncecere/open_image_gateway/internal/limits"
	"github.com/ncecere/open_image_gateway/internal/mirror"
	"github.com/ncecere/open_image_gateway/internal/observability"
	"github.com/ncecere/open_image_gateway/internal/storage/blob"
)

// Container aggregates runtime dependencies for handlers.
type Container struct {
	Config        *config.Config
	Redis         *redis.Client
	Registry      *catalog.Registry
	Backend       *fal.Adapter
	Capabilities  *capability.Cache
	Selector      *auth.Selector
	Driver        *jobs.Driver
	RateLimiter   *limits.RateLimiter
	RateLimits    limits.LimitConfig
	Idempotency   *cache.IdempotencyCache
	Blob          blob.Store
	Mirror        *mirror.Mirror
	Refresher     *health.Monitor
	Observability *observability.Provider
	Logger        *slog.Logger
}

// Overrides replaces collaborators in tests. Nil fields use the defaults.
type Overrides struct {
	Observability *observability.Provider
	Sleep         jobs.Sleeper
	IntN          func(int) int
}

// NewContainer wires every component from cfg. The redis client is optional;
// idempotency and rate limiting stay off without it. ctx bounds background
// work: cancelling it stops the refresher and aborts in-flight polling.
func NewContainer(ctx context.Context, cfg *config.Config, redisClient *redis.Client, overrides Overrides) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := slog.Default()

	registry, err := catalog.NewRegistry(cfg.ModelCatalog, cfg.Images.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("build model registry: %w", err)
	}

	selector, err := auth.NewSelector(auth.Options{
		CallerKey:     cfg.Auth.CallerKey,
		CallerKeyHash: cfg.Auth.CallerKeyHash,
		UpstreamKeys:  cfg.Auth.UpstreamKeys,
		IntN:          overrides.IntN,
	})
	if err != nil {
		return nil, fmt.Errorf("init credential selector: %w", err)
	}

	obsProvider := overrides.Observability
	if obsProvider == nil {
		obsProvider, err = observability.Setup(ctx, cfg.Observability)
		if err != nil {
			return nil, fmt.Errorf("setup observability: %w", err)
		}
	}

	backend := fal.New(fal.Options{
		QueueBaseURL:     cfg.Backend.QueueBaseURL,
		SchemaURL:        cfg.Backend.SchemaURL,
		CredentialScheme: cfg.Backend.CredentialScheme,
		Timeout:          cfg.Backend.HTTPTimeout,
	})

	capabilities := capability.NewCache(registry,
		capability.NewSchemaFetcher(backend, backend.QueueBaseURL()),
		capability.Options{
			TTL:      cfg.Capabilities.TTL,
			Logger:   logger,
			Observer: obsProvider,
		})

	driver := jobs.NewDriver(backend, jobs.Options{
		PollInterval: cfg.Jobs.PollInterval,
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		Sleep:        overrides.Sleep,
		Logger:       logger,
		Observer:     obsProvider,
		BaseContext:  ctx,
	})

	container := &Container{
		Config:        cfg,
		Redis:         redisClient,
		Registry:      registry,
		Backend:       backend,
		Capabilities:  capabilities,
		Selector:      selector,
		Driver:        driver,
		RateLimiter:   limits.NewRateLimiter(redisClient),
		RateLimits:    limits.FromConfig(cfg.RateLimits),
		Idempotency:   cache.NewIdempotencyCache(redisClient, cfg.Idempotency.TTL),
		Observability: obsProvider,
		Logger:        logger,
	}

	if cfg.Results.Enabled {
		store, err := blob.New(ctx, cfg.Results)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("init blob store: %w", err)
		}
		container.Blob = store
		container.Mirror = mirror.New(store, cfg.Results, mirror.Options{
			Logger:   logger,
			Observer: obsProvider,
		})
	}

	container.Refresher = health.NewMonitor(capabilities, cfg.Capabilities.RefreshInterval, cfg.Capabilities.WarmupTimeout, logger)
	container.Refresher.Start(ctx, registry.Aliases)

	return container, nil
}

// WarmCapabilities fetches every registered model once, bounded by the
// configured warm-up timeout.
func (c *Container) WarmCapabilities(ctx context.Context) capability.WarmReport {
	warmCtx, cancel := context.WithTimeout(ctx, c.Config.Capabilities.WarmupTimeout)
	defer cancel()
	report := c.Capabilities.Warm(warmCtx)
	c.Logger.Info("capabilities: warm-up finished",
		slog.Int("warmed", report.Warmed),
		slog.Int("failed", report.Failed),
	)
	return report
}

// Close releases clients held by the container.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Backend != nil {
		errs = append(errs, c.Backend.Close())
	}
	if c.Observability != nil {
		errs = append(errs, c.Observability.Shutdown(ctx))
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	return errors.Join(errs...)
}
