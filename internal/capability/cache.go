package capability

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ncecere/open_image_gateway/internal/models"
)

// DefaultTTL is the age after which a cached capability is refetched.
const DefaultTTL = 24 * time.Hour

// Fetch outcomes reported to the Observer.
const (
	ResultFetched = "ok"
	ResultStale   = "stale"
	ResultError   = "error"
)

// Catalog is the subset of the model registry the cache depends on.
type Catalog interface {
	Lookup(alias string) (models.Model, error)
	Aliases() []string
}

// Observer receives capability fetch outcomes, typically for metrics.
type Observer interface {
	ObserveCapabilityFetch(model, result string)
}

// Options tune a Cache.
type Options struct {
	TTL      time.Duration
	Clock    func() time.Time
	Logger   *slog.Logger
	Observer Observer
}

// Cache holds per-model capability records with a TTL and stale-on-failure fallback.
type Cache struct {
	catalog  Catalog
	fetcher  Fetcher
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer

	mu      sync.RWMutex
	entries map[string]Entry
	flight  singleflight.Group
}

// NewCache constructs an empty cache.
func NewCache(catalog Catalog, fetcher Fetcher, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		catalog:  catalog,
		fetcher:  fetcher,
		ttl:      opts.TTL,
		now:      opts.Clock,
		logger:   opts.Logger,
		observer: opts.Observer,
		entries:  make(map[string]Entry),
	}
}

// Resolve returns the capability of the named model. The boolean is false
// when the model is unknown or no capability could be obtained.
func (c *Cache) Resolve(ctx context.Context, model string) (Capability, bool) {
	entry, ok := c.get(model)
	if ok && c.now().Sub(entry.FetchedAt) < c.ttl {
		return entry.Capability, true
	}

	v, _, _ := c.flight.Do(model, func() (interface{}, error) {
		return c.load(ctx, model)
	})
	res := v.(loadResult)
	return res.capability, res.ok
}

// Refresh forces a refetch of the named model. A failure keeps the existing entry.
func (c *Cache) Refresh(ctx context.Context, model string) error {
	m, err := c.catalog.Lookup(model)
	if err != nil {
		return err
	}
	capability, err := c.fetcher.Fetch(ctx, m.Endpoint)
	if err != nil {
		c.observe(model, ResultError)
		return err
	}
	c.store(model, capability)
	c.observe(model, ResultFetched)
	return nil
}

// WarmReport summarizes a warm-up pass.
type WarmReport struct {
	Warmed int
	Failed int
}

// Warm fetches every registered model in parallel. Individual failures are
// logged and never abort the pass.
func (c *Cache) Warm(ctx context.Context) WarmReport {
	var (
		g      errgroup.Group
		warmed atomic.Int64
		failed atomic.Int64
	)
	for _, alias := range c.catalog.Aliases() {
		alias := alias
		g.Go(func() error {
			if err := c.Refresh(ctx, alias); err != nil {
				failed.Add(1)
				c.logger.Warn("capability: warm-up failed",
					slog.String("model", alias),
					slog.String("error", err.Error()),
				)
				return nil
			}
			warmed.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return WarmReport{Warmed: int(warmed.Load()), Failed: int(failed.Load())}
}

// Status describes one cached entry.
type Status struct {
	Model      string     `json:"model"`
	FetchedAt  time.Time  `json:"fetched_at"`
	Stale      bool       `json:"stale"`
	Capability Capability `json:"capability"`
}

// Snapshot lists the cached entries sorted by model.
func (c *Cache) Snapshot() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]Status, 0, len(c.entries))
	for model, entry := range c.entries {
		out = append(out, Status{
			Model:      model,
			FetchedAt:  entry.FetchedAt,
			Stale:      now.Sub(entry.FetchedAt) >= c.ttl,
			Capability: entry.Capability,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

type loadResult struct {
	capability Capability
	ok         bool
}

func (c *Cache) load(ctx context.Context, model string) (loadResult, error) {
	m, err := c.catalog.Lookup(model)
	if err != nil {
		return loadResult{}, nil
	}
	// Another caller may have refreshed the entry while this one waited.
	if entry, ok := c.get(model); ok && c.now().Sub(entry.FetchedAt) < c.ttl {
		return loadResult{capability: entry.Capability, ok: true}, nil
	}

	capability, fetchErr := c.fetcher.Fetch(ctx, m.Endpoint)
	if fetchErr == nil {
		c.store(model, capability)
		c.observe(model, ResultFetched)
		return loadResult{capability: capability, ok: true}, nil
	}

	attrs := []any{
		slog.String("model", model),
		slog.String("endpoint", m.Endpoint),
		slog.String("error", fetchErr.Error()),
	}
	var shapeErr *SchemaShapeError
	if errors.As(fetchErr, &shapeErr) {
		attrs = append(attrs, slog.String("cause", "schema_shape"))
	} else {
		attrs = append(attrs, slog.String("cause", "schema_fetch"))
	}

	if previous, ok := c.get(model); ok {
		c.observe(model, ResultStale)
		attrs = append(attrs, slog.Time("fetched_at", previous.FetchedAt))
		c.logger.Warn("capability: serving stale entry", attrs...)
		return loadResult{capability: previous.Capability, ok: true}, nil
	}
	c.observe(model, ResultError)
	c.logger.Error("capability: unavailable", attrs...)
	return loadResult{}, nil
}

func (c *Cache) get(model string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[model]
	return entry, ok
}

func (c *Cache) store(model string, capability Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[model] = Entry{Capability: capability, FetchedAt: c.now()}
}

func (c *Cache) observe(model, result string) {
	if c.observer != nil {
		c.observer.ObserveCapabilityFetch(model, result)
	}
}
