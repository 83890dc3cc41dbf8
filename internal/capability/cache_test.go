package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ncecere/open_image_gateway/internal/models"
)

type fakeCatalog map[string]string

func (f fakeCatalog) Lookup(alias string) (models.Model, error) {
	endpoint, ok := f[alias]
	if !ok {
		return models.Model{}, fmt.Errorf("unknown model %s", alias)
	}
	return models.Model{Alias: alias, Endpoint: endpoint}, nil
}

func (f fakeCatalog) Aliases() []string {
	out := make([]string, 0, len(f))
	for alias := range f {
		out = append(out, alias)
	}
	return out
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]Capability
	fail    map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, results: map[string]Capability{}, fail: map[string]error{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, endpoint string) (Capability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[endpoint]++
	if err := f.fail[endpoint]; err != nil {
		return Capability{}, err
	}
	return f.results[endpoint], nil
}

func (f *fakeFetcher) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeFetcher) setFailure(endpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[endpoint] = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveCapabilityFetch(model, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, model+":"+result)
}

func newTestCache(t *testing.T, fetcher Fetcher, clock *fakeClock, observer Observer) *Cache {
	t.Helper()
	catalog := fakeCatalog{"flux": "fal-ai/flux/dev", "ultra": "fal-ai/flux-pro/v1.1-ultra"}
	return NewCache(catalog, fetcher, Options{
		TTL:      24 * time.Hour,
		Clock:    clock.Now,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer: observer,
	})
}

func TestCacheDoesNotRefetchWithinTTL(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["fal-ai/flux/dev"] = Capability{UsesSizeObject: true, SizeField: "image_size"}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(t, fetcher, clock, nil)

	ctx := context.Background()
	first, ok := cache.Resolve(ctx, "flux")
	if !ok || !first.UsesSizeObject {
		t.Fatalf("expected capability, got %+v ok=%v", first, ok)
	}
	clock.Advance(23 * time.Hour)
	if _, ok := cache.Resolve(ctx, "flux"); !ok {
		t.Fatalf("second resolve should hit cache")
	}
	if got := fetcher.count("fal-ai/flux/dev"); got != 1 {
		t.Fatalf("expected 1 fetch within ttl, got %d", got)
	}

	clock.Advance(2 * time.Hour)
	if _, ok := cache.Resolve(ctx, "flux"); !ok {
		t.Fatalf("resolve after ttl should succeed")
	}
	if got := fetcher.count("fal-ai/flux/dev"); got != 2 {
		t.Fatalf("expected exactly one refetch after ttl, got %d fetches", got)
	}
}

func TestCacheServesStaleEntryWhenRefreshFails(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["fal-ai/flux/dev"] = Capability{SupportsAspectRatio: true}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	observer := &recordingObserver{}
	cache := newTestCache(t, fetcher, clock, observer)

	ctx := context.Background()
	if _, ok := cache.Resolve(ctx, "flux"); !ok {
		t.Fatalf("initial resolve failed")
	}

	clock.Advance(25 * time.Hour)
	fetcher.setFailure("fal-ai/flux/dev", &SchemaFetchError{Endpoint: "fal-ai/flux/dev", Err: errors.New("503")})
	got, ok := cache.Resolve(ctx, "flux")
	if !ok {
		t.Fatalf("expected stale fallback, got miss")
	}
	if !got.SupportsAspectRatio {
		t.Fatalf("stale entry content mismatch: %+v", got)
	}
	if fetcher.count("fal-ai/flux/dev") != 2 {
		t.Fatalf("expected refetch attempt after ttl")
	}
	snapshot := cache.Snapshot()
	if len(snapshot) != 1 || !snapshot[0].Stale {
		t.Fatalf("snapshot should report stale entry: %+v", snapshot)
	}
	if observer.results[len(observer.results)-1] != "flux:"+ResultStale {
		t.Fatalf("expected stale observation, got %v", observer.results)
	}
}

func TestCacheMissWithoutFallbackReturnsFalse(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.setFailure("fal-ai/flux/dev", &SchemaShapeError{Endpoint: "fal-ai/flux/dev", Reason: "missing properties"})
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(t, fetcher, clock, nil)

	if _, ok := cache.Resolve(context.Background(), "flux"); ok {
		t.Fatalf("expected no capability when first fetch fails")
	}
	if _, ok := cache.Resolve(context.Background(), "unknown"); ok {
		t.Fatalf("unknown model must not resolve")
	}
	if fetcher.count("fal-ai/flux/dev") != 1 {
		t.Fatalf("expected one fetch attempt")
	}
}

func TestCacheWarmContinuesPastFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["fal-ai/flux-pro/v1.1-ultra"] = Capability{SupportsAspectRatio: true}
	fetcher.setFailure("fal-ai/flux/dev", errors.New("timeout"))
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(t, fetcher, clock, nil)

	report := cache.Warm(context.Background())
	if report.Warmed != 1 || report.Failed != 1 {
		t.Fatalf("unexpected warm report %+v", report)
	}

	if _, ok := cache.Resolve(context.Background(), "ultra"); !ok {
		t.Fatalf("warmed model should resolve")
	}
	if fetcher.count("fal-ai/flux-pro/v1.1-ultra") != 1 {
		t.Fatalf("warm cache should serve without refetch")
	}
}

func TestCacheRefreshKeepsEntryOnFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["fal-ai/flux/dev"] = Capability{SupportsDiscreteSize: true}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(t, fetcher, clock, nil)

	ctx := context.Background()
	if err := cache.Refresh(ctx, "flux"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	fetcher.setFailure("fal-ai/flux/dev", errors.New("down"))
	if err := cache.Refresh(ctx, "flux"); err == nil {
		t.Fatalf("expected refresh error")
	}
	got, ok := cache.Resolve(ctx, "flux")
	if !ok || !got.SupportsDiscreteSize {
		t.Fatalf("entry should survive failed refresh, got %+v ok=%v", got, ok)
	}
}

func TestCacheConcurrentResolve(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["fal-ai/flux/dev"] = Capability{UsesSizeObject: true}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(t, fetcher, clock, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := cache.Resolve(context.Background(), "flux"); !ok {
				t.Errorf("concurrent resolve failed")
			}
		}()
	}
	wg.Wait()
	if n := fetcher.count("fal-ai/flux/dev"); n < 1 || n > 16 {
		t.Fatalf("unexpected fetch count %d", n)
	}
}
