// Package health runs the background capability refresher.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher refetches the capability of one model.
type Refresher interface {
	Refresh(ctx context.Context, model string) error
}

// Monitor periodically refreshes every registered model so request paths
// rarely see a stale capability.
type Monitor struct {
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	startOnce sync.Once
	done      chan struct{}
}

// NewMonitor returns nil when interval is not positive; a nil monitor never starts.
func NewMonitor(refresher Refresher, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if refresher == nil || interval <= 0 {
		return nil
	}
	if timeout <= 0 || timeout > interval {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		refresher: refresher,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins the refresh loop until ctx is canceled. The first sweep runs
// after one interval since the daemon warms the cache at startup.
func (m *Monitor) Start(ctx context.Context, models func() []string) {
	if m == nil || models == nil {
		return
	}
	m.startOnce.Do(func() {
		go m.run(ctx, models)
	})
}

// Done is closed once the loop exits.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) run(ctx context.Context, models func() []string) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx, models())
		}
	}
}

func (m *Monitor) sweep(ctx context.Context, aliases []string) {
	var wg sync.WaitGroup
	for _, alias := range aliases {
		wg.Add(1)
		go func(alias string) {
			defer wg.Done()
			timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			if err := m.refresher.Refresh(timeoutCtx, alias); err != nil {
				m.logger.Warn("health: capability refresh failed",
					slog.String("model", alias),
					slog.String("error", err.Error()),
				)
			}
		}(alias)
	}
	wg.Wait()
}
