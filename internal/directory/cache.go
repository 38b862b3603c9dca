package directory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

const backgroundRefreshTimeout = 30 * time.Second

// Compile-time interface verification.
var _ Provider = (*Cached)(nil)

// Cached wraps a Provider with a personnel snapshot so directory reads
// stay fast and a backend outage degrades service instead of breaking it.
//
// Freshness policy:
//   - younger than RefreshInterval: serve the snapshot, no backend call
//   - older than RefreshInterval: serve the snapshot, refresh in the
//     background
//   - older than MaxStale: refresh inline; on failure serve the last
//     snapshot anyway and log the backend error
//
// Concurrent refreshes coalesce on a busy flag, so at most one backend
// fetch runs at a time.
type Cached struct {
	backend         Provider
	logger          *slog.Logger
	refreshInterval time.Duration
	maxStale        time.Duration

	refreshing atomic.Bool

	mu        sync.RWMutex
	rangers   []ims.Ranger
	fetchedAt time.Time
	loaded    bool
}

// NewCached wraps backend with the snapshot cache configured by cfg.
func NewCached(backend Provider, cfg *Config) *Cached {
	return &Cached{
		backend:         backend,
		refreshInterval: cfg.RefreshInterval,
		maxStale:        cfg.MaxStale,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("IMS_LOG_LEVEL", slog.LevelInfo),
		})).With("component", "directory_cache"),
	}
}

// Personnel implements Provider. The first call blocks until the backend
// answers once; afterwards a snapshot is always available.
func (c *Cached) Personnel(ctx context.Context) ([]ims.Ranger, error) {
	snapshot, age, loaded := c.snapshot()

	switch {
	case !loaded:
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}

		snapshot, _, loaded = c.snapshot()
		if !loaded {
			// Lost the busy flag to a first load still in flight.
			return nil, fmt.Errorf("%w: personnel not loaded yet", ErrUnavailable)
		}
	case age > c.maxStale:
		if err := c.refresh(ctx); err != nil {
			c.logger.Warn("Directory backend unavailable; serving stale personnel",
				"age", age.Round(time.Second), "error", err)

			break
		}

		snapshot, _, _ = c.snapshot()
	case age > c.refreshInterval:
		c.refreshInBackground(ctx)
	}

	return snapshot, nil
}

// LookupUser implements Provider, resolving against the cached snapshot.
func (c *Cached) LookupUser(ctx context.Context, searchTerm string) (*ims.Ranger, error) {
	rangers, err := c.Personnel(ctx)
	if err != nil {
		return nil, err
	}

	return lookupIn(rangers, searchTerm)
}

// refresh fetches a new snapshot unless another refresh is already in
// flight, in which case it returns nil and leaves the snapshot as is.
func (c *Cached) refresh(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return nil
	}

	defer c.refreshing.Store(false)

	rangers, err := c.backend.Personnel(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh personnel: %w", err)
	}

	c.mu.Lock()
	c.rangers = rangers
	c.fetchedAt = time.Now()
	c.loaded = true
	c.mu.Unlock()

	c.logger.Debug("Refreshed personnel snapshot", "count", len(rangers))

	return nil
}

// refreshInBackground starts an asynchronous refresh. The fetch outlives
// the triggering request but not backgroundRefreshTimeout.
func (c *Cached) refreshInBackground(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundRefreshTimeout)

	go func() {
		defer cancel()

		if err := c.refresh(ctx); err != nil {
			c.logger.Warn("Background personnel refresh failed", "error", err)
		}
	}()
}

func (c *Cached) snapshot() (rangers []ims.Ranger, age time.Duration, loaded bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		return nil, 0, false
	}

	return slices.Clone(c.rangers), time.Since(c.fetchedAt), true
}
