// Package evictor runs the registry's background eviction loop: once the
// cache crosses its high-water mark, it repeatedly reclaims the oldest
// unpinned, Complete entry until the registry drops back under budget.
package evictor

import (
	"context"
	"log/slog"
	"time"

	"github.com/wkm/cacheproxy/internal/dialer"
	"github.com/wkm/cacheproxy/internal/logging"
	"github.com/wkm/cacheproxy/internal/metrics"
	"github.com/wkm/cacheproxy/internal/registry"
)

// checkInterval mirrors original_source/cache.c's GC_CHECK_INTERVAL.
const checkInterval = 5 * time.Second

// Evictor periodically reclaims registry space once it crosses 90% of its
// byte budget, matching spec.md §4.5. It also re-resolves origin hosts
// whose cached dial selector has gone entirely unhealthy, since nothing
// else in the proxy's steady-state request path ever re-triggers DNS.
type Evictor struct {
	reg     *registry.Registry
	dialMgr *dialer.Manager
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New constructs an Evictor for reg. dialMgr, logger, and m may all be nil;
// a nil dialMgr simply skips the stale-selector sweep.
func New(reg *registry.Registry, dialMgr *dialer.Manager, logger *logging.Logger, m *metrics.Metrics) *Evictor {
	return &Evictor{reg: reg, dialMgr: dialMgr, logger: logger, metrics: m}
}

// Run blocks, ticking every checkInterval, until ctx is cancelled. On each
// tick it evicts entries one at a time while the registry remains at or
// above its high-water mark, the same threshold loop as gc_thread_func, then
// drops any dial selector whose entire address set has gone unhealthy.
func (e *Evictor) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sweep(ctx)
			e.pruneStaleSelectors(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Evictor) pruneStaleSelectors(ctx context.Context) {
	if e.dialMgr == nil {
		return
	}
	pruned := e.dialMgr.PruneStale()
	if pruned == 0 {
		return
	}
	if e.logger != nil {
		e.logger.Debug(ctx, "pruned stale dial selectors", slog.Int("count", pruned))
	}
}

func (e *Evictor) sweep(ctx context.Context) {
	for e.reg.HighWater() {
		victim := e.reg.EvictVictim()
		if victim == nil {
			// Over budget but nothing evictable (everything pinned or
			// still loading); wait for the next tick rather than spin.
			return
		}

		size := victim.TotalSize()
		victim.Destroy()

		if e.metrics != nil {
			e.metrics.RecordEviction()
			e.metrics.SetRegistryBytes(e.reg.TotalSize())
		}
		if e.logger != nil {
			e.logger.Debug(ctx, "evicted cache entry",
				slog.String("url", victim.URL()),
				slog.Int64("bytes", size),
			)
		}
	}
}
