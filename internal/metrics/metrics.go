// Package metrics exposes the proxy's Prometheus instrumentation: cache
// effectiveness (hits, misses, coalesced fetches), entry population by
// state, eviction activity, registry byte usage, fetch latency, and
// connection volume on both the raw proxy port and the admin HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns every Prometheus instrument registered by the proxy. Callers
// construct exactly one instance with New and share it; constructing a
// second would panic on duplicate registration, the same constraint the
// teacher's NewMetrics carried.
type Metrics struct {
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	coalescedFetches prometheus.Counter
	fetchDuration    *prometheus.HistogramVec
	fetchErrors      prometheus.Counter
	evictions        prometheus.Counter
	entriesByState   *prometheus.GaugeVec
	registryBytes    prometheus.Gauge
	activeConns      prometheus.Gauge

	adminRequests *prometheus.CounterVec
	adminDuration *prometheus.HistogramVec
}

// New constructs and registers every instrument with the default registry.
func New() *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheproxy_cache_hits_total",
			Help: "Requests served by joining an existing cache entry.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheproxy_cache_misses_total",
			Help: "Requests that created a new cache entry.",
		}),
		coalescedFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheproxy_coalesced_fetches_total",
			Help: "Requests that joined an in-flight fetch rather than igniting one.",
		}),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cacheproxy_fetch_duration_seconds",
				Help:    "Upstream fetch duration from ignition to terminal state.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheproxy_fetch_errors_total",
			Help: "Fetches that ended in the error state.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheproxy_evictions_total",
			Help: "Entries freed by the evictor.",
		}),
		entriesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cacheproxy_entries",
				Help: "Current entry count by lifecycle state.",
			},
			[]string{"state"},
		),
		registryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cacheproxy_registry_bytes",
			Help: "Total cached body bytes currently tracked by the registry.",
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cacheproxy_active_connections",
			Help: "Open client connections on the proxy listener.",
		}),
		adminRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cacheproxy_admin_requests_total",
				Help: "Requests served by the admin HTTP surface.",
			},
			[]string{"path", "status_code"},
		),
		adminDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cacheproxy_admin_request_duration_seconds",
				Help:    "Admin HTTP surface request duration.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	prometheus.MustRegister(
		m.cacheHits, m.cacheMisses, m.coalescedFetches,
		m.fetchDuration, m.fetchErrors, m.evictions,
		m.entriesByState, m.registryBytes, m.activeConns,
		m.adminRequests, m.adminDuration,
	)

	return m
}

// RecordCacheHit marks a request that joined an already-known URL.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Inc() }

// RecordCacheMiss marks a request that created a brand new entry.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Inc() }

// RecordCoalescedFetch marks a request that joined an in-flight fetch
// rather than igniting its own.
func (m *Metrics) RecordCoalescedFetch() { m.coalescedFetches.Inc() }

// RecordFetch records a completed fetch's duration and outcome.
func (m *Metrics) RecordFetch(d time.Duration, ok bool) {
	outcome := "complete"
	if !ok {
		outcome = "error"
		m.fetchErrors.Inc()
	}
	m.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordEviction marks one entry freed by the evictor.
func (m *Metrics) RecordEviction() { m.evictions.Inc() }

// SetEntriesByState updates the per-state entry population gauge.
func (m *Metrics) SetEntriesByState(state string, count float64) {
	m.entriesByState.WithLabelValues(state).Set(count)
}

// SetRegistryBytes updates the registry-wide cached-byte gauge.
func (m *Metrics) SetRegistryBytes(n int64) { m.registryBytes.Set(float64(n)) }

// IncrementConnections/DecrementConnections track open proxy connections.
func (m *Metrics) IncrementConnections() { m.activeConns.Inc() }
func (m *Metrics) DecrementConnections() { m.activeConns.Dec() }

// Handler returns the Prometheus scrape endpoint for the admin surface.
func (m *Metrics) Handler() http.Handler { return promhttp.Handler() }

// AdminMiddleware instruments requests served by the admin HTTP surface
// (/metrics, /healthz), the successor to the teacher's MetricsMiddleware.
func (m *Metrics) AdminMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			m.adminRequests.WithLabelValues(r.URL.Path, strconv.Itoa(wrapper.statusCode)).Inc()
			m.adminDuration.WithLabelValues(r.URL.Path).Observe(duration.Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}
