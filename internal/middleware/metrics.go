package middleware

import (
	"net/http"

	"github.com/wkm/cacheproxy/internal/metrics"
)

// metricsMiddleware adapts the shared Metrics instance into Middleware for
// the admin HTTP surface.
type metricsMiddleware struct {
	m *metrics.Metrics
}

// NewMetrics constructs the admin-surface metrics middleware around an
// existing Metrics instance (shared with the rest of the proxy, since
// Prometheus panics on duplicate registration of the same instrument).
func NewMetrics(m *metrics.Metrics) Middleware {
	return &metricsMiddleware{m: m}
}

func (mm *metricsMiddleware) Wrap(next http.Handler) http.Handler {
	return mm.m.AdminMiddleware()(next)
}
