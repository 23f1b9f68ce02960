// Package server owns the two listeners the proxy runs: the raw TCP proxy
// port, serviced byte-for-byte by internal/handler, and a small admin HTTP
// surface exposing Prometheus metrics and a health check behind the
// teacher's middleware decorator chain.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/wkm/cacheproxy/internal/config"
	"github.com/wkm/cacheproxy/internal/evictor"
	"github.com/wkm/cacheproxy/internal/handler"
	"github.com/wkm/cacheproxy/internal/logging"
	"github.com/wkm/cacheproxy/internal/metrics"
	"github.com/wkm/cacheproxy/internal/middleware"
)

// Server composes the proxy listener, the admin HTTP server, and the
// background evictor, mirroring the teacher's Server struct but built
// around a raw net.Listener instead of net/http.Server for the main port,
// since verbatim byte forwarding needs direct socket access.
type Server struct {
	cfg     *config.Config
	h       *handler.Handler
	evict   *evictor.Evictor
	logger  *logging.Logger
	metrics *metrics.Metrics

	admin *http.Server

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New constructs a Server. adminHandler may be built with any Middleware
// chain; NewAdminHandler below builds the /metrics + health-check mux and
// wraps it in whatever middleware chain the caller passes.
func New(cfg *config.Config, h *handler.Handler, evict *evictor.Evictor, logger *logging.Logger, m *metrics.Metrics, adminHandler http.Handler) *Server {
	return &Server{
		cfg:     cfg,
		h:       h,
		evict:   evict,
		logger:  logger,
		metrics: m,
		admin: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:      adminHandler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// NewAdminHandler builds the admin mux wrapped in the decorator chain,
// matching the teacher's buildHandler's reverse-order middleware wrapping.
// logger may be nil to skip request logging.
func NewAdminHandler(m *metrics.Metrics, logger *logging.Logger, healthPath string, chain ...middleware.Middleware) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var h http.Handler = mux
	if logger != nil {
		h = logger.HTTPRequestLogger()(h)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i].Wrap(h)
	}
	return h
}

// Start listens on the configured proxy port and admin port, and launches
// the evictor, blocking until ctx is cancelled or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("server: listen on proxy port: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 2)

	go func() {
		if err := s.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server: admin listener: %w", err)
		}
	}()

	go s.evict.Run(ctx)

	go s.acceptLoop(ctx, ln, errCh)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, errCh chan<- error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			errCh <- fmt.Errorf("server: accept: %w", err)
			return
		}

		if s.metrics != nil {
			s.metrics.IncrementConnections()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if s.metrics != nil {
				defer s.metrics.DecrementConnections()
			}
			s.h.Handle(ctx, conn)
		}()
	}
}

// Shutdown closes the proxy listener and the admin server, then waits (up
// to ctx's deadline) for in-flight connections to finish, replacing the C
// original's alarm(5)/SIGALRM forced-exit with a WaitGroup plus context
// timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if err := s.admin.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: admin shutdown: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitWithTimeout calls Shutdown with a context bounded by timeout, for
// callers that want an upper bound on graceful shutdown without
// constructing their own context.
func WaitWithTimeout(s *Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}
