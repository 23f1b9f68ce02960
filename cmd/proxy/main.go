package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wkm/cacheproxy/internal/config"
	"github.com/wkm/cacheproxy/internal/dialer"
	"github.com/wkm/cacheproxy/internal/evictor"
	"github.com/wkm/cacheproxy/internal/fetcher"
	"github.com/wkm/cacheproxy/internal/handler"
	"github.com/wkm/cacheproxy/internal/logging"
	"github.com/wkm/cacheproxy/internal/metrics"
	"github.com/wkm/cacheproxy/internal/middleware"
	"github.com/wkm/cacheproxy/internal/ratelimit"
	"github.com/wkm/cacheproxy/internal/registry"
	"github.com/wkm/cacheproxy/internal/server"
	"github.com/wkm/cacheproxy/internal/tracing"
)

// main initializes and starts the caching proxy server. It orchestrates
// the entire application lifecycle: configuration loading, dependency
// wiring, and signal handling for graceful shutdown.
func main() {
	// -config is picked out by hand: the flag package would reject the
	// -p/-c/-h options that config.ParseArgs handles below.
	var configPath string
	var args []string
	for i := 1; i < len(os.Args); i++ {
		switch a := os.Args[i]; {
		case (a == "-config" || a == "--config") && i+1 < len(os.Args):
			i++
			configPath = os.Args[i]
		case strings.HasPrefix(a, "-config=") || strings.HasPrefix(a, "--config="):
			configPath = a[strings.IndexByte(a, '=')+1:]
		default:
			args = append(args, a)
		}
	}

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}

	// Positional/flag CLI arguments (port, cache size) take precedence
	// over whatever the config file set, matching original_source/main.c's
	// argument-then-config precedence.
	if err := config.ParseArgs(cfg, args); err != nil {
		if err == config.ErrHelpRequested {
			fmt.Print(config.Usage(os.Args[0]))
			return
		}
		log.Fatalf("failed to parse arguments: %v", err)
	}

	logger := logging.NewLogger("cacheproxy")
	ctx := context.Background()

	// The tracing and registry initialisation failures below go through the
	// structured logger rather than stdlib log.Fatal, so such a startup crash
	// is recorded in the same JSON stream (and, if a span is active, the same
	// trace) as the other structured log lines. Listener and shutdown errors
	// further down are still printed with stdlib log.
	shutdownTracing, err := tracing.InitTracing(cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialise tracing", err)
	}
	defer func() {
		if err := shutdownTracing(); err != nil {
			logger.Error(ctx, "tracing shutdown failed", err)
		}
	}()

	reg, err := registry.New(cfg.Cache.MaxSizeBytes(), cfg.Cache.Dir)
	if err != nil {
		logger.Fatal(ctx, "failed to initialise registry", err)
	}

	dialMgr := dialer.NewManager(cfg.Dial.Algorithm)
	f := fetcher.New(dialMgr, reg, logger)
	m := metrics.New()

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	}

	h := handler.New(reg, f, limiter, logger, m)
	ev := evictor.New(reg, dialMgr, logger, m)

	// Admin surface reuses the same Limiter/Metrics instances as the proxy
	// path, so rate-limit state and counters are shared rather than
	// double-registered with Prometheus.
	adminChain := []middleware.Middleware{middleware.NewMetrics(m)}
	if limiter != nil {
		adminChain = append(adminChain, middleware.NewRateLimit(limiter, cfg.RateLimit.Capacity))
	}
	adminHandler := server.NewAdminHandler(m, logger, cfg.Admin.HealthPath, adminChain...)

	srv := server.New(cfg, h, ev, logger, m, adminHandler)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("cacheproxy listening on port %d (admin on %d)", cfg.Server.Port, cfg.Admin.Port)
		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("server stopped: %v", err)
		}
	}()

	<-sigChan
	log.Println("received termination signal, shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	reg.Shutdown()

	log.Println("cacheproxy stopped")
}
