// Package handler implements the per-connection client side of the proxy:
// reading a raw HTTP/1.x request line, pinning (or creating) the matching
// cache entry, igniting the fetcher at most once, and streaming whatever
// the entry accumulates back to the client byte for byte.
package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/wkm/cacheproxy/internal/cacheentry"
	"github.com/wkm/cacheproxy/internal/fetcher"
	"github.com/wkm/cacheproxy/internal/logging"
	"github.com/wkm/cacheproxy/internal/metrics"
	"github.com/wkm/cacheproxy/internal/ratelimit"
	"github.com/wkm/cacheproxy/internal/registry"
)

const (
	// requestBufSize bounds the client request read, per spec.md §4.4
	// step 1's "fixed buffer" (the original's BUFFER_SIZE).
	requestBufSize = 8 * 1024

	notImplemented   = "HTTP/1.0 501 Not Implemented\r\n\r\n"
	tooManyRequests  = "HTTP/1.0 429 Too Many Requests\r\n\r\n"
	requestReadDeadline = 30 * time.Second
)

// Handler owns everything one connection needs: the registry to pin
// entries in, a Fetcher to drive uncached fetches, an optional rate
// limiter, and optional observability.
type Handler struct {
	reg     *registry.Registry
	fetch   *fetcher.Fetcher
	limiter *ratelimit.Limiter
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New constructs a Handler. limiter, logger, and metrics may all be nil.
func New(reg *registry.Registry, fetch *fetcher.Fetcher, limiter *ratelimit.Limiter, logger *logging.Logger, m *metrics.Metrics) *Handler {
	return &Handler{reg: reg, fetch: fetch, limiter: limiter, logger: logger, metrics: m}
}

// Handle services one accepted connection to completion. It always closes
// conn before returning.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ip := clientIP(conn)
	logger := h.logger
	if logger != nil {
		logger = logger.WithFields(slog.String("client_ip", ip))
	}

	if h.limiter != nil && !h.limiter.Allow(ip) {
		_, _ = conn.Write([]byte(tooManyRequests))
		return
	}

	req, n, ok := readRequest(conn)
	if !ok {
		return
	}

	method, target, malformed := parseRequestLine(req[:n])
	if malformed {
		if logger != nil {
			logger.Debug(ctx, "closing connection on malformed request line")
		}
		return
	}
	if method != "GET" {
		if logger != nil {
			logger.Debug(ctx, "rejecting non-GET method", slog.String("method", method))
		}
		_, _ = conn.Write([]byte(notImplemented))
		return
	}

	entry, created := h.reg.FindOrCreatePin(target)
	defer h.reg.Release(entry)

	if created {
		if h.metrics != nil {
			h.metrics.RecordCacheMiss()
		}
	} else if h.metrics != nil {
		h.metrics.RecordCacheHit()
	}

	if entry.TryIgniteFetch(req[:n]) {
		go h.fetch.Run(ctx, entry)
	} else if h.metrics != nil && entry.State() == cacheentry.Loading {
		h.metrics.RecordCoalescedFetch()
	}

	h.stream(conn, entry)
}

// stream waits for headers, then relays chunks to conn in append order
// until the entry reaches a terminal state, matching spec.md §4.4 steps
// 4 and 5 and the edge case for ERROR observed before vs. after headers.
func (h *Handler) stream(conn net.Conn, entry *cacheentry.Entry) {
	snap := entry.WaitUntilHeadersOrTerminal()
	if snap.Headers == nil {
		return // ERROR before headers: close silently, nothing sent.
	}
	if _, err := conn.Write(snap.Headers); err != nil {
		return
	}

	sent := 0
	for {
		for i := sent; i < snap.NumChunks; i++ {
			if _, err := conn.Write(entry.ChunkAt(i)); err != nil {
				return
			}
		}
		sent = snap.NumChunks

		if snap.State != cacheentry.Loading {
			return
		}
		snap = entry.WaitForProgress(sent)
	}
}

// readRequest reads until CRLFCRLF, the buffer fills, or the peer closes,
// per spec.md §4.4 step 1.
func readRequest(conn net.Conn) (buf []byte, n int, ok bool) {
	_ = conn.SetReadDeadline(time.Now().Add(requestReadDeadline))

	buf = make([]byte, requestBufSize)
	total := 0

	for total < len(buf) {
		m, err := conn.Read(buf[total:])
		total += m
		if total > 0 && bytes.Contains(buf[:total], []byte("\r\n\r\n")) {
			return buf, total, true
		}
		if err != nil {
			return buf, total, total > 0
		}
	}
	return buf, total, true
}

// parseRequestLine extracts method and request-target from the first
// line, matching spec.md §4.4 step 2's sscanf-style three-token parse.
func parseRequestLine(req []byte) (method, target string, malformed bool) {
	line := req
	if idx := bytes.IndexByte(req, '\n'); idx >= 0 {
		line = req[:idx]
	}
	line = bytes.TrimRight(line, "\r\n")

	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return "", "", true
	}
	return fields[0], fields[1], false
}

func clientIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
