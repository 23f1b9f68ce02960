// Package fetcher drives the single upstream fetch that populates one
// cache entry. Exactly one goroutine per entry ever runs a Fetcher.Run —
// ignition is arbitrated by cacheentry.Entry.TryIgniteFetch — so there is
// no concurrency inside this package to reason about; all the coordination
// with concurrent readers lives in cacheentry and registry.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wkm/cacheproxy/internal/cacheentry"
	"github.com/wkm/cacheproxy/internal/dialer"
	"github.com/wkm/cacheproxy/internal/logging"
	"github.com/wkm/cacheproxy/internal/registry"
)

func loggingURLAttr(url string) slog.Attr { return slog.String("url", url) }

const (
	// upstreamTimeout bounds both connect and each individual read/write
	// to the origin, matching original_source/network.c's 30s SO_RCVTIMEO
	// and SO_SNDTIMEO.
	upstreamTimeout = 30 * time.Second

	// bodyChunkSize is the suggested read size for streamed body chunks
	// once headers are known.
	bodyChunkSize = 8 * 1024

	// initialHeaderBuf is the starting capacity of the growing buffer used
	// to accumulate bytes until CRLFCRLF is found.
	initialHeaderBuf = 8 * 1024
)

// Fetcher performs the one-shot upstream fetch for a cache entry: dial,
// send the verbatim client request, scan for the header terminator, and
// stream the remaining body into the registry as chunks.
type Fetcher struct {
	dial   *dialer.Manager
	reg    *registry.Registry
	logger *logging.Logger
	tracer trace.Tracer
}

// New constructs a Fetcher bound to dial and reg. logger may be nil to use
// a no-op logger.
func New(dial *dialer.Manager, reg *registry.Registry, logger *logging.Logger) *Fetcher {
	return &Fetcher{dial: dial, reg: reg, logger: logger, tracer: otel.Tracer("cacheproxy/fetcher")}
}

// Run executes the fetch for entry and drives it to a terminal state
// (Complete or Error) before returning. The caller is expected to have
// already won entry.TryIgniteFetch.
func (f *Fetcher) Run(ctx context.Context, entry *cacheentry.Entry) {
	ctx, span := f.tracer.Start(ctx, "fetch", trace.WithAttributes(attribute.String("url", entry.URL())))
	defer span.End()

	if err := f.run(ctx, entry); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		if f.logger != nil {
			f.logger.Error(ctx, "fetch failed", err, loggingURLAttr(entry.URL()))
		}
		entry.MarkError()
		return
	}

	entry.MarkComplete()
	if f.logger != nil {
		f.logger.Info(ctx, "fetch complete", loggingURLAttr(entry.URL()))
	}
}

func (f *Fetcher) run(ctx context.Context, entry *cacheentry.Entry) error {
	host, port, _, err := parseUpstreamURL(entry.URL())
	if err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	conn, err := f.dial.Dial(dialCtx, host, port)
	cancel()
	if err != nil {
		return fmt.Errorf("fetcher: connect: %w", err)
	}
	defer conn.Close()

	req := entry.OriginalRequest()
	if len(req) == 0 {
		return fmt.Errorf("fetcher: no request bytes recorded for entry")
	}

	if err := conn.SetWriteDeadline(time.Now().Add(upstreamTimeout)); err != nil {
		return fmt.Errorf("fetcher: set write deadline: %w", err)
	}
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("fetcher: send request: %w", err)
	}

	entry.OpenCacheFile()
	return f.stream(entry, conn)
}

// stream reads from conn, splitting the response into a header block (up
// to and including the first CRLFCRLF) and body chunks, following
// original_source/download.c's download_thread loop.
func (f *Fetcher) stream(entry *cacheentry.Entry, conn net.Conn) error {
	headerBuf := make([]byte, 0, initialHeaderBuf)
	headersDone := false
	readBuf := make([]byte, bodyChunkSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(upstreamTimeout)); err != nil {
			return fmt.Errorf("fetcher: set read deadline: %w", err)
		}

		n, err := conn.Read(readBuf)
		if n > 0 {
			if !headersDone {
				headerBuf = append(headerBuf, readBuf[:n]...)

				if idx := bytes.Index(headerBuf, []byte("\r\n\r\n")); idx >= 0 {
					headersDone = true
					headerEnd := idx + 4
					statusCode := extractStatusCode(headerBuf[:headerEnd])
					entry.PublishHeaders(headerBuf[:headerEnd], statusCode)

					// Body policy: the spec resolves the source's
					// non-200 ambiguity by always treating the bytes
					// past the terminator as body, for every status.
					if headerEnd < len(headerBuf) {
						f.reg.AppendChunk(entry, headerBuf[headerEnd:])
					}
				}
			} else {
				f.reg.AppendChunk(entry, readBuf[:n])
			}
		}

		if err != nil {
			if isEOF(err) {
				return nil
			}
			// Go's net.Conn deadlines surface as a genuine timeout error
			// rather than POSIX's EAGAIN/EWOULDBLOCK; unlike the C
			// original's retry-on-EAGAIN loop, a deadline overrun here is
			// terminal, since a read is never given more than
			// upstreamTimeout to produce bytes.
			return fmt.Errorf("fetcher: read: %w", err)
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF")
}

// extractStatusCode pulls the integer second whitespace-separated token
// out of the response's status line, e.g. "200" from "HTTP/1.1 200 OK".
func extractStatusCode(headers []byte) int {
	line := headers
	if idx := bytes.IndexByte(headers, '\n'); idx >= 0 {
		line = headers[:idx]
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// parseUpstreamURL extracts host, port, and path from a cache key URL. Only
// plain http is supported, matching original_source/network.c: parse_url's
// explicit https rejection.
func parseUpstreamURL(raw string) (host, port, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" {
		return "", "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host = u.Hostname()
	if host == "" {
		return "", "", "", fmt.Errorf("missing host in url %q", raw)
	}

	port = u.Port()
	if port == "" {
		port = "80"
	}

	path = u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" {
		path = "/"
	}

	return host, port, path, nil
}
