package fetcher

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/wkm/cacheproxy/internal/cacheentry"
	"github.com/wkm/cacheproxy/internal/dialer"
	"github.com/wkm/cacheproxy/internal/registry"
)

// startFakeOrigin listens on localhost and writes resp verbatim to every
// accepted connection after draining a single request line.
func startFakeOrigin(t *testing.T, resp []byte) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		_, _ = r.ReadString('\n')
		_, _ = conn.Write(resp)
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func TestFetcherPublishesHeadersAndStreamsBody(t *testing.T) {
	addr, closeFn := startFakeOrigin(t, []byte("HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n\r\nHELLOWORLD"))
	defer closeFn()

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}

	url := fmt.Sprintf("http://%s:%s/path", host, port)
	entry := cacheentry.New(url, "")
	req := []byte(fmt.Sprintf("GET /path HTTP/1.0\r\nHost: %s\r\n\r\n", addr))
	if !entry.TryIgniteFetch(req) {
		t.Fatal("expected to win ignition")
	}

	reg, err := registry.New(1<<20, t.TempDir())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	mgr := dialer.NewManager(string(dialer.RoundRobin))
	f := New(mgr, reg, nil)

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), entry)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not complete in time")
	}

	if entry.State() != cacheentry.Complete {
		t.Fatalf("expected Complete, got %v", entry.State())
	}

	headers, status := entry.Headers()
	if status != 200 {
		t.Fatalf("expected status 200, got %d", status)
	}
	if string(headers) != "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n\r\n" {
		t.Fatalf("unexpected headers: %q", headers)
	}

	snap := entry.CurrentSnapshot()
	var body []byte
	for i := 0; i < snap.NumChunks; i++ {
		body = append(body, entry.ChunkAt(i)...)
	}
	if string(body) != "HELLOWORLD" {
		t.Fatalf("expected HELLOWORLD body, got %q", body)
	}
}

func TestFetcherMarksErrorOnConnectFailure(t *testing.T) {
	entry := cacheentry.New("http://127.0.0.1:1/unreachable", "")
	entry.TryIgniteFetch([]byte("GET / HTTP/1.0\r\n\r\n"))

	reg, err := registry.New(1<<20, t.TempDir())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	mgr := dialer.NewManager(string(dialer.RoundRobin))
	f := New(mgr, reg, nil)

	f.Run(context.Background(), entry)

	if entry.State() != cacheentry.Error {
		t.Fatalf("expected Error, got %v", entry.State())
	}
}
