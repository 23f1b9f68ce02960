package evictor

import (
	"context"
	"testing"
	"time"

	"github.com/wkm/cacheproxy/internal/registry"
)

// fillAndComplete pins a fresh entry for url, publishes headers/body
// bytes, marks it Complete, then releases the pin so it becomes evictable.
func fillAndComplete(t *testing.T, reg *registry.Registry, url string, body []byte) {
	t.Helper()
	entry, _ := reg.FindOrCreatePin(url)
	entry.TryIgniteFetch([]byte("GET " + url + " HTTP/1.0\r\n\r\n"))
	entry.OpenCacheFile()
	entry.PublishHeaders([]byte("HTTP/1.0 200 OK\r\n\r\n"), 200)
	reg.AppendChunk(entry, body)
	entry.MarkComplete()
	reg.Release(entry)
}

func TestSweepReclaimsOverBudgetEntries(t *testing.T) {
	reg, err := registry.New(100, t.TempDir())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	fillAndComplete(t, reg, "http://a.example/1", make([]byte, 60))
	fillAndComplete(t, reg, "http://a.example/2", make([]byte, 60))

	if !reg.HighWater() {
		t.Fatalf("expected registry to be over its high-water mark")
	}

	e := New(reg, nil, nil, nil)
	e.sweep(context.Background())

	if reg.HighWater() {
		t.Fatalf("expected sweep to bring the registry back under budget")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected exactly one entry evicted, %d remain", reg.Len())
	}
}

func TestSweepStopsWhenNothingEvictable(t *testing.T) {
	reg, err := registry.New(10, t.TempDir())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	// Pinned (never released) entry: over budget but not evictable.
	entry, _ := reg.FindOrCreatePin("http://a.example/pinned")
	entry.TryIgniteFetch([]byte("GET http://a.example/pinned HTTP/1.0\r\n\r\n"))
	entry.OpenCacheFile()
	entry.PublishHeaders([]byte("HTTP/1.0 200 OK\r\n\r\n"), 200)
	reg.AppendChunk(entry, make([]byte, 50))
	entry.MarkComplete()

	e := New(reg, nil, nil, nil)
	e.sweep(context.Background())

	if reg.Len() != 1 {
		t.Fatalf("expected the pinned entry to survive, Len=%d", reg.Len())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reg, err := registry.New(100, t.TempDir())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	e := New(reg, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
