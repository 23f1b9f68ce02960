package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/wkm/cacheproxy/internal/config"
	"github.com/wkm/cacheproxy/internal/dialer"
	"github.com/wkm/cacheproxy/internal/evictor"
	"github.com/wkm/cacheproxy/internal/fetcher"
	"github.com/wkm/cacheproxy/internal/handler"
	"github.com/wkm/cacheproxy/internal/metrics"
	"github.com/wkm/cacheproxy/internal/registry"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServerServesProxyAndAdminTraffic(t *testing.T) {
	origin, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer origin.Close()
	go func() {
		for {
			conn, err := origin.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				_, _ = r.ReadString('\n')
				_, _ = conn.Write([]byte("HTTP/1.0 200 OK\r\n\r\nHI"))
			}()
		}
	}()

	reg, err := registry.New(1<<20, t.TempDir())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	mgr := dialer.NewManager(string(dialer.RoundRobin))
	f := fetcher.New(mgr, reg, nil)
	h := handler.New(reg, f, nil, nil, nil)
	ev := evictor.New(reg, nil, nil, nil)
	m := metrics.New()

	cfg := config.DefaultConfig()
	cfg.Server.Port = freePort(t)
	cfg.Admin.Port = freePort(t)

	admin := NewAdminHandler(m, nil, cfg.Admin.HealthPath)
	srv := New(cfg, h, ev, nil, m, admin)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port))
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	req := fmt.Sprintf("GET http://%s/ HTTP/1.0\r\nHost: %s\r\n\r\n", origin.Addr().String(), origin.Addr().String())
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 256)
	total := 0
	for {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			break
		}
	}
	if got := string(buf[:total]); got != "HTTP/1.0 200 OK\r\n\r\nHI" {
		t.Fatalf("unexpected proxy response: %q", got)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Admin.Port, cfg.Admin.HealthPath))
	if err != nil {
		t.Fatalf("admin healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
