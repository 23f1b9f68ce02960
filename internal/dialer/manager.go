package dialer

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Manager resolves origin hosts to addresses and caches one Selector per
// host so that round-robin position and least-connections counts persist
// across fetches to the same host, the way a long-lived reverse proxy would
// keep its LoadBalancer alive across requests. A forward proxy sees a new
// host on every fetch, so Manager exists specifically to give repeat hosts
// that continuity instead of re-resolving and restarting the algorithm
// from scratch each time.
type Manager struct {
	algorithm string
	resolver  *net.Resolver

	mu        sync.Mutex
	selectors map[string]Selector // key: "host:port"
}

// NewManager constructs a Manager that builds Selectors with algorithm
// (one of dialer.RoundRobin, LeastConnections, WeightedRoundRobin).
func NewManager(algorithm string) *Manager {
	return &Manager{
		algorithm: algorithm,
		resolver:  net.DefaultResolver,
		selectors: make(map[string]Selector),
	}
}

// Dial resolves host if necessary, selects an address via the cached or
// freshly built Selector, and dials it. On connection failure it marks the
// address unhealthy so the next fetch to the same host skips it. The
// address's connection count is raised only for the duration of the dial;
// it is lowered again before Dial returns.
func (m *Manager) Dial(ctx context.Context, host, port string) (net.Conn, error) {
	sel, err := m.selectorFor(ctx, host, port)
	if err != nil {
		return nil, err
	}

	addr, err := sel.SelectAddress()
	if err != nil {
		return nil, err
	}

	addr.IncrementConnections()
	defer addr.DecrementConnections()

	conn, err := addr.Dial(ctx)
	if err != nil {
		sel.UpdateHealth(addr.IP(), false)
		return nil, fmt.Errorf("dialer: connect to %s: %w", net.JoinHostPort(addr.IP().String(), port), err)
	}
	return conn, nil
}

func (m *Manager) selectorFor(ctx context.Context, host, port string) (Selector, error) {
	key := net.JoinHostPort(host, port)

	m.mu.Lock()
	sel, ok := m.selectors[key]
	m.mu.Unlock()
	if ok {
		return sel, nil
	}

	ips, err := m.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	sel, err = NewSelector(m.algorithm, ips, port)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.selectors[key]; ok {
		sel = existing
	} else {
		m.selectors[key] = sel
	}
	m.mu.Unlock()

	return sel, nil
}

func (m *Manager) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	addrs, err := m.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dialer: resolve %s: %w", host, err)
	}

	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// Forget drops the cached selector for host:port, forcing re-resolution on
// the next Dial, whether or not any of its addresses is unhealthy.
// PruneStale does its own deletion under the same lock rather than calling
// Forget.
func (m *Manager) Forget(host, port string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.selectors, net.JoinHostPort(host, port))
}

// PruneStale drops every cached selector all of whose addresses are
// currently marked unhealthy, returning how many were dropped. A host
// whose entire A/AAAA record set failed to dial stays wedged on that
// stale record set forever otherwise: nothing else re-triggers DNS
// resolution once a Selector exists for a host. The evictor calls this on
// its periodic sweep so a host whose origin IPs rotated (or whose outage
// ended) gets re-resolved instead of permanently failing dials against
// addresses that no longer work.
func (m *Manager) PruneStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for key, sel := range m.selectors {
		if allUnhealthy(sel) {
			delete(m.selectors, key)
			pruned++
		}
	}
	return pruned
}

func allUnhealthy(sel Selector) bool {
	addrs := sel.Addresses()
	if len(addrs) == 0 {
		return false
	}
	for _, a := range addrs {
		if a.IsHealthy() {
			return false
		}
	}
	return true
}
