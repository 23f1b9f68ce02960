package dialer

import (
	"context"
	"net"
	"testing"
)

// TestPruneStaleDropsFullyUnhealthySelector verifies a host whose every
// cached address has failed gets its selector evicted, forcing the next
// Dial to re-resolve rather than retry the same dead addresses forever.
func TestPruneStaleDropsFullyUnhealthySelector(t *testing.T) {
	m := NewManager(string(RoundRobin))

	sel, err := NewSelector(string(RoundRobin), []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")}, "80")
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	key := net.JoinHostPort("origin.example", "80")
	m.selectors[key] = sel

	if pruned := m.PruneStale(); pruned != 0 {
		t.Fatalf("expected nothing pruned while addresses are healthy, got %d", pruned)
	}

	for _, a := range sel.Addresses() {
		a.SetHealthy(false)
	}

	if pruned := m.PruneStale(); pruned != 1 {
		t.Fatalf("expected exactly one selector pruned, got %d", pruned)
	}
	if _, ok := m.selectors[key]; ok {
		t.Fatal("expected the fully-unhealthy selector to be dropped")
	}
}

// TestPruneStaleKeepsPartiallyHealthySelector verifies a selector with at
// least one healthy address survives the sweep.
func TestPruneStaleKeepsPartiallyHealthySelector(t *testing.T) {
	m := NewManager(string(RoundRobin))

	sel, err := NewSelector(string(RoundRobin), []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")}, "80")
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	sel.Addresses()[0].SetHealthy(false)

	key := net.JoinHostPort("origin.example", "80")
	m.selectors[key] = sel

	if pruned := m.PruneStale(); pruned != 0 {
		t.Fatalf("expected the partially-healthy selector to survive, pruned %d", pruned)
	}
	if _, ok := m.selectors[key]; !ok {
		t.Fatal("expected the selector to remain cached")
	}
}

// TestForgetDropsNamedSelector verifies Forget removes exactly the keyed
// entry without requiring any address to be unhealthy.
func TestForgetDropsNamedSelector(t *testing.T) {
	m := NewManager(string(RoundRobin))
	ctx := context.Background()

	if _, err := m.selectorFor(ctx, "1.2.3.4", "80"); err != nil {
		t.Fatalf("selectorFor: %v", err)
	}
	key := net.JoinHostPort("1.2.3.4", "80")
	if _, ok := m.selectors[key]; !ok {
		t.Fatal("expected selectorFor to cache a selector")
	}

	m.Forget("1.2.3.4", "80")
	if _, ok := m.selectors[key]; ok {
		t.Fatal("expected Forget to drop the cached selector")
	}
}
