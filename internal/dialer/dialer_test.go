package dialer

import (
	"net"
	"testing"
)

func addrs(ips ...string) []Address {
	out := make([]Address, len(ips))
	for i, s := range ips {
		out[i] = newIPAddress(net.ParseIP(s), "80", 1)
	}
	return out
}

// TestRoundRobinCyclesAndSkipsUnhealthy verifies RoundRobinSelector visits
// every healthy address in order and wraps around.
func TestRoundRobinCyclesAndSkipsUnhealthy(t *testing.T) {
	list := addrs("10.0.0.1", "10.0.0.2", "10.0.0.3")
	list[1].SetHealthy(false)
	sel := NewRoundRobinSelector(list)

	var seen []string
	for i := 0; i < 4; i++ {
		a, err := sel.SelectAddress()
		if err != nil {
			t.Fatalf("SelectAddress: %v", err)
		}
		seen = append(seen, a.IP().String())
	}

	want := []string{"10.0.0.1", "10.0.0.3", "10.0.0.1", "10.0.0.3"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("at %d: want %s got %s (full: %v)", i, want[i], seen[i], seen)
		}
	}
}

// TestRoundRobinAllUnhealthyErrors verifies an error rather than an
// infinite loop when nothing is healthy.
func TestRoundRobinAllUnhealthyErrors(t *testing.T) {
	list := addrs("10.0.0.1", "10.0.0.2")
	for _, a := range list {
		a.SetHealthy(false)
	}
	sel := NewRoundRobinSelector(list)

	if _, err := sel.SelectAddress(); err == nil {
		t.Fatal("expected an error when no addresses are healthy")
	}
}

// TestLeastConnectionsPicksIdlest verifies the busiest address is skipped
// in favor of whichever has fewer in-flight connections.
func TestLeastConnectionsPicksIdlest(t *testing.T) {
	list := addrs("10.0.0.1", "10.0.0.2")
	list[0].IncrementConnections()
	list[0].IncrementConnections()
	list[1].IncrementConnections()

	sel := NewLeastConnectionsSelector(list)
	a, err := sel.SelectAddress()
	if err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if a.IP().String() != "10.0.0.2" {
		t.Fatalf("expected 10.0.0.2 (1 connection), got %s", a.IP())
	}
}

// TestWeightedRoundRobinFavorsHeavierWeight verifies a 3x-weighted address
// is picked three times as often over a full cycle.
func TestWeightedRoundRobinFavorsHeavierWeight(t *testing.T) {
	list := addrs("10.0.0.1", "10.0.0.2")
	list[0].SetWeight(3)
	list[1].SetWeight(1)

	sel := NewWeightedRoundRobinSelector(list)

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		a, err := sel.SelectAddress()
		if err != nil {
			t.Fatalf("SelectAddress: %v", err)
		}
		counts[a.IP().String()]++
	}

	if counts["10.0.0.1"] != 6 || counts["10.0.0.2"] != 2 {
		t.Fatalf("expected a 6:2 split over 8 rounds, got %v", counts)
	}
}

// TestUpdateHealthByIP verifies UpdateHealth finds an address by IP and
// flips its health flag.
func TestUpdateHealthByIP(t *testing.T) {
	list := addrs("10.0.0.1", "10.0.0.2")
	sel := NewRoundRobinSelector(list)

	sel.UpdateHealth(net.ParseIP("10.0.0.1"), false)

	for _, a := range sel.Addresses() {
		if a.IP().String() == "10.0.0.1" && a.IsHealthy() {
			t.Fatal("expected 10.0.0.1 to be unhealthy after UpdateHealth")
		}
	}
}
