package dialer

import (
	"errors"
	"net"
	"sync"
)

// RoundRobinSelector cycles through an origin's resolved addresses in
// order, skipping any marked unhealthy, the way the teacher's
// RoundRobinBalancer cycles through configured backends.
type RoundRobinSelector struct {
	addresses []Address
	current   int
	mu        sync.Mutex
}

func NewRoundRobinSelector(addresses []Address) *RoundRobinSelector {
	return &RoundRobinSelector{addresses: addresses}
}

func (rr *RoundRobinSelector) SelectAddress() (Address, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if len(rr.addresses) == 0 {
		return nil, errors.New("dialer: no addresses resolved for host")
	}

	start := rr.current
	for {
		addr := rr.addresses[rr.current]
		rr.current = (rr.current + 1) % len(rr.addresses)

		if addr.IsHealthy() {
			return addr, nil
		}
		if rr.current == start {
			return nil, errors.New("dialer: no healthy addresses for host")
		}
	}
}

func (rr *RoundRobinSelector) UpdateHealth(ip net.IP, healthy bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for _, addr := range rr.addresses {
		if addr.IP().Equal(ip) {
			addr.SetHealthy(healthy)
			return
		}
	}
}

func (rr *RoundRobinSelector) Addresses() []Address {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	out := make([]Address, len(rr.addresses))
	copy(out, rr.addresses)
	return out
}
