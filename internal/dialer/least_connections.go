package dialer

import (
	"errors"
	"net"
	"sync"
)

// LeastConnectionsSelector routes each fetch to the healthy address with
// the fewest in-flight connections, mirroring the teacher's
// LeastConnectionsBalancer. It favors whichever A record is least busy
// rather than cycling blindly, useful for origins with uneven per-IP load.
type LeastConnectionsSelector struct {
	addresses []Address
	mu        sync.RWMutex
}

func NewLeastConnectionsSelector(addresses []Address) *LeastConnectionsSelector {
	return &LeastConnectionsSelector{addresses: addresses}
}

func (lc *LeastConnectionsSelector) SelectAddress() (Address, error) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	if len(lc.addresses) == 0 {
		return nil, errors.New("dialer: no addresses resolved for host")
	}

	var selected Address
	minConnections := int64(-1)

	for _, addr := range lc.addresses {
		if !addr.IsHealthy() {
			continue
		}
		conns := addr.GetConnections()
		if minConnections == -1 || conns < minConnections {
			selected = addr
			minConnections = conns
		}
	}

	if selected == nil {
		return nil, errors.New("dialer: no healthy addresses for host")
	}
	return selected, nil
}

func (lc *LeastConnectionsSelector) UpdateHealth(ip net.IP, healthy bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for _, addr := range lc.addresses {
		if addr.IP().Equal(ip) {
			addr.SetHealthy(healthy)
			return
		}
	}
}

func (lc *LeastConnectionsSelector) Addresses() []Address {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	out := make([]Address, len(lc.addresses))
	copy(out, lc.addresses)
	return out
}
