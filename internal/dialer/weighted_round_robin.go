package dialer

import (
	"errors"
	"net"
	"sync"
)

// WeightedRoundRobinSelector applies the teacher's smooth weighted
// round-robin algorithm to an origin's resolved addresses: each healthy
// address accrues its configured weight every round, the highest current
// weight is chosen and then discounted by the total, spreading load without
// bursts toward heavier-weighted records.
type WeightedRoundRobinSelector struct {
	addresses      []Address
	currentWeights []int
	mu             sync.Mutex
}

func NewWeightedRoundRobinSelector(addresses []Address) *WeightedRoundRobinSelector {
	return &WeightedRoundRobinSelector{
		addresses:      addresses,
		currentWeights: make([]int, len(addresses)),
	}
}

func (wrr *WeightedRoundRobinSelector) SelectAddress() (Address, error) {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	if len(wrr.addresses) == 0 {
		return nil, errors.New("dialer: no addresses resolved for host")
	}

	selectedIndex := -1
	maxCurrentWeight := -1

	for i, addr := range wrr.addresses {
		if !addr.IsHealthy() {
			continue
		}
		wrr.currentWeights[i] += addr.GetWeight()
		if wrr.currentWeights[i] > maxCurrentWeight {
			selectedIndex = i
			maxCurrentWeight = wrr.currentWeights[i]
		}
	}

	if selectedIndex == -1 {
		return nil, errors.New("dialer: no healthy addresses for host")
	}

	totalWeight := 0
	for _, addr := range wrr.addresses {
		if addr.IsHealthy() {
			totalWeight += addr.GetWeight()
		}
	}
	wrr.currentWeights[selectedIndex] -= totalWeight

	return wrr.addresses[selectedIndex], nil
}

func (wrr *WeightedRoundRobinSelector) UpdateHealth(ip net.IP, healthy bool) {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()
	for _, addr := range wrr.addresses {
		if addr.IP().Equal(ip) {
			addr.SetHealthy(healthy)
			return
		}
	}
}

func (wrr *WeightedRoundRobinSelector) Addresses() []Address {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()
	out := make([]Address, len(wrr.addresses))
	copy(out, wrr.addresses)
	return out
}
