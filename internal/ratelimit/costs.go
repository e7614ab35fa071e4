package ratelimit

import (
	"sync"
)

// Default CU costs of provider endpoints.
const (
	DefaultCUCost = 10 // Default cost for unknown endpoints

	CostTokenOverview = 30
	CostPrice         = 10
)

// Provider endpoint paths
const (
	EndpointTokenOverview = "/defi/token_overview"
	EndpointPrice         = "/defi/price"
)

// CostTable prices provider endpoints in CU.
// It is safe for concurrent use.
type CostTable struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// NewCostTable creates a table with the default costs. Non-positive
// overrides are ignored.
func NewCostTable(overrides map[string]int) *CostTable {
	costs := map[string]int{
		EndpointTokenOverview: CostTokenOverview,
		EndpointPrice:         CostPrice,
	}
	for endpoint, cost := range overrides {
		if cost > 0 {
			costs[endpoint] = cost
		}
	}

	return &CostTable{
		costs:       costs,
		defaultCost: DefaultCUCost,
	}
}

// GetCost returns the CU cost of an endpoint, or the default for unknown ones.
func (r *CostTable) GetCost(endpoint string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[endpoint]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates the cost of an endpoint at runtime. Non-positive costs are ignored.
func (r *CostTable) SetCost(endpoint string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.costs[endpoint] = cost
}
