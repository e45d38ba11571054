// Package health provides periodic self-health checks for a fabric
// node: the durable store, the node registry, and the fleet's circuit
// breakers, exposed through the /api/ai-engine/health endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/infra/sqlite"
	"github.com/mabou7agar/nodefabric/internal/registry"
)

// Check defines a single named health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Checker runs periodic health checks against the node's dependencies.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker builds the standard checks: sqlite connectivity, registry
// reachability, and whether every known breaker is open (a sign
// every peer is unreachable, independent of any single breaker).
func NewChecker(db *sqlite.DB, reg *registry.Registry, breakers *breaker.Registry) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					if db == nil {
						return nil
					}
					return db.Ping()
				},
			},
			{
				Name: "registry",
				CheckFn: func(ctx context.Context) error {
					if reg == nil {
						return nil
					}
					_ = reg.All()
					return nil
				},
			},
			{
				Name: "breaker_fleet",
				CheckFn: func(ctx context.Context) error {
					return checkBreakerFleet(breakers)
				},
			},
		},
	}
}

// checkBreakerFleet fails if every known breaker is open, since that
// indicates total peer unreachability rather than one bad node.
func checkBreakerFleet(breakers *breaker.Registry) error {
	if breakers == nil {
		return nil
	}
	snapshot := breakers.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}
	openCount := 0
	for _, s := range snapshot {
		if s.State == domain.BreakerOpen {
			openCount++
		}
	}
	if openCount == len(snapshot) {
		return fmt.Errorf("all %d known breakers are open", len(snapshot))
	}
	return nil
}

// Run starts the periodic health-check loop; call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}
	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy reports whether every check currently passes.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
