// Package health aggregates readiness checks for the HTTP and gRPC probes.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds one readiness run.
const DefaultCheckTimeout = 2 * time.Second

// Status values reported per check and overall.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// Pinger is implemented by stores and *sql.DB wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker is implemented by the admission policy engine.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Report is the outcome of one readiness run.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == StatusOK }

type check struct {
	name string
	fn   func(context.Context) error
}

// Checker runs named dependency checks concurrently.
type Checker struct {
	timeout time.Duration
	mu      sync.RWMutex
	checks  []check
}

// NewChecker returns an empty Checker. A non-positive timeout selects DefaultCheckTimeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{timeout: timeout}
}

// Add registers fn under name. A nil fn is ignored.
func (c *Checker) Add(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.checks = append(c.checks, check{name: name, fn: fn})
	c.mu.Unlock()
}

// AddPinger registers p.Ping under name. A nil p is ignored.
func (c *Checker) AddPinger(name string, p Pinger) {
	if p == nil {
		return
	}
	c.Add(name, p.Ping)
}

// AddPolicy registers p.HealthCheck under name. A nil p is ignored.
func (c *Checker) AddPolicy(name string, p PolicyChecker) {
	if p == nil {
		return
	}
	c.Add(name, p.HealthCheck)
}

// Check runs every registered check and reports each result. Error details are not exposed.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]check(nil), c.checks...)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make([]string, len(checks))
	var wg sync.WaitGroup
	for i, chk := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = StatusOK
			if err := chk.fn(ctx); err != nil {
				results[i] = StatusUnavailable
			}
		}()
	}
	wg.Wait()

	report := Report{Status: StatusOK, Checks: make(map[string]string, len(checks))}
	for i, chk := range checks {
		report.Checks[chk.name] = results[i]
		if results[i] != StatusOK {
			report.Status = StatusUnavailable
		}
	}
	return report
}
