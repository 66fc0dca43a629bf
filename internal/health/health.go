// Package health aggregates dependency probes and exposes them over HTTP and
// the standard gRPC health protocol.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status values reported in a Report.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Pinger is implemented by every probed dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Report is the outcome of one round of probes.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthy reports whether every probe passed.
func (r Report) Healthy() bool { return r.Status == StatusHealthy }

// Checker runs named probes concurrently.
type Checker struct {
	mu      sync.RWMutex
	probes  map[string]Pinger
	timeout time.Duration
}

// NewChecker creates a checker that bounds each round by timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{probes: make(map[string]Pinger), timeout: timeout}
}

// Register adds or replaces the probe called name.
func (c *Checker) Register(name string, p Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Names returns the registered probe names in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.probes))
	for n := range c.probes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe and returns the aggregated report.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	probes := make(map[string]Pinger, len(c.probes))
	for n, p := range c.probes {
		probes[n] = p
	}
	c.mu.RUnlock()

	report := Report{Status: StatusHealthy, Checks: map[string]string{"api": "ok"}}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := p.Ping(ctx); err != nil {
				result = "unreachable"
			}
			mu.Lock()
			report.Checks[name] = result
			if result != "ok" {
				report.Status = StatusDegraded
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return report
}
