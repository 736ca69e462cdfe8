package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the aggregate or per-check health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc probes one dependency. A nil error means the dependency is fine.
type CheckFunc func(ctx context.Context) error

// Check is a named probe registered on a Checker.
type Check struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Run      CheckFunc
}

// Result is the outcome of one probe.
type Result struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Report aggregates all probe outcomes.
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Result  `json:"checks"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Healthy reports whether the service should be considered ready.
// Non-critical failures degrade the report but keep it ready.
func (r Report) Healthy() bool {
	return r.Status != StatusUnhealthy
}

const defaultCheckTimeout = 3 * time.Second

// Checker runs registered probes concurrently and aggregates the results.
type Checker struct {
	mu     sync.RWMutex
	checks []Check
}

// NewChecker returns an empty checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a probe. Probes with no timeout get a 3s default.
func (c *Checker) Register(check Check) {
	if check.Run == nil || check.Name == "" {
		return
	}
	if check.Timeout <= 0 {
		check.Timeout = defaultCheckTimeout
	}
	c.mu.Lock()
	c.checks = append(c.checks, check)
	c.mu.Unlock()
}

// RunAll executes every probe concurrently and returns the aggregate report.
// The report is unhealthy when any critical probe fails and degraded when
// only non-critical probes fail.
func (c *Checker) RunAll(ctx context.Context) Report {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, check.Timeout)
			defer cancel()
			start := time.Now()
			err := check.Run(checkCtx)
			result := Result{
				Name:      check.Name,
				Status:    StatusHealthy,
				Critical:  check.Critical,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				result.Status = StatusUnhealthy
				result.Error = err.Error()
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	aggregate := StatusHealthy
	for _, result := range results {
		if result.Status == StatusHealthy {
			continue
		}
		if result.Critical {
			aggregate = StatusUnhealthy
			break
		}
		aggregate = StatusDegraded
	}
	return Report{
		Status:    aggregate,
		Checks:    results,
		CheckedAt: time.Now().UTC(),
	}
}
