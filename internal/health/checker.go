// Package health runs periodic liveness checks for the engine's
// dependencies and exposes the latest results.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ascend-academy/ascend/internal/infra/logger"
	"github.com/ascend-academy/ascend/internal/infra/metrics"
)

// DefaultInterval is how often checks run.
const DefaultInterval = 30 * time.Second

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger
}

// NewChecker creates a checker with the store ping and data directory checks.
// dataDir may be empty when the store is not file-backed.
func NewChecker(store Pinger, dataDir string, log *logger.Logger) *Checker {
	if log == nil {
		log = logger.Nop()
	}
	c := &Checker{
		interval: DefaultInterval,
		timeout:  5 * time.Second,
		log:      log.With("service", "health"),
	}
	c.AddCheck(Check{
		Name:    "store",
		CheckFn: store.Ping,
	})
	if dataDir != "" {
		c.AddCheck(Check{
			Name: "data_dir",
			CheckFn: func(ctx context.Context) error {
				return checkDataDir(dataDir)
			},
			RecoverFn: func(ctx context.Context) error {
				return os.MkdirAll(dataDir, 0o755)
			},
		})
	}
	return c
}

// AddCheck registers an extra check. Call before Run.
func (c *Checker) AddCheck(check Check) {
	c.mu.Lock()
	c.checks = append(c.checks, check)
	c.mu.Unlock()
}

// SetInterval overrides the check period.
func (c *Checker) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes every check and records the results.
func (c *Checker) RunOnce(ctx context.Context) {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}

		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check.CheckFn(checkCtx)
		cancel()

		if err != nil {
			s.Error = err.Error()
			c.log.Warn("health check failed", "check", check.Name, "error", err)
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Error("health recovery failed", "check", check.Name, "error", rerr)
				}
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
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

// IsHealthy returns true if all checks pass.
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

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
