package health

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds readiness check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe is a named dependency check. Ping returns nil when the dependency
// is reachable.
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

// Status is the current view of one dependency.
type Status struct {
	Healthy   bool      `json:"healthy"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// Checker runs periodic probes against the service's dependencies
// (database, object store) and caches the results for the health
// endpoint, so that readiness queries never touch the dependencies
// directly.
type Checker struct {
	probes     []Probe
	mu         sync.Mutex
	statuses   map[string]Status
	failCounts map[string]int
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a Checker over the given probes.
func New(probes []Probe, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Checker{
		probes:     probes,
		statuses:   make(map[string]Status),
		failCounts: make(map[string]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the probe loop until quit is signalled. An initial pass runs
// immediately so the first health query has data.
func (c *Checker) Start(quit <-chan os.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CheckInterval)
	c.CheckAll(ctx)
	cancel()

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CheckInterval)
			c.CheckAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// CheckAll runs every probe once and records the outcomes.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, p := range c.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			err := probe.Ping(pctx)
			cancel()

			if c.onMetrics != nil {
				c.onMetrics(probe.Name, err == nil)
			}

			now := time.Now().UTC()

			c.mu.Lock()
			prevCount := c.failCounts[probe.Name]
			if err == nil {
				c.failCounts[probe.Name] = 0
				c.statuses[probe.Name] = Status{Healthy: true, CheckedAt: now}
			} else {
				c.failCounts[probe.Name]++
				st := Status{CheckedAt: now, LastError: err.Error()}
				// Stay healthy under the threshold so a single blip does
				// not flip readiness.
				st.Healthy = c.failCounts[probe.Name] < c.cfg.FailThreshold
				c.statuses[probe.Name] = st
			}
			count := c.failCounts[probe.Name]
			c.mu.Unlock()

			switch {
			case err == nil && prevCount >= c.cfg.FailThreshold:
				c.logger.Info("health: recovered", zap.String("dependency", probe.Name))
			case err != nil && count == c.cfg.FailThreshold:
				c.logger.Warn("health: degraded",
					zap.String("dependency", probe.Name),
					zap.Int("fail_count", count),
					zap.Error(err),
				)
			}
		}(p)
	}

	wg.Wait()
}

// Snapshot returns the latest status per dependency and whether the
// service as a whole is ready.
func (c *Checker) Snapshot() (map[string]Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Status, len(c.statuses))
	ready := true
	for name, st := range c.statuses {
		out[name] = st
		if !st.Healthy {
			ready = false
		}
	}
	return out, ready
}
