package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// CheckResult is the outcome of one run-health check.
type CheckResult struct {
	Snapshot  *Snapshot
	Alerts    []Alert
	Sent      int
	Err       error
	CheckedAt time.Time
}

// Checker watches pattern-run health. Each check summarizes the runs
// recorded in the lookback window and posts an alert for every rate
// threshold the window breaches.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int

	mu   sync.Mutex
	last CheckResult
}

// NewChecker creates a Checker. A non-positive check interval uses 5m.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
	}
}

// Run checks once immediately, then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	zap.L().Info("monitoring: watching run health",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	checks := 0
	for {
		c.Check(ctx)
		checks++
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: run-health watch stopped", zap.Int("checks", checks))
			return
		case <-ticker.C:
		}
	}
}

// Check runs one health check and returns the number of alerts posted.
func (c *Checker) Check(ctx context.Context) int {
	res := CheckResult{CheckedAt: time.Now().UTC()}
	defer func() {
		c.mu.Lock()
		c.last = res
		c.mu.Unlock()
	}()

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		zap.L().Warn("monitoring: collect runs failed", zap.Error(err))
		res.Err = err
		return 0
	}
	res.Snapshot = snap

	fields := []zap.Field{
		zap.Int("runs", snap.Total),
		zap.Float64("exhaustion_rate", snap.ExhaustionRate),
		zap.Float64("block_rate", snap.BlockRate),
		zap.Float64("failure_rate", snap.FailureRate),
	}
	if len(snap.BlockedDomains) > 0 {
		fields = append(fields, zap.String("most_blocked_domain", snap.BlockedDomains[0].Domain))
	}

	res.Alerts = c.alerter.Evaluate(snap)
	if len(res.Alerts) == 0 {
		zap.L().Debug("monitoring: run health ok", fields...)
		return 0
	}
	res.Sent = c.alerter.SendAlerts(ctx, res.Alerts)
	fields = append(fields,
		zap.Int("alerts", len(res.Alerts)),
		zap.Int("alerts_sent", res.Sent),
	)
	zap.L().Warn("monitoring: run health degraded", fields...)
	return res.Sent
}

// Last returns the result of the most recent check.
func (c *Checker) Last() CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
