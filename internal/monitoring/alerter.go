package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertExhaustionRate AlertType = "exhaustion_rate"
	AlertBlockRate      AlertType = "block_rate"
	AlertFailureRate    AlertType = "failure_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Poster delivers one JSON payload. review.Webhook satisfies it.
type Poster interface {
	Post(ctx context.Context, payload any) error
}

// Alerter evaluates a Snapshot against configured thresholds and posts
// alerts when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	poster Poster
}

// NewAlerter creates an Alerter. A nil poster evaluates without sending.
func NewAlerter(cfg config.MonitoringConfig, poster Poster) *Alerter {
	return &Alerter{cfg: cfg, poster: poster}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Windows with fewer than MinRuns runs never alert.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	if snap == nil || snap.Total == 0 || snap.Total < a.cfg.MinRuns {
		return nil
	}
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.ExhaustionRateThreshold > 0 && snap.ExhaustionRate > a.cfg.ExhaustionRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertExhaustionRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Exhaustion rate %.1f%% exceeds threshold %.1f%% (%d of %d runs in last %dh need review)",
				snap.ExhaustionRate*100, a.cfg.ExhaustionRateThreshold*100,
				snap.Exhausted, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"exhaustion_rate":  snap.ExhaustionRate,
				"threshold":        a.cfg.ExhaustionRateThreshold,
				"exhausted":        snap.Exhausted,
				"avg_success_rate": snap.AvgSuccessRate,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BlockRateThreshold > 0 && snap.BlockRate > a.cfg.BlockRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBlockRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Block rate %.1f%% exceeds threshold %.1f%% (%d of %d runs in last %dh)",
				snap.BlockRate*100, a.cfg.BlockRateThreshold*100,
				snap.Blocked, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"block_rate":      snap.BlockRate,
				"threshold":       a.cfg.BlockRateThreshold,
				"blocked":         snap.Blocked,
				"blocked_domains": snap.BlockedDomains,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FailureRateThreshold > 0 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Failure rate %.1f%% exceeds threshold %.1f%% (%d of %d runs in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert and returns how many were delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.poster == nil || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.poster.Post(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}
