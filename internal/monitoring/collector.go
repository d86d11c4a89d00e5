// Package monitoring watches generation run history and raises alerts
// when too many runs end exhausted, blocked or failed.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/store"
)

const (
	maxWindowRuns   = 10000
	maxTopDomains   = 5
	defaultLookback = 24
)

// Snapshot holds a point-in-time view of generation health.
type Snapshot struct {
	Total     int `json:"total"`
	Accepted  int `json:"accepted"`
	Exhausted int `json:"exhausted"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`

	// Rates are fractions of Total.
	ExhaustionRate float64 `json:"exhaustion_rate"`
	BlockRate      float64 `json:"block_rate"`
	FailureRate    float64 `json:"failure_rate"`

	// AvgIterations and AvgSuccessRate cover runs that reached the controller.
	AvgIterations  float64 `json:"avg_iterations"`
	AvgSuccessRate float64 `json:"avg_success_rate"`

	// BlockedDomains lists the most frequently blocked domains, worst first.
	BlockedDomains []DomainCount `json:"blocked_domains,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// DomainCount pairs a domain with a run count.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// RunLister is the store subset the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run statistics from the store.
type Collector struct {
	store RunLister
}

// NewCollector creates a new run collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st}
}

// Collect summarizes the runs recorded within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = defaultLookback
	}
	now := time.Now().UTC()
	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        maxWindowRuns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap := Summarize(runs)
	snap.LookbackHours = lookbackHours
	snap.CollectedAt = now
	return snap, nil
}

// Summarize computes a snapshot from runs without window metadata.
func Summarize(runs []model.Run) *Snapshot {
	snap := &Snapshot{Total: len(runs)}
	blocked := make(map[string]int)
	var iterations, rate float64
	var reached int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusAccepted:
			snap.Accepted++
		case model.RunStatusExhausted:
			snap.Exhausted++
		case model.RunStatusBlocked:
			snap.Blocked++
			blocked[r.Domain]++
		default:
			snap.Failed++
		}
		if r.Iterations > 0 {
			reached++
			iterations += float64(r.Iterations)
			rate += r.SuccessRate
		}
	}

	if snap.Total > 0 {
		total := float64(snap.Total)
		snap.ExhaustionRate = float64(snap.Exhausted) / total
		snap.BlockRate = float64(snap.Blocked) / total
		snap.FailureRate = float64(snap.Failed) / total
	}
	if reached > 0 {
		snap.AvgIterations = iterations / float64(reached)
		snap.AvgSuccessRate = rate / float64(reached)
	}

	for d, n := range blocked {
		snap.BlockedDomains = append(snap.BlockedDomains, DomainCount{Domain: d, Count: n})
	}
	sort.Slice(snap.BlockedDomains, func(i, j int) bool {
		a, b := snap.BlockedDomains[i], snap.BlockedDomains[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Domain < b.Domain
	})
	if len(snap.BlockedDomains) > maxTopDomains {
		snap.BlockedDomains = snap.BlockedDomains[:maxTopDomains]
	}
	return snap
}
