// Package store persists versioned extraction patterns and the record of
// every generation run. Pattern rows are append-only: saving assigns the
// next version for the domain and never updates an existing row.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-patterns/internal/model"
)

// ErrNotFound is returned when a pattern version does not exist.
var ErrNotFound = eris.New("store: not found")

const defaultListLimit = 100

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Domain string          `json:"domain,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`

	// CreatedAfter keeps runs recorded at or after this time.
	CreatedAfter time.Time `json:"created_after,omitzero"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// DomainSummary describes the stored versions for one domain.
type DomainSummary struct {
	Domain        string    `json:"domain"`
	LatestVersion int       `json:"latest_version"`
	Versions      int       `json:"versions"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store defines the persistence interface for patterns and runs.
type Store interface {
	// Patterns
	SavePattern(ctx context.Context, p *model.Pattern) (*model.Pattern, error)
	LatestPattern(ctx context.Context, domain string) (*model.Pattern, error)
	GetPattern(ctx context.Context, domain string, version int) (*model.Pattern, error)
	ListPatterns(ctx context.Context, domain string) ([]model.Pattern, error)
	ListDomains(ctx context.Context) ([]DomainSummary, error)

	// Runs
	RecordRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func checkSavable(p *model.Pattern) error {
	if p == nil {
		return eris.New("store: nil pattern")
	}
	if err := p.Validate(); err != nil {
		return eris.Wrap(err, "store: refusing invalid pattern")
	}
	return nil
}

func encodeRules(p *model.Pattern) ([]byte, error) {
	rules := p.Rules
	if rules == nil {
		rules = map[model.Field][]model.FieldRule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal rules")
	}
	return data, nil
}

func decodeRules(p *model.Pattern, data []byte) error {
	p.Rules = make(map[model.Field][]model.FieldRule)
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &p.Rules); err != nil {
		return eris.Wrapf(err, "store: unmarshal rules for %s v%d", p.Domain, p.Version)
	}
	return nil
}

func encodeDiagnostics(d []string) ([]byte, error) {
	if d == nil {
		d = []string{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal diagnostics")
	}
	return data, nil
}

func decodeDiagnostics(r *model.Run, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &r.Diagnostics); err != nil {
		return eris.Wrapf(err, "store: unmarshal diagnostics for run %s", r.ID)
	}
	return nil
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
