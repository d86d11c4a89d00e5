package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/product-patterns/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps version assignment serial.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS patterns (
	id             TEXT PRIMARY KEY,
	domain         TEXT NOT NULL,
	version        INTEGER NOT NULL,
	parent_version INTEGER NOT NULL DEFAULT 0,
	rules          TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (domain, version)
);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	domain          TEXT NOT NULL,
	url             TEXT NOT NULL,
	status          TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	iterations      INTEGER NOT NULL DEFAULT 0,
	pattern_version INTEGER NOT NULL DEFAULT 0,
	success_rate    REAL NOT NULL DEFAULT 0,
	diagnostics     TEXT NOT NULL DEFAULT '[]',
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_patterns_domain ON patterns(domain, version DESC);
CREATE INDEX IF NOT EXISTS idx_runs_domain ON runs(domain);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SavePattern stores p as the next version for its domain.
func (s *SQLiteStore) SavePattern(ctx context.Context, p *model.Pattern) (*model.Pattern, error) {
	if err := checkSavable(p); err != nil {
		return nil, err
	}
	rules, err := encodeRules(p)
	if err != nil {
		return nil, err
	}

	saved := p.Clone()
	saved.ID = uuid.New().String()
	saved.CreatedAt = time.Now().UTC()

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO patterns (id, domain, version, parent_version, rules, created_at)
		 SELECT ?, ?, COALESCE(MAX(version), 0) + 1, ?, ?, ? FROM patterns WHERE domain = ?
		 RETURNING version`,
		saved.ID, saved.Domain, saved.ParentVersion, string(rules), saved.CreatedAt, saved.Domain,
	).Scan(&saved.Version)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert pattern for %s", saved.Domain)
	}
	return saved, nil
}

const sqlitePatternColumns = `id, domain, version, parent_version, rules, created_at`

// LatestPattern returns the highest stored version for domain.
func (s *SQLiteStore) LatestPattern(ctx context.Context, domain string) (*model.Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePatternColumns+` FROM patterns WHERE domain = ? ORDER BY version DESC LIMIT 1`,
		domain,
	)
	p, err := scanSQLitePattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: no pattern for %s", domain)
	}
	return p, err
}

// GetPattern returns one stored version.
func (s *SQLiteStore) GetPattern(ctx context.Context, domain string, version int) (*model.Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePatternColumns+` FROM patterns WHERE domain = ? AND version = ?`,
		domain, version,
	)
	p, err := scanSQLitePattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: pattern %s v%d", domain, version)
	}
	return p, err
}

// ListPatterns returns every version for domain, newest first.
func (s *SQLiteStore) ListPatterns(ctx context.Context, domain string) ([]model.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePatternColumns+` FROM patterns WHERE domain = ? ORDER BY version DESC`,
		domain,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list patterns")
	}
	defer func() { _ = rows.Close() }()

	var out []model.Pattern
	for rows.Next() {
		p, err := scanSQLitePattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list patterns iterate")
	}
	return out, nil
}

// ListDomains summarises stored patterns per domain.
func (s *SQLiteStore) ListDomains(ctx context.Context) ([]DomainSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, MAX(version), COUNT(*), MAX(created_at) FROM patterns GROUP BY domain ORDER BY domain`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list domains")
	}
	defer func() { _ = rows.Close() }()

	var out []DomainSummary
	for rows.Next() {
		var d DomainSummary
		var updated any
		if err := rows.Scan(&d.Domain, &d.LatestVersion, &d.Versions, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan domain")
		}
		d.UpdatedAt = parseSQLiteTime(updated)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list domains iterate")
	}
	return out, nil
}

// RecordRun inserts run, assigning an ID and timestamp when missing.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *model.Run) error {
	if run == nil {
		return eris.New("sqlite: nil run")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	diags, err := encodeDiagnostics(run.Diagnostics)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, domain, url, status, reason, iterations, pattern_version, success_rate, diagnostics, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Domain, run.URL, string(run.Status), run.Reason, run.Iterations,
		run.PatternVersion, run.SuccessRate, string(diags), run.Error, run.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run for %s", run.URL)
	}
	return nil
}

// ListRuns returns runs matching filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, domain, url, status, reason, iterations, pattern_version, success_rate, diagnostics, error, created_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer func() { _ = rows.Close() }()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var diags string
		if err := rows.Scan(&r.ID, &r.Domain, &r.URL, &r.Status, &r.Reason, &r.Iterations,
			&r.PatternVersion, &r.SuccessRate, &diags, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := decodeDiagnostics(&r, []byte(diags)); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs iterate")
	}
	return runs, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLitePattern(row scannable) (*model.Pattern, error) {
	var p model.Pattern
	var rules string
	err := row.Scan(&p.ID, &p.Domain, &p.Version, &p.ParentVersion, &rules, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan pattern")
	}
	if err := decodeRules(&p, []byte(rules)); err != nil {
		return nil, err
	}
	return &p, nil
}

// parseSQLiteTime reads aggregate timestamps. Expressions carry no column
// type, so the driver hands them back as text.
func parseSQLiteTime(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
