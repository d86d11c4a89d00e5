package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/resilience"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	retry   resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const uniqueViolation = "23505"

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool Pool, closeFn func()) *PostgresStore {
	retry := resilience.NewRetryConfig(3, 10*time.Millisecond, 100*time.Millisecond)
	retry.ShouldRetry = isUniqueViolation
	return &PostgresStore{pool: pool, closeFn: closeFn, retry: retry}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS patterns (
	id             TEXT PRIMARY KEY,
	domain         TEXT NOT NULL,
	version        INTEGER NOT NULL,
	parent_version INTEGER NOT NULL DEFAULT 0,
	rules          JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (domain, version)
);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	domain          TEXT NOT NULL,
	url             TEXT NOT NULL,
	status          TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	iterations      INTEGER NOT NULL DEFAULT 0,
	pattern_version INTEGER NOT NULL DEFAULT 0,
	success_rate    DOUBLE PRECISION NOT NULL DEFAULT 0,
	diagnostics     JSONB NOT NULL DEFAULT '[]',
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_patterns_domain ON patterns(domain, version DESC);
CREATE INDEX IF NOT EXISTS idx_runs_domain ON runs(domain);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT 1"); err != nil {
		return eris.Wrap(err, "postgres: ping")
	}
	return nil
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgInsertPattern = `INSERT INTO patterns (id, domain, version, parent_version, rules, created_at)
SELECT $1, $2::text, COALESCE(MAX(version), 0) + 1, $3, $4, $5 FROM patterns WHERE domain = $2::text
RETURNING version`

// SavePattern stores p as the next version for its domain. Concurrent
// writers racing for the same version hit the unique index and retry.
func (s *PostgresStore) SavePattern(ctx context.Context, p *model.Pattern) (*model.Pattern, error) {
	if err := checkSavable(p); err != nil {
		return nil, err
	}
	rules, err := encodeRules(p)
	if err != nil {
		return nil, err
	}

	saved := p.Clone()
	saved.CreatedAt = time.Now().UTC()
	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		saved.ID = uuid.New().String()
		return s.pool.QueryRow(ctx, pgInsertPattern,
			saved.ID, saved.Domain, saved.ParentVersion, rules, saved.CreatedAt,
		).Scan(&saved.Version)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert pattern for %s", saved.Domain)
	}
	return saved, nil
}

const pgPatternColumns = `id, domain, version, parent_version, rules, created_at`

// LatestPattern returns the highest stored version for domain.
func (s *PostgresStore) LatestPattern(ctx context.Context, domain string) (*model.Pattern, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPatternColumns+` FROM patterns WHERE domain = $1 ORDER BY version DESC LIMIT 1`,
		domain,
	)
	p, err := scanPgPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: no pattern for %s", domain)
	}
	return p, err
}

// GetPattern returns one stored version.
func (s *PostgresStore) GetPattern(ctx context.Context, domain string, version int) (*model.Pattern, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPatternColumns+` FROM patterns WHERE domain = $1 AND version = $2`,
		domain, version,
	)
	p, err := scanPgPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: pattern %s v%d", domain, version)
	}
	return p, err
}

// ListPatterns returns every version for domain, newest first.
func (s *PostgresStore) ListPatterns(ctx context.Context, domain string) ([]model.Pattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPatternColumns+` FROM patterns WHERE domain = $1 ORDER BY version DESC`,
		domain,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list patterns")
	}
	defer rows.Close()

	var out []model.Pattern
	for rows.Next() {
		p, err := scanPgPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list patterns iterate")
	}
	return out, nil
}

// ListDomains summarises stored patterns per domain.
func (s *PostgresStore) ListDomains(ctx context.Context) ([]DomainSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT domain, MAX(version), COUNT(*), MAX(created_at) FROM patterns GROUP BY domain ORDER BY domain`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list domains")
	}
	defer rows.Close()

	var out []DomainSummary
	for rows.Next() {
		var d DomainSummary
		var versions int64
		if err := rows.Scan(&d.Domain, &d.LatestVersion, &versions, &d.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan domain")
		}
		d.Versions = int(versions)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list domains iterate")
	}
	return out, nil
}

// RecordRun inserts run, assigning an ID and timestamp when missing.
func (s *PostgresStore) RecordRun(ctx context.Context, run *model.Run) error {
	if run == nil {
		return eris.New("postgres: nil run")
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, domain, url, status, reason, iterations, pattern_version, success_rate, diagnostics, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Domain, run.URL, string(run.Status), run.Reason, run.Iterations,
		run.PatternVersion, run.SuccessRate, diags, run.Error, run.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run for %s", run.URL)
	}
	return nil
}

// ListRuns returns runs matching filter, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, domain, url, status, reason, iterations, pattern_version, success_rate, diagnostics, error, created_at
		FROM runs WHERE 1=1`
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Domain != "" {
		query += ` AND domain = ` + next(filter.Domain)
	}
	if filter.Status != "" {
		query += ` AND status = ` + next(string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ` + next(filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + next(listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + next(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var diags []byte
		if err := rows.Scan(&r.ID, &r.Domain, &r.URL, &status, &r.Reason, &r.Iterations,
			&r.PatternVersion, &r.SuccessRate, &diags, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if err := decodeDiagnostics(&r, diags); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list runs iterate")
	}
	return runs, nil
}

func scanPgPattern(row pgx.Row) (*model.Pattern, error) {
	var p model.Pattern
	var rules []byte
	err := row.Scan(&p.ID, &p.Domain, &p.Version, &p.ParentVersion, &rules, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan pattern")
	}
	if err := decodeRules(&p, rules); err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
