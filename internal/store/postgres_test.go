package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-patterns/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock, nil), mock
}

var patternCols = []string{"id", "domain", "version", "parent_version", "rules", "created_at"}

const titleRulesJSON = `{"title":[{"field":"title","kind":"meta","locator":"og:title","confidence":0.8}]}`

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS patterns`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePattern(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO patterns .* COALESCE\(MAX\(version\), 0\) \+ 1`).
		WithArgs(pgxmock.AnyArg(), "shop.example", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(4))

	saved, err := s.SavePattern(context.Background(), testPattern("shop.example"))
	require.NoError(t, err)
	assert.Equal(t, 4, saved.Version)
	assert.NotEmpty(t, saved.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePattern_RetriesVersionRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO patterns`).
		WithArgs(pgxmock.AnyArg(), "shop.example", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})
	mock.ExpectQuery(`INSERT INTO patterns`).
		WithArgs(pgxmock.AnyArg(), "shop.example", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(2))

	saved, err := s.SavePattern(context.Background(), testPattern("shop.example"))
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePattern_OtherErrorNotRetried(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO patterns`).
		WithArgs(pgxmock.AnyArg(), "shop.example", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection lost"))

	_, err := s.SavePattern(context.Background(), testPattern("shop.example"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert pattern")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestPattern(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, domain, version, parent_version, rules, created_at FROM patterns WHERE domain = \$1 ORDER BY version DESC LIMIT 1`).
		WithArgs("shop.example").
		WillReturnRows(pgxmock.NewRows(patternCols).
			AddRow("p-2", "shop.example", 2, 1, []byte(titleRulesJSON), created))

	p, err := s.LatestPattern(context.Background(), "shop.example")
	require.NoError(t, err)
	assert.Equal(t, "p-2", p.ID)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, 1, p.ParentVersion)
	assert.Equal(t, created, p.CreatedAt)
	require.Len(t, p.Rules[model.FieldTitle], 1)
	assert.Equal(t, "og:title", p.Rules[model.FieldTitle][0].Locator)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestPattern_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM patterns WHERE domain = \$1`).
		WithArgs("missing.example").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LatestPattern(context.Background(), "missing.example")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPattern_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM patterns WHERE domain = \$1 AND version = \$2`).
		WithArgs("shop.example", 5).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetPattern(context.Background(), "shop.example", 5)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPatterns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM patterns WHERE domain = \$1 ORDER BY version DESC`).
		WithArgs("shop.example").
		WillReturnRows(pgxmock.NewRows(patternCols).
			AddRow("p-2", "shop.example", 2, 1, []byte(titleRulesJSON), now).
			AddRow("p-1", "shop.example", 1, 0, []byte(titleRulesJSON), now))

	list, err := s.ListPatterns(context.Background(), "shop.example")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].Version)
	assert.Equal(t, 1, list[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDomains(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT domain, MAX\(version\), COUNT\(\*\), MAX\(created_at\) FROM patterns GROUP BY domain`).
		WillReturnRows(pgxmock.NewRows([]string{"domain", "max", "count", "max"}).
			AddRow("shop.example", 3, int64(3), now))

	domains, err := s.ListDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, DomainSummary{Domain: "shop.example", LatestVersion: 3, Versions: 3, UpdatedAt: now}, domains[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "shop.example", "https://shop.example/p/1", "accepted", "verdict_passed",
			1, 3, 0.857, pgxmock.AnyArg(), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run := &model.Run{
		Domain: "shop.example", URL: "https://shop.example/p/1",
		Status: model.RunStatusAccepted, Reason: "verdict_passed",
		Iterations: 1, PatternVersion: 3, SuccessRate: 0.857,
	}
	require.NoError(t, s.RecordRun(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	cols := []string{"id", "domain", "url", "status", "reason", "iterations", "pattern_version",
		"success_rate", "diagnostics", "error", "created_at"}

	mock.ExpectQuery(`FROM runs WHERE 1=1 AND domain = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("shop.example", "exhausted", 10, 20).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("r-1", "shop.example", "https://shop.example/p/1", "exhausted", "max_iterations_reached",
				3, 0, 0.25, []byte(`["critical field price absent"]`), "", now))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Domain: "shop.example", Status: model.RunStatusExhausted, Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusExhausted, runs[0].Status)
	assert.Equal(t, []string{"critical field price absent"}, runs[0].Diagnostics)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_CreatedAfter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM runs WHERE 1=1 AND created_at >= \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs(cutoff, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "domain", "url", "status", "reason", "iterations",
			"pattern_version", "success_rate", "diagnostics", "error", "created_at"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{CreatedAfter: cutoff})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: uniqueViolation}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}
