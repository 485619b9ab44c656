package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackszb/sukka-surge/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// HistoryRepo implements storage.HistoryRepository for Postgres.
type HistoryRepo struct {
	pool *pgxpool.Pool
}

// New creates a pooled Postgres-backed HistoryRepo.
func New(ctx context.Context, cfg storage.Config) (storage.HistoryRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &HistoryRepo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *HistoryRepo) Close() {
	r.pool.Close()
}

func (r *HistoryRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildSchemaSQL(storage.RunTable) {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure %s: %w", storage.RunTable, err)
		}
	}
	return nil
}

func (r *HistoryRepo) RecordRun(ctx context.Context, rec storage.RunRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("postgres: record run: %w", err)
	}
	sql, args := buildInsertSQL(storage.RunTable, storage.RunColumns, rec.Values())
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", rec.ID, err)
	}
	return nil
}

func (r *HistoryRepo) LastRun(ctx context.Context, job string) (storage.RunRecord, bool, error) {
	var (
		rec               storage.RunRecord
		started, finished time.Time
		sources, before   int64
		after, migrated   int64
		ignored, cats     int64
	)
	err := r.pool.QueryRow(ctx, buildLastRunSQL(storage.RunTable, storage.RunColumns), job).Scan(
		&rec.ID, &rec.Job, &started, &finished, &rec.Status, &rec.Error,
		&sources, &before, &after, &migrated, &ignored, &cats,
		&rec.JSONBytes, &rec.JSONSHA256,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.RunRecord{}, false, nil
	}
	if err != nil {
		return storage.RunRecord{}, false, fmt.Errorf("postgres: last run for %s: %w", job, err)
	}

	rec.StartedAt = started.UTC()
	rec.FinishedAt = finished.UTC()
	rec.Sources = int(sources)
	rec.EntriesBefore = int(before)
	rec.EntriesAfter = int(after)
	rec.KeywordsMigrated = int(migrated)
	rec.KeywordsIgnored = int(ignored)
	rec.Categories = int(cats)
	return rec, true, nil
}

// buildSchemaSQL returns the DDL for the run table and its lookup index.
// It is pure so the statements can be tested without a database.
func buildSchemaSQL(table string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + pgIdent(table) + ` (
	run_id TEXT PRIMARY KEY,
	job TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	sources BIGINT NOT NULL,
	entries_before BIGINT NOT NULL,
	entries_after BIGINT NOT NULL,
	keywords_migrated BIGINT NOT NULL,
	keywords_ignored BIGINT NOT NULL,
	categories BIGINT NOT NULL,
	json_bytes BIGINT NOT NULL,
	json_sha256 TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS ` + pgIdent(table+"_job_started") +
			` ON ` + pgIdent(table) + ` (job, started_at DESC)`,
	}
}

// buildInsertSQL constructs a single-row INSERT with $n placeholders.
//
// Constraints:
//   - values must have the same length as columns.
func buildInsertSQL(table string, columns []string, values []any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(")")
	return b.String(), values
}

func buildLastRunSQL(table string, columns []string) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = pgIdent(c)
	}
	return "SELECT " + strings.Join(cols, ", ") +
		" FROM " + pgIdent(table) +
		" WHERE job = $1 ORDER BY started_at DESC LIMIT 1"
}

// pgIdent quotes a Postgres identifier. Schema-qualified names ("a.b") are
// quoted per part.
func pgIdent(id string) string {
	parts := strings.Split(id, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
