package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jackszb/sukka-surge/internal/storage"
)

// HistoryRepo implements storage.HistoryRepository for SQLite.
//
// SQLite has no native timestamp type, so started_at and finished_at are
// stored as fixed-width RFC3339 TEXT in UTC. Fixed width keeps lexicographic
// order equal to time order, which LastRun relies on.
type HistoryRepo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database named by cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.HistoryRepository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &HistoryRepo{db: db}, nil
}

func (r *HistoryRepo) Close() { _ = r.db.Close() }

func (r *HistoryRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildSchemaSQL() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure %s: %w", storage.RunTable, err)
		}
	}
	return nil
}

func (r *HistoryRepo) RecordRun(ctx context.Context, rec storage.RunRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("sqlite: record run: %w", err)
	}
	args := rec.Values()
	for i, v := range args {
		if t, ok := v.(time.Time); ok {
			args[i] = formatTime(t)
		}
	}
	if _, err := r.db.ExecContext(ctx, buildInsertSQL(), args...); err != nil {
		return fmt.Errorf("sqlite: insert run %s: %w", rec.ID, err)
	}
	return nil
}

func (r *HistoryRepo) LastRun(ctx context.Context, job string) (storage.RunRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, buildLastRunSQL(), job)

	var (
		rec               storage.RunRecord
		started, finished string
		sources, before   int64
		after, migrated   int64
		ignored, cats     int64
	)
	err := row.Scan(
		&rec.ID, &rec.Job, &started, &finished, &rec.Status, &rec.Error,
		&sources, &before, &after, &migrated, &ignored, &cats,
		&rec.JSONBytes, &rec.JSONSHA256,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RunRecord{}, false, nil
	}
	if err != nil {
		return storage.RunRecord{}, false, fmt.Errorf("sqlite: last run for %s: %w", job, err)
	}

	if rec.StartedAt, err = parseTime(started); err != nil {
		return storage.RunRecord{}, false, fmt.Errorf("sqlite: started_at: %w", err)
	}
	if rec.FinishedAt, err = parseTime(finished); err != nil {
		return storage.RunRecord{}, false, fmt.Errorf("sqlite: finished_at: %w", err)
	}
	rec.Sources = int(sources)
	rec.EntriesBefore = int(before)
	rec.EntriesAfter = int(after)
	rec.KeywordsMigrated = int(migrated)
	rec.KeywordsIgnored = int(ignored)
	rec.Categories = int(cats)
	return rec, true, nil
}

func buildSchemaSQL() []string {
	table := sqlIdent(storage.RunTable)
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
	run_id TEXT PRIMARY KEY,
	job TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	sources INTEGER NOT NULL,
	entries_before INTEGER NOT NULL,
	entries_after INTEGER NOT NULL,
	keywords_migrated INTEGER NOT NULL,
	keywords_ignored INTEGER NOT NULL,
	categories INTEGER NOT NULL,
	json_bytes INTEGER NOT NULL,
	json_sha256 TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS ` + sqlIdent(storage.RunTable+"_job_started") +
			` ON ` + table + ` (job, started_at)`,
	}
}

func buildInsertSQL() string {
	cols := make([]string, len(storage.RunColumns))
	marks := make([]string, len(storage.RunColumns))
	for i, c := range storage.RunColumns {
		cols[i] = sqlIdent(c)
		marks[i] = "?"
	}
	return "INSERT INTO " + sqlIdent(storage.RunTable) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
}

func buildLastRunSQL() string {
	cols := make([]string, len(storage.RunColumns))
	for i, c := range storage.RunColumns {
		cols[i] = sqlIdent(c)
	}
	return "SELECT " + strings.Join(cols, ", ") +
		" FROM " + sqlIdent(storage.RunTable) +
		" WHERE job = ? ORDER BY started_at DESC LIMIT 1"
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
