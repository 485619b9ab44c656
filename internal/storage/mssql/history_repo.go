package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackszb/sukka-surge/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// HistoryRepo implements storage.HistoryRepository for Microsoft SQL Server.
//
// This package does not import a driver. The application must register the
// "sqlserver" driver with database/sql (storage/all does).
type HistoryRepo struct {
	db dbConn
}

// New opens a "sqlserver" database/sql handle and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.HistoryRepository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &HistoryRepo{db: raw}, nil
}

// Close releases database resources held by this repository.
func (r *HistoryRepo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureSchema creates the run table and index when missing. SQL Server has
// no CREATE TABLE IF NOT EXISTS, so existence is checked via OBJECT_ID.
func (r *HistoryRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, buildSchemaSQL(storage.RunTable)); err != nil {
		return fmt.Errorf("mssql: ensure %s: %w", storage.RunTable, err)
	}
	return nil
}

func (r *HistoryRepo) RecordRun(ctx context.Context, rec storage.RunRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("mssql: record run: %w", err)
	}
	args := make([]any, 0, len(storage.RunColumns))
	for i, v := range rec.Values() {
		args = append(args, sql.Named(paramName(i), v))
	}
	if _, err := r.db.ExecContext(ctx, buildInsertSQL(storage.RunTable, storage.RunColumns), args...); err != nil {
		return fmt.Errorf("mssql: insert run %s: %w", rec.ID, err)
	}
	return nil
}

func (r *HistoryRepo) LastRun(ctx context.Context, job string) (storage.RunRecord, bool, error) {
	rows, err := r.db.QueryContext(ctx, buildLastRunSQL(storage.RunTable, storage.RunColumns), sql.Named("job", job))
	if err != nil {
		return storage.RunRecord{}, false, fmt.Errorf("mssql: last run for %s: %w", job, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return storage.RunRecord{}, false, fmt.Errorf("mssql: last run for %s: %w", job, err)
		}
		return storage.RunRecord{}, false, nil
	}

	var (
		rec               storage.RunRecord
		started, finished time.Time
		sources, before   int64
		after, migrated   int64
		ignored, cats     int64
	)
	if err := rows.Scan(
		&rec.ID, &rec.Job, &started, &finished, &rec.Status, &rec.Error,
		&sources, &before, &after, &migrated, &ignored, &cats,
		&rec.JSONBytes, &rec.JSONSHA256,
	); err != nil {
		return storage.RunRecord{}, false, fmt.Errorf("mssql: scan last run: %w", err)
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

func buildSchemaSQL(table string) string {
	t := mssqlTableIdent(table)
	quoted := strings.ReplaceAll(table, "'", "''")
	return `IF OBJECT_ID(N'` + quoted + `', N'U') IS NULL
BEGIN
	CREATE TABLE ` + t + ` (
	run_id NVARCHAR(64) NOT NULL PRIMARY KEY,
	job NVARCHAR(128) NOT NULL,
	started_at DATETIME2 NOT NULL,
	finished_at DATETIME2 NOT NULL,
	status NVARCHAR(16) NOT NULL,
	error NVARCHAR(MAX) NOT NULL DEFAULT N'',
	sources BIGINT NOT NULL,
	entries_before BIGINT NOT NULL,
	entries_after BIGINT NOT NULL,
	keywords_migrated BIGINT NOT NULL,
	keywords_ignored BIGINT NOT NULL,
	categories BIGINT NOT NULL,
	json_bytes BIGINT NOT NULL,
	json_sha256 NVARCHAR(64) NOT NULL DEFAULT N''
	);
	CREATE INDEX ` + mssqlIdent(lastPart(table)+"_job_started") + ` ON ` + t + ` (job, started_at DESC);
END`
}

// buildInsertSQL uses named parameters @p0..@pN matching paramName.
func buildInsertSQL(table string, columns []string) string {
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = mssqlIdent(c)
		params[i] = "@" + paramName(i)
	}
	return "INSERT INTO " + mssqlTableIdent(table) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(params, ", ") + ")"
}

func buildLastRunSQL(table string, columns []string) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = mssqlIdent(c)
	}
	return "SELECT TOP (1) " + strings.Join(cols, ", ") +
		" FROM " + mssqlTableIdent(table) +
		" WHERE [job] = @job ORDER BY [started_at] DESC"
}

func paramName(i int) string { return fmt.Sprintf("p%d", i) }

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent bracket-quotes each part of a schema-qualified name.
//
// Example:
//
//	dbo.rule_runs -> [dbo].[rule_runs]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = mssqlIdent(p)
	}
	return strings.Join(parts, ".")
}

func lastPart(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// dbConn is the subset of *sql.DB this package uses. Tests substitute it.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

var _ dbConn = (*sql.DB)(nil)
