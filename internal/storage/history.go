// Package storage defines the run-history repository and the registry that
// backend packages (sqlite, postgres, mssql) plug into.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config selects and configures a history backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// RunTable is the table every backend records runs into.
const RunTable = "rule_runs"

// Run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// RunRecord is one pipeline execution.
type RunRecord struct {
	ID         string
	Job        string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string

	Sources          int
	EntriesBefore    int
	EntriesAfter     int
	KeywordsMigrated int
	KeywordsIgnored  int
	Categories       int

	JSONBytes  int64
	JSONSHA256 string
}

// RunColumns lists the RunTable columns in insert order. RunRecord.Values
// returns values in the same order.
var RunColumns = []string{
	"run_id",
	"job",
	"started_at",
	"finished_at",
	"status",
	"error",
	"sources",
	"entries_before",
	"entries_after",
	"keywords_migrated",
	"keywords_ignored",
	"categories",
	"json_bytes",
	"json_sha256",
}

// Values returns the record's column values in RunColumns order. Times are
// returned in UTC; backends without a native timestamp type convert them.
func (r RunRecord) Values() []any {
	return []any{
		r.ID,
		r.Job,
		r.StartedAt.UTC(),
		r.FinishedAt.UTC(),
		r.Status,
		r.Error,
		int64(r.Sources),
		int64(r.EntriesBefore),
		int64(r.EntriesAfter),
		int64(r.KeywordsMigrated),
		int64(r.KeywordsIgnored),
		int64(r.Categories),
		r.JSONBytes,
		r.JSONSHA256,
	}
}

// Validate reports records that cannot be stored.
func (r RunRecord) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("missing run id"))
	}
	if r.Job == "" {
		errs = append(errs, errors.New("missing job"))
	}
	if r.StartedAt.IsZero() {
		errs = append(errs, errors.New("missing started_at"))
	}
	if r.Status != StatusOK && r.Status != StatusError {
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	return errors.Join(errs...)
}

// HistoryRepository persists run records.
//
// Each backend implements these semantics in its own dialect. Implementations
// are used from a single goroutine per run.
type HistoryRepository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureSchema creates RunTable if it does not exist. Idempotent.
	EnsureSchema(ctx context.Context) error

	// RecordRun inserts one record.
	RecordRun(ctx context.Context, rec RunRecord) error

	// LastRun returns the most recent record for job by StartedAt.
	// ok is false when the job has no recorded runs.
	LastRun(ctx context.Context, job string) (rec RunRecord, ok bool, err error)
}

type factory func(ctx context.Context, cfg Config) (HistoryRepository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under kind. Call it from a backend package's
// init function.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New constructs a HistoryRepository using the registered backend factory.
//
// Errors:
//   - cfg.Kind is empty or not registered.
//   - whatever the backend factory returns.
func New(ctx context.Context, cfg Config) (HistoryRepository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
