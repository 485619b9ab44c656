// Package pipeline runs one rule-set update end to end: clean old outputs,
// fetch and merge every source, write the merged document, compile it, then
// optionally publish the artifacts and record the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jackszb/sukka-surge/internal/compiler"
	"github.com/jackszb/sukka-surge/internal/config"
	"github.com/jackszb/sukka-surge/internal/fetch"
	"github.com/jackszb/sukka-surge/internal/metrics"
	"github.com/jackszb/sukka-surge/internal/publish"
	"github.com/jackszb/sukka-surge/internal/rules"
	"github.com/jackszb/sukka-surge/internal/safefile"
	"github.com/jackszb/sukka-surge/internal/storage"
)

// Step names used in metrics and error messages.
const (
	StepClean    = "clean"
	StepFetch    = "fetch"
	StepParse    = "parse"
	StepFinalize = "finalize"
	StepWrite    = "write"
	StepCompile  = "compile"
	StepPublish  = "publish"
	StepHistory  = "history"
)

// Fetcher downloads one source URL to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Download, error)
}

// Publisher uploads finished artifacts.
type Publisher interface {
	Publish(ctx context.Context, runID string, files ...string) ([]publish.Object, error)
}

// StepError names the step a run failed in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Runner holds the collaborators of a run. Fetcher and Compiler are required;
// Publisher and History are skipped when nil.
type Runner struct {
	Fetcher   Fetcher
	Compiler  compiler.Compiler
	Publisher Publisher
	History   storage.HistoryRepository

	// Stdout receives the progress lines. Nil discards them.
	Stdout io.Writer
	// Logger receives diagnostics. Nil discards them.
	Logger  *log.Logger
	Verbose bool

	Now      func() time.Time
	NewRunID func() string
}

// Summary describes a finished (or failed) run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Sources       int
	Downloads     []fetch.Download
	EntriesBefore int
	EntriesAfter  int
	Skipped       int
	Keywords      rules.KeywordStats
	Categories    []string

	Output    rules.Written
	SRSPath   string
	Published []publish.Object
}

// Run executes the pipeline for cfg. The first failure aborts the run and is
// returned as a *StepError; the Summary holds whatever was done before it.
//
// History, when configured, is recorded for failed runs too. A history
// failure is logged and does not fail an otherwise successful run.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (sum Summary, err error) {
	if r.Fetcher == nil || r.Compiler == nil {
		return Summary{}, errors.New("pipeline: Fetcher and Compiler are required")
	}
	out := r.Stdout
	if out == nil {
		out = io.Discard
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	newID := r.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := r.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	sum.RunID = newID()
	sum.StartedAt = now()
	sum.Sources = len(cfg.Sources)

	defer func() {
		sum.FinishedAt = now()
		if r.History != nil {
			herr := r.step(now, StepHistory, func() error {
				return r.History.RecordRun(ctx, record(cfg.Job, sum, err))
			})
			if herr != nil {
				logger.Printf("level=warn msg=%q run_id=%s err=%q", "record run history failed", sum.RunID, herr)
			}
		}
	}()

	jsonPath, srsPath := cfg.JSONPath(), cfg.SRSPath()
	sum.SRSPath = srsPath

	if err = r.step(now, StepClean, func() error {
		if cfg.WorkDir != "" {
			if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
				return err
			}
		}
		for _, p := range []string{jsonPath, srsPath} {
			removed, err := safefile.RemoveIfExists(p)
			if err != nil {
				return err
			}
			if removed && r.Verbose {
				logger.Printf("level=debug msg=%q path=%s", "removed previous output", p)
			}
		}
		return nil
	}); err != nil {
		return sum, &StepError{Step: StepClean, Err: err}
	}

	m := rules.NewMerger()
	for _, src := range cfg.Sources {
		fmt.Fprintf(out, "Downloading %s\n", src)

		var d fetch.Download
		if err = r.step(now, StepFetch, func() error {
			var ferr error
			d, ferr = r.Fetcher.Fetch(ctx, src)
			return ferr
		}); err != nil {
			return sum, &StepError{Step: StepFetch, Err: err}
		}
		sum.Downloads = append(sum.Downloads, d)

		if err = r.step(now, StepParse, func() error {
			doc, perr := parseFile(d.Path)
			if perr != nil {
				return perr
			}
			n := m.Add(doc)
			if r.Verbose {
				logger.Printf("level=debug msg=%q url=%s path=%s bytes=%d rules=%d entries=%d skipped=%d",
					"merged source", src, d.Path, d.Bytes, len(doc.Rules), n, doc.Skipped)
			}
			return nil
		}); err != nil {
			return sum, &StepError{Step: StepParse, Err: fmt.Errorf("%s: %w", src, err)}
		}
	}

	finStart := now()
	final, kw := m.Finalize()
	metrics.RecordStep(StepFinalize, nil, now().Sub(finStart))
	sum.Keywords = kw
	sum.EntriesBefore = m.EntriesBefore()
	sum.EntriesAfter = final.Entries()
	sum.Skipped = m.Skipped()
	sum.Categories = final.Categories()

	if sum.Keywords.Processed {
		fmt.Fprintf(out, "domain_keyword processed: migrated %d, ignored %d\n", sum.Keywords.Migrated, sum.Keywords.Ignored)
	}
	if sum.Skipped > 0 {
		logger.Printf("level=warn msg=%q count=%d", "skipped non-object rule entries", sum.Skipped)
	}

	if err = r.step(now, StepWrite, func() error {
		var werr error
		sum.Output, werr = rules.WriteFinal(jsonPath, final)
		return werr
	}); err != nil {
		return sum, &StepError{Step: StepWrite, Err: err}
	}

	fmt.Fprintf(out, "Merged %d files\n", len(cfg.Sources))
	fmt.Fprintf(out, "Entries before dedup: %d\n", sum.EntriesBefore)
	fmt.Fprintf(out, "Entries after dedup: %d\n", sum.EntriesAfter)
	fmt.Fprintf(out, "Saved %s\n", jsonPath)

	metrics.RecordEntries("before_dedup", sum.EntriesBefore)
	metrics.RecordEntries("after_dedup", sum.EntriesAfter)
	metrics.RecordEntries("keyword_migrated", sum.Keywords.Migrated)
	metrics.RecordEntries("keyword_ignored", sum.Keywords.Ignored)
	metrics.RecordEntries("skipped", sum.Skipped)

	fmt.Fprintf(out, "Compiling %s -> %s\n", jsonPath, srsPath)
	if err = r.step(now, StepCompile, func() error {
		return r.Compiler.Compile(ctx, jsonPath, srsPath)
	}); err != nil {
		return sum, &StepError{Step: StepCompile, Err: err}
	}

	if r.Publisher != nil {
		if err = r.step(now, StepPublish, func() error {
			var perr error
			sum.Published, perr = r.Publisher.Publish(ctx, sum.RunID, jsonPath, srsPath)
			return perr
		}); err != nil {
			return sum, &StepError{Step: StepPublish, Err: err}
		}
		if r.Verbose {
			for _, o := range sum.Published {
				logger.Printf("level=debug msg=%q key=%s size=%d", "published", o.Key, o.Size)
			}
		}
	}

	return sum, nil
}

func (r *Runner) step(now func() time.Time, name string, fn func() error) error {
	start := now()
	err := fn()
	metrics.RecordStep(name, err, now().Sub(start))
	return err
}

func parseFile(path string) (rules.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return rules.Document{}, err
	}
	defer f.Close()
	return rules.ParseDocument(f)
}

func record(job string, sum Summary, runErr error) storage.RunRecord {
	if job == "" {
		job = config.DefaultJob
	}
	rec := storage.RunRecord{
		ID:               sum.RunID,
		Job:              job,
		StartedAt:        sum.StartedAt,
		FinishedAt:       sum.FinishedAt,
		Status:           storage.StatusOK,
		Sources:          sum.Sources,
		EntriesBefore:    sum.EntriesBefore,
		EntriesAfter:     sum.EntriesAfter,
		KeywordsMigrated: sum.Keywords.Migrated,
		KeywordsIgnored:  sum.Keywords.Ignored,
		Categories:       len(sum.Categories),
		JSONBytes:        sum.Output.Bytes,
		JSONSHA256:       sum.Output.SHA256,
	}
	if runErr != nil {
		rec.Status = storage.StatusError
		rec.Error = runErr.Error()
	}
	return rec
}
