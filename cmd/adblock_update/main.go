package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackszb/sukka-surge/internal/compiler"
	"github.com/jackszb/sukka-surge/internal/config"
	"github.com/jackszb/sukka-surge/internal/fetch"
	"github.com/jackszb/sukka-surge/internal/metrics"
	"github.com/jackszb/sukka-surge/internal/metrics/datadog"
	"github.com/jackszb/sukka-surge/internal/pipeline"
	"github.com/jackszb/sukka-surge/internal/publish"
	"github.com/jackszb/sukka-surge/internal/storage"

	// register all history backends with the storage factory.
	_ "github.com/jackszb/sukka-surge/internal/storage/all"
)

// backendCloser is the minimal interface used by this command to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
//
// When to use:
//   - Unit tests: inject fake factories and capture stdout/stderr.
//   - Alternate runtimes: swap the compiler, metrics backend or output sinks.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string

	HTTPClient       *http.Client
	BackendFactory   func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	HistoryFactory   func(ctx context.Context, cfg storage.Config) (storage.HistoryRepository, error)
	PublisherFactory func(cfg publish.S3Config) (pipeline.Publisher, error)
	CompilerFactory  func(binary string) compiler.Compiler
	Now              func() time.Time
}

// cliOptions holds the parsed flags.
type cliOptions struct {
	ConfigPath     string
	EnvFile        string
	Validate       bool
	Verbose        bool
	MetricsBackend string
}

// main is intentionally small: it wires real dependencies and exits with a code.
func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Getenv:     os.Getenv,
		HTTPClient: http.DefaultClient,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		HistoryFactory: storage.New,
		PublisherFactory: func(cfg publish.S3Config) (pipeline.Publisher, error) {
			return publish.NewS3Publisher(cfg)
		},
		CompilerFactory: func(binary string) compiler.Compiler {
			return compiler.SingBox{Binary: binary}
		},
		Now: time.Now,
	})
	os.Exit(code)
}

// run executes one rule-set update and returns an exit code.
//
// Exit codes:
//   - 0: success (or -validate with a valid config).
//   - 1: the run failed (fetch, parse, write, compile or publish).
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.CompilerFactory == nil {
		d.CompilerFactory = func(binary string) compiler.Compiler { return compiler.SingBox{Binary: binary} }
	}

	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	logger := log.New(d.Stderr, "", log.LstdFlags)

	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	config.ApplyEnv(&cfg, d.Getenv)
	if opts.MetricsBackend != "" {
		cfg.Metrics.Backend = opts.MetricsBackend
	}

	issues := config.ValidatePipeline(cfg)
	for _, iss := range issues {
		fmt.Fprintln(d.Stderr, iss.String())
	}
	if config.HasErrors(issues) {
		logger.Printf("Configuration is invalid: %v", describeConfig(opts.ConfigPath))
		return 2
	}
	if opts.Validate {
		logger.Printf("Configuration is valid: %v", describeConfig(opts.ConfigPath))
		return 0
	}

	jobName := cfg.Job
	if jobName == "" {
		jobName = config.DefaultJob
	}

	switch strings.TrimSpace(cfg.Metrics.Backend) {
	case "datadog":
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := append(append([]string(nil), cfg.Metrics.Tags...), "tool:adblock_update")
		backend, err := d.BackendFactory(ctx, jobName, tags, cfg.Metrics.FlushEvery)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		if opts.Verbose {
			logger.Printf("metrics: backend=datadog job_name=%v flush_every=%v", jobName, cfg.Metrics.FlushEvery)
		}
		metrics.SetBackend(backend)
		defer func() {
			if err := metrics.Flush(); err != nil {
				logger.Printf("metrics: flush error: %v", err)
			}
			_ = backend.Close()
			metrics.SetBackend(nil)
		}()
	default:
		metrics.SetBackend(nil)
	}

	runner := &pipeline.Runner{
		Fetcher:  fetch.New(d.HTTPClient, cfg.WorkDir, jobName),
		Compiler: d.CompilerFactory(cfg.Compiler.Binary),
		Stdout:   d.Stdout,
		Logger:   logger,
		Verbose:  opts.Verbose,
		Now:      d.Now,
	}

	if cfg.History.Kind != "" {
		repo, err := openHistory(ctx, d, cfg.History, jobName, logger, opts.Verbose)
		if err != nil {
			fmt.Fprintf(d.Stderr, "history init failed: %v\n", err)
			return 2
		}
		defer repo.Close()
		runner.History = repo
	}

	if cfg.Publish.Enabled {
		if d.PublisherFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: PublisherFactory is nil")
			return 2
		}
		pub, err := d.PublisherFactory(publish.S3Config{
			Endpoint:  cfg.Publish.Endpoint,
			Region:    cfg.Publish.Region,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Bucket:    cfg.Publish.Bucket,
			Prefix:    cfg.Publish.Prefix,
			UseSSL:    cfg.Publish.UseSSL,
		})
		if err != nil {
			fmt.Fprintf(d.Stderr, "publish init failed: %v\n", err)
			return 2
		}
		runner.Publisher = pub
	}

	sum, err := runner.Run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(d.Stderr, "error: %v\n", err)
		return 1
	}
	if opts.Verbose {
		logger.Printf("run complete: run_id=%s sources=%d entries_before=%d entries_after=%d sha256=%s duration=%v",
			sum.RunID, sum.Sources, sum.EntriesBefore, sum.EntriesAfter, sum.Output.SHA256, sum.FinishedAt.Sub(sum.StartedAt))
	}
	return 0
}

func openHistory(ctx context.Context, d deps, h config.History, job string, logger *log.Logger, verbose bool) (storage.HistoryRepository, error) {
	factory := d.HistoryFactory
	if factory == nil {
		factory = storage.New
	}
	repo, err := factory(ctx, storage.Config{Kind: h.Kind, DSN: h.DSN})
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	if verbose {
		last, ok, err := repo.LastRun(ctx, job)
		switch {
		case err != nil:
			logger.Printf("history: last run lookup failed: %v", err)
		case ok:
			logger.Printf("history: previous run_id=%s status=%s started_at=%s entries_after=%d",
				last.ID, last.Status, last.StartedAt.Format(time.RFC3339), last.EntriesAfter)
		default:
			logger.Printf("history: no previous run for job=%s", job)
		}
	}
	return repo, nil
}

func parseFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("adblock_update", flag.ContinueOnError)

	// Capture help/usage text instead of writing to stdout.
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var opts cliOptions
	fs.StringVar(&opts.ConfigPath, "config", "", "pipeline config YAML/JSON path (empty uses built-in defaults)")
	fs.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with credentials (missing file is ignored)")
	fs.BoolVar(&opts.Validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&opts.Verbose, "v", false, "enable verbose logs")
	fs.StringVar(&opts.MetricsBackend, "metrics-backend", "", "metrics backend override (none, datadog)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cliOptions{}, errors.New(usageBuf.String())
		}
		return cliOptions{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

func describeConfig(path string) string {
	if path == "" {
		return "(built-in defaults)"
	}
	return path
}
