package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeRepo struct {
	closed int
}

func (f *fakeRepo) Close()                             { f.closed++ }
func (f *fakeRepo) EnsureSchema(context.Context) error { return nil }
func (f *fakeRepo) RecordRun(context.Context, RunRecord) error {
	return nil
}
func (f *fakeRepo) LastRun(context.Context, string) (RunRecord, bool, error) {
	return RunRecord{}, false, nil
}

func TestNew_UsesRegisteredFactory(t *testing.T) {
	repo := &fakeRepo{}
	var gotDSN string
	Register("fake-ok", func(ctx context.Context, cfg Config) (HistoryRepository, error) {
		gotDSN = cfg.DSN
		return repo, nil
	})

	got, err := New(context.Background(), Config{Kind: "fake-ok", DSN: "mem://x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got != repo {
		t.Fatalf("expected registered repo instance")
	}
	if gotDSN != "mem://x" {
		t.Fatalf("expected DSN passed through, got %q", gotDSN)
	}
}

func TestNew_PropagatesFactoryError(t *testing.T) {
	boom := errors.New("boom")
	Register("fake-err", func(ctx context.Context, cfg Config) (HistoryRepository, error) {
		return nil, boom
	})

	if _, err := New(context.Background(), Config{Kind: "fake-err"}); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestNew_RejectsMissingOrUnknownKind(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage kind=nope") {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (HistoryRepository, error) { return nil, nil }
	Register("fake-dup", f)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("fake-dup", f)
}

func TestRunRecord_ValuesMatchColumns(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	rec := RunRecord{
		ID:        "id-1",
		Job:       "adblock",
		StartedAt: time.Date(2026, 1, 2, 5, 0, 0, 0, loc),
		Status:    StatusOK,
		JSONBytes: 42,
	}
	vals := rec.Values()
	if len(vals) != len(RunColumns) {
		t.Fatalf("values=%d columns=%d", len(vals), len(RunColumns))
	}
	started := vals[2].(time.Time)
	if started.Location() != time.UTC || started.Hour() != 3 {
		t.Fatalf("expected UTC start time, got %v", started)
	}
	if vals[12] != int64(42) {
		t.Fatalf("expected json_bytes=42, got %v", vals[12])
	}
}

func TestRunRecord_Validate(t *testing.T) {
	ok := RunRecord{ID: "x", Job: "j", StartedAt: time.Now(), Status: StatusError}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := RunRecord{Status: "weird"}.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"run id", "job", "started_at", `"weird"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}
