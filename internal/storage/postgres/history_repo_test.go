package postgres

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackszb/sukka-surge/internal/storage"
)

func TestBuildInsertSQL_PlaceholderNumbering(t *testing.T) {
	rec := storage.RunRecord{ID: "r", Job: "adblock", StartedAt: time.Now(), Status: storage.StatusOK}
	sql, args := buildInsertSQL("public.rule_runs", storage.RunColumns, rec.Values())

	if !strings.HasPrefix(sql, `INSERT INTO "public"."rule_runs" ("run_id", "job", "started_at"`) {
		t.Fatalf("unexpected prefix: %s", sql)
	}
	last := len(storage.RunColumns)
	if !strings.HasSuffix(sql, "$"+strconv.Itoa(last)+")") {
		t.Fatalf("expected last placeholder $%d: %s", last, sql)
	}
	if strings.Contains(sql, "$"+strconv.Itoa(last+1)) {
		t.Fatalf("too many placeholders: %s", sql)
	}
	if len(args) != last {
		t.Fatalf("args=%d columns=%d", len(args), last)
	}
}

func TestBuildLastRunSQL(t *testing.T) {
	sql := buildLastRunSQL(storage.RunTable, storage.RunColumns)
	for _, want := range []string{
		`FROM "rule_runs"`,
		"WHERE job = $1",
		"ORDER BY started_at DESC LIMIT 1",
		`"json_sha256"`,
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("missing %q in %s", want, sql)
		}
	}
}

func TestBuildSchemaSQL_IsIdempotentDDL(t *testing.T) {
	stmts := buildSchemaSQL(storage.RunTable)
	if len(stmts) != 2 {
		t.Fatalf("expected table + index, got %d statements", len(stmts))
	}
	if !strings.HasPrefix(stmts[0], `CREATE TABLE IF NOT EXISTS "rule_runs"`) {
		t.Fatalf("unexpected table DDL: %s", stmts[0])
	}
	if !strings.Contains(stmts[0], "started_at TIMESTAMPTZ NOT NULL") {
		t.Fatalf("started_at should be timestamptz: %s", stmts[0])
	}
	for _, col := range storage.RunColumns {
		if !strings.Contains(stmts[0], "\t"+col+" ") {
			t.Fatalf("DDL missing column %s", col)
		}
	}
	if !strings.HasPrefix(stmts[1], "CREATE INDEX IF NOT EXISTS") {
		t.Fatalf("unexpected index DDL: %s", stmts[1])
	}
}

func TestPgIdent_EscapesQuotes(t *testing.T) {
	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("got %s", got)
	}
}
