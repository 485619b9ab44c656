package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	p := Default()
	assert.Empty(t, ValidatePipeline(p))
	assert.Len(t, p.Sources, 6)
	assert.Equal(t, "adblock.json", p.JSONPath())
	assert.Equal(t, "adblock.srs", p.SRSPath())
	assert.Equal(t, "sing-box", p.Compiler.Binary)
}

func TestDefault_ReturnsIndependentSources(t *testing.T) {
	t.Parallel()

	p := Default()
	p.Sources[0] = "mutated"
	assert.NotEqual(t, "mutated", DefaultSources[0])
}

func TestValidatePipeline_SharedFileNamesAllowed(t *testing.T) {
	t.Parallel()

	p := Default()
	p.Sources = []string{"https://example.com/ip/reject.json", "https://example.com/non_ip/reject.json"}
	assert.Empty(t, ValidatePipeline(p))
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "pipeline.yaml", `
job: nightly
work_dir: /var/lib/rules
sources:
  - https://example.com/a/reject.json
output:
  srs: out/block.srs
metrics:
  backend: datadog
  flush_every: 30s
history:
  kind: sqlite
  dsn: file:history.db
`)

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nightly", p.Job)
	assert.Equal(t, []string{"https://example.com/a/reject.json"}, p.Sources)
	assert.Equal(t, filepath.Join("/var/lib/rules", "adblock.json"), p.JSONPath())
	assert.Equal(t, filepath.Join("/var/lib/rules", "out/block.srs"), p.SRSPath())
	assert.Equal(t, "sing-box", p.Compiler.Binary, "unset fields keep defaults")
	assert.Equal(t, 30*time.Second, p.Metrics.FlushEvery)
	assert.Equal(t, "sqlite", p.History.Kind)
}

func TestLoad_JSONIsAccepted(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "pipeline.json", `{"job": "from-json", "output": {"json": "merged.json"}}`)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-json", p.Job)
	assert.Equal(t, "merged.json", p.Output.JSON)
	assert.Len(t, p.Sources, len(DefaultSources))
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")

	_, err = Load(writeFile(t, "bad.yaml", "sources: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(""))
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))

	t.Setenv("SUKKA_TEST_PRESET", "kept")
	path := writeFile(t, ".env", "SUKKA_TEST_NEW=loaded\nSUKKA_TEST_PRESET=overridden\n")
	t.Cleanup(func() { _ = os.Unsetenv("SUKKA_TEST_NEW") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("SUKKA_TEST_NEW"))
	assert.Equal(t, "kept", os.Getenv("SUKKA_TEST_PRESET"))
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"PUBLISH_S3_ACCESS_KEY": "AKIA",
		"PUBLISH_S3_SECRET_KEY": " secret ",
		"PG_PASSWORD":           "hunter2",
		"METRICS_TAGS":          "env:prod, ,team:net",
	}
	p := Default()
	p.History.DSN = "postgres://rules:${PG_PASSWORD}@db/rules"
	ApplyEnv(&p, func(k string) string { return env[k] })

	assert.Equal(t, "AKIA", p.Publish.AccessKey)
	assert.Equal(t, "secret", p.Publish.SecretKey)
	assert.Equal(t, "postgres://rules:hunter2@db/rules", p.History.DSN)
	assert.Equal(t, []string{"env:prod", "team:net"}, p.Metrics.Tags)
}

func TestApplyEnv_BareDollarInDSNIsLiteral(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"HISTORY_DSN": "sqlserver://rules:pa$$w0rd@db?database=${DB_NAME}&x=$HOME",
		"DB_NAME":     "rules",
		"HOME":        "/root",
	}
	p := Default()
	ApplyEnv(&p, func(k string) string { return env[k] })

	assert.Equal(t, "sqlserver://rules:pa$$w0rd@db?database=rules&x=$HOME", p.History.DSN)
}

func TestValidatePipeline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(p *Pipeline)
		wantPath string
		wantSev  Severity
	}{
		{
			name:     "no_sources",
			mutate:   func(p *Pipeline) { p.Sources = nil },
			wantPath: "sources",
			wantSev:  SeverityError,
		},
		{
			name:     "bad_scheme",
			mutate:   func(p *Pipeline) { p.Sources = []string{"ftp://example.com/a.json"} },
			wantPath: "sources[0]",
			wantSev:  SeverityError,
		},
		{
			name:     "plain_http_warns",
			mutate:   func(p *Pipeline) { p.Sources = []string{"http://example.com/a.json"} },
			wantPath: "sources[0]",
			wantSev:  SeverityWarning,
		},
		{
			name:     "no_file_name",
			mutate:   func(p *Pipeline) { p.Sources = []string{"https://example.com/dir/"} },
			wantPath: "sources[0]",
			wantSev:  SeverityError,
		},
		{
			name:     "output_collides_with_download",
			mutate:   func(p *Pipeline) { p.Output.JSON = "reject.json" },
			wantPath: "output.json",
			wantSev:  SeverityError,
		},
		{
			name:     "dotted_output_collides_with_download",
			mutate:   func(p *Pipeline) { p.Output.JSON = "./reject.json" },
			wantPath: "output.json",
			wantSev:  SeverityError,
		},
		{
			name: "absolute_output_inside_work_dir_collides",
			mutate: func(p *Pipeline) {
				p.WorkDir = "/srv/rules"
				p.Output.SRS = "/srv/rules/reject.json"
			},
			wantPath: "output.srs",
			wantSev:  SeverityError,
		},
		{
			name:     "same_outputs_spelled_differently",
			mutate:   func(p *Pipeline) { p.Output.SRS = "./" + p.Output.JSON },
			wantPath: "output.srs",
			wantSev:  SeverityError,
		},
		{
			name:     "same_outputs",
			mutate:   func(p *Pipeline) { p.Output.SRS = p.Output.JSON },
			wantPath: "output.srs",
			wantSev:  SeverityError,
		},
		{
			name:     "missing_compiler",
			mutate:   func(p *Pipeline) { p.Compiler.Binary = " " },
			wantPath: "compiler.binary",
			wantSev:  SeverityError,
		},
		{
			name:     "unknown_metrics_backend",
			mutate:   func(p *Pipeline) { p.Metrics.Backend = "statsd" },
			wantPath: "metrics.backend",
			wantSev:  SeverityError,
		},
		{
			name:     "unknown_history_kind",
			mutate:   func(p *Pipeline) { p.History = History{Kind: "mongo", DSN: "x"} },
			wantPath: "history.kind",
			wantSev:  SeverityError,
		},
		{
			name:     "history_without_dsn",
			mutate:   func(p *Pipeline) { p.History = History{Kind: "sqlite"} },
			wantPath: "history.dsn",
			wantSev:  SeverityError,
		},
		{
			name: "publish_without_credentials",
			mutate: func(p *Pipeline) {
				p.Publish.Enabled = true
				p.Publish.Endpoint = "s3.local:9000"
				p.Publish.Bucket = "rules"
			},
			wantPath: "publish",
			wantSev:  SeverityError,
		},
		{
			name:     "empty_job_warns",
			mutate:   func(p *Pipeline) { p.Job = "" },
			wantPath: "job",
			wantSev:  SeverityWarning,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := Default()
			tc.mutate(&p)
			issues := ValidatePipeline(p)

			require.NotEmpty(t, issues)
			var found bool
			for _, iss := range issues {
				if iss.Path == tc.wantPath && iss.Severity == tc.wantSev {
					found = true
				}
			}
			assert.True(t, found, "issues=%v", issues)
			assert.Equal(t, tc.wantSev == SeverityError, HasErrors(issues))
		})
	}
}
