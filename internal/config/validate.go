package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/jackszb/sukka-surge/internal/fetch"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted config path such as
// "sources[2]" or "output.json".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HistoryKinds are the run-history backends this build knows about.
var HistoryKinds = []string{"sqlite", "postgres", "mssql"}

// ValidatePipeline checks p and returns every issue found. The pipeline is
// runnable when no issue has SeverityError.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarning, "job", "empty job name; metrics and history will use %q", DefaultJob)
	}

	if len(p.Sources) == 0 {
		add(SeverityError, "sources", "at least one source URL is required")
	}
	byName := make(map[string]int, len(p.Sources))
	for i, raw := range p.Sources {
		path := fmt.Sprintf("sources[%d]", i)
		u, err := url.Parse(raw)
		if err != nil {
			add(SeverityError, path, "invalid url: %v", err)
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			add(SeverityError, path, "url scheme must be http or https, got %q", u.Scheme)
			continue
		}
		if u.Scheme == "http" {
			add(SeverityWarning, path, "plain http source")
		}
		name, err := fetch.FileName(raw)
		if err != nil {
			add(SeverityError, path, "%v", err)
			continue
		}
		// Sources sharing a file name overwrite each other on disk. Each
		// download is parsed before the next one starts, so that is allowed.
		dl := filepath.Clean(filepath.Join(p.WorkDir, name))
		if _, seen := byName[dl]; !seen {
			byName[dl] = i
		}
	}

	jsonOut := strings.TrimSpace(p.Output.JSON)
	srsOut := strings.TrimSpace(p.Output.SRS)
	if jsonOut == "" {
		add(SeverityError, "output.json", "must be set")
	}
	if srsOut == "" {
		add(SeverityError, "output.srs", "must be set")
	}
	// Compare resolved paths so "./x.json" and "work/x.json" style spellings
	// of the same file are caught.
	jsonPath := filepath.Clean(p.resolve(jsonOut))
	srsPath := filepath.Clean(p.resolve(srsOut))
	if jsonOut != "" && srsOut != "" && jsonPath == srsPath {
		add(SeverityError, "output.srs", "must differ from output.json")
	}
	if i, clash := byName[jsonPath]; clash && jsonOut != "" {
		add(SeverityError, "output.json", "collides with the download of sources[%d]", i)
	}
	if i, clash := byName[srsPath]; clash && srsOut != "" {
		add(SeverityError, "output.srs", "collides with the download of sources[%d]", i)
	}

	if strings.TrimSpace(p.Compiler.Binary) == "" {
		add(SeverityError, "compiler.binary", "must be set")
	}

	switch strings.TrimSpace(p.Metrics.Backend) {
	case "", "none", "datadog":
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want none or datadog)", p.Metrics.Backend)
	}

	if kind := strings.TrimSpace(p.History.Kind); kind != "" {
		known := false
		for _, k := range HistoryKinds {
			known = known || k == kind
		}
		if !known {
			add(SeverityError, "history.kind", "unknown kind %q (want one of %s)", kind, strings.Join(HistoryKinds, ", "))
		}
		if strings.TrimSpace(p.History.DSN) == "" {
			add(SeverityError, "history.dsn", "required when history.kind is set")
		}
	}

	if p.Publish.Enabled {
		if strings.TrimSpace(p.Publish.Endpoint) == "" {
			add(SeverityError, "publish.endpoint", "required when publish is enabled")
		}
		if strings.TrimSpace(p.Publish.Bucket) == "" {
			add(SeverityError, "publish.bucket", "required when publish is enabled")
		}
		if p.Publish.AccessKey == "" || p.Publish.SecretKey == "" {
			add(SeverityError, "publish", "PUBLISH_S3_ACCESS_KEY and PUBLISH_S3_SECRET_KEY must be set")
		}
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
