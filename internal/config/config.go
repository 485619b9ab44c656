// Package config holds the pipeline configuration: which rule lists to merge,
// where outputs go, which compiler to run, and the optional metrics, history
// and publish integrations.
//
// Default() reproduces the stock run with no config file. A YAML or JSON file
// given to Load overrides individual fields.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSources are the upstream rule lists merged by a stock run.
var DefaultSources = []string{
	"https://raw.githubusercontent.com/jackszb/sukka-surge/main/domainset/reject.json",
	"https://raw.githubusercontent.com/jackszb/sukka-surge/main/domainset/reject_extra.json",
	"https://raw.githubusercontent.com/jackszb/sukka-surge/main/domainset/reject_phishing.json",
	"https://raw.githubusercontent.com/jackszb/sukka-surge/main/non_ip/reject-no-drop.json",
	"https://raw.githubusercontent.com/jackszb/sukka-surge/main/ip/reject.json",
	"https://raw.githubusercontent.com/jackszb/sukka-surge/main/non_ip/reject.json",
}

const (
	DefaultJob        = "adblock"
	DefaultJSONOutput = "adblock.json"
	DefaultSRSOutput  = "adblock.srs"
	DefaultCompiler   = "sing-box"
)

// Pipeline is the full run configuration.
type Pipeline struct {
	Job      string   `yaml:"job"`
	WorkDir  string   `yaml:"work_dir"`
	Sources  []string `yaml:"sources"`
	Output   Output   `yaml:"output"`
	Compiler Compiler `yaml:"compiler"`
	Metrics  Metrics  `yaml:"metrics"`
	History  History  `yaml:"history"`
	Publish  Publish  `yaml:"publish"`
}

// Output names the merged document and the compiled artifact. Relative
// paths resolve against WorkDir.
type Output struct {
	JSON string `yaml:"json"`
	SRS  string `yaml:"srs"`
}

type Compiler struct {
	Binary string `yaml:"binary"`
}

type Metrics struct {
	// Backend is "none" or "datadog". Empty means none.
	Backend    string        `yaml:"backend"`
	Tags       []string      `yaml:"tags"`
	FlushEvery time.Duration `yaml:"flush_every"`
}

// History selects a run-history store. Empty Kind disables history.
type History struct {
	Kind string `yaml:"kind"` // "sqlite" | "postgres" | "mssql"
	DSN  string `yaml:"dsn"`
}

// Publish uploads outputs to an S3-compatible bucket after a successful run.
// Credentials are read from the environment, never from the file.
type Publish struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// Default returns the stock configuration.
func Default() Pipeline {
	return Pipeline{
		Job:     DefaultJob,
		WorkDir: ".",
		Sources: append([]string(nil), DefaultSources...),
		Output: Output{
			JSON: DefaultJSONOutput,
			SRS:  DefaultSRSOutput,
		},
		Compiler: Compiler{Binary: DefaultCompiler},
		Metrics:  Metrics{Backend: "none", FlushEvery: time.Minute},
		Publish:  Publish{Region: "us-east-1", UseSSL: true},
	}
}

// Load returns Default() overlaid with the YAML (or JSON) file at path.
// An empty path returns the defaults unchanged.
func Load(path string) (Pipeline, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pipeline{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return p, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv fills environment-provided settings: publish credentials and
// optional overrides for the history DSN and metrics tags.
func ApplyEnv(p *Pipeline, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	p.Publish.AccessKey = firstNonEmpty(strings.TrimSpace(getenv("PUBLISH_S3_ACCESS_KEY")), p.Publish.AccessKey)
	p.Publish.SecretKey = firstNonEmpty(strings.TrimSpace(getenv("PUBLISH_S3_SECRET_KEY")), p.Publish.SecretKey)
	if dsn := strings.TrimSpace(getenv("HISTORY_DSN")); dsn != "" {
		p.History.DSN = dsn
	}
	if dsn := p.History.DSN; dsn != "" {
		p.History.DSN = expandBraced(dsn, getenv)
	}
	for _, tag := range strings.Split(getenv("METRICS_TAGS"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			p.Metrics.Tags = append(p.Metrics.Tags, tag)
		}
	}
}

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandBraced replaces ${VAR} references only. A bare '$' stays literal,
// as DSN passwords often contain one.
func expandBraced(s string, getenv func(string) string) string {
	return bracedVar.ReplaceAllStringFunc(s, func(m string) string {
		return getenv(m[2 : len(m)-1])
	})
}

// JSONPath is the merged document path.
func (p Pipeline) JSONPath() string { return p.resolve(p.Output.JSON) }

// SRSPath is the compiled artifact path.
func (p Pipeline) SRSPath() string { return p.resolve(p.Output.SRS) }

func (p Pipeline) resolve(name string) string {
	if filepath.IsAbs(name) || p.WorkDir == "" || p.WorkDir == "." {
		return name
	}
	return filepath.Join(p.WorkDir, name)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
