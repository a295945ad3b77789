package model

import (
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const ServiceModeManual = "manual"

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Config carries both json and yaml tags: LoadConfig decodes the CUE
// unified value via json, the CLI writes the generated default config
// with yaml.v3. The optional pointers need omitempty on the yaml side
// too, a literal `reaper: null` does not unify with the schema.
type Config struct {
	Version   int                       `json:"version" yaml:"version"` // fixed 0 for now
	Store     Store                     `json:"store" yaml:"store"`
	Service   Service                   `json:"service" yaml:"service"`
	Analyzers map[string]AnalyzerConfig `json:"analyzers,omitempty" yaml:"analyzers,omitempty"`
}

// Store holds the job store settings.
type Store struct {
	Path string `json:"path" yaml:"path"`
}

// Service (only manual mode supported now).
type Service struct {
	Mode    string        `json:"mode" yaml:"mode"` // must be "manual"
	Verbose bool          `json:"verbose" yaml:"verbose"`
	Reaper  *ReaperConfig `json:"reaper,omitempty" yaml:"reaper,omitempty"`
}

// ReaperConfig drives the stale job sweep. Schedule is either a 5 field
// cron expression or a Go duration string.
type ReaperConfig struct {
	Schedule string `json:"schedule" yaml:"schedule"`
	MaxAge   string `json:"max_age" yaml:"max_age"`
}

// AnalyzerConfig is a per-analyzer configuration block keyed by the
// analyzer name in Config.Analyzers.
type AnalyzerConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Worker  *WorkerConfig  `json:"worker,omitempty" yaml:"worker,omitempty"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// WorkerConfig describes an external worker the analyzer delegates to
// and the polling budget for obtaining its results.
type WorkerConfig struct {
	URL          string `json:"url" yaml:"url"`
	MaxTries     int    `json:"max_tries" yaml:"max_tries"`
	PollDistance int    `json:"poll_distance" yaml:"poll_distance"` // seconds between tries
}

// PollInterval returns PollDistance as a time.Duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollDistance) * time.Second
}

// Param returns a string param or a fallback when missing or not a string.
func (a AnalyzerConfig) Param(name, fallback string) string {
	if v, ok := a.Params[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig returns a configuration used when no config file exists:
// a local store and the built-in analyzers enabled.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Store:   Store{Path: "strix.db"},
		Service: Service{Mode: ServiceModeManual},
		Analyzers: map[string]AnalyzerConfig{
			"fortiguard": {Enabled: true},
		},
	}
}
