// Package config loads the stablekit configuration.
//
// A YAML file is parsed with gopkg.in/yaml.v3, overlaid with STABLEKIT_*
// environment variables, then unified with an embedded CUE schema that
// validates every field and fills in defaults. Unknown keys are errors.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables that override file settings.
const (
	EnvStoreBackend = "STABLEKIT_STORE_BACKEND"
	EnvStorePath    = "STABLEKIT_STORE_PATH"
	EnvLogLevel     = "STABLEKIT_LOG_LEVEL"
)

// Region kinds.
const (
	KindLog = "log"
	KindVec = "vec"
	KindMap = "map"
)

// Config is the validated configuration.
type Config struct {
	Store   StoreConfig    `json:"store" yaml:"store"`
	Log     LogConfig      `json:"log" yaml:"log"`
	Tasks   TasksConfig    `json:"tasks" yaml:"tasks"`
	Regions []RegionConfig `json:"regions" yaml:"regions"`
}

// StoreConfig selects the backend.
type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path" yaml:"path"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TasksConfig configures the task store and runtime.
type TasksConfig struct {
	Region         uint8  `json:"region" yaml:"region"`
	ChunkSize      int    `json:"chunk_size" yaml:"chunk_size"`
	StaleAfterSecs uint64 `json:"stale_after_secs" yaml:"stale_after_secs"`
}

// RegionConfig declares a named data structure living in one region.
type RegionConfig struct {
	ID            uint8  `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Kind          string `json:"kind" yaml:"kind"`
	CacheMaxItems int    `json:"cache_max_items" yaml:"cache_max_items"`
	MaxKeySize    int    `json:"max_key_size" yaml:"max_key_size"`
	MaxValueSize  int    `json:"max_value_size" yaml:"max_value_size"`
}

// Region returns the region named name.
func (c *Config) Region(name string) (RegionConfig, bool) {
	for _, r := range c.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return RegionConfig{}, false
}

// ValidationError reports a configuration value the schema rejected.
type ValidationError struct {
	// Field is the dotted path of the offending value, if known.
	Field string

	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid config: %s", e.Message)
}

// Load reads the file at path. An empty path yields the defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = b
	}
	return Parse(data, os.Getenv)
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg, err := Parse(nil, func(string) string { return "" })
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}

// Parse validates YAML data. getenv supplies environment overrides.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	applyEnv(raw, getenv)

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, toValidationError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, toValidationError(err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto the raw document.
func applyEnv(raw map[string]any, getenv func(string) string) {
	set := func(section, key, env string) {
		val := getenv(env)
		if val == "" {
			return
		}
		m, ok := raw[section].(map[string]any)
		if !ok {
			m = map[string]any{}
			raw[section] = m
		}
		m[key] = val
	}
	set("store", "backend", EnvStoreBackend)
	set("store", "path", EnvStorePath)
	set("log", "level", EnvLogLevel)
}

// check enforces the cross-field rules the schema cannot express.
func (c *Config) check() error {
	ids := make(map[uint8]string)
	names := make(map[string]bool)
	for i, r := range c.Regions {
		field := fmt.Sprintf("regions.%d", i)
		if other, ok := ids[r.ID]; ok {
			return &ValidationError{Field: field + ".id", Message: fmt.Sprintf("region %d already used by %q", r.ID, other)}
		}
		if names[r.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate region name %q", r.Name)}
		}
		if r.ID == c.Tasks.Region {
			return &ValidationError{Field: field + ".id", Message: fmt.Sprintf("region %d is reserved for tasks", r.ID)}
		}
		ids[r.ID] = r.Name
		names[r.Name] = true
	}
	return nil
}

// toValidationError keeps the first CUE error with its path.
func toValidationError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &ValidationError{
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
}
