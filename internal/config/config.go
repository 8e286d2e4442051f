// Package config loads and validates the settings of a verification run.
//
// Settings come from three sources, lowest priority first: the built-in
// defaults, an optional YAML file and the command-line flags the user set
// explicitly. The command line applies its flags on top of Load's result
// and calls Validate once everything is merged.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete set of run settings.
type Config struct {
	// Model is the memory model: sc, ra or rc11.
	Model    string `yaml:"model" validate:"oneof=sc ra rc11"`
	Schedule string `yaml:"schedule" validate:"oneof=ltr wf random"`
	Seed     uint64 `yaml:"seed"`
	// Unroll bounds backward jumps per instruction. Zero is unbounded.
	Unroll int `yaml:"unroll" validate:"gte=0"`

	Races       bool `yaml:"races"`
	Symmetry    bool `yaml:"symmetry"`
	LAPOR       bool `yaml:"lapor"`
	Liveness    bool `yaml:"liveness"`
	Persistency bool `yaml:"persistency"`

	Workers   int    `yaml:"workers" validate:"min=1"`
	Dedup     string `yaml:"dedup" validate:"oneof=none memory badger"`
	DedupPath string `yaml:"dedup_path"`

	// MaxLinearExtensions caps the final lock-aware consistency check.
	MaxLinearExtensions int `yaml:"max_linear_extensions" validate:"gte=1"`

	CheckEveryStep bool   `yaml:"check_every_step"`
	PrintGraphs    bool   `yaml:"print_graphs"`
	DOTFile        string `yaml:"dot_file"`
	MetricsFile    string `yaml:"metrics_file"`
	TraceFile      string `yaml:"trace_file"`
	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Model:               "rc11",
		Schedule:            "wf",
		Seed:                1,
		Races:               true,
		Workers:             1,
		Dedup:               "none",
		MaxLinearExtensions: 4096,
		LogLevel:            "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults. Unknown keys are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and the combinations between them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			return &ValidationError{Fields: fields}
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Dedup != "badger" && c.DedupPath != "" {
		return &ValidationError{Message: "dedup_path requires dedup: badger"}
	}
	return nil
}

// ValidationError lists the settings that failed validation.
type ValidationError struct {
	Fields  validator.ValidationErrors
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid config: " + e.Message
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, describe(f))
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e.Fields
}

func describe(f validator.FieldError) string {
	name := yamlName(f.StructField())
	switch f.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", name, f.Param(), f.Value())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s, got %v", name, f.Param(), f.Value())
	}
	return fmt.Sprintf("%s failed %q", name, f.Tag())
}

// yamlName maps a struct field to its key in the config file.
func yamlName(field string) string {
	switch field {
	case "LAPOR":
		return "lapor"
	case "DOTFile":
		return "dot_file"
	}
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
