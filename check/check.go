package check

import (
	"context"
	"time"

	"github.com/kolkov/weakcheck/internal/checker"
	"github.com/kolkov/weakcheck/internal/config"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/report"
)

// Config holds the settings of a verification run. Its fields mirror the
// keys of the YAML configuration file.
type Config = config.Config

// Violation is a bug found by the checker. It implements error.
type Violation = report.Violation

// DefaultConfig returns the built-in settings: the rc11 model, race
// detection on, one worker.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig returns the defaults overlaid with the YAML file at path.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// Summary is the outcome of a verification run.
type Summary struct {
	RunID string
	Model string
	// Complete counts the distinct complete executions explored.
	Complete int
	// Blocked counts executions in which some thread could not proceed.
	Blocked    int
	Duplicates int
	Elapsed    time.Duration
	// Violation is the first bug found, nil if the program is correct.
	Violation *Violation
}

// File verifies the program stored at path.
//
// Errors are reserved for programs that do not parse, invalid settings and
// failures of the checker itself. A bug in the program is reported in
// Summary.Violation.
func File(ctx context.Context, path string, cfg Config) (*Summary, error) {
	prog, err := program.Load(path)
	if err != nil {
		return nil, err
	}
	return verify(ctx, prog, cfg)
}

// Source verifies a program given as YAML text. name is used in
// diagnostics.
//
// Example:
//
//	sum, err := check.Source(ctx, "sb.yaml", src, check.DefaultConfig())
func Source(ctx context.Context, name string, src []byte, cfg Config) (*Summary, error) {
	prog, err := program.Parse(name, src)
	if err != nil {
		return nil, err
	}
	return verify(ctx, prog, cfg)
}

func verify(ctx context.Context, prog *program.Program, cfg Config) (*Summary, error) {
	res, err := checker.Run(ctx, prog, cfg, checker.Options{Version: Version})
	if err != nil {
		return nil, err
	}
	s := res.Summary
	return &Summary{
		RunID:      res.RunID,
		Model:      s.Model,
		Complete:   s.Complete,
		Blocked:    s.Blocked,
		Duplicates: s.Duplicates,
		Elapsed:    s.Elapsed,
		Violation:  s.Violation,
	}, nil
}
