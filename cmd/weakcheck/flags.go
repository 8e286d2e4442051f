package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kolkov/weakcheck/internal/config"
)

// settings holds the flag values shared by run and graph.
type settings struct {
	configFile string
	flags      config.Config
}

// flagSetters copy one explicitly set flag into the merged config.
var flagSetters = map[string]func(dst *config.Config, src config.Config){
	"model":                 func(d *config.Config, s config.Config) { d.Model = s.Model },
	"schedule":              func(d *config.Config, s config.Config) { d.Schedule = s.Schedule },
	"seed":                  func(d *config.Config, s config.Config) { d.Seed = s.Seed },
	"unroll":                func(d *config.Config, s config.Config) { d.Unroll = s.Unroll },
	"races":                 func(d *config.Config, s config.Config) { d.Races = s.Races },
	"symmetry":              func(d *config.Config, s config.Config) { d.Symmetry = s.Symmetry },
	"lapor":                 func(d *config.Config, s config.Config) { d.LAPOR = s.LAPOR },
	"liveness":              func(d *config.Config, s config.Config) { d.Liveness = s.Liveness },
	"persistency":           func(d *config.Config, s config.Config) { d.Persistency = s.Persistency },
	"workers":               func(d *config.Config, s config.Config) { d.Workers = s.Workers },
	"dedup":                 func(d *config.Config, s config.Config) { d.Dedup = s.Dedup },
	"dedup-path":            func(d *config.Config, s config.Config) { d.DedupPath = s.DedupPath },
	"max-linear-extensions": func(d *config.Config, s config.Config) { d.MaxLinearExtensions = s.MaxLinearExtensions },
	"check-every-step":      func(d *config.Config, s config.Config) { d.CheckEveryStep = s.CheckEveryStep },
	"print-graphs":          func(d *config.Config, s config.Config) { d.PrintGraphs = s.PrintGraphs },
	"dot-file":              func(d *config.Config, s config.Config) { d.DOTFile = s.DOTFile },
	"metrics-file":          func(d *config.Config, s config.Config) { d.MetricsFile = s.MetricsFile },
	"trace-file":            func(d *config.Config, s config.Config) { d.TraceFile = s.TraceFile },
	"log-level":             func(d *config.Config, s config.Config) { d.LogLevel = s.LogLevel },
}

// register binds the settings flags to cmd. Defaults shown in the help
// are the built-in ones; a config file may change them.
func (s *settings) register(cmd *cobra.Command) {
	def := config.Default()
	f := cmd.Flags()
	f.StringVar(&s.configFile, "config", "", "YAML configuration file")
	f.StringVarP(&s.flags.Model, "model", "m", def.Model, "memory model: sc, ra or rc11")
	f.StringVar(&s.flags.Schedule, "schedule", def.Schedule, "thread selection: ltr, wf or random")
	f.Uint64Var(&s.flags.Seed, "seed", def.Seed, "seed of the random schedule")
	f.IntVar(&s.flags.Unroll, "unroll", def.Unroll, "bound on backward jumps per instruction (0 = unbounded)")
	f.BoolVar(&s.flags.Races, "races", def.Races, "report data races")
	f.BoolVar(&s.flags.Symmetry, "symmetry", def.Symmetry, "reduce symmetric threads")
	f.BoolVar(&s.flags.LAPOR, "lapor", def.LAPOR, "lock-aware exploration of critical sections")
	f.BoolVar(&s.flags.Liveness, "liveness", def.Liveness, "report spin loops that never terminate")
	f.BoolVar(&s.flags.Persistency, "persistency", def.Persistency, "run the recovery routine after a crash")
	f.IntVarP(&s.flags.Workers, "workers", "j", def.Workers, "number of exploration workers")
	f.StringVar(&s.flags.Dedup, "dedup", def.Dedup, "duplicate store: none, memory or badger")
	f.StringVar(&s.flags.DedupPath, "dedup-path", def.DedupPath, "directory of the badger duplicate store (empty = in memory)")
	f.IntVar(&s.flags.MaxLinearExtensions, "max-linear-extensions", def.MaxLinearExtensions, "cutoff of the final lock-aware consistency check")
	f.BoolVar(&s.flags.CheckEveryStep, "check-every-step", def.CheckEveryStep, "validate graph invariants after every step")
	f.BoolVar(&s.flags.PrintGraphs, "print-graphs", def.PrintGraphs, "print the graph of a violating execution")
	f.StringVar(&s.flags.DOTFile, "dot-file", def.DOTFile, "write the graph of a violating execution in DOT format")
	f.StringVar(&s.flags.MetricsFile, "metrics-file", def.MetricsFile, "write exploration counters in Prometheus text format")
	f.StringVar(&s.flags.TraceFile, "trace-file", def.TraceFile, "write OpenTelemetry spans as JSON")
	f.StringVar(&s.flags.LogLevel, "log-level", def.LogLevel, "log level: debug, info, warn or error")
}

// resolve merges defaults, the config file and the explicitly set flags,
// validates the result and builds the logger.
func (s *settings) resolve(cmd *cobra.Command, stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(s.configFile)
	if err != nil {
		return cfg, nil, err
	}
	for name, set := range flagSetters {
		if cmd.Flags().Changed(name) {
			set(&cfg, s.flags)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	return cfg, logger, nil
}
