// Package checker runs one verification: it wires the configuration, the
// memory model, the duplicate store, telemetry and the worker pool around
// the exploration driver.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kolkov/weakcheck/internal/config"
	"github.com/kolkov/weakcheck/internal/dedup"
	"github.com/kolkov/weakcheck/internal/driver"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/model"
	"github.com/kolkov/weakcheck/internal/pool"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/report"
	"github.com/kolkov/weakcheck/internal/telemetry"
)

// ErrNoRecovery is returned when persistency checking is requested for a
// program without a recovery routine.
var ErrNoRecovery = errors.New("persistency checking needs a recovery function")

// progressInterval throttles the progress log of long explorations.
const progressInterval = 5 * time.Second

// Options are the parts of a run that are not settings.
type Options struct {
	// Logger receives diagnostics; nil discards them.
	Logger *slog.Logger
	// Version is recorded in telemetry.
	Version string
	// OnExecution receives every complete execution graph. Calls are
	// serialized across workers.
	OnExecution func(g *graph.Graph)
}

// Result is the outcome of a run.
type Result struct {
	RunID   string
	Summary report.Summary
	Stats   driver.Stats
}

// Run verifies prog under cfg. A found bug is not an error: it is returned
// in Result.Summary.Violation. Errors are invalid settings, I/O failures,
// internal errors and cancellation.
func Run(ctx context.Context, prog *program.Program, cfg config.Config, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Persistency && prog.Recovery == "" {
		return nil, ErrNoRecovery
	}
	policy, err := model.New(cfg.Model)
	if err != nil {
		return nil, err
	}
	schedule, err := driver.ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("run_id", runID)

	kind := dedup.Kind(cfg.Dedup)
	if cfg.Workers > 1 && kind == dedup.KindNone {
		// Workers may reach equivalent executions from different states.
		kind = dedup.KindMemory
		logger.Debug("parallel run, duplicates tracked in memory")
	}
	store, err := dedup.Open(kind, cfg.DedupPath, logger.With("component", "dedup"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("closing dedup store", "err", cerr)
		}
	}()

	tel, err := telemetry.New(telemetry.Config{
		MetricsFile: cfg.MetricsFile,
		TraceFile:   cfg.TraceFile,
		RunID:       runID,
		Version:     opts.Version,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := tel.Close(context.Background()); cerr != nil {
			logger.Warn("closing telemetry", "err", cerr)
		}
	}()

	ctx, span := tel.StartRun(ctx, prog.Name, policy.Name())
	defer span.End()

	r := &run{
		prog:   prog,
		policy: policy,
		log:    logger,
		tel:    tel,
		onExec: opts.OnExecution,
		opts: driver.Options{
			Schedule:            schedule,
			Seed:                cfg.Seed,
			Unroll:              cfg.Unroll,
			Races:               cfg.Races,
			Symmetry:            cfg.Symmetry,
			LAPOR:               cfg.LAPOR,
			Liveness:            cfg.Liveness,
			Persistency:         cfg.Persistency,
			MaxLinearExtensions: cfg.MaxLinearExtensions,
			CheckEveryStep:      cfg.CheckEveryStep,
			PrintGraphs:         cfg.PrintGraphs,
			DOTFile:             cfg.DOTFile,
			Dedup:               store,
			Metrics:             tel,
			ProgressInterval:    progressInterval,
		},
	}
	logger.Info("verification started",
		"program", prog.Name, "model", policy.Name(), "workers", cfg.Workers)

	start := time.Now()
	if cfg.Workers > 1 {
		err = r.parallel(ctx, cfg.Workers)
		if err == nil && r.violation == nil {
			// Cancellation halts the pool without a worker error.
			err = ctx.Err()
		}
	} else {
		err = r.sequential(ctx)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res := &Result{
		RunID: runID,
		Stats: r.stats,
		Summary: report.Summary{
			Model:      policy.Name(),
			Complete:   r.stats.Complete,
			Blocked:    r.stats.Blocked,
			Duplicates: r.stats.Duplicates,
			Elapsed:    time.Since(start),
			Violation:  r.violation,
		},
	}
	logger.Info("verification finished",
		"complete", res.Stats.Complete,
		"blocked", res.Stats.Blocked,
		"duplicates", res.Stats.Duplicates,
		"violation", r.violation != nil,
		"elapsed", res.Summary.Elapsed)
	return res, nil
}

// run is the shared state of the drivers of one verification.
type run struct {
	prog   *program.Program
	policy model.Policy
	opts   driver.Options
	log    *slog.Logger
	tel    *telemetry.Telemetry
	onExec func(g *graph.Graph)

	mu        sync.Mutex
	stats     driver.Stats
	violation *report.Violation
}

func (r *run) driverOptions() driver.Options {
	o := r.opts
	if r.onExec != nil {
		o.OnExecution = func(g *graph.Graph) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.onExec(g)
		}
	}
	return o
}

// finish records the outcome of one driver. It returns the error that
// should stop the run, nil for violations and halts.
func (r *run) finish(stats driver.Stats, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Add(stats)

	var v *report.Violation
	switch {
	case err == nil, errors.Is(err, driver.ErrHalted):
		return nil
	case errors.As(err, &v):
		if r.violation == nil {
			r.violation = v
			r.tel.Violation(v.Kind.Slug())
		}
		return nil
	}
	return err
}

func (r *run) sequential(ctx context.Context) error {
	d := driver.New(r.prog, r.policy, r.driverOptions(), r.log)
	return r.finish(d.Run(ctx))
}

// parallel explores with a pool of workers. The first task is the whole
// exploration; running drivers split pending alternatives off to idle
// workers. A violation halts every worker.
func (r *run) parallel(ctx context.Context, workers int) error {
	p := pool.New[driver.State](workers)
	p.Push(driver.State{})

	return p.Run(ctx, func(ctx context.Context, worker int, st driver.State) error {
		ctx, span := r.tel.StartState(ctx, worker)
		defer span.End()
		r.tel.SubExploration()

		o := r.driverOptions()
		o.Splitter = p
		o.Halted = p.Halted
		d := driver.New(r.prog, r.policy, o, r.log.With("worker", worker))

		var (
			stats driver.Stats
			err   error
		)
		if st.Graph == nil {
			stats, err = d.Run(ctx)
		} else {
			stats, err = d.Resume(ctx, st)
		}
		var v *report.Violation
		if errors.As(err, &v) {
			p.Halt()
		}
		if ferr := r.finish(stats, err); ferr != nil {
			return fmt.Errorf("worker %d: %w", worker, ferr)
		}
		return nil
	})
}
