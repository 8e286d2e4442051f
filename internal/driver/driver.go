package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kolkov/weakcheck/internal/dedup"
	"github.com/kolkov/weakcheck/internal/detector"
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/executor"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/model"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/report"
)

// ErrHalted is returned when an exploration stops because another worker
// found a violation.
var ErrHalted = errors.New("exploration halted")

// DefaultMaxLinearExtensions bounds the final exhaustive consistency check.
const DefaultMaxLinearExtensions = 4096

// Options configure a Driver.
type Options struct {
	Schedule Schedule
	Seed     uint64
	// Unroll bounds backward jumps per instruction; zero is unbounded.
	Unroll int

	Races       bool
	Symmetry    bool
	LAPOR       bool
	Liveness    bool
	Persistency bool

	// MaxLinearExtensions caps the critical-section orders tried by the
	// final consistency check. Zero selects DefaultMaxLinearExtensions.
	MaxLinearExtensions int

	// CheckEveryStep validates graph invariants after every step.
	CheckEveryStep bool
	// PrintGraphs attaches the rendered graph to violations.
	PrintGraphs bool
	// DOTFile, when set, receives the graph of a violating execution.
	DOTFile string

	// Dedup rejects complete executions whose rendering was seen before.
	Dedup dedup.Store
	// Metrics receives exploration counters; may be nil.
	Metrics Metrics
	// OnExecution is called with the graph of every complete, consistent,
	// non-duplicate execution. The graph must not be retained.
	OnExecution func(g *graph.Graph)
	// Splitter receives pending alternatives when workers are idle.
	Splitter Splitter
	// Halted is polled between executions; when it returns true the
	// exploration stops with ErrHalted.
	Halted func() bool
	// ProgressInterval throttles progress logging. Zero disables it.
	ProgressInterval time.Duration
}

// Metrics receives exploration events.
type Metrics interface {
	// Execution counts a finished execution by outcome: complete, blocked,
	// duplicate or discarded.
	Execution(outcome string)
	// Revisit counts an applied work item by kind.
	Revisit(kind string)
}

// Splitter accepts sub-explorations. pool.Pool[State] implements it.
type Splitter interface {
	Idle() bool
	Push(State)
}

// Stats are the exploration counters.
//
// Every finished execution is counted once: as complete, as blocked, as a
// duplicate of an earlier complete one, or as discarded. Discarded
// executions turned out inconsistent at their end, or were abandoned
// because a pending revisit builds the same graph. They are not program
// behaviors, so Complete+Blocked can be lower than the number of runs.
type Stats struct {
	Complete   int
	Blocked    int
	Duplicates int
	// Discarded counts executions dropped as inconsistent or wasted.
	Discarded int
	Revisits  int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Complete += o.Complete
	s.Blocked += o.Blocked
	s.Duplicates += o.Duplicates
	s.Discarded += o.Discarded
	s.Revisits += o.Revisits
}

// Driver explores the executions of one program under one memory model.
type Driver struct {
	prog   *program.Program
	policy model.Policy
	opts   Options
	log    *slog.Logger

	g        *graph.Graph
	x        *executor.Executor
	det      *detector.Detector
	work     *Worklist
	revisits *RevisitSet
	sched    *scheduler

	// prios are threads that must run before the policy is consulted.
	prios    []int
	joinWait map[int]int
	lockWait map[int]event.Addr
	// recovery is the id of the recovery thread, or -1.
	recovery int

	running   bool
	moot      bool
	violation *report.Violation
	stats     Stats
	progress  rate.Sometimes
}

// New creates a driver for prog under policy.
func New(prog *program.Program, policy model.Policy, opts Options, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.LAPOR && opts.Races {
		// Critical sections have no order while the graph is built, so
		// accesses inside them would be reported as racing.
		logger.Warn("race detection is not available in lock-aware mode")
		opts.Races = false
	}
	if opts.MaxLinearExtensions <= 0 {
		opts.MaxLinearExtensions = DefaultMaxLinearExtensions
	}
	d := &Driver{
		prog:     prog,
		policy:   policy,
		opts:     opts,
		log:      logger.With("model", policy.Name()),
		x:        executor.New(prog, opts.Unroll),
		det:      detector.New(opts.Races),
		work:     NewWorklist(),
		revisits: NewRevisitSet(),
		sched:    newScheduler(opts.Schedule, opts.Seed),
		recovery: -1,
		progress: rate.Sometimes{Interval: opts.ProgressInterval},
	}
	return d
}

// Graph returns the current execution graph.
func (d *Driver) Graph() *graph.Graph {
	return d.g
}

// Stats returns the counters accumulated so far.
func (d *Driver) Stats() Stats {
	return d.stats
}

// Run explores every execution of the program from scratch.
//
// It returns the accumulated counters and a *report.Violation when a bug
// was found, an *InternalError on a tool defect, ErrHalted when stopped by
// the Halted hook, or the context error on cancellation.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	d.g = graph.New(d.prog.Inits(), d.policy)
	d.g.SetNames(d.prog.Names())
	d.work = NewWorklist()
	d.revisits = NewRevisitSet()
	err := d.explore(ctx, true)
	return d.stats, err
}

// Resume explores the subtree of a split-off state.
func (d *Driver) Resume(ctx context.Context, st State) (Stats, error) {
	d.g = st.Graph
	d.work = NewWorklist()
	d.revisits = st.Revisits
	if d.revisits == nil {
		d.revisits = NewRevisitSet()
	}
	ok, err := d.apply(st.Item)
	if err == nil && d.violation != nil {
		err = d.violation
	}
	if err != nil {
		return d.stats, err
	}
	err = d.explore(ctx, ok)
	return d.stats, err
}

// explore alternates between running an execution and applying the next
// pending alternative until none is left. When run is false the current
// graph is not worth running and exploration starts with the next item.
func (d *Driver) explore(ctx context.Context, run bool) error {
	for {
		if run {
			if err := d.runExecution(); err != nil {
				return err
			}
			if d.violation != nil {
				return d.violation
			}
		}
		more, err := d.nextState(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		run = true
	}
}

// nextState pops work items until one yields a consistent graph. It
// reports false when the worklist is exhausted.
func (d *Driver) nextState(ctx context.Context) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if d.opts.Halted != nil && d.opts.Halted() {
			return false, ErrHalted
		}
		d.split()
		it, _, ok := d.work.Next()
		if !ok {
			return false, nil
		}
		valid, err := d.apply(it)
		if err != nil {
			return false, err
		}
		if d.violation != nil {
			return false, d.violation
		}
		if valid {
			return true, nil
		}
	}
}

// apply runs revisitReads on it and the revisit consistency check.
func (d *Driver) apply(it Item) (bool, error) {
	d.stats.Revisits++
	if d.opts.Metrics != nil {
		d.opts.Metrics.Revisit(it.Kind())
	}
	valid, err := d.revisitReads(it)
	if err != nil || !valid || d.violation != nil {
		return false, err
	}
	return d.isConsistent(model.CheckRevisit), nil
}

// runExecution replays the graph and extends it until no thread can run.
func (d *Driver) runExecution() error {
	if err := d.begin(); err != nil {
		return err
	}
	d.running = true
	defer func() { d.running = false }()

	for d.violation == nil && !d.moot {
		if !d.scheduleNext() {
			added, err := d.startRecovery()
			if err != nil {
				return err
			}
			if !added || d.violation != nil {
				break
			}
			continue
		}
		if err := d.x.Step(d); err != nil {
			var ie *InternalError
			if errors.As(err, &ie) {
				return err
			}
			return internalf("step of thread %d: %v", d.x.Current().ID, err)
		}
		if d.opts.CheckEveryStep {
			if err := d.g.Validate(); err != nil {
				return internalf("after step of thread %d: %v", d.x.Current().ID, err)
			}
		}
	}
	if d.violation != nil {
		return nil
	}
	return d.finished()
}

// addItem queues it under the stamp of its target label.
func (d *Driver) addItem(it Item) {
	l := d.g.Label(it.Target())
	if l == nil {
		return
	}
	d.work.Add(l.Stamp(), it)
}

// restrict drops the bookkeeping above s before the graph is cut there.
func (d *Driver) restrict(s event.Stamp) {
	d.work.Restrict(s)
	d.revisits.Restrict(s)
}

func (d *Driver) count(outcome string) {
	switch outcome {
	case "complete":
		d.stats.Complete++
	case "blocked":
		d.stats.Blocked++
	case "duplicate":
		d.stats.Duplicates++
	default:
		d.stats.Discarded++
	}
	if d.opts.Metrics != nil {
		d.opts.Metrics.Execution(outcome)
	}
	if d.opts.ProgressInterval <= 0 {
		return
	}
	d.progress.Do(func() {
		d.log.Info("exploration progress",
			"complete", d.stats.Complete,
			"blocked", d.stats.Blocked,
			"duplicates", d.stats.Duplicates,
			"pending", d.work.Len())
	})
}

func (d *Driver) String() string {
	return fmt.Sprintf("driver(%s, %d complete, %d pending)", d.policy.Name(), d.stats.Complete, d.work.Len())
}
