package driver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/kolkov/weakcheck/internal/dedup"
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/model"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/report"
)

var schedules = []Schedule{ScheduleLTR, ScheduleWF, ScheduleRandom}

const storeBuffering = `format: v1
name: sb
globals: [{name: x, init: 0}, {name: y, init: 0}]
functions:
  main: |
    spawn %t1, left
    spawn %t2, right
    join %t1
    join %t2
  left: |
    store x, 1, rlx
    load %r, y, rlx
    ret %r
  right: |
    store y, 1, rlx
    load %r, x, rlx
    ret %r
`

const twoIncrements = `format: v1
globals: [{name: c, init: 0}]
functions:
  main: |
    spawn %a, first
    spawn %b, second
    join %a
    join %b
  first: |
    fai %old, c, 1, rlx
    ret %old
  second: |
    fai %old, c, 1, rlx
    ret %old
`

const mutexCounter = `format: v1
globals: [{name: m, init: 0}, {name: c, init: 0}]
functions:
  main: |
    spawn %a, worker
    spawn %b, worker, 1
    join %a
    join %b
    load %v, c
    assert %v, eq, 2
  worker: |
    lock m
    load %v, c
    add %v, %v, 1
    store c, %v
    unlock m
`

// threeCounters has 216 consistent executions under rc11: every read may
// see the initial value or any of the three stores, subject to coherence.
const threeCounters = `format: v1
globals: [{name: c, init: 0}]
functions:
  main: |
    spawn %a, counter
    spawn %b, counter
    spawn %d, counter
  counter: |
    load %v, c, rlx
    add %v, %v, 1
    store c, %v, rlx
    load %v, c, rlx
`

func mustParse(t *testing.T, src string) *program.Program {
	t.Helper()
	p, err := program.Parse("test.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return p
}

func newDriver(t *testing.T, src, modelName string, opts Options) *Driver {
	t.Helper()
	policy, err := model.New(modelName)
	if err != nil {
		t.Fatalf("model.New(%q) error = %v", modelName, err)
	}
	return New(mustParse(t, src), policy, opts, nil)
}

func explore(t *testing.T, src, modelName string, opts Options) (Stats, error) {
	t.Helper()
	return newDriver(t, src, modelName, opts).Run(context.Background())
}

// mustExplore explores src and fails the test on any error.
func mustExplore(t *testing.T, src, modelName string, opts Options) Stats {
	t.Helper()
	stats, err := explore(t, src, modelName, opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return stats
}

func violationOf(t *testing.T, err error) *report.Violation {
	t.Helper()
	var v *report.Violation
	if !errors.As(err, &v) {
		t.Fatalf("Run() error = %v, want a violation", err)
	}
	return v
}

func ret(g *graph.Graph, thread int) int64 {
	return g.Last(thread).(*event.ThreadFinishLabel).Ret
}

// TestStoreBuffering verifies the number of executions of the store
// buffering litmus test under each memory model.
func TestStoreBuffering(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"sc", 3},
		{"ra", 4},
		{"rc11", 4},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			stats := mustExplore(t, storeBuffering, tt.model, Options{Races: true})
			if stats.Complete != tt.want || stats.Blocked != 0 {
				t.Errorf("Complete, Blocked = %d, %d, want %d, 0", stats.Complete, stats.Blocked, tt.want)
			}
		})
	}
}

// TestStoreBufferingOutcomes verifies that every allowed outcome is
// observed exactly once under release/acquire.
func TestStoreBufferingOutcomes(t *testing.T) {
	var outcomes []string
	opts := Options{OnExecution: func(g *graph.Graph) {
		outcomes = append(outcomes, fmt.Sprintf("%d%d", ret(g, 1), ret(g, 2)))
	}}
	mustExplore(t, storeBuffering, "ra", opts)
	sort.Strings(outcomes)
	if want := []string{"00", "01", "10", "11"}; !reflect.DeepEqual(outcomes, want) {
		t.Errorf("outcomes = %v, want %v", outcomes, want)
	}
}

// TestSchedulesAgree verifies that the thread selection policy does not
// change the set of explored executions.
func TestSchedulesAgree(t *testing.T) {
	for _, s := range schedules {
		t.Run(s.String(), func(t *testing.T) {
			stats := mustExplore(t, storeBuffering, "ra", Options{Schedule: s, Seed: 7})
			if stats.Complete != 4 {
				t.Errorf("Complete = %d, want 4", stats.Complete)
			}
		})
	}
}

// TestNoDuplicateExecutions verifies that no execution graph is built
// twice, whatever the schedule: a shared duplicate store never reports a
// hit and the count matches the number of consistent executions.
func TestNoDuplicateExecutions(t *testing.T) {
	for _, s := range schedules {
		t.Run(s.String(), func(t *testing.T) {
			stats := mustExplore(t, threeCounters, "rc11", Options{Schedule: s, Seed: 3, Dedup: dedup.NewMemory()})
			if stats.Duplicates != 0 {
				t.Errorf("Duplicates = %d, want 0", stats.Duplicates)
			}
			if stats.Complete != 216 {
				t.Errorf("Complete = %d, want 216", stats.Complete)
			}
		})
	}
}

// TestFetchAddAtomicity verifies that two increments are explored in both
// orders and never read the same value.
func TestFetchAddAtomicity(t *testing.T) {
	seen := make(map[string]bool)
	opts := Options{OnExecution: func(g *graph.Graph) {
		seen[fmt.Sprintf("%d%d", ret(g, 1), ret(g, 2))] = true
	}}
	stats := mustExplore(t, twoIncrements, "ra", opts)
	if stats.Complete != 2 {
		t.Errorf("Complete = %d, want 2", stats.Complete)
	}
	if want := map[string]bool{"01": true, "10": true}; !reflect.DeepEqual(seen, want) {
		t.Errorf("outcomes = %v, want %v", seen, want)
	}
}

// symmetricCounters spawns three threads running body and one unrelated
// writer, either before or after them.
func symmetricCounters(body string, writerFirst bool) string {
	src := `format: v1
globals: [{name: c, init: 0}, {name: y, init: 0}]
functions:
  main: |
`
	if writerFirst {
		src += "    spawn %w, writer\n"
	}
	src += `    spawn %a, inc
    spawn %b, inc
    spawn %d, inc
`
	if !writerFirst {
		src += "    spawn %w, writer\n"
	}
	src += "  inc: |\n" + body + `  writer: |
    store y, 1, rlx
`
	return src
}

const (
	fetchAddBody  = "    fai %old, c, 1, rlx\n"
	loadStoreBody = `    load %v, c, rlx
    add %v, %v, 1
    store c, %v, rlx
`
)

// TestSymmetryReduction verifies that symmetric increments are explored
// once under every schedule, wherever the unrelated thread is spawned.
func TestSymmetryReduction(t *testing.T) {
	for _, s := range schedules {
		for _, first := range []bool{false, true} {
			t.Run(fmt.Sprintf("%v/writerFirst=%v", s, first), func(t *testing.T) {
				stats := mustExplore(t, symmetricCounters(fetchAddBody, first), "ra", Options{Schedule: s, Seed: 11, Symmetry: true})
				if stats.Complete != 1 {
					t.Errorf("Complete = %d, want 1", stats.Complete)
				}
			})
		}
	}
}

// TestSymmetryRelabeling verifies that renumbering the threads does not
// change what symmetry reduction explores.
func TestSymmetryRelabeling(t *testing.T) {
	for _, s := range schedules {
		t.Run(s.String(), func(t *testing.T) {
			opts := Options{Schedule: s, Seed: 5, Symmetry: true}
			last := mustExplore(t, symmetricCounters(loadStoreBody, false), "ra", opts)
			first := mustExplore(t, symmetricCounters(loadStoreBody, true), "ra", opts)
			if last.Complete != first.Complete {
				t.Errorf("Complete = %d with the writer spawned last, %d with it spawned first", last.Complete, first.Complete)
			}
			if last.Complete >= 36 {
				t.Errorf("Complete = %d, want fewer than the 36 unreduced executions", last.Complete)
			}
		})
	}
}

// TestWithoutSymmetryReduction verifies the baseline: every order of the
// three increments, and every consistent execution of the load/store
// version.
func TestWithoutSymmetryReduction(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{fetchAddBody, 6},
		{loadStoreBody, 36},
	}
	for _, tt := range tests {
		for _, s := range schedules {
			stats := mustExplore(t, symmetricCounters(tt.body, false), "ra", Options{Schedule: s})
			if stats.Complete != tt.want {
				t.Errorf("%v: Complete = %d, want %d", s, stats.Complete, tt.want)
			}
		}
	}
}

// TestMutexCounter verifies that critical sections are explored in both
// orders, without races and without assertion failures.
func TestMutexCounter(t *testing.T) {
	stats := mustExplore(t, mutexCounter, "ra", Options{Races: true})
	if stats.Complete != 2 || stats.Blocked != 0 {
		t.Errorf("Complete, Blocked = %d, %d, want 2, 0", stats.Complete, stats.Blocked)
	}
}

// TestDataRace verifies that conflicting non-atomic stores are reported
// with both events and the verification-failure exit status.
func TestDataRace(t *testing.T) {
	src := `format: v1
globals: [{name: x, init: 0}]
functions:
  main: |
    spawn %a, one
    spawn %b, two
  one: |
    store x, 1
  two: |
    store x, 2
`
	_, err := explore(t, src, "ra", Options{Races: true})
	v := violationOf(t, err)
	if v.Kind != report.Race {
		t.Errorf("Kind = %v, want %v", v.Kind, report.Race)
	}
	if v.Conflict.IsBottom() {
		t.Error("Conflict is unset, want the other store")
	}
	if got := v.ExitCode(); got != report.ExitViolation {
		t.Errorf("ExitCode() = %d, want %d", got, report.ExitViolation)
	}
	if len(v.Trace) == 0 {
		t.Error("Trace is empty")
	}
	if v.Source.Func != "two" {
		t.Errorf("Source.Func = %q, want two", v.Source.Func)
	}

	stats, err := explore(t, src, "ra", Options{})
	if err != nil {
		t.Fatalf("Run() without race detection error = %v", err)
	}
	if stats.Complete != 2 {
		t.Errorf("Complete = %d, want 2", stats.Complete)
	}
}

// TestDoubleFree verifies that a second free cites the first one.
func TestDoubleFree(t *testing.T) {
	src := `format: v1
functions:
  main: |
    malloc %p, 1
    free %p
    free %p
`
	_, err := explore(t, src, "sc", Options{})
	v := violationOf(t, err)
	if v.Kind != report.DoubleFree {
		t.Errorf("Kind = %v, want %v", v.Kind, report.DoubleFree)
	}
	if v.Event != event.New(0, 3) || v.Conflict != event.New(0, 2) {
		t.Errorf("Event, Conflict = %v, %v, want %v, %v", v.Event, v.Conflict, event.New(0, 3), event.New(0, 2))
	}
	if v.Source.Line != 6 {
		t.Errorf("Source.Line = %d, want 6", v.Source.Line)
	}
}

// TestAssertionFailure verifies that a failed assertion is reported with
// its source text.
func TestAssertionFailure(t *testing.T) {
	src := `format: v1
globals: [{name: x, init: 0}]
functions:
  main: |
    spawn %a, writer
    load %v, x, acq
    assert %v, eq, 0
  writer: |
    store x, 1, rel
`
	_, err := explore(t, src, "ra", Options{})
	v := violationOf(t, err)
	if v.Kind != report.SafetyViolation {
		t.Errorf("Kind = %v, want %v", v.Kind, report.SafetyViolation)
	}
	if v.Desc != "assert %v, eq, 0" {
		t.Errorf("Desc = %q, want the assertion text", v.Desc)
	}
	if v.Source.Line != 7 {
		t.Errorf("Source.Line = %d, want 7", v.Source.Line)
	}
}

const spin = `format: v1
globals: [{name: flag, init: 0}]
functions:
  main: |
    spawn %a, waiter
    spawn %b, writer
    join %a
  waiter: |
    await %v, flag, eq, 1, acq
  writer: |
    store flag, 1, rel
`

// TestSpinloopBlocked verifies that a spin loop that may still be released
// counts as a blocked execution, not a liveness violation.
func TestSpinloopBlocked(t *testing.T) {
	stats := mustExplore(t, spin, "ra", Options{Liveness: true})
	if stats.Complete != 1 || stats.Blocked != 1 {
		t.Errorf("Complete, Blocked = %d, %d, want 1, 1", stats.Complete, stats.Blocked)
	}
}

// TestLivenessViolation verifies that a spin loop nothing can release is
// reported.
func TestLivenessViolation(t *testing.T) {
	src := `format: v1
globals: [{name: flag, init: 0}]
functions:
  main: |
    spawn %a, waiter
  waiter: |
    await %v, flag, eq, 1, acq
`
	_, err := explore(t, src, "ra", Options{Liveness: true})
	v := violationOf(t, err)
	if v.Kind != report.Liveness {
		t.Errorf("Kind = %v, want %v", v.Kind, report.Liveness)
	}
	if !strings.Contains(v.Message, "flag") {
		t.Errorf("Message = %q, want it to name flag", v.Message)
	}

	stats := mustExplore(t, src, "ra", Options{})
	if stats.Blocked != 1 {
		t.Errorf("Blocked = %d, want 1", stats.Blocked)
	}
}

// TestInvalidUnlock verifies that releasing a lock that is not held is
// reported in both lock encodings.
func TestInvalidUnlock(t *testing.T) {
	src := `format: v1
globals: [{name: m, init: 0}]
functions:
  main: |
    unlock m
`
	for _, lapor := range []bool{false, true} {
		_, err := explore(t, src, "ra", Options{LAPOR: lapor})
		if v := violationOf(t, err); v.Kind != report.InvalidUnlock {
			t.Errorf("lapor=%v: Kind = %v, want %v", lapor, v.Kind, report.InvalidUnlock)
		}
	}
}

// TestLockAware verifies that lock-aware exploration finds both orders of
// the critical sections.
func TestLockAware(t *testing.T) {
	stats := mustExplore(t, mutexCounter, "ra", Options{LAPOR: true})
	if stats.Complete != 2 {
		t.Errorf("Complete = %d, want 2", stats.Complete)
	}
}

const persist = `format: v1
main: main
recovery: recover
functions:
  main: |
    dopen %fd, "log"
    dwrite %fd, 0, 1
    BODY
  recover: |
    dopen %fd, "log"
    dread %v, %fd, 0
    ret %v
`

// TestPersistency verifies that the recovery routine observes every write
// that may have reached the disk: everything from the latest write made
// durable by a sync or by the persistency barrier on.
func TestPersistency(t *testing.T) {
	tests := []struct {
		name   string
		body   []string
		values []int64
	}{
		{"barrier", []string{"pbarrier", "dwrite %fd, 0, 2"}, []int64{1, 2}},
		{"barrier then sync", []string{"pbarrier", "dwrite %fd, 0, 2", "dsync %fd"}, []int64{2}},
		{"sync without barrier", []string{"dsync %fd", "dwrite %fd, 0, 2"}, []int64{1, 2}},
		{"sync last without barrier", []string{"dwrite %fd, 0, 2", "dsync %fd"}, []int64{2}},
	}
	for _, tt := range tests {
		for _, m := range model.Names() {
			t.Run(tt.name+"/"+m, func(t *testing.T) {
				var got []int64
				opts := Options{Persistency: true, OnExecution: func(g *graph.Graph) {
					if n := g.NumThreads(); n != 2 {
						t.Errorf("NumThreads() = %d, want 2", n)
						return
					}
					got = append(got, ret(g, 1))
				}}
				src := strings.Replace(persist, "BODY", strings.Join(tt.body, "\n    "), 1)
				stats := mustExplore(t, src, m, opts)
				if stats.Complete != len(tt.values) {
					t.Errorf("Complete = %d, want %d", stats.Complete, len(tt.values))
				}
				sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
				if !reflect.DeepEqual(got, tt.values) {
					t.Errorf("recovered values = %v, want %v", got, tt.values)
				}
			})
		}
	}
}

// TestDedup verifies that a shared store turns a second exploration into
// duplicates only.
func TestDedup(t *testing.T) {
	store := dedup.NewMemory()
	stats := mustExplore(t, storeBuffering, "ra", Options{Dedup: store})
	if stats.Complete != 4 {
		t.Errorf("first run: Complete = %d, want 4", stats.Complete)
	}

	stats = mustExplore(t, storeBuffering, "ra", Options{Dedup: store})
	if stats.Complete != 0 || stats.Duplicates != 4 {
		t.Errorf("second run: Complete, Duplicates = %d, %d, want 0, 4", stats.Complete, stats.Duplicates)
	}
}

// TestCalcRevisitsIdempotent verifies that computing the backward revisits
// of a write twice queues them once. The revisits are computed at the end of
// the first execution, with the exploration bookkeeping cleared, and the
// exploration is halted afterwards.
func TestCalcRevisitsIdempotent(t *testing.T) {
	d := newDriver(t, storeBuffering, "ra", Options{})
	first, second := -1, -1
	d.opts.OnExecution = func(g *graph.Graph) {
		if first >= 0 {
			return
		}
		// right's store to y, which left's load read before it existed.
		w, ok := g.Label(event.New(2, 1)).(*event.WriteLabel)
		if !ok {
			t.Fatalf("label at %v = %v, want the store to y", event.New(2, 1), g.Label(event.New(2, 1)))
		}
		d.work, d.revisits = NewWorklist(), NewRevisitSet()
		if _, err := d.calcRevisits(w); err != nil {
			t.Fatalf("calcRevisits() error = %v", err)
		}
		first = d.work.Len()
		if _, err := d.calcRevisits(w); err != nil {
			t.Fatalf("second calcRevisits() error = %v", err)
		}
		second = d.work.Len()
	}
	d.opts.Halted = func() bool { return first >= 0 }

	if _, err := d.Run(context.Background()); !errors.Is(err, ErrHalted) {
		t.Fatalf("Run() error = %v, want ErrHalted", err)
	}
	if first <= 0 {
		t.Fatalf("first calcRevisits() queued %d items, want at least one", first)
	}
	if second != first {
		t.Errorf("second calcRevisits() left %d items, want %d", second, first)
	}
}

// TestStopConditions verifies cancellation and the halt hook.
func TestStopConditions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newDriver(t, storeBuffering, "ra", Options{}).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run(cancelled) error = %v, want %v", err, context.Canceled)
	}

	_, err := explore(t, storeBuffering, "ra", Options{Halted: func() bool { return true }})
	if !errors.Is(err, ErrHalted) {
		t.Errorf("Run(halted) error = %v, want %v", err, ErrHalted)
	}
}

// TestSplitResume verifies that splitting work off and resuming it
// elsewhere explores every execution exactly once.
func TestSplitResume(t *testing.T) {
	sp := &collectSplitter{}
	policy, err := model.New("ra")
	if err != nil {
		t.Fatal(err)
	}
	prog := mustParse(t, storeBuffering)

	total, err := New(prog, policy, Options{Splitter: sp}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for len(sp.states) > 0 {
		st := sp.states[0]
		sp.states = sp.states[1:]
		stats, err := New(prog, policy, Options{Splitter: sp}, nil).Resume(context.Background(), st)
		if err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		total.Add(stats)
	}
	if total.Complete != 4 {
		t.Errorf("Complete = %d, want 4", total.Complete)
	}
	if sp.pushed == 0 {
		t.Error("no state was split off")
	}
}

// collectSplitter is always idle and keeps the states it is given.
type collectSplitter struct {
	states []State
	pushed int
}

func (s *collectSplitter) Idle() bool { return true }

func (s *collectSplitter) Push(st State) {
	s.states = append(s.states, st)
	s.pushed++
}

// TestInternalError verifies the exit status and unwrapping of tool
// defects.
func TestInternalError(t *testing.T) {
	cause := errors.New("broken")
	err := error(internalErr(cause, "step of thread %d", 1))
	var ie *InternalError
	if !errors.As(err, &ie) {
		t.Fatalf("errors.As(%v, *InternalError) = false", err)
	}
	if got := ie.ExitCode(); got != ExitInternal {
		t.Errorf("ExitCode() = %d, want %d", got, ExitInternal)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if want := "internal error: step of thread 1: broken"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

// TestParseSchedule verifies schedule names.
func TestParseSchedule(t *testing.T) {
	for _, s := range schedules {
		got, err := ParseSchedule(s.String())
		if err != nil || got != s {
			t.Errorf("ParseSchedule(%q) = %v, %v, want %v", s.String(), got, err, s)
		}
	}
	if _, err := ParseSchedule("fifo"); err == nil {
		t.Error("ParseSchedule(fifo) error = nil, want an error")
	}
}
