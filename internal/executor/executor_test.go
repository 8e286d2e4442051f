package executor

import (
	"testing"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/vectorclock"
)

// scriptHandler answers loads from a fixed table and records every action.
type scriptHandler struct {
	loads   map[event.Addr]int64
	actions []ActionKind
	addrs   []event.Addr
	values  []int64
}

func (h *scriptHandler) Visit(t *Thread, a *Action) (Result, error) {
	h.actions = append(h.actions, a.Kind)
	h.addrs = append(h.addrs, a.Addr)
	h.values = append(h.values, a.Value)
	res := Result{Done: true, Events: 1}
	switch a.Kind {
	case ActLoad:
		res.Value = h.loads[a.Addr]
	case ActFetchAdd:
		res.Value = h.loads[a.Addr]
		res.Events = 2
	case ActMalloc:
		res.Value = int64(event.HeapAddr(t.Pos()))
	case ActAssertFail:
		return Result{Block: BlockError}, nil
	}
	return res, nil
}

func mustParse(t *testing.T, src string) *program.Program {
	t.Helper()
	p, err := program.Parse("test.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return p
}

func runToEnd(t *testing.T, x *Executor, h Handler, tid int) *Thread {
	t.Helper()
	x.SetCurrent(tid)
	for i := 0; x.Schedulable(tid); i++ {
		if i > 1000 {
			t.Fatal("thread did not terminate")
		}
		if err := x.Step(h); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	return x.Thread(tid)
}

// TestStepVisibleActions verifies that local instructions run inside Step
// and every shared access reaches the handler with evaluated operands.
func TestStepVisibleActions(t *testing.T) {
	p := mustParse(t, `format: v1
globals: [{name: x, init: 0}, {name: y, init: 0}]
functions:
  main: |
    load %a, x, acq
    add %b, %a, 2
    store y, %b, rel
    malloc %p, 2
    store *%p+1, 9
    fai %old, x, 1
    ret %b
`)
	x := New(p, 0)
	if _, err := x.AddThread(0, event.Bottom, "main", 0); err != nil {
		t.Fatal(err)
	}
	h := &scriptHandler{loads: map[event.Addr]int64{event.GlobalAddr(0): 5}}
	th := runToEnd(t, x, h, 0)

	want := []ActionKind{ActStart, ActLoad, ActStore, ActMalloc, ActStore, ActFetchAdd, ActFinish}
	if len(h.actions) != len(want) {
		t.Fatalf("actions = %v, want %v", h.actions, want)
	}
	for i := range want {
		if h.actions[i] != want[i] {
			t.Errorf("actions[%d] = %v, want %v", i, h.actions[i], want[i])
		}
	}
	if h.values[2] != 7 || h.addrs[2] != event.GlobalAddr(1) {
		t.Errorf("store y = (%v, %d), want (%v, 7)", h.addrs[2], h.values[2], event.GlobalAddr(1))
	}
	heap := event.HeapAddr(event.New(0, 3))
	if h.addrs[4] != heap+1 {
		t.Errorf("store through pointer addr = %v, want %v", h.addrs[4], heap+1)
	}
	if !th.Finished || h.values[6] != 7 {
		t.Errorf("Finished = %v, ret = %d", th.Finished, h.values[6])
	}
	// start, load, store, malloc, store, fai (2 events), finish
	if th.NextIndex != 8 {
		t.Errorf("NextIndex = %d, want 8", th.NextIndex)
	}
}

// TestUnrollBound verifies that a loop exceeding the bound blocks the thread.
func TestUnrollBound(t *testing.T) {
	p := mustParse(t, `format: v1
globals: [{name: x, init: 0}]
functions:
  main: |
    again:
    load %r, x
    br %r, eq, 0, again
`)
	x := New(p, 3)
	if _, err := x.AddThread(0, event.Bottom, "main", 0); err != nil {
		t.Fatal(err)
	}
	h := &scriptHandler{}
	th := runToEnd(t, x, h, 0)
	if th.Blocked != BlockUser {
		t.Errorf("Blocked = %v, want %v", th.Blocked, BlockUser)
	}
	loads := 0
	for _, a := range h.actions {
		if a == ActLoad {
			loads++
		}
	}
	if loads != 4 {
		t.Errorf("loads = %d, want 4 (one pass plus three unrolled jumps)", loads)
	}
}

// TestAssumeAndAssert verifies user blocks and assertion failures.
func TestAssumeAndAssert(t *testing.T) {
	p := mustParse(t, `format: v1
functions:
  main: |
    assume %arg, eq, 1
    assert %arg, eq, 2
`)
	tests := []struct {
		arg     int64
		blocked Blockage
		last    ActionKind
	}{
		{0, BlockUser, ActStart},
		{1, BlockError, ActAssertFail},
	}
	for _, tt := range tests {
		x := New(p, 0)
		if _, err := x.AddThread(0, event.Bottom, "main", tt.arg); err != nil {
			t.Fatal(err)
		}
		h := &scriptHandler{}
		th := runToEnd(t, x, h, 0)
		if th.Blocked != tt.blocked {
			t.Errorf("arg %d: Blocked = %v, want %v", tt.arg, th.Blocked, tt.blocked)
		}
		if got := h.actions[len(h.actions)-1]; got != tt.last {
			t.Errorf("arg %d: last action = %v, want %v", tt.arg, got, tt.last)
		}
	}
}

// TestResetAndThreads verifies thread slots and mode switching.
func TestResetAndThreads(t *testing.T) {
	p := mustParse(t, "format: v1\nfunctions:\n  main: |\n    nop\n")
	x := New(p, 0)
	if _, err := x.AddThread(2, event.New(0, 1), "main", 4); err != nil {
		t.Fatal(err)
	}
	if x.NumThreads() != 3 || x.Thread(1) != nil || x.Thread(2).Regs["arg"] != 4 {
		t.Errorf("sparse threads = %d", x.NumThreads())
	}
	if _, err := x.AddThread(2, event.New(0, 1), "main", 4); err == nil {
		t.Error("duplicate AddThread succeeded")
	}
	if _, err := x.AddThread(3, event.New(0, 1), "nope", 0); err == nil {
		t.Error("AddThread(undefined) succeeded")
	}

	x.FDs().Open(3, "a.log")
	x.SetMode(ModeRecovery)
	if x.FDs().IsOpen(3) {
		t.Error("descriptor survived recovery")
	}
	x.Reset()
	if x.NumThreads() != 0 || x.Mode() != ModeProgram || x.Current() != nil {
		t.Error("Reset left state behind")
	}
}

// TestMemoryLookup verifies region bounds.
func TestMemoryLookup(t *testing.T) {
	m := NewMemory()
	r, err := m.Allocate(event.New(1, 4), 3)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		addr event.Addr
		ok   bool
	}{
		{r.Base, true},
		{r.Base + 2, true},
		{r.Base + 3, false},
		{event.GlobalAddr(0), false},
		{event.HeapAddr(event.New(1, 5)), false},
	}
	for _, tt := range tests {
		if _, ok := m.Lookup(tt.addr); ok != tt.ok {
			t.Errorf("Lookup(%v) = %v, want %v", tt.addr, ok, tt.ok)
		}
	}
	if _, err := m.Allocate(event.New(0, 1), 0); err == nil {
		t.Error("Allocate(0) succeeded")
	}
	m.Reset()
	if _, ok := m.Lookup(r.Base); ok {
		t.Error("Lookup after Reset succeeded")
	}
}

// TestReplayView verifies that replay maps events to the instructions that
// produced them and stops at the edge of the view.
func TestReplayView(t *testing.T) {
	p := mustParse(t, `format: v1
globals: [{name: x, init: 0}]
functions:
  main: |
    spawn %t, worker, 7
    load %r, x
  worker: |
    store x, %arg
`)
	g := graph.New(p.Inits(), nil)
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(0, 0)), Parent: event.Bottom, Func: "main", Symmetric: -1})
	c := g.Append(&event.ThreadCreateLabel{Meta: event.At(event.New(0, 0)), Child: 1, Func: "worker", Arg: 7})
	g.AddThread(c.Pos())
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(1, 0)), Parent: c.Pos(), Func: "worker", Arg: 7, Symmetric: -1})
	w := g.Append(&event.WriteLabel{Meta: event.At(event.New(1, 0)), Addr: event.GlobalAddr(0), Value: 7})
	g.Append(&event.ReadLabel{Meta: event.At(event.New(0, 0)), Addr: event.GlobalAddr(0), Rf: w.Pos()})

	view := vectorclock.New(2)
	view.Include(0, 2)
	view.Include(1, 1)
	where, err := ReplayView(p, g, view, 0)
	if err != nil {
		t.Fatalf("ReplayView() error = %v", err)
	}
	if got := where[event.New(0, 2)]; got.Func != "main" || got.Line != 6 {
		t.Errorf("load position = %+v, want main line 6", got)
	}
	if got := where[event.New(1, 1)]; got.Text != "store x, %arg" {
		t.Errorf("store position = %+v", got)
	}

	partial := vectorclock.New(2)
	partial.Include(0, 1)
	where, err = ReplayView(p, g, partial, 0)
	if err != nil {
		t.Fatalf("ReplayView() error = %v", err)
	}
	if _, ok := where[event.New(0, 2)]; ok {
		t.Error("event outside the view was replayed")
	}
	if _, ok := where[event.New(1, 1)]; ok {
		t.Error("thread outside the view was replayed")
	}
}

// TestRecordedMismatch verifies that a diverging graph is reported.
func TestRecordedMismatch(t *testing.T) {
	p := mustParse(t, "format: v1\nglobals: [{name: x}]\nfunctions:\n  main: |\n    load %r, x\n")
	g := graph.New(nil, nil)
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(0, 0)), Parent: event.Bottom, Func: "main", Symmetric: -1})
	g.Append(&event.FenceLabel{Meta: event.At(event.New(0, 0)), Ord: event.SeqCst})

	x := New(p, 0)
	th, _ := x.AddThread(0, event.Bottom, "main", 0)
	th.NextIndex = 1
	_, _, err := Recorded(g, th, &Action{Kind: ActLoad})
	if _, ok := err.(*ReplayMismatchError); !ok {
		t.Errorf("Recorded() error = %v, want *ReplayMismatchError", err)
	}
}
