package executor

import (
	"fmt"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/vectorclock"
)

// ReplayMismatchError reports a graph event that does not match the action
// the program performs at its position. It always indicates a defect in
// the exploration, never in the program under test.
type ReplayMismatchError struct {
	Pos    event.Event
	Action ActionKind
	Label  event.Label
}

func (e *ReplayMismatchError) Error() string {
	return fmt.Sprintf("replay mismatch at %v: program performs %v, graph holds %v", e.Pos, e.Action, e.Label)
}

// Recorded answers an action from the events already in g at the thread's
// position. It returns false when no event exists there yet.
//
// For a read-modify-write whose write half is missing the result commits
// only the read; callers decide whether the write must be added. Reads that
// leave the thread blocked (a held lock, an await whose condition fails)
// commit nothing, so the thread stays at the read.
func Recorded(g *graph.Graph, t *Thread, a *Action) (Result, bool, error) {
	pos := t.Pos()
	l := g.Label(pos)
	if l == nil || a.Kind == ActAssertFail {
		return Result{}, false, nil
	}
	mismatch := &ReplayMismatchError{Pos: pos, Action: a.Kind, Label: l}
	one := Result{Done: true, Events: 1}

	switch a.Kind {
	case ActStart:
		if _, ok := l.(*event.ThreadStartLabel); ok {
			return one, true, nil
		}
	case ActFinish:
		if f, ok := l.(*event.ThreadFinishLabel); ok {
			one.Value = f.Ret
			return one, true, nil
		}
	case ActLoad, ActDiskRead:
		if r, ok := l.(*event.ReadLabel); ok {
			one.Value = readValue(g, r)
			return one, true, nil
		}
	case ActAwait:
		if r, ok := l.(*event.ReadLabel); ok {
			v := readValue(g, r)
			if !a.Cond.Eval(v, a.Value) {
				return Result{Value: v, Block: BlockSpinloop}, true, nil
			}
			one.Value = v
			return one, true, nil
		}
	case ActFetchAdd, ActCompareSwap:
		if r, ok := l.(*event.ReadLabel); ok {
			one.Value = readValue(g, r)
			if _, ok := g.RMWWriteOf(pos); ok {
				one.Events = 2
			}
			return one, true, nil
		}
	case ActLock:
		switch l := l.(type) {
		case *event.LockLabel:
			return one, true, nil
		case *event.ReadLabel:
			if !l.IsLock() {
				break
			}
			if _, ok := g.RMWWriteOf(pos); ok {
				one.Events = 2
				return one, true, nil
			}
			if _, writes := l.WriteValue(readValue(g, l)); !writes {
				return Result{Block: BlockLockAcq}, true, nil
			}
			return one, true, nil
		}
	case ActUnlock:
		switch l := l.(type) {
		case *event.UnlockLabel:
			return one, true, nil
		case *event.WriteLabel:
			if l.Unlock {
				return one, true, nil
			}
		}
	case ActStore, ActDiskWrite, ActDiskTrunc:
		if _, ok := l.(*event.WriteLabel); ok {
			return one, true, nil
		}
	case ActFence:
		if _, ok := l.(*event.FenceLabel); ok {
			return one, true, nil
		}
	case ActMalloc:
		if m, ok := l.(*event.MallocLabel); ok {
			one.Value = int64(m.Addr)
			return one, true, nil
		}
	case ActFree:
		if _, ok := l.(*event.FreeLabel); ok {
			return one, true, nil
		}
	case ActSpawn:
		if c, ok := l.(*event.ThreadCreateLabel); ok {
			one.Value = int64(c.Child)
			return one, true, nil
		}
	case ActJoin:
		if _, ok := l.(*event.ThreadJoinLabel); ok {
			return one, true, nil
		}
	case ActDiskOpen:
		if o, ok := l.(*event.DiskOpenLabel); ok {
			one.Value = int64(o.FD)
			return one, true, nil
		}
	case ActDiskSync:
		if _, ok := l.(*event.DiskSyncLabel); ok {
			return one, true, nil
		}
	case ActPbarrier:
		if _, ok := l.(*event.PbarrierLabel); ok {
			return one, true, nil
		}
	}
	return Result{}, false, mismatch
}

func readValue(g *graph.Graph, r *event.ReadLabel) int64 {
	if r.Rf.IsBottom() {
		return 0
	}
	return g.ReadValue(r)
}

// replayHandler answers every action from a finished graph, restricted to
// a view, and records where each event came from.
type replayHandler struct {
	g     *graph.Graph
	view  vectorclock.VectorClock
	where map[event.Event]program.Pos
}

func (h *replayHandler) Visit(t *Thread, a *Action) (Result, error) {
	pos := t.Pos()
	if !pos.HappensBefore(h.view) {
		return Result{Block: BlockUser}, nil
	}
	res, ok, err := Recorded(h.g, t, a)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Block: BlockUser}, nil
	}
	src := t.SourcePos()
	if a.Kind == ActStart {
		src = program.Pos{Func: t.Func.Name, Text: "start"}
	}
	if res.Events == 0 {
		// A read the thread is stuck on.
		h.where[pos] = src
		return res, nil
	}
	for i := 0; i < res.Events; i++ {
		h.where[event.New(pos.Thread, pos.Index+i)] = src
	}
	return res, nil
}

// ReplayView re-executes prog against the events of g that lie in view and
// returns the source position that produced each of them. Threads are
// replayed independently: every value a thread observes comes from the
// graph, so the order in which threads are replayed does not matter.
func ReplayView(prog *program.Program, g *graph.Graph, view vectorclock.VectorClock, unroll int) (map[event.Event]program.Pos, error) {
	x := New(prog, unroll)
	h := &replayHandler{g: g, view: view, where: make(map[event.Event]program.Pos)}
	for tid := 0; tid < g.NumThreads(); tid++ {
		if !event.New(tid, 0).HappensBefore(view) {
			continue
		}
		start, ok := g.Label(event.New(tid, 0)).(*event.ThreadStartLabel)
		if !ok {
			continue
		}
		t, err := x.AddThread(tid, start.Parent, start.Func, start.Arg)
		if err != nil {
			return nil, err
		}
		x.SetCurrent(tid)
		for x.Schedulable(t.ID) {
			if err := x.Step(h); err != nil {
				return nil, err
			}
		}
	}
	return h.where, nil
}
