package detector

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/report"
)

// Detector runs the safety checks for newly added events.
//
// Every On* method takes the graph after the event was appended and returns
// nil when the event is fine. The returned violation carries the events and
// their graph descriptions; traces and source positions are filled in by the
// caller, which owns the executor.
type Detector struct {
	// races enables data-race detection. Memory-safety checks are always on.
	races bool
}

// New creates a detector. races toggles data-race detection.
func New(races bool) *Detector {
	return &Detector{races: races}
}

// Races reports whether data-race detection is enabled.
func (d *Detector) Races() bool {
	return d.races
}

// OnAccess checks the validity of the location accessed by a read or write.
//
// Algorithm:
//
//  1. Globals and disk cells are always valid.
//  2. Heap cells need an allocation covering them that happens before the
//     access.
//  3. A free of that allocation that happens before the access makes it a
//     use after free; a free unordered with the access is a malloc/free race.
//
// Addresses below the global space (null pointers and small integers used as
// pointers) are reported as accesses to non-allocated memory.
func (d *Detector) OnAccess(g *graph.Graph, acc event.MemAccess) *report.Violation {
	a := acc.Loc()
	e := acc.Pos()
	if a.IsGlobal() || a.IsDisk() {
		return nil
	}
	hb := g.Hb()
	m, ok := allocationOf(g, a)
	if !ok || !hb.Before(m.Pos(), e) {
		return violation(g, report.AccessNonMalloc, e, "access to %s outside any allocation", g.Name(a))
	}
	for _, f := range freesOf(g, m.Addr) {
		switch {
		case hb.Before(f, e):
			return conflict(g, report.AccessFreed, e, f, "access to %s after it was freed", g.Name(a))
		case !hb.Before(e, f):
			return conflict(g, report.RaceFreeMalloc, e, f, "access to %s races with its deallocation", g.Name(a))
		}
	}
	return nil
}

// OnRead checks a read whose reads-from edge has been chosen: reading the
// initializer of a location that has no initial value, and data races with
// writes.
func (d *Detector) OnRead(g *graph.Graph, r *event.ReadLabel) *report.Violation {
	if v := d.Uninitialized(g, r); v != nil {
		return v
	}
	return d.race(g, r.Pos(), r.Addr, false, r.Ord)
}

// Uninitialized reports a read of uninitialized memory. Disk cells start out
// empty (zero), so they are never uninitialized.
func (d *Detector) Uninitialized(g *graph.Graph, r *event.ReadLabel) *report.Violation {
	if !r.Rf.IsInit() || r.Addr.IsDisk() {
		return nil
	}
	if _, ok := g.InitValue(r.Addr); ok {
		return nil
	}
	return violation(g, report.UninitializedMem, r.Pos(), "read of %s observes no write", g.Name(r.Addr))
}

// OnWrite checks a write for data races with every other access of its location.
func (d *Detector) OnWrite(g *graph.Graph, w *event.WriteLabel) *report.Violation {
	return d.race(g, w.Pos(), w.Addr, true, w.Ord)
}

// race finds an access to a that conflicts with the access at e.
//
// Two accesses conflict when at least one writes, at least one is
// non-atomic, and neither happens before the other. Writes are compared in
// coherence order first so that the reported partner is deterministic.
func (d *Detector) race(g *graph.Graph, e event.Event, a event.Addr, write bool, ord event.Ordering) *report.Violation {
	if !d.races || a.IsDisk() {
		return nil
	}
	hb := g.Hb()
	unordered := func(o event.Event, oOrd event.Ordering) bool {
		if o == e || (ord.IsAtomic() && oOrd.IsAtomic()) {
			return false
		}
		return !hb.Before(o, e) && !hb.Before(e, o)
	}
	for _, w := range g.Coherence(a) {
		wl, ok := g.Label(w).(*event.WriteLabel)
		if ok && unordered(w, wl.Ord) {
			return conflict(g, report.Race, e, w, "conflicting accesses to %s are not ordered by happens-before", g.Name(a))
		}
	}
	if !write {
		return nil
	}
	for _, r := range g.Reads(a) {
		if unordered(r.Pos(), r.Ord) {
			return conflict(g, report.Race, e, r.Pos(), "conflicting accesses to %s are not ordered by happens-before", g.Name(a))
		}
	}
	return nil
}

// OnFree checks a deallocation.
//
// Algorithm:
//
//  1. The address must be the base of an allocation that happens before
//     the free.
//  2. No other free of the same base may exist; the earlier free is cited.
//  3. Every access to the allocation must happen before the free.
func (d *Detector) OnFree(g *graph.Graph, f *event.FreeLabel) *report.Violation {
	e := f.Pos()
	hb := g.Hb()
	m, ok := allocationOf(g, f.Addr)
	if !ok || m.Addr != f.Addr || !hb.Before(m.Pos(), e) {
		return violation(g, report.FreeNonMalloc, e, "free of %s, which is not the start of an allocation", f.Addr)
	}
	for _, other := range freesOf(g, f.Addr) {
		if other != e {
			return conflict(g, report.DoubleFree, e, other, "allocation %s freed twice", f.Addr)
		}
	}
	for t := 0; t < g.NumThreads(); t++ {
		for _, l := range g.Thread(t) {
			acc, ok := l.(event.MemAccess)
			if !ok || !covers(m, acc.Loc()) {
				continue
			}
			if !hb.Before(acc.Pos(), e) {
				return conflict(g, report.RaceFreeMalloc, e, acc.Pos(), "free of %s races with an access", f.Addr)
			}
		}
	}
	return nil
}

// CheckJoin validates a join of thread child issued at position e, before
// any event is added for it.
func CheckJoin(g *graph.Graph, e event.Event, child int64) *report.Violation {
	c := int(child)
	if child < 1 || c >= g.NumThreads() || c == e.Thread {
		return report.New(report.InvalidJoin, e, "join of thread %d, which was never created", child)
	}
	if _, ok := g.Label(g.Parent(c)).(*event.ThreadCreateLabel); !ok {
		return report.New(report.InvalidJoin, e, "join of thread %d, which was not spawned", child)
	}
	return nil
}

// CheckUnlock validates an unlock of a by thread t issued at position e.
func CheckUnlock(g *graph.Graph, t int, a event.Addr, e event.Event) *report.Violation {
	if Holds(g, t, a) {
		return nil
	}
	return report.New(report.InvalidUnlock, e, "unlock of %s, which thread %d does not hold", g.Name(a), t)
}

// Holds reports whether thread t holds lock a: its last acquisition of a is
// not followed by a release. Both lock encodings are recognized.
func Holds(g *graph.Graph, t int, a event.Addr) bool {
	th := g.Thread(t)
	for i := len(th) - 1; i >= 0; i-- {
		switch l := th[i].(type) {
		case *event.WriteLabel:
			if l.Addr != a {
				continue
			}
			if l.LockAcquire {
				return true
			}
			if l.Unlock {
				return false
			}
		case *event.LockLabel:
			if l.Addr == a {
				return true
			}
		case *event.UnlockLabel:
			if l.Addr == a {
				return false
			}
		}
	}
	return false
}

func allocationOf(g *graph.Graph, a event.Addr) (*event.MallocLabel, bool) {
	for t := 0; t < g.NumThreads(); t++ {
		for _, l := range g.Thread(t) {
			if m, ok := l.(*event.MallocLabel); ok && covers(m, a) {
				return m, true
			}
		}
	}
	return nil, false
}

func covers(m *event.MallocLabel, a event.Addr) bool {
	return a >= m.Addr && a < m.Addr+event.Addr(m.Size)
}

func freesOf(g *graph.Graph, base event.Addr) []event.Event {
	var out []event.Event
	for t := 0; t < g.NumThreads(); t++ {
		for _, l := range g.Thread(t) {
			if f, ok := l.(*event.FreeLabel); ok && f.Addr == base {
				out = append(out, f.Pos())
			}
		}
	}
	return out
}

func violation(g *graph.Graph, kind report.Kind, e event.Event, format string, args ...any) *report.Violation {
	v := report.New(kind, e, format, args...)
	v.Desc = g.Describe(e)
	return v
}

func conflict(g *graph.Graph, kind report.Kind, e, other event.Event, format string, args ...any) *report.Violation {
	v := violation(g, kind, e, format, args...).WithConflict(other)
	v.ConflictDesc = g.Describe(other)
	return v
}
