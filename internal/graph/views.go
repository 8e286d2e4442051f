package graph

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/vectorclock"
)

// SyncPolicy decides which events take part in release/acquire
// synchronization. Memory models provide their own; the graph only needs
// these two predicates to build happens-before.
type SyncPolicy interface {
	// Releases reports whether a write or fence publishes its view.
	Releases(l event.Label) bool
	// Acquires reports whether a read or fence imports the view of the
	// release it reads from.
	Acquires(l event.Label) bool
}

// AnnotatedSync follows the ordering annotations of the program.
type AnnotatedSync struct{}

// Releases implements SyncPolicy.
func (AnnotatedSync) Releases(l event.Label) bool {
	switch l := l.(type) {
	case *event.WriteLabel:
		return l.Ord.IsRelease()
	case *event.FenceLabel:
		return l.Ord.IsRelease()
	}
	return false
}

// Acquires implements SyncPolicy.
func (AnnotatedSync) Acquires(l event.Label) bool {
	switch l := l.(type) {
	case *event.ReadLabel:
		return l.Ord.IsAcquire()
	case *event.FenceLabel:
		return l.Ord.IsAcquire()
	}
	return false
}

// PredFunc enumerates the immediate predecessors of l under some relation.
type PredFunc func(g *Graph, l event.Label, yield func(event.Event))

// Closure holds one view per event: the set of events that reach it under
// a relation containing program order. Views are computed by repeated
// sweeps until nothing changes, which also terminates on cyclic relations.
type Closure struct {
	g     *Graph
	preds PredFunc
	order []event.Label
	views [][]vectorclock.VectorClock
}

// NewClosure prepares a closure over g; every view starts as the event itself.
func NewClosure(g *Graph, preds PredFunc) *Closure {
	c := &Closure{g: g, preds: preds, order: g.Labels()}
	c.views = make([][]vectorclock.VectorClock, len(g.threads))
	for t, th := range g.threads {
		c.views[t] = make([]vectorclock.VectorClock, len(th))
		for i := range th {
			vc := vectorclock.New(len(g.threads))
			vc.Include(t, i)
			c.views[t][i] = vc
		}
	}
	return c
}

// Step runs one sweep in stamp order and reports whether any view grew.
func (c *Closure) Step() bool {
	changed := false
	for _, l := range c.order {
		e := l.Pos()
		vc := &c.views[e.Thread][e.Index]
		c.preds(c.g, l, func(p event.Event) {
			if !c.g.Contains(p) {
				return
			}
			if vc.Join(c.views[p.Thread][p.Index]) {
				changed = true
			}
		})
	}
	return changed
}

// Run sweeps until the fixpoint is reached.
func (c *Closure) Run() *Closure {
	for c.Step() {
	}
	return c
}

// View returns the view of e (e included). The result must not be modified.
func (c *Closure) View(e event.Event) vectorclock.VectorClock {
	if !c.g.Contains(e) || e.Thread >= len(c.views) || e.Index >= len(c.views[e.Thread]) {
		return nil
	}
	return c.views[e.Thread][e.Index]
}

// Before reports whether a reaches b (a == b counts).
func (c *Closure) Before(a, b event.Event) bool {
	return a.HappensBefore(c.View(b))
}

// StrictBefore reports whether a reaches b and a != b.
func (c *Closure) StrictBefore(a, b event.Event) bool {
	return a != b && c.Before(a, b)
}

// Acyclic reports whether no event reaches one of its own predecessors.
func (c *Closure) Acyclic() bool {
	for _, l := range c.order {
		e := l.Pos()
		cyclic := false
		c.preds(c.g, l, func(p event.Event) {
			if p != e && c.g.Contains(p) && e.HappensBefore(c.views[p.Thread][p.Index]) {
				cyclic = true
			}
		})
		if cyclic {
			return false
		}
	}
	return true
}

// Snapshot copies the current views.
func (c *Closure) Snapshot() [][]vectorclock.VectorClock {
	out := make([][]vectorclock.VectorClock, len(c.views))
	for t, th := range c.views {
		out[t] = make([]vectorclock.VectorClock, len(th))
		for i, vc := range th {
			out[t][i] = vc.Clone()
		}
	}
	return out
}

// Restore replaces the views with a snapshot taken on the same graph.
func (c *Closure) Restore(s [][]vectorclock.VectorClock) {
	for t, th := range s {
		for i, vc := range th {
			c.views[t][i] = vc.Clone()
		}
	}
}

// StructuralPreds yields program-order, thread-creation and join
// predecessors: the edges every relation shares.
func StructuralPreds(g *Graph, l event.Label, yield func(event.Event)) {
	e := l.Pos()
	if e.Index > 0 {
		yield(e.Prev())
	}
	switch l := l.(type) {
	case *event.ThreadStartLabel:
		if !l.Parent.IsBottom() {
			yield(l.Parent)
		}
	case *event.ThreadJoinLabel:
		if fin, ok := g.Last(l.Child).(*event.ThreadFinishLabel); ok {
			yield(fin.Pos())
		}
	}
}

// RfPreds yields the reads-from source of a read.
func RfPreds(_ *Graph, l event.Label, yield func(event.Event)) {
	if r, ok := l.(*event.ReadLabel); ok && !r.Rf.IsBottom() {
		yield(r.Rf)
	}
}

// ReleaseSource returns the event whose view a read of w imports when it
// synchronizes: w itself if it releases, else the last releasing fence
// before w in its thread, else (for RMW writes) the release source of the
// write its read half read from.
func (g *Graph) ReleaseSource(w event.Event) (event.Event, bool) {
	for {
		if w.IsInit() {
			return w, true
		}
		wl := g.Label(w)
		if wl == nil {
			return event.Bottom, false
		}
		if g.sync.Releases(wl) {
			return w, true
		}
		for i := w.Index - 1; i >= 0; i-- {
			if f, ok := g.threads[w.Thread][i].(*event.FenceLabel); ok && g.sync.Releases(f) {
				return f.Pos(), true
			}
		}
		ww, ok := wl.(*event.WriteLabel)
		if !ok || !ww.RMW {
			return event.Bottom, false
		}
		r, ok := g.Label(w.Prev()).(*event.ReadLabel)
		if !ok || r.Rf.IsBottom() {
			return event.Bottom, false
		}
		w = r.Rf
	}
}

// SyncPreds yields the synchronizes-with predecessors of acquiring reads
// and fences.
func SyncPreds(g *Graph, l event.Label, yield func(event.Event)) {
	switch l := l.(type) {
	case *event.ReadLabel:
		if l.Rf.IsBottom() || !g.sync.Acquires(l) {
			return
		}
		if src, ok := g.ReleaseSource(l.Rf); ok {
			yield(src)
		}
	case *event.FenceLabel:
		if !g.sync.Acquires(l) {
			return
		}
		e := l.Pos()
		for i := e.Index - 1; i >= 0; i-- {
			r, ok := g.threads[e.Thread][i].(*event.ReadLabel)
			if !ok || !r.Ord.IsAtomic() || r.Rf.IsBottom() {
				continue
			}
			if src, ok := g.ReleaseSource(r.Rf); ok {
				yield(src)
			}
		}
	}
}

// LockPreds yields, for a critical-section entry, the exit of the critical
// section ordered immediately before it on the same lock.
func LockPreds(g *Graph, l event.Label, yield func(event.Event)) {
	lk, ok := l.(*event.LockLabel)
	if !ok {
		return
	}
	order := g.LockOrder(lk.Addr)
	for i, e := range order {
		if e != lk.Pos() || i == 0 {
			continue
		}
		if u, ok := g.UnlockOf(order[i-1]); ok {
			yield(u)
		}
		return
	}
}

// CombinePreds chains predecessor functions.
func CombinePreds(fs ...PredFunc) PredFunc {
	return func(g *Graph, l event.Label, yield func(event.Event)) {
		for _, f := range fs {
			f(g, l, yield)
		}
	}
}

type viewKind uint8

const (
	viewHb viewKind = iota
	viewHbNoLocks
	viewPorf
)

func (g *Graph) view(kind viewKind) *Closure {
	if g.cache == nil || g.cached != g.version {
		g.cache = make(map[viewKind]*Closure)
		g.cached = g.version
	}
	if c, ok := g.cache[kind]; ok {
		return c
	}
	var preds PredFunc
	switch kind {
	case viewHb:
		preds = CombinePreds(StructuralPreds, SyncPreds, LockPreds)
	case viewHbNoLocks:
		preds = CombinePreds(StructuralPreds, SyncPreds)
	default:
		preds = CombinePreds(StructuralPreds, RfPreds)
	}
	c := NewClosure(g, preds).Run()
	g.cache[kind] = c
	return c
}

// Hb returns happens-before views, with critical sections ordered by the
// installed lock order.
func (g *Graph) Hb() *Closure { return g.view(viewHb) }

// HbNoLocks returns happens-before views ignoring critical-section order.
func (g *Graph) HbNoLocks() *Closure { return g.view(viewHbNoLocks) }

// Porf returns program-order-union-reads-from views (including creation and
// join edges).
func (g *Graph) Porf() *Closure { return g.view(viewPorf) }
