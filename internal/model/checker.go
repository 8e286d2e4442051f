package model

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/vectorclock"
)

// fixpointChecker steps a set of closures together and, once they are
// stable, evaluates the axioms that are not expressible as views.
type fixpointChecker struct {
	closures []*graph.Closure
	final    func(full bool) bool
}

func (c *fixpointChecker) Step(full bool) (bool, bool) {
	changed := false
	for _, cl := range c.closures {
		if cl.Step() {
			changed = true
		}
	}
	for _, cl := range c.closures {
		if !cl.Acyclic() {
			return changed, false
		}
	}
	if changed {
		return true, true
	}
	if c.final == nil {
		return false, true
	}
	return false, c.final(full)
}

func (c *fixpointChecker) Snapshot() any {
	out := make([][][]vectorclock.VectorClock, len(c.closures))
	for i, cl := range c.closures {
		out[i] = cl.Snapshot()
	}
	return out
}

func (c *fixpointChecker) Restore(s any) {
	snaps, ok := s.([][][]vectorclock.VectorClock)
	if !ok {
		return
	}
	for i, cl := range c.closures {
		cl.Restore(snaps[i])
	}
}

func hbPreds(locks bool) graph.PredFunc {
	if locks {
		return graph.CombinePreds(graph.StructuralPreds, graph.SyncPreds, graph.LockPreds)
	}
	return graph.CombinePreds(graph.StructuralPreds, graph.SyncPreds)
}

var porfPreds = graph.CombinePreds(graph.StructuralPreds, graph.RfPreds)

// coFrPreds yields the coherence predecessor of a write and the reads that
// read from it (from-reads into the write).
func coFrPreds(g *graph.Graph, l event.Label, yield func(event.Event)) {
	w, ok := l.(*event.WriteLabel)
	if !ok {
		return
	}
	pred := g.CoPred(w.Addr, w.Pos())
	if !pred.IsInit() {
		yield(pred)
	}
	crash := w.Addr.IsDisk() && !g.IsRecovery(w.Pos().Thread)
	for _, r := range g.Readers(w.Addr, pred) {
		if crash && g.IsRecovery(r.Thread) {
			continue
		}
		yield(r)
	}
}

// atomic reports whether every RMW write immediately follows, in coherence
// order, the write its read half read from.
func atomic(g *graph.Graph) bool {
	for t := 0; t < g.NumThreads(); t++ {
		for _, l := range g.Thread(t) {
			w, ok := l.(*event.WriteLabel)
			if !ok || !w.RMW {
				continue
			}
			r, ok := g.Label(w.Pos().Prev()).(*event.ReadLabel)
			if !ok {
				return false
			}
			if g.CoPred(w.Addr, w.Pos()) != r.Rf {
				return false
			}
		}
	}
	return true
}

// coherent checks, per location, acyclicity of hb restricted to the
// location together with rf, co and fr.
func coherent(g *graph.Graph, hb *graph.Closure) bool {
	for _, a := range g.Locations() {
		if !coherentAt(g, hb, a) {
			return false
		}
	}
	return true
}

func coherentAt(g *graph.Graph, hb *graph.Closure, a event.Addr) bool {
	co := g.Coherence(a)
	reads := g.Reads(a)
	nodes := make([]event.Event, 0, len(co)+len(reads))
	index := make(map[event.Event]int, cap(nodes))
	for _, w := range co {
		index[w] = len(nodes)
		nodes = append(nodes, w)
	}
	for _, r := range reads {
		if r.Rf.IsBottom() {
			continue
		}
		index[r.Pos()] = len(nodes)
		nodes = append(nodes, r.Pos())
	}

	m := graph.NewMatrix(len(nodes))
	for i := 1; i < len(co); i++ {
		m.Add(index[co[i-1]], index[co[i]])
	}
	for _, r := range reads {
		ri, ok := index[r.Pos()]
		if !ok {
			continue
		}
		if wi, ok := index[r.Rf]; ok {
			m.Add(wi, ri)
		}
		// fr: into the coherence successor of the source.
		next := 0
		if !r.Rf.IsInit() {
			next = g.CoIndex(a, r.Rf) + 1
		}
		if next < len(co) {
			m.Add(ri, index[co[next]])
		}
	}
	crash := a.IsDisk()
	for i, x := range nodes {
		for j, y := range nodes {
			if i == j || !hb.StrictBefore(x, y) {
				continue
			}
			if crash && j >= len(co) && g.IsRecovery(y.Thread) && !g.IsRecovery(x.Thread) {
				// A recovery read observes what survived the crash.
				continue
			}
			m.Add(i, j)
		}
	}
	return m.Acyclic()
}

// scOrderAcyclic checks acyclicity of the order over sequentially consistent
// events: hb between any two of them plus rf, co and fr between accesses of
// the same location.
func scOrderAcyclic(g *graph.Graph, hb *graph.Closure) bool {
	var nodes []event.Label
	for t := 0; t < g.NumThreads(); t++ {
		for _, l := range g.Thread(t) {
			switch l := l.(type) {
			case *event.ReadLabel:
				if l.Ord.IsSC() && !l.Rf.IsBottom() {
					nodes = append(nodes, l)
				}
			case *event.WriteLabel:
				if l.Ord.IsSC() {
					nodes = append(nodes, l)
				}
			case *event.FenceLabel:
				if l.Ord.IsSC() {
					nodes = append(nodes, l)
				}
			}
		}
	}
	if len(nodes) < 2 {
		return true
	}
	m := graph.NewMatrix(len(nodes))
	for i, x := range nodes {
		for j, y := range nodes {
			if i == j {
				continue
			}
			if hb.StrictBefore(x.Pos(), y.Pos()) || ecoEdge(g, x, y) {
				m.Add(i, j)
			}
		}
	}
	return m.Acyclic()
}

// ecoEdge reports a direct rf, co or fr edge from x to y.
func ecoEdge(g *graph.Graph, x, y event.Label) bool {
	xa, ok1 := x.(event.MemAccess)
	ya, ok2 := y.(event.MemAccess)
	if !ok1 || !ok2 || xa.Loc() != ya.Loc() {
		return false
	}
	a := xa.Loc()
	switch xl := x.(type) {
	case *event.WriteLabel:
		switch yl := y.(type) {
		case *event.WriteLabel:
			return g.CoBefore(a, xl.Pos(), yl.Pos())
		case *event.ReadLabel:
			return yl.Rf == xl.Pos()
		}
	case *event.ReadLabel:
		if yl, ok := y.(*event.WriteLabel); ok {
			return g.CoBefore(a, xl.Rf, yl.Pos())
		}
	}
	return false
}
