package model

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/vectorclock"
)

func hbOf(g *graph.Graph, lapor bool) *graph.Closure {
	if lapor {
		return g.HbNoLocks()
	}
	return g.Hb()
}

// lowerBound returns the smallest index in [Init, co...] that an access
// with happens-before prefix view may observe or follow at a: everything
// written, or read from, in the prefix must not be overwritten by a
// coherence-earlier write.
func lowerBound(g *graph.Graph, a event.Addr, self event.Event, view vectorclock.VectorClock) int {
	lb := 0
	for i, w := range g.Coherence(a) {
		if w != self && w.HappensBefore(view) && i+1 > lb {
			lb = i + 1
		}
	}
	for _, r := range g.Reads(a) {
		if r.Pos() == self || r.Rf.IsBottom() || !r.Pos().HappensBefore(view) {
			continue
		}
		idx := 0
		if !r.Rf.IsInit() {
			idx = g.CoIndex(a, r.Rf) + 1
		}
		if idx > lb {
			lb = idx
		}
	}
	return lb
}

// crashBound is the lower bound of a disk read in a recovery routine. The
// program's writes reach the routine through a crash rather than through
// happens-before, so only the routine's own accesses bound the read; which
// program writes survived the crash is left to the caller.
func crashBound(g *graph.Graph, r *event.ReadLabel) int {
	t := r.Pos().Thread
	lb := 0
	for i, w := range g.Coherence(r.Addr) {
		if w.Thread == t && w.Index < r.Pos().Index && i+1 > lb {
			lb = i + 1
		}
	}
	for _, o := range g.Reads(r.Addr) {
		op := o.Pos()
		if op.Thread != t || op.Index >= r.Pos().Index || o.Rf.IsBottom() {
			continue
		}
		idx := 0
		if !o.Rf.IsInit() {
			idx = g.CoIndex(r.Addr, o.Rf) + 1
		}
		if idx > lb {
			lb = idx
		}
	}
	return lb
}

// coherentStores implements the shared part of StoresToLoc.
func coherentStores(g *graph.Graph, r *event.ReadLabel, lapor bool) []event.Event {
	var lb int
	if r.Addr.IsDisk() && g.IsRecovery(r.Pos().Thread) {
		lb = crashBound(g, r)
	} else {
		view := hbOf(g, lapor).View(r.Pos().Prev())
		lb = lowerBound(g, r.Addr, r.Pos(), view)
	}

	var out []event.Event
	if lb == 0 {
		out = append(out, event.Init)
	}
	for i, w := range g.Coherence(r.Addr) {
		if i+1 >= lb {
			out = append(out, w)
		}
	}
	return out
}

// coherenceRange implements the shared part of CoherenceRange. w must still
// be the coherence-maximal write of its location, so indices of the other
// writes equal the number of writes preceding them.
func coherenceRange(g *graph.Graph, w *event.WriteLabel, lapor bool) (int, int) {
	view := hbOf(g, lapor).View(w.Pos().Prev())
	others := len(g.Coherence(w.Addr)) - 1
	lo := lowerBound(g, w.Addr, w.Pos(), view)
	if lo > others {
		lo = others
	}
	return lo, others
}
