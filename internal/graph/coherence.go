package graph

import (
	"sort"

	"github.com/kolkov/weakcheck/internal/event"
)

// CoPlacement records where a write of a saved prefix goes back into the
// coherence order: immediately after After (Init for the first slot).
type CoPlacement struct {
	Write event.Event
	After event.Event
}

// Locations returns every location with at least one write, sorted.
func (g *Graph) Locations() []event.Addr {
	out := make([]event.Addr, 0, len(g.co))
	for a, ws := range g.co {
		if len(ws) > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Coherence returns the coherence order of a, excluding the implicit
// initializer. The slice is owned by the graph.
func (g *Graph) Coherence(a event.Addr) []event.Event {
	return g.co[a]
}

// CoIndex returns the position of w in the coherence order of a: -1 for Init
// and for writes that are not in the order.
func (g *Graph) CoIndex(a event.Addr, w event.Event) int {
	for i, e := range g.co[a] {
		if e == w {
			return i
		}
	}
	return -1
}

// CoMax returns the coherence-maximal write to a.
func (g *Graph) CoMax(a event.Addr) event.Event {
	ws := g.co[a]
	if len(ws) == 0 {
		return event.Init
	}
	return ws[len(ws)-1]
}

// IsCoMax reports whether w is the coherence-maximal write to a.
func (g *Graph) IsCoMax(a event.Addr, w event.Event) bool {
	return g.CoMax(a) == w
}

// CoBefore reports whether x is strictly coherence-before y at a.
func (g *Graph) CoBefore(a event.Addr, x, y event.Event) bool {
	if x == y {
		return false
	}
	if x.IsInit() {
		return true
	}
	if y.IsInit() {
		return false
	}
	return g.CoIndex(a, x) < g.CoIndex(a, y)
}

// CoPred returns the write immediately before w at a (Init if w is first).
func (g *Graph) CoPred(a event.Addr, w event.Event) event.Event {
	i := g.CoIndex(a, w)
	if i <= 0 {
		return event.Init
	}
	return g.co[a][i-1]
}

func (g *Graph) removeFromCo(a event.Addr, w event.Event) []event.Event {
	ws := g.co[a]
	out := ws[:0]
	for _, e := range ws {
		if e != w {
			out = append(out, e)
		}
	}
	return out
}

// MoveInCoherence moves w so that exactly pos other writes precede it.
func (g *Graph) MoveInCoherence(w event.Event, pos int) {
	wl, ok := g.Label(w).(*event.WriteLabel)
	if !ok {
		panic("graph: MoveInCoherence on non-write " + w.String())
	}
	rest := g.removeFromCo(wl.Addr, w)
	if pos > len(rest) {
		pos = len(rest)
	}
	out := make([]event.Event, 0, len(rest)+1)
	out = append(out, rest[:pos]...)
	out = append(out, w)
	out = append(out, rest[pos:]...)
	g.co[wl.Addr] = out
	g.touch()
}

// PlaceAfter moves w to immediately after pred in coherence order.
// pred may be Init.
func (g *Graph) PlaceAfter(w, pred event.Event) {
	wl, ok := g.Label(w).(*event.WriteLabel)
	if !ok {
		panic("graph: PlaceAfter on non-write " + w.String())
	}
	rest := g.removeFromCo(wl.Addr, w)
	g.co[wl.Addr] = rest
	pos := 0
	if !pred.IsInit() {
		pos = g.CoIndex(wl.Addr, pred) + 1
	}
	g.MoveInCoherence(w, pos)
}

// Placements computes the coherence placements of the writes in prefix,
// assuming that everything with stamp above cut is removed and then prefix
// is restored. The result is ordered so that every After already exists when
// its placement is replayed.
func (g *Graph) Placements(prefix []event.Label, cut event.Stamp) []CoPlacement {
	inPrefix := make(map[event.Event]bool, len(prefix))
	for _, l := range prefix {
		inPrefix[l.Pos()] = true
	}
	var out []CoPlacement
	for _, a := range g.Locations() {
		after := event.Init
		for _, w := range g.co[a] {
			survives := g.Label(w).Stamp() <= cut
			if inPrefix[w] {
				out = append(out, CoPlacement{Write: w, After: after})
				survives = true
			}
			if survives {
				after = w
			}
		}
	}
	return out
}
