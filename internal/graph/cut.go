package graph

import (
	"fmt"
	"sort"

	"github.com/kolkov/weakcheck/internal/event"
)

// CutToStamp removes every label whose stamp is greater than s.
//
// Stamps increase along program order, so each thread loses a suffix.
// Threads whose creating event was removed are dropped; thread ids are
// assigned in creation order, so those are always trailing slots.
func (g *Graph) CutToStamp(s event.Stamp) {
	for t, th := range g.threads {
		n := sort.Search(len(th), func(i int) bool { return th[i].Stamp() > s })
		for i := n; i < len(th); i++ {
			th[i] = nil
		}
		g.threads[t] = th[:n]
	}
	for len(g.threads) > 1 {
		t := len(g.threads) - 1
		if g.Contains(g.parents[t]) {
			break
		}
		g.threads = g.threads[:t]
		g.parents = g.parents[:t]
	}
	for a, ws := range g.co {
		kept := ws[:0]
		for _, w := range ws {
			if g.Contains(w) {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(g.co, a)
			continue
		}
		g.co[a] = kept
	}
	for a, order := range g.lockOrder {
		kept := order[:0]
		for _, l := range order {
			if g.Contains(l) {
				kept = append(kept, l)
			}
		}
		g.lockOrder[a] = kept
	}
	g.touch()
}

// Prefix returns copies of the labels in the program-order-union-reads-from
// prefix of e (e included) whose stamp is greater than s, sorted by stamp.
// These are exactly the labels a cut to s would remove and a backward
// revisit to e's write has to restore.
func (g *Graph) Prefix(e event.Event, s event.Stamp) []event.Label {
	view := g.Porf().View(e)
	var out []event.Label
	for t := 0; t < len(g.threads); t++ {
		n := int(view.Get(t))
		for i := 0; i < n && i < len(g.threads[t]); i++ {
			if l := g.threads[t][i]; l.Stamp() > s {
				out = append(out, l.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stamp() < out[j].Stamp() })
	return out
}

// RestorePrefix re-inserts a saved prefix after a cut.
//
// Labels are re-stamped in their original stamp order, so relative history
// is preserved. Restored reads become non-revisitable: their reads-from
// choices are part of the revisit being applied. Coherence placements are
// replayed in order.
func (g *Graph) RestorePrefix(prefix []event.Label, placements []CoPlacement) error {
	sorted := append([]event.Label(nil), prefix...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Stamp() < sorted[j].Stamp() })

	for _, saved := range sorted {
		l := saved.Clone()
		pos := l.Pos()
		if pos.Thread >= len(g.threads) {
			return fmt.Errorf("restore %v: thread %d does not exist", pos, pos.Thread)
		}
		if pos.Index != len(g.threads[pos.Thread]) {
			return fmt.Errorf("restore %v: thread %d has %d labels", pos, pos.Thread, len(g.threads[pos.Thread]))
		}
		if r, ok := l.(*event.ReadLabel); ok {
			r.Revisitable = false
		}
		event.SetStamp(l, g.next)
		g.next++
		g.threads[pos.Thread] = append(g.threads[pos.Thread], l)
		if tc, ok := l.(*event.ThreadCreateLabel); ok {
			if tc.Child != len(g.threads) {
				return fmt.Errorf("restore %v: child %d out of order", pos, tc.Child)
			}
			g.threads = append(g.threads, nil)
			g.parents = append(g.parents, pos)
		}
	}
	for _, p := range placements {
		wl, ok := g.Label(p.Write).(*event.WriteLabel)
		if !ok {
			return fmt.Errorf("restore placement: %v is not a write", p.Write)
		}
		if !p.After.IsInit() && !g.Contains(p.After) {
			return fmt.Errorf("restore placement: %v missing", p.After)
		}
		g.co[wl.Addr] = append(g.co[wl.Addr], p.Write)
		g.PlaceAfter(p.Write, p.After)
	}
	g.touch()
	return nil
}
