package graph

import (
	"fmt"

	"github.com/kolkov/weakcheck/internal/event"
)

// Validate checks the structural invariants of the graph. It is run after
// every step in debug mode; a failure is a defect of the checker, not of the
// program under test.
func (g *Graph) Validate() error {
	if len(g.threads) == 0 || len(g.threads[0]) == 0 {
		return fmt.Errorf("main thread is empty")
	}
	if _, ok := g.threads[0][0].(*event.ThreadStartLabel); !ok {
		return fmt.Errorf("main thread does not begin with a start label")
	}
	seen := make(map[event.Stamp]event.Event)
	for t, th := range g.threads {
		for i, l := range th {
			pos := event.New(t, i)
			if l.Pos() != pos {
				return fmt.Errorf("label at %v claims position %v", pos, l.Pos())
			}
			if prev, dup := seen[l.Stamp()]; dup {
				return fmt.Errorf("stamp %d used by %v and %v", l.Stamp(), prev, pos)
			}
			seen[l.Stamp()] = pos
			if l.Stamp() >= g.next {
				return fmt.Errorf("label %v has stamp %d beyond next %d", pos, l.Stamp(), g.next)
			}
			if i > 0 && th[i-1].Stamp() >= l.Stamp() {
				return fmt.Errorf("stamps decrease along program order at %v", pos)
			}
			if err := g.validateLabel(l); err != nil {
				return err
			}
		}
	}
	for a, ws := range g.co {
		inCo := make(map[event.Event]bool, len(ws))
		for _, w := range ws {
			wl, ok := g.Label(w).(*event.WriteLabel)
			if !ok || wl.Addr != a {
				return fmt.Errorf("coherence order of %v holds %v", a, w)
			}
			if inCo[w] {
				return fmt.Errorf("write %v appears twice in coherence order", w)
			}
			inCo[w] = true
		}
	}
	for _, th := range g.threads {
		for _, l := range th {
			if w, ok := l.(*event.WriteLabel); ok && g.CoIndex(w.Addr, w.Pos()) < 0 {
				return fmt.Errorf("write %v missing from coherence order", w.Pos())
			}
		}
	}
	return nil
}

func (g *Graph) validateLabel(l event.Label) error {
	switch l := l.(type) {
	case *event.ReadLabel:
		if l.Rf.IsBottom() || l.Rf.IsInit() {
			return nil
		}
		w, ok := g.Label(l.Rf).(*event.WriteLabel)
		if !ok {
			return fmt.Errorf("read %v reads from non-write %v", l.Pos(), l.Rf)
		}
		if w.Addr != l.Addr {
			return fmt.Errorf("read %v of %v reads from write %v of %v", l.Pos(), l.Addr, w.Pos(), w.Addr)
		}
	case *event.WriteLabel:
		if !l.RMW {
			return nil
		}
		r, ok := g.Label(l.Pos().Prev()).(*event.ReadLabel)
		if !ok || !r.IsRMW() || r.Addr != l.Addr {
			return fmt.Errorf("RMW write %v not preceded by its read", l.Pos())
		}
	case *event.ThreadStartLabel:
		t := l.Pos().Thread
		if l.Pos().Index != 0 {
			return fmt.Errorf("start label at %v", l.Pos())
		}
		if t > 0 && l.Parent != g.parents[t] {
			return fmt.Errorf("thread %d started by %v, created by %v", t, l.Parent, g.parents[t])
		}
	}
	return nil
}
