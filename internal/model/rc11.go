package model

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

// RC11 is the repaired C11 model without consume: synchronization follows
// the ordering annotations (including fences), coherence per location,
// RMW atomicity, no out-of-thin-air values (porf acyclic) and, in full
// checks, an acyclic order over sequentially consistent events.
type RC11 struct {
	graph.AnnotatedSync
}

func (RC11) Name() string { return "rc11" }

func (RC11) StoresToLoc(g *graph.Graph, r *event.ReadLabel, lapor bool) []event.Event {
	return coherentStores(g, r, lapor)
}

func (RC11) CoherenceRange(g *graph.Graph, w *event.WriteLabel, lapor bool) (int, int) {
	return coherenceRange(g, w, lapor)
}

func (RC11) NewChecker(g *graph.Graph, locks bool) Checker {
	hb := graph.NewClosure(g, hbPreds(locks))
	porf := graph.NewClosure(g, porfPreds)
	return &fixpointChecker{
		closures: []*graph.Closure{hb, porf},
		final: func(full bool) bool {
			if !atomic(g) || !coherent(g, hb) {
				return false
			}
			return !full || scOrderAcyclic(g, hb)
		},
	}
}

func (RC11) Granularity() CheckPoint { return CheckEnd }

func (RC11) NeedsFinalCheck() bool { return false }
