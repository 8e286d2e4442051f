package model

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

// RA is release/acquire consistency: every atomic access synchronizes, and
// each location is coherent with respect to happens-before. Unlike SC, two
// threads may disagree on the order of writes to different locations.
type RA struct{}

func (RA) Name() string { return "ra" }

// Releases implements graph.SyncPolicy.
func (RA) Releases(l event.Label) bool { return atomicAnnotation(l) }

// Acquires implements graph.SyncPolicy.
func (RA) Acquires(l event.Label) bool { return atomicAnnotation(l) }

func (RA) StoresToLoc(g *graph.Graph, r *event.ReadLabel, lapor bool) []event.Event {
	return coherentStores(g, r, lapor)
}

func (RA) CoherenceRange(g *graph.Graph, w *event.WriteLabel, lapor bool) (int, int) {
	return coherenceRange(g, w, lapor)
}

func (RA) NewChecker(g *graph.Graph, locks bool) Checker {
	hb := graph.NewClosure(g, hbPreds(locks))
	porf := graph.NewClosure(g, porfPreds)
	return &fixpointChecker{
		closures: []*graph.Closure{hb, porf},
		final: func(bool) bool {
			return atomic(g) && coherent(g, hb)
		},
	}
}

func (RA) Granularity() CheckPoint { return CheckEnd }

func (RA) NeedsFinalCheck() bool { return false }
