package model

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

// SC is sequential consistency: some interleaving of all events explains
// every value read. Equivalently, po ∪ rf ∪ co ∪ fr is acyclic.
type SC struct{}

func (SC) Name() string { return "sc" }

// Releases implements graph.SyncPolicy: every atomic write and fence releases.
func (SC) Releases(l event.Label) bool { return atomicAnnotation(l) }

// Acquires implements graph.SyncPolicy: every atomic read and fence acquires.
func (SC) Acquires(l event.Label) bool { return atomicAnnotation(l) }

func (SC) StoresToLoc(g *graph.Graph, r *event.ReadLabel, lapor bool) []event.Event {
	return coherentStores(g, r, lapor)
}

func (SC) CoherenceRange(g *graph.Graph, w *event.WriteLabel, lapor bool) (int, int) {
	return coherenceRange(g, w, lapor)
}

func (SC) NewChecker(g *graph.Graph, locks bool) Checker {
	preds := graph.CombinePreds(graph.StructuralPreds, graph.RfPreds, coFrPreds)
	if locks {
		preds = graph.CombinePreds(preds, graph.LockPreds)
	}
	return &fixpointChecker{
		closures: []*graph.Closure{graph.NewClosure(g, preds)},
		final:    func(bool) bool { return atomic(g) },
	}
}

func (SC) Granularity() CheckPoint { return CheckStep }

func (SC) NeedsFinalCheck() bool { return false }

// atomicAnnotation reports whether l is an atomic access or a fence.
func atomicAnnotation(l event.Label) bool {
	switch l := l.(type) {
	case *event.ReadLabel:
		return l.Ord.IsAtomic()
	case *event.WriteLabel:
		return l.Ord.IsAtomic()
	case *event.FenceLabel:
		return true
	}
	return false
}
