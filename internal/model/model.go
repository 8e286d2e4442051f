// Package model implements memory-model policies.
//
// A Policy is everything the exploration driver needs to know about a memory
// model: which accesses synchronize, which writes a read may observe, where a
// new write may go in coherence order, and how to decide consistency of a
// whole graph. The driver is a single implementation parameterized by the
// policy chosen at construction.
package model

import (
	"fmt"
	"sort"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

// CheckPoint identifies where in the exploration a consistency check is
// being considered.
type CheckPoint uint8

const (
	// CheckStep is after every added event.
	CheckStep CheckPoint = iota
	// CheckRevisit is after a work item was applied.
	CheckRevisit
	// CheckEnd is when an execution finished.
	CheckEnd
	// CheckError is before a violation is reported.
	CheckError
)

func (p CheckPoint) String() string {
	switch p {
	case CheckStep:
		return "step"
	case CheckRevisit:
		return "revisit"
	case CheckEnd:
		return "end"
	case CheckError:
		return "error"
	}
	return fmt.Sprintf("CheckPoint(%d)", uint8(p))
}

// Checker runs one consistency check as a fixpoint calculation.
//
// Step runs one iteration and reports whether anything changed and whether
// the graph is still consistent. Callers loop while changed && consistent.
// A full step additionally evaluates the expensive axioms of the model.
type Checker interface {
	Step(full bool) (changed, consistent bool)
	// Snapshot saves the relation state; Restore brings it back.
	Snapshot() any
	Restore(s any)
}

// Policy is a memory model.
type Policy interface {
	graph.SyncPolicy

	Name() string

	// StoresToLoc returns the writes r may read from without violating
	// coherence with what is already hb-before r, Init first, then in
	// coherence order. lapor selects happens-before without
	// critical-section order.
	StoresToLoc(g *graph.Graph, r *event.ReadLabel, lapor bool) []event.Event

	// CoherenceRange returns the legal coherence positions of the newly
	// appended write w as the number of other writes preceding it:
	// every p with lo <= p <= hi is allowed.
	CoherenceRange(g *graph.Graph, w *event.WriteLabel, lapor bool) (lo, hi int)

	// NewChecker prepares a consistency check of g. With locks set the
	// critical sections are ordered by the graph's installed lock order.
	NewChecker(g *graph.Graph, locks bool) Checker

	// Granularity is the check point at which the model requires a check.
	Granularity() CheckPoint

	// NeedsFinalCheck reports whether consistency needs the exhaustive
	// search over total orders on top of the fixpoint.
	NeedsFinalCheck() bool
}

var registry = map[string]func() Policy{
	"sc":   func() Policy { return SC{} },
	"ra":   func() Policy { return RA{} },
	"rc11": func() Policy { return RC11{} },
}

// New returns the policy registered under name.
func New(name string) (Policy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown memory model %q (available: %v)", name, Names())
	}
	return f(), nil
}

// Names returns the registered model names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
