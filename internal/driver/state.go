package driver

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

// State is a self-contained sub-exploration: a graph and the item to apply
// to it. Another driver resumes it with Resume.
type State struct {
	Graph *graph.Graph
	Item  Item
	Stamp event.Stamp
	// Revisits are the recorded revisits at or below Stamp.
	Revisits *RevisitSet
}

// split hands the shallowest pending item to an idle worker. The item
// leaves this driver's worklist, so the subtree is explored exactly once.
func (d *Driver) split() {
	if d.opts.Splitter == nil || d.work.Len() < 2 || !d.opts.Splitter.Idle() {
		return
	}
	it, s, ok := d.work.TakeLowest()
	if !ok {
		return
	}
	d.opts.Splitter.Push(State{
		Graph:    d.g.Clone(),
		Item:     it,
		Stamp:    s,
		Revisits: d.revisits.Clone(s),
	})
}
