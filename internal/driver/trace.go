package driver

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/executor"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/program"
	"github.com/kolkov/weakcheck/internal/report"
)

// fill completes a violation with graph descriptions, source positions and
// causal traces. pending is the thread whose action exposed the violation
// when that action has no event in the graph (a failed join, an unlock of a
// lock not held, a failed assertion).
func (d *Driver) fill(v *report.Violation, pending *executor.Thread) {
	if d.g.Contains(v.Event) {
		pending = nil
		if v.Desc == "" {
			v.Desc = d.g.Describe(v.Event)
		}
	}
	v.Trace, v.Source = d.trace(v.Event, v.Desc, pending)
	if !v.Conflict.IsBottom() {
		if v.ConflictDesc == "" {
			v.ConflictDesc = d.g.Describe(v.Conflict)
		}
		v.ConflictTrace, v.ConflictSource = d.trace(v.Conflict, v.ConflictDesc, nil)
	}
	if d.opts.PrintGraphs {
		v.Graph = d.g.Render()
	}
	if d.opts.DOTFile != "" {
		if err := d.g.SaveDOT(d.opts.DOTFile); err != nil {
			d.log.Warn("cannot write graph", "file", d.opts.DOTFile, "err", err)
		}
	}
}

// trace returns the causal history of e in a linear order, each step with
// the source position that produced it, and the source position of e.
func (d *Driver) trace(e event.Event, desc string, pending *executor.Thread) ([]report.TraceStep, program.Pos) {
	anchor := e
	if !d.g.Contains(anchor) {
		anchor = e.Prev()
	}
	var (
		steps []report.TraceStep
		src   program.Pos
	)
	if anchor.Index >= 0 && d.g.Contains(anchor) {
		where, err := executor.ReplayView(d.prog, d.g, d.g.Porf().View(anchor), d.opts.Unroll)
		if err != nil {
			d.log.Warn("cannot replay trace", "event", e, "err", err)
		}
		for _, p := range linearize(d.g, anchor) {
			steps = append(steps, report.TraceStep{Event: p, Desc: d.g.Describe(p), Source: where[p]})
		}
		src = where[e]
	}
	if pending != nil {
		src = pending.SourcePos()
		steps = append(steps, report.TraceStep{Event: e, Desc: desc, Source: src})
	}
	return steps, src
}

// linearize lists the program-order, reads-from, creation and join history
// of e (e included) so that every event comes after its predecessors.
//
// The traversal keeps an explicit stack and, per thread, the number of
// events already emitted; deep histories never recurse.
func linearize(g *graph.Graph, e event.Event) []event.Event {
	done := make([]int, g.NumThreads())
	limit := len(g.Labels()) + 1
	var out []event.Event
	stack := []event.Event{e}
	for len(stack) > 0 && len(stack) <= limit {
		top := stack[len(stack)-1]
		if done[top.Thread] > top.Index {
			stack = stack[:len(stack)-1]
			continue
		}
		next := event.New(top.Thread, done[top.Thread])
		if p, ok := pendingPred(g, next, done); ok {
			stack = append(stack, p)
			continue
		}
		out = append(out, next)
		done[top.Thread]++
	}
	return out
}

// pendingPred returns a cross-thread predecessor of e not yet emitted.
func pendingPred(g *graph.Graph, e event.Event, done []int) (event.Event, bool) {
	var preds []event.Event
	switch l := g.Label(e).(type) {
	case *event.ReadLabel:
		if !l.Rf.IsInit() && !l.Rf.IsBottom() {
			preds = append(preds, l.Rf)
		}
	case *event.ThreadStartLabel:
		if !l.Parent.IsBottom() {
			preds = append(preds, l.Parent)
		}
	case *event.ThreadJoinLabel:
		if fin, ok := g.Last(l.Child).(*event.ThreadFinishLabel); ok {
			preds = append(preds, fin.Pos())
		}
	}
	for _, p := range preds {
		if g.Contains(p) && done[p.Thread] <= p.Index {
			return p, true
		}
	}
	return event.Bottom, false
}
