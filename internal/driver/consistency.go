package driver

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
	"github.com/kolkov/weakcheck/internal/model"
)

// shouldCheck reports whether consistency is checked at point. Errors are
// always confirmed, and lock-aware mode checks everywhere because critical
// sections are not ordered while the graph is built.
func (d *Driver) shouldCheck(point model.CheckPoint) bool {
	return point == model.CheckError || d.opts.LAPOR || d.policy.Granularity() <= point
}

// isConsistent checks the current graph at point.
func (d *Driver) isConsistent(point model.CheckPoint) bool {
	if !d.shouldCheck(point) {
		return true
	}
	full := point >= model.CheckEnd
	if !fixpoint(d.policy.NewChecker(d.g, !d.opts.LAPOR), full) {
		return false
	}
	if !full {
		return true
	}
	if d.policy.NeedsFinalCheck() || (d.opts.LAPOR && len(d.g.LockAddrs()) > 0) {
		return d.finalCheck()
	}
	return true
}

func fixpoint(c model.Checker, full bool) bool {
	for {
		changed, consistent := c.Step(full)
		if !consistent {
			return false
		}
		if !changed {
			return true
		}
	}
}

// finalCheck searches for a total order of the critical sections of every
// lock that makes the graph consistent.
//
// Sections already ordered by happens-before (without lock order) keep
// their order; a section still open must come last on its lock. The search
// stops after MaxLinearExtensions orders, and the graph is then assumed to
// be consistent.
func (d *Driver) finalCheck() bool {
	d.g.ResetLockOrder()
	defer d.g.ResetLockOrder()

	var entries []event.Event
	lockOf := make(map[event.Event]event.Addr)
	for _, a := range d.g.LockAddrs() {
		for _, e := range d.g.LockOrder(a) {
			entries = append(entries, e)
			lockOf[e] = a
		}
	}
	if len(entries) == 0 {
		return true
	}

	hb := d.g.HbNoLocks()
	m := graph.NewMatrix(len(entries))
	for i, x := range entries {
		_, closedX := d.g.UnlockOf(x)
		for j, y := range entries {
			if i == j || lockOf[x] != lockOf[y] {
				continue
			}
			_, closedY := d.g.UnlockOf(y)
			if hb.Before(x, y) || (closedX && !closedY) {
				m.Add(i, j)
			}
		}
	}
	m.Close()
	if !m.Acyclic() {
		return false
	}

	c := d.policy.NewChecker(d.g, true)
	snap := c.Snapshot()
	consistent := false
	n := m.LinearExtensions(d.opts.MaxLinearExtensions, func(order []int) bool {
		byLock := make(map[event.Addr][]event.Event)
		for _, i := range order {
			e := entries[i]
			byLock[lockOf[e]] = append(byLock[lockOf[e]], e)
		}
		d.g.InstallLockOrder(byLock)
		c.Restore(snap)
		if fixpoint(c, true) {
			consistent = true
			return false
		}
		return true
	})
	if !consistent && n >= d.opts.MaxLinearExtensions {
		d.log.Warn("critical-section order search cut off, assuming consistent",
			"orders", n, "sections", len(entries))
		return true
	}
	return consistent
}
