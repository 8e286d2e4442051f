package driver

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/report"
	"github.com/kolkov/weakcheck/internal/vectorclock"
)

// startRecovery adds the recovery thread once every program thread has
// finished. It reports whether a thread was added.
//
// The recovery routine starts after the persistency barrier, or after the
// end of main when the program has none. A program with several barriers
// is rejected.
func (d *Driver) startRecovery() (bool, error) {
	if !d.opts.Persistency || d.prog.Recovery == "" || d.recovery >= 0 {
		return false, nil
	}
	for t := 0; t < d.x.NumThreads(); t++ {
		if th := d.x.Thread(t); th == nil || !th.Finished {
			return false, nil
		}
	}

	var barriers []event.Event
	for t := 0; t < d.g.NumThreads(); t++ {
		for _, l := range d.g.Thread(t) {
			if _, ok := l.(*event.PbarrierLabel); ok {
				barriers = append(barriers, l.Pos())
			}
		}
	}
	var parent event.Event
	switch len(barriers) {
	case 0:
		last := d.g.Last(0)
		if last == nil {
			return false, nil
		}
		parent = last.Pos()
	case 1:
		parent = barriers[0]
	default:
		v := report.New(report.RecoveryError, barriers[1], "more than one persistency barrier").WithConflict(barriers[0])
		d.visitError(nil, v)
		return false, nil
	}

	t := d.g.AddThread(parent)
	if _, err := d.x.AddThread(t, parent, d.prog.Recovery, 0); err != nil {
		return false, internalErr(err, "recovery thread")
	}
	d.recovery = t
	d.log.Debug("recovery started", "thread", t, "after", parent)
	return true, nil
}

// persistedStores keeps the disk writes the recovery routine may observe
// after a crash: its own writes, and every program write not older in
// coherence than the latest durable one. A write is durable once its thread
// syncs the file after it, or when it happens before the persistency
// barrier the routine starts from.
func (d *Driver) persistedStores(r *event.ReadLabel, stores []event.Event) []event.Event {
	fd, _ := r.Addr.Disk()
	parent := d.g.Parent(r.Pos().Thread)
	_, barrier := d.g.Label(parent).(*event.PbarrierLabel)
	var view vectorclock.VectorClock
	if barrier {
		view = d.g.Hb().View(parent)
	}
	lower := -1
	for i, w := range d.g.Coherence(r.Addr) {
		if d.g.IsRecovery(w.Thread) {
			continue
		}
		if d.syncedAfter(w, fd) || (barrier && w.HappensBefore(view)) {
			lower = i
		}
	}
	var out []event.Event
	for _, w := range stores {
		if w.IsInit() {
			if lower < 0 {
				out = append(out, w)
			}
			continue
		}
		if d.g.IsRecovery(w.Thread) || d.g.CoIndex(r.Addr, w) >= lower {
			out = append(out, w)
		}
	}
	return out
}

// syncedAfter reports whether w's thread syncs descriptor fd after w.
func (d *Driver) syncedAfter(w event.Event, fd int) bool {
	th := d.g.Thread(w.Thread)
	for i := w.Index + 1; i < len(th); i++ {
		if s, ok := th[i].(*event.DiskSyncLabel); ok && s.FD == fd {
			return true
		}
	}
	return false
}
