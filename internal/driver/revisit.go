package driver

import (
	"sort"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/executor"
)

// calcRevisits queues a backward revisit for every earlier read that could
// read from the new write w. It reports false when the current execution
// is not worth finishing: another pending RMW already reads what w's RMW
// read, or a blocked lock could not be handed over in place.
func (d *Driver) calcRevisits(w *event.WriteLabel) (bool, error) {
	wp := w.Pos()
	if d.opts.Symmetry {
		if s := d.symmetryOf(wp.Thread); s >= 0 && d.sharePrefix(wp.Thread, s, wp.Index+1) {
			// The sibling already revisited these reads with the same prefix.
			return true, nil
		}
	}
	pending := d.pendingRMW(w)
	porf := d.g.Porf().View(wp)
	inRecovery := d.g.IsRecovery(wp.Thread)

	moot := false
	for _, r := range d.g.Reads(w.Addr) {
		rp := r.Pos()
		switch {
		case !r.Revisitable, r.Rf == wp, r.Rf.IsBottom():
			continue
		case rp.HappensBefore(porf):
			continue
		case inRecovery && !d.g.IsRecovery(rp.Thread):
			continue
		case pending != nil && r.Stamp() > pending.Stamp():
			continue
		}

		prefix := d.g.Prefix(wp, r.Stamp())
		placements := d.g.Placements(prefix, r.Stamp())
		key := revisitKey(wp, prefix, placements)

		if d.blockedLock(r) {
			if !w.Unlock {
				continue
			}
			if d.lockInPlace(r, w, key) {
				return true, nil
			}
			moot = true
		}
		if !d.maximalExtension(r, w, prefix) {
			continue
		}
		if d.revisits.Add(r.Stamp(), key) {
			d.addItem(&BackwardRevisit{Read: rp, Write: wp, Prefix: prefix, Placements: placements})
		}
	}
	return !moot && pending == nil, nil
}

// maximalExtension reports whether the backward revisit of r by w is
// taken from this execution. Executions that agree on everything the
// revisit keeps lead to the same graph; only the one in which r and every
// event the cut deletes still hold the choice made when they were added
// revisits. For the same reason w must keep its coherence successor, if it
// has one, or its placement among the remaining writes repeats another.
func (d *Driver) maximalExtension(r *event.ReadLabel, w *event.WriteLabel, prefix []event.Label) bool {
	if r.Revisited {
		return false
	}
	cut := r.Stamp()
	kept := make(map[event.Event]bool, len(prefix))
	for _, l := range prefix {
		kept[l.Pos()] = true
	}
	if !w.RMW {
		co := d.g.Coherence(w.Addr)
		if i := d.g.CoIndex(w.Addr, w.Pos()); i >= 0 && i+1 < len(co) {
			succ := co[i+1]
			if !kept[succ] && d.g.Label(succ).Stamp() > cut {
				return false
			}
		}
	}
	for t := 0; t < d.g.NumThreads(); t++ {
		th := d.g.Thread(t)
		i := sort.Search(len(th), func(i int) bool { return th[i].Stamp() > cut })
		for _, l := range th[i:] {
			if kept[l.Pos()] {
				continue
			}
			switch l := l.(type) {
			case *event.ReadLabel:
				if l.Revisited {
					return false
				}
			case *event.WriteLabel:
				if l.Moved {
					return false
				}
			}
		}
	}
	return true
}

// pendingRMW returns another successful RMW that reads from the same write
// as the RMW whose write half is w. Two RMWs reading one write violate
// atomicity, so such an execution only exists to queue revisits.
func (d *Driver) pendingRMW(w *event.WriteLabel) *event.ReadLabel {
	if !w.RMW {
		return nil
	}
	own, ok := d.g.Label(w.Pos().Prev()).(*event.ReadLabel)
	if !ok {
		return nil
	}
	for _, r := range d.g.Reads(w.Addr) {
		if r == own || !r.IsRMW() || r.Rf != own.Rf {
			continue
		}
		if _, writes := r.WriteValue(d.g.ReadValue(r)); writes {
			return r
		}
	}
	return nil
}

// blockedLock reports whether r is a lock acquisition its thread is stuck
// on: the last event of the thread, reading a held lock.
func (d *Driver) blockedLock(r *event.ReadLabel) bool {
	if !r.IsLock() {
		return false
	}
	if last := d.g.Last(r.Pos().Thread); last == nil || last.Pos() != r.Pos() {
		return false
	}
	_, writes := r.WriteValue(d.g.ReadValue(r))
	return !writes
}

// lockInPlace hands the lock released by unlock w to the thread blocked on
// r without a revisit: r re-reads from w and acquires at once. This is only
// valid while the graph is being extended and w is the latest release.
func (d *Driver) lockInPlace(r *event.ReadLabel, w *event.WriteLabel, key string) bool {
	rp := r.Pos()
	if !d.running || !w.Unlock || !d.g.IsCoMax(w.Addr, w.Pos()) {
		return false
	}
	if d.revisits.Contains(r.Stamp(), key) || d.x.Blockage(rp.Thread) != executor.BlockLockAcq {
		return false
	}
	d.g.ChangeRf(rp, w.Pos())
	lw := &event.WriteLabel{
		Meta:        event.At(rp.Next()),
		Addr:        r.Addr,
		Ord:         r.Ord,
		Value:       1,
		RMW:         true,
		LockAcquire: true,
	}
	d.g.Append(lw)
	d.g.PlaceAfter(lw.Pos(), w.Pos())
	d.x.SetBlockage(rp.Thread, executor.NotBlocked)
	d.prioritize(rp.Thread)
	d.revisits.Add(r.Stamp(), key)
	return true
}

// revisitReads applies a work item to the graph. It reports false when the
// resulting graph is not worth running.
func (d *Driver) revisitReads(it Item) (bool, error) {
	switch it := it.(type) {
	case *CoMoveItem:
		l := d.g.Label(it.Write)
		w, ok := l.(*event.WriteLabel)
		if !ok {
			return false, internalf("coherence move of %v: not a write", it.Write)
		}
		d.restrict(w.Stamp())
		d.g.CutToStamp(w.Stamp())
		d.g.MoveInCoherence(it.Write, it.Pos)
		w.Moved = true
		if err := d.repairDanglingLocks(); err != nil {
			return false, err
		}
		return d.calcRevisits(w)
	case *ForwardRevisit:
		return d.revisitRead(it.Read, it.Write, nil)
	case *BackwardRevisit:
		return d.revisitRead(it.Read, it.Write, it)
	}
	return false, internalf("unexpected work item %T", it)
}

// revisitRead cuts the graph to read rp, restores the prefix of a backward
// revisit and makes rp read from w.
func (d *Driver) revisitRead(rp, w event.Event, back *BackwardRevisit) (bool, error) {
	r, ok := d.g.Label(rp).(*event.ReadLabel)
	if !ok {
		return false, internalf("revisit of %v: not a read", rp)
	}
	d.restrict(r.Stamp())
	d.g.CutToStamp(r.Stamp())
	if back != nil {
		if err := d.g.RestorePrefix(back.Prefix, back.Placements); err != nil {
			return false, internalErr(err, "revisit of %v by %v", rp, w)
		}
	}
	if !w.IsInit() && !d.g.Contains(w) {
		return false, internalf("revisit of %v: write %v is missing", rp, w)
	}
	d.g.ChangeRf(rp, w)
	r.Revisited = true
	if err := d.repairDanglingLocks(); err != nil {
		return false, err
	}
	if v := d.det.Uninitialized(d.g, r); v != nil {
		d.visitError(nil, v)
		return false, nil
	}
	if !r.IsRMW() {
		return true, nil
	}
	nv, writes := r.WriteValue(d.g.ReadValue(r))
	switch {
	case writes:
		return d.addRMWWrite(r, nv)
	case r.IsLock():
		d.prioritize(rp.Thread)
	}
	return true, nil
}

// repairDanglingLocks re-points lock reads whose write was cut away. Such a
// read was handed its lock in place by a later unlock; after the cut it
// waits for the latest release again. Any other dangling read is a defect.
func (d *Driver) repairDanglingLocks() error {
	for t := 0; t < d.g.NumThreads(); t++ {
		for _, l := range d.g.Thread(t) {
			r, ok := l.(*event.ReadLabel)
			if !ok || r.Rf.IsInit() || r.Rf.IsBottom() || d.g.Contains(r.Rf) {
				continue
			}
			if r.IsLock() && d.g.Last(t) == l {
				d.g.ChangeRf(r.Pos(), d.g.CoMax(r.Addr))
				d.prioritize(t)
				continue
			}
			return internalf("read %v reads from missing write %v", r.Pos(), r.Rf)
		}
	}
	return nil
}
