package driver

import (
	"syscall"

	"github.com/kolkov/weakcheck/internal/detector"
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/executor"
	"github.com/kolkov/weakcheck/internal/model"
	"github.com/kolkov/weakcheck/internal/report"
)

var one = executor.Result{Done: true, Events: 1}

// Visit implements executor.Handler.
//
// An action whose event already exists at the thread's position is a
// replay and reuses that event; detectors only run for new events.
func (d *Driver) Visit(t *executor.Thread, a *executor.Action) (executor.Result, error) {
	res, ok, err := executor.Recorded(d.g, t, a)
	if err != nil {
		return executor.Result{}, internalErr(err, "replay of thread %d", t.ID)
	}
	if ok {
		return d.replayed(t, a, res)
	}
	if t.ID == d.recovery {
		if v := checkRecoveryCall(t, a); v != nil {
			return d.visitError(t, v), nil
		}
	}

	switch a.Kind {
	case executor.ActStart:
		return d.visitStart(t), nil
	case executor.ActFinish:
		d.g.Append(&event.ThreadFinishLabel{Meta: event.At(t.Pos()), Ret: a.Value})
		return executor.Result{Value: a.Value, Done: true, Events: 1}, nil
	case executor.ActSpawn:
		return d.visitSpawn(t, a)
	case executor.ActJoin:
		return d.visitJoin(t, a), nil
	case executor.ActLoad, executor.ActFetchAdd, executor.ActCompareSwap, executor.ActAwait, executor.ActDiskRead:
		return d.visitRead(t, a)
	case executor.ActLock:
		if d.opts.LAPOR {
			return d.visitLockSection(t, a), nil
		}
		return d.visitRead(t, a)
	case executor.ActUnlock:
		if d.opts.LAPOR {
			return d.visitUnlockSection(t, a), nil
		}
		return d.visitWrite(t, a)
	case executor.ActStore, executor.ActDiskWrite, executor.ActDiskTrunc:
		return d.visitWrite(t, a)
	case executor.ActFence:
		d.g.Append(&event.FenceLabel{Meta: event.At(t.Pos()), Ord: a.Ord})
		return one, nil
	case executor.ActMalloc:
		return d.visitMalloc(t, a), nil
	case executor.ActFree:
		return d.visitFree(t, a), nil
	case executor.ActDiskOpen:
		d.x.FDs().Open(a.FD, a.File)
		d.g.Append(&event.DiskOpenLabel{Meta: event.At(t.Pos()), FD: int(a.FD), Name: a.File})
		return executor.Result{Value: a.FD, Done: true, Events: 1}, nil
	case executor.ActDiskSync:
		if v := d.checkFD(t, a); v != nil {
			return d.visitError(t, v), nil
		}
		d.g.Append(&event.DiskSyncLabel{Meta: event.At(t.Pos()), FD: int(a.FD)})
		return one, nil
	case executor.ActPbarrier:
		d.g.Append(&event.PbarrierLabel{Meta: event.At(t.Pos())})
		return one, nil
	case executor.ActAssertFail:
		v := report.New(report.SafetyViolation, t.Pos(), "assertion failed: %s", a.Instr.Text)
		v.Desc = a.Instr.Text
		return d.visitError(t, v), nil
	}
	return executor.Result{}, internalf("thread %d: unexpected action %v", t.ID, a.Kind)
}

// replayed completes a replayed action. Side effects the executor keeps
// outside the graph (allocations, descriptors) are re-applied, and the
// write half of an RMW whose write was cut away is added again.
func (d *Driver) replayed(t *executor.Thread, a *executor.Action, res executor.Result) (executor.Result, error) {
	pos := t.Pos()
	switch a.Kind {
	case executor.ActMalloc:
		if m, ok := d.g.Label(pos).(*event.MallocLabel); ok {
			if _, err := d.x.Memory().Allocate(pos, int64(m.Size)); err != nil {
				return executor.Result{}, internalErr(err, "replay of allocation %v", pos)
			}
		}
	case executor.ActDiskOpen:
		d.x.FDs().Open(a.FD, a.File)
	case executor.ActLoad, executor.ActAwait, executor.ActDiskRead:
		if r, ok := d.g.Label(pos).(*event.ReadLabel); ok && r.Rf.IsBottom() {
			// The access was invalid when it was added.
			return executor.Result{Block: executor.BlockError}, nil
		}
	case executor.ActFetchAdd, executor.ActCompareSwap, executor.ActLock:
		r, ok := d.g.Label(pos).(*event.ReadLabel)
		if !ok || res.Events != 1 || res.Block != executor.NotBlocked {
			break
		}
		if r.Rf.IsBottom() {
			return executor.Result{Block: executor.BlockError}, nil
		}
		nv, writes := r.WriteValue(d.g.ReadValue(r))
		if !r.IsRMW() || !writes {
			break
		}
		valid, err := d.addRMWWrite(r, nv)
		if err != nil {
			return executor.Result{}, err
		}
		if d.violation != nil {
			return executor.Result{Block: executor.BlockError}, nil
		}
		if !valid {
			d.moot = true
		}
		res.Events = 2
	}
	return res, nil
}

func checkRecoveryCall(t *executor.Thread, a *executor.Action) *report.Violation {
	switch a.Kind {
	case executor.ActSpawn, executor.ActJoin, executor.ActLock, executor.ActMalloc:
		v := report.New(report.InvalidRecoveryCall, t.Pos(), "%v is not allowed in the recovery routine", a.Kind)
		v.Desc = a.Instr.Text
		return v
	}
	return nil
}

func (d *Driver) checkFD(t *executor.Thread, a *executor.Action) *report.Violation {
	if d.x.FDs().IsOpen(a.FD) {
		return nil
	}
	v := report.New(report.SystemError, t.Pos(), "%v on descriptor %d, which is not open", a.Kind, a.FD).WithErrno(syscall.EBADF)
	v.Desc = a.Instr.Text
	return v
}

func (d *Driver) visitStart(t *executor.Thread) executor.Result {
	l := &event.ThreadStartLabel{
		Meta:      event.At(t.Pos()),
		Parent:    t.Parent,
		Func:      t.Func.Name,
		Arg:       t.Arg,
		Symmetric: -1,
	}
	if d.opts.Symmetry {
		l.Symmetric = d.symmetricPredecessor(t.ID)
	}
	d.g.Append(l)
	return one
}

func (d *Driver) visitSpawn(t *executor.Thread, a *executor.Action) (executor.Result, error) {
	pos := t.Pos()
	child := d.g.NumThreads()
	d.g.Append(&event.ThreadCreateLabel{Meta: event.At(pos), Child: child, Func: a.Func, Arg: a.Value})
	d.g.AddThread(pos)
	if _, err := d.x.AddThread(child, pos, a.Func, a.Value); err != nil {
		return executor.Result{}, internalErr(err, "spawn at %v", pos)
	}
	return executor.Result{Value: int64(child), Done: true, Events: 1}, nil
}

// visitJoin adds the join once the child has finished and blocks the
// thread until then.
func (d *Driver) visitJoin(t *executor.Thread, a *executor.Action) executor.Result {
	pos := t.Pos()
	if v := detector.CheckJoin(d.g, pos, a.Value); v != nil {
		v.Desc = a.Instr.Text
		return d.visitError(t, v)
	}
	child := int(a.Value)
	if _, ok := d.g.Last(child).(*event.ThreadFinishLabel); !ok {
		d.joinWait[t.ID] = child
		return executor.Result{Block: executor.BlockJoin}
	}
	d.g.Append(&event.ThreadJoinLabel{Meta: event.At(pos), Child: child})
	return one
}

// visitRead adds a read, picks the write it reads from and queues the
// other candidates as forward revisits.
func (d *Driver) visitRead(t *executor.Thread, a *executor.Action) (executor.Result, error) {
	pos := t.Pos()
	if a.Kind == executor.ActDiskRead {
		if v := d.checkFD(t, a); v != nil {
			return d.visitError(t, v), nil
		}
	}
	r := &event.ReadLabel{Meta: event.At(pos), Addr: a.Addr, Ord: a.Ord, Rf: event.Bottom, Revisitable: true}
	switch a.Kind {
	case executor.ActFetchAdd:
		r.RMW, r.Operand = event.RMWFetchAdd, a.Value
	case executor.ActCompareSwap:
		r.RMW, r.Expected, r.Operand = event.RMWCompareSwap, a.Expected, a.Value
	case executor.ActLock:
		r.RMW = event.RMWLock
	case executor.ActAwait:
		r.Spin = true
	}
	d.g.Append(r)
	if v := d.det.OnAccess(d.g, r); v != nil {
		return d.visitError(t, v), nil
	}

	stores, fallback := d.readCandidates(r)
	if len(stores) == 0 {
		// Every candidate is inconsistent: this prefix leads nowhere.
		d.g.ChangeRf(pos, fallback)
		d.moot = true
		return executor.Result{Block: executor.BlockCons}, nil
	}
	d.g.ChangeRf(pos, stores[len(stores)-1])
	for _, w := range stores[:len(stores)-1] {
		d.addItem(&ForwardRevisit{Read: pos, Write: w})
	}
	if v := d.det.OnRead(d.g, r); v != nil {
		return d.visitError(t, v), nil
	}
	return d.completeRead(a, r)
}

// readCandidates returns the writes r may read from, coherence-maximal
// last, and the write to fall back on when none of them is consistent.
func (d *Driver) readCandidates(r *event.ReadLabel) ([]event.Event, event.Event) {
	stores := d.policy.StoresToLoc(d.g, r, d.opts.LAPOR)
	if len(stores) == 0 {
		return nil, d.g.CoMax(r.Addr)
	}
	fallback := stores[len(stores)-1]
	if r.IsLock() {
		stores = d.acquirable(r, stores)
	}
	if r.Addr.IsDisk() && d.g.IsRecovery(r.Pos().Thread) {
		stores = d.persistedStores(r, stores)
	}
	stores = d.filterSymmetricStores(r, stores)
	return d.filterConsistent(r, stores), fallback
}

// acquirable keeps the writes a lock read can acquire from. A read of a
// held lock is only useful when nothing else is possible; it blocks and
// waits for the unlock to revisit it.
func (d *Driver) acquirable(r *event.ReadLabel, stores []event.Event) []event.Event {
	var free []event.Event
	for _, w := range stores {
		if _, ok := r.WriteValue(d.g.ValueOf(w, r.Addr)); ok {
			free = append(free, w)
		}
	}
	if len(free) == 0 {
		return stores[len(stores)-1:]
	}
	return free
}

// filterConsistent drops the candidates that make the graph inconsistent
// when the model checks every step.
func (d *Driver) filterConsistent(r *event.ReadLabel, stores []event.Event) []event.Event {
	if !d.shouldCheck(model.CheckStep) {
		return stores
	}
	out := stores[:0:0]
	for _, w := range stores {
		d.g.ChangeRf(r.Pos(), w)
		if d.isConsistent(model.CheckStep) {
			out = append(out, w)
		}
	}
	d.g.ChangeRf(r.Pos(), event.Bottom)
	return out
}

// completeRead finishes a read whose reads-from edge is set: it adds the
// write half of a successful RMW and blocks held locks and failed awaits.
func (d *Driver) completeRead(a *executor.Action, r *event.ReadLabel) (executor.Result, error) {
	val := d.g.ReadValue(r)
	res := executor.Result{Value: val, Done: true, Events: 1}
	if r.IsRMW() {
		nv, writes := r.WriteValue(val)
		switch {
		case writes:
			valid, err := d.addRMWWrite(r, nv)
			if err != nil {
				return executor.Result{}, err
			}
			if d.violation != nil {
				return executor.Result{Block: executor.BlockError}, nil
			}
			if !valid {
				d.moot = true
			}
			res.Events = 2
			return res, nil
		case r.IsLock():
			return executor.Result{Block: executor.BlockLockAcq}, nil
		}
	}
	if a.Kind == executor.ActAwait && !a.Cond.Eval(val, a.Value) {
		return executor.Result{Value: val, Block: executor.BlockSpinloop}, nil
	}
	return res, nil
}

// addRMWWrite appends the write half of r right after the write r reads
// from and computes its revisits. It returns false when the execution is
// not worth continuing.
func (d *Driver) addRMWWrite(r *event.ReadLabel, val int64) (bool, error) {
	w := &event.WriteLabel{
		Meta:        event.At(r.Pos().Next()),
		Addr:        r.Addr,
		Ord:         r.Ord,
		Value:       val,
		RMW:         true,
		LockAcquire: r.IsLock(),
	}
	d.g.Append(w)
	d.g.PlaceAfter(w.Pos(), r.Rf)
	if v := d.det.OnWrite(d.g, w); v != nil {
		d.visitError(d.x.Thread(w.Pos().Thread), v)
		return false, nil
	}
	return d.calcRevisits(w)
}

// visitWrite adds a write, queues its other coherence positions and the
// backward revisits of the reads it could satisfy.
func (d *Driver) visitWrite(t *executor.Thread, a *executor.Action) (executor.Result, error) {
	pos := t.Pos()
	switch a.Kind {
	case executor.ActUnlock:
		if v := detector.CheckUnlock(d.g, t.ID, a.Addr, pos); v != nil {
			v.Desc = a.Instr.Text
			return d.visitError(t, v), nil
		}
	case executor.ActDiskWrite:
		if v := d.checkFD(t, a); v != nil {
			return d.visitError(t, v), nil
		}
	case executor.ActDiskTrunc:
		if v := d.checkFD(t, a); v != nil {
			return d.visitError(t, v), nil
		}
		if a.Value < 0 {
			v := report.New(report.InvalidTruncate, pos, "truncation of descriptor %d to size %d", a.FD, a.Value)
			v.Desc = a.Instr.Text
			return d.visitError(t, v), nil
		}
	}
	w := &event.WriteLabel{Meta: event.At(pos), Addr: a.Addr, Ord: a.Ord, Value: a.Value, Unlock: a.Kind == executor.ActUnlock}
	if w.Unlock {
		w.Value = 0
	}
	d.g.Append(w)
	if v := d.det.OnAccess(d.g, w); v != nil {
		return d.visitError(t, v), nil
	}
	if v := d.det.OnWrite(d.g, w); v != nil {
		return d.visitError(t, v), nil
	}
	d.addCoherenceItems(w)
	valid, err := d.calcRevisits(w)
	if err != nil {
		return executor.Result{}, err
	}
	if !valid {
		d.moot = true
	}
	return one, nil
}

// addCoherenceItems queues every other legal coherence position of the
// freshly appended w, except right before the write half of an RMW.
func (d *Driver) addCoherenceItems(w *event.WriteLabel) {
	lo, hi := d.policy.CoherenceRange(d.g, w, d.opts.LAPOR)
	co := d.g.Coherence(w.Addr)
	for p := lo; p < hi && p < len(co); p++ {
		if d.g.IsRMWWrite(co[p]) {
			continue
		}
		d.addItem(&CoMoveItem{Write: w.Pos(), Pos: p})
	}
}

func (d *Driver) visitMalloc(t *executor.Thread, a *executor.Action) executor.Result {
	pos := t.Pos()
	region, err := d.x.Memory().Allocate(pos, a.Value)
	if err != nil {
		v := report.New(report.SystemError, pos, "%v", err).WithErrno(syscall.ENOMEM)
		v.Desc = a.Instr.Text
		return d.visitError(t, v)
	}
	d.g.Append(&event.MallocLabel{Meta: event.At(pos), Addr: region.Base, Size: int(region.Size)})
	return executor.Result{Value: int64(region.Base), Done: true, Events: 1}
}

func (d *Driver) visitFree(t *executor.Thread, a *executor.Action) executor.Result {
	f := &event.FreeLabel{Meta: event.At(t.Pos()), Addr: a.Addr}
	d.g.Append(f)
	if v := d.det.OnFree(d.g, f); v != nil {
		return d.visitError(t, v)
	}
	return one
}

// visitLockSection opens a critical section in lock-aware mode, or blocks
// the thread while another one holds the lock.
func (d *Driver) visitLockSection(t *executor.Thread, a *executor.Action) executor.Result {
	if _, held := d.g.LockHolder(a.Addr); held {
		d.lockWait[t.ID] = a.Addr
		return executor.Result{Block: executor.BlockLockAcq}
	}
	d.g.Append(&event.LockLabel{Meta: event.At(t.Pos()), Addr: a.Addr})
	d.prioritize(t.ID)
	return one
}

func (d *Driver) visitUnlockSection(t *executor.Thread, a *executor.Action) executor.Result {
	pos := t.Pos()
	if v := detector.CheckUnlock(d.g, t.ID, a.Addr, pos); v != nil {
		v.Desc = a.Instr.Text
		return d.visitError(t, v)
	}
	d.g.Append(&event.UnlockLabel{Meta: event.At(pos), Addr: a.Addr})
	d.deprioritize(t.ID)
	return one
}
