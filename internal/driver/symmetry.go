package driver

import (
	"github.com/kolkov/weakcheck/internal/event"
)

// symmetricPredecessor returns the thread symmetric to t created before it,
// or -1. Two threads are symmetric when the same parent creates them with
// the same function and argument and does not access memory in between.
func (d *Driver) symmetricPredecessor(t int) int {
	parent := d.g.Parent(t)
	if parent.IsBottom() || !d.g.Contains(parent) {
		return -1
	}
	tc, ok := d.g.Label(parent).(*event.ThreadCreateLabel)
	if !ok {
		return -1
	}
	th := d.g.Thread(parent.Thread)
	for i := parent.Index - 1; i >= 0; i-- {
		switch l := th[i].(type) {
		case *event.ReadLabel, *event.WriteLabel:
			return -1
		case *event.ThreadCreateLabel:
			if l.Func == tc.Func && l.Arg == tc.Arg {
				return l.Child
			}
		}
	}
	return -1
}

// symmetryOf returns the symmetric predecessor of t, from its start label
// when t has started.
func (d *Driver) symmetryOf(t int) int {
	if t < 0 || t >= d.g.NumThreads() {
		return -1
	}
	if st, ok := d.g.Label(event.New(t, 0)).(*event.ThreadStartLabel); ok {
		return st.Symmetric
	}
	return d.symmetricPredecessor(t)
}

// sharePrefix reports whether the first n events of t and u match.
func (d *Driver) sharePrefix(t, u, n int) bool {
	tt, tu := d.g.Thread(t), d.g.Thread(u)
	if len(tt) < n || len(tu) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if !sameLabel(tt[i], tu[i]) {
			return false
		}
	}
	return true
}

func sameLabel(a, b event.Label) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case *event.ThreadStartLabel:
		b := b.(*event.ThreadStartLabel)
		return a.Func == b.Func && a.Arg == b.Arg
	case *event.ReadLabel:
		b := b.(*event.ReadLabel)
		return a.Addr == b.Addr && a.Rf == b.Rf && a.RMW == b.RMW
	case *event.WriteLabel:
		b := b.(*event.WriteLabel)
		return a.Addr == b.Addr && a.Value == b.Value
	}
	return true
}

// filterSymmetricStores drops the writes a read of thread t may skip
// because its symmetric predecessor already covers them: anything
// coherence-before what the predecessor's matching read observed, and,
// for a successful RMW of the predecessor, that very write.
func (d *Driver) filterSymmetricStores(r *event.ReadLabel, stores []event.Event) []event.Event {
	if !d.opts.Symmetry || len(stores) < 2 {
		return stores
	}
	rp := r.Pos()
	s := d.symmetryOf(rp.Thread)
	if s < 0 || !d.sharePrefix(rp.Thread, s, rp.Index) {
		return stores
	}
	sr, ok := d.g.Label(event.New(s, rp.Index)).(*event.ReadLabel)
	if !ok || sr.Addr != r.Addr || sr.RMW != r.RMW || sr.Rf.IsBottom() {
		return stores
	}
	_, rmwWrote := d.g.RMWWriteOf(sr.Pos())
	var out []event.Event
	for _, w := range stores {
		if d.g.CoBefore(r.Addr, w, sr.Rf) {
			continue
		}
		if w == sr.Rf && r.IsRMW() && rmwWrote {
			continue
		}
		out = append(out, w)
	}
	if len(out) == 0 {
		return stores
	}
	return out
}
