package model

import (
	"testing"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

const (
	locX = event.Addr(0x1000)
	locY = event.Addr(0x1001)
)

// consistent drives a checker to its fixpoint the way the driver does.
func consistent(p Policy, g *graph.Graph) bool {
	c := p.NewChecker(g, false)
	for {
		changed, ok := c.Step(true)
		if !ok {
			return false
		}
		if !changed {
			return true
		}
	}
}

// storeBuffering builds the SB shape where both reads return 0:
//
//	T1: W x=1; R y (rf init)
//	T2: W y=1; R x (rf init)
func storeBuffering(p Policy, ord event.Ordering) *graph.Graph {
	g := graph.New(map[event.Addr]int64{locX: 0, locY: 0}, p)
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(0, 0)), Parent: event.Bottom, Symmetric: -1})
	c1 := g.Append(&event.ThreadCreateLabel{Meta: event.At(event.New(0, 0)), Child: 1})
	g.AddThread(c1.Pos())
	c2 := g.Append(&event.ThreadCreateLabel{Meta: event.At(event.New(0, 0)), Child: 2})
	g.AddThread(c2.Pos())

	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(1, 0)), Parent: c1.Pos(), Symmetric: -1})
	g.Append(&event.WriteLabel{Meta: event.At(event.New(1, 0)), Addr: locX, Ord: ord, Value: 1})
	g.Append(&event.ReadLabel{Meta: event.At(event.New(1, 0)), Addr: locY, Ord: ord, Rf: event.Init})

	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(2, 0)), Parent: c2.Pos(), Symmetric: -1})
	g.Append(&event.WriteLabel{Meta: event.At(event.New(2, 0)), Addr: locY, Ord: ord, Value: 1})
	g.Append(&event.ReadLabel{Meta: event.At(event.New(2, 0)), Addr: locX, Ord: ord, Rf: event.Init})
	return g
}

// TestStoreBuffering verifies that SC forbids and RA allows the weak outcome.
func TestStoreBuffering(t *testing.T) {
	tests := []struct {
		policy Policy
		ord    event.Ordering
		want   bool
	}{
		{SC{}, event.SeqCst, false},
		{RA{}, event.SeqCst, true},
		{RC11{}, event.Relaxed, true},
		{RC11{}, event.SeqCst, false},
	}
	for _, tt := range tests {
		t.Run(tt.policy.Name()+"/"+tt.ord.String(), func(t *testing.T) {
			g := storeBuffering(tt.policy, tt.ord)
			if got := consistent(tt.policy, g); got != tt.want {
				t.Errorf("consistent(SB) = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCoherenceReadRead verifies that a thread cannot read a newer value
// and then an older one.
func TestCoherenceReadRead(t *testing.T) {
	for _, p := range []Policy{SC{}, RA{}, RC11{}} {
		g := graph.New(map[event.Addr]int64{locX: 0}, p)
		g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(0, 0)), Parent: event.Bottom, Symmetric: -1})
		c := g.Append(&event.ThreadCreateLabel{Meta: event.At(event.New(0, 0)), Child: 1})
		g.AddThread(c.Pos())
		g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(1, 0)), Parent: c.Pos(), Symmetric: -1})
		w := g.Append(&event.WriteLabel{Meta: event.At(event.New(1, 0)), Addr: locX, Ord: event.Relaxed, Value: 1})

		g.Append(&event.ReadLabel{Meta: event.At(event.New(0, 0)), Addr: locX, Ord: event.Relaxed, Rf: w.Pos()})
		g.Append(&event.ReadLabel{Meta: event.At(event.New(0, 0)), Addr: locX, Ord: event.Relaxed, Rf: event.Init})

		if consistent(p, g) {
			t.Errorf("%s: new-then-old reads accepted", p.Name())
		}
	}
}

// TestAtomicity verifies that two RMWs cannot read from the same write.
func TestAtomicity(t *testing.T) {
	p := RA{}
	g := graph.New(map[event.Addr]int64{locX: 0}, p)
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(0, 0)), Parent: event.Bottom, Symmetric: -1})
	c := g.Append(&event.ThreadCreateLabel{Meta: event.At(event.New(0, 0)), Child: 1})
	g.AddThread(c.Pos())
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(1, 0)), Parent: c.Pos(), Symmetric: -1})

	r1 := g.Append(&event.ReadLabel{Meta: event.At(event.New(1, 0)), Addr: locX, Ord: event.SeqCst, Rf: event.Init, RMW: event.RMWFetchAdd, Operand: 1})
	w1 := g.Append(&event.WriteLabel{Meta: event.At(event.New(1, 0)), Addr: locX, Ord: event.SeqCst, Value: 1, RMW: true})
	g.PlaceAfter(w1.Pos(), r1.(*event.ReadLabel).Rf)
	if !consistent(p, g) {
		t.Fatal("single RMW rejected")
	}

	r2 := g.Append(&event.ReadLabel{Meta: event.At(event.New(0, 0)), Addr: locX, Ord: event.SeqCst, Rf: event.Init, RMW: event.RMWFetchAdd, Operand: 1})
	w2 := g.Append(&event.WriteLabel{Meta: event.At(event.New(0, 0)), Addr: locX, Ord: event.SeqCst, Value: 1, RMW: true})
	g.PlaceAfter(w2.Pos(), r2.(*event.ReadLabel).Rf)
	if consistent(p, g) {
		t.Error("two RMWs reading the initial value accepted")
	}
}

// TestStoresToLoc verifies the coherence lower bound.
func TestStoresToLoc(t *testing.T) {
	p := RA{}
	g := graph.New(map[event.Addr]int64{locX: 0}, p)
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(0, 0)), Parent: event.Bottom, Symmetric: -1})
	c := g.Append(&event.ThreadCreateLabel{Meta: event.At(event.New(0, 0)), Child: 1})
	g.AddThread(c.Pos())
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(1, 0)), Parent: c.Pos(), Symmetric: -1})
	other := g.Append(&event.WriteLabel{Meta: event.At(event.New(1, 0)), Addr: locX, Ord: event.Relaxed, Value: 2})
	own := g.Append(&event.WriteLabel{Meta: event.At(event.New(0, 0)), Addr: locX, Ord: event.Relaxed, Value: 1})
	r := g.Append(&event.ReadLabel{Meta: event.At(event.New(0, 0)), Addr: locX, Ord: event.Relaxed, Rf: event.Init}).(*event.ReadLabel)

	got := p.StoresToLoc(g, r, false)
	if len(got) != 1 || got[0] != own.Pos() {
		t.Errorf("StoresToLoc() = %v, want [%v] (own write is co-after %v)", got, own.Pos(), other.Pos())
	}

	g.MoveInCoherence(own.Pos(), 0)
	got = p.StoresToLoc(g, r, false)
	if len(got) != 2 || got[0] != own.Pos() || got[1] != other.Pos() {
		t.Errorf("StoresToLoc() = %v, want [%v %v]", got, own.Pos(), other.Pos())
	}
}

// TestCoherenceRange verifies the slots offered to a new write: after the
// thread's own earlier write, anywhere relative to the concurrent one.
func TestCoherenceRange(t *testing.T) {
	p := RA{}
	g := graph.New(map[event.Addr]int64{locX: 0}, p)
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(0, 0)), Parent: event.Bottom, Symmetric: -1})
	c := g.Append(&event.ThreadCreateLabel{Meta: event.At(event.New(0, 0)), Child: 1})
	g.AddThread(c.Pos())
	g.Append(&event.WriteLabel{Meta: event.At(event.New(0, 0)), Addr: locX, Ord: event.Relaxed, Value: 2})
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(1, 0)), Parent: c.Pos(), Symmetric: -1})
	g.Append(&event.WriteLabel{Meta: event.At(event.New(1, 0)), Addr: locX, Ord: event.Relaxed, Value: 1})
	w := g.Append(&event.WriteLabel{Meta: event.At(event.New(0, 0)), Addr: locX, Ord: event.Relaxed, Value: 3}).(*event.WriteLabel)

	lo, hi := p.CoherenceRange(g, w, false)
	if lo != 1 || hi != 2 {
		t.Errorf("CoherenceRange() = (%d, %d), want (1, 2)", lo, hi)
	}
}

// TestNew verifies the registry.
func TestNew(t *testing.T) {
	for _, name := range Names() {
		p, err := New(name)
		if err != nil || p.Name() != name {
			t.Errorf("New(%q) = (%v, %v)", name, p, err)
		}
	}
	if _, err := New("tso"); err == nil {
		t.Error("New(tso) succeeded, want error")
	}
	if (SC{}).Granularity() != CheckStep || (RA{}).Granularity() != CheckEnd {
		t.Error("unexpected check granularity")
	}
}

// TestCrashReadStores verifies that a recovery routine may read any disk
// write of the program, even the initial value its parent happens after,
// but never one older than its own earlier write.
func TestCrashReadStores(t *testing.T) {
	p := RA{}
	disk := event.DiskAddr(3, 0)
	g := graph.New(map[event.Addr]int64{disk: 0}, p)
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(0, 0)), Parent: event.Bottom, Symmetric: -1})
	w := g.Append(&event.WriteLabel{Meta: event.At(event.New(0, 0)), Addr: disk, Ord: event.Relaxed, Value: 1})
	rec := g.AddThread(w.Pos())
	if !g.IsRecovery(rec) || g.IsRecovery(0) {
		t.Fatalf("IsRecovery(%d) = false or IsRecovery(0) = true", rec)
	}
	g.Append(&event.ThreadStartLabel{Meta: event.At(event.New(rec, 0)), Parent: w.Pos(), Symmetric: -1})
	r := g.Append(&event.ReadLabel{Meta: event.At(event.New(rec, 0)), Addr: disk, Ord: event.Relaxed, Rf: event.Init}).(*event.ReadLabel)

	got := p.StoresToLoc(g, r, false)
	if len(got) != 2 || got[0] != event.Init || got[1] != w.Pos() {
		t.Errorf("StoresToLoc() = %v, want [%v %v]", got, event.Init, w.Pos())
	}

	own := g.Append(&event.WriteLabel{Meta: event.At(event.New(rec, 0)), Addr: disk, Ord: event.Relaxed, Value: 2})
	r2 := g.Append(&event.ReadLabel{Meta: event.At(event.New(rec, 0)), Addr: disk, Ord: event.Relaxed, Rf: event.Init}).(*event.ReadLabel)
	got = p.StoresToLoc(g, r2, false)
	if len(got) != 1 || got[0] != own.Pos() {
		t.Errorf("StoresToLoc() = %v, want [%v]", got, own.Pos())
	}
}
