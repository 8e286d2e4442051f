package event

import (
	"testing"

	"github.com/kolkov/weakcheck/internal/vectorclock"
)

// TestEventString verifies the sentinel and positional formats.
func TestEventString(t *testing.T) {
	tests := []struct {
		e    Event
		want string
	}{
		{Init, "INIT"},
		{Bottom, "BOTTOM"},
		{New(2, 5), "[2,5]"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.e, got, tt.want)
		}
	}
}

// TestEventHappensBefore verifies view membership.
func TestEventHappensBefore(t *testing.T) {
	var vc vectorclock.VectorClock
	vc.Include(1, 3)

	if !New(1, 0).HappensBefore(vc) {
		t.Error("[1,0] not in view {1:4}")
	}
	if !New(1, 3).HappensBefore(vc) {
		t.Error("[1,3] not in view {1:4}")
	}
	if New(1, 4).HappensBefore(vc) {
		t.Error("[1,4] in view {1:4}")
	}
	if New(0, 0).HappensBefore(vc) {
		t.Error("[0,0] in view without thread 0")
	}
}

// TestAddrSpaces verifies that the address spaces do not overlap.
func TestAddrSpaces(t *testing.T) {
	g := GlobalAddr(3)
	h := HeapAddr(New(2, 7))
	d := DiskAddr(4, 12)

	if !g.IsGlobal() || g.IsHeap() || g.IsDisk() {
		t.Errorf("GlobalAddr(3) = %v misclassified", g)
	}
	if !h.IsHeap() || h.IsGlobal() || h.IsDisk() {
		t.Errorf("HeapAddr = %v misclassified", h)
	}
	if !d.IsDisk() || d.IsHeap() {
		t.Errorf("DiskAddr = %v misclassified", d)
	}
	fd, off := d.Disk()
	if fd != 4 || off != 12 {
		t.Errorf("Disk() = (%d, %d), want (4, 12)", fd, off)
	}
	if HeapAddr(New(2, 7))+MaxAllocation-1 >= HeapAddr(New(2, 8)) {
		t.Error("consecutive allocations overlap")
	}
}

// TestReadWriteValue verifies the value each RMW kind writes.
func TestReadWriteValue(t *testing.T) {
	tests := []struct {
		name   string
		r      ReadLabel
		old    int64
		want   int64
		writes bool
	}{
		{"plain", ReadLabel{}, 3, 0, false},
		{"fai", ReadLabel{RMW: RMWFetchAdd, Operand: 2}, 3, 5, true},
		{"cas success", ReadLabel{RMW: RMWCompareSwap, Expected: 3, Operand: 9}, 3, 9, true},
		{"cas failure", ReadLabel{RMW: RMWCompareSwap, Expected: 1, Operand: 9}, 3, 0, false},
		{"lock free", ReadLabel{RMW: RMWLock}, 0, 1, true},
		{"lock held", ReadLabel{RMW: RMWLock}, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.r.WriteValue(tt.old)
			if ok != tt.writes || got != tt.want {
				t.Errorf("WriteValue(%d) = (%d, %v), want (%d, %v)", tt.old, got, ok, tt.want, tt.writes)
			}
		})
	}
}

// TestLabelClone verifies that clones keep position and stamp but not identity.
func TestLabelClone(t *testing.T) {
	r := &ReadLabel{Meta: At(New(1, 2)), Rf: Init}
	SetStamp(r, 7)

	c, ok := r.Clone().(*ReadLabel)
	if !ok {
		t.Fatalf("Clone() returned %T, want *ReadLabel", r.Clone())
	}
	if c.Pos() != r.Pos() || c.Stamp() != 7 {
		t.Errorf("Clone() = %v@%d, want %v@7", c.Pos(), c.Stamp(), r.Pos())
	}
	c.Rf = New(2, 1)
	if r.Rf != Init {
		t.Error("mutating the clone changed the original")
	}
}

// TestParseOrdering verifies keyword round trips.
func TestParseOrdering(t *testing.T) {
	for _, o := range []Ordering{NotAtomic, Relaxed, Acquire, Release, AcqRel, SeqCst} {
		got, err := ParseOrdering(o.String())
		if err != nil || got != o {
			t.Errorf("ParseOrdering(%q) = (%v, %v), want %v", o.String(), got, err, o)
		}
	}
	if _, err := ParseOrdering("consume"); err == nil {
		t.Error("ParseOrdering(consume) succeeded, want error")
	}
	if !SeqCst.IsAcquire() || !SeqCst.IsRelease() || Relaxed.IsAcquire() || NotAtomic.IsAtomic() {
		t.Error("ordering predicates disagree with the lattice")
	}
}
