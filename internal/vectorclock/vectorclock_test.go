package vectorclock

import (
	"testing"
)

// TestVectorClockNew tests zero initialization.
func TestVectorClockNew(t *testing.T) {
	vc := New(4)

	for i := 0; i < 8; i++ {
		if vc.Get(i) != 0 {
			t.Errorf("New(4).Get(%d) = %d, want 0", i, vc.Get(i))
		}
	}
	if vc.String() != "{}" {
		t.Errorf("New(4).String() = %q, want {}", vc.String())
	}
}

// TestVectorClockClone tests deep copy independence.
func TestVectorClockClone(t *testing.T) {
	original := New(0)
	original.Set(0, 10)
	original.Set(5, 20)

	clone := original.Clone()
	if clone.Get(0) != 10 || clone.Get(5) != 20 {
		t.Errorf("Clone() = %v, want {0:10, 5:20}", clone)
	}

	clone.Set(0, 999)
	if original.Get(0) != 10 {
		t.Errorf("Original modified after clone change: Get(0) = %d, want 10", original.Get(0))
	}
}

// TestVectorClockJoin tests point-wise maximum and growth.
func TestVectorClockJoin(t *testing.T) {
	vc1 := New(2)
	vc1.Set(0, 10)
	vc1.Set(1, 30)

	vc2 := New(3)
	vc2.Set(0, 5)
	vc2.Set(1, 40)
	vc2.Set(2, 15)

	if !vc1.Join(vc2) {
		t.Fatal("Join() = false, want true for a growing view")
	}
	want := map[int]uint32{0: 10, 1: 40, 2: 15}
	for tid, c := range want {
		if vc1.Get(tid) != c {
			t.Errorf("Join().Get(%d) = %d, want %d", tid, vc1.Get(tid), c)
		}
	}

	if vc1.Join(vc2) {
		t.Error("second Join() = true, want false (idempotent)")
	}
}

// TestVectorClockLessOrEqual tests view inclusion.
func TestVectorClockLessOrEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b VectorClock
		want bool
	}{
		{"empty", VectorClock{}, VectorClock{}, true},
		{"shorter", VectorClock{1}, VectorClock{1, 2}, true},
		{"longer zero tail", VectorClock{1, 0, 0}, VectorClock{1}, true},
		{"longer nonzero tail", VectorClock{1, 0, 1}, VectorClock{1}, false},
		{"greater entry", VectorClock{3, 1}, VectorClock{2, 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.LessOrEqual(tt.b); got != tt.want {
				t.Errorf("%v.LessOrEqual(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// TestVectorClockInclude tests single-position membership.
func TestVectorClockInclude(t *testing.T) {
	var vc VectorClock

	if vc.Includes(1, 0) {
		t.Error("empty view includes (1,0)")
	}
	if !vc.Include(1, 2) {
		t.Error("Include(1,2) = false, want true")
	}
	if vc.Include(1, 1) {
		t.Error("Include(1,1) = true after (1,2), want false")
	}
	for i := 0; i <= 2; i++ {
		if !vc.Includes(1, i) {
			t.Errorf("Includes(1,%d) = false, want true", i)
		}
	}
	if vc.Includes(1, 3) {
		t.Error("Includes(1,3) = true, want false")
	}
	if vc.String() != "{1:3}" {
		t.Errorf("String() = %q, want {1:3}", vc.String())
	}
}
