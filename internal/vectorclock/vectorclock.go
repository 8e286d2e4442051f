// Package vectorclock implements growable vector clocks used as relation views.
//
// In the execution graph every relation the checker cares about (happens-before,
// program-order-union-reads-from, the SC order) contains program order. The set of
// predecessors of an event under such a relation is therefore closed downwards
// along each thread and can be stored as one number per thread: how many events
// of that thread are included. That is exactly a vector clock.
//
// Key operations:
//   - Join: point-wise maximum, used when a relation edge is followed
//   - LessOrEqual: view inclusion, used to compare two prefixes
//   - Includes: membership of a single (thread, index) position
package vectorclock

import "strings"

// VectorClock records, for each thread, how many of its events are included.
//
// vc[tid] == n means events (tid, 0) .. (tid, n-1) are in the view.
// Threads beyond the slice length are implicitly 0.
//
// Example: {0:3, 2:1} contains the first three events of thread 0 and the
// first event of thread 2.
type VectorClock []uint32

// New creates an empty vector clock sized for n threads.
func New(n int) VectorClock {
	return make(VectorClock, n)
}

// Clone creates a deep copy of the vector clock.
func (vc VectorClock) Clone() VectorClock {
	if vc == nil {
		return nil
	}
	clone := make(VectorClock, len(vc))
	copy(clone, vc)
	return clone
}

// Join performs point-wise maximum in place and reports whether vc grew.
//
// Algorithm: for each thread i, vc[i] = max(vc[i], other[i]).
// The receiver is a pointer because the slice may need to grow.
func (vc *VectorClock) Join(other VectorClock) bool {
	changed := false
	if len(other) > len(*vc) {
		grown := make(VectorClock, len(other))
		copy(grown, *vc)
		*vc = grown
	}
	v := *vc
	for i, c := range other {
		if c > v[i] {
			v[i] = c
			changed = true
		}
	}
	return changed
}

// LessOrEqual checks view inclusion: vc ⊑ other.
func (vc VectorClock) LessOrEqual(other VectorClock) bool {
	for i, c := range vc {
		if c > other.Get(i) {
			return false
		}
	}
	return true
}

// Includes reports whether event (tid, index) is part of the view.
func (vc VectorClock) Includes(tid, index int) bool {
	return index >= 0 && uint32(index) < vc.Get(tid)
}

// Get returns the number of events of thread tid in the view.
func (vc VectorClock) Get(tid int) uint32 {
	if tid < 0 || tid >= len(vc) {
		return 0
	}
	return vc[tid]
}

// Set sets the number of events of thread tid in the view, growing as needed.
func (vc *VectorClock) Set(tid int, count uint32) {
	if tid >= len(*vc) {
		grown := make(VectorClock, tid+1)
		copy(grown, *vc)
		*vc = grown
	}
	(*vc)[tid] = count
}

// Include extends the view so that event (tid, index) is part of it and
// reports whether the view grew.
func (vc *VectorClock) Include(tid, index int) bool {
	//nolint:gosec // G115: indices are bounded by thread sizes.
	n := uint32(index + 1)
	if vc.Get(tid) >= n {
		return false
	}
	vc.Set(tid, n)
	return true
}

// Equal reports whether both clocks describe the same view.
func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.LessOrEqual(other) && other.LessOrEqual(vc)
}

// String returns a debug representation of the vector clock.
//
// Format: "{tid1:count1, tid2:count2, ...}" showing only non-zero entries.
func (vc VectorClock) String() string {
	var parts []string
	for i, c := range vc {
		if c != 0 {
			//nolint:gosec // G115: thread ids are small.
			parts = append(parts, itoa(uint32(i))+":"+itoa(c))
		}
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// itoa converts an integer to string without fmt import.
func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}

	tmp := n
	digits := 0
	for tmp > 0 {
		digits++
		tmp /= 10
	}

	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	return string(buf)
}
