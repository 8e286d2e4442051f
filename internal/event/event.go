// Package event defines the vocabulary of execution graphs.
//
// An Event is a position (thread, index) in a thread's program order. A Label
// is what happened at that position: a read, a write, a thread creation and so
// on. Labels are a closed sum type: only this package can add variants, and
// consumers dispatch with a type switch.
//
// Every label carries a Stamp, a monotonically increasing insertion counter.
// Stamps identify "how much history existed" when a label was added and are
// the handle used to cut the graph back to an earlier point.
package event

import (
	"fmt"

	"github.com/kolkov/weakcheck/internal/vectorclock"
)

// Event is a position in the execution graph.
type Event struct {
	Thread int
	Index  int
}

var (
	// Init is the start of the main thread. Reads that observe the initial
	// value of a location read from Init.
	Init = Event{Thread: 0, Index: 0}

	// Bottom is the sentinel reads-from value for reads whose access was
	// invalid. No value lookup is attempted for it.
	Bottom = Event{Thread: -1, Index: -1}
)

// New returns the event at position (thread, index).
func New(thread, index int) Event {
	return Event{Thread: thread, Index: index}
}

// IsInit reports whether e is the initializer.
func (e Event) IsInit() bool {
	return e == Init
}

// IsBottom reports whether e is the invalid sentinel.
func (e Event) IsBottom() bool {
	return e == Bottom
}

// Prev returns the program-order predecessor of e.
func (e Event) Prev() Event {
	return Event{Thread: e.Thread, Index: e.Index - 1}
}

// Next returns the program-order successor of e.
func (e Event) Next() Event {
	return Event{Thread: e.Thread, Index: e.Index + 1}
}

// HappensBefore reports whether e is contained in the view vc.
//
// Views are downward closed along each thread, so this is a single
// comparison against the thread's entry.
func (e Event) HappensBefore(vc vectorclock.VectorClock) bool {
	return vc.Includes(e.Thread, e.Index)
}

// Less orders events by thread, then by index. Used for deterministic output.
func (e Event) Less(o Event) bool {
	if e.Thread != o.Thread {
		return e.Thread < o.Thread
	}
	return e.Index < o.Index
}

// String returns "[thread,index]", "INIT" or "BOTTOM".
func (e Event) String() string {
	switch e {
	case Init:
		return "INIT"
	case Bottom:
		return "BOTTOM"
	}
	return fmt.Sprintf("[%d,%d]", e.Thread, e.Index)
}

// Stamp is the insertion counter of a label.
type Stamp uint64

// Addr is a location in one of three address spaces: globals, heap memory
// and disk files. Addresses are cell granular; offsets add cells.
type Addr int64

const (
	globalBase Addr = 0x1000
	heapBase   Addr = 1 << 32
	diskBase   Addr = 1 << 48

	// MaxAllocation is the largest number of cells a single allocation may span.
	MaxAllocation = 1 << 8
)

// GlobalAddr returns the address of the i-th global variable.
func GlobalAddr(i int) Addr {
	return globalBase + Addr(i)
}

// HeapAddr returns the base address of the allocation made by the event at pos.
// Deriving it from the position keeps addresses identical across replays.
func HeapAddr(pos Event) Addr {
	return heapBase + Addr(pos.Thread)<<20 + Addr(pos.Index)*MaxAllocation
}

// DiskAddr returns the address of cell off in the file behind descriptor fd.
func DiskAddr(fd int, off int64) Addr {
	return diskBase + Addr(fd)<<24 + Addr(off)
}

// IsGlobal reports whether a lies in the global address space.
func (a Addr) IsGlobal() bool {
	return a >= globalBase && a < heapBase
}

// IsHeap reports whether a lies in the dynamic address space.
func (a Addr) IsHeap() bool {
	return a >= heapBase && a < diskBase
}

// IsDisk reports whether a lies in the disk address space.
func (a Addr) IsDisk() bool {
	return a >= diskBase
}

// Disk decodes a disk address into descriptor and offset.
func (a Addr) Disk() (fd int, off int64) {
	rel := a - diskBase
	return int(rel >> 24), int64(rel & (1<<24 - 1))
}

// String formats the address by space.
func (a Addr) String() string {
	switch {
	case a.IsDisk():
		fd, off := a.Disk()
		return fmt.Sprintf("disk(%d)+%d", fd, off)
	case a.IsHeap():
		return fmt.Sprintf("heap:%#x", int64(a-heapBase))
	default:
		return fmt.Sprintf("%#x", int64(a))
	}
}
