package executor

import (
	"fmt"

	"github.com/kolkov/weakcheck/internal/event"
)

// Region is one dynamic allocation.
type Region struct {
	Base  event.Addr
	Size  int64
	Alloc event.Event
}

// Contains reports whether a lies inside the region.
func (r Region) Contains(a event.Addr) bool {
	return a >= r.Base && a < r.Base+event.Addr(r.Size)
}

// Memory tracks the dynamic allocations of the current execution.
//
// Allocation addresses are derived from the allocating event, so the same
// execution prefix always yields the same addresses and replay needs no
// bookkeeping beyond re-registering each region. Whether a region has been
// freed is a property of the graph (free events and their ordering), not of
// this table.
type Memory struct {
	regions map[event.Addr]Region
}

// NewMemory creates an empty allocation table.
func NewMemory() *Memory {
	return &Memory{regions: make(map[event.Addr]Region)}
}

// Allocate registers the allocation made by the event at pos.
func (m *Memory) Allocate(pos event.Event, size int64) (Region, error) {
	if size <= 0 || size > event.MaxAllocation {
		return Region{}, fmt.Errorf("allocation size %d out of range [1, %d]", size, event.MaxAllocation)
	}
	r := Region{Base: event.HeapAddr(pos), Size: size, Alloc: pos}
	m.regions[r.Base] = r
	return r, nil
}

// Lookup returns the region containing a.
func (m *Memory) Lookup(a event.Addr) (Region, bool) {
	if !a.IsHeap() {
		return Region{}, false
	}
	base := a - (a-event.HeapAddr(event.New(0, 0)))%event.MaxAllocation
	r, ok := m.regions[base]
	if !ok || !r.Contains(a) {
		return Region{}, false
	}
	return r, true
}

// Reset forgets every allocation.
func (m *Memory) Reset() {
	clear(m.regions)
}

// FDTable tracks the open file descriptors of the current execution.
type FDTable struct {
	open map[int64]string
}

// NewFDTable creates an empty descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{open: make(map[int64]string)}
}

// Open records fd as open on name.
func (f *FDTable) Open(fd int64, name string) {
	f.open[fd] = name
}

// IsOpen reports whether fd is open.
func (f *FDTable) IsOpen(fd int64) bool {
	_, ok := f.open[fd]
	return ok
}

// Reset closes every descriptor.
func (f *FDTable) Reset() {
	clear(f.open)
}
