package event

import (
	"fmt"
	"strings"
)

// Kind names the variant of a Label.
type Kind uint8

const (
	KindThreadStart Kind = iota
	KindThreadFinish
	KindThreadCreate
	KindThreadJoin
	KindRead
	KindWrite
	KindFence
	KindMalloc
	KindFree
	KindLock
	KindUnlock
	KindDiskOpen
	KindDiskSync
	KindPbarrier
)

var kindNames = [...]string{
	KindThreadStart:  "start",
	KindThreadFinish: "finish",
	KindThreadCreate: "create",
	KindThreadJoin:   "join",
	KindRead:         "read",
	KindWrite:        "write",
	KindFence:        "fence",
	KindMalloc:       "malloc",
	KindFree:         "free",
	KindLock:         "lock",
	KindUnlock:       "unlock",
	KindDiskOpen:     "dopen",
	KindDiskSync:     "dsync",
	KindPbarrier:     "pbarrier",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Meta is the part every label shares: its committed position and stamp.
// Both are assigned by the graph when the label is appended.
type Meta struct {
	pos   Event
	stamp Stamp
}

// Pos returns the committed position of the label.
func (m *Meta) Pos() Event { return m.pos }

// Stamp returns the insertion stamp of the label.
func (m *Meta) Stamp() Stamp { return m.stamp }

func (m *Meta) meta() *Meta { return m }

// Label is the closed sum type over event kinds.
//
// Only the variants declared in this package implement it. Consumers use a
// type switch on the concrete pointer types.
type Label interface {
	Pos() Event
	Stamp() Stamp
	Kind() Kind
	// Clone returns a deep copy that keeps position and stamp.
	Clone() Label
	// String is a stamp-free description, stable across equivalent graphs.
	String() string
	meta() *Meta
}

// SetStamp assigns the insertion stamp of l. Only the graph store calls it.
func SetStamp(l Label, s Stamp) { l.meta().stamp = s }

// SetPos assigns the committed position of l. Only the graph store calls it.
func SetPos(l Label, e Event) { l.meta().pos = e }

// At returns a Meta positioned at e, for building labels.
func At(e Event) Meta { return Meta{pos: e} }

// ThreadStartLabel is the first event of every thread.
type ThreadStartLabel struct {
	Meta
	// Parent is the creating event; Bottom for the main thread.
	Parent Event
	Func   string
	Arg    int64
	// Symmetric is the id of the earlier thread this one is symmetric to, or -1.
	Symmetric int
}

func (l *ThreadStartLabel) Kind() Kind { return KindThreadStart }

func (l *ThreadStartLabel) Clone() Label { c := *l; return &c }

func (l *ThreadStartLabel) String() string {
	s := fmt.Sprintf("B %s(%d)", l.Func, l.Arg)
	if l.Symmetric >= 0 {
		s += fmt.Sprintf(" sym=%d", l.Symmetric)
	}
	return s
}

// ThreadFinishLabel is the last event of a thread that returned.
type ThreadFinishLabel struct {
	Meta
	Ret int64
}

func (l *ThreadFinishLabel) Kind() Kind { return KindThreadFinish }

func (l *ThreadFinishLabel) Clone() Label { c := *l; return &c }

func (l *ThreadFinishLabel) String() string { return fmt.Sprintf("E ret=%d", l.Ret) }

// ThreadCreateLabel spawns thread Child running Func(Arg).
type ThreadCreateLabel struct {
	Meta
	Child int
	Func  string
	Arg   int64
}

func (l *ThreadCreateLabel) Kind() Kind { return KindThreadCreate }

func (l *ThreadCreateLabel) Clone() Label { c := *l; return &c }

func (l *ThreadCreateLabel) String() string {
	return fmt.Sprintf("TC %d=%s(%d)", l.Child, l.Func, l.Arg)
}

// ThreadJoinLabel waits for thread Child to finish.
type ThreadJoinLabel struct {
	Meta
	Child int
}

func (l *ThreadJoinLabel) Kind() Kind { return KindThreadJoin }

func (l *ThreadJoinLabel) Clone() Label { c := *l; return &c }

func (l *ThreadJoinLabel) String() string { return fmt.Sprintf("TJ %d", l.Child) }

// RMWKind distinguishes plain reads from the read half of a read-modify-write.
type RMWKind uint8

const (
	RMWNone RMWKind = iota
	RMWFetchAdd
	RMWCompareSwap
	RMWLock
)

func (k RMWKind) String() string {
	switch k {
	case RMWFetchAdd:
		return "fai"
	case RMWCompareSwap:
		return "cas"
	case RMWLock:
		return "lock"
	}
	return ""
}

// ReadLabel is a load, or the read half of an RMW.
type ReadLabel struct {
	Meta
	Addr Addr
	Ord  Ordering
	// Rf is the write this read reads from. Init for the initial value,
	// Bottom when the access was invalid.
	Rf  Event
	RMW RMWKind
	// Operand is the addend of a fetch-add or the desired value of a
	// compare-swap.
	Operand  int64
	Expected int64
	// Spin marks reads issued by an await loop.
	Spin bool
	// Revisitable is false for reads that a backward revisit restored; their
	// reads-from choice is fixed by the restored prefix.
	Revisitable bool
	// Revisited is set once a revisit replaced the write the read picked
	// when it was added, the coherence-latest candidate.
	Revisited bool
}

func (l *ReadLabel) Kind() Kind { return KindRead }

func (l *ReadLabel) Clone() Label { c := *l; return &c }

// Loc returns the accessed address.
func (l *ReadLabel) Loc() Addr { return l.Addr }

// Order returns the access ordering.
func (l *ReadLabel) Order() Ordering { return l.Ord }

// IsRMW reports whether a write half may follow this read.
func (l *ReadLabel) IsRMW() bool { return l.RMW != RMWNone }

// IsLock reports whether this read is a lock acquisition attempt.
func (l *ReadLabel) IsLock() bool { return l.RMW == RMWLock }

// WriteValue returns the value the RMW writes after reading old, and false
// when the RMW does not write (failed compare-swap, held lock, plain read).
func (l *ReadLabel) WriteValue(old int64) (int64, bool) {
	switch l.RMW {
	case RMWFetchAdd:
		return old + l.Operand, true
	case RMWCompareSwap:
		if old == l.Expected {
			return l.Operand, true
		}
	case RMWLock:
		if old == 0 {
			return 1, true
		}
	}
	return 0, false
}

func (l *ReadLabel) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "R.%s %s rf=%s", l.Ord, l.Addr, l.Rf)
	switch l.RMW {
	case RMWFetchAdd:
		fmt.Fprintf(&b, " fai(%d)", l.Operand)
	case RMWCompareSwap:
		fmt.Fprintf(&b, " cas(%d,%d)", l.Expected, l.Operand)
	case RMWLock:
		b.WriteString(" lock")
	}
	if l.Spin {
		b.WriteString(" spin")
	}
	return b.String()
}

// WriteLabel is a store, the write half of an RMW, a lock release, or a disk write.
type WriteLabel struct {
	Meta
	Addr  Addr
	Ord   Ordering
	Value int64
	// RMW is set when the preceding event of the thread is the read half.
	RMW         bool
	LockAcquire bool
	Unlock      bool
	// Moved is set once a coherence revisit took the write away from the
	// end of its location's coherence order.
	Moved bool
}

func (l *WriteLabel) Kind() Kind { return KindWrite }

func (l *WriteLabel) Clone() Label { c := *l; return &c }

// Loc returns the accessed address.
func (l *WriteLabel) Loc() Addr { return l.Addr }

// Order returns the access ordering.
func (l *WriteLabel) Order() Ordering { return l.Ord }

func (l *WriteLabel) String() string {
	s := fmt.Sprintf("W.%s %s=%d", l.Ord, l.Addr, l.Value)
	switch {
	case l.LockAcquire:
		s += " lock"
	case l.Unlock:
		s += " unlock"
	case l.RMW:
		s += " rmw"
	}
	return s
}

// MemAccess is implemented by reads and writes.
type MemAccess interface {
	Label
	Loc() Addr
	Order() Ordering
}

// FenceLabel is a memory fence.
type FenceLabel struct {
	Meta
	Ord Ordering
}

func (l *FenceLabel) Kind() Kind { return KindFence }

func (l *FenceLabel) Clone() Label { c := *l; return &c }

func (l *FenceLabel) String() string { return "F." + l.Ord.String() }

// MallocLabel allocates Size cells starting at Addr.
type MallocLabel struct {
	Meta
	Addr Addr
	Size int
}

func (l *MallocLabel) Kind() Kind { return KindMalloc }

func (l *MallocLabel) Clone() Label { c := *l; return &c }

func (l *MallocLabel) String() string { return fmt.Sprintf("M %s[%d]", l.Addr, l.Size) }

// FreeLabel releases the allocation starting at Addr.
type FreeLabel struct {
	Meta
	Addr Addr
}

func (l *FreeLabel) Kind() Kind { return KindFree }

func (l *FreeLabel) Clone() Label { c := *l; return &c }

func (l *FreeLabel) String() string { return fmt.Sprintf("D %s", l.Addr) }

// LockLabel opens a critical section in lock-aware mode.
type LockLabel struct {
	Meta
	Addr Addr
}

func (l *LockLabel) Kind() Kind { return KindLock }

func (l *LockLabel) Clone() Label { c := *l; return &c }

func (l *LockLabel) String() string { return fmt.Sprintf("L %s", l.Addr) }

// UnlockLabel closes a critical section in lock-aware mode.
type UnlockLabel struct {
	Meta
	Addr Addr
}

func (l *UnlockLabel) Kind() Kind { return KindUnlock }

func (l *UnlockLabel) Clone() Label { c := *l; return &c }

func (l *UnlockLabel) String() string { return fmt.Sprintf("U %s", l.Addr) }

// DiskOpenLabel opens file Name as descriptor FD.
type DiskOpenLabel struct {
	Meta
	FD   int
	Name string
}

func (l *DiskOpenLabel) Kind() Kind { return KindDiskOpen }

func (l *DiskOpenLabel) Clone() Label { c := *l; return &c }

func (l *DiskOpenLabel) String() string { return fmt.Sprintf("DO %d=%q", l.FD, l.Name) }

// DiskSyncLabel persists every earlier write of the thread to descriptor FD.
type DiskSyncLabel struct {
	Meta
	FD int
}

func (l *DiskSyncLabel) Kind() Kind { return KindDiskSync }

func (l *DiskSyncLabel) Clone() Label { c := *l; return &c }

func (l *DiskSyncLabel) String() string { return fmt.Sprintf("DS %d", l.FD) }

// PbarrierLabel is the persistency barrier the recovery routine synchronizes with.
type PbarrierLabel struct {
	Meta
}

func (l *PbarrierLabel) Kind() Kind { return KindPbarrier }

func (l *PbarrierLabel) Clone() Label { c := *l; return &c }

func (l *PbarrierLabel) String() string { return "PB" }
