// Package executor interprets programs one visible action at a time.
//
// The executor owns the interpreter state of every target thread: program
// counter, registers, blockage and the index of the next event. Local
// instructions (arithmetic, branches, assumptions) run inside Step; every
// instruction that touches shared state is handed to a Handler, which
// decides the value it returns. The exploration driver is the Handler: it
// adds the matching event to the execution graph, or reuses the event that
// is already there when a prefix is being replayed.
//
// Executions are replayed from scratch after every backtrack, so Reset
// clears all thread state and the driver re-creates threads from the graph.
package executor

import (
	"errors"
	"fmt"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/program"
)

// Mode selects which part of the program is executing.
type Mode uint8

const (
	// ModeProgram runs the program under test.
	ModeProgram Mode = iota
	// ModeRecovery runs the recovery routine after a simulated crash.
	ModeRecovery
)

func (m Mode) String() string {
	if m == ModeRecovery {
		return "recovery"
	}
	return "program"
}

// ActionKind identifies a visible action.
type ActionKind uint8

const (
	ActStart ActionKind = iota
	ActFinish
	ActLoad
	ActStore
	ActFetchAdd
	ActCompareSwap
	ActAwait
	ActLock
	ActUnlock
	ActFence
	ActMalloc
	ActFree
	ActSpawn
	ActJoin
	ActDiskOpen
	ActDiskWrite
	ActDiskRead
	ActDiskSync
	ActDiskTrunc
	ActPbarrier
	ActAssertFail
)

var actionNames = [...]string{
	ActStart: "start", ActFinish: "finish", ActLoad: "load", ActStore: "store",
	ActFetchAdd: "fai", ActCompareSwap: "cas", ActAwait: "await", ActLock: "lock",
	ActUnlock: "unlock", ActFence: "fence", ActMalloc: "malloc", ActFree: "free",
	ActSpawn: "spawn", ActJoin: "join", ActDiskOpen: "dopen", ActDiskWrite: "dwrite",
	ActDiskRead: "dread", ActDiskSync: "dsync", ActDiskTrunc: "dtrunc",
	ActPbarrier: "pbarrier", ActAssertFail: "assert",
}

func (k ActionKind) String() string {
	if int(k) < len(actionNames) {
		return actionNames[k]
	}
	return fmt.Sprintf("ActionKind(%d)", uint8(k))
}

// Action is a visible action with its operands evaluated.
type Action struct {
	Kind  ActionKind
	Instr *program.Instr
	Addr  event.Addr
	Ord   event.Ordering
	// Value is the stored value, the fetch-add operand, the compare-swap
	// desired value, the await comparand, the allocation size, the joined
	// thread, the spawn argument, the truncation size or the return value.
	Value    int64
	Expected int64
	Cond     program.Cond
	Func     string
	File     string
	FD       int64
}

// Result is a Handler's answer to an action.
type Result struct {
	// Value is what the destination register receives.
	Value int64
	// Done advances the program counter past the instruction.
	Done bool
	// Events is the number of graph events the action committed.
	Events int
	// Block, when set, blocks the thread.
	Block Blockage
}

// Handler resolves visible actions.
type Handler interface {
	Visit(t *Thread, a *Action) (Result, error)
}

// ErrNotSchedulable is returned by Step for a thread that cannot run.
var ErrNotSchedulable = errors.New("thread is not schedulable")

// localStepLimit bounds the local instructions run between two visible
// actions when no unroll bound is configured.
const localStepLimit = 1 << 16

// Executor is the interpreter for one exploration.
type Executor struct {
	prog    *program.Program
	unroll  int
	threads []*Thread
	current int
	mem     *Memory
	fds     *FDTable
	mode    Mode
}

// New creates an executor for prog. unroll bounds how often each backward
// jump may be taken; zero leaves loops unbounded.
func New(prog *program.Program, unroll int) *Executor {
	return &Executor{
		prog:    prog,
		unroll:  unroll,
		current: -1,
		mem:     NewMemory(),
		fds:     NewFDTable(),
	}
}

// Program returns the program being executed.
func (x *Executor) Program() *program.Program {
	return x.prog
}

// Reset clears every thread and all per-execution state.
func (x *Executor) Reset() {
	x.threads = x.threads[:0]
	x.current = -1
	x.mem.Reset()
	x.fds.Reset()
	x.mode = ModeProgram
}

// AddThread installs thread id running fn(arg). Threads may be added out
// of order; gaps stay empty until filled.
func (x *Executor) AddThread(id int, parent event.Event, fn string, arg int64) (*Thread, error) {
	f, ok := x.prog.Function(fn)
	if !ok {
		return nil, fmt.Errorf("thread %d: undefined function %q", id, fn)
	}
	for len(x.threads) <= id {
		x.threads = append(x.threads, nil)
	}
	if x.threads[id] != nil {
		return nil, fmt.Errorf("thread %d already exists", id)
	}
	t := newThread(id, parent, f, arg)
	x.threads[id] = t
	return t, nil
}

// NumThreads returns the number of thread slots.
func (x *Executor) NumThreads() int {
	return len(x.threads)
}

// Thread returns thread id, or nil.
func (x *Executor) Thread(id int) *Thread {
	if id < 0 || id >= len(x.threads) {
		return nil
	}
	return x.threads[id]
}

// Current returns the scheduled thread, or nil.
func (x *Executor) Current() *Thread {
	return x.Thread(x.current)
}

// SetCurrent schedules thread id.
func (x *Executor) SetCurrent(id int) {
	x.current = id
}

// Pos returns the position of the next event of the current thread.
func (x *Executor) Pos() event.Event {
	if t := x.Current(); t != nil {
		return t.Pos()
	}
	return event.Bottom
}

// Blockage returns the blockage of thread id.
func (x *Executor) Blockage(id int) Blockage {
	if t := x.Thread(id); t != nil {
		return t.Blocked
	}
	return NotBlocked
}

// SetBlockage sets the blockage of thread id.
func (x *Executor) SetBlockage(id int, b Blockage) {
	if t := x.Thread(id); t != nil {
		t.Blocked = b
	}
}

// Memory returns the allocation table.
func (x *Executor) Memory() *Memory {
	return x.mem
}

// FDs returns the descriptor table.
func (x *Executor) FDs() *FDTable {
	return x.fds
}

// Mode returns the execution mode.
func (x *Executor) Mode() Mode {
	return x.mode
}

// SetMode switches the execution mode. Entering recovery closes every
// descriptor, as a crash would.
func (x *Executor) SetMode(m Mode) {
	if m == ModeRecovery && x.mode != ModeRecovery {
		x.fds.Reset()
	}
	x.mode = m
}

// Schedulable reports whether thread id can take a step.
func (x *Executor) Schedulable(id int) bool {
	t := x.Thread(id)
	return t != nil && !t.Finished && t.Blocked == NotBlocked
}

// NextOp returns the opcode the thread executes next. A thread that has
// not started reports OpNop.
func (x *Executor) NextOp(id int) program.Op {
	t := x.Thread(id)
	if t == nil || t.NextIndex == 0 {
		return program.OpNop
	}
	if in := t.Instr(); in != nil {
		return in.Op
	}
	return program.OpRet
}

// Step runs the current thread up to and including its next visible
// action. Local instructions that block the thread end the step early.
func (x *Executor) Step(h Handler) error {
	t := x.Current()
	if t == nil || !x.Schedulable(t.ID) {
		return ErrNotSchedulable
	}
	if t.NextIndex == 0 {
		return x.visit(h, t, &Action{Kind: ActStart, Value: t.Arg, Func: t.Func.Name})
	}
	for n := 0; ; n++ {
		if n >= localStepLimit {
			t.Blocked = BlockUser
			return nil
		}
		in := t.Instr()
		if in == nil {
			return x.visit(h, t, &Action{Kind: ActFinish})
		}
		a, err := x.eval(t, in)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", t.Func.Name, in.Line, err)
		}
		if a != nil {
			return x.visit(h, t, a)
		}
		if t.Blocked != NotBlocked || t.Finished {
			return nil
		}
	}
}

func (x *Executor) visit(h Handler, t *Thread, a *Action) error {
	res, err := h.Visit(t, a)
	if err != nil {
		return err
	}
	t.NextIndex += res.Events
	if res.Block != NotBlocked {
		t.Blocked = res.Block
	}
	if !res.Done {
		return nil
	}
	switch a.Kind {
	case ActStart:
		return nil
	case ActFinish:
		t.Finished = true
		return nil
	}
	if a.Instr.Dst != "" {
		t.Regs[a.Instr.Dst] = res.Value
	}
	if a.Instr.Op == program.OpRet {
		t.Finished = true
		return nil
	}
	t.PC++
	return nil
}

// eval executes in if it is local and returns nil, or returns the visible
// action it stands for.
func (x *Executor) eval(t *Thread, in *program.Instr) (*Action, error) {
	a := &Action{Instr: in, Ord: in.Ord}
	switch in.Op {
	case program.OpNop:
		t.PC++
		return nil, nil
	case program.OpMov:
		t.Regs[in.Dst] = x.value(t, in.Args[0])
		t.PC++
		return nil, nil
	case program.OpAdd:
		t.Regs[in.Dst] = x.value(t, in.Args[0]) + x.value(t, in.Args[1])
		t.PC++
		return nil, nil
	case program.OpSub:
		t.Regs[in.Dst] = x.value(t, in.Args[0]) - x.value(t, in.Args[1])
		t.PC++
		return nil, nil
	case program.OpJmp:
		x.jump(t, in.Target)
		return nil, nil
	case program.OpBr:
		if in.Cond.Eval(x.value(t, in.Args[0]), x.value(t, in.Args[1])) {
			x.jump(t, in.Target)
		} else {
			t.PC++
		}
		return nil, nil
	case program.OpAssume:
		if !in.Cond.Eval(x.value(t, in.Args[0]), x.value(t, in.Args[1])) {
			t.Blocked = BlockUser
			return nil, nil
		}
		t.PC++
		return nil, nil
	case program.OpAssert:
		if in.Cond.Eval(x.value(t, in.Args[0]), x.value(t, in.Args[1])) {
			t.PC++
			return nil, nil
		}
		a.Kind = ActAssertFail

	case program.OpLoad:
		a.Kind, a.Addr = ActLoad, x.location(t, in.Args[0])
	case program.OpStore:
		a.Kind, a.Addr, a.Value = ActStore, x.location(t, in.Args[0]), x.value(t, in.Args[1])
	case program.OpFetchAdd:
		a.Kind, a.Addr, a.Value = ActFetchAdd, x.location(t, in.Args[0]), x.value(t, in.Args[1])
	case program.OpCompareSwap:
		a.Kind, a.Addr = ActCompareSwap, x.location(t, in.Args[0])
		a.Expected, a.Value = x.value(t, in.Args[1]), x.value(t, in.Args[2])
	case program.OpAwait:
		a.Kind, a.Addr = ActAwait, x.location(t, in.Args[0])
		a.Cond, a.Value = in.Cond, x.value(t, in.Args[1])
	case program.OpLock:
		a.Kind, a.Addr, a.Ord = ActLock, x.location(t, in.Args[0]), event.Acquire
	case program.OpUnlock:
		a.Kind, a.Addr, a.Ord = ActUnlock, x.location(t, in.Args[0]), event.Release
	case program.OpFence:
		a.Kind = ActFence
	case program.OpMalloc:
		a.Kind, a.Value = ActMalloc, x.value(t, in.Args[0])
	case program.OpFree:
		a.Kind, a.Addr = ActFree, event.Addr(x.value(t, in.Args[0]))
	case program.OpSpawn:
		a.Kind, a.Func = ActSpawn, in.Func
		if len(in.Args) > 0 {
			a.Value = x.value(t, in.Args[0])
		}
	case program.OpJoin:
		a.Kind, a.Value = ActJoin, x.value(t, in.Args[0])
	case program.OpRet:
		a.Kind = ActFinish
		if len(in.Args) > 0 {
			a.Value = x.value(t, in.Args[0])
		}
	case program.OpDiskOpen:
		a.Kind, a.File = ActDiskOpen, in.File
		fd, _ := x.prog.FD(in.File)
		a.FD = int64(fd)
	case program.OpDiskWrite:
		a.Kind, a.FD = ActDiskWrite, x.value(t, in.Args[0])
		a.Addr = diskAddr(a.FD, x.value(t, in.Args[1]))
		a.Value = x.value(t, in.Args[2])
		a.Ord = event.Relaxed
	case program.OpDiskRead:
		a.Kind, a.FD = ActDiskRead, x.value(t, in.Args[0])
		a.Addr = diskAddr(a.FD, x.value(t, in.Args[1]))
		a.Ord = event.Relaxed
	case program.OpDiskSync:
		a.Kind, a.FD = ActDiskSync, x.value(t, in.Args[0])
	case program.OpDiskTrunc:
		a.Kind, a.FD = ActDiskTrunc, x.value(t, in.Args[0])
		a.Addr, a.Value = DiskSizeAddr(a.FD), x.value(t, in.Args[1])
		a.Ord = event.Relaxed
	case program.OpPbarrier:
		a.Kind = ActPbarrier
	default:
		return nil, fmt.Errorf("unsupported operation %v", in.Op)
	}
	return a, nil
}

// jump transfers control, enforcing the unroll bound on backward jumps.
func (x *Executor) jump(t *Thread, target int) {
	if target <= t.PC {
		t.jumps[t.PC]++
		if x.unroll > 0 && t.jumps[t.PC] > x.unroll {
			t.Blocked = BlockUser
			return
		}
	}
	t.PC = target
}

func (x *Executor) value(t *Thread, o program.Operand) int64 {
	switch o.Kind {
	case program.Imm:
		return o.Value
	case program.Reg:
		return t.Regs[o.Reg]
	case program.AddrOf:
		return int64(event.GlobalAddr(o.Global))
	}
	return 0
}

func (x *Executor) location(t *Thread, o program.Operand) event.Addr {
	switch o.Kind {
	case program.Global:
		return event.GlobalAddr(o.Global)
	case program.Deref:
		return event.Addr(t.Regs[o.Reg] + o.Value)
	}
	return 0
}

// diskSizeOffset is the cell of a file that holds its truncation size.
const diskSizeOffset = 1<<24 - 1

func diskAddr(fd, off int64) event.Addr {
	if off < 0 || off >= diskSizeOffset {
		off = diskSizeOffset - 1
	}
	return event.DiskAddr(int(fd), off)
}

// DiskSizeAddr returns the cell recording the size of the file behind fd.
func DiskSizeAddr(fd int64) event.Addr {
	return event.DiskAddr(int(fd), diskSizeOffset)
}
