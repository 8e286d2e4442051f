package executor

import (
	"fmt"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/program"
)

// Blockage is why a thread cannot currently be scheduled.
type Blockage uint8

const (
	NotBlocked Blockage = iota
	// BlockJoin waits for a thread that has not finished.
	BlockJoin
	// BlockSpinloop is an await whose condition does not hold for the
	// value read.
	BlockSpinloop
	// BlockLockAcq waits for a lock that is held.
	BlockLockAcq
	// BlockCons marks a thread whose last step made the graph inconsistent.
	BlockCons
	// BlockError marks a thread that hit an error in an infeasible prefix.
	BlockError
	// BlockUser is a failed assume or an exhausted loop bound.
	BlockUser
)

func (b Blockage) String() string {
	switch b {
	case NotBlocked:
		return "running"
	case BlockJoin:
		return "join"
	case BlockSpinloop:
		return "spinloop"
	case BlockLockAcq:
		return "lock"
	case BlockCons:
		return "inconsistent"
	case BlockError:
		return "error"
	case BlockUser:
		return "assume"
	}
	return fmt.Sprintf("Blockage(%d)", uint8(b))
}

// Thread is the interpreter state of one target thread.
//
// NextIndex is the graph index of the next event the thread produces. It
// only advances when an action completes; a blocked thread keeps pointing
// at the event it is stuck on.
type Thread struct {
	ID     int
	Parent event.Event
	Func   *program.Function
	Arg    int64

	PC   int
	Regs map[string]int64

	Blocked   Blockage
	Finished  bool
	NextIndex int

	// jumps counts taken backward jumps per instruction.
	jumps map[int]int
}

func newThread(id int, parent event.Event, fn *program.Function, arg int64) *Thread {
	return &Thread{
		ID:     id,
		Parent: parent,
		Func:   fn,
		Arg:    arg,
		Regs:   map[string]int64{"arg": arg},
		jumps:  make(map[int]int),
	}
}

// Pos returns the position of the next event of the thread.
func (t *Thread) Pos() event.Event {
	return event.New(t.ID, t.NextIndex)
}

// Instr returns the instruction at the program counter, or nil when the
// thread ran off the end of its function.
func (t *Thread) Instr() *program.Instr {
	if t.PC < 0 || t.PC >= len(t.Func.Code) {
		return nil
	}
	return &t.Func.Code[t.PC]
}

// SourcePos returns the source position of the program counter.
func (t *Thread) SourcePos() program.Pos {
	in := t.Instr()
	if in == nil {
		return program.Pos{Func: t.Func.Name, Text: "ret"}
	}
	return program.Pos{Func: t.Func.Name, Line: in.Line, Text: in.Text}
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d (%s, pc=%d, %s)", t.ID, t.Func.Name, t.PC, t.Blocked)
}
