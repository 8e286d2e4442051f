// Package program loads the programs weakcheck verifies.
//
// A program is a YAML document naming its global variables and a set of
// functions. Each function body is a small instruction language over
// integer registers:
//
//	format: v1
//	name: sb
//	globals: [{name: x, init: 0}, {name: y, init: 0}]
//	main: main
//	functions:
//	  main: |
//	    spawn %t1, left, 0
//	    spawn %t2, right, 0
//	    join %t1
//	    join %t2
//	  left: |
//	    store x, 1, rlx
//	    load %r, y, rlx
//
// Loading resolves every label, function and global reference, so the
// executor never sees a dangling name.
package program

import (
	"fmt"
	"sort"

	"github.com/kolkov/weakcheck/internal/event"
)

// FormatMajor is the only program format major version this release reads.
const FormatMajor = "v1"

// Op is an instruction opcode.
type Op uint8

const (
	OpNop Op = iota
	OpLoad
	OpStore
	OpFetchAdd
	OpCompareSwap
	OpAwait
	OpLock
	OpUnlock
	OpFence
	OpMalloc
	OpFree
	OpSpawn
	OpJoin
	OpMov
	OpAdd
	OpSub
	OpJmp
	OpBr
	OpAssume
	OpAssert
	OpRet
	OpDiskOpen
	OpDiskWrite
	OpDiskRead
	OpDiskSync
	OpDiskTrunc
	OpPbarrier
)

var opNames = map[string]Op{
	"nop":      OpNop,
	"load":     OpLoad,
	"store":    OpStore,
	"fai":      OpFetchAdd,
	"cas":      OpCompareSwap,
	"await":    OpAwait,
	"lock":     OpLock,
	"unlock":   OpUnlock,
	"fence":    OpFence,
	"malloc":   OpMalloc,
	"free":     OpFree,
	"spawn":    OpSpawn,
	"join":     OpJoin,
	"mov":      OpMov,
	"add":      OpAdd,
	"sub":      OpSub,
	"jmp":      OpJmp,
	"br":       OpBr,
	"assume":   OpAssume,
	"assert":   OpAssert,
	"ret":      OpRet,
	"dopen":    OpDiskOpen,
	"dwrite":   OpDiskWrite,
	"dread":    OpDiskRead,
	"dsync":    OpDiskSync,
	"dtrunc":   OpDiskTrunc,
	"pbarrier": OpPbarrier,
}

func (o Op) String() string {
	for name, op := range opNames {
		if op == o {
			return name
		}
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Visible reports whether executing the instruction produces an event.
func (o Op) Visible() bool {
	switch o {
	case OpNop, OpMov, OpAdd, OpSub, OpJmp, OpBr, OpAssume:
		return false
	}
	return true
}

// LoadLike reports whether the instruction reads shared memory.
func (o Op) LoadLike() bool {
	switch o {
	case OpLoad, OpFetchAdd, OpCompareSwap, OpAwait, OpLock, OpDiskRead:
		return true
	}
	return false
}

// Cond is a comparison used by br, await, assume and assert.
type Cond uint8

const (
	CondEq Cond = iota
	CondNe
	CondLt
	CondLe
	CondGt
	CondGe
)

var condNames = map[string]Cond{
	"eq": CondEq, "ne": CondNe, "lt": CondLt, "le": CondLe, "gt": CondGt, "ge": CondGe,
}

// Eval applies the comparison to a and b.
func (c Cond) Eval(a, b int64) bool {
	switch c {
	case CondEq:
		return a == b
	case CondNe:
		return a != b
	case CondLt:
		return a < b
	case CondLe:
		return a <= b
	case CondGt:
		return a > b
	case CondGe:
		return a >= b
	}
	return false
}

func (c Cond) String() string {
	for name, cc := range condNames {
		if cc == c {
			return name
		}
	}
	return fmt.Sprintf("Cond(%d)", uint8(c))
}

// OperandKind classifies instruction operands.
type OperandKind uint8

const (
	// Imm is an integer literal.
	Imm OperandKind = iota
	// Reg is a register, written %name.
	Reg
	// Global is a global variable used as a location.
	Global
	// AddrOf is &name, the address of a global as a value.
	AddrOf
	// Deref is *%reg or *%reg+N, the location a register points to.
	Deref
)

// Operand is one resolved instruction operand.
type Operand struct {
	Kind OperandKind
	// Value is the literal for Imm and the cell offset for Deref.
	Value int64
	// Reg names the register for Reg and Deref.
	Reg string
	// Global is the index of the global for Global and AddrOf.
	Global int
}

// Instr is one instruction.
type Instr struct {
	Op  Op
	Dst string // destination register, empty if none
	// Args are the value and location operands in source order.
	Args   []Operand
	Ord    event.Ordering
	Cond   Cond
	Target int    // resolved jump target for jmp and br
	Func   string // spawned function
	File   string // file name for dopen
	Line   int
	Text   string
}

func (in *Instr) String() string {
	return in.Text
}

// Function is a named instruction sequence.
type Function struct {
	Name   string
	Code   []Instr
	Labels map[string]int
}

// GlobalVar is a named global cell.
type GlobalVar struct {
	Name string
	// Init is the initial value; nil leaves the cell uninitialized.
	Init *int64
}

// Program is a loaded, fully resolved program.
type Program struct {
	File      string
	Name      string
	Format    string
	Globals   []GlobalVar
	Main      string
	Recovery  string
	Functions map[string]*Function
	// Files are the distinct file names opened with dopen, sorted. The
	// descriptor of a file is its index plus FirstFD.
	Files []string
}

// FirstFD is the descriptor of the first file.
const FirstFD = 3

// Function returns the named function.
func (p *Program) Function(name string) (*Function, bool) {
	f, ok := p.Functions[name]
	return f, ok
}

// GlobalIndex returns the index of the named global.
func (p *Program) GlobalIndex(name string) (int, bool) {
	for i, g := range p.Globals {
		if g.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Inits returns the initial values of the initialized globals.
func (p *Program) Inits() map[event.Addr]int64 {
	out := make(map[event.Addr]int64, len(p.Globals))
	for i, g := range p.Globals {
		if g.Init != nil {
			out[event.GlobalAddr(i)] = *g.Init
		}
	}
	return out
}

// Names maps global addresses to their names, for rendering.
func (p *Program) Names() map[event.Addr]string {
	out := make(map[event.Addr]string, len(p.Globals))
	for i, g := range p.Globals {
		out[event.GlobalAddr(i)] = g.Name
	}
	return out
}

// FD returns the descriptor dopen yields for name.
func (p *Program) FD(name string) (int, bool) {
	i := sort.SearchStrings(p.Files, name)
	if i < len(p.Files) && p.Files[i] == name {
		return FirstFD + i, true
	}
	return 0, false
}

// ValidFD reports whether fd names one of the program's files.
func (p *Program) ValidFD(fd int64) bool {
	return fd >= FirstFD && fd < FirstFD+int64(len(p.Files))
}

// Pos identifies an instruction for diagnostics.
type Pos struct {
	Func string
	Line int
	Text string
}

func (p Pos) String() string {
	if p.Func == "" {
		return "?"
	}
	return fmt.Sprintf("%s:%d: %s", p.Func, p.Line, p.Text)
}
