// Package report describes verification failures and prints them.
//
// A Violation is what the exploration driver produces when it finds a real
// bug in the program under test: the offending event, for two-sided bugs
// the conflicting event, and the causal trace leading to each. Violations
// implement error so they can travel up to the command line, which maps
// them to the verification-failure exit status.
package report

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/program"
)

// ExitViolation is the process exit status for a reported violation.
const ExitViolation = 42

// Kind classifies violations.
type Kind uint8

const (
	SafetyViolation Kind = iota
	Race
	RaceFreeMalloc
	FreeNonMalloc
	DoubleFree
	UninitializedMem
	AccessNonMalloc
	AccessFreed
	InvalidJoin
	InvalidUnlock
	Liveness
	RecoveryError
	InvalidRecoveryCall
	InvalidTruncate
	SystemError
)

var kindNames = [...]string{
	SafetyViolation:     "Safety violation",
	Race:                "Non-atomic race",
	RaceFreeMalloc:      "Malloc-free race",
	FreeNonMalloc:       "Attempt to free non-allocated memory",
	DoubleFree:          "Double-free error",
	UninitializedMem:    "Attempt to read from uninitialized memory",
	AccessNonMalloc:     "Attempt to access non-allocated memory",
	AccessFreed:         "Attempt to access freed memory",
	InvalidJoin:         "Invalid join() operation",
	InvalidUnlock:       "Invalid unlock() operation",
	Liveness:            "Liveness violation",
	RecoveryError:       "Recovery error",
	InvalidRecoveryCall: "Invalid function call during recovery",
	InvalidTruncate:     "Invalid file truncation",
	SystemError:         "System error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Slug returns a short machine-friendly name, used in deduplication keys
// and metrics labels.
func (k Kind) Slug() string {
	s := strings.ToLower(k.String())
	s = strings.NewReplacer("attempt to ", "", "()", "", " operation", "", " ", "-").Replace(s)
	return s
}

// TraceStep is one event of a causal trace.
type TraceStep struct {
	Event  event.Event
	Desc   string
	Source program.Pos
}

func (s TraceStep) String() string {
	if s.Source.Func == "" {
		return fmt.Sprintf("%v %s", s.Event, s.Desc)
	}
	return fmt.Sprintf("%v %s  (%s)", s.Event, s.Desc, s.Source)
}

// Violation is a verification failure.
type Violation struct {
	Kind Kind
	// Event is the event that exposed the bug.
	Event event.Event
	// Conflict is the other event of two-sided bugs (races, double free),
	// Bottom otherwise.
	Conflict event.Event
	// Desc and ConflictDesc describe the events in graph terms.
	Desc         string
	ConflictDesc string
	// Source and ConflictSource locate the events in the program.
	Source         program.Pos
	ConflictSource program.Pos
	Message        string
	// Errno is set for system errors.
	Errno syscall.Errno
	// Trace and ConflictTrace are the causal histories of the two events
	// in a linear order consistent with program order and reads-from.
	Trace         []TraceStep
	ConflictTrace []TraceStep
	// Graph is an optional rendering of the violating execution.
	Graph string
	// Key identifies the bug independently of the thread numbering order.
	Key string
}

// New creates a violation of kind at e.
func New(kind Kind, e event.Event, format string, args ...any) *Violation {
	v := &Violation{
		Kind:     kind,
		Event:    e,
		Conflict: event.Bottom,
		Message:  fmt.Sprintf(format, args...),
	}
	v.Key = deduplicationKey(kind, e, event.Bottom)
	return v
}

// WithConflict records the conflicting event.
func (v *Violation) WithConflict(e event.Event) *Violation {
	v.Conflict = e
	v.Key = deduplicationKey(v.Kind, v.Event, e)
	return v
}

// WithErrno records an OS error number.
func (v *Violation) WithErrno(errno syscall.Errno) *Violation {
	v.Errno = errno
	return v
}

// Error implements error.
func (v *Violation) Error() string {
	msg := v.Kind.String()
	if v.Message != "" {
		msg += ": " + v.Message
	}
	if v.Errno != 0 {
		msg += fmt.Sprintf(" (%s)", v.Errno)
	}
	return msg
}

// ExitCode returns the process exit status for the violation.
func (v *Violation) ExitCode() int {
	return ExitViolation
}

// deduplicationKey identifies a bug by kind and the pair of events,
// ordered so that the same pair found from either side gives one key.
func deduplicationKey(kind Kind, a, b event.Event) string {
	if !b.IsBottom() && b.Less(a) {
		a, b = b, a
	}
	if b.IsBottom() {
		return fmt.Sprintf("%s:%v", kind.Slug(), a)
	}
	return fmt.Sprintf("%s:%v:%v", kind.Slug(), a, b)
}
