package driver

import (
	"fmt"

	"github.com/kolkov/weakcheck/internal/executor"
	"github.com/kolkov/weakcheck/internal/model"
	"github.com/kolkov/weakcheck/internal/report"
)

// ExitInternal is the process exit status for an internal error.
const ExitInternal = 3

// InternalError is a defect of the checker itself: a label of an
// unexpected kind, a broken graph invariant or a replay mismatch. It is
// never a property of the program under test.
type InternalError struct {
	Msg string
	Err error
}

func internalf(format string, args ...any) *InternalError {
	return &InternalError{Msg: fmt.Sprintf(format, args...)}
}

func internalErr(err error, format string, args ...any) *InternalError {
	return &InternalError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// Error implements error.
func (e *InternalError) Error() string {
	if e.Err != nil {
		return "internal error: " + e.Msg + ": " + e.Err.Error()
	}
	return "internal error: " + e.Msg
}

// Unwrap returns the underlying error.
func (e *InternalError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status for the error.
func (e *InternalError) ExitCode() int {
	return ExitInternal
}

// visitError turns a detected violation into the result of the action
// that exposed it.
//
// A violation found in a graph that is not consistent is a symptom of an
// infeasible prefix, so the thread is blocked and exploration continues.
// Otherwise the violation gets its source positions and traces and becomes
// the outcome of the exploration. t is the thread that performed the
// action, nil when the violation was found while applying a work item.
func (d *Driver) visitError(t *executor.Thread, v *report.Violation) executor.Result {
	blocked := executor.Result{Block: executor.BlockError}
	if !d.isConsistent(model.CheckError) {
		d.log.Debug("violation in inconsistent prefix", "kind", v.Kind.Slug(), "event", v.Event)
		return blocked
	}
	d.fill(v, t)
	d.violation = v
	d.log.Info("violation found", "kind", v.Kind.Slug(), "event", v.Event, "complete", d.stats.Complete)
	return blocked
}
