package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const banner = "=================="

var (
	colorError = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#2C4A54")
	colorOK    = lipgloss.Color("#2CD7C7")
	colorTitle = lipgloss.Color("#F4D03F")
)

// Summary is the outcome of a finished verification run.
type Summary struct {
	Model      string
	Complete   int
	Blocked    int
	Duplicates int
	Elapsed    time.Duration
	// Violation is the reported bug, nil when none was found.
	Violation *Violation
}

// Printer writes violations and summaries. Output is styled only when the
// writer is a terminal.
type Printer struct {
	w      io.Writer
	styled bool

	title lipgloss.Style
	error lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{
		w:      w,
		styled: styled,
		title:  lipgloss.NewStyle().Bold(true).Foreground(colorTitle),
		error:  lipgloss.NewStyle().Bold(true).Foreground(colorError),
		muted:  lipgloss.NewStyle().Foreground(colorMuted),
		ok:     lipgloss.NewStyle().Foreground(colorOK),
	}
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// Violation prints a banner-delimited report:
//
//	==================
//	Error detected: Non-atomic race!
//	Event [2,1] W.na x=2  (right:3: store x, 2)
//	conflicts with event [1,1] W.na x=1  (left:3: store x, 1)
//
//	Trace to [2,1]:
//	  [0,0] B main(0)
//	  ...
//	==================
//
//nolint:errcheck // Error handling omitted for report output formatting
func (p *Printer) Violation(v *Violation) {
	fmt.Fprintln(p.w, banner)
	fmt.Fprintln(p.w, p.render(p.error, "Error detected: "+v.Kind.String()+"!"))
	fmt.Fprintf(p.w, "Event %v %s", v.Event, v.Desc)
	if v.Source.Func != "" {
		fmt.Fprintf(p.w, "  (%s)", v.Source)
	}
	fmt.Fprintln(p.w)
	if !v.Conflict.IsBottom() {
		fmt.Fprintf(p.w, "conflicts with event %v %s", v.Conflict, v.ConflictDesc)
		if v.ConflictSource.Func != "" {
			fmt.Fprintf(p.w, "  (%s)", v.ConflictSource)
		}
		fmt.Fprintln(p.w)
	}
	if v.Message != "" {
		fmt.Fprintln(p.w, v.Message)
	}
	if v.Errno != 0 {
		fmt.Fprintf(p.w, "errno %d: %s\n", int(v.Errno), v.Errno)
	}
	p.trace(v.Event, v.Trace)
	if !v.Conflict.IsBottom() {
		p.trace(v.Conflict, v.ConflictTrace)
	}
	if v.Graph != "" {
		fmt.Fprintln(p.w)
		fmt.Fprint(p.w, v.Graph)
	}
	fmt.Fprintln(p.w, banner)
}

//nolint:errcheck
func (p *Printer) trace(e fmt.Stringer, steps []TraceStep) {
	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.render(p.title, fmt.Sprintf("Trace to %v:", e)))
	for _, s := range steps {
		fmt.Fprintf(p.w, "  %s\n", p.render(p.muted, s.String()))
	}
}

// Summary prints the exploration counters.
//
//nolint:errcheck
func (p *Printer) Summary(s Summary) {
	if s.Violation == nil {
		fmt.Fprintln(p.w, p.render(p.ok, "No errors were detected."))
	} else {
		fmt.Fprintln(p.w, p.render(p.error, "Verification failed: "+s.Violation.Kind.String()))
	}
	fmt.Fprintf(p.w, "Memory model: %s\n", s.Model)
	fmt.Fprintf(p.w, "Number of complete executions explored: %d\n", s.Complete)
	if s.Blocked > 0 {
		fmt.Fprintf(p.w, "Number of blocked executions seen: %d\n", s.Blocked)
	}
	if s.Duplicates > 0 {
		fmt.Fprintf(p.w, "Number of duplicate executions skipped: %d\n", s.Duplicates)
	}
	fmt.Fprintf(p.w, "Total wall-clock time: %.2fs\n", s.Elapsed.Seconds())
}
