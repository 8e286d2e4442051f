package driver

import (
	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/executor"
	"github.com/kolkov/weakcheck/internal/model"
	"github.com/kolkov/weakcheck/internal/report"
)

// begin prepares the executor to replay the current graph: one
// interpreter thread per graph thread, started with the function and
// argument recorded by its creation.
func (d *Driver) begin() error {
	d.x.Reset()
	d.joinWait = make(map[int]int)
	d.lockWait = make(map[int]event.Addr)
	d.recovery = -1
	d.moot = false

	for t := 0; t < d.g.NumThreads(); t++ {
		fn, arg := d.prog.Main, int64(0)
		parent := d.g.Parent(t)
		if t > 0 {
			switch l := d.g.Label(parent).(type) {
			case *event.ThreadCreateLabel:
				fn, arg = l.Func, l.Arg
			case *event.PbarrierLabel, *event.ThreadFinishLabel:
				fn = d.prog.Recovery
				d.recovery = t
			default:
				return internalf("thread %d: unexpected creator %v", t, parent)
			}
		}
		if _, err := d.x.AddThread(t, parent, fn, arg); err != nil {
			return internalErr(err, "replay")
		}
		if d.opts.LAPOR {
			for _, a := range d.g.LockAddrs() {
				if _, open := d.g.OpenCriticalSection(t, a); open {
					d.prioritize(t)
				}
			}
		}
	}
	d.x.SetMode(executor.ModeProgram)
	return nil
}

// finished classifies the execution that just ended and counts it.
func (d *Driver) finished() error {
	d.prios = d.prios[:0]
	if d.moot {
		d.count("discarded")
		return nil
	}
	if !d.isConsistent(model.CheckEnd) {
		d.count("discarded")
		return nil
	}

	blocked := false
	for t := 0; t < d.x.NumThreads(); t++ {
		switch d.x.Blockage(t) {
		case executor.NotBlocked:
		case executor.BlockCons, executor.BlockError:
			d.count("discarded")
			return nil
		default:
			blocked = true
		}
	}
	if blocked {
		if d.opts.Liveness {
			if v := d.checkLiveness(); v != nil {
				d.visitError(nil, v)
				if d.violation != nil {
					return nil
				}
			}
		}
		d.count("blocked")
		return nil
	}

	if d.opts.Dedup != nil {
		seen, err := d.opts.Dedup.Seen(d.g.Render())
		if err != nil {
			return internalErr(err, "duplicate check")
		}
		if seen {
			d.count("duplicate")
			return nil
		}
	}
	d.count("complete")
	if d.opts.OnExecution != nil {
		d.opts.OnExecution(d.g)
	}
	return nil
}

// checkLiveness reports a thread that spins forever: every spinning thread
// reads the latest write of its location, so no later write can release it.
func (d *Driver) checkLiveness() *report.Violation {
	var first *event.ReadLabel
	for t := 0; t < d.x.NumThreads(); t++ {
		th := d.x.Thread(t)
		if th == nil || th.Blocked != executor.BlockSpinloop {
			continue
		}
		r, ok := d.g.Label(th.Pos()).(*event.ReadLabel)
		if !ok || !d.g.IsCoMax(r.Addr, r.Rf) {
			return nil
		}
		if first == nil {
			first = r
		}
	}
	if first == nil {
		return nil
	}
	return report.New(report.Liveness, first.Pos(), "thread %d spins forever on %s", first.Pos().Thread, d.g.Name(first.Addr))
}
