package driver

import (
	"fmt"
	"math/rand/v2"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/executor"
	"github.com/kolkov/weakcheck/internal/graph"
)

// Schedule is the thread selection policy for new events.
type Schedule uint8

const (
	// ScheduleLTR runs the lowest-numbered thread that can run.
	ScheduleLTR Schedule = iota
	// ScheduleWF prefers threads whose next action writes, so that reads
	// added later see more candidates up front.
	ScheduleWF
	// ScheduleRandom picks a pseudo-random thread from a seeded source.
	ScheduleRandom
)

// ParseSchedule parses a schedule name.
func ParseSchedule(s string) (Schedule, error) {
	switch s {
	case "ltr":
		return ScheduleLTR, nil
	case "wf":
		return ScheduleWF, nil
	case "random":
		return ScheduleRandom, nil
	}
	return 0, fmt.Errorf("unknown schedule %q (want ltr, wf or random)", s)
}

func (s Schedule) String() string {
	switch s {
	case ScheduleLTR:
		return "ltr"
	case ScheduleWF:
		return "wf"
	case ScheduleRandom:
		return "random"
	}
	return fmt.Sprintf("Schedule(%d)", uint8(s))
}

type scheduler struct {
	policy Schedule
	seed   uint64
	src    *rand.PCG
	rng    *rand.Rand
	// next is the round-robin cursor over prioritized threads.
	next int
}

func newScheduler(policy Schedule, seed uint64) *scheduler {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &scheduler{
		policy: policy,
		seed:   seed,
		src:    src,
		rng:    rand.New(src),
	}
}

// intN draws a number in [0, n) from a stream seeded by the seed and the
// number of events of every thread of g. The same graph always yields the
// same draw, however the exploration got there.
func (s *scheduler) intN(g *graph.Graph, n int) int {
	h := uint64(0xcbf29ce484222325)
	for t := 0; t < g.NumThreads(); t++ {
		h ^= uint64(g.ThreadSize(t)) + 1
		h *= 0x100000001b3
	}
	s.src.Seed(s.seed, h)
	return s.rng.IntN(n)
}

// scheduleNext selects the thread for the next step and reports false
// when no thread can run.
//
// Threads whose next event is already in the graph are replayed first,
// lowest id first. Prioritized threads come next, then the policy.
func (d *Driver) scheduleNext() bool {
	d.refreshBlocked()
	n := d.x.NumThreads()

	for t := 0; t < n; t++ {
		if th := d.x.Thread(t); th != nil && d.x.Schedulable(t) && d.g.Contains(th.Pos()) {
			d.setCurrent(t)
			return true
		}
	}

	for i := range d.prios {
		k := (d.sched.next + i) % len(d.prios)
		if t := d.prios[k]; d.x.Schedulable(t) {
			d.sched.next = k + 1
			d.setCurrent(t)
			return true
		}
	}

	t, ok := d.pickByPolicy(n)
	if !ok {
		return false
	}
	d.setCurrent(t)
	return true
}

func (d *Driver) pickByPolicy(n int) (int, bool) {
	switch d.sched.policy {
	case ScheduleWF:
		first := -1
		for t := 0; t < n; t++ {
			if !d.x.Schedulable(t) {
				continue
			}
			if !d.x.NextOp(t).LoadLike() {
				return t, true
			}
			if first < 0 {
				first = t
			}
		}
		return first, first >= 0
	case ScheduleRandom:
		if n == 0 {
			return 0, false
		}
		off := d.sched.intN(d.g, n)
		for i := 0; i < n; i++ {
			t := (off + i) % n
			if d.x.Schedulable(t) {
				return d.symmetricChoice(t), true
			}
		}
		return 0, false
	}
	for t := 0; t < n; t++ {
		if d.x.Schedulable(t) {
			return t, true
		}
	}
	return 0, false
}

// symmetricChoice replaces t by the lowest-numbered thread of its symmetry
// class that can run. The class leader always goes first, so which member
// the policy happened to pick does not matter and executions that differ
// only in the names of symmetric threads are built the same way.
func (d *Driver) symmetricChoice(t int) int {
	if !d.opts.Symmetry {
		return t
	}
	best := t
	for s := d.symmetryOf(t); s >= 0; s = d.symmetryOf(s) {
		if d.x.Schedulable(s) {
			best = s
		}
	}
	return best
}

// refreshBlocked unblocks joins whose child has finished and lock-aware
// acquisitions whose lock has been released.
func (d *Driver) refreshBlocked() {
	for t, child := range d.joinWait {
		if d.x.Blockage(t) != executor.BlockJoin {
			delete(d.joinWait, t)
			continue
		}
		if _, ok := d.g.Last(child).(*event.ThreadFinishLabel); ok {
			d.x.SetBlockage(t, executor.NotBlocked)
			delete(d.joinWait, t)
		}
	}
	for t, a := range d.lockWait {
		if d.x.Blockage(t) != executor.BlockLockAcq {
			delete(d.lockWait, t)
			continue
		}
		if _, held := d.g.LockHolder(a); !held {
			d.x.SetBlockage(t, executor.NotBlocked)
			delete(d.lockWait, t)
		}
	}
}

func (d *Driver) setCurrent(t int) {
	d.x.SetCurrent(t)
	if t == d.recovery {
		d.x.SetMode(executor.ModeRecovery)
	}
}

// prioritize makes t run before the policy is consulted, for threads that
// hold a lock or were just granted one.
func (d *Driver) prioritize(t int) {
	for _, p := range d.prios {
		if p == t {
			return
		}
	}
	d.prios = append(d.prios, t)
}

func (d *Driver) deprioritize(t int) {
	for i, p := range d.prios {
		if p == t {
			d.prios = append(d.prios[:i], d.prios[i+1:]...)
			return
		}
	}
}
