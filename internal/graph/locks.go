package graph

import (
	"sort"

	"github.com/kolkov/weakcheck/internal/event"
)

// LockAddrs returns the locks that have critical sections, sorted.
func (g *Graph) LockAddrs() []event.Addr {
	seen := make(map[event.Addr]bool)
	for _, th := range g.threads {
		for _, l := range th {
			if lk, ok := l.(*event.LockLabel); ok {
				seen[lk.Addr] = true
			}
		}
	}
	out := make([]event.Addr, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LockOrder returns the critical-section entries of lock a in their current
// order: the installed order if any, else stamp order.
func (g *Graph) LockOrder(a event.Addr) []event.Event {
	if order, ok := g.lockOrder[a]; ok {
		return order
	}
	var locks []event.Label
	for _, th := range g.threads {
		for _, l := range th {
			if lk, ok := l.(*event.LockLabel); ok && lk.Addr == a {
				locks = append(locks, lk)
			}
		}
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Stamp() < locks[j].Stamp() })
	out := make([]event.Event, len(locks))
	for i, l := range locks {
		out[i] = l.Pos()
	}
	return out
}

// InstallLockOrder replaces the critical-section order of the given locks.
func (g *Graph) InstallLockOrder(order map[event.Addr][]event.Event) {
	g.lockOrder = make(map[event.Addr][]event.Event, len(order))
	for a, o := range order {
		g.lockOrder[a] = append([]event.Event(nil), o...)
	}
	g.touch()
}

// ResetLockOrder reverts to stamp order.
func (g *Graph) ResetLockOrder() {
	if g.lockOrder == nil {
		return
	}
	g.lockOrder = nil
	g.touch()
}

// UnlockOf returns the exit of the critical section opened at lock.
func (g *Graph) UnlockOf(lock event.Event) (event.Event, bool) {
	lk, ok := g.Label(lock).(*event.LockLabel)
	if !ok {
		return event.Bottom, false
	}
	th := g.threads[lock.Thread]
	for i := lock.Index + 1; i < len(th); i++ {
		if u, ok := th[i].(*event.UnlockLabel); ok && u.Addr == lk.Addr {
			return u.Pos(), true
		}
	}
	return event.Bottom, false
}

// OpenCriticalSection returns the entry of the critical section on a that
// thread t has not left yet.
func (g *Graph) OpenCriticalSection(t int, a event.Addr) (event.Event, bool) {
	th := g.threads[t]
	for i := len(th) - 1; i >= 0; i-- {
		switch l := th[i].(type) {
		case *event.UnlockLabel:
			if l.Addr == a {
				return event.Bottom, false
			}
		case *event.LockLabel:
			if l.Addr == a {
				return l.Pos(), true
			}
		}
	}
	return event.Bottom, false
}

// LockHolder returns the thread holding lock a, if any.
func (g *Graph) LockHolder(a event.Addr) (int, bool) {
	for t := range g.threads {
		if _, ok := g.OpenCriticalSection(t, a); ok {
			return t, true
		}
	}
	return -1, false
}
