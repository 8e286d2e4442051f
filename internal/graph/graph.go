// Package graph implements the execution graph store.
//
// The graph is an arena of labels indexed by (thread, index). Each thread's
// labels form its program order; stamps increase along program order. On top
// of the arena the store keeps:
//
//   - reads-from edges, stored on the read labels themselves
//   - one coherence list per location (the initializer is implicit and first)
//   - relation views (happens-before, program-order-union-reads-from) computed
//     as vector-clock fixpoints and cached per graph version
//
// Cutting the graph to a stamp is index-range invalidation: every thread is
// truncated at its first label with a larger stamp. The Driver never holds
// labels across a cut, only positions.
//
// A Graph is owned by exactly one exploration and is not safe for concurrent use.
package graph

import (
	"fmt"
	"sort"

	"github.com/kolkov/weakcheck/internal/event"
)

// Graph is an execution graph.
type Graph struct {
	threads [][]event.Label
	// parents[t] is the event that created thread t; Bottom for the main thread.
	parents []event.Event
	co      map[event.Addr][]event.Event
	inits   map[event.Addr]int64
	names   map[event.Addr]string
	next    event.Stamp
	sync    SyncPolicy

	// lockOrder is the installed order of critical sections per lock.
	// A nil map means stamp order.
	lockOrder map[event.Addr][]event.Event

	version uint64
	cache   map[viewKind]*Closure
	cached  uint64
}

// New creates a graph holding only the (empty) main thread.
//
// Parameters:
//   - inits: initial values of the locations that have one; locations not in
//     the map are uninitialized
//   - sync: decides which accesses and fences release and acquire; nil uses
//     the ordering annotations
func New(inits map[event.Addr]int64, sync SyncPolicy) *Graph {
	if sync == nil {
		sync = AnnotatedSync{}
	}
	return &Graph{
		threads: [][]event.Label{nil},
		parents: []event.Event{event.Bottom},
		co:      make(map[event.Addr][]event.Event),
		inits:   inits,
		sync:    sync,
	}
}

// SetNames attaches human-readable location names used by Render and DOT.
func (g *Graph) SetNames(names map[event.Addr]string) {
	g.names = names
}

// Name returns the name of a location, or its address.
func (g *Graph) Name(a event.Addr) string {
	if n, ok := g.names[a]; ok {
		return n
	}
	return a.String()
}

// Sync returns the synchronization policy the views are computed with.
func (g *Graph) Sync() SyncPolicy {
	return g.sync
}

func (g *Graph) touch() {
	g.version++
}

// NumThreads returns the number of thread slots, including threads that were
// created but have not started yet.
func (g *Graph) NumThreads() int {
	return len(g.threads)
}

// ThreadSize returns the number of labels in thread t.
func (g *Graph) ThreadSize(t int) int {
	if t < 0 || t >= len(g.threads) {
		return 0
	}
	return len(g.threads[t])
}

// Parent returns the event that created thread t.
func (g *Graph) Parent(t int) event.Event {
	if t < 0 || t >= len(g.parents) {
		return event.Bottom
	}
	return g.parents[t]
}

// IsRecovery reports whether thread t runs a recovery routine: it was
// added after a crash point instead of being spawned by a create event.
func (g *Graph) IsRecovery(t int) bool {
	if t <= 0 || t >= len(g.parents) {
		return false
	}
	_, spawned := g.Label(g.parents[t]).(*event.ThreadCreateLabel)
	return !spawned
}

// Contains reports whether a label exists at e.
func (g *Graph) Contains(e event.Event) bool {
	return e.Thread >= 0 && e.Thread < len(g.threads) && e.Index >= 0 && e.Index < len(g.threads[e.Thread])
}

// Label returns the label at e, or nil.
func (g *Graph) Label(e event.Event) event.Label {
	if !g.Contains(e) {
		return nil
	}
	return g.threads[e.Thread][e.Index]
}

// Last returns the last label of thread t, or nil for an empty thread.
func (g *Graph) Last(t int) event.Label {
	n := g.ThreadSize(t)
	if n == 0 {
		return nil
	}
	return g.threads[t][n-1]
}

// Thread returns the labels of thread t in program order. The slice is owned
// by the graph.
func (g *Graph) Thread(t int) []event.Label {
	return g.threads[t]
}

// NextStamp returns the stamp the next appended label will receive.
func (g *Graph) NextStamp() event.Stamp {
	return g.next
}

// AddThread opens a new thread slot created by parent and returns its id.
func (g *Graph) AddThread(parent event.Event) int {
	g.threads = append(g.threads, nil)
	g.parents = append(g.parents, parent)
	g.touch()
	return len(g.threads) - 1
}

// Append commits l at the end of its thread.
//
// The thread is taken from l's position; the index is overwritten with the
// committed one and l receives the next stamp. Writes are appended at the end
// of their location's coherence order; callers move them afterwards.
func (g *Graph) Append(l event.Label) event.Label {
	t := l.Pos().Thread
	if t < 0 || t >= len(g.threads) {
		panic(fmt.Sprintf("graph: append to unknown thread %d", t))
	}
	event.SetPos(l, event.New(t, len(g.threads[t])))
	event.SetStamp(l, g.next)
	g.next++
	g.threads[t] = append(g.threads[t], l)
	if w, ok := l.(*event.WriteLabel); ok {
		g.co[w.Addr] = append(g.co[w.Addr], w.Pos())
	}
	g.touch()
	return l
}

// Labels returns every label sorted by stamp.
func (g *Graph) Labels() []event.Label {
	var all []event.Label
	for _, th := range g.threads {
		all = append(all, th...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Stamp() < all[j].Stamp() })
	return all
}

// ChangeRf re-points read r to write w.
func (g *Graph) ChangeRf(r, w event.Event) {
	rl, ok := g.Label(r).(*event.ReadLabel)
	if !ok {
		panic(fmt.Sprintf("graph: ChangeRf on non-read %v", r))
	}
	rl.Rf = w
	g.touch()
}

// Touch invalidates cached views after a caller mutated a label in place.
func (g *Graph) Touch() {
	g.touch()
}

// InitValue returns the initial value of a, and whether a is initialized.
func (g *Graph) InitValue(a event.Addr) (int64, bool) {
	v, ok := g.inits[a]
	return v, ok
}

// ValueOf returns the value written by w to a. For Init this is the
// initial value (0 for uninitialized memory).
func (g *Graph) ValueOf(w event.Event, a event.Addr) int64 {
	if w.IsInit() {
		return g.inits[a]
	}
	if wl, ok := g.Label(w).(*event.WriteLabel); ok {
		return wl.Value
	}
	return 0
}

// ReadValue returns the value read by r.
func (g *Graph) ReadValue(r *event.ReadLabel) int64 {
	return g.ValueOf(r.Rf, r.Addr)
}

// Readers returns the reads of a that read from w, in thread order.
func (g *Graph) Readers(a event.Addr, w event.Event) []event.Event {
	var out []event.Event
	for _, th := range g.threads {
		for _, l := range th {
			if r, ok := l.(*event.ReadLabel); ok && r.Addr == a && r.Rf == w {
				out = append(out, r.Pos())
			}
		}
	}
	return out
}

// Reads returns every read of a.
func (g *Graph) Reads(a event.Addr) []*event.ReadLabel {
	var out []*event.ReadLabel
	for _, th := range g.threads {
		for _, l := range th {
			if r, ok := l.(*event.ReadLabel); ok && r.Addr == a {
				out = append(out, r)
			}
		}
	}
	return out
}

// RMWWriteOf returns the write half following read r, if present.
func (g *Graph) RMWWriteOf(r event.Event) (*event.WriteLabel, bool) {
	w, ok := g.Label(r.Next()).(*event.WriteLabel)
	if !ok || !w.RMW {
		return nil, false
	}
	return w, true
}

// IsRMWWrite reports whether the write at w is the write half of an RMW.
func (g *Graph) IsRMWWrite(w event.Event) bool {
	wl, ok := g.Label(w).(*event.WriteLabel)
	return ok && wl.RMW
}

// Clone returns a deep copy sharing only immutable data.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		threads: make([][]event.Label, len(g.threads)),
		parents: append([]event.Event(nil), g.parents...),
		co:      make(map[event.Addr][]event.Event, len(g.co)),
		inits:   g.inits,
		names:   g.names,
		next:    g.next,
		sync:    g.sync,
	}
	for t, th := range g.threads {
		c.threads[t] = make([]event.Label, len(th))
		for i, l := range th {
			c.threads[t][i] = l.Clone()
		}
	}
	for a, ws := range g.co {
		c.co[a] = append([]event.Event(nil), ws...)
	}
	if g.lockOrder != nil {
		c.lockOrder = make(map[event.Addr][]event.Event, len(g.lockOrder))
		for a, o := range g.lockOrder {
			c.lockOrder[a] = append([]event.Event(nil), o...)
		}
	}
	return c
}
