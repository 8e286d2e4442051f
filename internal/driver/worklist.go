package driver

import (
	"fmt"
	"slices"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

// Item is a pending alternative of the exploration.
//
// Items are a closed sum type: CoMoveItem, ForwardRevisit and BackwardRevisit.
type Item interface {
	// Target is the position of the label the item is keyed by: the write
	// of a coherence move, the read of a revisit.
	Target() event.Event
	Kind() string
	isItem()
}

// CoMoveItem moves Write so that Pos other writes precede it in coherence order.
type CoMoveItem struct {
	Write event.Event
	Pos   int
}

func (it *CoMoveItem) Target() event.Event { return it.Write }
func (it *CoMoveItem) Kind() string        { return "coherence" }
func (it *CoMoveItem) isItem()             {}

func (it *CoMoveItem) String() string {
	return fmt.Sprintf("co-move %v to %d", it.Write, it.Pos)
}

// ForwardRevisit makes Read read from Write, an older write it could have
// read from when it was added.
type ForwardRevisit struct {
	Read  event.Event
	Write event.Event
}

func (it *ForwardRevisit) Target() event.Event { return it.Read }
func (it *ForwardRevisit) Kind() string        { return "forward" }
func (it *ForwardRevisit) isItem()             {}

func (it *ForwardRevisit) String() string {
	return fmt.Sprintf("forward %v <- %v", it.Read, it.Write)
}

// BackwardRevisit makes Read read from Write, a write added after it. Prefix
// holds the causal history of Write that the cut to Read removes and that
// has to be restored first; Placements put its writes back into coherence.
type BackwardRevisit struct {
	Read       event.Event
	Write      event.Event
	Prefix     []event.Label
	Placements []graph.CoPlacement
}

func (it *BackwardRevisit) Target() event.Event { return it.Read }
func (it *BackwardRevisit) Kind() string        { return "backward" }
func (it *BackwardRevisit) isItem()             {}

func (it *BackwardRevisit) String() string {
	return fmt.Sprintf("backward %v <- %v (+%d events)", it.Read, it.Write, len(it.Prefix))
}

// Worklist maps stamps to the items keyed by them. Items are taken from the
// highest stamp first, which drives the deepest alternative to completion
// before any shallower one is tried.
type Worklist struct {
	items map[event.Stamp][]Item
	// live holds the stamps with a non-empty queue, ascending.
	live []event.Stamp
	size int
}

// NewWorklist creates an empty worklist.
func NewWorklist() *Worklist {
	return &Worklist{items: make(map[event.Stamp][]Item)}
}

// Add queues it under stamp s.
func (w *Worklist) Add(s event.Stamp, it Item) {
	if len(w.items[s]) == 0 {
		i, _ := slices.BinarySearch(w.live, s)
		w.live = slices.Insert(w.live, i, s)
	}
	w.items[s] = append(w.items[s], it)
	w.size++
}

// Next removes and returns the most recently added item of the highest
// stamp that has any.
func (w *Worklist) Next() (Item, event.Stamp, bool) {
	if len(w.live) == 0 {
		return nil, 0, false
	}
	best := w.live[len(w.live)-1]
	q := w.items[best]
	it := q[len(q)-1]
	q[len(q)-1] = nil
	w.items[best] = q[:len(q)-1]
	if len(q) == 1 {
		w.live = w.live[:len(w.live)-1]
	}
	w.size--
	return it, best, true
}

// TakeLowest removes and returns the oldest item of the lowest stamp that
// has any. The shallowest alternatives head the largest unexplored subtrees,
// so they are the ones handed to idle workers.
func (w *Worklist) TakeLowest() (Item, event.Stamp, bool) {
	if len(w.live) == 0 {
		return nil, 0, false
	}
	best := w.live[0]
	q := w.items[best]
	it := q[0]
	q[0] = nil
	w.items[best] = q[1:]
	if len(q) == 1 {
		w.live = slices.Delete(w.live, 0, 1)
	}
	w.size--
	return it, best, true
}

// Restrict drops the entries above s whose queue is empty. Non-empty queues
// above s are kept: they are still pending and get their turn first.
func (w *Worklist) Restrict(s event.Stamp) {
	for st, q := range w.items {
		if st > s && len(q) == 0 {
			delete(w.items, st)
		}
	}
}

// Len returns the number of queued items.
func (w *Worklist) Len() int {
	return w.size
}

// Entries returns the number of stamps with an entry, empty or not.
func (w *Worklist) Entries() int {
	return len(w.items)
}

// MaxStamp returns the highest stamp with an entry.
func (w *Worklist) MaxStamp() (event.Stamp, bool) {
	best, found := event.Stamp(0), false
	for s := range w.items {
		if !found || s > best {
			best, found = s, true
		}
	}
	return best, found
}
