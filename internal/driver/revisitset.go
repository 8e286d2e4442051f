package driver

import (
	"fmt"
	"strings"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

// RevisitSet remembers, per read stamp, the backward revisits already
// queued or applied, so that the same continuation is never explored twice.
type RevisitSet struct {
	keys map[event.Stamp]map[string]struct{}
}

// NewRevisitSet creates an empty set.
func NewRevisitSet() *RevisitSet {
	return &RevisitSet{keys: make(map[event.Stamp]map[string]struct{})}
}

// Add records key under stamp s and reports whether it was new.
func (rs *RevisitSet) Add(s event.Stamp, key string) bool {
	set, ok := rs.keys[s]
	if !ok {
		set = make(map[string]struct{})
		rs.keys[s] = set
	}
	if _, dup := set[key]; dup {
		return false
	}
	set[key] = struct{}{}
	return true
}

// Contains reports whether key is recorded under s.
func (rs *RevisitSet) Contains(s event.Stamp, key string) bool {
	_, ok := rs.keys[s][key]
	return ok
}

// Restrict drops every entry above s. Those reads are about to be cut from
// the graph, and their stamps will be reused by the labels added next.
func (rs *RevisitSet) Restrict(s event.Stamp) {
	for st := range rs.keys {
		if st > s {
			delete(rs.keys, st)
		}
	}
}

// Len returns the number of recorded keys.
func (rs *RevisitSet) Len() int {
	n := 0
	for _, set := range rs.keys {
		n += len(set)
	}
	return n
}

// Entries returns the number of stamps with recorded keys.
func (rs *RevisitSet) Entries() int {
	return len(rs.keys)
}

// Clone copies the entries at or below s.
func (rs *RevisitSet) Clone(s event.Stamp) *RevisitSet {
	out := NewRevisitSet()
	for st, set := range rs.keys {
		if st > s {
			continue
		}
		c := make(map[string]struct{}, len(set))
		for k := range set {
			c[k] = struct{}{}
		}
		out.keys[st] = c
	}
	return out
}

// revisitKey identifies a backward revisit of a read by w: the position of w
// followed by the restored prefix, each read of it with the write it reads
// from, and the coherence placements of the prefix.
func revisitKey(w event.Event, prefix []event.Label, placements []graph.CoPlacement) string {
	var sb strings.Builder
	sb.WriteString(w.String())
	for _, l := range prefix {
		fmt.Fprintf(&sb, "|%v", l.Pos())
		if r, ok := l.(*event.ReadLabel); ok {
			fmt.Fprintf(&sb, "<%v", r.Rf)
		}
	}
	for _, p := range placements {
		fmt.Fprintf(&sb, "|%v>%v", p.Write, p.After)
	}
	return sb.String()
}
