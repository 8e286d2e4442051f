package driver

import (
	"testing"

	"github.com/kolkov/weakcheck/internal/event"
	"github.com/kolkov/weakcheck/internal/graph"
)

// TestRevisitSetAdd verifies that a key is new exactly once per stamp.
func TestRevisitSetAdd(t *testing.T) {
	rs := NewRevisitSet()
	if !rs.Add(3, "k") {
		t.Error("first Add(3, k) = false, want true")
	}
	if rs.Add(3, "k") {
		t.Error("second Add(3, k) = true, want false")
	}
	if !rs.Add(4, "k") {
		t.Error("Add(4, k) = false, want true (different stamp)")
	}
	if !rs.Contains(3, "k") || rs.Contains(3, "other") {
		t.Error("Contains() mismatch")
	}
	if got := rs.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

// TestRevisitSetRestrict verifies that entries above the stamp are dropped
// and the rest kept.
func TestRevisitSetRestrict(t *testing.T) {
	rs := NewRevisitSet()
	rs.Add(1, "a")
	rs.Add(5, "b")
	rs.Add(5, "c")
	rs.Add(8, "d")

	rs.Restrict(5)
	if got := rs.Entries(); got != 2 {
		t.Errorf("Entries() = %d, want 2", got)
	}
	if rs.Contains(8, "d") {
		t.Error("entry above the stamp survived Restrict")
	}
	if !rs.Contains(5, "c") {
		t.Error("entry at the stamp was dropped")
	}
}

// TestRevisitSetClone verifies that a clone is independent and limited to
// the stamp.
func TestRevisitSetClone(t *testing.T) {
	rs := NewRevisitSet()
	rs.Add(2, "a")
	rs.Add(6, "b")

	c := rs.Clone(4)
	if c.Contains(6, "b") || !c.Contains(2, "a") {
		t.Errorf("Clone(4) entries wrong: len %d", c.Len())
	}
	c.Add(2, "x")
	if rs.Contains(2, "x") {
		t.Error("Clone shares state with the original")
	}
}

// TestRevisitKey verifies that the key reflects the reads-from choices
// and placements of the prefix.
func TestRevisitKey(t *testing.T) {
	w := event.New(2, 1)
	read := func(rf event.Event) []event.Label {
		r := &event.ReadLabel{Meta: event.At(event.New(2, 0)), Rf: rf}
		return []event.Label{r}
	}
	place := []graph.CoPlacement{{Write: w, After: event.Init}}

	k1 := revisitKey(w, read(event.Init), place)
	k2 := revisitKey(w, read(event.New(1, 1)), place)
	k3 := revisitKey(w, read(event.Init), nil)
	if k1 == k2 {
		t.Errorf("keys with different reads-from are equal: %q", k1)
	}
	if k1 == k3 {
		t.Errorf("keys with different placements are equal: %q", k1)
	}
	if k1 != revisitKey(w, read(event.Init), place) {
		t.Error("revisitKey is not deterministic")
	}
}
