package event

import "fmt"

// Ordering is the memory-order annotation of an access or fence.
type Ordering uint8

const (
	// NotAtomic marks plain accesses. Conflicting plain accesses that are
	// not ordered by happens-before are data races.
	NotAtomic Ordering = iota
	Relaxed
	Acquire
	Release
	AcqRel
	SeqCst
)

var orderingNames = map[Ordering]string{
	NotAtomic: "na",
	Relaxed:   "rlx",
	Acquire:   "acq",
	Release:   "rel",
	AcqRel:    "acqrel",
	SeqCst:    "sc",
}

// ParseOrdering maps a keyword such as "acq" to its Ordering.
func ParseOrdering(s string) (Ordering, error) {
	for o, name := range orderingNames {
		if name == s {
			return o, nil
		}
	}
	return NotAtomic, fmt.Errorf("unknown memory ordering %q", s)
}

// IsOrdering reports whether s is an ordering keyword.
func IsOrdering(s string) bool {
	_, err := ParseOrdering(s)
	return err == nil
}

// IsAtomic reports whether the access participates in atomic synchronization.
func (o Ordering) IsAtomic() bool {
	return o != NotAtomic
}

// IsAcquire reports whether the annotation has acquire semantics.
func (o Ordering) IsAcquire() bool {
	return o == Acquire || o == AcqRel || o == SeqCst
}

// IsRelease reports whether the annotation has release semantics.
func (o Ordering) IsRelease() bool {
	return o == Release || o == AcqRel || o == SeqCst
}

// IsSC reports whether the annotation is sequentially consistent.
func (o Ordering) IsSC() bool {
	return o == SeqCst
}

func (o Ordering) String() string {
	if s, ok := orderingNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Ordering(%d)", uint8(o))
}
