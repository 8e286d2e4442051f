// Package dedup detects execution graphs that were already explored.
//
// The exploration driver renders every complete execution canonically
// (graph.Render leaves out insertion stamps) and asks a Store whether it has
// seen the rendering before. Within one exploration this never happens; it
// happens when the worker pool splits work, because two workers may reach
// equivalent executions from different sub-exploration states.
//
// Design:
//   - Hash-based deduplication (FNV-1a of the rendering)
//   - Memory keeps a sync.Map from hash to rendering, comparing full
//     renderings on a hash hit so collisions never drop an execution
//   - Badger keeps the same mapping in an embedded key-value store, in
//     memory or on disk, for explorations too large for the heap
//
// All stores are safe for concurrent use by the workers of one run.
package dedup

import (
	"fmt"
	"hash/fnv"
	"log/slog"
)

// Store remembers renderings of explored executions.
type Store interface {
	// Seen records rendering and reports whether it was recorded before.
	Seen(rendering string) (bool, error)
	// Close releases the resources of the store.
	Close() error
}

// Kind selects a Store implementation.
type Kind string

const (
	KindNone   Kind = "none"
	KindMemory Kind = "memory"
	KindBadger Kind = "badger"
)

// Open creates the store selected by kind. path is only used by badger; an
// empty path keeps the badger store in memory.
func Open(kind Kind, path string, logger *slog.Logger) (Store, error) {
	switch kind {
	case KindNone, "":
		return None{}, nil
	case KindMemory:
		return NewMemory(), nil
	case KindBadger:
		return OpenBadger(path, logger)
	}
	return nil, fmt.Errorf("unknown dedup store %q", kind)
}

// None never reports a duplicate.
type None struct{}

// Seen implements Store.
func (None) Seen(string) (bool, error) { return false, nil }

// Close implements Store.
func (None) Close() error { return nil }

// hashRendering computes the FNV-1a hash of a rendering.
func hashRendering(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
