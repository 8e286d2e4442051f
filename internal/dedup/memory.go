package dedup

import "sync"

// Memory is an in-memory depot of renderings keyed by hash.
//
// Key: uint64 hash (FNV-1a of the rendering)
// Value: []string (renderings with that hash, almost always one)
type Memory struct {
	depot sync.Map
	// mu serializes inserts so two workers recording the same rendering
	// at once see exactly one first sighting.
	mu sync.Mutex
}

// NewMemory creates an empty depot.
func NewMemory() *Memory {
	return &Memory{}
}

// Seen implements Store.
func (m *Memory) Seen(rendering string) (bool, error) {
	h := hashRendering(rendering)
	if v, ok := m.depot.Load(h); ok && contains(v.([]string), rendering) {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var bucket []string
	if v, ok := m.depot.Load(h); ok {
		bucket = v.([]string)
		if contains(bucket, rendering) {
			return true, nil
		}
	}
	m.depot.Store(h, append(append([]string(nil), bucket...), rendering))
	return false, nil
}

// Len returns the number of distinct renderings recorded.
func (m *Memory) Len() int {
	n := 0
	m.depot.Range(func(_, v any) bool {
		n += len(v.([]string))
		return true
	})
	return n
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func contains(bucket []string, s string) bool {
	for _, b := range bucket {
		if b == s {
			return true
		}
	}
	return false
}
