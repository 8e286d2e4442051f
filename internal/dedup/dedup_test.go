package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := OpenBadger("", nil)
	require.NoError(t, err)
	disk, err := OpenBadger(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mem.Close())
		assert.NoError(t, disk.Close())
	})
	return map[string]Store{
		"memory":        NewMemory(),
		"badger-memory": mem,
		"badger-disk":   disk,
	}
}

// TestSeen verifies that a rendering is reported as seen only after it was
// recorded once.
func TestSeen(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seen, err := s.Seen("thread 0:\n  0: B main(0)\n")
			require.NoError(t, err)
			assert.False(t, seen)

			seen, err = s.Seen("thread 0:\n  0: B main(0)\n")
			require.NoError(t, err)
			assert.True(t, seen)

			seen, err = s.Seen("thread 0:\n  0: B main(1)\n")
			require.NoError(t, err)
			assert.False(t, seen)
		})
	}
}

// TestSeenConcurrent verifies that concurrent workers recording the same
// rendering observe exactly one first sighting.
func TestSeenConcurrent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			first := 0
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					seen, err := s.Seen("shared")
					assert.NoError(t, err)
					if !seen {
						mu.Lock()
						first++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, first)
		})
	}
}

// TestMemoryCollisions verifies that renderings sharing a bucket are kept apart.
func TestMemoryCollisions(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 100; i++ {
		seen, err := m.Seen(fmt.Sprintf("graph %d", i))
		require.NoError(t, err)
		require.False(t, seen)
	}
	assert.Equal(t, 100, m.Len())
}

// TestOpen verifies store selection.
func TestOpen(t *testing.T) {
	s, err := Open(KindNone, "", nil)
	require.NoError(t, err)
	seen, err := s.Seen("x")
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = s.Seen("x")
	require.NoError(t, err)
	assert.False(t, seen, "none store never reports duplicates")

	s, err = Open(KindMemory, "", nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open("redis", "", nil)
	assert.Error(t, err)
}
