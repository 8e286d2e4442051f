package graph

import "math/bits"

// Matrix is a relation over n elements stored as one bitset row per element.
// It is used for the small per-location and per-lock relations where views
// do not apply because the relation does not contain program order.
type Matrix struct {
	n    int
	rows [][]uint64
}

// NewMatrix creates an empty relation over n elements.
func NewMatrix(n int) *Matrix {
	words := (n + 63) / 64
	m := &Matrix{n: n, rows: make([][]uint64, n)}
	for i := range m.rows {
		m.rows[i] = make([]uint64, words)
	}
	return m
}

// Size returns the number of elements.
func (m *Matrix) Size() int { return m.n }

// Add inserts the edge i -> j.
func (m *Matrix) Add(i, j int) {
	m.rows[i][j/64] |= 1 << (uint(j) % 64)
}

// Has reports whether i -> j is in the relation.
func (m *Matrix) Has(i, j int) bool {
	return m.rows[i][j/64]&(1<<(uint(j)%64)) != 0
}

// Clone returns a copy of the relation.
func (m *Matrix) Clone() *Matrix {
	c := NewMatrix(m.n)
	for i, row := range m.rows {
		copy(c.rows[i], row)
	}
	return c
}

// Close computes the transitive closure in place (Warshall on bitsets).
func (m *Matrix) Close() {
	for k := 0; k < m.n; k++ {
		rowK := m.rows[k]
		for i := 0; i < m.n; i++ {
			if !m.Has(i, k) {
				continue
			}
			rowI := m.rows[i]
			for w := range rowI {
				rowI[w] |= rowK[w]
			}
		}
	}
}

// Acyclic reports whether the transitive closure is irreflexive.
func (m *Matrix) Acyclic() bool {
	c := m.Clone()
	c.Close()
	for i := 0; i < c.n; i++ {
		if c.Has(i, i) {
			return false
		}
	}
	return true
}

// Edges returns the number of edges.
func (m *Matrix) Edges() int {
	total := 0
	for _, row := range m.rows {
		for _, w := range row {
			total += bits.OnesCount64(w)
		}
	}
	return total
}

// LinearExtensions enumerates total orders of the elements compatible with
// the relation and calls yield for each until yield returns false or limit
// orders were produced (limit <= 0 means no limit). The slice passed to
// yield is reused between calls. It returns the number of orders produced.
func (m *Matrix) LinearExtensions(limit int, yield func(order []int) bool) int {
	indeg := make([]int, m.n)
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			if i != j && m.Has(i, j) {
				indeg[j]++
			}
		}
	}
	used := make([]bool, m.n)
	order := make([]int, 0, m.n)
	count := 0
	stop := false

	var rec func()
	rec = func() {
		if stop {
			return
		}
		if len(order) == m.n {
			count++
			if !yield(order) || (limit > 0 && count >= limit) {
				stop = true
			}
			return
		}
		for i := 0; i < m.n && !stop; i++ {
			if used[i] || indeg[i] != 0 {
				continue
			}
			used[i] = true
			order = append(order, i)
			for j := 0; j < m.n; j++ {
				if j != i && m.Has(i, j) {
					indeg[j]--
				}
			}
			rec()
			for j := 0; j < m.n; j++ {
				if j != i && m.Has(i, j) {
					indeg[j]++
				}
			}
			order = order[:len(order)-1]
			used[i] = false
		}
	}
	rec()
	return count
}
