package cvs

import "sort"

// CSR is a compressed sparse row matrix. Row i holds the entries
// ColIdx[RowPtr[i]:RowPtr[i+1]] / Values[RowPtr[i]:RowPtr[i+1]], columns
// ascending within a row.
type CSR[T Number] struct {
	Rows   int
	Cols   int
	RowPtr []int32
	ColIdx []int32
	Values []T
}

func (m *CSR[T]) NNZ() int {
	return len(m.ColIdx)
}

func (m *CSR[T]) Row(i int) ([]int32, []T) {
	start, end := m.RowPtr[i], m.RowPtr[i+1]
	return m.ColIdx[start:end], m.Values[start:end]
}

// RowOf maps the position of a flattened non-zero back to the row that owns
// it, by binary search over the row-offset table.
func (m *CSR[T]) RowOf(pos int) (int, error) {
	if pos < 0 || pos >= m.NNZ() {
		return 0, logicErr("non-zero position %d outside [0, %d)", pos, m.NNZ())
	}
	// First row whose end is past pos.
	row := sort.Search(m.Rows, func(i int) bool {
		return int(m.RowPtr[i+1]) > pos
	})
	if row >= m.Rows || int(m.RowPtr[row]) > pos {
		return 0, logicErr("non-zero position %d has no owning row", pos)
	}
	return row, nil
}

// Transpose returns the Cols x Rows matrix, rows ascending within each
// column so the result is again a valid CSR.
func (m *CSR[T]) Transpose() *CSR[T] {
	t := &CSR[T]{
		Rows:   m.Cols,
		Cols:   m.Rows,
		RowPtr: make([]int32, m.Cols+1),
		ColIdx: make([]int32, m.NNZ()),
		Values: make([]T, m.NNZ()),
	}
	for _, c := range m.ColIdx {
		t.RowPtr[c+1]++
	}
	for i := 0; i < m.Cols; i++ {
		t.RowPtr[i+1] += t.RowPtr[i]
	}
	next := make([]int32, m.Cols)
	copy(next, t.RowPtr[:m.Cols])
	for r := 0; r < m.Rows; r++ {
		cols, vals := m.Row(r)
		for k, c := range cols {
			p := next[c]
			t.ColIdx[p] = int32(r)
			t.Values[p] = vals[k]
			next[c]++
		}
	}
	return t
}

// SparseVector is a vector of length Len with non-zeros at ascending Idx.
type SparseVector[T Number] struct {
	Len int
	Idx []int32
	Val []T
}

func (v SparseVector[T]) NNZ() int {
	return len(v.Idx)
}

// Dense scatters v into dst, which must have length v.Len.
func (v SparseVector[T]) Dense(dst []T) {
	clear(dst)
	for k, i := range v.Idx {
		dst[i] = v.Val[k]
	}
}
