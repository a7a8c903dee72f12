package cvs

import "slices"

// All kernels write scores column-major: the score of item i for the j-th
// query of a batch lands in y[j*items+i]. Row-ranged kernels only touch the
// rows in [lo, hi), so disjoint ranges may run concurrently.

// spmvRows computes y = m * x for a dense x. buf must hold the longest row.
func spmvRows[T Number](m *CSR[T], x, y []T, lo, hi int, quant Quantization[T], buf []T) {
	for i := lo; i < hi; i++ {
		cols, vals := m.Row(i)
		g := buf[:len(cols)]
		for k, c := range cols {
			g[k] = x[c]
		}
		y[i] = quant.Dot(vals, g)
	}
}

// spmspv computes y = m * x for a sparse x, walking the transposed index so
// only items sharing a bin with x are visited.
func spmspv[T Number](mt *CSR[T], x SparseVector[T], y []T) {
	clear(y)
	for k, bin := range x.Idx {
		w := x.Val[k]
		items, vals := mt.Row(int(bin))
		for n, item := range items {
			y[item] += vals[n] * w
		}
	}
}

// spmmRows computes Y = m * X where X is a dense Cols x b row-major matrix.
// acc must have length b.
func spmmRows[T Number](m *CSR[T], x []T, b int, y []T, lo, hi int, acc []T) {
	for i := lo; i < hi; i++ {
		clear(acc)
		cols, vals := m.Row(i)
		for k, c := range cols {
			v := vals[k]
			row := x[int(c)*b : int(c)*b+b]
			for j, w := range row {
				acc[j] += v * w
			}
		}
		for j, s := range acc {
			y[j*m.Rows+i] = s
		}
	}
}

// spgemmSymbolic counts the non-zeros of each row of m * x into
// counts[i+1]. mark must have length x.Cols and start filled with -1.
func spgemmSymbolic[T Number](m, x *CSR[T], counts []int32, lo, hi int, mark []int32) {
	for i := lo; i < hi; i++ {
		var n int32
		cols, _ := m.Row(i)
		for _, c := range cols {
			qcols, _ := x.Row(int(c))
			for _, j := range qcols {
				if mark[j] != int32(i) {
					mark[j] = int32(i)
					n++
				}
			}
		}
		counts[i+1] = n
	}
}

// spgemmNumeric fills the rows [lo, hi) of out, whose RowPtr was produced by
// spgemmSymbolic and a prefix sum. acc and mark have length x.Cols, mark
// starts filled with -1.
func spgemmNumeric[T Number](m, x, out *CSR[T], lo, hi int, acc []T, mark []int32, touched []int32) []int32 {
	for i := lo; i < hi; i++ {
		touched = touched[:0]
		cols, vals := m.Row(i)
		for k, c := range cols {
			v := vals[k]
			qcols, qvals := x.Row(int(c))
			for n, j := range qcols {
				if mark[j] != int32(i) {
					mark[j] = int32(i)
					acc[j] = 0
					touched = append(touched, j)
				}
				acc[j] += v * qvals[n]
			}
		}
		slices.Sort(touched)
		p := out.RowPtr[i]
		for _, j := range touched {
			out.ColIdx[p] = j
			out.Values[p] = acc[j]
			p++
		}
	}
	return touched
}

// spgemm computes the sparse product m * x on the calling goroutine.
func spgemm[T Number](m, x *CSR[T]) *CSR[T] {
	out := &CSR[T]{Rows: m.Rows, Cols: x.Cols, RowPtr: make([]int32, m.Rows+1)}
	mark := newMark(x.Cols)
	spgemmSymbolic(m, x, out.RowPtr, 0, m.Rows, mark)
	prefixSum(out.RowPtr)
	out.ColIdx = make([]int32, out.RowPtr[m.Rows])
	out.Values = make([]T, out.RowPtr[m.Rows])
	resetMark(mark)
	spgemmNumeric(m, x, out, 0, m.Rows, make([]T, x.Cols), mark, nil)
	return out
}

// scatterColumns expands a sparse items x b product into column-major dense
// scores. Each flattened non-zero only knows its column, so its row is
// recovered from the row-offset table.
func scatterColumns[T Number](res *CSR[T], y []T) error {
	clear(y)
	for p := 0; p < res.NNZ(); p++ {
		row, err := res.RowOf(p)
		if err != nil {
			return err
		}
		j := int(res.ColIdx[p])
		if j >= res.Cols {
			return logicErr("non-zero %d has column %d outside a batch of %d", p, j, res.Cols)
		}
		y[j*res.Rows+row] = res.Values[p]
	}
	return nil
}

func prefixSum(ptr []int32) {
	for i := 1; i < len(ptr); i++ {
		ptr[i] += ptr[i-1]
	}
}

func newMark(n int) []int32 {
	mark := make([]int32, n)
	resetMark(mark)
	return mark
}

func resetMark(mark []int32) {
	for i := range mark {
		mark[i] = -1
	}
}

func maxRowLen[T Number](m *CSR[T]) int {
	longest := 0
	for i := 0; i < m.Rows; i++ {
		if n := int(m.RowPtr[i+1] - m.RowPtr[i]); n > longest {
			longest = n
		}
	}
	return longest
}

// splitRows divides [0, n) into at most parts contiguous ranges.
func splitRows(n, parts int) [][2]int {
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	out := make([][2]int, 0, parts)
	for p := 0; p < parts; p++ {
		lo := p * n / parts
		hi := (p + 1) * n / parts
		if lo < hi {
			out = append(out, [2]int{lo, hi})
		}
	}
	return out
}
