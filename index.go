package cvs

import (
	"fmt"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring"
)

// ReferenceIndex is the immutable items x bins matrix a call scores every
// query against. It is shared read-only by all workers of the call.
type ReferenceIndex[T Number] struct {
	space    EncodingSpace
	rows     *CSR[T]
	cols     *CSR[T]
	occupied *roaring.Bitmap
	// maxRowMass is the largest sum of weights over one item.
	maxRowMass float64
}

type IndexStats struct {
	Items    int
	Bins     int
	NNZ      int
	Occupied uint64
}

func (s IndexStats) String() string {
	return fmt.Sprintf("items=%d bins=%d nnz=%d occupied=%d", s.Items, s.Bins, s.NNZ, s.Occupied)
}

type entry struct {
	bin int32
	seq int32
}

// BuildReferenceIndex discretizes every reference item. An item's weight is
// 1, or 1/len(positions) when normalize is set. Positions of one item that
// land in the same bin overwrite each other: the last one wins.
func BuildReferenceIndex[T Number](space EncodingSpace, refs ReferenceSet, normalize bool, quant Quantization[T]) (*ReferenceIndex[T], error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if err := refs.Validate("reference offsets"); err != nil {
		return nil, err
	}
	if err := checkNNZ(len(refs.Values)); err != nil {
		return nil, err
	}
	m := &CSR[T]{
		Rows:   refs.Len(),
		Cols:   space.BinCount,
		RowPtr: make([]int32, refs.Len()+1),
		ColIdx: make([]int32, 0, len(refs.Values)),
		Values: make([]T, 0, len(refs.Values)),
	}
	var buf []entry
	for i := 0; i < refs.Len(); i++ {
		positions := refs.Group(i)
		w := 1.0
		if normalize && len(positions) > 0 {
			w = 1.0 / float64(len(positions))
		}
		val := quant.Lower(w)
		buf = buf[:0]
		for j, p := range positions {
			bin := space.Bin(p)
			if !space.Contains(bin) {
				return nil, invalidArg("reference positions", "item %d position %v maps to bin %d outside [0, %d)", i, p, bin, space.BinCount)
			}
			buf = append(buf, entry{bin: int32(bin), seq: int32(j)})
		}
		m.ColIdx, m.Values = appendRow(m.ColIdx, m.Values, buf, val)
		m.RowPtr[i+1] = int32(len(m.ColIdx))
	}
	return newReferenceIndex(space, m), nil
}

// NewReferenceIndexFromCSR builds an index from already discretized rows:
// rowOffsets has one entry per item plus the final nnz, colIdx holds bins.
func NewReferenceIndexFromCSR[T Number](space EncodingSpace, rowOffsets, colIdx []int32, normalize bool, quant Quantization[T]) (*ReferenceIndex[T], error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if len(rowOffsets) == 0 {
		return nil, invalidArg("row offsets", "must hold at least the final nnz entry")
	}
	if int(rowOffsets[0]) != 0 || int(rowOffsets[len(rowOffsets)-1]) != len(colIdx) {
		return nil, invalidArg("row offsets", "must start at 0 and end at nnz %d", len(colIdx))
	}
	rows := len(rowOffsets) - 1
	m := &CSR[T]{
		Rows:   rows,
		Cols:   space.BinCount,
		RowPtr: make([]int32, rows+1),
		ColIdx: make([]int32, 0, len(colIdx)),
		Values: make([]T, 0, len(colIdx)),
	}
	var buf []entry
	for i := 0; i < rows; i++ {
		start, end := rowOffsets[i], rowOffsets[i+1]
		if end < start {
			return nil, invalidArg("row offsets", "offset %d (%d) is smaller than the previous offset (%d)", i+1, end, start)
		}
		w := 1.0
		if normalize && end > start {
			w = 1.0 / float64(end-start)
		}
		buf = buf[:0]
		for j, bin := range colIdx[start:end] {
			if !space.Contains(int(bin)) {
				return nil, invalidArg("column indices", "item %d bin %d outside [0, %d)", i, bin, space.BinCount)
			}
			buf = append(buf, entry{bin: bin, seq: int32(j)})
		}
		m.ColIdx, m.Values = appendRow(m.ColIdx, m.Values, buf, quant.Lower(w))
		m.RowPtr[i+1] = int32(len(m.ColIdx))
	}
	return newReferenceIndex(space, m), nil
}

// checkNNZ rejects indexes whose offsets do not fit the int32 CSR layout.
func checkNNZ(n int) error {
	if n > math.MaxInt32 {
		return invalidArg("reference positions", "%d positions exceed the %d an index can hold", n, math.MaxInt32)
	}
	return nil
}

// appendRow sorts one row by bin and keeps only the last insertion of each
// bin. Every entry of a row carries the same weight, so last-write-wins only
// decides which insertion survives, not the stored value.
func appendRow[T Number](cols []int32, vals []T, row []entry, val T) ([]int32, []T) {
	slices.SortFunc(row, func(a, b entry) int {
		if a.bin != b.bin {
			return int(a.bin - b.bin)
		}
		return int(a.seq - b.seq)
	})
	for k, e := range row {
		if k+1 < len(row) && row[k+1].bin == e.bin {
			continue
		}
		cols = append(cols, e.bin)
		vals = append(vals, val)
	}
	return cols, vals
}

func newReferenceIndex[T Number](space EncodingSpace, m *CSR[T]) *ReferenceIndex[T] {
	occupied := roaring.New()
	for _, c := range m.ColIdx {
		occupied.Add(uint32(c))
	}
	occupied.RunOptimize()
	var mass float64
	for i := 0; i < m.Rows; i++ {
		var row float64
		for _, v := range m.Values[m.RowPtr[i]:m.RowPtr[i+1]] {
			row += float64(v)
		}
		mass = max(mass, row)
	}
	return &ReferenceIndex[T]{
		space:      space,
		rows:       m,
		cols:       m.Transpose(),
		occupied:   occupied,
		maxRowMass: mass,
	}
}

func (idx *ReferenceIndex[T]) Space() EncodingSpace {
	return idx.space
}

func (idx *ReferenceIndex[T]) Items() int {
	return idx.rows.Rows
}

// Rows is the items x bins matrix.
func (idx *ReferenceIndex[T]) Rows() *CSR[T] {
	return idx.rows
}

// Columns is the bins x items transpose.
func (idx *ReferenceIndex[T]) Columns() *CSR[T] {
	return idx.cols
}

// Occupied reports whether any item has weight in bin.
func (idx *ReferenceIndex[T]) Occupied(bin int) bool {
	return idx.occupied.Contains(uint32(bin))
}

// MaxRowMass is the largest sum of weights any item carries. A score never
// exceeds it times the largest query weight.
func (idx *ReferenceIndex[T]) MaxRowMass() float64 {
	return idx.maxRowMass
}

func (idx *ReferenceIndex[T]) Stats() IndexStats {
	return IndexStats{
		Items:    idx.rows.Rows,
		Bins:     idx.rows.Cols,
		NNZ:      idx.rows.NNZ(),
		Occupied: idx.occupied.GetCardinality(),
	}
}
