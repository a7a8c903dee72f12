package cvs

import (
	"math"
	"slices"

	"github.com/kelindar/bitmap"
	"gonum.org/v1/gonum/stat/distuv"
)

// QueryEncoder turns a query's peak list into a vector over the encoding
// space. Each peak spreads weight over the bins within the tolerance window;
// where windows of several peaks overlap the largest weight wins.
type QueryEncoder[T Number] struct {
	space      EncodingSpace
	halfWindow int
	gaussian   bool
	// profile[d+halfWindow] is the weight at distance d from the peak.
	profile []T
}

func NewQueryEncoder[T Number](space EncodingSpace, tolerance float64, gaussian bool, quant Quantization[T]) (*QueryEncoder[T], error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(tolerance) || math.IsInf(tolerance, 0) || tolerance < 0 {
		return nil, invalidArg("tolerance", "must be a finite non-negative number, got %v", tolerance)
	}
	if floor := quant.MinTolerance(space); tolerance < floor {
		return nil, invalidArg("tolerance", "%v is below the smallest unit %v representable in the %s domain", tolerance, floor, quant.Name())
	}
	t := space.HalfWindow(tolerance)
	enc := &QueryEncoder[T]{
		space:      space,
		halfWindow: t,
		gaussian:   gaussian,
		profile:    make([]T, 2*t+1),
	}
	for d := -t; d <= t; d++ {
		enc.profile[d+t] = quant.Lower(windowWeight(d, t, gaussian))
	}
	return enc, nil
}

// windowWeight is 1 for a flat window. A gaussian window uses the normal
// density with sigma = t/3, falling back to 1 when sigma is zero.
func windowWeight(d, t int, gaussian bool) float64 {
	if !gaussian {
		return 1
	}
	sigma := float64(t) / 3
	if sigma == 0 {
		return 1
	}
	return distuv.Normal{Mu: 0, Sigma: sigma}.Prob(float64(d))
}

// MaxWeight is the largest weight a query bin can hold.
func (enc *QueryEncoder[T]) MaxWeight() float64 {
	return float64(slices.Max(enc.profile))
}

func (enc *QueryEncoder[T]) HalfWindow() int {
	return enc.halfWindow
}

func (enc *QueryEncoder[T]) Space() EncodingSpace {
	return enc.space
}

// window returns the clamped bin range a peak touches.
func (enc *QueryEncoder[T]) window(peak float64) (p, lo, hi int, ok bool) {
	p = enc.space.Bin(peak)
	lo, hi, ok = enc.space.Clamp(p-enc.halfWindow, p+enc.halfWindow)
	return
}

// EncodeDense writes the full-length encoding of peaks into dst.
func (enc *QueryEncoder[T]) EncodeDense(peaks []float64, dst []T) {
	clear(dst)
	enc.encodeStrided(peaks, dst, 0, 1)
}

// encodeStrided writes the encoding into dst[bin*stride+col], leaving the
// other columns alone.
func (enc *QueryEncoder[T]) encodeStrided(peaks []float64, dst []T, col, stride int) {
	for _, peak := range peaks {
		p, lo, hi, ok := enc.window(peak)
		if !ok {
			continue
		}
		for k := lo; k <= hi; k++ {
			w := enc.profile[k-p+enc.halfWindow]
			if at := k*stride + col; w > dst[at] {
				dst[at] = w
			}
		}
	}
}

// EncoderScratch is the reusable state of sparse encoding. It is not safe
// for concurrent use.
type EncoderScratch[T Number] struct {
	dense   []T
	touched bitmap.Bitmap
}

func NewEncoderScratch[T Number](space EncodingSpace) *EncoderScratch[T] {
	s := &EncoderScratch[T]{dense: make([]T, space.BinCount)}
	s.touched.Grow(uint32(space.BinCount))
	return s
}

// EncodeSparse encodes only the touched bins, ascending. When keep is not
// nil, bins it rejects are dropped; this must only drop bins no reference
// item has weight in.
func (enc *QueryEncoder[T]) EncodeSparse(peaks []float64, s *EncoderScratch[T], keep func(bin int) bool) SparseVector[T] {
	for _, peak := range peaks {
		p, lo, hi, ok := enc.window(peak)
		if !ok {
			continue
		}
		for k := lo; k <= hi; k++ {
			w := enc.profile[k-p+enc.halfWindow]
			if !s.touched.Contains(uint32(k)) {
				s.touched.Set(uint32(k))
				s.dense[k] = w
			} else if w > s.dense[k] {
				s.dense[k] = w
			}
		}
	}
	out := SparseVector[T]{Len: enc.space.BinCount}
	n := s.touched.Count()
	out.Idx = make([]int32, 0, n)
	out.Val = make([]T, 0, n)
	s.touched.Range(func(k uint32) {
		if keep == nil || keep(int(k)) {
			out.Idx = append(out.Idx, int32(k))
			out.Val = append(out.Val, s.dense[k])
		}
		s.dense[k] = 0
	})
	s.touched.Clear()
	return out
}

// PackDense encodes a batch into a BinCount x len(batch) row-major matrix,
// one query per column.
func (enc *QueryEncoder[T]) PackDense(batch [][]float64, dst []T) {
	clear(dst)
	for j, peaks := range batch {
		enc.encodeStrided(peaks, dst, j, len(batch))
	}
}

// PackSparse encodes a batch into a BinCount x len(batch) CSR matrix, one
// query per column.
func (enc *QueryEncoder[T]) PackSparse(batch [][]float64, s *EncoderScratch[T], keep func(bin int) bool) *CSR[T] {
	vecs := make([]SparseVector[T], len(batch))
	for j, peaks := range batch {
		vecs[j] = enc.EncodeSparse(peaks, s, keep)
	}
	return packColumns(vecs, enc.space.BinCount)
}

// packColumns lays sparse column vectors out as one CSR matrix.
func packColumns[T Number](vecs []SparseVector[T], rows int) *CSR[T] {
	cols := &CSR[T]{Rows: len(vecs), Cols: rows, RowPtr: make([]int32, len(vecs)+1)}
	for j, v := range vecs {
		cols.ColIdx = append(cols.ColIdx, v.Idx...)
		cols.Values = append(cols.Values, v.Val...)
		cols.RowPtr[j+1] = int32(len(cols.ColIdx))
	}
	return cols.Transpose()
}
