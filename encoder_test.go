package cvs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchedBins[T Number](v []T) []int {
	var out []int
	for i, x := range v {
		if x != 0 {
			out = append(out, i)
		}
	}
	return out
}

func TestEncoderWindowZeroTolerance(t *testing.T) {
	space := DefaultEncodingSpace()
	enc, err := NewQueryEncoder[float32](space, 0, true, Float32Quantization{})
	require.NoError(t, err)
	assert.Equal(t, 0, enc.HalfWindow())

	dst := make([]float32, space.BinCount)
	enc.EncodeDense([]float64{100.0}, dst)
	assert.Equal(t, []int{10000}, touchedBins(dst))
	assert.Equal(t, float32(1), dst[10000])
}

func TestEncoderWindowWidth(t *testing.T) {
	space := DefaultEncodingSpace()
	for _, gaussian := range []bool{false, true} {
		enc, err := NewQueryEncoder[float32](space, 0.03, gaussian, Float32Quantization{})
		require.NoError(t, err)
		require.Equal(t, 3, enc.HalfWindow())

		dst := make([]float32, space.BinCount)
		enc.EncodeDense([]float64{50.0}, dst)
		assert.Equal(t, []int{4997, 4998, 4999, 5000, 5001, 5002, 5003}, touchedBins(dst))
	}
}

func TestEncoderGaussianWeights(t *testing.T) {
	space := EncodingSpace{BinWidth: 1, BinCount: 20}
	enc, err := NewQueryEncoder[float32](space, 3, true, Float32Quantization{})
	require.NoError(t, err)
	dst := make([]float32, space.BinCount)
	enc.EncodeDense([]float64{10}, dst)

	// sigma = t/3 = 1, so the weights are the standard normal density.
	for d := -3; d <= 3; d++ {
		want := math.Exp(-0.5*float64(d*d)) / math.Sqrt(2*math.Pi)
		assert.InDelta(t, want, dst[10+d], 1e-6, "distance %d", d)
	}
	assert.Greater(t, dst[10], dst[11])
	assert.Equal(t, dst[9], dst[11])
}

func TestEncoderFlatWeights(t *testing.T) {
	space := EncodingSpace{BinWidth: 1, BinCount: 20}
	enc, err := NewQueryEncoder[int32](space, 2, false, FixedPointQuantization{Accuracy: 1000})
	require.NoError(t, err)
	dst := make([]int32, space.BinCount)
	enc.EncodeDense([]float64{5}, dst)
	assert.Equal(t, []int32{0, 0, 0, 1000, 1000, 1000, 1000, 1000, 0}, dst[:9])
}

func TestEncoderMaxCombine(t *testing.T) {
	space := EncodingSpace{BinWidth: 1, BinCount: 20}
	enc, err := NewQueryEncoder[float32](space, 3, true, Float32Quantization{})
	require.NoError(t, err)

	single := make([]float32, space.BinCount)
	enc.EncodeDense([]float64{10}, single)
	both := make([]float32, space.BinCount)
	enc.EncodeDense([]float64{10, 11}, both)

	// Bin 10 is the center of one window and one step off the other; the
	// larger weight wins, nothing is summed.
	assert.Equal(t, single[10], both[10])
	assert.Equal(t, single[10], both[11])
	assert.Equal(t, single[11], both[12])
}

func TestEncoderClampsAtEdges(t *testing.T) {
	space := EncodingSpace{BinWidth: 1, BinCount: 10}
	enc, err := NewQueryEncoder[float32](space, 2, false, Float32Quantization{})
	require.NoError(t, err)
	dst := make([]float32, space.BinCount)
	enc.EncodeDense([]float64{0, 9, 42, -7}, dst)
	assert.Equal(t, []int{0, 1, 2, 7, 8, 9}, touchedBins(dst))
}

func TestEncoderSparseMatchesDense(t *testing.T) {
	space := EncodingSpace{BinWidth: 0.5, BinCount: 200}
	enc, err := NewQueryEncoder[float32](space, 2, true, Float32Quantization{})
	require.NoError(t, err)
	scratch := NewEncoderScratch[float32](space)
	peaks := [][]float64{{3, 3.5, 40, 99.9}, {}, {0.2, 12, 12.4}}
	for _, p := range peaks {
		dense := make([]float32, space.BinCount)
		enc.EncodeDense(p, dense)

		sv := enc.EncodeSparse(p, scratch, nil)
		assert.Equal(t, space.BinCount, sv.Len)
		assert.IsIncreasing(t, sv.Idx)
		got := make([]float32, space.BinCount)
		sv.Dense(got)
		assert.Equal(t, dense, got)
	}
}

func TestEncoderSparsePruning(t *testing.T) {
	space := EncodingSpace{BinWidth: 1, BinCount: 50}
	enc, err := NewQueryEncoder[float32](space, 1, false, Float32Quantization{})
	require.NoError(t, err)
	scratch := NewEncoderScratch[float32](space)

	sv := enc.EncodeSparse([]float64{10, 30}, scratch, func(bin int) bool { return bin < 20 })
	assert.Equal(t, []int32{9, 10, 11}, sv.Idx)
	assert.Equal(t, []float32{1, 1, 1}, sv.Val)

	// The scratch is clean for the next query.
	sv = enc.EncodeSparse([]float64{40}, scratch, nil)
	assert.Equal(t, []int32{39, 40, 41}, sv.Idx)
}

func TestEncoderPack(t *testing.T) {
	space := EncodingSpace{BinWidth: 1, BinCount: 30}
	enc, err := NewQueryEncoder[float32](space, 2, true, Float32Quantization{})
	require.NoError(t, err)
	batch := [][]float64{{3, 20}, {}, {4, 28.6}}

	dense := make([]float32, space.BinCount*len(batch))
	enc.PackDense(batch, dense)
	sparse := enc.PackSparse(batch, NewEncoderScratch[float32](space), nil)
	require.Equal(t, space.BinCount, sparse.Rows)
	require.Equal(t, len(batch), sparse.Cols)

	for j, p := range batch {
		want := make([]float32, space.BinCount)
		enc.EncodeDense(p, want)
		for bin := range want {
			assert.Equal(t, want[bin], dense[bin*len(batch)+j], "dense bin %d query %d", bin, j)
		}
	}

	fromSparse := make([]float32, space.BinCount*len(batch))
	for bin := 0; bin < sparse.Rows; bin++ {
		cols, vals := sparse.Row(bin)
		assert.IsIncreasing(t, cols)
		for k, j := range cols {
			fromSparse[bin*len(batch)+int(j)] = vals[k]
		}
	}
	assert.Equal(t, dense, fromSparse)
}

func TestEncoderTolerance(t *testing.T) {
	space := DefaultEncodingSpace()
	fixed := FixedPointQuantization{Accuracy: 1000}

	_, err := NewQueryEncoder[int32](space, 0.005, true, fixed)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewQueryEncoder[int32](space, 0.01, true, fixed)
	assert.NoError(t, err)
	_, err = NewQueryEncoder[float32](space, 0.005, true, Float32Quantization{})
	assert.NoError(t, err)

	for _, tol := range []float64{-0.01, math.NaN(), math.Inf(1)} {
		_, err = NewQueryEncoder[float32](space, tol, true, Float32Quantization{})
		assert.ErrorIs(t, err, ErrInvalidArgument, "tolerance %v", tol)
	}
}
