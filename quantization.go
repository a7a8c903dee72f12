package cvs

import (
	"math"

	"github.com/viterin/vek/vek32"
)

const (
	defaultAccuracy = 1000
	// maxAccuracy keeps Accuracy squared, one unit-weight bin, within int32.
	maxAccuracy = 46340
)

// Number is the numeric domain shared by an index, its query vectors and
// the resulting scores.
type Number interface {
	~float32 | ~int32
}

// Quantization lowers real-valued weights into a numeric domain and raises
// scores back out of it.
type Quantization[T Number] interface {
	Name() string
	Lower(w float64) T
	Raise(score T) float64
	// MinTolerance is the smallest tolerance the domain can represent.
	MinTolerance(space EncodingSpace) float64
	// MaxScore is the largest score the domain can accumulate.
	MaxScore() float64
	Dot(x, y []T) T
}

var (
	_ Quantization[float32] = Float32Quantization{}
	_ Quantization[int32]   = FixedPointQuantization{}
)

type Float32Quantization struct{}

func (q Float32Quantization) Name() string {
	return "float32"
}

func (q Float32Quantization) Lower(w float64) float32 {
	return float32(w)
}

func (q Float32Quantization) Raise(score float32) float64 {
	return float64(score)
}

func (q Float32Quantization) MinTolerance(space EncodingSpace) float64 {
	return 0
}

func (q Float32Quantization) MaxScore() float64 {
	return math.MaxFloat32
}

func (q Float32Quantization) Dot(x, y []float32) float32 {
	return vek32.Dot(x, y)
}

// FixedPointQuantization scales weights by Accuracy and rounds them to the
// nearest integer. A score carries a factor of Accuracy squared.
type FixedPointQuantization struct {
	Accuracy int32
}

func (q FixedPointQuantization) Name() string {
	return "int32"
}

func (q FixedPointQuantization) Lower(w float64) int32 {
	return int32(math.Round(w * float64(q.Accuracy)))
}

func (q FixedPointQuantization) Raise(score int32) float64 {
	a := float64(q.Accuracy)
	return float64(score) / (a * a)
}

// MinTolerance is one bin: below that the window cannot be expressed on the
// integer grid.
func (q FixedPointQuantization) MinTolerance(space EncodingSpace) float64 {
	return space.BinWidth
}

func (q FixedPointQuantization) MaxScore() float64 {
	return math.MaxInt32
}

func (q FixedPointQuantization) Dot(x, y []int32) int32 {
	var sum int32
	for i := range x {
		sum += x[i] * y[i]
	}
	return sum
}
