package cvs

import "math"

const (
	defaultBinWidth  = 0.01
	defaultMassRange = 1300
)

// EncodingSpace is the fixed-size 1-D space every position is discretized
// into. The same space must be used to build the index and encode queries.
type EncodingSpace struct {
	BinWidth float64 `yaml:"bin_width" toml:"bin_width"`
	BinCount int     `yaml:"bin_count" toml:"bin_count"`
}

func DefaultEncodingSpace() EncodingSpace {
	return EncodingSpace{
		BinWidth: defaultBinWidth,
		BinCount: int(math.Round(defaultMassRange / defaultBinWidth)),
	}
}

func (s EncodingSpace) Validate() error {
	if !(s.BinWidth > 0) || math.IsInf(s.BinWidth, 0) {
		return invalidArg("bin_width", "must be a positive finite number, got %v", s.BinWidth)
	}
	if s.BinCount <= 0 {
		return invalidArg("bin_count", "must be positive, got %d", s.BinCount)
	}
	if s.BinCount > math.MaxInt32 {
		return invalidArg("bin_count", "%d exceeds the int32 column index range", s.BinCount)
	}
	return nil
}

// Bin discretizes x. It is total over the reals; callers check or clamp the
// result against the space.
func (s EncodingSpace) Bin(x float64) int {
	return int(math.Round(x / s.BinWidth))
}

func (s EncodingSpace) Contains(bin int) bool {
	return bin >= 0 && bin < s.BinCount
}

// HalfWindow converts a tolerance in position units to a half-width in bins.
func (s EncodingSpace) HalfWindow(tolerance float64) int {
	return int(math.Round(tolerance / s.BinWidth))
}

// Clamp restricts the window [lo, hi] to the space. ok is false when nothing
// of the window lies inside it.
func (s EncodingSpace) Clamp(lo, hi int) (int, int, bool) {
	if lo < 0 {
		lo = 0
	}
	if hi > s.BinCount-1 {
		hi = s.BinCount - 1
	}
	return lo, hi, lo <= hi
}

// Groups is a flattened list of position groups with CSR-style offsets:
// group i spans Values[Offsets[i]:Offsets[i+1]], the last group runs to the
// end of Values.
type Groups struct {
	Values  []float64
	Offsets []int
}

// ReferenceSet holds the theoretical positions of every reference item.
type ReferenceSet = Groups

// QuerySet holds the measured peaks of every query.
type QuerySet = Groups

func (g Groups) Len() int {
	return len(g.Offsets)
}

func (g Groups) Bounds(i int) (int, int) {
	start := g.Offsets[i]
	end := len(g.Values)
	if i+1 < len(g.Offsets) {
		end = g.Offsets[i+1]
	}
	return start, end
}

func (g Groups) Group(i int) []float64 {
	start, end := g.Bounds(i)
	return g.Values[start:end]
}

// Validate checks that offsets are non-decreasing and stay within Values.
func (g Groups) Validate(name string) error {
	prev := 0
	for i, off := range g.Offsets {
		if off < prev {
			return invalidArg(name, "offset %d (%d) is smaller than the previous offset (%d)", i, off, prev)
		}
		if off > len(g.Values) {
			return invalidArg(name, "offset %d (%d) is past the end of %d values", i, off, len(g.Values))
		}
		prev = off
	}
	if len(g.Offsets) == 0 && len(g.Values) != 0 {
		return invalidArg(name, "%d values but no offsets", len(g.Values))
	}
	return nil
}

// NewGroups flattens a list of groups.
func NewGroups(groups [][]float64) Groups {
	var out Groups
	out.Offsets = make([]int, len(groups))
	for i, g := range groups {
		out.Offsets[i] = len(out.Values)
		out.Values = append(out.Values, g...)
	}
	return out
}
