package cvs

import (
	"flag"
	"fmt"
	"math/rand"
	"testing"
)

var (
	nItems    = flag.Int("nitems", 100000, "Number of reference items to generate")
	nQueries  = flag.Int("nqueries", 199, "Number of queries to generate")
	itemSize  = flag.Int("itemsize", 100, "Positions per reference item")
	tolerance = flag.Float64("tolerance", 0.02, "Match tolerance")
)

func BenchmarkBuildIndex(b *testing.B) {
	space := DefaultEncodingSpace()
	refs, _, _ := syntheticData(rand.New(rand.NewSource(1)), space, *nItems, *itemSize, 0)
	b.Run("float32", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := BuildReferenceIndex[float32](space, refs, true, Float32Quantization{}); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("int32", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := BuildReferenceIndex[int32](space, refs, true, FixedPointQuantization{Accuracy: defaultAccuracy}); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkAgreement reports, per method, how much of the sparse CPU
// baseline's top candidates each configuration reproduces.
func BenchmarkAgreement(b *testing.B) {
	space := DefaultEncodingSpace()
	refs, queries, _ := syntheticData(rand.New(rand.NewSource(2)), space, *nItems, *itemSize, *nQueries)
	e, err := NewEngine(DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	base := DefaultParams()
	base.Tolerance = *tolerance
	baseline, err := e.FindTopCandidates(refs, queries, base)
	if err != nil {
		b.Fatal(err)
	}
	defer baseline.Release()

	for _, domain := range []Domain{Float32, FixedPoint} {
		for _, p := range methods(base) {
			p.Domain = domain
			b.Run(p.Method(), func(b *testing.B) {
				benchAgreement(b, e, refs, queries, p, baseline)
			})
		}
	}
}

func benchAgreement(b *testing.B, e *Engine, refs ReferenceSet, queries QuerySet, p Params, baseline *Candidates) {
	ats := []int{1, 5, 10, 20}
	overlaps := make([]float64, len(ats))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StartTimer()
		res, err := e.FindTopCandidates(refs, queries, p)
		if err != nil {
			b.Fatal(err)
		}
		b.StopTimer()
		for k, at := range ats {
			overlaps[k] += res.Overlap(baseline, at)
		}
		res.Release()
	}
	for k, total := range overlaps {
		b.ReportMetric(total/float64(b.N), fmt.Sprintf("overlap@%02d", ats[k]))
	}
}
