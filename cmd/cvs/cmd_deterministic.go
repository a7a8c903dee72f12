package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/barakmich/cvs"
	"github.com/spf13/cobra"
)

// toyProblem is a five-bin problem small enough to score by hand.
//
//	items              queries
//	[0 1 0 0 1]        [0 1 1 0 0]
//	[1 1 1 1 0]        [1 1 1 0 1]
//	[0 1 1 1 0]
//	[0 1 0 0 1]
//	[1 1 1 1 1]
//
// Normalized, the scores are [1/2 1/2 2/3 1/2 2/5] for the first query and
// [1 3/4 2/3 1 4/5] for the second.
var toyProblem = struct {
	space      cvs.EncodingSpace
	rowOffsets []int32
	colIdx     []int32
	queries    [][]float64
	want       [][]int32
}{
	space:      cvs.EncodingSpace{BinWidth: 1, BinCount: 5},
	rowOffsets: []int32{0, 2, 6, 9, 11, 16},
	colIdx:     []int32{1, 4, 0, 1, 2, 3, 1, 2, 3, 1, 4, 0, 1, 2, 3, 4},
	queries:    [][]float64{{1, 2}, {0, 1, 2, 4}},
	want:       [][]int32{{2, 0, 1, 3, 4}, {0, 3, 4, 1, 2}},
}

func toyReferences() cvs.ReferenceSet {
	t := toyProblem
	groups := make([][]float64, len(t.rowOffsets)-1)
	for i := range groups {
		for _, bin := range t.colIdx[t.rowOffsets[i]:t.rowOffsets[i+1]] {
			groups[i] = append(groups[i], float64(bin)*t.space.BinWidth)
		}
	}
	return cvs.NewGroups(groups)
}

func newDeterministicCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deterministic",
		Short: "Score a hand-checkable five-bin problem with every method",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cvs.DefaultConfig()
			cfg.Space = toyProblem.space
			e, err := a.engine(cfg)
			if err != nil {
				return fmt.Errorf("deterministic: %w", err)
			}
			return runToy(cmd.OutOrStdout(), e)
		},
	}
}

// runToy scores the toy problem with every float32 method, through both the
// position and the pre-built CSR entry points.
func runToy(out io.Writer, e *cvs.Engine) error {
	base := cvs.Params{TopN: 5, Normalize: true, Gaussian: true, BatchSize: 2}
	queries := cvs.NewGroups(toyProblem.queries)
	refs := toyReferences()
	failed := 0
	for _, p := range methodMatrix(base, []cvs.BackendKind{cvs.CPU, cvs.Accelerator}, []cvs.Domain{cvs.Float32}) {
		for _, csr := range []bool{false, true} {
			var (
				res *cvs.Candidates
				err error
			)
			name := p.Method()
			if csr {
				name += "/csr"
				res, err = e.FindTopCandidatesCSR(toyProblem.rowOffsets, toyProblem.colIdx, queries, p)
			} else {
				res, err = e.FindTopCandidates(refs, queries, p)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			status := "ok"
			for q, want := range toyProblem.want {
				if !slices.Equal(res.Row(q), want) {
					status = "MISMATCH"
				}
			}
			if status != "ok" {
				failed++
			}
			fmt.Fprintf(out, "%-28s %s %v\n", name, status, res.Results(0))
			fmt.Fprintf(out, "%-28s %s %v\n", "", status, res.Results(1))
			res.Release()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d methods disagree with the expected ranking", failed)
	}
	return nil
}
