package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"text/tabwriter"
	"time"

	"github.com/barakmich/cvs"
	"github.com/spf13/cobra"
)

// workload is a synthetic benchmark problem.
type workload struct {
	items     int
	queries   int
	itemSize  int
	querySize int
	seed      uint64
	backend   string
}

func (w *workload) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVar(&w.items, "items", 100000, "Synthetic reference items")
	fl.IntVar(&w.queries, "queries", 199, "Synthetic queries")
	fl.IntVar(&w.itemSize, "item-size", 100, "Positions per reference item")
	fl.IntVar(&w.querySize, "query-size", 500, "Peaks per query")
	fl.Uint64Var(&w.seed, "seed", 1337, "Random seed")
	fl.StringVar(&w.backend, "backends", "all", "Backends to run: all, cpu or accelerator")
}

func (w *workload) generate(space cvs.EncodingSpace) (cvs.ReferenceSet, cvs.QuerySet) {
	r := rand.New(rand.NewPCG(w.seed, w.seed^0x9e3779b97f4a7c15))
	refs := synthetic(r, space, w.items, w.itemSize)
	queries := synthetic(r, space, w.queries, w.querySize)
	return refs, queries
}

func (w *workload) backends() ([]cvs.BackendKind, error) {
	if w.backend == "all" {
		return []cvs.BackendKind{cvs.CPU, cvs.Accelerator}, nil
	}
	var b cvs.BackendKind
	if err := b.UnmarshalText([]byte(w.backend)); err != nil {
		return nil, err
	}
	return []cvs.BackendKind{b}, nil
}

// methodMatrix expands base over every backend, domain and density, each
// scored one query at a time and in batches.
func methodMatrix(base cvs.Params, backends []cvs.BackendKind, domains []cvs.Domain) []cvs.Params {
	widths := []int{1}
	if base.BatchSize > 1 {
		widths = append(widths, base.BatchSize)
	}
	var out []cvs.Params
	for _, b := range backends {
		for _, d := range domains {
			for _, den := range []cvs.Density{cvs.Sparse, cvs.Dense} {
				for _, w := range widths {
					p := base
					p.Backend, p.Domain, p.Density, p.BatchSize = b, d, den, w
					out = append(out, p)
				}
			}
		}
	}
	return out
}

type run struct {
	params  cvs.Params
	res     *cvs.Candidates
	elapsed time.Duration
}

func runMatrix(e *cvs.Engine, refs cvs.ReferenceSet, queries cvs.QuerySet, methods []cvs.Params) ([]run, error) {
	out := make([]run, 0, len(methods))
	for _, p := range methods {
		start := time.Now()
		res, err := e.FindTopCandidates(refs, queries, p)
		if err != nil {
			for _, r := range out {
				r.res.Release()
			}
			return nil, fmt.Errorf("%s: %w", p.Method(), err)
		}
		out = append(out, run{params: p, res: res, elapsed: time.Since(start)})
	}
	return out, nil
}

func newBenchCmd(a *app) *cobra.Command {
	var (
		flags searchFlags
		w     workload
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time every scoring method on synthetic data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.params(cmd, a.settings.Search)
			if err != nil {
				return fmt.Errorf("bench: %w", err)
			}
			backends, err := w.backends()
			if err != nil {
				return fmt.Errorf("bench: %w", err)
			}
			e, err := a.engine(a.settings.Engine)
			if err != nil {
				return fmt.Errorf("bench: %w", err)
			}
			refs, queries := w.generate(a.settings.Engine.Space)
			runs, err := runMatrix(e, refs, queries, methodMatrix(p, backends, []cvs.Domain{cvs.Float32, cvs.FixedPoint}))
			if err != nil {
				return fmt.Errorf("bench: %w", err)
			}
			defer releaseRuns(runs)
			return printBench(cmd.OutOrStdout(), runs)
		},
	}
	flags.register(cmd)
	w.register(cmd)
	return cmd
}

func printBench(out io.Writer, runs []run) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "method\tseconds\tqueries/s")
	for _, r := range runs {
		secs := r.elapsed.Seconds()
		fmt.Fprintf(tw, "%s\t%0.4f\t%0.1f\n", r.params.Method(), secs, float64(r.res.NumQueries())/secs)
	}
	return tw.Flush()
}

func releaseRuns(runs []run) {
	for _, r := range runs {
		r.res.Release()
	}
}
