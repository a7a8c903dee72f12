package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/barakmich/cvs"
	"github.com/spf13/cobra"
)

func newCompareCmd(a *app) *cobra.Command {
	var (
		flags searchFlags
		w     workload
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Check that every scoring method agrees with the CPU baseline",
		Long:  "Score the same synthetic data with every method and report the overlap\nof each method's top-n with the sparse single-query CPU result.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.params(cmd, a.settings.Search)
			if err != nil {
				return fmt.Errorf("compare: %w", err)
			}
			backends, err := w.backends()
			if err != nil {
				return fmt.Errorf("compare: %w", err)
			}
			e, err := a.engine(a.settings.Engine)
			if err != nil {
				return fmt.Errorf("compare: %w", err)
			}
			refs, queries := w.generate(a.settings.Engine.Space)
			methods := methodMatrix(p, backends, []cvs.Domain{p.Domain})
			if backends[0] != cvs.CPU {
				// The baseline runs first.
				methods = append(methodMatrix(p, []cvs.BackendKind{cvs.CPU}, []cvs.Domain{p.Domain})[:1], methods...)
			}
			runs, err := runMatrix(e, refs, queries, methods)
			if err != nil {
				return fmt.Errorf("compare: %w", err)
			}
			defer releaseRuns(runs)
			return printOverlap(cmd.OutOrStdout(), runs)
		},
	}
	flags.register(cmd)
	w.register(cmd)
	return cmd
}

func printOverlap(out io.Writer, runs []run) error {
	base := runs[0]
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "method\toverlap@%d with %s\n", base.res.TopN(), base.params.Method())
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%0.4f\n", r.params.Method(), r.res.Overlap(base.res, base.res.TopN()))
	}
	return tw.Flush()
}
