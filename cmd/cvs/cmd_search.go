package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/barakmich/cvs"
	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		flags   searchFlags
		refs    string
		queries string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Rank reference items for every query",
		Long:  "Load reference items and queries from CSV or binary group files and\nwrite the top-n candidates of every query as CSV (query, id:score...).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.params(cmd, a.settings.Search)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			q, err := loadGroups(queries)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			e, err := a.engine(a.settings.Engine)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			r, err := loadGroups(refs)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			res, err := e.FindTopCandidates(r, q, p)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer res.Release()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				defer f.Close()
				w = f
			}
			return writeCandidates(w, res)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&refs, "refs", "", "Reference item file (.csv or .bin)")
	cmd.Flags().StringVar(&queries, "queries", "", "Query file (.csv or .bin)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output CSV, stdout when empty")
	_ = cmd.MarkFlagRequired("refs")
	_ = cmd.MarkFlagRequired("queries")
	return cmd
}

func writeCandidates(w io.Writer, res *cvs.Candidates) error {
	c := csv.NewWriter(w)
	rec := make([]string, 0, res.TopN()+1)
	for q := 0; q < res.NumQueries(); q++ {
		rec = append(rec[:0], strconv.Itoa(q))
		for _, r := range res.Results(q) {
			rec = append(rec, fmt.Sprintf("%d:%s", r.ID, strconv.FormatFloat(r.Score, 'g', 6, 64)))
		}
		if err := c.Write(rec); err != nil {
			return err
		}
	}
	c.Flush()
	return c.Error()
}
