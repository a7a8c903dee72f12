package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		w      workload
		dir    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic reference and query set",
		Long:  "Write refs.<format> and queries.<format> into the output directory, drawing\ndistinct sorted bins from the configured encoding space.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "bin" {
				return fmt.Errorf("generate: format must be csv or bin, got %q", format)
			}
			refs, queries := w.generate(a.settings.Engine.Space)
			refPath := filepath.Join(dir, "refs."+format)
			if err := saveGroups(refPath, refs); err != nil {
				return fmt.Errorf("generate: %w", err)
			}
			queryPath := filepath.Join(dir, "queries."+format)
			if err := saveGroups(queryPath, queries); err != nil {
				return fmt.Errorf("generate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d items to %s and %d queries to %s\n",
				refs.Len(), refPath, queries.Len(), queryPath)
			return nil
		},
	}
	w.register(cmd)
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Output directory")
	cmd.Flags().StringVar(&format, "format", "bin", "File format: csv or bin")
	return cmd
}
