package main

import (
	"fmt"
	"log"
	"os"

	"github.com/barakmich/cvs"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

// app is the state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool
	settings   cvs.Settings
}

func newRootCmd() *cobra.Command {
	a := &app{settings: cvs.DefaultSettings()}
	cmd := &cobra.Command{
		Use:           "cvs",
		Short:         "Rank reference items against query peak lists",
		Long:          "cvs scores every query against a sparse reference index and reports\nthe top-n reference items per query, on the CPU or an accelerator.",
		Version:       fmt.Sprintf("cvs %s", cvs.Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath == "" {
				return nil
			}
			s, err := cvs.LoadSettings(a.configPath)
			if err != nil {
				return err
			}
			a.settings = s
			return nil
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML or TOML settings file")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log engine setup and progress")

	cmd.AddCommand(
		newSearchCmd(a),
		newBenchCmd(a),
		newCompareCmd(a),
		newDeterministicCmd(a),
		newGenerateCmd(a),
	)
	return cmd
}

func (a *app) engine(cfg cvs.Config) (*cvs.Engine, error) {
	e, err := cvs.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	if a.verbose {
		e.SetLogger(log.Printf)
	}
	return e, nil
}

// searchFlags overrides the search parameters of the settings file.
type searchFlags struct {
	topN      int
	tolerance float64
	normalize bool
	gaussian  bool
	domain    string
	backend   string
	density   string
	batch     int
	threads   int
	progress  int
}

func (f *searchFlags) register(cmd *cobra.Command) {
	d := cvs.DefaultParams()
	fl := cmd.Flags()
	fl.IntVarP(&f.topN, "top-n", "n", d.TopN, "Candidates reported per query")
	fl.Float64VarP(&f.tolerance, "tolerance", "t", d.Tolerance, "Peak tolerance in position units")
	fl.BoolVar(&f.normalize, "normalize", d.Normalize, "Weight reference positions by 1/count")
	fl.BoolVar(&f.gaussian, "gaussian", d.Gaussian, "Gaussian instead of flat tolerance window")
	fl.StringVar(&f.domain, "domain", d.Domain.String(), "Numeric domain: float32 or int32")
	fl.StringVar(&f.backend, "backend", d.Backend.String(), "Backend: cpu or accelerator")
	fl.StringVar(&f.density, "density", d.Density.String(), "Query vectors: sparse or dense")
	fl.IntVarP(&f.batch, "batch", "b", d.BatchSize, "Queries per batch")
	fl.IntVar(&f.threads, "threads", d.Threads, "CPU threads, 0 for all")
	fl.IntVar(&f.progress, "progress", d.ProgressEvery, "Log progress every k batches, 0 is silent")
}

func (f *searchFlags) params(cmd *cobra.Command, base cvs.Params) (cvs.Params, error) {
	p := base
	fl := cmd.Flags()
	if fl.Changed("top-n") {
		p.TopN = f.topN
	}
	if fl.Changed("tolerance") {
		p.Tolerance = f.tolerance
	}
	if fl.Changed("normalize") {
		p.Normalize = f.normalize
	}
	if fl.Changed("gaussian") {
		p.Gaussian = f.gaussian
	}
	if fl.Changed("batch") {
		p.BatchSize = f.batch
	}
	if fl.Changed("threads") {
		p.Threads = f.threads
	}
	if fl.Changed("progress") {
		p.ProgressEvery = f.progress
	}
	if fl.Changed("domain") {
		if err := p.Domain.UnmarshalText([]byte(f.domain)); err != nil {
			return p, err
		}
	}
	if fl.Changed("backend") {
		if err := p.Backend.UnmarshalText([]byte(f.backend)); err != nil {
			return p, err
		}
	}
	if fl.Changed("density") {
		if err := p.Density.UnmarshalText([]byte(f.density)); err != nil {
			return p, err
		}
	}
	return p, nil
}
