package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/celldecon/celldecon/internal/config"
	"github.com/celldecon/celldecon/internal/dataset"
	"github.com/celldecon/celldecon/internal/deconv"
	"github.com/celldecon/celldecon/internal/report"
	"github.com/celldecon/celldecon/internal/telemetry"
	"github.com/celldecon/celldecon/internal/truth"
)

type solveFlags struct {
	configPath string
	reference  string
	mixture    string
	truthPath  string
	outDir     string
	strategies []string
	workers    int
	timeBudget time.Duration
	sumToOne   bool
	minFrac    float64
}

func newSolveCmd() *cobra.Command {
	var flags solveFlags

	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Deconvolve bulk samples against a reference",
		Long: `Load an aligned reference and mixture matrix (CSV, feature rows, labeled
header), run the configured solver strategies, and write proportions, fit
metrics, and provenance to the output directory. An optional ground-truth
proportions matrix steers strategy selection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVar(&flags.reference, "reference", "", "reference signature matrix CSV (features x cell types)")
	cmd.Flags().StringVar(&flags.mixture, "mixture", "", "bulk mixture matrix CSV (features x samples)")
	cmd.Flags().StringVar(&flags.truthPath, "truth", "", "optional ground-truth proportions CSV (samples x cell types)")
	cmd.Flags().StringVarP(&flags.outDir, "out", "o", "", "output directory (overrides config)")
	cmd.Flags().StringSliceVar(&flags.strategies, "strategies", nil, "strategies to run, in order (overrides config)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "per-sample parallelism (overrides config)")
	cmd.Flags().DurationVar(&flags.timeBudget, "time-budget", 0, "cap on total strategy time (overrides config)")
	cmd.Flags().BoolVar(&flags.sumToOne, "sum-to-one", true, "constrain proportions to sum to 1")
	cmd.Flags().Float64Var(&flags.minFrac, "min-fraction", 0, "zero proportions below this fraction")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("mixture")

	return cmd
}

func runSolve(cmd *cobra.Command, flags solveFlags) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	applySolveOverrides(cmd, &cfg, flags)

	ref, err := dataset.LoadReference(flags.reference)
	if err != nil {
		return err
	}
	mix, err := dataset.LoadMixture(flags.mixture)
	if err != nil {
		return err
	}
	if err := deconv.CheckAligned(ref, mix); err != nil {
		return err
	}
	log.Info().
		Int("features", ref.NumFeatures()).
		Int("cell_types", ref.NumCellTypes()).
		Int("samples", mix.NumSamples()).
		Msg("matrices loaded")

	groundTruth, err := loadAlignedTruth(flags.truthPath, ref, mix)
	if err != nil {
		return err
	}

	settings, err := cfg.EnsembleSettings()
	if err != nil {
		return err
	}
	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewRegistry(promReg)
	selector := deconv.NewEnsembleSelector(settings, metrics)

	result, err := selector.Run(cmd.Context(), ref, mix, groundTruth)
	if err != nil {
		return err
	}
	for _, o := range result.Outcomes {
		ev := log.Info().
			Str("strategy", o.Strategy.String()).
			Str("status", string(o.Status)).
			Int("valid_samples", o.ValidSamples).
			Dur("duration", o.Duration)
		if o.MeanR2.Defined {
			ev = ev.Float64("mean_r2", o.MeanR2.Value)
		}
		if o.Reason != "" {
			ev = ev.Str("reason", o.Reason)
		}
		ev.Msg("strategy outcome")
	}

	writer := report.Writer{Dir: cfg.Output.Dir}
	if err := writer.WriteAll(result); err != nil {
		return err
	}
	return writer.WriteTelemetry(promReg)
}

// loadAlignedTruth loads the optional ground truth and reindexes it to the
// mixture's sample order and the reference's cell-type order. An impossible
// comparison downgrades to a warning, not a failure.
func loadAlignedTruth(path string, ref *deconv.ReferenceMatrix, mix *deconv.MixtureMatrix) (*deconv.ProportionsMatrix, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := dataset.LoadProportions(path)
	if err != nil {
		return nil, err
	}

	// Reconcile against the frame the solver will produce: mixture samples x
	// reference cell types.
	frame := deconv.NewProportionsMatrix(mix.Samples, ref.CellTypes)
	alignedFrame, alignedTruth, err := truth.Reconcile(frame, raw)
	if err != nil {
		log.Warn().Err(err).Msg("ground truth unusable, selecting by priority order")
		return nil, nil
	}
	if len(alignedFrame.Samples) < len(mix.Samples) || len(alignedFrame.CellTypes) < len(ref.CellTypes) {
		// The ensemble scores against full matrices; partial overlap would
		// misalign rows, so require complete coverage.
		log.Warn().
			Int("matched_samples", len(alignedFrame.Samples)).
			Int("matched_cell_types", len(alignedFrame.CellTypes)).
			Msg("ground truth covers only part of the run, selecting by priority order")
		return nil, nil
	}

	// Reorder the reconciled truth back into the solver frame.
	out := deconv.NewProportionsMatrix(mix.Samples, ref.CellTypes)
	sampleIdx := indexOf(alignedFrame.Samples)
	cellIdx := indexOf(alignedFrame.CellTypes)
	for i, s := range mix.Samples {
		for j, c := range ref.CellTypes {
			out.Data.Set(i, j, alignedTruth.Data.At(sampleIdx[s], cellIdx[c]))
		}
	}
	return out, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func applySolveOverrides(cmd *cobra.Command, cfg *config.Config, flags solveFlags) {
	if len(flags.strategies) > 0 {
		cfg.Ensemble.Strategies = flags.strategies
	}
	if cmd.Flags().Changed("workers") {
		cfg.Ensemble.Workers = flags.workers
	}
	if cmd.Flags().Changed("time-budget") {
		cfg.Ensemble.TimeBudget = config.Duration(flags.timeBudget)
	}
	if cmd.Flags().Changed("sum-to-one") {
		cfg.Solve.SumToOne = flags.sumToOne
	}
	if cmd.Flags().Changed("min-fraction") {
		cfg.Solve.MinFraction = flags.minFrac
	}
	if flags.outDir != "" {
		cfg.Output.Dir = flags.outDir
	}
}

func indexOf(labels []string) map[string]int {
	out := make(map[string]int, len(labels))
	for i, l := range labels {
		out[l] = i
	}
	return out
}
