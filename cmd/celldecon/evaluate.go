package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/celldecon/celldecon/internal/dataset"
	"github.com/celldecon/celldecon/internal/deconv"
	"github.com/celldecon/celldecon/internal/truth"
)

func newEvaluateCmd() *cobra.Command {
	var (
		reference   string
		mixture     string
		proportions string
		truthPath   string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score an existing proportions matrix",
		Long: `Compute per-sample reconstruction metrics (RMSE, MAE, R-squared, Pearson,
Spearman) for a previously exported proportions matrix, and optionally compare
it against a ground-truth proportions matrix.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(reference, mixture, proportions, truthPath)
		},
	}

	cmd.Flags().StringVar(&reference, "reference", "", "reference signature matrix CSV")
	cmd.Flags().StringVar(&mixture, "mixture", "", "bulk mixture matrix CSV")
	cmd.Flags().StringVar(&proportions, "proportions", "", "proportions matrix CSV to score")
	cmd.Flags().StringVar(&truthPath, "truth", "", "optional ground-truth proportions CSV")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("mixture")
	_ = cmd.MarkFlagRequired("proportions")

	return cmd
}

func runEvaluate(refPath, mixPath, propsPath, truthPath string) error {
	ref, err := dataset.LoadReference(refPath)
	if err != nil {
		return err
	}
	mix, err := dataset.LoadMixture(mixPath)
	if err != nil {
		return err
	}
	props, err := dataset.LoadProportions(propsPath)
	if err != nil {
		return err
	}

	metrics, err := deconv.EvaluateReconstruction(ref, mix, props)
	if err != nil {
		return err
	}
	printMetrics("reconstruction", metrics)

	if truthPath == "" {
		return nil
	}
	raw, err := dataset.LoadProportions(truthPath)
	if err != nil {
		return err
	}
	gotAligned, wantAligned, err := truth.Reconcile(props, raw)
	if err != nil {
		if errors.Is(err, deconv.ErrNoComparison) {
			log.Warn().Err(err).Msg("skipping ground-truth comparison")
			return nil
		}
		return err
	}
	cmp, err := deconv.CompareProportions(gotAligned, wantAligned)
	if err != nil {
		return err
	}
	printMetrics("ground-truth", cmp)
	return nil
}

func printMetrics(kind string, metrics []deconv.FitMetrics) {
	fmt.Fprintf(os.Stdout, "%s metrics:\n", kind)
	fmt.Fprintf(os.Stdout, "%-20s %10s %10s %10s %10s %10s\n", "sample", "rmse", "mae", "r2", "pearson", "spearman")
	for _, m := range metrics {
		fmt.Fprintf(os.Stdout, "%-20s %10.4f %10.4f %10s %10s %10s\n",
			m.Sample, m.RMSE, m.MAE, optStr(m.R2), optStr(m.Pearson), optStr(m.Spearman))
	}
	if mr := deconv.MeanR2(metrics); mr.Defined {
		fmt.Fprintf(os.Stdout, "mean r2: %.4f\n", mr.Value)
	}
}

func optStr(o deconv.Optional) string {
	if !o.Defined {
		return "NA"
	}
	return fmt.Sprintf("%.4f", o.Value)
}
