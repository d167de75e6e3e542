// Package report exports run results: proportions, fit metrics, and
// per-sample provenance. Formats here are a downstream convenience; the solver
// core itself returns in-memory structures only.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"

	"github.com/celldecon/celldecon/internal/deconv"
)

// Writer exports one ensemble run to a directory.
type Writer struct {
	Dir string
}

// WriteAll exports proportions.csv, metrics.csv, and provenance.csv, then logs
// a run summary.
func (w Writer) WriteAll(result *deconv.EnsembleResult) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("report: create %s: %w", w.Dir, err)
	}
	if err := w.writeProportions(result.Proportions); err != nil {
		return err
	}
	if err := w.writeMetrics(result.Metrics); err != nil {
		return err
	}
	if err := w.writeProvenance(result); err != nil {
		return err
	}
	w.logSummary(result)
	return nil
}

// WriteTelemetry dumps the run's collectors to telemetry.prom in Prometheus
// text format. A nil gatherer is a no-op, matching the rest of the telemetry
// surface.
func (w Writer) WriteTelemetry(g prometheus.Gatherer) error {
	if g == nil {
		return nil
	}
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("report: gather telemetry: %w", err)
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("report: create %s: %w", w.Dir, err)
	}
	path := filepath.Join(w.Dir, "telemetry.prom")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("report: write %s: %w", path, err)
		}
	}
	return nil
}

func (w Writer) writeProportions(p *deconv.ProportionsMatrix) error {
	rows := make([][]string, 0, len(p.Samples)+1)
	header := append([]string{"sample"}, p.CellTypes...)
	rows = append(rows, header)
	for i, sample := range p.Samples {
		rec := make([]string, 0, len(p.CellTypes)+1)
		rec = append(rec, sample)
		for _, v := range p.Row(i) {
			rec = append(rec, formatFloat(v))
		}
		rows = append(rows, rec)
	}
	return w.writeCSV("proportions.csv", rows)
}

func (w Writer) writeMetrics(metrics []deconv.FitMetrics) error {
	rows := [][]string{{"sample", "rmse", "mae", "r2", "pearson", "spearman"}}
	for _, m := range metrics {
		rows = append(rows, []string{
			m.Sample,
			formatFloat(m.RMSE),
			formatFloat(m.MAE),
			formatOptional(m.R2),
			formatOptional(m.Pearson),
			formatOptional(m.Spearman),
		})
	}
	return w.writeCSV("metrics.csv", rows)
}

func (w Writer) writeProvenance(result *deconv.EnsembleResult) error {
	rows := [][]string{{"sample", "run_id", "strategy", "tier", "valid", "skipped", "residual_norm", "note"}}
	for i, d := range result.Diagnostics {
		rows = append(rows, []string{
			result.Proportions.Samples[i],
			result.RunID,
			d.Strategy.String(),
			d.Tier.String(),
			strconv.FormatBool(d.Valid),
			strconv.FormatBool(d.Skipped),
			formatFloat(d.ResidualNorm),
			d.Note,
		})
	}
	return w.writeCSV("provenance.csv", rows)
}

func (w Writer) writeCSV(name string, rows [][]string) error {
	path := filepath.Join(w.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	cw.Flush()
	return cw.Error()
}

func (w Writer) logSummary(result *deconv.EnsembleResult) {
	valid, skipped := 0, 0
	for _, d := range result.Diagnostics {
		if d.Valid {
			valid++
		}
		if d.Skipped {
			skipped++
		}
	}
	ev := log.Info().
		Str("run_id", result.RunID).
		Str("chosen", result.Chosen.String()).
		Bool("by_truth", result.ChosenByTruth).
		Bool("last_resort", result.LastResort).
		Int("samples", len(result.Diagnostics)).
		Int("valid", valid).
		Int("skipped", skipped).
		Str("dir", w.Dir)
	if mr := deconv.MeanR2(result.Metrics); mr.Defined {
		ev = ev.Float64("mean_r2", mr.Value)
	}
	ev.Msg("deconvolution report written")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}

func formatOptional(o deconv.Optional) string {
	if !o.Defined {
		return "NA"
	}
	return formatFloat(o.Value)
}
