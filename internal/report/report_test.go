package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celldecon/celldecon/internal/deconv"
	"github.com/celldecon/celldecon/internal/telemetry"
)

func sampleResult() *deconv.EnsembleResult {
	props := deconv.NewProportionsMatrix([]string{"s1", "s2"}, []string{"typeA", "typeB"})
	props.SetRow(0, []float64{0.4, 0.6})
	return &deconv.EnsembleResult{
		RunID:       "test-run",
		Proportions: props,
		Chosen:      deconv.StrategyNNLS,
		Diagnostics: []deconv.Diagnostic{
			{Strategy: deconv.StrategyNNLS, Tier: deconv.TierPrimary, Valid: true, ResidualNorm: 0.01},
			{Strategy: deconv.StrategyNNLS, Skipped: true, Note: "all-zero sample"},
		},
		Metrics: []deconv.FitMetrics{
			{Sample: "s1", RMSE: 0.01, MAE: 0.008, R2: deconv.Some(0.99), Pearson: deconv.Some(0.995), Spearman: deconv.Some(1)},
			{Sample: "s2", RMSE: 0, MAE: 0},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := Writer{Dir: dir}
	require.NoError(t, w.WriteAll(sampleResult()))

	props := readCSV(t, filepath.Join(dir, "proportions.csv"))
	require.Len(t, props, 3)
	assert.Equal(t, []string{"sample", "typeA", "typeB"}, props[0])
	assert.Equal(t, "s1", props[1][0])
	assert.Equal(t, "0.4", props[1][1])

	metrics := readCSV(t, filepath.Join(dir, "metrics.csv"))
	require.Len(t, metrics, 3)
	assert.Equal(t, "0.99", metrics[1][3])
	// Undefined metrics export as NA, never NaN.
	assert.Equal(t, "NA", metrics[2][3])

	prov := readCSV(t, filepath.Join(dir, "provenance.csv"))
	require.Len(t, prov, 3)
	assert.Equal(t, "test-run", prov[1][1])
	assert.Equal(t, "primary", prov[1][3])
	assert.Equal(t, "true", prov[1][4])
	assert.Equal(t, "true", prov[2][5])
}

func TestWriteTelemetry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	promReg := prometheus.NewRegistry()
	reg := telemetry.NewRegistry(promReg)
	reg.CountSolve("nnls", "primary")
	reg.CountSolve("nnls", "primary")
	reg.CountFallback("ridge")

	w := Writer{Dir: dir}
	require.NoError(t, w.WriteTelemetry(promReg))

	raw, err := os.ReadFile(filepath.Join(dir, "telemetry.prom"))
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `celldecon_solves_total{strategy="nnls",tier="primary"} 2`)
	assert.Contains(t, text, `celldecon_fallbacks_total{tier="ridge"} 1`)
}

func TestWriteTelemetry_NilGatherer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Writer{Dir: dir}.WriteTelemetry(nil))
	_, err := os.Stat(filepath.Join(dir, "telemetry.prom"))
	assert.True(t, os.IsNotExist(err))
}
