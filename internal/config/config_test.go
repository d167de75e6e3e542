package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celldecon/celldecon/internal/deconv"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Solve.SumToOne)
	assert.Equal(t, 1, cfg.Ensemble.Workers)

	strategies, err := cfg.Strategies()
	require.NoError(t, err)
	assert.Equal(t, deconv.DefaultStrategyOrder, strategies)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	raw := `
solve:
  sum_to_one: false
  min_fraction: 0.01
ensemble:
  strategies: ["nnls", "reweighted"]
  workers: 4
  time_budget: 30s
output:
  dir: results
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Solve.SumToOne)
	assert.Equal(t, 0.01, cfg.Solve.MinFraction)
	assert.Equal(t, 4, cfg.Ensemble.Workers)
	assert.Equal(t, Duration(30*time.Second), cfg.Ensemble.TimeBudget)
	assert.Equal(t, "results", cfg.Output.Dir)

	strategies, err := cfg.Strategies()
	require.NoError(t, err)
	assert.Equal(t, []deconv.Strategy{deconv.StrategyNNLS, deconv.StrategyReweighted}, strategies)
}

func TestLoad_RejectsUnknownStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ensemble:\n  strategies: [\"magic\"]\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_Bounds(t *testing.T) {
	cfg := Default()
	cfg.Solve.MinFraction = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ensemble.Workers = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ensemble.Strategies = nil
	assert.Error(t, cfg.Validate())
}

func TestEnsembleSettings(t *testing.T) {
	cfg := Default()
	cfg.Ensemble.Workers = 2
	settings, err := cfg.EnsembleSettings()
	require.NoError(t, err)
	assert.Equal(t, 2, settings.Workers)
	assert.True(t, settings.Solve.SumToOne)
	assert.Equal(t, deconv.DefaultStrategyOrder, settings.Strategies)
}
