// Package config loads and validates run configuration for celldecon.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/celldecon/celldecon/internal/deconv"
)

// Config is the full YAML-backed run configuration.
type Config struct {
	Solve    SolveConfig    `yaml:"solve"`
	Ensemble EnsembleConfig `yaml:"ensemble"`
	Output   OutputConfig   `yaml:"output"`
}

// SolveConfig configures the per-sample constrained solver.
type SolveConfig struct {
	SumToOne      bool    `yaml:"sum_to_one"`
	MinFraction   float64 `yaml:"min_fraction"`
	MaxIterations int     `yaml:"max_iterations"`

	RefineIterations int     `yaml:"refine_iterations"`
	RefineTolerance  float64 `yaml:"refine_tolerance"`

	FactorizeIterations int     `yaml:"factorize_iterations"`
	FactorizeTolerance  float64 `yaml:"factorize_tolerance"`
}

// EnsembleConfig configures strategy selection.
type EnsembleConfig struct {
	// Strategies run in order; see deconv.ParseStrategy for names.
	Strategies []string `yaml:"strategies"`
	// Workers bounds per-sample parallelism. 1 is sequential and deterministic.
	Workers int `yaml:"workers"`
	// TimeBudget caps the whole strategy loop; zero means unlimited.
	TimeBudget Duration `yaml:"time_budget"`
}

// Duration wraps time.Duration so YAML accepts "30s"-style values as well as
// raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

// String formats like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// OutputConfig configures report writing.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Solve: SolveConfig{
			SumToOne:            true,
			MinFraction:         0,
			MaxIterations:       0, // solver default: 3x cell types
			RefineIterations:    deconv.DefaultRefineIterations,
			RefineTolerance:     deconv.DefaultRefineTolerance,
			FactorizeIterations: deconv.DefaultFactorizeIterations,
			FactorizeTolerance:  deconv.DefaultFactorizeTolerance,
		},
		Ensemble: EnsembleConfig{
			Strategies: strategyNames(deconv.DefaultStrategyOrder),
			Workers:    1,
		},
		Output: OutputConfig{Dir: "out"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the solver cannot honor.
func (c Config) Validate() error {
	if c.Solve.MinFraction < 0 || c.Solve.MinFraction >= 1 {
		return fmt.Errorf("config: min_fraction %g outside [0, 1)", c.Solve.MinFraction)
	}
	if c.Ensemble.Workers < 0 {
		return fmt.Errorf("config: workers must be non-negative, got %d", c.Ensemble.Workers)
	}
	if c.Ensemble.TimeBudget < 0 {
		return fmt.Errorf("config: time_budget must be non-negative, got %s", c.Ensemble.TimeBudget)
	}
	if len(c.Ensemble.Strategies) == 0 {
		return fmt.Errorf("config: at least one strategy required")
	}
	if _, err := c.Strategies(); err != nil {
		return err
	}
	return nil
}

// Strategies parses the configured strategy names.
func (c Config) Strategies() ([]deconv.Strategy, error) {
	out := make([]deconv.Strategy, 0, len(c.Ensemble.Strategies))
	for _, name := range c.Ensemble.Strategies {
		s, err := deconv.ParseStrategy(name)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// EnsembleSettings assembles the deconv ensemble configuration.
func (c Config) EnsembleSettings() (deconv.EnsembleConfig, error) {
	strategies, err := c.Strategies()
	if err != nil {
		return deconv.EnsembleConfig{}, err
	}
	return deconv.EnsembleConfig{
		Strategies: strategies,
		Workers:    c.Ensemble.Workers,
		TimeBudget: time.Duration(c.Ensemble.TimeBudget),
		Solve: deconv.SolveOptions{
			SumToOne:      c.Solve.SumToOne,
			MinFraction:   c.Solve.MinFraction,
			MaxIterations: c.Solve.MaxIterations,
		},
		RefineIterations:    c.Solve.RefineIterations,
		RefineTolerance:     c.Solve.RefineTolerance,
		FactorizeIterations: c.Solve.FactorizeIterations,
		FactorizeTolerance:  c.Solve.FactorizeTolerance,
	}, nil
}

func strategyNames(strategies []deconv.Strategy) []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = s.String()
	}
	return out
}
