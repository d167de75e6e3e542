package deconv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func scenarioReference() *mat.Dense {
	return mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
	})
}

func TestLinearSolver_ScenarioSumToOne(t *testing.T) {
	solver := NewLinearSolver(SolveOptions{SumToOne: true}, nil)

	res := solver.Solve(scenarioReference(), []float64{2, 3, 5})
	require.True(t, res.Valid)
	assert.Equal(t, TierPrimary, res.Diagnostic.Tier)
	assert.InDelta(t, 0.4, res.Coefficients[0], 1e-6)
	assert.InDelta(t, 0.6, res.Coefficients[1], 1e-6)
	assert.InDelta(t, 1.0, res.Coefficients[0]+res.Coefficients[1], 1e-6)
}

func TestLinearSolver_ScenarioPlainNNLS(t *testing.T) {
	solver := NewLinearSolver(SolveOptions{}, nil)

	res := solver.Solve(scenarioReference(), []float64{2, 3, 5})
	require.True(t, res.Valid)
	// Raw recovery is [2 3]; post-processing renormalizes to a composition.
	assert.InDelta(t, 0.4, res.Coefficients[0], 1e-6)
	assert.InDelta(t, 0.6, res.Coefficients[1], 1e-6)
	assert.InDelta(t, 0.0, res.Diagnostic.ResidualNorm, 1e-8)
}

func TestLinearSolver_ZeroSampleSkipped(t *testing.T) {
	solver := NewLinearSolver(SolveOptions{SumToOne: true}, nil)

	res := solver.Solve(scenarioReference(), []float64{0, 0, 0})
	assert.False(t, res.Valid)
	assert.True(t, res.Diagnostic.Skipped)
	for _, v := range res.Coefficients {
		assert.False(t, math.IsNaN(v), "skip must not leak NaN")
		assert.Equal(t, 0.0, v)
	}
}

func TestLinearSolver_RidgeFallback(t *testing.T) {
	// A one-iteration budget forces the primary active-set solve to fail, so
	// the ridge tier must produce the result and say so in the diagnostic.
	solver := NewLinearSolver(SolveOptions{MaxIterations: 1}, nil)

	res := solver.Solve(scenarioReference(), []float64{2, 3, 5})
	require.True(t, res.Valid)
	assert.Equal(t, TierRidge, res.Diagnostic.Tier)
	assert.Greater(t, res.Diagnostic.RidgeEpsilon, 0.0)
	assert.InDelta(t, 0.4, res.Coefficients[0], 1e-3)
	assert.InDelta(t, 0.6, res.Coefficients[1], 1e-3)
}

func TestLinearSolver_MinFraction(t *testing.T) {
	solver := NewLinearSolver(SolveOptions{SumToOne: true, MinFraction: 0.45}, nil)

	res := solver.Solve(scenarioReference(), []float64{2, 3, 5})
	require.True(t, res.Valid)
	// 0.4 falls below the threshold and is zeroed; the rest renormalizes.
	assert.Equal(t, 0.0, res.Coefficients[0])
	assert.InDelta(t, 1.0, res.Coefficients[1], 1e-6)
}

func TestMeanProfile(t *testing.T) {
	x := meanProfile(scenarioReference())
	require.Len(t, x, 2)
	assert.InDelta(t, 1.0, x[0]+x[1], 1e-12)
	// Column means are 2/3 each, so the normalized profile is uniform.
	assert.InDelta(t, 0.5, x[0], 1e-12)

	// All-zero reference degrades to uniform rather than dividing by zero.
	zero := mat.NewDense(2, 4, nil)
	u := meanProfile(zero)
	for _, v := range u {
		assert.InDelta(t, 0.25, v, 1e-12)
	}
}

func TestLinearSolver_NoisyRecovery(t *testing.T) {
	// reference x P + small noise must still recover P to high correlation.
	ref := mat.NewDense(6, 3, []float64{
		5, 0.2, 0.1,
		0.3, 4, 0.2,
		0.1, 0.3, 6,
		2, 2, 0.5,
		0.5, 1, 3,
		1, 0.5, 0.5,
	})
	p := []float64{0.2, 0.5, 0.3}
	noise := []float64{0.01, -0.02, 0.015, -0.01, 0.02, -0.005}

	target := make([]float64, 6)
	for i := 0; i < 6; i++ {
		for j := 0; j < 3; j++ {
			target[i] += ref.At(i, j) * p[j]
		}
		target[i] += noise[i]
	}

	solver := NewLinearSolver(SolveOptions{SumToOne: true}, nil)
	res := solver.Solve(ref, target)
	require.True(t, res.Valid)
	corr := pearson(res.Coefficients, p)
	require.True(t, corr.Defined)
	assert.Greater(t, corr.Value, 0.9)
}
