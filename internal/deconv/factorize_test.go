package deconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFactorize_RecoversProportions(t *testing.T) {
	ref := mat.NewDense(4, 2, []float64{
		5, 0.5,
		0.5, 4,
		2, 1,
		1, 3,
	})
	// Two samples with known compositions.
	h := mat.NewDense(2, 2, []float64{
		0.4, 0.7,
		0.6, 0.3,
	})
	var mixture mat.Dense
	mixture.Mul(ref, h)

	got, iters, converged, err := factorize(ref, &mixture, 5000, 1e-9)
	require.NoError(t, err)
	assert.Greater(t, iters, 0)
	assert.True(t, converged)

	col := make([]float64, 2)
	for j := 0; j < 2; j++ {
		mat.Col(col, j, got)
		sum := col[0] + col[1]
		require.Greater(t, sum, 0.0)
		assert.InDelta(t, h.At(0, j), col[0]/sum, 0.02, "sample %d cell type 0", j)
		assert.InDelta(t, h.At(1, j), col[1]/sum, 0.02, "sample %d cell type 1", j)
	}
}

func TestFactorize_DimensionMismatch(t *testing.T) {
	ref := mat.NewDense(3, 2, nil)
	mixture := mat.NewDense(4, 2, nil)
	_, _, _, err := factorize(ref, mixture, 10, 1e-6)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFactorize_BudgetExhaustionIsNotConvergence(t *testing.T) {
	ref := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	mixture := mat.NewDense(3, 1, []float64{2, 3, 5})

	// Unreachable tolerance: the loop must run out of budget.
	_, iters, converged, err := factorize(ref, mixture, 2, 1e-300)
	require.NoError(t, err)
	assert.Equal(t, 2, iters)
	assert.False(t, converged, "exhausting the iteration budget must not read as convergence")
}

func TestFactorize_ConvergenceOnFinalIteration(t *testing.T) {
	ref := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	mixture := mat.NewDense(3, 1, []float64{2, 3, 5})

	// A loose tolerance converges on the first update, which is also the last
	// allowed one; the flag must still say converged.
	_, iters, converged, err := factorize(ref, mixture, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, iters)
	assert.True(t, converged)
}

func TestFactorize_NonNegativeOutput(t *testing.T) {
	ref := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	mixture := mat.NewDense(3, 1, []float64{2, 3, 5})

	h, _, _, err := factorize(ref, mixture, 1000, 1e-8)
	require.NoError(t, err)
	r, c := h.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.GreaterOrEqual(t, h.At(i, j), 0.0)
		}
	}
}
