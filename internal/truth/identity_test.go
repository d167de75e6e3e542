package truth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMatchIdentities_Permutation(t *testing.T) {
	// Reference profiles for three labeled cell types.
	reference := mat.NewDense(4, 3, []float64{
		9, 1, 0,
		1, 8, 2,
		0, 2, 7,
		3, 1, 1,
	})
	// Deconvolved profiles are the same columns, shuffled and slightly noisy.
	deconvolved := mat.NewDense(4, 3, []float64{
		1.1, 0.1, 8.9,
		7.9, 2.1, 1.0,
		2.0, 6.9, 0.1,
		1.1, 1.0, 3.0,
	})

	got := MatchIdentities(deconvolved, []string{"c1", "c2", "c3"}, reference, []string{"B", "T", "NK"})
	require.Len(t, got, 3)

	byLabel := map[string]Assignment{}
	for _, a := range got {
		byLabel[a.Deconvolved] = a
	}
	assert.Equal(t, "T", byLabel["c1"].Reference)
	assert.Equal(t, "NK", byLabel["c2"].Reference)
	assert.Equal(t, "B", byLabel["c3"].Reference)
	for _, a := range got {
		assert.Greater(t, a.Correlation, 0.9)
	}
}

func TestMatchIdentities_DimensionMismatch(t *testing.T) {
	a := mat.NewDense(3, 2, nil)
	b := mat.NewDense(4, 2, nil)
	assert.Nil(t, MatchIdentities(a, []string{"x", "y"}, b, []string{"p", "q"}))
}

func TestMatchIdentities_ConstantProfileSkipped(t *testing.T) {
	deconvolved := mat.NewDense(3, 2, []float64{
		1, 5,
		1, 2,
		1, 9,
	})
	reference := mat.NewDense(3, 1, []float64{5.1, 2.2, 8.8})

	got := MatchIdentities(deconvolved, []string{"flat", "varied"}, reference, []string{"ref"})
	require.Len(t, got, 1)
	assert.Equal(t, "varied", got[0].Deconvolved)
}
