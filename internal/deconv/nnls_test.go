package deconv

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNNLS_ExactRecovery(t *testing.T) {
	// mixture [2,3,5] is exactly 2*col1 + 3*col2
	a := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
	})
	b := []float64{2, 3, 5}

	x, rnorm, err := nnls(a, b, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(x[0]-2) > 1e-9 || math.Abs(x[1]-3) > 1e-9 {
		t.Errorf("expected [2 3], got %v", x)
	}
	if rnorm > 1e-9 {
		t.Errorf("expected zero residual, got %g", rnorm)
	}
}

func TestNNLS_ClipsNegativeSolution(t *testing.T) {
	// Unconstrained least squares would want a negative coefficient for the
	// second column; NNLS must pin it at zero.
	a := mat.NewDense(3, 2, []float64{
		1, 1,
		1, 1,
		1, 1.1,
	})
	b := []float64{1, 1, 0.5}

	x, _, err := nnls(a, b, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for j, v := range x {
		if v < 0 {
			t.Errorf("coefficient %d is negative: %g", j, v)
		}
	}
}

func TestNNLS_ZeroTarget(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := []float64{0, 0}

	x, rnorm, err := nnls(a, b, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if x[0] != 0 || x[1] != 0 {
		t.Errorf("expected zero solution, got %v", x)
	}
	if rnorm != 0 {
		t.Errorf("expected zero residual, got %g", rnorm)
	}
}

func TestNNLS_IterationBudget(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
	})
	b := []float64{2, 3, 5}

	_, _, err := nnls(a, b, 1)
	if err == nil {
		t.Fatal("expected iteration-budget error")
	}
}

func TestNNLS_DimensionMismatch(t *testing.T) {
	a := mat.NewDense(3, 2, nil)
	if _, _, err := nnls(a, []float64{1, 2}, 0); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestNNLS_WideMatrix(t *testing.T) {
	// More cell types than features: rank(A) < n is permitted, the active set
	// just stops growing at m columns.
	a := mat.NewDense(2, 3, []float64{
		1, 0, 1,
		0, 1, 1,
	})
	b := []float64{1, 1}

	x, rnorm, err := nnls(a, b, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rnorm > 1e-9 {
		t.Errorf("expected exact fit, got residual %g", rnorm)
	}
	for j, v := range x {
		if v < 0 {
			t.Errorf("coefficient %d is negative: %g", j, v)
		}
	}
}
