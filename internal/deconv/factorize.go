package deconv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Factorization defaults; callers override via config.
const (
	DefaultFactorizeIterations = 500
	DefaultFactorizeTolerance  = 1e-5
)

// factorizeEps keeps multiplicative-update denominators away from zero.
const factorizeEps = 1e-12

// factorize solves all samples jointly: with the reference W fixed, the
// proportions H (cell types x samples) follow the non-negative
// multiplicative-update rule H <- H .* (WᵀV) ./ (WᵀW·H + eps), iterated until
// the largest entry change drops below tol. H is initialized uniform, which
// for non-negative W and V keeps every update non-negative.
// Returns H, the iteration count, and whether the tolerance was reached
// before the iteration budget ran out.
func factorize(ref, mixture *mat.Dense, maxIter int, tol float64) (*mat.Dense, int, bool, error) {
	m, k := ref.Dims()
	mv, s := mixture.Dims()
	if m != mv {
		return nil, 0, false, fmt.Errorf("%w: reference has %d features, mixture has %d", ErrDimensionMismatch, m, mv)
	}
	if maxIter <= 0 {
		maxIter = DefaultFactorizeIterations
	}
	if tol <= 0 {
		tol = DefaultFactorizeTolerance
	}

	h := mat.NewDense(k, s, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < s; j++ {
			h.Set(i, j, 1/float64(k))
		}
	}

	var wtv, wtw mat.Dense
	wtv.Mul(ref.T(), mixture) // k x s, constant across iterations
	wtw.Mul(ref.T(), ref)     // k x k, constant across iterations

	var denom mat.Dense
	iter := 0
	converged := false
	for ; iter < maxIter; iter++ {
		denom.Mul(&wtw, h)

		maxDelta := 0.0
		for i := 0; i < k; i++ {
			for j := 0; j < s; j++ {
				old := h.At(i, j)
				next := old * wtv.At(i, j) / (denom.At(i, j) + factorizeEps)
				if next < 0 || math.IsNaN(next) || math.IsInf(next, 0) {
					// Negative mixture entries can poison an update; pin the
					// entry rather than propagating garbage.
					next = 0
				}
				h.Set(i, j, next)
				if d := math.Abs(next - old); d > maxDelta {
					maxDelta = d
				}
			}
		}
		if maxDelta < tol {
			converged = true
			iter++
			break
		}
	}
	return h, iter, converged, nil
}
