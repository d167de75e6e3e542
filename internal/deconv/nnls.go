package deconv

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// errNNLSIterations reports that the active-set loop ran out of its iteration
// budget before reaching the Kuhn-Tucker conditions. The caller treats it as a
// numerical failure and moves down the fallback chain.
var errNNLSIterations = errors.New("deconv: nnls exceeded iteration budget")

// nnls solves min ||A·x − b||₂ subject to x ≥ 0 with the Lawson–Hanson
// active-set method. Columns move between the zero (active) set and the
// passive set; each passive-set least-squares subproblem is solved by QR.
// Returns the solution and the final residual norm.
func nnls(a *mat.Dense, b []float64, maxIter int) ([]float64, float64, error) {
	m, n := a.Dims()
	if len(b) != m {
		return nil, 0, fmt.Errorf("%w: matrix is %dx%d, target has %d entries",
			ErrDimensionMismatch, m, n, len(b))
	}
	if maxIter <= 0 {
		maxIter = 3 * n
	}

	x := make([]float64, n)
	passive := make([]bool, n)
	nPassive := 0

	// Dual vector w = Aᵀ(b − A·x). At optimality w_j ≤ 0 for every zero-set
	// column and w_j = 0 for every passive column.
	w := make([]float64, n)
	resid := make([]float64, m)

	iter := 0
	for {
		computeResidual(a, x, b, resid)
		for j := 0; j < n; j++ {
			if passive[j] {
				w[j] = 0
				continue
			}
			w[j] = columnDot(a, j, resid)
		}

		// Pick the zero-set column with the largest positive gradient.
		t, wmax := -1, 0.0
		for j := 0; j < n; j++ {
			if !passive[j] && w[j] > wmax {
				t, wmax = j, w[j]
			}
		}
		if t < 0 || nPassive == min(m, n) {
			break // Kuhn-Tucker conditions hold
		}
		passive[t] = true
		nPassive++

		// Inner loop: re-solve the passive-set subproblem until its
		// unconstrained solution is feasible.
		for {
			if iter++; iter > maxIter {
				return x, norm2(resid), errNNLSIterations
			}

			z, err := passiveLeastSquares(a, b, passive, nPassive)
			if err != nil {
				return nil, 0, err
			}

			// Feasible subproblem solution: accept and return to the outer loop.
			if allPositive(z, passive) {
				for j := 0; j < n; j++ {
					if passive[j] {
						x[j] = z[j]
					} else {
						x[j] = 0
					}
				}
				break
			}

			// Step from x toward z as far as feasibility allows, then drop
			// the columns pinned at zero back to the zero set.
			alpha := math.Inf(1)
			for j := 0; j < n; j++ {
				if passive[j] && z[j] <= 0 {
					if t := x[j] / (x[j] - z[j]); t < alpha {
						alpha = t
					}
				}
			}
			for j := 0; j < n; j++ {
				if passive[j] {
					x[j] += alpha * (z[j] - x[j])
				}
			}
			for j := 0; j < n; j++ {
				if passive[j] && x[j] <= nnlsZeroTol {
					x[j] = 0
					passive[j] = false
					nPassive--
				}
			}
			if nPassive == 0 {
				break
			}
		}
	}

	computeResidual(a, x, b, resid)
	return x, norm2(resid), nil
}

// nnlsZeroTol is the threshold below which an interpolated coefficient is
// considered pinned at the non-negativity boundary.
const nnlsZeroTol = 1e-12

// passiveLeastSquares solves the unconstrained least-squares problem restricted
// to the passive columns, scattering the solution back to full length.
func passiveLeastSquares(a *mat.Dense, b []float64, passive []bool, nPassive int) ([]float64, error) {
	m, n := a.Dims()
	sub := mat.NewDense(m, nPassive, nil)
	cols := make([]int, 0, nPassive)
	for j := 0; j < n; j++ {
		if !passive[j] {
			continue
		}
		for i := 0; i < m; i++ {
			sub.Set(i, len(cols), a.At(i, j))
		}
		cols = append(cols, j)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(sub, mat.NewVecDense(m, b)); err != nil {
		return nil, fmt.Errorf("deconv: passive-set solve failed: %w", err)
	}

	z := make([]float64, n)
	for i, j := range cols {
		z[j] = sol.AtVec(i)
	}
	return z, nil
}

func allPositive(z []float64, passive []bool) bool {
	for j, p := range passive {
		if p && z[j] <= 0 {
			return false
		}
	}
	return true
}

// computeResidual writes b − A·x into dst.
func computeResidual(a *mat.Dense, x, b, dst []float64) {
	m, n := a.Dims()
	for i := 0; i < m; i++ {
		s := b[i]
		for j := 0; j < n; j++ {
			s -= a.At(i, j) * x[j]
		}
		dst[i] = s
	}
}

// columnDot returns the dot product of column j with v.
func columnDot(a *mat.Dense, j int, v []float64) float64 {
	m, _ := a.Dims()
	s := 0.0
	for i := 0; i < m; i++ {
		s += a.At(i, j) * v[i]
	}
	return s
}

func norm2(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
