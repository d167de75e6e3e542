package deconv

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/celldecon/celldecon/internal/telemetry"
)

// IterativeRefiner performs residual-reweighted re-solves around a LinearSolver
// seed: features the current fit explains poorly are progressively
// down-weighted, in the manner of MuSiC-style deconvolution.
type IterativeRefiner struct {
	solver *LinearSolver
	// MaxIterations bounds the reweighting loop.
	MaxIterations int
	// Tolerance is the L1 convergence threshold on successive coefficient
	// vectors.
	Tolerance float64

	metrics *telemetry.Registry
}

// Refiner defaults; callers override via config.
const (
	DefaultRefineIterations = 50
	DefaultRefineTolerance  = 1e-6
)

// weightFloor guards the exponential weight against a zero mean residual.
const weightFloor = 1e-12

// NewIterativeRefiner builds a refiner around the given solver; metrics may be nil.
func NewIterativeRefiner(solver *LinearSolver, maxIter int, tol float64, metrics *telemetry.Registry) *IterativeRefiner {
	if maxIter <= 0 {
		maxIter = DefaultRefineIterations
	}
	if tol <= 0 {
		tol = DefaultRefineTolerance
	}
	return &IterativeRefiner{solver: solver, MaxIterations: maxIter, Tolerance: tol, metrics: metrics}
}

// Refine solves the sample on unweighted data, then iterates weighted
// re-solves until the coefficient vector moves less than Tolerance in L1, or
// the iteration budget runs out. Whichever occurs first is reported in the
// diagnostic.
func (r *IterativeRefiner) Refine(ref *mat.Dense, target []float64) SolverResult {
	init := r.solver.solveAs(StrategyReweighted, ref, target)
	if init.Diagnostic.Skipped || !init.Valid {
		return init
	}

	m, k := ref.Dims()
	prev := init.Coefficients
	base := make([]float64, m)
	for i := range base {
		base[i] = 1
	}
	weights := make([]float64, m)
	resid := make([]float64, m)

	wRef := mat.NewDense(m, k, nil)
	wTarget := make([]float64, m)

	result := init
	converged := false
	iter := 0
	for ; iter < r.MaxIterations; iter++ {
		computeResidual(ref, prev, target, resid)
		residualWeights(weights, base, resid)

		// Elementwise square-root weighting of both sides keeps the weighted
		// normal equations equal to the intended diagonally weighted problem.
		for i := 0; i < m; i++ {
			s := math.Sqrt(weights[i])
			wTarget[i] = s * target[i]
			for j := 0; j < k; j++ {
				wRef.Set(i, j, s*ref.At(i, j))
			}
		}

		next := r.solver.solveAs(StrategyReweighted, wRef, wTarget)
		if !next.Valid {
			// A weighted re-solve gone degenerate does not discard the
			// progress already made; keep the last good iterate.
			break
		}

		delta := l1Distance(next.Coefficients, prev)
		result = next
		prev = next.Coefficients
		if delta < r.Tolerance {
			converged = true
			iter++
			break
		}
	}

	// Final coefficients renormalized to a composition.
	if sum := floats.Sum(result.Coefficients); sum > 0 {
		floats.Scale(1/sum, result.Coefficients)
	}

	result.Diagnostic.Strategy = StrategyReweighted
	result.Diagnostic.Iterations = iter
	result.Diagnostic.Converged = converged
	result.Diagnostic.ResidualNorm = norm2Diff(ref, result.Coefficients, target)
	r.metrics.ObserveRefinerIterations(iter)
	return result
}

// residualWeights recomputes per-feature weights into weights as
// w_f = base_f * exp(-|r_f| / (mean|r| + eps)). Any NaN weight is replaced
// with the minimum finite weight of the iteration, never zero, so a transient
// NaN cannot permanently exclude a feature.
func residualWeights(weights, base, resid []float64) {
	meanAbs := 0.0
	for _, v := range resid {
		meanAbs += math.Abs(v)
	}
	meanAbs /= float64(len(resid))

	minFinite := math.Inf(1)
	for i, v := range resid {
		weights[i] = base[i] * math.Exp(-math.Abs(v)/(meanAbs+weightFloor))
		if !math.IsNaN(weights[i]) && weights[i] < minFinite {
			minFinite = weights[i]
		}
	}
	if math.IsInf(minFinite, 1) {
		minFinite = weightFloor
	}
	for i := range weights {
		if math.IsNaN(weights[i]) {
			weights[i] = minFinite
		}
	}
}

func l1Distance(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += math.Abs(a[i] - b[i])
	}
	return s
}
