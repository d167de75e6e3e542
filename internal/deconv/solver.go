package deconv

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/celldecon/celldecon/internal/telemetry"
)

// SolveOptions configures one constrained solve.
type SolveOptions struct {
	// SumToOne adds the equality constraint that coefficients sum to exactly 1.
	SumToOne bool
	// MinFraction zeroes coefficients below it after solving.
	MinFraction float64
	// MaxIterations bounds the active-set loop. Zero means 3x the number of
	// cell types.
	MaxIterations int
	// RidgeEpsilons is the escalation schedule for the regularized fallback.
	// Empty means DefaultRidgeEpsilons.
	RidgeEpsilons []float64
}

// DefaultRidgeEpsilons escalates from a nudge that resolves mild
// rank-deficiency up to a penalty strong enough for near-pathological input.
var DefaultRidgeEpsilons = []float64{1e-10, 1e-6, 1e-2}

// sumWeight is the penalty weight on the appended ones-row that reduces the
// sum-to-one equality constraint to a least-squares row. Large enough that the
// constraint violation stays far below the renormalization tolerance.
const sumWeight = 1e3

// LinearSolver wraps a single constrained least-squares solve of one sample
// vector against the reference matrix, with an explicit ordered fallback chain
// for numerically degenerate input.
type LinearSolver struct {
	opts     SolveOptions
	enforcer ConstraintEnforcer
	metrics  *telemetry.Registry
}

// NewLinearSolver builds a solver; metrics may be nil.
func NewLinearSolver(opts SolveOptions, metrics *telemetry.Registry) *LinearSolver {
	if len(opts.RidgeEpsilons) == 0 {
		opts.RidgeEpsilons = DefaultRidgeEpsilons
	}
	return &LinearSolver{
		opts:     opts,
		enforcer: ConstraintEnforcer{MinFraction: opts.MinFraction},
		metrics:  metrics,
	}
}

// Options returns the solver's configuration.
func (s *LinearSolver) Options() SolveOptions { return s.opts }

// Solve estimates non-negative coefficients for one sample vector against the
// reference. The fallback chain is an explicit ordered list of tiers, each
// returning a typed outcome, iterated until one succeeds; the mean-profile
// terminal tier cannot fail for a non-empty reference, so Solve never returns
// an error for aligned input.
func (s *LinearSolver) Solve(ref *mat.Dense, target []float64) SolverResult {
	return s.solveAs(StrategyNNLS, ref, target)
}

// solveAs runs the fallback chain, attributing the result to the given
// strategy in diagnostics.
func (s *LinearSolver) solveAs(strategy Strategy, ref *mat.Dense, target []float64) SolverResult {
	m, k := ref.Dims()
	if len(target) != m {
		// Alignment is checked before batches start; reaching this is a
		// programmer error, but degrade to an invalid sample rather than panic.
		return skippedResult(strategy, k, fmt.Sprintf("target length %d != %d features", len(target), m))
	}

	// Degenerate input: an all-zero sample has no composition. Substitute the
	// sentinel and let the caller continue the batch.
	if isAllZero(target) {
		s.metrics.CountSkipped()
		return skippedResult(strategy, k, "all-zero sample")
	}

	tiers := []struct {
		tier FallbackTier
		run  func() ([]float64, float64, float64, error)
	}{
		{TierPrimary, func() ([]float64, float64, float64, error) {
			x, rnorm, err := s.primarySolve(ref, target)
			return x, rnorm, 0, err
		}},
		{TierRidge, func() ([]float64, float64, float64, error) {
			return s.ridgeSolve(ref, target)
		}},
		{TierMeanProfile, func() ([]float64, float64, float64, error) {
			x := meanProfile(ref)
			return x, norm2Diff(ref, x, target), 0, nil
		}},
	}

	var result SolverResult
	for i, t := range tiers {
		x, rnorm, eps, err := t.run()
		if err != nil {
			log.Warn().
				Str("strategy", strategy.String()).
				Str("tier", t.tier.String()).
				Err(err).
				Msg("solver tier failed, falling back")
			s.metrics.CountFallback(tiers[i].tier.String())
			continue
		}
		result = SolverResult{
			Coefficients: x,
			Valid:        true,
			Diagnostic: Diagnostic{
				Strategy:     strategy,
				Tier:         t.tier,
				ResidualNorm: rnorm,
				RidgeEpsilon: eps,
			},
		}
		if t.tier == TierMeanProfile {
			result.Diagnostic.Note = "low confidence: mean reference profile"
		}
		break
	}

	return s.finish(result)
}

// primarySolve is the requested constrained solve: NNLS, or the
// equality+inequality constrained problem when sum-to-one is active.
func (s *LinearSolver) primarySolve(ref *mat.Dense, target []float64) ([]float64, float64, error) {
	if !s.opts.SumToOne {
		return nnls(ref, target, s.opts.MaxIterations)
	}
	// Reduce the equality-constrained QP to NNLS on the augmented system
	// [A; w·1ᵀ]x ≅ [b; w]: the heavily weighted ones-row pins Σx to 1, and the
	// enforcer's exact renormalization removes the residual slack.
	m, k := ref.Dims()
	aug := mat.NewDense(m+1, k, nil)
	aug.Slice(0, m, 0, k).(*mat.Dense).Copy(ref)
	for j := 0; j < k; j++ {
		aug.Set(m, j, sumWeight)
	}
	bAug := make([]float64, m+1)
	copy(bAug, target)
	bAug[m] = sumWeight

	x, _, err := nnls(aug, bAug, s.opts.MaxIterations)
	if err != nil {
		return nil, 0, err
	}
	return x, norm2Diff(ref, x, target), nil
}

// ridgeSolve retries as unconstrained regularized least squares,
// (AᵀA + εI)x = Aᵀb, escalating ε until the normal equations become solvable,
// with a final elementwise max(x, 0) clip.
func (s *LinearSolver) ridgeSolve(ref *mat.Dense, target []float64) ([]float64, float64, float64, error) {
	_, k := ref.Dims()

	var hess mat.SymDense
	hess.SymOuterK(1, ref.T())

	grad := make([]float64, k)
	for j := 0; j < k; j++ {
		grad[j] = columnDot(ref, j, target)
	}

	var lastErr error
	for _, eps := range s.opts.RidgeEpsilons {
		reg := mat.NewSymDense(k, nil)
		reg.CopySym(&hess)
		for j := 0; j < k; j++ {
			reg.SetSym(j, j, reg.At(j, j)+eps)
		}

		var chol mat.Cholesky
		if !chol.Factorize(reg) {
			lastErr = fmt.Errorf("deconv: ridge hessian not positive definite at eps=%g", eps)
			continue
		}
		var sol mat.VecDense
		if err := chol.SolveVecTo(&sol, mat.NewVecDense(k, grad)); err != nil {
			lastErr = fmt.Errorf("deconv: ridge solve failed at eps=%g: %w", eps, err)
			continue
		}

		x := make([]float64, k)
		for j := 0; j < k; j++ {
			x[j] = max(sol.AtVec(j), 0)
		}
		return x, norm2Diff(ref, x, target), eps, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("deconv: no ridge penalties configured")
	}
	return nil, 0, 0, lastErr
}

// meanProfile is the terminal fallback: the per-cell-type mean of the
// reference, normalized to sum 1. Defined for any non-empty reference.
func meanProfile(ref *mat.Dense) []float64 {
	m, k := ref.Dims()
	x := make([]float64, k)
	for j := 0; j < k; j++ {
		s := 0.0
		for i := 0; i < m; i++ {
			s += ref.At(i, j)
		}
		x[j] = s / float64(m)
	}
	if sum := floats.Sum(x); sum > 0 {
		floats.Scale(1/sum, x)
	} else {
		// All-zero reference columns: fall back to uniform.
		for j := range x {
			x[j] = 1 / float64(k)
		}
	}
	return x
}

// finish applies the constraint enforcer and records telemetry.
func (s *LinearSolver) finish(r SolverResult) SolverResult {
	if r.Diagnostic.Skipped {
		return r
	}
	out, valid := s.enforcer.Apply(r.Coefficients)
	r.Coefficients = out
	if !valid {
		r.Valid = false
		r.Diagnostic.Note = "all coefficients below threshold"
		s.metrics.CountInvalid()
	}
	r.Diagnostic.Valid = r.Valid
	s.metrics.CountSolve(r.Diagnostic.Strategy.String(), r.Diagnostic.Tier.String())
	return r
}

func isAllZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// norm2Diff returns ||A·x − b||₂.
func norm2Diff(a *mat.Dense, x, b []float64) float64 {
	m, _ := a.Dims()
	r := make([]float64, m)
	computeResidual(a, x, b, r)
	return norm2(r)
}
