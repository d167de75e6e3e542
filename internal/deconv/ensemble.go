package deconv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/celldecon/celldecon/internal/telemetry"
)

// EnsembleConfig configures a multi-strategy run.
type EnsembleConfig struct {
	// Strategies to run, in order. Empty means DefaultStrategyOrder.
	Strategies []Strategy
	// Workers bounds per-sample parallelism within a strategy. <= 1 is
	// sequential.
	Workers int
	// TimeBudget, when positive, caps the whole strategy loop; strategies not
	// started before it expires are reported as skipped.
	TimeBudget time.Duration

	Solve SolveOptions

	RefineIterations int
	RefineTolerance  float64

	FactorizeIterations int
	FactorizeTolerance  float64
}

// StrategyStatus classifies how a strategy fared within an ensemble run.
type StrategyStatus string

const (
	// StatusCompleted means the strategy produced a full proportions matrix.
	StatusCompleted StrategyStatus = "completed"
	// StatusExcluded means the strategy failed and was dropped from selection.
	StatusExcluded StrategyStatus = "excluded"
	// StatusSkipped means the time budget expired before the strategy started.
	StatusSkipped StrategyStatus = "skipped"
)

// StrategyOutcome reports one strategy's fate, including its score when ground
// truth was available.
type StrategyOutcome struct {
	Strategy     Strategy       `json:"strategy"`
	Status       StrategyStatus `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	ValidSamples int            `json:"valid_samples"`
	MeanR2       Optional       `json:"mean_r2"`
	Duration     time.Duration  `json:"duration"`
}

// EnsembleResult is the full outcome of an ensemble run: the winning
// proportions plus per-sample provenance and per-strategy reporting.
type EnsembleResult struct {
	RunID       string
	Proportions *ProportionsMatrix
	Chosen      Strategy
	// ChosenByTruth is true when the winner was picked by ground-truth score
	// rather than priority order.
	ChosenByTruth bool
	// LastResort is true when no strategy produced output and the terminal
	// ridge-with-clipping method filled in the result.
	LastResort  bool
	Outcomes    []StrategyOutcome
	Diagnostics []Diagnostic
	Metrics     []FitMetrics
}

// strategyRunner produces a full proportions matrix plus per-sample
// diagnostics for one strategy.
type strategyRunner func(ctx context.Context, ref *ReferenceMatrix, mix *MixtureMatrix) (*ProportionsMatrix, []Diagnostic, error)

// EnsembleSelector runs several solver strategies over the same input and
// selects the best-performing output: by mean R-squared against ground truth
// when available, otherwise by fixed priority order. A failing strategy is
// excluded, never fatal.
type EnsembleSelector struct {
	cfg     EnsembleConfig
	metrics *telemetry.Registry
	runners map[Strategy]strategyRunner
}

// NewEnsembleSelector builds a selector; metrics may be nil.
func NewEnsembleSelector(cfg EnsembleConfig, metrics *telemetry.Registry) *EnsembleSelector {
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = append([]Strategy(nil), DefaultStrategyOrder...)
	}
	es := &EnsembleSelector{cfg: cfg, metrics: metrics}
	es.runners = map[Strategy]strategyRunner{
		StrategyNNLS:          es.runPerSample(StrategyNNLS),
		StrategyQP:            es.runPerSample(StrategyQP),
		StrategyReweighted:    es.runReweighted,
		StrategyFactorization: es.runFactorization,
	}
	return es
}

// Run executes every configured strategy and returns the winner. truth is
// optional and must already be reconciled to mix's sample order and ref's
// cell-type order (the truth package's concern); pass nil when absent.
// As long as the reference has a non-zero column and the mixture a non-zero
// sample, Run never returns an empty result.
func (es *EnsembleSelector) Run(ctx context.Context, ref *ReferenceMatrix, mix *MixtureMatrix, truth *ProportionsMatrix) (*EnsembleResult, error) {
	if err := CheckAligned(ref, mix); err != nil {
		return nil, err
	}
	if truth != nil {
		tr, tc := truth.Data.Dims()
		if tr != mix.NumSamples() || tc != ref.NumCellTypes() {
			return nil, fmt.Errorf("%w: ground truth is %dx%d, expected %dx%d",
				ErrDimensionMismatch, tr, tc, mix.NumSamples(), ref.NumCellTypes())
		}
	}

	if es.cfg.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, es.cfg.TimeBudget)
		defer cancel()
	}

	result := &EnsembleResult{RunID: uuid.NewString()}

	var candidates []candidate

	for _, strategy := range es.cfg.Strategies {
		if err := ctx.Err(); err != nil {
			result.Outcomes = append(result.Outcomes, StrategyOutcome{
				Strategy: strategy,
				Status:   StatusSkipped,
				Reason:   "time budget exceeded",
			})
			log.Warn().Str("strategy", strategy.String()).Msg("time budget exceeded, strategy skipped")
			continue
		}

		start := time.Now()
		props, diags, err := es.runSafely(ctx, strategy, ref, mix)
		elapsed := time.Since(start)
		es.metrics.ObserveStrategyDuration(strategy.String(), elapsed.Seconds())

		if err != nil {
			result.Outcomes = append(result.Outcomes, StrategyOutcome{
				Strategy: strategy,
				Status:   StatusExcluded,
				Reason:   err.Error(),
				Duration: elapsed,
			})
			es.metrics.CountExcluded(strategy.String())
			log.Warn().Str("strategy", strategy.String()).Err(err).Msg("strategy excluded from selection")
			continue
		}

		c := candidate{strategy: strategy, props: props, diags: diags}
		for _, d := range diags {
			if d.Valid {
				c.valid++
			}
		}
		if truth != nil {
			if cmp, cmpErr := CompareProportions(props, truth); cmpErr == nil {
				c.truthScore = MeanR2(cmp)
			}
		}
		candidates = append(candidates, c)
		result.Outcomes = append(result.Outcomes, StrategyOutcome{
			Strategy:     strategy,
			Status:       StatusCompleted,
			ValidSamples: c.valid,
			MeanR2:       c.truthScore,
			Duration:     elapsed,
		})
	}

	chosen := selectCandidate(candidates)
	if chosen == nil {
		// Last resort: ridge-regularized least squares with clipping over all
		// samples. Guarantees a non-empty result for non-degenerate input.
		props, diags := es.lastResort(ref, mix)
		result.Proportions = props
		result.Diagnostics = diags
		result.Chosen = StrategyNNLS
		result.LastResort = true
		log.Warn().Msg("no strategy produced output, using last-resort ridge solve")
	} else {
		result.Proportions = chosen.props
		result.Diagnostics = chosen.diags
		result.Chosen = chosen.strategy
		result.ChosenByTruth = chosen.truthScore.Defined
	}
	es.metrics.CountSelected(result.Chosen.String())

	if metrics, err := EvaluateReconstruction(ref, mix, result.Proportions); err == nil {
		result.Metrics = metrics
	}
	log.Info().
		Str("run_id", result.RunID).
		Str("chosen", result.Chosen.String()).
		Bool("by_truth", result.ChosenByTruth).
		Bool("last_resort", result.LastResort).
		Msg("ensemble selection complete")
	return result, nil
}

// candidate is one strategy's completed output awaiting selection.
type candidate struct {
	strategy   Strategy
	props      *ProportionsMatrix
	diags      []Diagnostic
	valid      int
	truthScore Optional
}

// selectCandidate implements the selection policy: max truth score when any
// candidate has one, else priority order among candidates with valid samples.
func selectCandidate(candidates []candidate) *candidate {
	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if !c.truthScore.Defined {
			continue
		}
		if best == nil || c.truthScore.Value > best.truthScore.Value {
			best = c
		}
	}
	if best != nil {
		return best
	}
	for i := range candidates {
		c := &candidates[i]
		if c.valid == 0 {
			continue
		}
		if best == nil || priorityRank(c.strategy) < priorityRank(best.strategy) {
			best = c
		}
	}
	return best
}

// runSafely isolates a strategy run, converting panics into exclusion errors.
func (es *EnsembleSelector) runSafely(ctx context.Context, strategy Strategy, ref *ReferenceMatrix, mix *MixtureMatrix) (props *ProportionsMatrix, diags []Diagnostic, err error) {
	runner, ok := es.runners[strategy]
	if !ok {
		return nil, nil, fmt.Errorf("deconv: no runner for strategy %s", strategy)
	}
	defer func() {
		if r := recover(); r != nil {
			props, diags = nil, nil
			err = fmt.Errorf("deconv: strategy %s panicked: %v", strategy, r)
		}
	}()
	return runner(ctx, ref, mix)
}

// runPerSample builds the runner shared by the NNLS and QP strategies: one
// LinearSolver call per mixture sample.
func (es *EnsembleSelector) runPerSample(strategy Strategy) strategyRunner {
	return func(ctx context.Context, ref *ReferenceMatrix, mix *MixtureMatrix) (*ProportionsMatrix, []Diagnostic, error) {
		opts := es.cfg.Solve
		opts.SumToOne = strategy == StrategyQP
		solver := NewLinearSolver(opts, es.metrics)

		props := NewProportionsMatrix(mix.Samples, ref.CellTypes)
		diags := make([]Diagnostic, mix.NumSamples())
		err := forEachSample(ctx, mix.NumSamples(), es.cfg.Workers, func(j int) error {
			res := solver.solveAs(strategy, ref.Data, mix.Sample(j))
			props.SetRow(j, res.Coefficients)
			diags[j] = res.Diagnostic
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return props, diags, nil
	}
}

// runReweighted is the iterative residual-reweighted strategy.
func (es *EnsembleSelector) runReweighted(ctx context.Context, ref *ReferenceMatrix, mix *MixtureMatrix) (*ProportionsMatrix, []Diagnostic, error) {
	solver := NewLinearSolver(es.cfg.Solve, es.metrics)
	refiner := NewIterativeRefiner(solver, es.cfg.RefineIterations, es.cfg.RefineTolerance, es.metrics)

	props := NewProportionsMatrix(mix.Samples, ref.CellTypes)
	diags := make([]Diagnostic, mix.NumSamples())
	err := forEachSample(ctx, mix.NumSamples(), es.cfg.Workers, func(j int) error {
		res := refiner.Refine(ref.Data, mix.Sample(j))
		props.SetRow(j, res.Coefficients)
		diags[j] = res.Diagnostic
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return props, diags, nil
}

// runFactorization solves all samples jointly, then pushes each column through
// the constraint enforcer.
func (es *EnsembleSelector) runFactorization(ctx context.Context, ref *ReferenceMatrix, mix *MixtureMatrix) (*ProportionsMatrix, []Diagnostic, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	h, iters, converged, err := factorize(ref.Data, mix.Data, es.cfg.FactorizeIterations, es.cfg.FactorizeTolerance)
	if err != nil {
		return nil, nil, err
	}

	enforcer := ConstraintEnforcer{MinFraction: es.cfg.Solve.MinFraction}
	props := NewProportionsMatrix(mix.Samples, ref.CellTypes)
	diags := make([]Diagnostic, mix.NumSamples())
	k := ref.NumCellTypes()
	col := make([]float64, k)
	for j := 0; j < mix.NumSamples(); j++ {
		if isAllZero(mix.Sample(j)) {
			res := skippedResult(StrategyFactorization, k, "all-zero sample")
			props.SetRow(j, res.Coefficients)
			diags[j] = res.Diagnostic
			es.metrics.CountSkipped()
			continue
		}
		mat.Col(col, j, h)
		out, valid := enforcer.Apply(col)
		props.SetRow(j, out)
		diags[j] = Diagnostic{
			Strategy:     StrategyFactorization,
			Tier:         TierPrimary,
			Valid:        valid,
			Iterations:   iters,
			Converged:    converged,
			ResidualNorm: norm2Diff(ref.Data, out, mix.Sample(j)),
		}
		if !valid {
			diags[j].Note = "all coefficients below threshold"
			es.metrics.CountInvalid()
		}
		es.metrics.CountSolve(StrategyFactorization.String(), TierPrimary.String())
	}
	return props, diags, nil
}

// lastResort fills every sample with the ridge-with-clipping tier directly.
func (es *EnsembleSelector) lastResort(ref *ReferenceMatrix, mix *MixtureMatrix) (*ProportionsMatrix, []Diagnostic) {
	solver := NewLinearSolver(es.cfg.Solve, es.metrics)
	props := NewProportionsMatrix(mix.Samples, ref.CellTypes)
	diags := make([]Diagnostic, mix.NumSamples())
	for j := 0; j < mix.NumSamples(); j++ {
		target := mix.Sample(j)
		if isAllZero(target) {
			res := skippedResult(StrategyNNLS, ref.NumCellTypes(), "all-zero sample")
			props.SetRow(j, res.Coefficients)
			diags[j] = res.Diagnostic
			continue
		}
		x, rnorm, eps, err := solver.ridgeSolve(ref.Data, target)
		if err != nil {
			x = meanProfile(ref.Data)
			rnorm = norm2Diff(ref.Data, x, target)
			eps = 0
		}
		out, valid := solver.enforcer.Apply(x)
		props.SetRow(j, out)
		diags[j] = Diagnostic{
			Strategy:     StrategyNNLS,
			Tier:         TierRidge,
			Valid:        valid,
			ResidualNorm: rnorm,
			RidgeEpsilon: eps,
			Note:         "last resort",
		}
		if !valid {
			diags[j].Note = "last resort: all coefficients below threshold"
		}
	}
	return props, diags
}
