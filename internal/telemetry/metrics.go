package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the Prometheus metrics for a deconvolution run. All hooks are
// nil-safe so library callers can pass no registry at all.
type Registry struct {
	SolvesTotal       *prometheus.CounterVec
	FallbacksTotal    *prometheus.CounterVec
	InvalidSamples    prometheus.Counter
	SkippedSamples    prometheus.Counter
	StrategySelected  *prometheus.CounterVec
	StrategyExcluded  *prometheus.CounterVec
	SolveDuration     *prometheus.HistogramVec
	RefinerIterations prometheus.Histogram
}

// NewRegistry creates the metric set and registers it with reg. Passing nil
// registers against the default registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Registry{
		SolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celldecon_solves_total",
				Help: "Per-sample solves by strategy and fallback tier",
			},
			[]string{"strategy", "tier"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celldecon_fallbacks_total",
				Help: "Fallback-tier transitions during solving",
			},
			[]string{"tier"},
		),
		InvalidSamples: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "celldecon_invalid_samples_total",
				Help: "Samples flagged invalid (all-zero after constraints)",
			},
		),
		SkippedSamples: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "celldecon_skipped_samples_total",
				Help: "Degenerate samples skipped before solving",
			},
		),
		StrategySelected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celldecon_strategy_selected_total",
				Help: "Winning strategy per ensemble run",
			},
			[]string{"strategy"},
		),
		StrategyExcluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celldecon_strategy_excluded_total",
				Help: "Strategies excluded from selection after a failure",
			},
			[]string{"strategy"},
		),
		SolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "celldecon_strategy_duration_seconds",
				Help:    "Wall time of a full strategy pass over all samples",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"strategy"},
		),
		RefinerIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "celldecon_refiner_iterations",
				Help:    "Iterations used by the reweighted refiner per sample",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
			},
		),
	}
	reg.MustRegister(
		r.SolvesTotal, r.FallbacksTotal, r.InvalidSamples, r.SkippedSamples,
		r.StrategySelected, r.StrategyExcluded, r.SolveDuration, r.RefinerIterations,
	)
	return r
}

// CountSolve records a completed per-sample solve.
func (r *Registry) CountSolve(strategy, tier string) {
	if r == nil {
		return
	}
	r.SolvesTotal.WithLabelValues(strategy, tier).Inc()
}

// CountFallback records a fallback-tier transition.
func (r *Registry) CountFallback(tier string) {
	if r == nil {
		return
	}
	r.FallbacksTotal.WithLabelValues(tier).Inc()
}

// CountInvalid records a sample flagged invalid.
func (r *Registry) CountInvalid() {
	if r == nil {
		return
	}
	r.InvalidSamples.Inc()
}

// CountSkipped records a degenerate sample skipped before solving.
func (r *Registry) CountSkipped() {
	if r == nil {
		return
	}
	r.SkippedSamples.Inc()
}

// CountSelected records the ensemble's winning strategy.
func (r *Registry) CountSelected(strategy string) {
	if r == nil {
		return
	}
	r.StrategySelected.WithLabelValues(strategy).Inc()
}

// CountExcluded records a strategy dropped from selection.
func (r *Registry) CountExcluded(strategy string) {
	if r == nil {
		return
	}
	r.StrategyExcluded.WithLabelValues(strategy).Inc()
}

// ObserveStrategyDuration records the wall time of one strategy pass.
func (r *Registry) ObserveStrategyDuration(strategy string, seconds float64) {
	if r == nil {
		return
	}
	r.SolveDuration.WithLabelValues(strategy).Observe(seconds)
}

// ObserveRefinerIterations records the iteration count of one refinement.
func (r *Registry) ObserveRefinerIterations(n int) {
	if r == nil {
		return
	}
	r.RefinerIterations.Observe(float64(n))
}
