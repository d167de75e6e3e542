package deconv

import "fmt"

// Strategy is the closed enumeration of solver strategies the ensemble can
// run. Keeping it closed lets the ensemble loop check exhaustiveness instead
// of dispatching on free-form method names.
type Strategy int

const (
	// StrategyNNLS is plain non-negative least squares with post-hoc
	// renormalization. Most numerically robust, first in priority order.
	StrategyNNLS Strategy = iota
	// StrategyQP adds the sum-to-one equality constraint to the non-negative
	// least-squares problem.
	StrategyQP
	// StrategyReweighted is the iterative residual-reweighted scheme seeded
	// from an NNLS solution.
	StrategyReweighted
	// StrategyFactorization solves all samples jointly by multiplicative-update
	// factorization against the fixed reference.
	StrategyFactorization

	numStrategies = iota
)

// DefaultStrategyOrder is the deterministic priority order used when no ground
// truth is available to score strategies: NNLS-class methods first.
var DefaultStrategyOrder = []Strategy{
	StrategyNNLS,
	StrategyQP,
	StrategyReweighted,
	StrategyFactorization,
}

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case StrategyNNLS:
		return "nnls"
	case StrategyQP:
		return "qp"
	case StrategyReweighted:
		return "reweighted"
	case StrategyFactorization:
		return "factorization"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config/CLI name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for s := Strategy(0); s < numStrategies; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("deconv: unknown strategy %q", name)
}

// priorityRank orders strategies for the no-ground-truth fallback. Lower is
// preferred.
func priorityRank(s Strategy) int {
	for i, p := range DefaultStrategyOrder {
		if p == s {
			return i
		}
	}
	return len(DefaultStrategyOrder)
}
