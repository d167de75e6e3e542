package deconv

import "gonum.org/v1/gonum/floats"

// ConstraintEnforcer applies the post-hoc composition constraints after every
// solve: non-negativity clipping, minimum-fraction thresholding, and
// sum-to-one renormalization. It is stateless and idempotent, used both as a
// primary step and as a safety net.
type ConstraintEnforcer struct {
	// MinFraction zeroes any coefficient below it before renormalizing.
	MinFraction float64
}

// Apply enforces the constraints in place on a copy of coef and reports
// whether the result is a valid composition. An all-zero vector after
// thresholding stays all-zero and is reported invalid.
func (e ConstraintEnforcer) Apply(coef []float64) ([]float64, bool) {
	out := make([]float64, len(coef))
	copy(out, coef)

	for i, v := range out {
		if v < 0 {
			out[i] = 0
		}
	}
	if e.MinFraction > 0 {
		for i, v := range out {
			if v < e.MinFraction {
				out[i] = 0
			}
		}
	}

	sum := floats.Sum(out)
	if sum <= 0 {
		return out, false
	}
	floats.Scale(1/sum, out)

	// Renormalization can push a surviving entry just below the threshold;
	// re-threshold once so Apply(Apply(x)) == Apply(x).
	if e.MinFraction > 0 {
		changed := false
		for i, v := range out {
			if v > 0 && v < e.MinFraction {
				out[i] = 0
				changed = true
			}
		}
		if changed {
			sum = floats.Sum(out)
			if sum <= 0 {
				return out, false
			}
			floats.Scale(1/sum, out)
		}
	}
	return out, true
}
