// Package deconv implements the constrained linear-inverse solver layer for
// bulk-sample cell-type deconvolution: non-negative (optionally sum-to-one)
// least-squares strategies, residual-reweighted refinement, joint
// factorization, ensemble selection among them, and reconstruction-quality
// evaluation.
package deconv

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Canonical orientations, fixed at the type level:
//   - ReferenceMatrix and MixtureMatrix are features x entities.
//   - ProportionsMatrix is samples x cell types, each row a composition.
// Conversions happen only at the boundary, never inside a solve.

var (
	// ErrDimensionMismatch indicates reference and mixture disagree on features,
	// or a proportions matrix does not line up with its inputs. Surfaced before
	// any solving begins.
	ErrDimensionMismatch = errors.New("deconv: dimension mismatch")

	// ErrEmptyInput indicates a reference or mixture with no usable content
	// (zero rows, zero columns, or all-zero reference).
	ErrEmptyInput = errors.New("deconv: empty input")

	// ErrNoComparison indicates ground-truth comparison was requested but no
	// common cell types or samples could be reconciled. Recoverable: ground
	// truth is optional context, not a required input.
	ErrNoComparison = errors.New("deconv: no comparison possible")
)

// ReferenceMatrix holds per-cell-type signature profiles, features x cell types.
// Immutable input to a solve; the core never mutates it.
type ReferenceMatrix struct {
	Features  []string
	CellTypes []string
	Data      *mat.Dense
}

// NewReferenceMatrix validates label uniqueness and shape before wrapping the data.
func NewReferenceMatrix(features, cellTypes []string, data *mat.Dense) (*ReferenceMatrix, error) {
	r, c := data.Dims()
	if r != len(features) || c != len(cellTypes) {
		return nil, fmt.Errorf("%w: reference is %dx%d but has %d feature and %d cell-type labels",
			ErrDimensionMismatch, r, c, len(features), len(cellTypes))
	}
	if err := requireUnique("feature", features); err != nil {
		return nil, err
	}
	if err := requireUnique("cell type", cellTypes); err != nil {
		return nil, err
	}
	return &ReferenceMatrix{Features: features, CellTypes: cellTypes, Data: data}, nil
}

// NumFeatures returns the row count.
func (r *ReferenceMatrix) NumFeatures() int { return len(r.Features) }

// NumCellTypes returns the column count.
func (r *ReferenceMatrix) NumCellTypes() int { return len(r.CellTypes) }

// MixtureMatrix holds bulk measurements, features x samples, feature order
// identical to the reference (caller-enforced, checked by CheckAligned).
type MixtureMatrix struct {
	Features []string
	Samples  []string
	Data     *mat.Dense
}

// NewMixtureMatrix validates label uniqueness and shape before wrapping the data.
func NewMixtureMatrix(features, samples []string, data *mat.Dense) (*MixtureMatrix, error) {
	r, c := data.Dims()
	if r != len(features) || c != len(samples) {
		return nil, fmt.Errorf("%w: mixture is %dx%d but has %d feature and %d sample labels",
			ErrDimensionMismatch, r, c, len(features), len(samples))
	}
	if err := requireUnique("feature", features); err != nil {
		return nil, err
	}
	if err := requireUnique("sample", samples); err != nil {
		return nil, err
	}
	return &MixtureMatrix{Features: features, Samples: samples, Data: data}, nil
}

// NumSamples returns the column count.
func (m *MixtureMatrix) NumSamples() int { return len(m.Samples) }

// Sample returns a copy of the column for one sample.
func (m *MixtureMatrix) Sample(j int) []float64 {
	col := make([]float64, len(m.Features))
	mat.Col(col, j, m.Data)
	return col
}

// ProportionsMatrix holds estimated compositions, samples x cell types.
// Rows of solved samples sum to 1 when sum-to-one mode is active; invalid
// samples carry an all-zero row.
type ProportionsMatrix struct {
	Samples   []string
	CellTypes []string
	Data      *mat.Dense
}

// NewProportionsMatrix allocates a zeroed samples x cell-types matrix.
func NewProportionsMatrix(samples, cellTypes []string) *ProportionsMatrix {
	return &ProportionsMatrix{
		Samples:   samples,
		CellTypes: cellTypes,
		Data:      mat.NewDense(len(samples), len(cellTypes), nil),
	}
}

// Row returns a copy of one sample's composition.
func (p *ProportionsMatrix) Row(i int) []float64 {
	row := make([]float64, len(p.CellTypes))
	mat.Row(row, i, p.Data)
	return row
}

// SetRow writes one sample's composition. Each sample writes only its own row,
// which is what makes per-sample parallel solving race-free.
func (p *ProportionsMatrix) SetRow(i int, coef []float64) {
	p.Data.SetRow(i, coef)
}

// CheckAligned verifies the reference/mixture precondition: same feature count
// and identical feature order. Violations are fatal before any solve.
func CheckAligned(ref *ReferenceMatrix, mix *MixtureMatrix) error {
	if len(ref.Features) != len(mix.Features) {
		return fmt.Errorf("%w: reference has %d features, mixture has %d",
			ErrDimensionMismatch, len(ref.Features), len(mix.Features))
	}
	for i, f := range ref.Features {
		if mix.Features[i] != f {
			return fmt.Errorf("%w: feature order diverges at index %d (%q vs %q)",
				ErrDimensionMismatch, i, f, mix.Features[i])
		}
	}
	if ref.NumFeatures() == 0 || ref.NumCellTypes() == 0 {
		return fmt.Errorf("%w: reference has no content", ErrEmptyInput)
	}
	if mix.NumSamples() == 0 {
		return fmt.Errorf("%w: mixture has no samples", ErrEmptyInput)
	}
	return nil
}

// FallbackTier identifies which rung of the solver fallback chain produced a result.
type FallbackTier int

const (
	// TierPrimary is the requested constrained solve.
	TierPrimary FallbackTier = iota
	// TierRidge is the ridge-regularized least-squares retry with a
	// non-negativity clip.
	TierRidge
	// TierMeanProfile is the last-resort normalized mean reference profile,
	// a clearly flagged low-confidence default.
	TierMeanProfile
)

// String implements fmt.Stringer.
func (t FallbackTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierRidge:
		return "ridge"
	case TierMeanProfile:
		return "mean_profile"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Diagnostic records how a sample's coefficients were produced. Every fallback
// transition and skip is observable here, never silently absorbed.
type Diagnostic struct {
	Strategy     Strategy     `json:"strategy"`
	Tier         FallbackTier `json:"tier"`
	Valid        bool         `json:"valid"`
	Skipped      bool         `json:"skipped,omitempty"`
	ResidualNorm float64      `json:"residual_norm"`
	Iterations   int          `json:"iterations,omitempty"`
	Converged    bool         `json:"converged,omitempty"`
	RidgeEpsilon float64      `json:"ridge_epsilon,omitempty"`
	Note         string       `json:"note,omitempty"`
}

// SolverResult is the per-sample outcome of a solve.
type SolverResult struct {
	Coefficients []float64
	Valid        bool
	Diagnostic   Diagnostic
}

// skippedResult is the sentinel substituted for degenerate inputs: an all-zero
// coefficient vector flagged invalid, so the batch continues.
func skippedResult(strategy Strategy, k int, note string) SolverResult {
	return SolverResult{
		Coefficients: make([]float64, k),
		Valid:        false,
		Diagnostic:   Diagnostic{Strategy: strategy, Skipped: true, Note: note},
	}
}

// Optional is a float that may be undefined (e.g. R-squared when the total sum
// of squares is zero). Undefined values are reported as missing, never as NaN
// or Inf leaking into downstream joins.
type Optional struct {
	Value   float64
	Defined bool
}

// Some wraps a defined value.
func Some(v float64) Optional { return Optional{Value: v, Defined: true} }

// None is the undefined value.
func None() Optional { return Optional{} }

func requireUnique(kind string, labels []string) error {
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if _, dup := seen[l]; dup {
			return fmt.Errorf("%w: duplicate %s label %q", ErrDimensionMismatch, kind, l)
		}
		seen[l] = struct{}{}
	}
	return nil
}
