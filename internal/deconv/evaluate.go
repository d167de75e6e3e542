package deconv

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// FitMetrics is the per-sample reconstruction-quality record. R-squared and
// the correlations are Optional: a constant actual vector leaves them
// undefined, reported as missing rather than NaN.
type FitMetrics struct {
	Sample   string   `json:"sample"`
	RMSE     float64  `json:"rmse"`
	MAE      float64  `json:"mae"`
	R2       Optional `json:"r2"`
	Pearson  Optional `json:"pearson"`
	Spearman Optional `json:"spearman"`
}

// EvaluateReconstruction computes per-sample fit metrics for estimated =
// reference x proportionsᵀ against the observed mixture. A correlation
// failure on one sample never aborts the batch.
func EvaluateReconstruction(ref *ReferenceMatrix, mix *MixtureMatrix, props *ProportionsMatrix) ([]FitMetrics, error) {
	if err := CheckAligned(ref, mix); err != nil {
		return nil, err
	}
	pr, pc := props.Data.Dims()
	if pr != mix.NumSamples() || pc != ref.NumCellTypes() {
		return nil, ErrDimensionMismatch
	}

	var est mat.Dense
	est.Mul(ref.Data, props.Data.T()) // features x samples

	m := ref.NumFeatures()
	out := make([]FitMetrics, mix.NumSamples())
	actual := make([]float64, m)
	fitted := make([]float64, m)
	for j := range out {
		mat.Col(actual, j, mix.Data)
		mat.Col(fitted, j, &est)
		out[j] = sampleMetrics(mix.Samples[j], fitted, actual)
	}
	return out, nil
}

// CompareProportions scores estimated proportions against a ground-truth
// matrix with identical sample and cell-type ordering (reconciliation against
// raw ground truth is the truth package's concern). Metrics are computed per
// sample across cell types.
func CompareProportions(got, want *ProportionsMatrix) ([]FitMetrics, error) {
	gr, gc := got.Data.Dims()
	wr, wc := want.Data.Dims()
	if gr != wr || gc != wc {
		return nil, ErrDimensionMismatch
	}
	out := make([]FitMetrics, gr)
	for i := 0; i < gr; i++ {
		out[i] = sampleMetrics(got.Samples[i], got.Row(i), want.Row(i))
	}
	return out, nil
}

// MeanR2 averages the defined R-squared values; undefined when no sample has one.
func MeanR2(metrics []FitMetrics) Optional {
	sum, n := 0.0, 0
	for _, m := range metrics {
		if m.R2.Defined {
			sum += m.R2.Value
			n++
		}
	}
	if n == 0 {
		return None()
	}
	return Some(sum / float64(n))
}

// sampleMetrics computes the fit record for one fitted/actual pair.
func sampleMetrics(sample string, fitted, actual []float64) FitMetrics {
	n := float64(len(actual))
	ssRes, sumAbs := 0.0, 0.0
	for i := range actual {
		d := fitted[i] - actual[i]
		ssRes += d * d
		sumAbs += math.Abs(d)
	}

	fm := FitMetrics{
		Sample: sample,
		RMSE:   math.Sqrt(ssRes / n),
		MAE:    sumAbs / n,
	}

	meanActual := stat.Mean(actual, nil)
	ssTot := 0.0
	for _, v := range actual {
		d := v - meanActual
		ssTot += d * d
	}
	// R-squared is undefined for a constant actual vector; leave it missing
	// rather than letting an Inf/NaN leak into downstream joins.
	if ssTot > 0 {
		fm.R2 = Some(1 - ssRes/ssTot)
	}

	fm.Pearson = pearson(fitted, actual)
	fm.Spearman = spearman(fitted, actual)
	return fm
}

// pearson wraps stat.Correlation, mapping the NaN produced by constant input
// to an undefined value.
func pearson(x, y []float64) Optional {
	if len(x) < 2 {
		return None()
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return None()
	}
	return Some(r)
}

// spearman is the Pearson correlation of average ranks.
func spearman(x, y []float64) Optional {
	if len(x) < 2 {
		return None()
	}
	return pearson(averageRanks(x), averageRanks(y))
}

// averageRanks assigns 1-based ranks, averaging over ties.
func averageRanks(v []float64) []float64 {
	n := len(v)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		avg := float64(i+j+2) / 2 // mean of 1-based positions i+1..j+1
		for t := i; t <= j; t++ {
			ranks[idx[t]] = avg
		}
		i = j + 1
	}
	return ranks
}
