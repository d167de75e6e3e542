package truth

import (
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Assignment maps one deconvolved cell type to the labeled reference cell type
// whose profile correlates with it best.
type Assignment struct {
	Deconvolved string  `json:"deconvolved"`
	Reference   string  `json:"reference"`
	Correlation float64 `json:"correlation"`
}

// MatchIdentities assigns deconvolved cell types to labeled reference cell
// types by greedy maximum Pearson correlation of their column profiles: the
// globally best pair is fixed first, then the best among the remainder, until
// one side is exhausted. Both matrices must share row dimension (features, or
// samples when matching on proportion profiles).
func MatchIdentities(deconvolved *mat.Dense, deconvolvedLabels []string, reference *mat.Dense, referenceLabels []string) []Assignment {
	rd, cd := deconvolved.Dims()
	rr, cr := reference.Dims()
	if rd != rr || cd == 0 || cr == 0 {
		return nil
	}

	type scored struct {
		d, r int
		corr float64
	}
	var all []scored
	dcol := make([]float64, rd)
	rcol := make([]float64, rr)
	for i := 0; i < cd; i++ {
		mat.Col(dcol, i, deconvolved)
		for j := 0; j < cr; j++ {
			mat.Col(rcol, j, reference)
			c := stat.Correlation(dcol, rcol, nil)
			if c != c { // NaN: constant profile
				continue
			}
			all = append(all, scored{i, j, c})
		}
	}
	sort.Slice(all, func(a, b int) bool { return all[a].corr > all[b].corr })

	usedD := make(map[int]bool, cd)
	usedR := make(map[int]bool, cr)
	var out []Assignment
	for _, s := range all {
		if usedD[s.d] || usedR[s.r] {
			continue
		}
		usedD[s.d] = true
		usedR[s.r] = true
		out = append(out, Assignment{
			Deconvolved: deconvolvedLabels[s.d],
			Reference:   referenceLabels[s.r],
			Correlation: s.corr,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Deconvolved < out[b].Deconvolved })
	return out
}
