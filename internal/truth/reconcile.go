// Package truth reconciles estimated proportions with a labeled ground-truth
// matrix whose cell-type and sample identifiers rarely match exactly, and
// matches deconvolved cell-type identities against labeled reference profiles.
package truth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/celldecon/celldecon/internal/deconv"
)

// Reconcile restricts got and want to their common samples and cell types,
// returning both in identical order so they can be compared entry for entry.
//
// Identifiers are matched by exact string equality first. Cell-type labels
// then fall back to a pairwise edit-distance nearest match and sample
// identifiers to substring containment. Both fallbacks are best-effort
// heuristics that can silently mis-map labels, so every heuristic match is
// logged loudly rather than trusted.
//
// Returns deconv.ErrNoComparison when nothing can be matched: ground truth is
// optional context, and an impossible comparison is not a failure.
func Reconcile(got, want *deconv.ProportionsMatrix) (*deconv.ProportionsMatrix, *deconv.ProportionsMatrix, error) {
	cellPairs := matchLabels(got.CellTypes, want.CellTypes, nearestByEditDistance)
	if len(cellPairs) == 0 {
		return nil, nil, fmt.Errorf("%w: no common cell-type labels", deconv.ErrNoComparison)
	}
	samplePairs := matchLabels(got.Samples, want.Samples, containment)
	if len(samplePairs) == 0 {
		return nil, nil, fmt.Errorf("%w: no common sample identifiers", deconv.ErrNoComparison)
	}

	gOut := subsetProportions(got, samplePairs, cellPairs, pickA)
	wOut := subsetProportions(want, samplePairs, cellPairs, pickB)
	return gOut, wOut, nil
}

// pair maps index a in the estimated matrix to index b in the ground truth.
type pair struct{ a, b int }

func pickA(p pair) int { return p.a }
func pickB(p pair) int { return p.b }

// matchLabels pairs labels from a to labels from b: exact matches first, then
// the supplied heuristic over the leftovers. Each b label is used at most once.
func matchLabels(a, b []string, heuristic func(label string, pool []string) (int, bool)) []pair {
	usedB := make(map[int]bool, len(b))
	indexB := make(map[string]int, len(b))
	for i, l := range b {
		indexB[l] = i
	}

	var pairs []pair
	var unmatched []int
	for i, l := range a {
		if j, ok := indexB[l]; ok && !usedB[j] {
			pairs = append(pairs, pair{i, j})
			usedB[j] = true
			continue
		}
		unmatched = append(unmatched, i)
	}

	for _, i := range unmatched {
		pool := make([]string, len(b))
		for j, l := range b {
			if usedB[j] {
				pool[j] = "" // consumed
			} else {
				pool[j] = l
			}
		}
		j, ok := heuristic(a[i], pool)
		if !ok {
			continue
		}
		usedB[j] = true
		pairs = append(pairs, pair{i, j})
		log.Warn().
			Str("label", a[i]).
			Str("matched_to", b[j]).
			Msg("heuristic label match, verify mapping")
	}
	return pairs
}

// nearestByEditDistance picks the pool label with the smallest Levenshtein
// distance, requiring the distance to stay within half the shorter normalized
// length so wildly different labels are not forced together.
func nearestByEditDistance(label string, pool []string) (int, bool) {
	nl := normalizeLabel(label)
	best, bestDist := -1, 0
	bestNorm := ""
	for j, cand := range pool {
		if cand == "" {
			continue
		}
		nc := normalizeLabel(cand)
		d := levenshtein(nl, nc)
		if best < 0 || d < bestDist {
			best, bestDist, bestNorm = j, d, nc
		}
	}
	if best < 0 {
		return 0, false
	}
	limit := min(utf8.RuneCountInString(nl), utf8.RuneCountInString(bestNorm)) / 2
	if bestDist > limit {
		return 0, false
	}
	return best, true
}

// containment matches sample identifiers where one contains the other,
// tolerating prefixed or suffixed run annotations.
func containment(label string, pool []string) (int, bool) {
	l := normalizeLabel(label)
	for j, cand := range pool {
		if cand == "" {
			continue
		}
		c := normalizeLabel(cand)
		if strings.Contains(l, c) || strings.Contains(c, l) {
			return j, true
		}
	}
	return 0, false
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// levenshtein is the classic two-row edit distance.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// subsetProportions builds a new matrix restricted to the matched samples and
// cell types, ordered by the pair lists.
func subsetProportions(p *deconv.ProportionsMatrix, samplePairs, cellPairs []pair, side func(pair) int) *deconv.ProportionsMatrix {
	samples := make([]string, len(samplePairs))
	for i, sp := range samplePairs {
		samples[i] = p.Samples[side(sp)]
	}
	cells := make([]string, len(cellPairs))
	for i, cp := range cellPairs {
		cells[i] = p.CellTypes[side(cp)]
	}
	out := deconv.NewProportionsMatrix(samples, cells)
	for i, sp := range samplePairs {
		for j, cp := range cellPairs {
			out.Data.Set(i, j, p.Data.At(side(sp), side(cp)))
		}
	}
	return out
}
