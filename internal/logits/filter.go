package logits

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Filtered is the result of TopKTopPFilter. Rows are dense: every row has
// the same width (the max keep count over the batch) and entries past a
// row's own keep count carry -Inf, so they get zero mass after Softmax.
type Filtered struct {
	Scores  [][]float64
	Indices [][]int // vocabulary id of each kept score
	Keep    []int   // true number of kept entries per row
}

// TopKTopPFilter restricts each row of scores to a candidate set.
//
//   - Neither topK nor topP set, or minTokensToKeep > vocab: everything is kept.
//   - topK only: the clamp(topK, minTokensToKeep, vocab) highest scores, descending.
//   - topP only: the descending prefix whose cumulative probability is <= topP,
//     clamped to [minTokensToKeep, vocab].
//   - both: topK first, then topP over the reduced pool only.
//
// Ties are broken by lower vocabulary id. scores is never modified.
func TopKTopPFilter(scores [][]float64, topK *int, topP *float64, minTokensToKeep int) (Filtered, error) {
	if err := Validate(Params{TopK: topK, TopP: topP, MinTokensToKeep: &minTokensToKeep}); err != nil {
		return Filtered{}, err
	}
	return filter(scores, topK, topP, minTokensToKeep)
}

// filter is TopKTopPFilter for parameters that were already validated.
func filter(scores [][]float64, topK *int, topP *float64, minTokensToKeep int) (Filtered, error) {
	vocab, err := Width(scores)
	if err != nil {
		return Filtered{}, err
	}

	safeSize := func(n int) int {
		return min(max(n, minTokensToKeep), vocab)
	}

	if (topK == nil && topP == nil) || minTokensToKeep > vocab {
		return identity(scores, vocab), nil
	}
	if topP == nil {
		return topKRows(scores, safeSize(*topK)), nil
	}
	pool := identity(scores, vocab)
	if topK != nil {
		pool = topKRows(scores, safeSize(*topK))
	}
	return nucleus(pool, *topP, safeSize), nil
}

// Width returns the shared row width of a score matrix.
func Width(scores [][]float64) (int, error) {
	if len(scores) == 0 {
		return 0, fmt.Errorf("%w: empty score matrix", ErrShape)
	}
	vocab := len(scores[0])
	if vocab == 0 {
		return 0, fmt.Errorf("%w: empty score row", ErrShape)
	}
	for i, row := range scores {
		if len(row) != vocab {
			return 0, fmt.Errorf("%w: score row %d has width %d, want %d", ErrShape, i, len(row), vocab)
		}
	}
	return vocab, nil
}

func identity(scores [][]float64, vocab int) Filtered {
	out := Filtered{
		Scores:  make([][]float64, len(scores)),
		Indices: make([][]int, len(scores)),
		Keep:    make([]int, len(scores)),
	}
	for i, row := range scores {
		out.Scores[i] = slices.Clone(row)
		idx := make([]int, vocab)
		for j := range idx {
			idx[j] = j
		}
		out.Indices[i] = idx
		out.Keep[i] = vocab
	}
	return out
}

// descending returns the positions of row ordered by score, highest first.
// The sort is stable so equal scores keep their positional order.
func descending(row []float64) []int {
	order := make([]int, len(row))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(row[b], row[a])
	})
	return order
}

func topKRows(scores [][]float64, k int) Filtered {
	out := Filtered{
		Scores:  make([][]float64, len(scores)),
		Indices: make([][]int, len(scores)),
		Keep:    make([]int, len(scores)),
	}
	for i, row := range scores {
		order := descending(row)[:k]
		vals := make([]float64, k)
		for j, pos := range order {
			vals[j] = row[pos]
		}
		out.Scores[i] = vals
		out.Indices[i] = order
		out.Keep[i] = k
	}
	return out
}

// nucleus applies top-p to an already gathered candidate pool. Probabilities
// are computed over the pool, not the full vocabulary.
func nucleus(pool Filtered, topP float64, safeSize func(int) int) Filtered {
	rows := len(pool.Scores)
	sorted := make([][]float64, rows)
	order := make([][]int, rows)
	keep := make([]int, rows)
	width := 0
	for i, row := range pool.Scores {
		order[i] = descending(row)
		sorted[i] = make([]float64, len(row))
		for j, pos := range order[i] {
			sorted[i][j] = row[pos]
		}
		cum := floats.CumSum(make([]float64, len(row)), Softmax(nil, sorted[i]))
		n := 0
		for _, c := range cum {
			if c <= topP {
				n++
			}
		}
		keep[i] = safeSize(n)
		width = max(width, keep[i])
	}

	out := Filtered{
		Scores:  make([][]float64, rows),
		Indices: make([][]int, rows),
		Keep:    keep,
	}
	negInf := math.Inf(-1)
	for i := range rows {
		vals := make([]float64, width)
		ids := make([]int, width)
		for j := range width {
			ids[j] = pool.Indices[i][order[i][j]]
			if j < keep[i] {
				vals[j] = sorted[i][j]
			} else {
				vals[j] = negInf
			}
		}
		out.Scores[i] = vals
		out.Indices[i] = ids
	}
	return out
}

// Softmax writes the normalised exponentials of x into dst (allocated when
// nil) and returns it. The max is subtracted first for stability; a row
// that is entirely -Inf yields all zeros.
func Softmax(dst, x []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(x))
	}
	if len(x) == 0 {
		return dst
	}
	maxv := floats.Max(x)
	if math.IsInf(maxv, -1) {
		for i := range dst {
			dst[i] = 0
		}
		return dst
	}
	for i, v := range x {
		dst[i] = math.Exp(v - maxv)
	}
	floats.Scale(1/floats.Sum(dst), dst)
	return dst
}
