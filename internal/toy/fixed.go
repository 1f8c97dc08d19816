package toy

import (
	"context"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Call records the arguments of one forward call.
type Call struct {
	Tokens   [][]int
	CacheIDs []int
	StartIDs []int
}

// Fixed returns the same score row for every sequence on every call.
type Fixed struct {
	Scores []float64

	mu    sync.Mutex
	calls []Call
}

func NewFixed(scores ...float64) *Fixed {
	return &Fixed{Scores: scores}
}

func (f *Fixed) Forward(_ context.Context, tokens [][]int, cacheIDs []int, startIDs []int) ([][]float64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{
		Tokens:   cloneRows(tokens),
		CacheIDs: slices.Clone(cacheIDs),
		StartIDs: slices.Clone(startIDs),
	})
	f.mu.Unlock()

	out := make([][]float64, len(tokens))
	for i := range out {
		out[i] = slices.Clone(f.Scores)
	}
	return out, nil
}

// Calls returns the recorded forward calls in order.
func (f *Fixed) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// ScoreModel is the scoring contract Greedy wraps.
type ScoreModel interface {
	Forward(ctx context.Context, tokens [][]int, cacheIDs []int, startIDs []int) ([][]float64, error)
}

// Greedy turns a scoring model into one that selects its own tokens: it
// returns the argmax of every row as a B×1 column.
type Greedy struct {
	Model ScoreModel
}

func (g Greedy) Forward(ctx context.Context, tokens [][]int, cacheIDs []int, startIDs []int) ([][]int, error) {
	scores, err := g.Model.Forward(ctx, tokens, cacheIDs, startIDs)
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(scores))
	for i, row := range scores {
		out[i] = []int{floats.MaxIdx(row)}
	}
	return out, nil
}

// SetInferenceMode forwards to the wrapped model when it supports it.
func (g Greedy) SetInferenceMode(on bool) bool {
	if im, ok := g.Model.(interface{ SetInferenceMode(bool) bool }); ok {
		return im.SetInferenceMode(on)
	}
	return false
}

func cloneRows(rows [][]int) [][]int {
	out := make([][]int, len(rows))
	for i, r := range rows {
		out[i] = slices.Clone(r)
	}
	return out
}
