package inference

import (
	"context"
	"fmt"
)

// Model is an incremental scorer. tokens holds the newly presented ids (B×L:
// the whole prompt on the first call, one column afterwards), cacheIDs the
// context positions those columns occupy, and startIDs optional per-sequence
// offsets for left-padded batches. It returns B×V next-token scores
// conditioned on everything submitted so far.
type Model interface {
	Forward(ctx context.Context, tokens [][]int, cacheIDs []int, startIDs []int) ([][]float64, error)
}

// TokenModel is a model that performs token selection itself and returns
// B×L chosen ids instead of scores.
type TokenModel interface {
	Forward(ctx context.Context, tokens [][]int, cacheIDs []int, startIDs []int) ([][]int, error)
}

// ModelFunc adapts a plain function to Model.
type ModelFunc func(ctx context.Context, tokens [][]int, cacheIDs []int, startIDs []int) ([][]float64, error)

func (f ModelFunc) Forward(ctx context.Context, tokens [][]int, cacheIDs []int, startIDs []int) ([][]float64, error) {
	return f(ctx, tokens, cacheIDs, startIDs)
}

// InferenceModer is implemented by models that track gradients or other
// training-only state. Entry points switch inference mode on for the whole
// call and restore the previous mode on return.
type InferenceModer interface {
	SetInferenceMode(on bool) (prev bool)
}

// inferenceScope enables inference mode on m if supported and returns the
// function restoring the prior mode.
func inferenceScope(m any) func() {
	im, ok := m.(InferenceModer)
	if !ok {
		return func() {}
	}
	prev := im.SetInferenceMode(true)
	return func() { im.SetInferenceMode(prev) }
}

// safeForward calls fn and turns a panic inside the model into an error.
func safeForward[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	return fn()
}
