package logits

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidParameter is returned (wrapped) for illegal sampling hyperparameters.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrShape is returned (wrapped) when a token or score matrix is ragged or empty.
	ErrShape = errors.New("invalid shape")
	// ErrNoCandidates is returned when a row has no probability mass left to draw from.
	ErrNoCandidates = errors.New("no candidates to sample")
)

// Params holds the optional filtering hyperparameters. A nil field means
// "not provided" and skips both its check and its filter.
type Params struct {
	TopK            *int
	TopP            *float64
	MinTokensToKeep *int
}

// Validate checks hyperparameter legality. It is meant to run once per
// generation call, before the model is invoked.
func Validate(p Params) error {
	if p.TopK != nil && *p.TopK <= 0 {
		return fmt.Errorf("%w: top_k has to be a strictly positive int, got %d", ErrInvalidParameter, *p.TopK)
	}
	if p.TopP != nil && (math.IsNaN(*p.TopP) || *p.TopP <= 0 || *p.TopP > 1) {
		return fmt.Errorf("%w: top_p has to be in (0, 1], got %v", ErrInvalidParameter, *p.TopP)
	}
	if p.MinTokensToKeep != nil && *p.MinTokensToKeep < 0 {
		return fmt.Errorf("%w: min_tokens_to_keep has to be a non-negative int, got %d", ErrInvalidParameter, *p.MinTokensToKeep)
	}
	return nil
}

// ValidateTemperature rejects non-positive, NaN and infinite temperatures.
func ValidateTemperature(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
		return fmt.Errorf("%w: temperature has to be a strictly positive float, got %v", ErrInvalidParameter, t)
	}
	return nil
}

// Int returns a pointer to v, for optional parameters.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for optional parameters.
func Float(v float64) *float64 { return &v }
