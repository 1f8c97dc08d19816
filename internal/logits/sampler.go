package logits

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// StepConfig configures a single Sampler.Step.
type StepConfig struct {
	// Temperature divides the scores before filtering. Scores are left
	// untouched when it is exactly 1.
	Temperature float64
	TopK        *int
	TopP        *float64
	// MinTokensToKeep defaults to 1 when nil.
	MinTokensToKeep *int
	// Mask lists vocabulary ids forced to -Inf before filtering.
	Mask []int
}

// Sampler draws token ids from filtered score rows. The random source is
// supplied by the caller so runs can be reproduced. A Sampler is not safe
// for concurrent use.
type Sampler struct {
	src rand.Source
}

// NewSampler returns a sampler backed by a PCG source derived from seed.
func NewSampler(seed uint64) *Sampler {
	return NewSamplerFromSource(rand.NewPCG(seed, seed^0x9E3779B9))
}

// NewSamplerFromSource returns a sampler drawing from src.
func NewSamplerFromSource(src rand.Source) *Sampler {
	return &Sampler{src: src}
}

// Policy is a StepConfig that passed validation. Build one with Prepare
// once per generation call and reuse it for every step.
type Policy struct {
	cfg     StepConfig
	minKeep int
	ok      bool
}

// Prepare validates cfg and returns the policy Sample runs with.
func (cfg StepConfig) Prepare() (Policy, error) {
	if err := ValidateTemperature(cfg.Temperature); err != nil {
		return Policy{}, err
	}
	minKeep := 1
	if cfg.MinTokensToKeep != nil {
		minKeep = *cfg.MinTokensToKeep
	}
	if err := Validate(Params{TopK: cfg.TopK, TopP: cfg.TopP, MinTokensToKeep: &minKeep}); err != nil {
		return Policy{}, err
	}
	// Detach from caller-owned memory.
	if cfg.TopK != nil {
		cfg.TopK = Int(*cfg.TopK)
	}
	if cfg.TopP != nil {
		cfg.TopP = Float(*cfg.TopP)
	}
	cfg.MinTokensToKeep = nil
	cfg.Mask = slices.Clone(cfg.Mask)
	return Policy{cfg: cfg, minKeep: minKeep, ok: true}, nil
}

// Step validates cfg and selects the next token for every row of scores.
// Loops should Prepare once and call Sample instead.
func (s *Sampler) Step(scores [][]float64, cfg StepConfig) ([]int, error) {
	p, err := cfg.Prepare()
	if err != nil {
		return nil, err
	}
	return s.Sample(scores, p)
}

// Sample selects the next token for every row of scores and returns them as
// a column, one id per row. The scores are copied first; the caller's
// matrix is never mutated.
func (s *Sampler) Sample(scores [][]float64, p Policy) ([]int, error) {
	if !p.ok {
		return nil, fmt.Errorf("%w: policy was not prepared", ErrInvalidParameter)
	}
	vocab, err := Width(scores)
	if err != nil {
		return nil, err
	}
	cfg := p.cfg

	work := make([][]float64, len(scores))
	for i, row := range scores {
		work[i] = slices.Clone(row)
		if cfg.Temperature != 1 {
			floats.Scale(1/cfg.Temperature, work[i])
		}
		for _, id := range cfg.Mask {
			if id >= 0 && id < vocab {
				work[i][id] = math.Inf(-1)
			}
		}
	}

	f, err := filter(work, cfg.TopK, cfg.TopP, p.minKeep)
	if err != nil {
		return nil, err
	}

	next := make([]int, len(f.Scores))
	for i, row := range f.Scores {
		pos, err := s.draw(Softmax(nil, row))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		next[i] = f.Indices[i][pos]
	}
	return next, nil
}

// draw picks one position from probs, proportionally to its mass.
func (s *Sampler) draw(probs []float64) (int, error) {
	if len(probs) == 0 {
		return 0, ErrNoCandidates
	}
	sum := floats.Sum(probs)
	if sum <= 0 || math.IsNaN(sum) {
		return 0, ErrNoCandidates
	}
	pos := int(distuv.NewCategorical(probs, s.src).Rand())
	// A zero-mass slot can only come back on a boundary draw of exactly 0.
	if probs[pos] == 0 {
		pos = floats.MaxIdx(probs)
	}
	return pos, nil
}

// Argmax returns the highest-scoring vocabulary id of every row. Ties go to
// the lowest id.
func Argmax(scores [][]float64) ([]int, error) {
	if _, err := Width(scores); err != nil {
		return nil, err
	}
	next := make([]int, len(scores))
	for i, row := range scores {
		next[i] = floats.MaxIdx(row)
	}
	return next, nil
}
