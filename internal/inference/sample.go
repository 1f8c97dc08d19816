package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/tokenloop/internal/logits"
)

// Defaults for the public entry points.
const (
	DefaultEOSTokenID     = 2
	DefaultTopK           = 50
	DefaultTopP           = 1.0
	DefaultTemperature    = 1.0
	DefaultSequenceLength = 128
)

var errNoSampler = errors.New("sampler is required")

// LegacyOptions configures SimpleSample. EOS is never sampled and every
// sequence runs to the requested length.
type LegacyOptions struct {
	EOSTokenID int
	TopK       int
	Sampler    *logits.Sampler
}

// DefaultLegacyOptions returns EOS 2 and top-k 50 drawing from s.
func DefaultLegacyOptions(s *logits.Sampler) LegacyOptions {
	return LegacyOptions{EOSTokenID: DefaultEOSTokenID, TopK: DefaultTopK, Sampler: s}
}

// LlamaOptions configures SampleLlama. A nil TopK or TopP disables that
// filter.
type LlamaOptions struct {
	EOSTokenID  int
	TopK        *int
	TopP        *float64
	Temperature float64
	Sampler     *logits.Sampler
}

// DefaultLlamaOptions returns EOS 2, top-k 50, top-p 1 and temperature 1
// drawing from s.
func DefaultLlamaOptions(s *logits.Sampler) LlamaOptions {
	return LlamaOptions{
		EOSTokenID:  DefaultEOSTokenID,
		TopK:        logits.Int(DefaultTopK),
		TopP:        logits.Float(DefaultTopP),
		Temperature: DefaultTemperature,
		Sampler:     s,
	}
}

// policy validates the options once, before any model call.
func (o LegacyOptions) policy() (logits.Policy, error) {
	if o.Sampler == nil {
		return logits.Policy{}, errNoSampler
	}
	return logits.StepConfig{
		Temperature: 1,
		TopK:        logits.Int(o.TopK),
		Mask:        []int{o.EOSTokenID},
	}.Prepare()
}

// policy validates the options once, before any model call.
func (o LlamaOptions) policy() (logits.Policy, error) {
	if o.Sampler == nil {
		return logits.Policy{}, errNoSampler
	}
	return logits.StepConfig{
		Temperature: o.Temperature,
		TopK:        o.TopK,
		TopP:        o.TopP,
	}.Prepare()
}

func scoreForward(m Model, startIDs []int) forwardFunc[[][]float64] {
	return func(ctx context.Context, tokens [][]int, cacheIDs []int) ([][]float64, error) {
		return m.Forward(ctx, tokens, cacheIDs, startIDs)
	}
}

// SimpleSample prefills the cache with input and then samples with EOS
// suppressed until every sequence is sequenceLength long.
func SimpleSample(ctx context.Context, m Model, input [][]int, startIDs []int, sequenceLength int, opts LegacyOptions) ([][]int, Stats, error) {
	p, err := opts.policy()
	if err != nil {
		return nil, Stats{}, err
	}
	defer inferenceScope(m)()

	c, err := newController(ctx, scoreForward(m, startIDs), input, startIDs, sequenceLength)
	if err != nil {
		return nil, Stats{}, err
	}
	first, err := c.prefill(ctx)
	if err != nil {
		return nil, c.stats, err
	}
	return c.decode(ctx, first, legacySelect(opts, p, c.batch))
}

// SampleLoop continues SimpleSample from scores the caller already
// computed for the prompt, so the model is only called for new tokens.
func SampleLoop(ctx context.Context, m Model, input [][]int, startIDs []int, scores [][]float64, sequenceLength int, opts LegacyOptions) ([][]int, Stats, error) {
	p, err := opts.policy()
	if err != nil {
		return nil, Stats{}, err
	}
	defer inferenceScope(m)()

	c, err := newController(ctx, scoreForward(m, startIDs), input, startIDs, sequenceLength)
	if err != nil {
		return nil, Stats{}, err
	}
	if err := c.resume(); err != nil {
		return nil, c.stats, err
	}
	return c.decode(ctx, scores, legacySelect(opts, p, c.batch))
}

func legacySelect(opts LegacyOptions, p logits.Policy, batch int) selectFunc[[][]float64] {
	return func(scores [][]float64) ([]int, []int, bool, error) {
		if err := checkBatch(len(scores), batch); err != nil {
			return nil, nil, false, err
		}
		next, err := opts.Sampler.Sample(scores, p)
		if err != nil {
			return nil, nil, false, err
		}
		return next, next, false, nil
	}
}

// SampleLlama prefills the cache and samples with temperature and combined
// top-k/top-p filtering. A sequence that emits EOS is padded with EOS from
// then on; generation stops early once every sequence has.
func SampleLlama(ctx context.Context, m Model, input [][]int, startIDs []int, sequenceLength int, opts LlamaOptions) ([][]int, Stats, error) {
	p, err := opts.policy()
	if err != nil {
		return nil, Stats{}, err
	}
	defer inferenceScope(m)()

	c, err := newController(ctx, scoreForward(m, startIDs), input, startIDs, sequenceLength)
	if err != nil {
		return nil, Stats{}, err
	}
	first, err := c.prefill(ctx)
	if err != nil {
		return nil, c.stats, err
	}
	return c.decode(ctx, first, llamaSelect(opts, p, c.batch))
}

// SampleLoopLlama continues SampleLlama from caller-computed prompt scores.
func SampleLoopLlama(ctx context.Context, m Model, input [][]int, startIDs []int, scores [][]float64, sequenceLength int, opts LlamaOptions) ([][]int, Stats, error) {
	p, err := opts.policy()
	if err != nil {
		return nil, Stats{}, err
	}
	defer inferenceScope(m)()

	c, err := newController(ctx, scoreForward(m, startIDs), input, startIDs, sequenceLength)
	if err != nil {
		return nil, Stats{}, err
	}
	if err := c.resume(); err != nil {
		return nil, c.stats, err
	}
	return c.decode(ctx, scores, llamaSelect(opts, p, c.batch))
}

func llamaSelect(opts LlamaOptions, p logits.Policy, batch int) selectFunc[[][]float64] {
	done := make([]bool, batch)
	return func(scores [][]float64) ([]int, []int, bool, error) {
		if err := checkBatch(len(scores), batch); err != nil {
			return nil, nil, false, err
		}
		next, err := opts.Sampler.Sample(scores, p)
		if err != nil {
			return nil, nil, false, err
		}
		appended := make([]int, batch)
		all := true
		for i, id := range next {
			done[i] = done[i] || id == opts.EOSTokenID
			if done[i] {
				appended[i] = opts.EOSTokenID
			} else {
				appended[i] = id
				all = false
			}
		}
		// Finished rows still feed their raw draw back so the batch stays aligned.
		return appended, next, all, nil
	}
}

// SampleGreedy appends the highest-scoring token of every row until each
// sequence is sequenceLength long.
func SampleGreedy(ctx context.Context, m Model, input [][]int, startIDs []int, sequenceLength int) ([][]int, Stats, error) {
	defer inferenceScope(m)()

	c, err := newController(ctx, scoreForward(m, startIDs), input, startIDs, sequenceLength)
	if err != nil {
		return nil, Stats{}, err
	}
	first, err := c.prefill(ctx)
	if err != nil {
		return nil, c.stats, err
	}
	batch := c.batch
	return c.decode(ctx, first, func(scores [][]float64) ([]int, []int, bool, error) {
		if err := checkBatch(len(scores), batch); err != nil {
			return nil, nil, false, err
		}
		next, err := logits.Argmax(scores)
		if err != nil {
			return nil, nil, false, err
		}
		return next, next, false, nil
	})
}

// SampleTokens drives a model that selects tokens itself. Only the last
// column of each model output is used.
func SampleTokens(ctx context.Context, tm TokenModel, input [][]int, startIDs []int, sequenceLength int) ([][]int, Stats, error) {
	defer inferenceScope(tm)()

	forward := func(ctx context.Context, tokens [][]int, cacheIDs []int) ([][]int, error) {
		return tm.Forward(ctx, tokens, cacheIDs, startIDs)
	}
	c, err := newController(ctx, forward, input, startIDs, sequenceLength)
	if err != nil {
		return nil, Stats{}, err
	}
	first, err := c.prefill(ctx)
	if err != nil {
		return nil, c.stats, err
	}
	batch := c.batch
	return c.decode(ctx, first, func(out [][]int) ([]int, []int, bool, error) {
		if err := checkBatch(len(out), batch); err != nil {
			return nil, nil, false, err
		}
		next := make([]int, batch)
		for i, row := range out {
			if len(row) == 0 {
				return nil, nil, false, fmt.Errorf("%w: model returned no tokens for row %d", logits.ErrShape, i)
			}
			next[i] = row[len(row)-1]
		}
		return next, next, false, nil
	})
}
