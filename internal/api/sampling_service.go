package api

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/tokenloop/internal/inference"
	"github.com/samcharles93/tokenloop/internal/logger"
	"github.com/samcharles93/tokenloop/internal/logits"
	"github.com/samcharles93/tokenloop/internal/toy"
)

const (
	StrategyLlama  = "llama"
	StrategyLegacy = "legacy"
	StrategyGreedy = "greedy"
	StrategyTokens = "tokens"
)

// Defaults fills unset request fields and bounds what a request may ask for.
type Defaults struct {
	SequenceLength int
	EOSTokenID     int
	TopK           int
	TopP           float64
	Temperature    float64
	Seed           uint64
	Vocab          int
	Hidden         int
	ModelSeed      uint64

	MaxSequenceLength int
	MaxVocab          int
	MaxHidden         int
	// MaxModelElements bounds vocab*hidden, the size of each toy weight matrix.
	MaxModelElements int
}

func DefaultDefaults() Defaults {
	return Defaults{
		SequenceLength:    32,
		EOSTokenID:        inference.DefaultEOSTokenID,
		TopK:              inference.DefaultTopK,
		TopP:              inference.DefaultTopP,
		Temperature:       inference.DefaultTemperature,
		Vocab:             64,
		Hidden:            32,
		ModelSeed:         1,
		MaxSequenceLength: 4096,
		MaxVocab:          1 << 16,
		MaxHidden:         4096,
		MaxModelElements:  1 << 22,
	}
}

type SamplingService struct {
	provider ModelProvider
	defaults Defaults
	clock    func() time.Time
}

func NewSamplingService(provider ModelProvider, defaults Defaults) *SamplingService {
	return &SamplingService{
		provider: provider,
		defaults: defaults,
		clock:    time.Now,
	}
}

// resolved is a request with every default applied.
type resolved struct {
	strategy    string
	seqLen      int
	eos         int
	topK        int
	topP        float64
	temperature float64
	seed        uint64
	spec        ModelSpec
}

func (s *SamplingService) resolve(req *SampleRequest) (resolved, error) {
	d := s.defaults
	r := resolved{
		strategy:    req.Strategy,
		seqLen:      d.SequenceLength,
		eos:         d.EOSTokenID,
		topK:        d.TopK,
		topP:        d.TopP,
		temperature: d.Temperature,
		seed:        d.Seed,
		spec:        ModelSpec{Vocab: d.Vocab, Hidden: d.Hidden, Seed: d.ModelSeed},
	}
	if r.strategy == "" {
		r.strategy = StrategyLlama
	}
	switch r.strategy {
	case StrategyLlama, StrategyLegacy, StrategyGreedy, StrategyTokens:
	default:
		return r, newInvalidRequest(fmt.Sprintf("strategy: unknown strategy %q", req.Strategy))
	}
	if req.SequenceLength != nil {
		r.seqLen = *req.SequenceLength
	}
	if req.EOSTokenID != nil {
		r.eos = *req.EOSTokenID
	}
	if req.TopK != nil {
		r.topK = *req.TopK
	}
	if req.TopP != nil {
		r.topP = *req.TopP
	}
	if req.Temperature != nil {
		r.temperature = *req.Temperature
	}
	if req.Seed != nil {
		r.seed = *req.Seed
	}
	if req.Vocab != nil {
		r.spec.Vocab = *req.Vocab
	}
	if req.Hidden != nil {
		r.spec.Hidden = *req.Hidden
	}

	switch {
	case len(req.InputIDs) == 0:
		return r, newInvalidRequest("input_ids: at least one sequence is required")
	case r.seqLen < 0 || r.seqLen > d.MaxSequenceLength:
		return r, newInvalidRequest(fmt.Sprintf("sequence_length: must be in [0, %d], got %d", d.MaxSequenceLength, r.seqLen))
	case r.spec.Vocab < 2 || r.spec.Vocab > d.MaxVocab:
		return r, newInvalidRequest(fmt.Sprintf("vocab: must be in [2, %d], got %d", d.MaxVocab, r.spec.Vocab))
	case r.spec.Hidden < 1 || r.spec.Hidden > d.MaxHidden:
		return r, newInvalidRequest(fmt.Sprintf("hidden: must be in [1, %d], got %d", d.MaxHidden, r.spec.Hidden))
	case d.MaxModelElements > 0 && r.spec.Vocab*r.spec.Hidden > d.MaxModelElements:
		return r, newInvalidRequest(fmt.Sprintf("vocab*hidden: must be at most %d, got %d", d.MaxModelElements, r.spec.Vocab*r.spec.Hidden))
	case r.eos < 0 || r.eos >= r.spec.Vocab:
		return r, newInvalidRequest(fmt.Sprintf("eos_token_id: must be in [0, %d), got %d", r.spec.Vocab, r.eos))
	}
	for i, row := range req.InputIDs {
		for _, id := range row {
			if id < 0 || id >= r.spec.Vocab {
				return r, newInvalidRequest(fmt.Sprintf("input_ids: row %d holds id %d outside [0, %d)", i, id, r.spec.Vocab))
			}
		}
	}
	for _, start := range req.StartIDs {
		if start < 0 {
			return r, newInvalidRequest(fmt.Sprintf("start_ids: negative offset %d", start))
		}
	}
	return r, nil
}

// llamaTopK maps a top_k of 0 to "not set", which leaves top-p as the only
// filter. Negative values are kept so validation rejects them.
func (r resolved) llamaTopK() *int {
	if r.topK == 0 {
		return nil
	}
	return logits.Int(r.topK)
}

// Sample runs one generation against a toy model.
func (s *SamplingService) Sample(ctx context.Context, req *SampleRequest) (*SampleResponse, error) {
	r, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("strategy", r.strategy, "seed", r.seed)

	var (
		out   [][]int
		stats inference.Stats
	)
	err = s.provider.WithModel(ctx, r.spec, func(m *toy.ToyLM) error {
		sampler := logits.NewSampler(r.seed)
		var err error
		switch r.strategy {
		case StrategyLegacy:
			opts := inference.LegacyOptions{EOSTokenID: r.eos, TopK: r.topK, Sampler: sampler}
			out, stats, err = inference.SimpleSample(ctx, m, req.InputIDs, req.StartIDs, r.seqLen, opts)
		case StrategyGreedy:
			out, stats, err = inference.SampleGreedy(ctx, m, req.InputIDs, req.StartIDs, r.seqLen)
		case StrategyTokens:
			out, stats, err = inference.SampleTokens(ctx, toy.Greedy{Model: m}, req.InputIDs, req.StartIDs, r.seqLen)
		default:
			opts := inference.LlamaOptions{
				EOSTokenID:  r.eos,
				TopK:        r.llamaTopK(),
				TopP:        logits.Float(r.topP),
				Temperature: r.temperature,
				Sampler:     sampler,
			}
			out, stats, err = inference.SampleLlama(ctx, m, req.InputIDs, req.StartIDs, r.seqLen, opts)
		}
		return err
	})
	if err != nil {
		log.Warn("sampling failed", "error", err)
		return nil, err
	}
	log.Info("sampling finished", "steps", stats.Steps, "forward_calls", stats.ForwardCalls, "early_stop", stats.EarlyStop)

	return &SampleResponse{
		ID:             newSampleID(),
		Object:         "sample",
		CreatedAt:      s.clock().Unix(),
		Strategy:       r.strategy,
		SequenceLength: r.seqLen,
		Seed:           r.seed,
		OutputIDs:      out,
		Stats: SampleStats{
			Steps:           stats.Steps,
			TokensGenerated: stats.TokensGenerated,
			ForwardCalls:    stats.ForwardCalls,
			EarlyStop:       stats.EarlyStop,
			DurationMS:      float64(stats.Duration.Microseconds()) / 1000,
			TokensPerSecond: stats.TPS,
		},
	}, nil
}

// Filter runs the top-k/top-p filter over req.Scores.
func (s *SamplingService) Filter(req *FilterRequest) (*FilterResponse, error) {
	minKeep := 1
	if req.MinTokensToKeep != nil {
		minKeep = *req.MinTokensToKeep
	}
	f, err := logits.TopKTopPFilter(req.Scores, req.TopK, req.TopP, minKeep)
	if err != nil {
		return nil, err
	}
	scores := make([][]Score, len(f.Scores))
	for i, row := range f.Scores {
		scores[i] = make([]Score, len(row))
		for j, v := range row {
			scores[i][j] = Score(v)
		}
	}
	return &FilterResponse{
		Object:  "filter",
		Scores:  scores,
		Indices: f.Indices,
		Keep:    f.Keep,
	}, nil
}
