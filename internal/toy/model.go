package toy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/tokenloop/internal/tensor"
)

// ErrCache is returned when a forward call does not continue a row's cache.
var ErrCache = errors.New("toy: cache mismatch")

// ToyLM is a minimal incremental language model.  It consists of an
// embedding matrix, a projection from the hidden state back to vocab scores,
// and a bias vector.  Every sequence in the batch keeps an append-only token
// cache and a running hidden state, so scores depend on the whole context
// without recomputing it.
type ToyLM struct {
	Vocab  int
	Hidden int
	Decay  float32 // weight of the previous hidden state

	Emb  tensor.Mat // [Vocab x Hidden] embedding matrix
	W    tensor.Mat // [Vocab x Hidden] projection weights
	Bias []float32  // [Vocab] bias added to scores

	mu        sync.Mutex
	rows      []rowCache
	inference bool
}

type rowCache struct {
	tokens []int
	h      []float32
}

// NewToyLM constructs a model with the given vocabulary and hidden size.  The
// embedding and projection matrices are filled deterministically from seed;
// biases are zeroed.
func NewToyLM(vocab, hidden int, seed uint64) *ToyLM {
	m := &ToyLM{
		Vocab:  vocab,
		Hidden: hidden,
		Decay:  0.5,
		Emb:    tensor.NewMat(vocab, hidden),
		W:      tensor.NewMat(vocab, hidden),
		Bias:   make([]float32, vocab),
	}
	tensor.FillRand(&m.Emb, seed+11, 2)
	tensor.FillRand(&m.W, seed+23, 2)
	return m
}

// Reset drops every cached sequence.
func (m *ToyLM) Reset() {
	m.mu.Lock()
	m.rows = nil
	m.mu.Unlock()
}

// SetInferenceMode records the mode and returns the previous one.
func (m *ToyLM) SetInferenceMode(on bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.inference
	m.inference = on
	return prev
}

// InferenceMode reports whether inference mode is on.
func (m *ToyLM) InferenceMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inference
}

// Cached returns a copy of the tokens cached for sequence i.
func (m *ToyLM) Cached(i int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.rows) {
		return nil
	}
	return append([]int(nil), m.rows[i].tokens...)
}

// Forward appends tokens to each sequence's cache and returns the next-token
// scores after the last appended column.  cacheIDs must continue the cache
// exactly; the first call (cacheIDs starting at 0) fixes the batch size.
// Positions before startIDs[i] are treated as padding and do not touch the
// hidden state.
func (m *ToyLM) Forward(ctx context.Context, tokens [][]int, cacheIDs []int, startIDs []int) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 || len(cacheIDs) == 0 {
		return nil, fmt.Errorf("%w: empty forward", ErrCache)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cacheIDs[0] == 0 {
		m.rows = make([]rowCache, len(tokens))
		for i := range m.rows {
			m.rows[i].h = make([]float32, m.Hidden)
		}
	}
	if len(tokens) != len(m.rows) {
		return nil, fmt.Errorf("%w: batch of %d, cache holds %d sequences", ErrCache, len(tokens), len(m.rows))
	}

	scores := make([][]float64, len(tokens))
	logits := tensor.NewMat(len(tokens), m.Vocab)
	for i, row := range tokens {
		if len(row) != len(cacheIDs) {
			return nil, fmt.Errorf("%w: row %d has %d tokens for %d cache ids", ErrCache, i, len(row), len(cacheIDs))
		}
		rc := &m.rows[i]
		start := 0
		if startIDs != nil {
			start = startIDs[i]
		}
		for j, tok := range row {
			if cacheIDs[j] != len(rc.tokens) {
				return nil, fmt.Errorf("%w: row %d position %d, cache length %d", ErrCache, i, cacheIDs[j], len(rc.tokens))
			}
			rc.tokens = append(rc.tokens, tok)
			if cacheIDs[j] < start {
				continue
			}
			m.step(rc.h, tok)
		}

		row := logits.Row(i)
		tensor.MatVec(row, &m.W, rc.h)
		tensor.Add(row, m.Bias)
		scores[i] = logits.Float64Row(nil, i)
	}
	return scores, nil
}

// step folds one token into the hidden state: h = norm(decay*h + emb[tok]).
func (m *ToyLM) step(h []float32, tok int) {
	tok %= m.Vocab
	if tok < 0 {
		tok += m.Vocab
	}
	tensor.Scale(h, m.Decay)
	tensor.Add(h, m.Emb.Row(tok))
	tensor.RMSNorm(h, h, nil, 1e-6)
	for i, v := range h {
		h[i] = tensor.Silu(v) * 4
	}
}
