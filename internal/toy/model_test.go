package toy

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/tokenloop/internal/inference"
	"github.com/samcharles93/tokenloop/internal/logits"
	"github.com/samcharles93/tokenloop/internal/tensor"
)

// naiveScores replays tokens through a fresh hidden state by hand.
func naiveScores(m *ToyLM, tokens []int) []float64 {
	h := make([]float32, m.Hidden)
	for _, tok := range tokens {
		for i := range h {
			h[i] = h[i]*m.Decay + m.Emb.Row(tok)[i]
		}
		var sum float32
		for _, v := range h {
			sum += v * v
		}
		scale := float32(1 / math.Sqrt(float64(sum/float32(len(h))+1e-6)))
		for i := range h {
			h[i] = tensor.Silu(h[i]*scale) * 4
		}
	}
	out := make([]float64, m.Vocab)
	for j := 0; j < m.Vocab; j++ {
		var sum float32
		for i := 0; i < m.Hidden; i++ {
			sum += m.W.Row(j)[i] * h[i]
		}
		out[j] = float64(sum + m.Bias[j])
	}
	return out
}

func assertClose(t *testing.T, want, got []float64) {
	t.Helper()
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-4 {
			t.Fatalf("score mismatch at %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestForwardMatchesNaive(t *testing.T) {
	m := NewToyLM(8, 6, 5)
	ctx := context.Background()

	got, err := m.Forward(ctx, [][]int{{3, 1, 4}}, []int{0, 1, 2}, nil)
	if err != nil {
		t.Fatalf("prefill: %v", err)
	}
	assertClose(t, naiveScores(m, []int{3, 1, 4}), got[0])

	got, err = m.Forward(ctx, [][]int{{7}}, []int{3}, nil)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	assertClose(t, naiveScores(m, []int{3, 1, 4, 7}), got[0])

	if diff := cmp.Diff([]int{3, 1, 4, 7}, m.Cached(0)); diff != "" {
		t.Fatalf("cache (-want +got):\n%s", diff)
	}
}

func TestForwardBatchRowsWithBias(t *testing.T) {
	m := NewToyLM(6, 4, 9)
	for i := range m.Bias {
		m.Bias[i] = float32(i) * 0.25
	}
	ctx := context.Background()

	got, err := m.Forward(ctx, [][]int{{1, 2}, {5, 0}}, []int{0, 1}, nil)
	if err != nil {
		t.Fatalf("prefill: %v", err)
	}
	if len(got) != 2 || len(got[0]) != m.Vocab || len(got[1]) != m.Vocab {
		t.Fatalf("unexpected score shape %dx%d", len(got), len(got[0]))
	}
	assertClose(t, naiveScores(m, []int{1, 2}), got[0])
	assertClose(t, naiveScores(m, []int{5, 0}), got[1])

	// Rows are independent copies.
	got[0][0] = 1000
	if got[1][0] == 1000 {
		t.Fatalf("score rows share storage")
	}
}

func TestForwardRejectsCacheGaps(t *testing.T) {
	m := NewToyLM(4, 4, 1)
	ctx := context.Background()
	if _, err := m.Forward(ctx, [][]int{{1, 2}}, []int{0, 1}, nil); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	if _, err := m.Forward(ctx, [][]int{{1}}, []int{5}, nil); !errors.Is(err, ErrCache) {
		t.Fatalf("expected ErrCache for skipped position, got %v", err)
	}
	if _, err := m.Forward(ctx, [][]int{{1}, {2}}, []int{2}, nil); !errors.Is(err, ErrCache) {
		t.Fatalf("expected ErrCache for batch change, got %v", err)
	}
}

func TestForwardSkipsPadding(t *testing.T) {
	m := NewToyLM(6, 5, 9)
	// Row 1 carries two pad tokens before the same content as row 0.
	out, err := m.Forward(context.Background(), [][]int{{0, 0, 2, 3}, {5, 5, 2, 3}}, []int{0, 1, 2, 3}, []int{2, 2})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	assertClose(t, out[0], out[1])
	assertClose(t, naiveScores(m, []int{2, 3}), out[0])
}

func TestSampleLlamaWithToyLM(t *testing.T) {
	ctx := context.Background()
	run := func() [][]int {
		m := NewToyLM(16, 8, 3)
		opts := inference.DefaultLlamaOptions(logits.NewSampler(77))
		opts.TopP = logits.Float(0.9)
		opts.Temperature = 0.8
		out, _, err := inference.SampleLlama(ctx, m, [][]int{{1, 4, 5}, {6, 7, 8}}, nil, 12, opts)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if m.InferenceMode() {
			t.Fatalf("inference mode left on")
		}
		return out
	}
	a, b := run(), run()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("seeded runs differ (-a +b):\n%s", diff)
	}
	for i, row := range a {
		if len(row) != len(a[0]) {
			t.Fatalf("row %d length %d differs from row 0", i, len(row))
		}
	}
}

func TestGreedyTokenModelMatchesSampleGreedy(t *testing.T) {
	ctx := context.Background()
	in := [][]int{{2, 3}, {4, 1}}

	want, _, err := inference.SampleGreedy(ctx, NewToyLM(10, 6, 4), in, nil, 9)
	if err != nil {
		t.Fatalf("greedy: %v", err)
	}
	got, _, err := inference.SampleTokens(ctx, Greedy{Model: NewToyLM(10, 6, 4)}, in, nil, 9)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("token model diverged (-greedy +tokens):\n%s", diff)
	}
}

func TestFixedScenario(t *testing.T) {
	m := NewFixed(1, 5, 2, 8, 3)
	opts := inference.LegacyOptions{EOSTokenID: 0, TopK: 3, Sampler: logits.NewSampler(12)}
	out, _, err := inference.SimpleSample(context.Background(), m, [][]int{{1, 2}}, nil, 5, opts)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	for _, id := range out[0][2:] {
		if !slices.Contains([]int{3, 1, 4}, id) {
			t.Fatalf("id %d outside {3,1,4}", id)
		}
	}

	calls := m.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 forward calls, got %d", len(calls))
	}
	wantIDs := [][]int{{0, 1}, {2}, {3}}
	for i, c := range calls {
		if diff := cmp.Diff(wantIDs[i], c.CacheIDs); diff != "" {
			t.Fatalf("call %d cache ids (-want +got):\n%s", i, diff)
		}
	}
	// Each decode call feeds back the token appended at the previous step.
	if calls[1].Tokens[0][0] != out[0][2] || calls[2].Tokens[0][0] != out[0][3] {
		t.Fatalf("fed tokens %v/%v do not match output %v", calls[1].Tokens, calls[2].Tokens, out[0])
	}
}

func TestForwardNoExtraAllocsPerStep(t *testing.T) {
	m := NewToyLM(5, 3, 2)
	ctx := context.Background()
	if _, err := m.Forward(ctx, [][]int{{1}}, []int{0}, nil); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	pos := 1
	tokens := [][]int{{1}}
	ids := []int{0}
	allocs := testing.AllocsPerRun(50, func() {
		ids[0] = pos
		pos++
		_, _ = m.Forward(ctx, tokens, ids, nil)
	})
	// scores matrix, the logits matrix, one widened row and amortised cache growth.
	if allocs > 5 {
		t.Fatalf("expected at most 5 allocations per step, got %v", allocs)
	}
}
