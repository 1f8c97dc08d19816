package logits

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestSamplerDeterminism ensures that two samplers seeded identically
// produce identical draws over several steps.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()

	scores := [][]float64{{0, 1, 2, 3, 4, 5}, {5, 4, 3, 2, 1, 0}}
	cfg := StepConfig{Temperature: 0.9, TopK: Int(4), TopP: Float(0.95)}
	s1 := NewSampler(42)
	s2 := NewSampler(42)
	for step := 0; step < 20; step++ {
		a, err := s1.Step(scores, cfg)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		b, err := s2.Step(scores, cfg)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("step %d: expected deterministic sample (-a +b):\n%s", step, diff)
		}
	}
}

func TestArgmax(t *testing.T) {
	t.Parallel()

	got, err := Argmax([][]float64{{-1, 5, 3, 7, 2}, {4, 4, 1, 0, 0}})
	if err != nil {
		t.Fatalf("argmax: %v", err)
	}
	if diff := cmp.Diff([]int{3, 0}, got); diff != "" {
		t.Fatalf("argmax mismatch (-want +got):\n%s", diff)
	}
}

// TestSamplerTopP checks that a dominant logit is the only candidate left
// once top-p cuts the tail.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()

	scores := [][]float64{{10, 0, 0, 0, 0}}
	s := NewSampler(7)
	for i := 0; i < 50; i++ {
		got, err := s.Step(scores, StepConfig{Temperature: 1, TopP: Float(0.5)})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if got[0] != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", got[0])
		}
	}
}

func TestSamplerDrawsOnlyFromTopK(t *testing.T) {
	t.Parallel()

	scores := [][]float64{{1, 5, 2, 8, 3}}
	allowed := []int{3, 1, 4}
	s := NewSampler(3)
	seen := map[int]bool{}
	for i := 0; i < 300; i++ {
		got, err := s.Step(scores, StepConfig{Temperature: 1, TopK: Int(3)})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if !slices.Contains(allowed, got[0]) {
			t.Fatalf("drew %d outside top-k set %v", got[0], allowed)
		}
		seen[got[0]] = true
	}
	if !seen[3] {
		t.Fatalf("expected the highest-scoring id to be drawn at least once")
	}
}

func TestSamplerMaskNeverSelected(t *testing.T) {
	t.Parallel()

	scores := [][]float64{{0, 0, 5, 0}}
	s := NewSampler(11)
	for i := 0; i < 200; i++ {
		got, err := s.Step(scores, StepConfig{Temperature: 1, TopK: Int(4), Mask: []int{2}})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if got[0] == 2 {
			t.Fatalf("masked id was sampled")
		}
	}
}

func TestSamplerTemperatureScaling(t *testing.T) {
	t.Parallel()

	scores := [][]float64{{0.25, 1.5, -2, 3, 0.75, 2}}
	halved := [][]float64{make([]float64, len(scores[0]))}
	for i, v := range scores[0] {
		halved[0][i] = v / 2
	}

	// Dividing by a power of two is exact, so both paths see identical logits.
	s1 := NewSampler(5)
	s2 := NewSampler(5)
	for i := 0; i < 50; i++ {
		a, err := s1.Step(scores, StepConfig{Temperature: 1, TopK: Int(4), TopP: Float(0.9)})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		b, err := s2.Step(halved, StepConfig{Temperature: 0.5, TopK: Int(4), TopP: Float(0.9)})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if a[0] != b[0] {
			t.Fatalf("draw %d: temperature path diverged: %d vs %d", i, a[0], b[0])
		}
	}
}

func TestSamplerDoesNotMutateScores(t *testing.T) {
	t.Parallel()

	scores := [][]float64{{1, 2, 3}}
	if _, err := NewSampler(1).Step(scores, StepConfig{Temperature: 0.5, TopK: Int(2), Mask: []int{0}}); err != nil {
		t.Fatalf("step: %v", err)
	}
	if diff := cmp.Diff([][]float64{{1, 2, 3}}, scores); diff != "" {
		t.Fatalf("scores mutated (-want +got):\n%s", diff)
	}
}

func TestSamplerErrors(t *testing.T) {
	t.Parallel()

	s := NewSampler(1)
	if _, err := s.Step([][]float64{{1, 2}}, StepConfig{Temperature: 0}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for zero temperature, got %v", err)
	}
	negInf := math.Inf(-1)
	if _, err := s.Step([][]float64{{negInf, negInf}}, StepConfig{Temperature: 1}); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	if _, err := s.Step([][]float64{{1, 2}}, StepConfig{Temperature: 1, TopP: Float(0.01), MinTokensToKeep: Int(0)}); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates for an empty keep set, got %v", err)
	}
}

func TestPrepareRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  StepConfig
	}{
		{name: "zero temperature", cfg: StepConfig{Temperature: 0}},
		{name: "zero top-k", cfg: StepConfig{Temperature: 1, TopK: Int(0)}},
		{name: "top-p above one", cfg: StepConfig{Temperature: 1, TopP: Float(1.5)}},
		{name: "negative min keep", cfg: StepConfig{Temperature: 1, MinTokensToKeep: Int(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.cfg.Prepare(); !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestSampleWithPreparedPolicyMatchesStep(t *testing.T) {
	t.Parallel()

	scores := [][]float64{{0.5, 2, 1, 3, -1}, {3, 1, 2, 0, 0}}
	cfg := StepConfig{Temperature: 0.7, TopK: Int(3), TopP: Float(0.9), Mask: []int{4}}
	p, err := cfg.Prepare()
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	// Edits after Prepare must not reach the policy.
	*cfg.TopK = 0
	cfg.Mask[0] = 0

	viaStep, viaPolicy := NewSampler(9), NewSampler(9)
	want := StepConfig{Temperature: 0.7, TopK: Int(3), TopP: Float(0.9), Mask: []int{4}}
	for i := 0; i < 30; i++ {
		a, err := viaStep.Step(scores, want)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		b, err := viaPolicy.Sample(scores, p)
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("draw %d differs (-step +policy):\n%s", i, diff)
		}
	}
}

func TestSampleRejectsUnpreparedPolicy(t *testing.T) {
	t.Parallel()

	if _, err := NewSampler(1).Sample([][]float64{{1, 2}}, Policy{}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for a zero Policy, got %v", err)
	}
}
