package logits

import "testing"

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical results when sampling the same logits vector.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()

	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := 0; i < 20; i++ {
		a := s1.Sample([]float32{0, 1, 2, 3, 4, 5}, nil)
		b := s2.Sample([]float32{0, 1, 2, 3, 4, 5}, nil)
		if a != b {
			t.Fatalf("draw %d: expected deterministic sample, got %d vs %d", i, a, b)
		}
	}
}

// TestSamplerGreedy tests that greedy sampling (TopK=1, Temperature=1, TopP>=1)
// returns the index of the maximum logit.
func TestSamplerGreedy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  SamplerConfig
	}{
		{name: "topk one", cfg: SamplerConfig{Seed: 99, Temperature: 1.0, TopK: 1, TopP: 1.0}},
		{name: "zero temperature", cfg: SamplerConfig{Seed: 99, Temperature: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewSampler(tc.cfg)
			if !s.Greedy() {
				t.Fatalf("expected greedy sampler for %+v", tc.cfg)
			}
			if idx := s.Sample([]float32{-1, 5, 3, 7, 2}, nil); idx != 3 {
				t.Fatalf("expected greedy index 3, got %d", idx)
			}
		})
	}
}

// TestSamplerTopP ensures that setting TopP less than 1 restricts sampling to a
// prefix of candidates. The cumulative probability after the first element
// exceeds TopP, so only the first index should ever be returned.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()

	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	for i := 0; i < 10; i++ {
		if idx := s.Sample([]float32{10, 0, 0, 0, 0}, nil); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

func TestSamplerMinP(t *testing.T) {
	t.Parallel()

	s := NewSampler(SamplerConfig{Seed: 3, Temperature: 1.0, TopK: 5, MinP: 0.5})
	for i := 0; i < 20; i++ {
		if idx := s.Sample([]float32{0, 8, 0, 0, 0}, nil); idx != 1 {
			t.Fatalf("min-p sampling returned unexpected index %d", idx)
		}
	}
}

func TestSamplerRepeatPenalty(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		noPenalty []int
		want      int
	}{
		{name: "penalised repeat loses", want: 1},
		{name: "exempt id keeps its score", noPenalty: []int{0}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewSampler(SamplerConfig{
				Temperature:   0,
				RepeatPenalty: 2,
				NoPenalty:     tc.noPenalty,
			})
			if idx := s.Sample([]float32{4, 3}, []int{0, 0}); idx != tc.want {
				t.Fatalf("got %d, want %d", idx, tc.want)
			}
		})
	}
}

func TestSamplerConfigDefaults(t *testing.T) {
	t.Parallel()

	exempt := []int{2}
	s := NewSampler(SamplerConfig{Temperature: 0.7, NoPenalty: exempt})
	exempt[0] = 9

	cfg := s.Config()
	if cfg.TopK != 40 || cfg.TopP != 1 || cfg.RepeatPenalty != 1 || cfg.RepeatLastN != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.NoPenalty) != 1 || cfg.NoPenalty[0] != 2 {
		t.Fatalf("NoPenalty aliased caller slice: %v", cfg.NoPenalty)
	}
}

func TestArgmaxPanicsOnEmpty(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on empty logits")
		}
	}()
	NewSampler(SamplerConfig{}).Sample(nil, nil)
}
