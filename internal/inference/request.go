package inference

import (
	"time"

	"github.com/samcharles93/parley/internal/logits"
)

// GenDefaults are model-level sampling defaults, typically from a config file.
// Nil fields fall back to the built-in values.
type GenDefaults struct {
	Temperature       *float64
	TopK              *int
	TopP              *float64
	MinP              *float64
	RepetitionPenalty *float64
	MaxTokens         *int
}

// RequestOptions are per-call overrides. Nil fields are unset.
type RequestOptions struct {
	MaxTokens *int
	Seed      *int64

	Temperature   *float64
	TopK          *int
	TopP          *float64
	MinP          *float64
	RepeatPenalty *float64
	RepeatLastN   *int
}

// Request is a fully resolved set of generation parameters.
type Request struct {
	// MaxTokens caps generated tokens per turn; 0 means unlimited.
	MaxTokens int
	// Seed < 0 picks a time-based seed.
	Seed int64

	Temperature   float64
	TopK          int
	TopP          float64
	MinP          float64
	RepeatPenalty float64
	RepeatLastN   int
}

// ResolveRequest layers opts over defaults over the built-in values.
func ResolveRequest(opts RequestOptions, defaults GenDefaults) Request {
	req := Request{
		MaxTokens:     0,
		Seed:          -1,
		Temperature:   0.8,
		TopK:          40,
		TopP:          0.95,
		MinP:          0.0,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}

	if defaults.Temperature != nil && *defaults.Temperature >= 0 {
		req.Temperature = *defaults.Temperature
	}
	if defaults.TopK != nil && *defaults.TopK > 0 {
		req.TopK = *defaults.TopK
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		req.TopP = *defaults.TopP
	}
	if defaults.MinP != nil && *defaults.MinP >= 0 && *defaults.MinP < 1 {
		req.MinP = *defaults.MinP
	}
	if defaults.RepetitionPenalty != nil && *defaults.RepetitionPenalty > 0 {
		req.RepeatPenalty = *defaults.RepetitionPenalty
	}
	if defaults.MaxTokens != nil && *defaults.MaxTokens >= 0 {
		req.MaxTokens = *defaults.MaxTokens
	}

	if opts.MaxTokens != nil {
		req.MaxTokens = max(*opts.MaxTokens, 0)
	}
	if opts.Seed != nil {
		req.Seed = *opts.Seed
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.TopK != nil {
		req.TopK = *opts.TopK
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	}
	if opts.MinP != nil {
		req.MinP = *opts.MinP
	}
	if opts.RepeatPenalty != nil {
		req.RepeatPenalty = *opts.RepeatPenalty
	}
	if opts.RepeatLastN != nil {
		req.RepeatLastN = *opts.RepeatLastN
	}

	return req
}

// SamplerConfig converts the request into a sampler configuration. Stop
// tokens are exempt from the repetition penalty.
func (r Request) SamplerConfig(stopTokens []int) logits.SamplerConfig {
	seed := r.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return logits.SamplerConfig{
		Seed:          seed,
		Temperature:   float32(r.Temperature),
		TopK:          r.TopK,
		TopP:          float32(r.TopP),
		MinP:          float32(r.MinP),
		RepeatPenalty: float32(r.RepeatPenalty),
		RepeatLastN:   r.RepeatLastN,
		NoPenalty:     stopTokens,
	}
}
