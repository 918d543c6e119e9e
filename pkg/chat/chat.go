// Package chat is the public entry point of the engine: a Session keeps the
// conversation history of one chat and streams each assistant reply as a
// sequence of text deltas.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samcharles93/parley/internal/conversation"
	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/logits"
	"github.com/samcharles93/parley/internal/metrics"
	"github.com/samcharles93/parley/internal/textdiff"
	"github.com/samcharles93/parley/internal/tplparser"
)

type (
	Backend        = inference.Backend
	Handle         = inference.Handle
	Tokenizer      = inference.Tokenizer
	Sampler        = inference.Sampler
	StopConfig     = inference.StopConfig
	StopReason     = inference.StopReason
	Result         = inference.Result
	Stats          = inference.Stats
	SamplingConfig = logits.SamplerConfig
	Template       = tplparser.Template
	Turn           = conversation.Turn
	Role           = conversation.Role
	Delta          = textdiff.Delta
	Logger         = logger.Logger
	Metrics        = metrics.DecodeMetrics
)

var (
	ErrPromptTooLong = inference.ErrPromptTooLong
	ErrBackend       = inference.ErrBackend
	ErrTokenizer     = inference.ErrTokenizer
	ErrSampler       = inference.ErrSampler
	ErrCancelled     = inference.ErrCancelled
	ErrBusy          = inference.ErrBusy
	ErrContextLength = inference.ErrContextLength
)

// PartialText returns the reply text streamed before err, if any.
func PartialText(err error) string {
	return inference.PartialText(err)
}

// LookupTemplate finds a chat template by name or by the markers of its
// source text.
func LookupTemplate(name string) (Template, bool) {
	return tplparser.Lookup(name)
}

// NewMetrics registers the decode collectors with reg, or with the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return metrics.NewDecodeMetrics(reg)
}

// StopTokensFor collects eos and the end-of-turn markers vocab knows.
func StopTokensFor(vocab inference.Vocabulary, eos int) []int {
	return inference.BuildStopTokens(vocab, eos)
}

// Model bundles the collaborators of a loaded model.
type Model struct {
	Backend   Backend
	Tokenizer Tokenizer
	// Template renders the history; the zero value selects chatml.
	Template Template
	// StopTokens end a reply in addition to the template's stop strings.
	StopTokens []int
}

// Shared returns a copy of m whose backend runs one call at a time. Sessions
// created from the returned Model may generate concurrently.
func (m Model) Shared(mx *Metrics) Model {
	m.Backend = inference.Serialize(m.Backend, mx)
	return m
}

type options struct {
	systemPrompt     string
	log              Logger
	metrics          *Metrics
	sampler          Sampler
	sanitizeHistory  bool
	keepPastThinking bool
}

type Option func(*options)

// WithSystemPrompt seeds the history with a system turn. It survives Reset.
func WithSystemPrompt(prompt string) Option {
	return func(o *options) { o.systemPrompt = prompt }
}

func WithLogger(log Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSampler replaces the sampler built from the SamplingConfig.
func WithSampler(s Sampler) Option {
	return func(o *options) { o.sampler = s }
}

// WithSanitizedHistory stores assistant replies without reasoning blocks or
// leftover end-of-turn markers.
func WithSanitizedHistory() Option {
	return func(o *options) { o.sanitizeHistory = true }
}

// WithPastThinking keeps the reasoning blocks of earlier assistant turns in
// the rendered prompt.
func WithPastThinking() Option {
	return func(o *options) { o.keepPastThinking = true }
}

// Session is one chat: its history plus the decode state of the model. It
// generates one reply at a time: a Send while another is in flight fails with
// ErrBusy and leaves the history alone. Reset may be called from any
// goroutine.
type Session struct {
	dec      *inference.Session
	log      Logger
	system   string
	sanitize bool

	mu    sync.Mutex
	conv  *conversation.State
	epoch uint64
	busy  bool
}

// NewSession creates a chat over model. The template's stop strings and the
// model's stop tokens are merged into stop.
func NewSession(model Model, stop StopConfig, sampling SamplingConfig, opts ...Option) (*Session, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if model.Backend == nil || model.Tokenizer == nil {
		return nil, errors.New("chat: model needs a backend and a tokenizer")
	}
	tpl := model.Template
	if tpl.Name == "" {
		tpl, _ = tplparser.Lookup("chatml")
	}
	if o.log == nil {
		o.log = logger.Discard()
	}

	stop = stop.Merge(StopConfig{StopTokens: model.StopTokens, StopStrings: tpl.StopStrings})

	sampler := o.sampler
	if sampler == nil {
		if sampling.NoPenalty == nil {
			sampling.NoPenalty = stop.StopTokens
		}
		ls := logits.NewSampler(sampling)
		eff := ls.Config()
		o.log.Debug("sampler configured",
			"greedy", ls.Greedy(),
			"temperature", eff.Temperature,
			"top_k", eff.TopK,
			"top_p", eff.TopP,
			"min_p", eff.MinP,
			"repeat_penalty", eff.RepeatPenalty,
			"seed", eff.Seed,
		)
		sampler = ls
	}

	dec, err := inference.NewSession(inference.SessionConfig{
		Backend:   model.Backend,
		Tokenizer: model.Tokenizer,
		Sampler:   sampler,
		Stop:      stop,
		Logger:    o.log,
		Metrics:   o.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	render := tpl.Renderer(true)
	if o.keepPastThinking {
		render = conversation.RenderFunc(func(history []Turn) (string, error) {
			return tpl.Render(tplparser.RenderOptions{
				AddGenerationPrompt: true,
				KeepPastThinking:    true,
				Messages:            history,
			})
		})
	}

	s := &Session{
		dec:      dec,
		log:      o.log.With("session", dec.ID()),
		system:   o.systemPrompt,
		sanitize: o.sanitizeHistory,
		conv:     conversation.New(render),
	}
	s.seed()
	s.log.Debug("chat session created", "template", tpl.Name, "stop_tokens", len(stop.StopTokens), "stop_strings", len(stop.StopStrings))
	return s, nil
}

func (s *Session) seed() {
	if s.system != "" {
		_ = s.conv.AppendTurn(conversation.RoleSystem, s.system)
	}
}

func (s *Session) ID() string {
	return s.dec.ID()
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Turns()
}

// Stats returns the statistics of the last completed reply.
func (s *Session) Stats() Stats {
	return s.dec.LastStats()
}

// RuntimeStatsText formats the throughput of the last completed reply.
func (s *Session) RuntimeStatsText() string {
	return s.dec.RuntimeStatsText()
}

// Reset clears the history, keeping the system prompt, and drops the decode
// state. A generation in progress ends with ErrCancelled.
func (s *Session) Reset() {
	s.mu.Lock()
	s.conv.Reset()
	s.seed()
	s.epoch++
	s.mu.Unlock()
	s.dec.Reset()
	s.log.Debug("chat reset")
}

// DropOldest removes up to n of the oldest turns after the system prompt and
// returns how many were removed. After ErrPromptTooLong it shortens the
// history so the next Send fits the context window; that Send prefills from
// scratch. It removes nothing while a reply is being generated.
func (s *Session) DropOldest(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return 0
	}
	dropped := s.conv.DropOldest(n)
	if dropped > 0 {
		s.log.Debug("dropped oldest turns", "turns", dropped, "remaining", s.conv.Len())
	}
	return dropped
}

// Send adds userText to the history and generates the reply, calling fn for
// each delta. On failure or cancellation the user turn is rolled back.
func (s *Session) Send(ctx context.Context, userText string, fn func(Delta) error) (*Result, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("chat: reply already in progress: %w", ErrBusy)
	}
	if err := s.conv.AppendTurn(conversation.RoleUser, userText); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	prompt, err := s.conv.BuildPrompt()
	if err != nil {
		s.conv.RemoveLast()
		s.mu.Unlock()
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	epoch := s.epoch
	s.busy = true
	s.mu.Unlock()

	res, genErr := s.dec.Generate(ctx, prompt, fn)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if s.epoch != epoch {
		// Reset cleared the history while the reply was generated. A Reset
		// that held the decode session as the prefill started shows up as
		// ErrBusy.
		if genErr == nil || errors.Is(genErr, ErrBusy) {
			genErr = fmt.Errorf("reply discarded by reset: %w", ErrCancelled)
		}
		return nil, genErr
	}
	if genErr != nil {
		s.conv.RemoveLast()
		return nil, genErr
	}
	content := res.Text
	if s.sanitize {
		content = inference.SanitizeAssistantForContext(content)
	}
	_ = s.conv.AppendTurn(conversation.RoleAssistant, content)
	return res, nil
}

// GetDeltaMessage returns the text to append when the shown text changes from
// previousText to currentText. For a pair that diverges it is the suffix of
// currentText after their longest common prefix; see textdiff.Compute for the
// amount to discard.
func GetDeltaMessage(previousText, currentText string) string {
	return textdiff.ComputeDelta(previousText, currentText)
}
