package inference

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/metrics"
	"github.com/samcharles93/parley/internal/textdiff"
)

// Handle is an opaque reference to backend KV-cache state.
type Handle any

// Backend runs forward passes. Prefill appends tokens to the state held by h
// and returns the logits after the last one.
type Backend interface {
	Open(ctx context.Context) (Handle, error)
	Prefill(ctx context.Context, h Handle, tokens []int) ([]float32, error)
	Step(ctx context.Context, h Handle, token int) ([]float32, error)
	Release(h Handle) error
}

type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Sampler picks the next token. recent is the full token history of the
// handle, prompt included.
type Sampler interface {
	Sample(logits []float32, recent []int) int
}

type State int32

const (
	Idle State = iota
	Prefilling
	Decoding
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Prefilling:
		return "prefilling"
	case Decoding:
		return "decoding"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Stats struct {
	PromptTokens     int
	CachedTokens     int
	GeneratedTokens  int
	PrefillDuration  time.Duration
	DecodeDuration   time.Duration
	TimeToFirstToken time.Duration
}

// PrefillTPS is the prefill throughput over the tokens actually submitted.
func (s Stats) PrefillTPS() float64 {
	if s.PrefillDuration <= 0 {
		return 0
	}
	return float64(s.PromptTokens-s.CachedTokens) / s.PrefillDuration.Seconds()
}

func (s Stats) DecodeTPS() float64 {
	if s.DecodeDuration <= 0 {
		return 0
	}
	return float64(s.GeneratedTokens) / s.DecodeDuration.Seconds()
}

type Result struct {
	Text   string
	Reason StopReason
	// Tokens are the generated ids, without a terminating stop token.
	Tokens []int
	Stats  Stats
}

type SessionConfig struct {
	Backend   Backend
	Tokenizer Tokenizer
	Sampler   Sampler
	Stop      StopConfig
	Logger    logger.Logger
	Metrics   *metrics.DecodeMetrics
}

// Session drives one conversation's decode loop over a backend handle:
// Idle -> Prefilling -> Decoding -> Finalizing -> Idle.
//
// A Session must be driven from one goroutine at a time. Reset may be called
// from any goroutine.
type Session struct {
	id      string
	backend Backend
	tok     Tokenizer
	sampler Sampler
	stop    *StopCriteria
	log     logger.Logger
	metrics *metrics.DecodeMetrics

	state  atomic.Int32
	cancel atomic.Bool

	handle Handle
	// cached are the tokens whose KV state the handle holds.
	cached []int

	// tokens is the prompt followed by the generated ids.
	tokens    []int
	promptLen int
	// evaluated is false while the newest sampled token has not been decoded
	// and checked against the stop criteria.
	evaluated bool
	decoded   string
	emitted   string
	final     string
	reason    StopReason

	started    time.Time
	decodeFrom time.Time
	stats      Stats
	last       Stats
}

func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.Backend == nil:
		return nil, fmt.Errorf("session: backend is required")
	case cfg.Tokenizer == nil:
		return nil, fmt.Errorf("session: tokenizer is required")
	case cfg.Sampler == nil:
		return nil, fmt.Errorf("session: sampler is required")
	}
	id := uuid.NewString()
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Session{
		id:      id,
		backend: cfg.Backend,
		tok:     cfg.Tokenizer,
		sampler: cfg.Sampler,
		stop:    NewStopCriteria(cfg.Stop),
		log:     log.With("session", id),
		metrics: cfg.Metrics,
		reason:  StopNone,
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Stopped reports whether the last Decode ended the turn.
func (s *Session) Stopped() bool {
	return s.State() == Finalizing
}

// Message returns the text streamed so far in the current turn.
func (s *Session) Message() string {
	return s.emitted
}

// CachedTokens reports how many tokens the retained handle holds.
func (s *Session) CachedTokens() int {
	return len(s.cached)
}

// LastStats returns the statistics of the most recently finished turn.
func (s *Session) LastStats() Stats {
	return s.last
}

// RuntimeStatsText formats the throughput of the last finished turn.
func (s *Session) RuntimeStatsText() string {
	return fmt.Sprintf("prefill: %.1f tok/s, decode: %.1f tok/s", s.last.PrefillTPS(), s.last.DecodeTPS())
}

// Reset drops the handle and all token state. While a turn is active it only
// requests cancellation; the decode loop observes it at the next step
// boundary and returns ErrCancelled.
func (s *Session) Reset() {
	if !s.state.CompareAndSwap(int32(Idle), int32(Prefilling)) {
		s.cancel.Store(true)
		s.log.Debug("reset requested during generation", "state", s.State().String())
		return
	}
	s.invalidate()
	s.cancel.Store(false)
	s.state.Store(int32(Idle))
	s.log.Debug("session reset")
}

// Prefill encodes prompt and submits it to the backend, reusing the retained
// KV state when it holds a strict prefix of the prompt tokens. The first
// token is sampled before returning.
func (s *Session) Prefill(ctx context.Context, prompt string) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Prefilling)) {
		return fmt.Errorf("prefill in state %s: %w", s.State(), ErrBusy)
	}
	if s.cancel.Swap(false) {
		// a Reset raced with the end of the previous turn
		s.invalidate()
	}

	s.started = time.Now()
	s.stats = Stats{}
	s.decoded, s.emitted, s.final = "", "", ""
	s.reason = StopNone
	s.evaluated = false

	ids, err := safely("Encode", func() ([]int, error) { return s.tok.Encode(prompt) })
	if err != nil {
		return s.fail("prefill", ErrTokenizer, fmt.Errorf("encode prompt: %w", err))
	}
	if len(ids) == 0 {
		return s.fail("prefill", ErrTokenizer, errors.New("prompt encodes to no tokens"))
	}

	reused := 0
	if s.handle != nil && len(s.cached) < len(ids) && hasPrefix(ids, s.cached) {
		reused = len(s.cached)
	} else {
		if s.handle != nil {
			s.log.Debug("prompt diverges from cache, prefilling from scratch", "cached", len(s.cached))
		}
		s.releaseHandle()
		if err := s.checkCancel(ctx); err != nil {
			return s.abort("prefill", err)
		}
		h, err := safely("Open", func() (Handle, error) { return s.backend.Open(ctx) })
		if err != nil {
			return s.fail("prefill", s.backendKind(ctx, err), fmt.Errorf("open handle: %w", err))
		}
		s.handle = h
	}

	if err := s.checkCancel(ctx); err != nil {
		return s.abort("prefill", err)
	}

	suffix := ids[reused:]
	logitsVec, err := safely("Prefill", func() ([]float32, error) {
		return s.backend.Prefill(ctx, s.handle, suffix)
	})
	if err != nil {
		kind := s.backendKind(ctx, err)
		if errors.Is(err, ErrContextLength) {
			kind = ErrPromptTooLong
		}
		return s.fail("prefill", kind, fmt.Errorf("prefill %d tokens: %w", len(suffix), err))
	}
	s.cached = append(s.cached[:reused], suffix...)
	s.tokens = append(s.tokens[:0], ids...)
	s.promptLen = len(ids)

	s.stats.PromptTokens = len(ids)
	s.stats.CachedTokens = reused
	s.stats.PrefillDuration = time.Since(s.started)
	s.metrics.ObservePrefill(s.stats.PrefillDuration)
	s.log.Debug("prefill done", "prompt_tokens", len(ids), "reused", reused, "took", s.stats.PrefillDuration)

	if err := s.checkCancel(ctx); err != nil {
		return s.abort("prefill", err)
	}
	if err := s.sampleNext(logitsVec); err != nil {
		return s.fail("prefill", ErrSampler, err)
	}
	s.decodeFrom = time.Now()
	s.state.Store(int32(Decoding))
	return nil
}

// Decode runs one decode step and returns the text change to show. When the
// step ends the turn, Stopped reports true and the delta brings the shown
// text to its final form.
func (s *Session) Decode(ctx context.Context) (textdiff.Delta, error) {
	if s.State() != Decoding {
		return textdiff.Delta{}, fmt.Errorf("decode in state %s: %w", s.State(), ErrBusy)
	}
	stepStart := time.Now()

	if err := s.checkCancel(ctx); err != nil {
		return textdiff.Delta{}, s.abort("decode", err)
	}

	if s.evaluated {
		next := s.tokens[len(s.tokens)-1]
		logitsVec, err := safely("Step", func() ([]float32, error) {
			return s.backend.Step(ctx, s.handle, next)
		})
		if err != nil {
			if kind := s.backendKind(ctx, err); kind == ErrCancelled {
				return textdiff.Delta{}, s.abort("decode", err)
			}
			return textdiff.Delta{}, s.fail("decode", ErrBackend, fmt.Errorf("step token %d: %w", next, err))
		}
		s.cached = append(s.cached, next)
		if err := s.checkCancel(ctx); err != nil {
			return textdiff.Delta{}, s.abort("decode", err)
		}
		if err := s.sampleNext(logitsVec); err != nil {
			return textdiff.Delta{}, s.fail("decode", ErrSampler, err)
		}
	}
	s.evaluated = true

	output := s.tokens[s.promptLen:]
	text := s.decoded
	if !s.stop.IsStopToken(output[len(output)-1]) {
		var err error
		text, err = safely("Decode", func() (string, error) { return s.tok.Decode(output) })
		if err != nil {
			return textdiff.Delta{}, s.fail("decode", ErrTokenizer, fmt.Errorf("decode %d tokens: %w", len(output), err))
		}
	}

	decision := s.stop.ShouldStop(output, text, len(output))
	var target string
	switch decision.Action {
	case StopClean:
		target = text
	case StopAndTrim:
		target = text[:len(text)-decision.Trim]
	default:
		s.decoded = text
		target = text[:len(text)-s.stop.HoldBack(text)]
		target = target[:textdiff.StableLen(target)]
	}

	delta := textdiff.Compute(s.emitted, target)
	s.emitted = target
	if delta.Correcting() {
		s.metrics.ObserveCorrection()
		s.log.Debug("correcting delta", "backtrack", delta.Backtrack)
	}
	if s.stats.TimeToFirstToken == 0 && delta.Text != "" {
		s.stats.TimeToFirstToken = time.Since(s.started)
		s.metrics.ObserveFirstToken(s.stats.TimeToFirstToken)
	}
	s.metrics.ObserveStep(time.Since(stepStart))

	if decision.Action != Continue {
		s.final = target
		s.decoded = target
		s.reason = decision.Reason
		s.state.Store(int32(Finalizing))
		s.log.Debug("stop", "reason", string(decision.Reason), "action", decision.Action.String(), "tokens", len(output))
	}
	return delta, nil
}

// Finish closes a stopped turn and returns its result. The handle is kept for
// prefix reuse by the next turn.
func (s *Session) Finish() (*Result, error) {
	if s.State() != Finalizing {
		return nil, fmt.Errorf("finish in state %s: %w", s.State(), ErrBusy)
	}
	if s.cancel.Load() {
		return nil, s.abort("finish", nil)
	}

	output := s.tokens[s.promptLen:]
	if s.reason == StopToken {
		output = output[:len(output)-1]
	}
	s.stats.GeneratedTokens = len(s.tokens) - s.promptLen
	s.stats.DecodeDuration = time.Since(s.decodeFrom)
	s.last = s.stats

	res := &Result{
		Text:   s.final,
		Reason: s.reason,
		Tokens: slices.Clone(output),
		Stats:  s.stats,
	}
	s.metrics.ObserveGeneration(string(s.reason))
	s.metrics.ObserveTokens(s.stats.PromptTokens, s.stats.CachedTokens, s.stats.GeneratedTokens)
	s.log.Debug("generation finished",
		"reason", string(s.reason),
		"generated", s.stats.GeneratedTokens,
		"cached", len(s.cached),
		"decode_tps", s.stats.DecodeTPS(),
	)
	s.state.Store(int32(Idle))
	return res, nil
}

// Generate runs a whole turn, calling emit for every non-empty delta in
// order. An emit error aborts the turn like a cancellation.
func (s *Session) Generate(ctx context.Context, prompt string, emit func(textdiff.Delta) error) (*Result, error) {
	if err := s.Prefill(ctx, prompt); err != nil {
		return nil, err
	}
	for {
		delta, err := s.Decode(ctx)
		if err != nil {
			return nil, err
		}
		if emit != nil && !delta.Empty() {
			if err := emit(delta); err != nil {
				return nil, s.abort("emit", err)
			}
		}
		if s.Stopped() {
			return s.Finish()
		}
	}
}

func (s *Session) sampleNext(logitsVec []float32) error {
	next, err := safely("Sample", func() (int, error) {
		return s.sampler.Sample(logitsVec, s.tokens), nil
	})
	if err != nil {
		return err
	}
	if next < 0 || next >= len(logitsVec) {
		return fmt.Errorf("sampled id %d outside vocabulary of %d", next, len(logitsVec))
	}
	s.tokens = append(s.tokens, next)
	return nil
}

func (s *Session) checkCancel(ctx context.Context) error {
	if s.cancel.Load() {
		return errors.New("session reset")
	}
	return ctx.Err()
}

func (s *Session) backendKind(ctx context.Context, err error) error {
	if ctx.Err() != nil || s.cancel.Load() || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return ErrBackend
}

// abort ends the turn as cancelled. The handle may hold tokens of the
// abandoned turn, so it is dropped.
func (s *Session) abort(op string, cause error) error {
	partial := s.emitted
	s.invalidate()
	s.cancel.Store(false)
	s.reason = StopCancelled
	s.state.Store(int32(Idle))
	s.metrics.ObserveGeneration(string(StopCancelled))
	s.log.Debug("generation cancelled", "op", op, "emitted", len(partial))
	return newGenerationError(ErrCancelled, op, partial, cause)
}

// fail ends the turn on a collaborator error. Cache state is undefined after
// a failed backend call, so the handle is dropped.
func (s *Session) fail(op string, kind, cause error) error {
	if kind == ErrCancelled {
		return s.abort(op, cause)
	}
	partial := s.emitted
	s.invalidate()
	s.cancel.Store(false)
	s.state.Store(int32(Idle))
	s.metrics.ObserveError(errorKindLabel(kind))
	s.log.Warn("generation failed", "op", op, "kind", errorKindLabel(kind), "error", cause)
	return newGenerationError(kind, op, partial, cause)
}

func (s *Session) invalidate() {
	s.releaseHandle()
	s.tokens = s.tokens[:0]
	s.promptLen = 0
	s.evaluated = false
	s.decoded, s.emitted, s.final = "", "", ""
}

func (s *Session) releaseHandle() {
	if s.handle != nil {
		h := s.handle
		if _, err := safely("Release", func() (struct{}, error) { return struct{}{}, s.backend.Release(h) }); err != nil {
			s.log.Warn("release handle", "error", err)
		}
	}
	s.handle = nil
	s.cached = s.cached[:0]
}

func errorKindLabel(kind error) string {
	switch kind {
	case ErrPromptTooLong:
		return "prompt_too_long"
	case ErrBackend:
		return "backend"
	case ErrTokenizer:
		return "tokenizer"
	case ErrSampler:
		return "sampler"
	case ErrCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func hasPrefix(ids, prefix []int) bool {
	return len(prefix) <= len(ids) && slices.Equal(ids[:len(prefix)], prefix)
}

// safely converts a panic in a collaborator into an error.
func safely[T any](name string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", name, rec)
		}
	}()
	return fn()
}
