package inference

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/parley/internal/textdiff"
)

const stopID = 0

func newTestSession(t *testing.T, b Backend, tok Tokenizer, stop StopConfig) *Session {
	t.Helper()
	if stop.StopTokens == nil {
		stop.StopTokens = []int{stopID}
	}
	s, err := NewSession(SessionConfig{Backend: b, Tokenizer: tok, Sampler: greedySampler{}, Stop: stop})
	require.NoError(t, err)
	return s
}

func generate(s *Session, ctx context.Context, prompt string) ([]textdiff.Delta, *Result, error) {
	var deltas []textdiff.Delta
	res, err := s.Generate(ctx, prompt, func(d textdiff.Delta) error {
		deltas = append(deltas, d)
		return nil
	})
	return deltas, res, err
}

func applyAll(deltas []textdiff.Delta) string {
	shown := ""
	for _, d := range deltas {
		shown = textdiff.Apply(shown, d)
	}
	return shown
}

func TestNewSessionRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewSession(SessionConfig{Tokenizer: &byteTokenizer{}, Sampler: greedySampler{}})
	require.Error(t, err)
	_, err = NewSession(SessionConfig{Backend: &scriptBackend{}, Sampler: greedySampler{}})
	require.Error(t, err)
	_, err = NewSession(SessionConfig{Backend: &scriptBackend{}, Tokenizer: &byteTokenizer{}})
	require.Error(t, err)
}

func TestGenerateStreamsDeltas(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"Hel", "Hello", "Hello!"}}, StopConfig{})

	deltas, res, err := generate(s, context.Background(), "Hi")
	require.NoError(t, err)

	assert.Equal(t, []textdiff.Delta{{Text: "Hel"}, {Text: "lo"}, {Text: "!"}}, deltas)
	assert.Equal(t, "Hello!", res.Text)
	assert.Equal(t, StopToken, res.Reason)
	assert.False(t, res.Reason.LengthLimitReached())
	assert.Equal(t, []int{10, 11, 12}, res.Tokens)
	assert.Equal(t, 2, res.Stats.PromptTokens)
	assert.Equal(t, 4, res.Stats.GeneratedTokens)
	assert.Equal(t, Idle, s.State())
	// prompt plus every generated token except the unsubmitted stop token
	assert.Equal(t, 5, s.CachedTokens())
}

func TestGenerateCorrectingDelta(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"abc", "abd"}}, StopConfig{})

	deltas, res, err := generate(s, context.Background(), "x")
	require.NoError(t, err)

	require.Len(t, deltas, 2)
	assert.Equal(t, textdiff.Delta{Text: "abc"}, deltas[0])
	assert.Equal(t, textdiff.Delta{Backtrack: 1, Text: "d"}, deltas[1])
	assert.True(t, deltas[1].Correcting())
	assert.Equal(t, "abd", res.Text)
	assert.Equal(t, res.Text, applyAll(deltas))
}

func TestGenerateStopStringIsTrimmedAndNeverShown(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, 13, 14}}
	tok := &byteTokenizer{snapshots: []string{"The", "The answer", "The answer</", "The answer</s>"}}
	s := newTestSession(t, b, tok, StopConfig{StopStrings: []string{"</s>"}})

	deltas, res, err := generate(s, context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, []textdiff.Delta{{Text: "The"}, {Text: " answer"}}, deltas)
	for _, d := range deltas {
		assert.NotContains(t, d.Text, "<")
	}
	assert.Equal(t, "The answer", res.Text)
	assert.Equal(t, StopString, res.Reason)
	assert.Equal(t, []int{10, 11, 12, 13}, res.Tokens)
}

func TestGenerateHoldsBackIncompleteUTF8(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, stopID}}
	tok := &byteTokenizer{snapshots: []string{"caf", "caf�", "café"}}
	s := newTestSession(t, b, tok, StopConfig{})

	deltas, res, err := generate(s, context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, []textdiff.Delta{{Text: "caf"}, {Text: "é"}}, deltas)
	assert.Equal(t, "café", res.Text)
}

func TestGenerateLengthLimit(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"a", "ab", "abc"}}, StopConfig{MaxTokens: 2})

	deltas, res, err := generate(s, context.Background(), "q")
	require.NoError(t, err, "length limit is not an error")

	assert.Equal(t, StopLength, res.Reason)
	assert.True(t, res.Reason.LengthLimitReached())
	assert.Equal(t, "ab", res.Text)
	assert.Equal(t, []int{10, 11}, res.Tokens)
	assert.Equal(t, "ab", applyAll(deltas))
}

func TestPrefillReusesCachedPrefix(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{'x', 'y', stopID}}
	s := newTestSession(t, b, &byteTokenizer{}, StopConfig{})
	ctx := context.Background()

	_, res, err := generate(s, ctx, "ab")
	require.NoError(t, err)
	require.Equal(t, "xy", res.Text)
	require.Equal(t, 4, s.CachedTokens())

	_, res, err = generate(s, ctx, "abxy|cd")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stats.CachedTokens)
	assert.Equal(t, []int{'|', 'c', 'd'}, b.prefills[1])
	opened, released := b.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 0, released)

	_, res, err = generate(s, ctx, "zz")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.CachedTokens)
	assert.Equal(t, []int{'z', 'z'}, b.prefills[2])
	opened, released = b.counts()
	assert.Equal(t, 2, opened)
	assert.Equal(t, 1, released)
}

func TestPrefillIdenticalPromptStartsOver(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{'x', stopID}}
	s := newTestSession(t, b, &byteTokenizer{}, StopConfig{})
	ctx := context.Background()

	_, _, err := generate(s, ctx, "ab")
	require.NoError(t, err)
	require.Equal(t, 3, s.CachedTokens())

	// the cache covers the whole prompt, leaving nothing to prefill
	_, res, err := generate(s, ctx, "abx")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.CachedTokens)
	opened, _ := b.counts()
	assert.Equal(t, 2, opened)
}

func TestPrefillPromptTooLong(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{
		script:     []int{10},
		prefillErr: errors.Join(errors.New("window is 4 tokens"), ErrContextLength),
	}
	s := newTestSession(t, b, &byteTokenizer{}, StopConfig{})

	_, _, err := generate(s, context.Background(), "too long")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPromptTooLong)
	assert.ErrorIs(t, err, ErrContextLength)
	assert.Equal(t, Idle, s.State())
	_, released := b.counts()
	assert.Equal(t, 1, released)
}

func TestPrefillEmptyPrompt(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, &scriptBackend{script: []int{10}}, &byteTokenizer{}, StopConfig{})
	err := s.Prefill(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenizer)
	assert.Equal(t, Idle, s.State())
}

func TestDecodeBackendFailureKeepsPartialText(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, stopID}, failAtStep: 2}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"a", "ab", "abc"}}, StopConfig{})

	deltas, res, err := generate(s, context.Background(), "q")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, "ab", PartialText(err))
	assert.Equal(t, "ab", applyAll(deltas))

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "decode", ge.Op)

	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 0, s.CachedTokens())
	_, released := b.counts()
	assert.Equal(t, 1, released)
}

func TestDecodeTokenizerPanicBecomesError(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"a", "ab"}, panicOn: 2}, StopConfig{})

	_, _, err := generate(s, context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenizer)
	assert.Contains(t, err.Error(), "panic in Decode")
	assert.Equal(t, "a", PartialText(err))
}

func TestSamplerOutOfRange(t *testing.T) {
	t.Parallel()

	s, err := NewSession(SessionConfig{
		Backend:   &scriptBackend{script: []int{10}},
		Tokenizer: &byteTokenizer{},
		Sampler:   fixedSampler(vocabSize + 1),
	})
	require.NoError(t, err)

	err = s.Prefill(context.Background(), "q")
	assert.ErrorIs(t, err, ErrSampler)
	assert.Equal(t, Idle, s.State())
}

func TestResetMidGeneration(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, 13, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"a", "ab", "abc", "abcd"}}, StopConfig{})

	var deltas []textdiff.Delta
	_, err := s.Generate(context.Background(), "q", func(d textdiff.Delta) error {
		deltas = append(deltas, d)
		if len(deltas) == 2 {
			s.Reset()
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, "ab", PartialText(err))
	assert.Len(t, deltas, 2)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 0, s.CachedTokens())

	// the next turn is independent of the abandoned one
	_, res, err := generate(s, context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "abcd", res.Text)
	assert.Equal(t, 0, res.Stats.CachedTokens)
	opened, _ := b.counts()
	assert.Equal(t, 2, opened)
}

func TestResetDuringBackendCall(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, 13, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"a", "ab", "abc", "abcd"}}, StopConfig{})
	b.onStep = func(n int) {
		if n == 2 {
			s.Reset()
		}
	}

	_, _, err := generate(s, context.Background(), "q")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, "ab", PartialText(err))
	assert.Equal(t, Idle, s.State())
}

func TestResetWhileIdleReleasesHandle(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{'x', stopID}}
	s := newTestSession(t, b, &byteTokenizer{}, StopConfig{})

	_, _, err := generate(s, context.Background(), "ab")
	require.NoError(t, err)
	require.NotZero(t, s.CachedTokens())

	s.Reset()
	assert.Equal(t, 0, s.CachedTokens())
	assert.Equal(t, Idle, s.State())
	_, released := b.counts()
	assert.Equal(t, 1, released)
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"a", "ab", "abc"}}, StopConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Generate(ctx, "q", func(textdiff.Delta) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "a", PartialText(err))
	assert.Equal(t, Idle, s.State())
}

func TestEmitErrorAbortsTurn(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"a", "ab"}}, StopConfig{})
	errClosed := errors.New("client went away")

	_, err := s.Generate(context.Background(), "q", func(textdiff.Delta) error { return errClosed })
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, errClosed)
	assert.Equal(t, Idle, s.State())
}

func TestStepwiseAPI(t *testing.T) {
	t.Parallel()

	b := &scriptBackend{script: []int{10, 11, 12, stopID}}
	s := newTestSession(t, b, &byteTokenizer{snapshots: []string{"Hel", "Hello", "Hello!"}}, StopConfig{})
	ctx := context.Background()

	_, err := s.Decode(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Finish()
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, s.Prefill(ctx, "Hi"))
	assert.Equal(t, Decoding, s.State())
	assert.ErrorIs(t, s.Prefill(ctx, "again"), ErrBusy)

	steps := 0
	for !s.Stopped() {
		_, err := s.Decode(ctx)
		require.NoError(t, err)
		steps++
	}
	assert.Equal(t, 4, steps)
	assert.Equal(t, Finalizing, s.State())
	assert.Equal(t, "Hello!", s.Message())

	res, err := s.Finish()
	require.NoError(t, err)
	assert.Equal(t, "Hello!", res.Text)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, res.Stats, s.LastStats())

	assert.Regexp(t, regexp.MustCompile(`^prefill: \d+\.\d tok/s, decode: \d+\.\d tok/s$`), s.RuntimeStatsText())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	names := []string{Idle.String(), Prefilling.String(), Decoding.String(), Finalizing.String(), State(9).String()}
	assert.Equal(t, "idle prefilling decoding finalizing state(9)", strings.Join(names, " "))
}

func TestSessionIDsAreUnique(t *testing.T) {
	t.Parallel()

	a := newTestSession(t, &scriptBackend{}, &byteTokenizer{}, StopConfig{})
	b := newTestSession(t, &scriptBackend{}, &byteTokenizer{}, StopConfig{})
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Len(t, a.ID(), 36)
}
