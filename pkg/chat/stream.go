package chat

import (
	"context"
	"errors"
	"iter"
)

var errConsumerStopped = errors.New("consumer stopped iterating")

// Stream is a lazy reply: nothing is generated until Deltas is ranged over,
// and it generates only once. Ranging over Deltas again yields nothing and
// leaves Err and Result at the outcome of the first range.
type Stream struct {
	s    *Session
	ctx  context.Context
	text string

	used bool
	res  *Result
	err  error
}

// Generate prepares a reply to userText. Breaking out of the range over
// Deltas cancels the generation.
func (s *Session) Generate(ctx context.Context, userText string) *Stream {
	return &Stream{s: s, ctx: ctx, text: userText}
}

func (st *Stream) Deltas() iter.Seq[Delta] {
	return func(yield func(Delta) bool) {
		if st.used {
			st.s.log.Warn("stream ranged over again after it was consumed")
			return
		}
		st.used = true
		st.res, st.err = st.s.Send(st.ctx, st.text, func(d Delta) error {
			if !yield(d) {
				return errConsumerStopped
			}
			return nil
		})
	}
}

// Err reports why the stream ended early, after ranging completes.
func (st *Stream) Err() error {
	return st.err
}

// Result is the finished reply, or nil if the stream failed or has not been
// consumed.
func (st *Stream) Result() *Result {
	return st.res
}

// GenerateChannel generates a reply to userText, streaming deltas on the
// first channel. Both channels are closed when generation ends. The error
// channel receives at most one value and is buffered so an unread error does
// not leak the goroutine. Cancelling ctx stops the generation.
func (s *Session) GenerateChannel(ctx context.Context, userText string) (<-chan Delta, <-chan error) {
	deltaCh := make(chan Delta, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(deltaCh)

		_, err := s.Send(ctx, userText, func(d Delta) error {
			select {
			case deltaCh <- d:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errCh <- err
		}
	}()

	return deltaCh, errCh
}
