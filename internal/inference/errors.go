package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrPromptTooLong is returned when the backend rejects a prompt that does
	// not fit its context window.
	ErrPromptTooLong = errors.New("prompt too long")
	// ErrBackend marks failures of a forward pass or of the KV-cache handle.
	ErrBackend = errors.New("backend error")
	// ErrTokenizer marks encode or decode failures.
	ErrTokenizer = errors.New("tokenizer error")
	// ErrSampler marks a sampler that panicked or returned an out of range id.
	ErrSampler = errors.New("sampler error")
	// ErrCancelled is returned when a generation is stopped by Reset or by its
	// context.
	ErrCancelled = errors.New("generation cancelled")
	// ErrBusy is returned when a step-wise call is made in the wrong state.
	ErrBusy = errors.New("session busy")

	// ErrContextLength is returned by backends whose context window cannot
	// hold the submitted tokens.
	ErrContextLength = errors.New("context length exceeded")
)

// GenerationError reports a failed or cancelled generation together with the
// text that had been streamed before it stopped.
type GenerationError struct {
	// Kind is one of the sentinel errors above.
	Kind    error
	Op      string
	Partial string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err == nil || errors.Is(e.Err, e.Kind) {
		if e.Err == nil {
			return fmt.Sprintf("%s: %v", e.Op, e.Kind)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PartialText returns the text streamed before err, if err carries it.
func PartialText(err error) string {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Partial
	}
	return ""
}

func newGenerationError(kind error, op, partial string, cause error) *GenerationError {
	return &GenerationError{Kind: kind, Op: op, Partial: partial, Err: cause}
}
