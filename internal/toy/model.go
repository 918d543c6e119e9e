// Package toy provides a deterministic in-process language model and a byte
// tokenizer, for exercising the decode loop without model weights.
package toy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samcharles93/parley/internal/inference"
)

// Responder computes the reply to a rendered prompt.
type Responder func(prompt string) string

// userSpans are the opening and closing markers of a user turn in each
// supported chat format.
var userSpans = [][2]string{
	{"<|im_start|>user\n", "<|im_end|>"},
	{"<|start_header_id|>user<|end_header_id|>\n\n", "<|eot_id|>"},
	{"<start_of_turn>user\n", "<end_of_turn>"},
	{"[INST] ", " [/INST]"},
	{"User: ", "\n"},
}

// Echo replies with the content of the last user turn in the prompt.
func Echo(prompt string) string {
	best, bestAt := "", -1
	for _, span := range userSpans {
		at := strings.LastIndex(prompt, span[0])
		if at < 0 || at < bestAt {
			continue
		}
		body := prompt[at+len(span[0]):]
		if end := strings.Index(body, span[1]); end >= 0 {
			body = body[:end]
		}
		best, bestAt = body, at
	}
	if bestAt < 0 {
		return prompt
	}
	// mistral folds the system prompt into the first instruction
	if i := strings.LastIndex(best, "\n\n"); i >= 0 {
		best = best[i+2:]
	}
	return best
}

// Vocab is the tokenizer a Model replies with.
type Vocab interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	VocabSize() int
	// EOS must be a valid id; it ends every reply.
	EOS() int
}

// Model is a backend whose logits put all mass on the next token of the
// Responder's reply, then on EOS.
type Model struct {
	Tokenizer Vocab
	Respond   Responder
	// MaxContext is the context window in tokens; 0 means unlimited.
	MaxContext int
	// StepDelay slows every forward pass, for demos.
	StepDelay time.Duration

	mu   sync.Mutex
	open int
}

func NewModel(tok Vocab, respond Responder) *Model {
	if respond == nil {
		respond = Echo
	}
	return &Model{Tokenizer: tok, Respond: respond}
}

type handle struct {
	context []int
	reply   []int
	cursor  int
	closed  bool
}

// OpenHandles reports how many handles have not been released.
func (m *Model) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Model) Open(ctx context.Context) (inference.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.open++
	m.mu.Unlock()
	return &handle{}, nil
}

func (m *Model) Prefill(ctx context.Context, h inference.Handle, tokens []int) ([]float32, error) {
	hd, err := m.handle(h)
	if err != nil {
		return nil, err
	}
	if m.MaxContext > 0 && len(hd.context)+len(tokens) > m.MaxContext {
		return nil, fmt.Errorf("toy: %d tokens exceed window of %d: %w", len(hd.context)+len(tokens), m.MaxContext, inference.ErrContextLength)
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	hd.context = append(hd.context, tokens...)
	prompt, err := m.Tokenizer.Decode(hd.context)
	if err != nil {
		return nil, err
	}
	reply, err := m.Tokenizer.Encode(m.Respond(prompt))
	if err != nil {
		return nil, err
	}
	hd.reply = append(reply, m.Tokenizer.EOS())
	hd.cursor = 0
	return m.logits(hd), nil
}

func (m *Model) Step(ctx context.Context, h inference.Handle, token int) ([]float32, error) {
	hd, err := m.handle(h)
	if err != nil {
		return nil, err
	}
	if m.MaxContext > 0 && len(hd.context)+1 > m.MaxContext {
		return nil, fmt.Errorf("toy: window of %d tokens is full: %w", m.MaxContext, inference.ErrContextLength)
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	hd.context = append(hd.context, token)
	hd.cursor++
	return m.logits(hd), nil
}

func (m *Model) Release(h inference.Handle) error {
	hd, err := m.handle(h)
	if err != nil {
		return err
	}
	hd.closed = true
	m.mu.Lock()
	m.open--
	m.mu.Unlock()
	return nil
}

func (m *Model) handle(h inference.Handle) (*handle, error) {
	hd, ok := h.(*handle)
	if !ok || hd == nil {
		return nil, fmt.Errorf("toy: foreign handle %T", h)
	}
	if hd.closed {
		return nil, fmt.Errorf("toy: handle already released")
	}
	return hd, nil
}

func (m *Model) wait(ctx context.Context) error {
	if m.StepDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Model) logits(hd *handle) []float32 {
	out := make([]float32, m.Tokenizer.VocabSize())
	next := m.Tokenizer.EOS()
	if hd.cursor < len(hd.reply) {
		next = hd.reply[hd.cursor]
	}
	out[next] = 10
	return out
}
