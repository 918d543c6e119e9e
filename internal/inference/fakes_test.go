package inference

import (
	"context"
	"errors"
	"sync"
)

const vocabSize = 256

func onehot(id int) []float32 {
	out := make([]float32, vocabSize)
	out[id] = 1
	return out
}

type greedySampler struct{}

func (greedySampler) Sample(logits []float32, _ []int) int {
	best := 0
	for i := range logits {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return best
}

type fixedSampler int

func (f fixedSampler) Sample([]float32, []int) int { return int(f) }

// byteTokenizer encodes bytes as ids. Decode goes through snapshots when set,
// indexed by the number of ids, to simulate re-segmenting decoders.
type byteTokenizer struct {
	snapshots []string
	decodeErr error
	panicOn   int
}

func (t *byteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := range len(text) {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (t *byteTokenizer) Decode(ids []int) (string, error) {
	if t.panicOn > 0 && len(ids) == t.panicOn {
		panic("decode boom")
	}
	if t.decodeErr != nil {
		return "", t.decodeErr
	}
	if t.snapshots != nil {
		return t.snapshots[len(ids)-1], nil
	}
	b := make([]byte, len(ids))
	for i, id := range ids {
		b[i] = byte(id)
	}
	return string(b), nil
}

type scriptHandle struct {
	pos int
}

// scriptBackend replies with script after every prefill.
type scriptBackend struct {
	script []int

	prefillErr error
	// failAtStep fails the nth Step call (1-based) of a turn.
	failAtStep int
	onStep     func(n int)

	mu       sync.Mutex
	opened   int
	released int
	prefills [][]int
	steps    []int
}

func (b *scriptBackend) Open(ctx context.Context) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++
	return &scriptHandle{}, nil
}

func (b *scriptBackend) Prefill(ctx context.Context, h Handle, tokens []int) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prefillErr != nil {
		return nil, b.prefillErr
	}
	b.prefills = append(b.prefills, append([]int(nil), tokens...))
	hd := h.(*scriptHandle)
	hd.pos = 0
	return onehot(b.script[0]), nil
}

func (b *scriptBackend) Step(ctx context.Context, h Handle, token int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	hd := h.(*scriptHandle)
	hd.pos++
	b.steps = append(b.steps, token)
	n := hd.pos
	hook := b.onStep
	b.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if b.failAtStep > 0 && n == b.failAtStep {
		return nil, errBackendDown
	}
	next := b.script[min(n, len(b.script)-1)]
	return onehot(next), nil
}

func (b *scriptBackend) Release(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released++
	return nil
}

func (b *scriptBackend) counts() (opened, released int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.released
}

var errBackendDown = errors.New("device lost")
