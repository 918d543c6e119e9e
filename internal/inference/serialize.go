package inference

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/parley/internal/metrics"
)

// SerialBackend allows one backend call at a time across every session that
// shares it. Calls wait with their own context.
type SerialBackend struct {
	inner   Backend
	sem     *semaphore.Weighted
	metrics *metrics.DecodeMetrics
}

// Serialize wraps b so that concurrent sessions never overlap backend calls.
// Wrapping an already serialized backend returns it unchanged.
func Serialize(b Backend, m *metrics.DecodeMetrics) *SerialBackend {
	if sb, ok := b.(*SerialBackend); ok {
		return sb
	}
	return &SerialBackend{
		inner:   b,
		sem:     semaphore.NewWeighted(1),
		metrics: m,
	}
}

// Unwrap returns the guarded backend.
func (b *SerialBackend) Unwrap() Backend {
	return b.inner
}

func (b *SerialBackend) acquire(ctx context.Context) error {
	start := time.Now()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for shared backend: %w", err)
	}
	b.metrics.ObserveBackendWait(time.Since(start))
	return nil
}

func (b *SerialBackend) Open(ctx context.Context) (Handle, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)
	return b.inner.Open(ctx)
}

func (b *SerialBackend) Prefill(ctx context.Context, h Handle, tokens []int) ([]float32, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)
	return b.inner.Prefill(ctx, h, tokens)
}

func (b *SerialBackend) Step(ctx context.Context, h Handle, token int) ([]float32, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)
	return b.inner.Step(ctx, h, token)
}

func (b *SerialBackend) Release(h Handle) error {
	if err := b.acquire(context.Background()); err != nil {
		return err
	}
	defer b.sem.Release(1)
	return b.inner.Release(h)
}
