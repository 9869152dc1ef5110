package rag

import (
	"context"
	"fmt"
	"time"
)

// EmbeddingClient is one raw call to the embedding provider, with no
// retry or validation policy attached.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder wraps the provider with the policy the pipeline relies on:
// a fixed dimension checked on every returned vector, per-call timeouts,
// and bounded exponential backoff. Embedding calls are idempotent, so
// retrying is safe; callers must not hold locks across these calls.
type Embedder struct {
	client      EmbeddingClient
	dimension   int
	timeout     time.Duration
	maxAttempts int
	baseBackoff time.Duration
}

func NewEmbedder(client EmbeddingClient, dimension int, timeout time.Duration, maxAttempts int, baseBackoff time.Duration) (*Embedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrConfig, dimension)
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("%w: embed attempts must be positive, got %d", ErrConfig, maxAttempts)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if baseBackoff <= 0 {
		baseBackoff = 250 * time.Millisecond
	}
	return &Embedder{
		client:      client,
		dimension:   dimension,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}, nil
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed returns the vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.withRetry(ctx, func(callCtx context.Context) error {
		v, callErr := e.client.Embed(callCtx, text)
		if callErr != nil {
			return callErr
		}
		if len(v) != e.dimension {
			return fmt.Errorf("vector has dimension %d, want %d", len(v), e.dimension)
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	return vec, nil
}

// EmbedBatch returns one vector per input, in input order. A provider
// failure fails the whole batch; there are no silent drops.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vecs [][]float32
	err := e.withRetry(ctx, func(callCtx context.Context) error {
		v, callErr := e.client.EmbedBatch(callCtx, texts)
		if callErr != nil {
			return callErr
		}
		if len(v) != len(texts) {
			return fmt.Errorf("got %d vectors for %d inputs", len(v), len(texts))
		}
		for i := range v {
			if len(v[i]) != e.dimension {
				return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v[i]), e.dimension)
			}
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	return vecs, nil
}

func (e *Embedder) withRetry(ctx context.Context, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := e.baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		lastErr = call(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("after %d attempts: %v", e.maxAttempts, lastErr)
}
