package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Embedder is what the vector index needs from an embedding model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Lazy builds the shared embedding model on first use. Concurrent first
// callers wait for a single build; a failed build is not remembered, so the
// next caller tries again. One Lazy is created at startup and passed to
// every consumer.
type Lazy struct {
	build func(ctx context.Context) (Embedder, error)

	mu       sync.Mutex
	embedder Embedder
}

// NewLazy wraps build. build runs at most once successfully.
func NewLazy(build func(ctx context.Context) (Embedder, error)) *Lazy {
	return &Lazy{build: build}
}

// LazyClient returns a Lazy that creates a Client from config and warms the
// model with one request, so the first real batch does not pay the load cost.
func LazyClient(config Config) *Lazy {
	return NewLazy(func(ctx context.Context) (Embedder, error) {
		client, err := New(config)
		if err != nil {
			return nil, err
		}
		slog.Info("loading embedding model", "model", config.Model)
		if _, err := client.Embed(ctx, "warmup"); err != nil {
			return nil, fmt.Errorf("failed to warm up embedding model: %w", err)
		}
		return client, nil
	})
}

// Get returns the shared embedder, building it if needed.
func (l *Lazy) Get(ctx context.Context) (Embedder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.embedder != nil {
		return l.embedder, nil
	}
	e, err := l.build(ctx)
	if err != nil {
		return nil, err
	}
	l.embedder = e
	return e, nil
}

// Embed implements Embedder.
func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// EmbedBatch implements Embedder.
func (l *Lazy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}
