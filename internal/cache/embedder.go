package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"bizfin-insight/internal/ai"
	"bizfin-insight/internal/pkg/logger"
)

// VectorStore is the shared cache tier behind an embedder.
type VectorStore interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// NewStoreEmbedder consults store before calling next. Store failures are
// logged and never fail the embedding.
func NewStoreEmbedder(next ai.Embedder, store VectorStore) ai.Embedder {
	if next == nil || store == nil {
		return next
	}
	return &storeEmbedder{next: next, store: store}
}

type storeEmbedder struct {
	next  ai.Embedder
	store VectorStore
}

func (s *storeEmbedder) Dimension() int    { return s.next.Dimension() }
func (s *storeEmbedder) ModelName() string { return s.next.ModelName() }

func (s *storeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := EmbeddingKey(s.next.ModelName(), s.next.Dimension(), text)
	vec, ok, err := s.store.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).Warn("embedding cache read failed", zap.Error(err))
	}
	if ok && len(vec) == s.next.Dimension() {
		logger.FromContext(ctx).Debug("embedding cache hit (shared)")
		return vec, nil
	}

	vec, err = s.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, key, vec); err != nil {
		logger.FromContext(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
	return vec, nil
}

// NewLRUEmbedder keeps recently used vectors in process memory.
func NewLRUEmbedder(next ai.Embedder, size int, ttl time.Duration) ai.Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.Embedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Dimension() int    { return l.next.Dimension() }
func (l *lruEmbedder) ModelName() string { return l.next.ModelName() }

func (l *lruEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := EmbeddingKey(l.next.ModelName(), l.next.Dimension(), text)
	if cached, ok := l.cache.Get(key); ok {
		logger.FromContext(ctx).Debug("embedding cache hit (lru)")
		return cloneVector(cached), nil
	}
	vec, err := l.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, cloneVector(vec))
	return vec, nil
}

func cloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
