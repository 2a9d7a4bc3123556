// Package cache memoizes query embeddings. Repeated searches for the same
// question are common in dashboard use, and query vectors are immutable for
// a given model, so a short TTL cache removes most interactive embed calls.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

type Embedder struct {
	inner ports.Embedder
	store *gocache.Cache
}

func NewEmbedder(inner ports.Embedder, ttl time.Duration) *Embedder {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Embedder{
		inner: inner,
		store: gocache.New(ttl, 2*ttl),
	}
}

// Embed passes through uncached: chunk batches are unique per document and
// caching them would only grow memory.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.inner.Embed(ctx, texts)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := queryKey(text)
	if cached, ok := e.store.Get(key); ok {
		if vector, ok := cached.([]float32); ok {
			return vector, nil
		}
	}

	vector, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.store.SetDefault(key, vector)
	return vector, nil
}

func queryKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
