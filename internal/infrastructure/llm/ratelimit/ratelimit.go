// Package ratelimit throttles outbound model calls so batch processing
// cannot starve interactive search traffic of provider quota.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

type Embedder struct {
	inner   ports.Embedder
	limiter *rate.Limiter
}

func NewEmbedder(inner ports.Embedder, rps float64, burst int) *Embedder {
	return &Embedder{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed rate limit: %w", err)
	}
	return e.inner.Embed(ctx, texts)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed query rate limit: %w", err)
	}
	return e.inner.EmbedQuery(ctx, text)
}

type Classifier struct {
	inner   ports.Classifier
	limiter *rate.Limiter
}

func NewClassifier(inner ports.Classifier, rps float64, burst int) *Classifier {
	return &Classifier{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (c *Classifier) ClassifyChunk(ctx context.Context, text string) (domain.ChunkClassification, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ChunkClassification{}, fmt.Errorf("classify rate limit: %w", err)
	}
	return c.inner.ClassifyChunk(ctx, text)
}

func (c *Classifier) ClassifyQuery(ctx context.Context, text string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("classify query rate limit: %w", err)
	}
	return c.inner.ClassifyQuery(ctx, text)
}
