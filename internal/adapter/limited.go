package adapter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps an LLMAdapter so completions and embeddings share one
// request budget.
type Limited struct {
	next    LLMAdapter
	limiter *rate.Limiter
}

var _ LLMAdapter = (*Limited)(nil)

// NewLimited allows perMinute requests per minute with a burst of one tenth
// of that, at least one. perMinute <= 0 disables limiting.
func NewLimited(next LLMAdapter, perMinute int) *Limited {
	if perMinute <= 0 {
		return &Limited{next: next, limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := max(1, perMinute/10)
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

// Complete waits for a token, then calls the wrapped adapter.
func (l *Limited) Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("adapter: rate limit: %w", err)
	}
	return l.next.Complete(ctx, req)
}

// Embed waits for a token, then calls the wrapped adapter.
func (l *Limited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("adapter: rate limit: %w", err)
	}
	return l.next.Embed(ctx, texts)
}

// Info reports the wrapped adapter's model.
func (l *Limited) Info() ModelInfo { return l.next.Info() }
