package llm

import (
	"context"
	"fmt"
	"time"

	"callguard/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter spaces requests to a provider evenly across a minute
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing requestsPerMinute requests, with
// bursts up to the same size. A non-positive rate yields a nil limiter, which
// never blocks.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	every := time.Minute / time.Duration(requestsPerMinute)
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(every), requestsPerMinute)}
}

// Wait blocks until a request may proceed or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}

// RateLimitedProvider wraps a provider with rate limiting
type RateLimitedProvider struct {
	provider Provider
	limiter  *RateLimiter
	logger   *zap.Logger
}

// NewRateLimitedProvider wraps a provider with rate limiting
func NewRateLimitedProvider(provider Provider, requestsPerMinute int, logger *zap.Logger) *RateLimitedProvider {
	return &RateLimitedProvider{
		provider: provider,
		limiter:  NewRateLimiter(requestsPerMinute),
		logger:   logger,
	}
}

func (p *RateLimitedProvider) Classify(ctx context.Context, text string) (*models.ScamAnalysis, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		p.logger.Warn("Rate limit wait aborted", zap.Error(err))
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	return p.provider.Classify(ctx, text)
}

func (p *RateLimitedProvider) Close() error {
	return p.provider.Close()
}

func (p *RateLimitedProvider) GetModelInfo() map[string]interface{} {
	return p.provider.GetModelInfo()
}
