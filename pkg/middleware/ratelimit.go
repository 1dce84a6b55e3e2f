package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/agentup/agentup/pkg/capabilities"
)

type rateLimitParams struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

// tokenBucket is a minute-scale limiter refilled continuously.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	rate   float64 // tokens per second
	last   time.Time
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimitError marks a request refused by the rate_limit middleware.
type RateLimitError struct {
	Capability string
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded"
}

func newRateLimit(params map[string]any) (capabilities.Middleware, error) {
	p := rateLimitParams{RequestsPerMinute: 60, Burst: 10}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Burst < 1 {
		p.Burst = 1
	}

	bucket := &tokenBucket{
		tokens: float64(p.Burst),
		burst:  float64(p.Burst),
		rate:   p.RequestsPerMinute / 60,
		last:   time.Now(),
	}

	return func(next capabilities.Handler) capabilities.Handler {
		return func(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
			if !bucket.allow() {
				return nil, &RateLimitError{}
			}
			return next(ctx, cc)
		}
	}, nil
}
