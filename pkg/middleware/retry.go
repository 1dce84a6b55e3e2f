package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/logger"
)

type retryParams struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

func newRetry(params map[string]any) (capabilities.Middleware, error) {
	p := retryParams{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	return func(next capabilities.Handler) capabilities.Handler {
		return func(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
			log := logger.WithComponent("middleware")

			delay := p.InitialDelay
			var lastErr error
			for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
				result, err := next(ctx, cc)
				if err == nil {
					return result, nil
				}
				lastErr = err

				if attempt == p.MaxAttempts {
					break
				}
				log.Debug("handler failed, retrying",
					"attempt", attempt, "max", p.MaxAttempts, "error", err)

				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
				delay *= 2
			}
			return nil, fmt.Errorf("handler failed after %d attempts: %w", p.MaxAttempts, lastErr)
		}
	}, nil
}
