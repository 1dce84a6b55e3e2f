package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/config"
)

func countingHandler(calls *int, result *capabilities.CapabilityResult, err error) capabilities.Handler {
	return func(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
		*calls++
		return result, err
	}
}

func TestBuild(t *testing.T) {
	t.Run("known middleware", func(t *testing.T) {
		chain := Build("echo", []config.MiddlewareConfig{
			{Name: "cache"},
			{Name: "retry"},
			{Name: "timed"},
			{Name: "logged"},
			{Name: "rate_limit"},
		})
		assert.Len(t, chain, 5)
	})

	t.Run("unknown middleware is skipped", func(t *testing.T) {
		chain := Build("echo", []config.MiddlewareConfig{
			{Name: "telemetry"},
			{Name: "cache"},
		})
		assert.Len(t, chain, 1)
	})
}

func TestCacheMiddleware(t *testing.T) {
	mw, err := newCache(nil)
	require.NoError(t, err)

	t.Run("successful results are memoized", func(t *testing.T) {
		calls := 0
		handler := mw(countingHandler(&calls, &capabilities.CapabilityResult{Content: "hi", Success: true}, nil))
		cc := &capabilities.CapabilityContext{UserInput: "echo hi"}

		first, err := handler(context.Background(), cc)
		require.NoError(t, err)
		second, err := handler(context.Background(), cc)
		require.NoError(t, err)

		assert.Equal(t, 1, calls)
		assert.Equal(t, first, second)
	})

	t.Run("different input misses", func(t *testing.T) {
		calls := 0
		handler := mw(countingHandler(&calls, &capabilities.CapabilityResult{Content: "x", Success: true}, nil))

		_, err := handler(context.Background(), &capabilities.CapabilityContext{UserInput: "a"})
		require.NoError(t, err)
		_, err = handler(context.Background(), &capabilities.CapabilityContext{UserInput: "b"})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("failures are not cached", func(t *testing.T) {
		calls := 0
		handler := mw(countingHandler(&calls, &capabilities.CapabilityResult{Error: "boom"}, nil))
		cc := &capabilities.CapabilityContext{UserInput: "fail"}

		_, err := handler(context.Background(), cc)
		require.NoError(t, err)
		_, err = handler(context.Background(), cc)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("config participates in the key", func(t *testing.T) {
		calls := 0
		handler := mw(countingHandler(&calls, &capabilities.CapabilityResult{Success: true}, nil))

		_, err := handler(context.Background(), &capabilities.CapabilityContext{
			UserInput: "same", Config: map[string]any{"format": "uppercase"},
		})
		require.NoError(t, err)
		_, err = handler(context.Background(), &capabilities.CapabilityContext{
			UserInput: "same", Config: map[string]any{"format": "lowercase"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	mw, err := newRateLimit(map[string]any{"requests_per_minute": 1, "burst": 2})
	require.NoError(t, err)

	calls := 0
	handler := mw(countingHandler(&calls, &capabilities.CapabilityResult{Success: true}, nil))
	cc := &capabilities.CapabilityContext{UserInput: "x"}

	_, err = handler(context.Background(), cc)
	require.NoError(t, err)
	_, err = handler(context.Background(), cc)
	require.NoError(t, err)

	_, err = handler(context.Background(), cc)
	require.Error(t, err)
	var rl *RateLimitError
	assert.ErrorAs(t, err, &rl)
	assert.Equal(t, 2, calls)
}

func TestRetryMiddleware(t *testing.T) {
	mw, err := newRetry(map[string]any{"max_attempts": 3, "initial_delay": "1ms"})
	require.NoError(t, err)

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		flaky := func(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return &capabilities.CapabilityResult{Success: true}, nil
		}

		result, err := mw(flaky)(context.Background(), &capabilities.CapabilityContext{})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		failing := countingHandler(&calls, nil, errors.New("permanent"))

		_, err := mw(failing)(context.Background(), &capabilities.CapabilityContext{})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})
}
