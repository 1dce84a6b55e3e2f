package middleware

import (
	"context"
	"time"

	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/logger"
)

type timedParams struct {
	WarnThreshold time.Duration `mapstructure:"warn_threshold"`
}

// newTimed logs handler latency, warning when it exceeds the threshold.
func newTimed(capabilityID string, params map[string]any) (capabilities.Middleware, error) {
	p := timedParams{WarnThreshold: 5 * time.Second}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	return func(next capabilities.Handler) capabilities.Handler {
		return func(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
			log := logger.WithComponent("middleware")

			start := time.Now()
			result, err := next(ctx, cc)
			elapsed := time.Since(start)

			if elapsed > p.WarnThreshold {
				log.Warn("slow capability", "capability", capabilityID, "duration", elapsed)
			} else {
				log.Debug("capability timed", "capability", capabilityID, "duration", elapsed)
			}
			return result, err
		}
	}, nil
}

// newLogged logs each invocation with its outcome.
func newLogged(capabilityID string) capabilities.Middleware {
	return func(next capabilities.Handler) capabilities.Handler {
		return func(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
			log := logger.WithComponent("middleware")

			taskID := ""
			if cc.Task != nil {
				taskID = cc.Task.ID
			}
			log.Info("capability invoked", "capability", capabilityID, "task_id", taskID)

			result, err := next(ctx, cc)
			if err != nil {
				log.Error("capability failed", "capability", capabilityID, "task_id", taskID, "error", err)
			} else {
				log.Info("capability completed", "capability", capabilityID, "task_id", taskID)
			}
			return result, err
		}
	}
}
