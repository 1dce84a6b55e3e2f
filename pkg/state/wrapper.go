package state

import (
	"context"

	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/logger"
)

// Wrapper returns the state-management middleware factory for the plugin
// adapter. The wrapped handler records the user turn and the capability's
// reply in the task's conversation context. State failures are logged but
// never fail the request.
func Wrapper(store Store) capabilities.StateWrapperFunc {
	return func(capabilityID string, override *config.StateConfig) capabilities.Middleware {
		if store == nil || (override != nil && !override.Enabled) {
			return func(next capabilities.Handler) capabilities.Handler { return next }
		}

		return func(next capabilities.Handler) capabilities.Handler {
			return func(ctx context.Context, cc *capabilities.CapabilityContext) (*capabilities.CapabilityResult, error) {
				log := logger.WithComponent("state")

				contextID := ""
				if cc.Task != nil {
					contextID = cc.Task.ContextID
				}
				if contextID == "" {
					return next(ctx, cc)
				}

				if cc.UserInput != "" {
					if err := store.AddToHistory(ctx, contextID, "user", cc.UserInput,
						map[string]any{"capability": capabilityID}); err != nil {
						log.Warn("failed to record user turn", "context_id", contextID, "error", err)
					}
				}

				result, err := next(ctx, cc)

				if err == nil && result != nil && result.Content != "" {
					if herr := store.AddToHistory(ctx, contextID, "assistant", result.Content,
						map[string]any{"capability": capabilityID}); herr != nil {
						log.Warn("failed to record assistant turn", "context_id", contextID, "error", herr)
					}
				}
				return result, err
			}
		}
	}
}
