package capabilities

import (
	"context"
	"fmt"

	"github.com/agentup/agentup/pkg/auth"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/logger"
)

// MiddlewareBuilder turns a declared middleware chain into wrappers. Supplied
// by the middleware package at assembly time.
type MiddlewareBuilder func(capabilityID string, chain []config.MiddlewareConfig) []Middleware

// StateWrapperFunc wraps a handler with conversation-state management.
type StateWrapperFunc func(capabilityID string, override *config.StateConfig) Middleware

// Adapter builds the wrapped handler chain for enabled capabilities:
// auth-context injector, then middleware, then state management, then the
// plugin's execute hook. Wrapping is applied once per capability; a second
// Activate call on the same entry is a no-op.
type Adapter struct {
	registry         *Registry
	auth             *auth.Manager
	buildMiddleware  MiddlewareBuilder
	globalMiddleware []config.MiddlewareConfig
	stateWrapper     StateWrapperFunc
}

func NewAdapter(reg *Registry, authMgr *auth.Manager, build MiddlewareBuilder, global []config.MiddlewareConfig, state StateWrapperFunc) *Adapter {
	return &Adapter{
		registry:         reg,
		auth:             authMgr,
		buildMiddleware:  build,
		globalMiddleware: global,
		stateWrapper:     state,
	}
}

// Activate wraps and enables the capability named by one plugin config
// entry. Returns an error for unknown or errored capabilities.
func (a *Adapter) Activate(cfg config.PluginConfig) error {
	log := logger.WithComponent("capabilities")

	entry, ok := a.registry.Get(cfg.CapabilityID)
	if !ok {
		return fmt.Errorf("capability %q is not registered by any plugin", cfg.CapabilityID)
	}
	if entry.Status == StatusError {
		return fmt.Errorf("capability %q failed registration: %s", cfg.CapabilityID, entry.Err)
	}
	if entry.wrapped {
		entry.Status = StatusActive
		return nil
	}

	if v, ok := entry.Plugin.(ConfigValidator); ok {
		result := v.ValidateConfig(cfg.Config)
		if !result.Valid {
			return fmt.Errorf("capability %q config invalid: %v", cfg.CapabilityID, result.Errors)
		}
	}

	handler := a.executeHandler(entry, cfg)

	if a.stateWrapper != nil {
		handler = a.stateWrapper(cfg.CapabilityID, cfg.StateOverride)(handler)
	}

	// Precedence: per-capability config override, then the plugin's own
	// declaration, then the global chain.
	chain := cfg.Middleware
	if len(chain) == 0 {
		if d, ok := entry.Plugin.(MiddlewareDeclarer); ok {
			chain = d.MiddlewareConfig()
		}
	}
	if len(chain) == 0 {
		chain = a.globalMiddleware
	}
	if a.buildMiddleware != nil {
		wrappers := a.buildMiddleware(cfg.CapabilityID, chain)
		for i := len(wrappers) - 1; i >= 0; i-- {
			handler = wrappers[i](handler)
		}
	}

	handler = a.authWrapper(entry, cfg)(handler)

	entry.Handler = handler
	entry.Status = StatusActive
	entry.wrapped = true
	log.Info("capability activated", "id", cfg.CapabilityID, "routing_mode", cfg.RoutingMode)
	return nil
}

// executeHandler binds the plugin's execute hook with the configured
// capability config map.
func (a *Adapter) executeHandler(entry *Entry, cfg config.PluginConfig) Handler {
	return func(ctx context.Context, cc *CapabilityContext) (*CapabilityResult, error) {
		if cc.Config == nil {
			cc.Config = cfg.Config
		}
		return entry.Plugin.ExecuteCapability(ctx, cc)
	}
}

// authWrapper enforces the union of the capability's declared scopes and the
// config's required scopes against the request's auth context.
func (a *Adapter) authWrapper(entry *Entry, cfg config.PluginConfig) Middleware {
	required := make([]string, 0, len(entry.Info.RequiredScopes)+len(cfg.RequiredScopes))
	required = append(required, entry.Info.RequiredScopes...)
	required = append(required, cfg.RequiredScopes...)

	return func(next Handler) Handler {
		return func(ctx context.Context, cc *CapabilityContext) (*CapabilityResult, error) {
			if len(required) > 0 {
				ac := auth.FromContext(ctx)
				if err := a.auth.CheckScopes(ac, required); err != nil {
					return nil, err
				}
			}
			return next(ctx, cc)
		}
	}
}
