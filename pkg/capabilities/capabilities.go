// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package capabilities holds the capability registry and the plugin adapter
// that turns plugin hooks into wrapped, task-taking handlers.
package capabilities

import (
	"context"
	"time"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/functions"
)

// CapabilityType classifies what a capability can do.
type CapabilityType string

const (
	CapabilityText       CapabilityType = "text"
	CapabilityMultimodal CapabilityType = "multimodal"
	CapabilityAIFunction CapabilityType = "ai_function"
	CapabilityStreaming  CapabilityType = "streaming"
	CapabilityStateful   CapabilityType = "stateful"
)

// CapabilityInfo is what a plugin declares about one capability.
type CapabilityInfo struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Version        string           `json:"version"`
	Description    string           `json:"description,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	Capabilities   []CapabilityType `json:"capabilities,omitempty"`
	InputMode      string           `json:"input_mode,omitempty"`
	OutputMode     string           `json:"output_mode,omitempty"`
	RequiredScopes []string         `json:"required_scopes,omitempty"`
	Priority       int              `json:"priority,omitempty"`
	ConfigSchema   map[string]any   `json:"config_schema,omitempty"`
	PluginName     string           `json:"plugin_name,omitempty"`

	// SystemPrompt contributes to the dispatcher's system message when the
	// capability is active.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// CapabilityContext carries one invocation of a capability handler.
type CapabilityContext struct {
	Task      *a2a.Task
	Message   *a2a.Message
	UserInput string

	// Config is the free-form map from the capability's plugin entry in
	// the agent config.
	Config   map[string]any
	Metadata map[string]any
}

// CapabilityResult is a handler's outcome. A non-nil Stream makes the
// result a lazy chunk sequence; Content and Data are ignored in that case.
type CapabilityResult struct {
	Content string
	Success bool
	Error   string
	Data    map[string]any
	Stream  <-chan any
}

// ValidationResult reports a plugin's opinion of its configuration.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Handler is a fully wrapped, invokable capability.
type Handler func(ctx context.Context, cc *CapabilityContext) (*CapabilityResult, error)

// Middleware wraps a Handler. Chains are built once per capability at
// registration time, not per request.
type Middleware func(Handler) Handler

// Plugin is the required hook set every capability plugin implements.
type Plugin interface {
	// RegisterCapability declares the capability. Missing id, name, or
	// version marks the plugin errored without aborting startup.
	RegisterCapability() CapabilityInfo

	// CanHandleTask scores the plugin's confidence for the given context,
	// in [0, 1].
	CanHandleTask(ctx context.Context, cc *CapabilityContext) float64

	// ExecuteCapability runs the capability synchronously.
	ExecuteCapability(ctx context.Context, cc *CapabilityContext) (*CapabilityResult, error)
}

// Optional plugin hooks, discovered by interface assertion.

type ConfigValidator interface {
	ValidateConfig(cfg map[string]any) ValidationResult
}

type AIFunctionProvider interface {
	AIFunctions() []*functions.Function
}

type ServiceConfigurer interface {
	ConfigureServices(svc *Services)
}

type StateSchemaProvider interface {
	StateSchema() map[string]any
}

type HealthReporter interface {
	HealthStatus() map[string]any
}

// MiddlewareDeclarer lets a plugin declare the middleware it wants. The
// declaration applies when the plugin's config entry carries no override.
type MiddlewareDeclarer interface {
	MiddlewareConfig() []config.MiddlewareConfig
}

// Services is the handle bundle passed to plugins that want them.
type Services struct {
	AgentName    string
	AgentVersion string
	StartedAt    time.Time
	Functions    *functions.Registry
	Capabilities *Registry
}
