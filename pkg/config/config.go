// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package config loads and validates the agent configuration: a single YAML
// document with env expansion applied at load time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Agent             AgentConfig        `yaml:"agent"`
	Server            ServerConfig       `yaml:"server"`
	AIProvider        AIProviderConfig   `yaml:"ai_provider"`
	Plugins           []PluginConfig     `yaml:"plugins"`
	Routing           RoutingConfig      `yaml:"routing"`
	Security          SecurityConfig     `yaml:"security"`
	StateManagement   StateConfig        `yaml:"state_management"`
	PushNotifications PushConfig         `yaml:"push_notifications"`
	MCP               MCPConfig          `yaml:"mcp"`
	Middleware        []MiddlewareConfig `yaml:"middleware"`
	Logging           LoggingConfig      `yaml:"logging"`
}

// AgentConfig identifies the agent on its card.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	URL         string `yaml:"url"`
}

// ServerConfig sets the listen address. SERVER_HOST/SERVER_PORT env vars
// override when the fields are empty.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Address resolves host:port with env and default fallbacks.
func (s ServerConfig) Address() string {
	host := s.Host
	if host == "" {
		host = os.Getenv("SERVER_HOST")
	}
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.Port
	if port == 0 {
		if p := os.Getenv("SERVER_PORT"); p != "" {
			fmt.Sscanf(p, "%d", &port)
		}
	}
	if port == 0 {
		port = 8000
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// AIProviderConfig selects and tunes the LLM provider.
type AIProviderConfig struct {
	Provider      string        `yaml:"provider"` // openai, anthropic, ollama
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	SystemPrompt  string        `yaml:"system_prompt"`
	MaxIterations int           `yaml:"max_iterations"`
	Temperature   *float64      `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
}

// PluginConfig enables one capability and sets its routing surface.
// Discovered-but-unlisted capabilities are not routable.
type PluginConfig struct {
	CapabilityID   string             `yaml:"capability_id"`
	Keywords       []string           `yaml:"keywords"`
	Patterns       []string           `yaml:"patterns"`
	RoutingMode    string             `yaml:"routing_mode"` // direct or ai
	RequiredScopes []string           `yaml:"required_scopes"`
	Middleware     []MiddlewareConfig `yaml:"middleware_override"`
	StateOverride  *StateConfig       `yaml:"state_override"`
	Config         map[string]any     `yaml:"config"`
}

// RoutingConfig names the fallback capability used when no direct
// capability matches.
type RoutingConfig struct {
	FallbackCapability string `yaml:"fallback_capability"`
	DefaultMode        string `yaml:"default_mode"` // ai or direct
	FallbackEnabled    *bool  `yaml:"fallback_enabled"`
}

// FallbackAllowed defaults to true.
func (r RoutingConfig) FallbackAllowed() bool {
	return r.FallbackEnabled == nil || *r.FallbackEnabled
}

// SecurityConfig configures the auth provider chain and scope hierarchy.
type SecurityConfig struct {
	Enabled        bool                `yaml:"enabled"`
	AuthOrder      []string            `yaml:"auth"` // provider names, tried in order
	APIKey         APIKeyConfig        `yaml:"api_key"`
	Bearer         BearerConfig        `yaml:"bearer"`
	JWT            JWTSection          `yaml:"jwt"`
	ScopeHierarchy map[string][]string `yaml:"scope_hierarchy"`
}

type APIKeyConfig struct {
	HeaderName string        `yaml:"header_name"`
	Keys       []KeyedScopes `yaml:"keys"`
}

type BearerConfig struct {
	Tokens []KeyedScopes `yaml:"tokens"`
}

// KeyedScopes attaches a principal and scopes to one static credential.
type KeyedScopes struct {
	Key    string   `yaml:"key"`
	UserID string   `yaml:"user_id"`
	Scopes []string `yaml:"scopes"`
}

type JWTSection struct {
	Secret    string `yaml:"secret"`
	Algorithm string `yaml:"algorithm"`
	JWKSURL   string `yaml:"jwks_url"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// StateConfig configures conversation state persistence.
type StateConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Backend        string        `yaml:"backend"` // memory, file, redis
	StorageDir     string        `yaml:"storage_dir"`
	RedisURL       string        `yaml:"redis_url"`
	DefaultTTL     time.Duration `yaml:"default_ttl"`
	MaxHistorySize int           `yaml:"max_history_size"`
	AutoSummarize  *bool         `yaml:"auto_summarize"`

	// Idle contexts older than MaxContextAge are removed every
	// CleanupInterval. Zero values use the defaults.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxContextAge   time.Duration `yaml:"max_context_age"`
}

// PushConfig configures webhook notifications.
type PushConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"` // memory or redis
	RedisURL     string        `yaml:"redis_url"`
	ValidateURLs bool          `yaml:"validate_urls"`
	MaxRetries   int           `yaml:"max_retries"`
	Timeout      time.Duration `yaml:"timeout"`
}

// MCPConfig configures the MCP client and server sides.
type MCPConfig struct {
	Enabled bool            `yaml:"enabled"`
	Client  MCPClientConfig `yaml:"client"`
	Server  MCPServerConfig `yaml:"server"`
}

type MCPClientConfig struct {
	Enabled bool              `yaml:"enabled"`
	Servers []MCPServerTarget `yaml:"servers"`
}

// MCPServerTarget describes one remote MCP server. ToolScopes maps
// "<server>:<tool>" to required scopes; tools without an entry are refused.
type MCPServerTarget struct {
	Name       string              `yaml:"name"`
	Transport  string              `yaml:"transport"` // stdio or http
	Command    string              `yaml:"command"`
	Args       []string            `yaml:"args"`
	Env        map[string]string   `yaml:"env"`
	WorkingDir string              `yaml:"working_dir"`
	URL        string              `yaml:"url"`
	Timeout    time.Duration       `yaml:"timeout"`
	MaxRetries int                 `yaml:"max_retries"`
	ToolScopes map[string][]string `yaml:"tool_scopes"`
}

type MCPServerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ExposeHandlers bool   `yaml:"expose_handlers"`
	Name           string `yaml:"name"`
}

// MiddlewareConfig is one entry of a middleware chain declaration.
type MiddlewareConfig struct {
	Name   string         `yaml:"name"` // rate_limit, cache, retry, timed, logged
	Params map[string]any `yaml:"params"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, verbose, json
	File   string `yaml:"file"`
}

// Load reads, env-expands, and unmarshals a config file.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var data map[string]interface{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	expanded := ExpandEnvVarsInData(data)
	normalized, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(normalized, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config structure: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural requirements that must fail startup.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("config: agent.name is required")
	}

	seen := make(map[string]bool)
	for i, p := range c.Plugins {
		if p.CapabilityID == "" {
			return fmt.Errorf("config: plugins[%d] is missing capability_id", i)
		}
		if seen[p.CapabilityID] {
			return fmt.Errorf("config: duplicate plugin capability_id %q", p.CapabilityID)
		}
		seen[p.CapabilityID] = true
		switch p.RoutingMode {
		case "", "direct", "ai":
		default:
			return fmt.Errorf("config: plugins[%d] has invalid routing_mode %q", i, p.RoutingMode)
		}
	}

	switch c.Routing.DefaultMode {
	case "", "direct", "ai":
	default:
		return fmt.Errorf("config: routing.default_mode must be direct or ai, got %q", c.Routing.DefaultMode)
	}

	if c.Security.Enabled {
		hasProvider := len(c.Security.APIKey.Keys) > 0 ||
			len(c.Security.Bearer.Tokens) > 0 ||
			c.Security.JWT.Secret != "" || c.Security.JWT.JWKSURL != ""
		if !hasProvider {
			return fmt.Errorf("config: security.enabled is true but no auth provider is configured")
		}
	}

	for _, target := range c.MCP.Client.Servers {
		// An empty transport means stdio, matching the client.
		switch target.Transport {
		case "stdio", "":
			if target.Command == "" {
				return fmt.Errorf("config: mcp server %q uses stdio but has no command", target.Name)
			}
		case "http", "sse":
			if target.URL == "" {
				return fmt.Errorf("config: mcp server %q uses %s but has no url", target.Name, target.Transport)
			}
		default:
			return fmt.Errorf("config: mcp server %q has unsupported transport %q", target.Name, target.Transport)
		}
	}

	switch c.StateManagement.Backend {
	case "", "memory", "file", "redis", "valkey":
	default:
		return fmt.Errorf("config: state_management.backend must be memory, file, or redis, got %q",
			c.StateManagement.Backend)
	}

	return nil
}
