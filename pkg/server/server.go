// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package server assembles the agent from its configuration and serves the
// HTTP surface: JSON-RPC at POST /, the agent card, health, metrics, and the
// MCP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/agentup/agentup/pkg/auth"
	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/dispatch"
	"github.com/agentup/agentup/pkg/functions"
	"github.com/agentup/agentup/pkg/llm"
	"github.com/agentup/agentup/pkg/logger"
	"github.com/agentup/agentup/pkg/mcp"
	"github.com/agentup/agentup/pkg/metrics"
	"github.com/agentup/agentup/pkg/middleware"
	"github.com/agentup/agentup/pkg/push"
	"github.com/agentup/agentup/pkg/state"
	"github.com/agentup/agentup/pkg/task"
	"github.com/agentup/agentup/pkg/transport"
)

const shutdownTimeout = 10 * time.Second

// Server is a fully assembled agent.
type Server struct {
	cfg       *config.Config
	registry  *capabilities.Registry
	functions *functions.Registry
	auth      *auth.Manager
	store     task.Store
	state     state.Store
	notifier  *push.Notifier
	provider  llm.Provider
	mcpClient *mcp.Client
	startedAt time.Time

	httpServer *http.Server
}

// New assembles an agent from its configuration. Plugin activation failures
// degrade the capability; MCP connection failures fail startup.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	log := logger.WithComponent("server")

	s := &Server{
		cfg:       cfg,
		registry:  capabilities.NewRegistry(),
		functions: functions.NewRegistry(),
		store:     task.NewInMemoryStore(),
		startedAt: time.Now(),
	}

	s.registry.LoadPlugins(capabilities.Inventory())

	s.auth = buildAuthManager(cfg.Security)

	if cfg.StateManagement.Enabled {
		st, err := state.New(cfg.StateManagement)
		if err != nil {
			return nil, fmt.Errorf("state backend: %w", err)
		}
		s.state = st
	}

	if cfg.PushNotifications.Enabled {
		pushStore, err := push.NewConfigStore(cfg.PushNotifications)
		if err != nil {
			return nil, fmt.Errorf("push config store: %w", err)
		}
		s.notifier = push.NewNotifier(cfg.PushNotifications, pushStore)
	}

	services := &capabilities.Services{
		AgentName:    cfg.Agent.Name,
		AgentVersion: cfg.Agent.Version,
		StartedAt:    s.startedAt,
		Functions:    s.functions,
		Capabilities: s.registry,
	}
	for _, entry := range s.registry.List() {
		if sc, ok := entry.Plugin.(capabilities.ServiceConfigurer); ok {
			sc.ConfigureServices(services)
		}
	}

	adapter := capabilities.NewAdapter(s.registry, s.auth, middleware.Build,
		cfg.Middleware, state.Wrapper(s.state))
	for _, pc := range cfg.Plugins {
		if err := adapter.Activate(pc); err != nil {
			log.Warn("capability activation failed",
				"capability", pc.CapabilityID, "error", err)
			continue
		}
		s.registerAIFunctions(pc)
	}

	if cfg.AIProvider.Provider != "" {
		provider, err := llm.New(cfg.AIProvider.Provider, cfg.AIProvider.Model,
			cfg.AIProvider.APIKey, cfg.AIProvider.BaseURL,
			cfg.AIProvider.Temperature, cfg.AIProvider.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("ai provider: %w", err)
		}
		s.provider = provider
	}

	if cfg.MCP.Enabled && cfg.MCP.Client.Enabled {
		client, err := mcp.Connect(ctx, cfg.Agent.Name, cfg.Agent.Version,
			cfg.MCP.Client, s.functions)
		if err != nil {
			return nil, fmt.Errorf("mcp client: %w", err)
		}
		s.mcpClient = client
	}

	var dispatcher *dispatch.Dispatcher
	if s.provider != nil {
		dispatcher = dispatch.NewDispatcher(cfg.AIProvider, s.provider,
			s.functions, s.registry, s.state, s.auth)
	}

	router := dispatch.NewRouter(cfg.Plugins, cfg.Routing)
	executor := dispatch.NewExecutor(s.store, s.registry, router, dispatcher,
		s.notifier, cfg.Agent.Name, cfg.Routing.FallbackAllowed())
	rpc := transport.NewHandler(s.store, executor, s.notifier)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           s.routes(rpc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("agent assembled",
		"agent", cfg.Agent.Name,
		"capabilities", s.registry.Count(),
		"functions", s.functions.Count(),
		"auth_enabled", s.auth.Enabled())
	return s, nil
}

// registerAIFunctions publishes a configured capability's AI functions to the
// function registry.
func (s *Server) registerAIFunctions(pc config.PluginConfig) {
	entry, ok := s.registry.Get(pc.CapabilityID)
	if !ok {
		return
	}
	provider, ok := entry.Plugin.(capabilities.AIFunctionProvider)
	if !ok {
		return
	}
	log := logger.WithComponent("server")
	for _, fn := range provider.AIFunctions() {
		if err := s.functions.Register(fn); err != nil {
			log.Warn("ai function registration failed",
				"capability", pc.CapabilityID, "function", fn.Name, "error", err)
		}
	}
}

func (s *Server) routes(rpc *transport.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if timeout := s.cfg.Server.RequestTimeout; timeout > 0 {
		r.Use(chimiddleware.Timeout(timeout))
	}

	r.With(s.auth.HTTPMiddleware).Post("/", rpc.ServeHTTP)
	r.Get("/.well-known/agent.json", s.handleAgentCard)
	r.Get("/health", s.handleHealth)
	r.Get("/services/health", s.handleServicesHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if s.cfg.MCP.Enabled && s.cfg.MCP.Server.Enabled {
		name := s.cfg.MCP.Server.Name
		if name == "" {
			name = s.cfg.Agent.Name
		}
		mcpServer := mcp.NewServer(name, s.cfg.Agent.Version, s.registry,
			s.cfg.MCP.Server.ExposeHandlers)
		r.With(s.auth.HTTPMiddleware).Handle("/mcp", mcpServer)
	}

	return r
}

// Start serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	log := logger.WithComponent("server")
	log.Info("listening", "address", s.httpServer.Addr)

	if s.state != nil {
		go s.cleanupStateLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.Close()
}

// cleanupStateLoop removes idle conversation contexts until ctx is canceled.
func (s *Server) cleanupStateLoop(ctx context.Context) {
	interval := s.cfg.StateManagement.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	maxAge := s.cfg.StateManagement.MaxContextAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	log := logger.WithComponent("state")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.state.CleanupOldContexts(ctx, maxAge)
			if err != nil {
				log.Warn("context cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("removed idle contexts", "count", removed, "max_age", maxAge)
			}
		}
	}
}

// Close releases backend connections.
func (s *Server) Close() error {
	var errs []error
	if s.mcpClient != nil {
		errs = append(errs, s.mcpClient.Close())
	}
	if s.state != nil {
		errs = append(errs, s.state.Close())
	}
	if s.notifier != nil {
		errs = append(errs, s.notifier.Store().Close())
	}
	if s.provider != nil {
		errs = append(errs, s.provider.Close())
	}
	return errors.Join(errs...)
}

// buildAuthManager constructs the provider chain in configured order. An
// empty order defaults to jwt, bearer, api_key.
func buildAuthManager(cfg config.SecurityConfig) *auth.Manager {
	hierarchy := auth.ScopeHierarchy(cfg.ScopeHierarchy)

	available := map[string]func() (auth.Provider, error){
		"api_key": func() (auth.Provider, error) {
			if len(cfg.APIKey.Keys) == 0 {
				return nil, nil
			}
			keys := make([]auth.APIKeyCredential, 0, len(cfg.APIKey.Keys))
			for _, k := range cfg.APIKey.Keys {
				keys = append(keys, auth.APIKeyCredential{Key: k.Key, UserID: k.UserID, Scopes: k.Scopes})
			}
			return auth.NewAPIKeyProvider(cfg.APIKey.HeaderName, keys, hierarchy), nil
		},
		"bearer": func() (auth.Provider, error) {
			if len(cfg.Bearer.Tokens) == 0 {
				return nil, nil
			}
			tokens := make([]auth.BearerCredential, 0, len(cfg.Bearer.Tokens))
			for _, t := range cfg.Bearer.Tokens {
				tokens = append(tokens, auth.BearerCredential{Token: t.Key, UserID: t.UserID, Scopes: t.Scopes})
			}
			return auth.NewBearerProvider(tokens, hierarchy), nil
		},
		"jwt": func() (auth.Provider, error) {
			if cfg.JWT.Secret == "" && cfg.JWT.JWKSURL == "" {
				return nil, nil
			}
			return auth.NewJWTProvider(auth.JWTConfig{
				Secret:    cfg.JWT.Secret,
				Algorithm: cfg.JWT.Algorithm,
				JWKSURL:   cfg.JWT.JWKSURL,
				Issuer:    cfg.JWT.Issuer,
				Audience:  cfg.JWT.Audience,
			}, hierarchy)
		},
	}

	order := cfg.AuthOrder
	if len(order) == 0 {
		order = []string{"jwt", "bearer", "api_key"}
	}

	log := logger.WithComponent("server")
	var providers []auth.Provider
	for _, name := range order {
		build, ok := available[name]
		if !ok {
			log.Warn("unknown auth provider in security.auth, skipping", "provider", name)
			continue
		}
		p, err := build()
		if err != nil {
			log.Warn("auth provider failed to initialize, skipping",
				"provider", name, "error", err)
			continue
		}
		if p != nil {
			providers = append(providers, p)
		}
	}

	return auth.NewManager(cfg.Enabled, hierarchy, providers...)
}
