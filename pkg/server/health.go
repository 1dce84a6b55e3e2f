// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/logger"
)

// handleHealth is the liveness probe. It always answers 200 while the
// process serves requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"agent":     s.cfg.Agent.Name,
		"version":   s.cfg.Agent.Version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleServicesHealth aggregates per-component health. Any degraded
// component turns the response into a 503.
func (s *Server) handleServicesHealth(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]any)
	degraded := false

	caps := map[string]any{"status": "ok", "count": s.registry.Count()}
	var errored []string
	for _, entry := range s.registry.List() {
		if entry.Status == capabilities.StatusError {
			errored = append(errored, entry.Info.ID)
		}
		if hr, ok := entry.Plugin.(capabilities.HealthReporter); ok && entry.Status == capabilities.StatusActive {
			services["plugin:"+entry.Info.ID] = hr.HealthStatus()
		}
	}
	if len(errored) > 0 {
		caps["status"] = "degraded"
		caps["errored"] = errored
		degraded = true
	}
	services["capabilities"] = caps

	if s.provider != nil {
		services["ai_provider"] = map[string]any{"status": "ok", "provider": s.provider.Name()}
	}
	if s.state != nil {
		services["state"] = map[string]any{"status": "ok", "backend": s.cfg.StateManagement.Backend}
	}
	if s.notifier != nil {
		services["push_notifications"] = map[string]any{"status": "ok"}
	}
	if s.mcpClient != nil {
		names := s.mcpClient.Servers()
		mcpStatus := map[string]any{"status": "ok", "servers": names}
		if len(names) < len(s.cfg.MCP.Client.Servers) {
			mcpStatus["status"] = "degraded"
			degraded = true
		}
		services["mcp"] = mcpStatus
	}

	status := "healthy"
	code := http.StatusOK
	if degraded {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithComponent("server").Error("failed to write health response", "error", err)
	}
}
