// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/logger"
)

// handleAgentCard serves the discovery document at /.well-known/agent.json.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	card := s.buildAgentCard()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(card); err != nil {
		logger.WithComponent("server").Error("failed to write agent card", "error", err)
	}
}

func (s *Server) buildAgentCard() a2a.AgentCard {
	cfg := s.cfg

	url := cfg.Agent.URL
	if url == "" {
		url = fmt.Sprintf("http://%s/", cfg.Server.Address())
	}

	var skills []a2a.AgentSkill
	for _, entry := range s.registry.List() {
		if !entry.Routable() {
			continue
		}
		skills = append(skills, a2a.AgentSkill{
			ID:          entry.Info.ID,
			Name:        entry.Info.Name,
			Description: entry.Info.Description,
			Tags:        entry.Info.Tags,
			InputModes:  []string{modeOrText(entry.Info.InputMode)},
			OutputModes: []string{modeOrText(entry.Info.OutputMode)},
		})
	}

	card := a2a.AgentCard{
		Name:            cfg.Agent.Name,
		Description:     cfg.Agent.Description,
		URL:             url,
		Version:         cfg.Agent.Version,
		ProtocolVersion: a2a.ProtocolVersion,
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      cfg.PushNotifications.Enabled,
			StateTransitionHistory: true,
		},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills:             skills,
	}

	if cfg.Security.Enabled {
		card.SecuritySchemes = securitySchemes(cfg.Security)
		for name := range card.SecuritySchemes {
			card.Security = append(card.Security, map[string][]string{name: {}})
		}
	}

	return card
}

func modeOrText(mode string) string {
	if mode == "" {
		return "text"
	}
	return mode
}

func securitySchemes(cfg config.SecurityConfig) map[string]a2a.SecurityScheme {
	schemes := make(map[string]a2a.SecurityScheme)
	if len(cfg.APIKey.Keys) > 0 {
		header := cfg.APIKey.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		schemes["apiKey"] = a2a.SecurityScheme{Type: "apiKey", In: "header", Name: header}
	}
	if len(cfg.Bearer.Tokens) > 0 {
		schemes["bearer"] = a2a.SecurityScheme{Type: "http", Scheme: "bearer"}
	}
	if cfg.JWT.Secret != "" || cfg.JWT.JWKSURL != "" {
		schemes["jwt"] = a2a.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	}
	return schemes
}
