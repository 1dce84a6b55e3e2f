// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package dispatch routes incoming messages to capabilities, either
// directly by keyword/pattern or through the LLM function-calling loop.
package dispatch

import (
	"regexp"
	"strings"

	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/logger"
)

// RoutingMode selects how a capability handles a message.
type RoutingMode string

const (
	ModeDirect RoutingMode = "direct"
	ModeAI     RoutingMode = "ai"
)

// route is one compiled direct-routing entry.
type route struct {
	capabilityID string
	keywords     []string
	patterns     []*regexp.Regexp
}

// matches checks keywords first, then patterns.
func (r route) matches(text, lower string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Router matches user text against the configured capabilities in order.
type Router struct {
	routes   []route
	fallback string
	mode     RoutingMode
}

// NewRouter compiles the routing table from plugin configs. Only
// direct-mode capabilities participate in matching; pattern compile errors
// are logged and the pattern skipped.
func NewRouter(plugins []config.PluginConfig, routing config.RoutingConfig) *Router {
	log := logger.WithComponent("router")

	var routes []route
	for _, p := range plugins {
		if p.RoutingMode != "" && p.RoutingMode != string(ModeDirect) {
			continue
		}

		r := route{capabilityID: p.CapabilityID}
		for _, kw := range p.Keywords {
			r.keywords = append(r.keywords, strings.ToLower(kw))
		}
		for _, raw := range p.Patterns {
			re, err := regexp.Compile("(?i)" + raw)
			if err != nil {
				log.Warn("skipping invalid routing pattern",
					"capability", p.CapabilityID, "pattern", raw, "error", err)
				continue
			}
			r.patterns = append(r.patterns, re)
		}
		routes = append(routes, r)
	}

	mode := RoutingMode(routing.DefaultMode)
	if mode == "" {
		mode = ModeAI
	}
	return &Router{
		routes:   routes,
		fallback: routing.FallbackCapability,
		mode:     mode,
	}
}

// SelectCapability picks a capability for the user text. Keyword substring
// matches win over patterns; the first matching capability in configured
// order wins. With no match, the configured fallback and default mode are
// returned.
func (r *Router) SelectCapability(userText string) (string, RoutingMode) {
	lower := strings.ToLower(userText)

	for _, rt := range r.routes {
		if rt.matches(userText, lower) {
			return rt.capabilityID, ModeDirect
		}
	}

	return r.fallback, r.mode
}
