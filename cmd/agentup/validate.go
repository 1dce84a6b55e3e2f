// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

package main

import (
	"fmt"

	"github.com/agentup/agentup/pkg/config"
)

// ValidateCmd loads, env-expands, and validates a config file without
// starting the server.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid.\n\n")
	fmt.Printf("  Agent:    %s (version %s)\n", cfg.Agent.Name, cfg.Agent.Version)
	fmt.Printf("  Address:  %s\n", cfg.Server.Address())
	fmt.Printf("  Plugins:  %d configured\n", len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		mode := p.RoutingMode
		if mode == "" {
			mode = "direct"
		}
		fmt.Printf("    - %s (%s)\n", p.CapabilityID, mode)
	}
	if cfg.AIProvider.Provider != "" {
		fmt.Printf("  AI:       %s / %s\n", cfg.AIProvider.Provider, cfg.AIProvider.Model)
	}
	if cfg.Security.Enabled {
		fmt.Printf("  Security: enabled\n")
	}
	if cfg.MCP.Enabled {
		fmt.Printf("  MCP:      client=%d servers, server=%v\n",
			len(cfg.MCP.Client.Servers), cfg.MCP.Server.Enabled)
	}
	return nil
}
