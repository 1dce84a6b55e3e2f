// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentup/agentup/pkg/config"
	"github.com/agentup/agentup/pkg/logger"
	"github.com/agentup/agentup/pkg/server"
)

// ServeCmd starts the A2A server.
type ServeCmd struct {
	Watch bool `help:"Reload logging configuration when the config file changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	cleanup, err := initLogging(cli, cfg.Logging)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}

	if c.Watch {
		watcher, werr := config.NewWatcher(cli.Config, func(next *config.Config) {
			applyLogLevel(next.Logging)
		})
		if werr != nil {
			logger.GetLogger().Warn("config watcher unavailable", "error", werr)
		} else {
			defer watcher.Close()
		}
	}

	return srv.Start(ctx)
}

// initLogging applies CLI flags over the config file's logging section.
// Flags win when set.
func initLogging(cli *CLI, cfg config.LoggingConfig) (func(), error) {
	levelStr := cfg.Level
	if cli.LogLevel != "" {
		levelStr = cli.LogLevel
	}
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	format := cfg.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}

	output := os.Stderr
	cleanup := func() {}
	file := cfg.File
	if cli.LogFile != "" {
		file = cli.LogFile
	}
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(level, output, format)
	return cleanup, nil
}

// applyLogLevel re-initializes the logger with the reloaded level. Other
// changes take effect on restart.
func applyLogLevel(cfg config.LoggingConfig) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	logger.Init(level, os.Stderr, cfg.Format)
	logger.GetLogger().Info("logging configuration reloaded", "level", level.String())
}
