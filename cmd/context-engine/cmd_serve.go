// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianContext/pkg/logging"
	"github.com/AleutianAI/AleutianContext/services/context_engine/api"
	"github.com/AleutianAI/AleutianContext/services/context_engine/budget"
	"github.com/AleutianAI/AleutianContext/services/context_engine/config"
	"github.com/AleutianAI/AleutianContext/services/context_engine/optimize"
	"github.com/AleutianAI/AleutianContext/services/context_engine/sources"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the context engine HTTP API",
	Long: `Starts the HTTP API serving budget lookup, context aggregation, and
conversation optimization. Sources are wired from the configuration:
local conversation memory (BadgerDB) always, semantic knowledge
(Weaviate) when enabled. The config file is hot reloaded on change.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	_, cleanup := logging.Setup(logging.Config{
		Level:   logLevel,
		Service: "context-engine",
	})
	defer cleanup()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	memory, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = memory.Close() }()

	agg, err := buildAggregator(cfg, memory, defaultMemorySession)
	if err != nil {
		return err
	}

	var summarize optimize.SummarizeFunc
	if summarizer, err := sources.NewOpenAISummarizer(); err != nil {
		slog.Warn("summarization disabled, optimization will truncate instead", "error", err)
	} else {
		summarize = summarizer.Summarize
	}

	counter := budget.NewTiktokenCounter("cl100k_base")
	engine := api.NewEngine(agg, summarize, counter, cfg)

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, engine.SetConfig)
		if err != nil {
			return fmt.Errorf("creating config watcher: %w", err)
		}
		defer watcher.Stop()
		if err := watcher.Start(cmd.Context()); err != nil {
			return fmt.Errorf("starting config watcher: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(engine),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("context engine listening", "addr", addr, "model", cfg.Model)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
