// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the context engine over HTTP: budget lookup, context
// aggregation, and conversation optimization, plus Prometheus metrics.
package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianContext/services/context_engine/aggregate"
	"github.com/AleutianAI/AleutianContext/services/context_engine/budget"
	"github.com/AleutianAI/AleutianContext/services/context_engine/config"
	"github.com/AleutianAI/AleutianContext/services/context_engine/lineage"
	"github.com/AleutianAI/AleutianContext/services/context_engine/optimize"
)

var handlerTracer = otel.Tracer("aleutian.context_engine.api")

// Engine bundles the components the handlers serve.
//
// Thread Safety: Safe for concurrent use. The configuration is swapped
// atomically so hot reload never races in-flight requests.
type Engine struct {
	// Aggregator serves /context/aggregate. Must not be nil.
	Aggregator *aggregate.Aggregator

	// Summarize is the LLM summarization capability for /context/optimize.
	// Nil disables the summarization stages; truncation still works.
	Summarize optimize.SummarizeFunc

	// Counter estimates tokens. Nil defaults to the heuristic.
	Counter budget.TokenCounter

	cfg atomic.Pointer[config.EngineConfig]
}

// NewEngine creates an engine with the given per-request defaults.
func NewEngine(agg *aggregate.Aggregator, summarize optimize.SummarizeFunc, counter budget.TokenCounter, cfg config.EngineConfig) *Engine {
	e := &Engine{
		Aggregator: agg,
		Summarize:  summarize,
		Counter:    counter,
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig swaps the per-request defaults. The config watcher calls this
// on hot reload.
func (e *Engine) SetConfig(cfg config.EngineConfig) {
	e.cfg.Store(&cfg)
}

// CurrentConfig returns the defaults in effect for new requests.
func (e *Engine) CurrentConfig() config.EngineConfig {
	return *e.cfg.Load()
}

// BudgetResponse is the payload of GET /context/budget/:model.
type BudgetResponse struct {
	Model            string `json:"model"`
	ContextWindow    int    `json:"context_window"`
	MaxContextTokens int    `json:"max_context_tokens"`
	ReservedResponse int    `json:"reserved_response_tokens"`
	ReservedSystem   int    `json:"reserved_system_tokens"`
	ReservedHistory  int    `json:"reserved_history_tokens"`
}

// AggregateRequest is the payload of POST /context/aggregate.
type AggregateRequest struct {
	Query     string   `json:"query" binding:"required"`
	Sources   []string `json:"sources"`
	MaxTokens int      `json:"max_tokens"`
}

// OptimizeRequest is the payload of POST /context/optimize.
type OptimizeRequest struct {
	Messages       []lineage.Message `json:"messages" binding:"required"`
	TargetTokens   int               `json:"target_tokens"`
	PreserveRecent *int              `json:"preserve_recent"`
}

// HandleBudget resolves a model name to its token budget.
func HandleBudget(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		model := c.Param("model")
		cfg := e.CurrentConfig()

		b := budget.FromModel(model,
			budget.WithReservedResponse(cfg.Budget.ReservedResponseTokens),
			budget.WithReservedSystem(cfg.Budget.ReservedSystemTokens),
			budget.WithReservedHistory(cfg.Budget.ReservedHistoryTokens),
			budget.WithModelMaxTokens(cfg.Budget.ModelMaxTokens),
		)

		c.JSON(http.StatusOK, BudgetResponse{
			Model:            model,
			ContextWindow:    b.ModelMaxTokens,
			MaxContextTokens: b.MaxContextTokens(),
			ReservedResponse: b.ReservedResponseTokens,
			ReservedSystem:   b.ReservedSystemTokens,
			ReservedHistory:  b.ReservedHistoryTokens,
		})
		observeRequest("budget", time.Since(start).Seconds(), true)
	}
}

// HandleAggregate runs one context aggregation.
func HandleAggregate(e *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleAggregate")
		defer span.End()

		var req AggregateRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the aggregate request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			observeRequest("aggregate", time.Since(start).Seconds(), false)
			return
		}

		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = e.CurrentConfig().Aggregation.MaxTokens
		}

		opts := []aggregate.AggregateOption{aggregate.WithMaxTokens(maxTokens)}
		if req.Sources != nil {
			opts = append(opts, aggregate.WithSources(req.Sources...))
		}

		result, err := e.Aggregator.Aggregate(ctx, req.Query, opts...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Aggregation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			observeRequest("aggregate", time.Since(start).Seconds(), false)
			return
		}

		c.JSON(http.StatusOK, result)
		observeRequest("aggregate", time.Since(start).Seconds(), true)
	}
}

// HandleOptimize runs one conversation optimization.
func HandleOptimize(e *Engine) gin.HandlerFunc {
	validator := lineage.NewValidator(false)

	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleOptimize")
		defer span.End()

		var req OptimizeRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the optimize request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			observeRequest("optimize", time.Since(start).Seconds(), false)
			return
		}

		if issues := validator.ValidateAll(req.Messages); len(issues) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "invalid messages",
				"issues": issues,
			})
			observeRequest("optimize", time.Since(start).Seconds(), false)
			return
		}

		defaults := e.CurrentConfig().Optimization
		cfg := optimize.Config{
			TargetTokens:        req.TargetTokens,
			PreserveRecent:      defaults.PreserveRecent,
			SmartToolSummarize:  defaults.SmartToolSummarize,
			MinCharsToSummarize: defaults.MinCharsToSummarize,
			SummaryMaxTokens:    defaults.SummaryMaxTokens,
		}
		if cfg.TargetTokens <= 0 {
			cfg.TargetTokens = defaults.TargetTokens
		}
		if req.PreserveRecent != nil && *req.PreserveRecent >= 0 {
			cfg.PreserveRecent = *req.PreserveRecent
		}

		opt := optimize.NewOptimizer(e.Summarize, e.Counter, cfg)
		result := opt.Optimize(ctx, req.Messages)

		c.JSON(http.StatusOK, result)
		observeRequest("optimize", time.Since(start).Seconds(), true)
	}
}

// NewRouter builds the engine's HTTP router.
func NewRouter(e *Engine) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1/context")
	{
		v1.GET("/budget/:model", HandleBudget(e))
		v1.POST("/aggregate", HandleAggregate(e))
		v1.POST("/optimize", HandleOptimize(e))
	}

	return router
}
