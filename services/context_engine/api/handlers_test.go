// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianContext/services/context_engine/aggregate"
	"github.com/AleutianAI/AleutianContext/services/context_engine/config"
	"github.com/AleutianAI/AleutianContext/services/context_engine/lineage"
	"github.com/AleutianAI/AleutianContext/services/context_engine/optimize"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testEngine(t *testing.T) *Engine {
	t.Helper()

	agg := aggregate.NewAggregator()
	agg.RegisterSource("memory", func(ctx context.Context, query string) (string, error) {
		return "remembered: " + query, nil
	}, 10)

	summarize := func(ctx context.Context, content string, maxOutputTokens int) (string, error) {
		return "summary of earlier conversation", nil
	}
	return NewEngine(agg, summarize, nil, config.Default())
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleBudget(t *testing.T) {
	router := NewRouter(testEngine(t))

	w := doJSON(t, router, http.MethodGet, "/api/v1/context/budget/claude-3-5-sonnet-latest", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp BudgetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 200000, resp.ContextWindow)
	assert.Equal(t, 200000-4096-1024-2048, resp.MaxContextTokens)
}

func TestHandleBudget_UnknownModelDegrades(t *testing.T) {
	router := NewRouter(testEngine(t))

	w := doJSON(t, router, http.MethodGet, "/api/v1/context/budget/some-future-model", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp BudgetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 8192, resp.ContextWindow)
}

func TestHandleAggregate(t *testing.T) {
	router := NewRouter(testEngine(t))

	w := doJSON(t, router, http.MethodPost, "/api/v1/context/aggregate", AggregateRequest{
		Query: "what did we decide",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp aggregate.AggregatedContext
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"memory"}, resp.SourcesUsed)
	assert.Contains(t, resp.Context, "remembered: what did we decide")
}

func TestHandleAggregate_MissingQuery(t *testing.T) {
	router := NewRouter(testEngine(t))

	w := doJSON(t, router, http.MethodPost, "/api/v1/context/aggregate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleOptimize(t *testing.T) {
	router := NewRouter(testEngine(t))

	messages := make([]lineage.Message, 0, 6)
	for i := 0; i < 6; i++ {
		messages = append(messages, lineage.NewMessage(lineage.RoleUser, strings.Repeat("chatter ", 125)))
	}

	preserve := 2
	w := doJSON(t, router, http.MethodPost, "/api/v1/context/optimize", OptimizeRequest{
		Messages:       messages,
		TargetTokens:   600,
		PreserveRecent: &preserve,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp optimize.OptimizeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, optimize.StageCondense, resp.Stage)
	assert.LessOrEqual(t, resp.TokensAfter, 600)
	assert.Equal(t, 600, resp.TargetTokens)
}

func TestHandleOptimize_InvalidMessagesRejected(t *testing.T) {
	router := NewRouter(testEngine(t))

	w := doJSON(t, router, http.MethodPost, "/api/v1/context/optimize", OptimizeRequest{
		Messages: []lineage.Message{{Role: "wizard", Content: "abracadabra"}},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid messages")
}

func TestEngine_SetConfigAffectsNewRequests(t *testing.T) {
	engine := testEngine(t)
	router := NewRouter(engine)

	cfg := config.Default()
	cfg.Budget.ModelMaxTokens = 50000
	engine.SetConfig(cfg)

	w := doJSON(t, router, http.MethodGet, "/api/v1/context/budget/gpt-4o", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp BudgetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 50000, resp.ContextWindow, "override must beat the model table")
}

func TestHealthz(t *testing.T) {
	router := NewRouter(testEngine(t))

	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(testEngine(t))

	// Generate one request so counters exist.
	doJSON(t, router, http.MethodGet, "/api/v1/context/budget/gpt-4o", nil)

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_context_engine_requests_total")
}
