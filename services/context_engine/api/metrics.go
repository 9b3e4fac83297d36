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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	metricsSubsystem = "context_engine"
)

// HTTP-level metrics, exposed on /metrics. Registered once at package init;
// all operations are thread-safe via Prometheus's internal locking.
var (
	// requestsTotal counts API requests.
	// Labels: endpoint (budget, aggregate, optimize), status (success, error)
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "requests_total",
		Help:      "API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	// requestDuration measures request latency.
	// Labels: endpoint
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "request_duration_seconds",
		Help:      "API request duration by endpoint",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// observeRequest records one completed request.
func observeRequest(endpoint string, seconds float64, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	requestsTotal.WithLabelValues(endpoint, status).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(seconds)
}
