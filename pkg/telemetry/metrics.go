// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the Forge service.
//
// Description:
//
//	Provides standard counters, histograms, and gauges for HTTP requests,
//	pipeline runs, LLM calls, vector store interactions, and cache
//	operations. All metrics use the "forge_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Pipeline Metrics ---

	// PipelineRunsTotal counts total pipeline runs by routing decision and status.
	PipelineRunsTotal metric.Int64Counter

	// PipelineDuration records end-to-end pipeline duration in seconds.
	PipelineDuration metric.Float64Histogram

	// PipelineIterations records workflow iterations consumed per run.
	PipelineIterations metric.Int64Histogram

	// PipelineTokensTotal counts total LLM tokens consumed by pipeline runs.
	PipelineTokensTotal metric.Int64Counter

	// --- LLM Metrics ---

	// LLMRequestsTotal counts total LLM calls by provider, agent, and status.
	LLMRequestsTotal metric.Int64Counter

	// LLMRequestDuration records LLM call duration in seconds.
	LLMRequestDuration metric.Float64Histogram

	// --- Vector Store Metrics ---

	// VectorStoreRequestsTotal counts total vector store operations by type and status.
	VectorStoreRequestsTotal metric.Int64Counter

	// VectorStoreRequestDuration records vector store operation duration in seconds.
	VectorStoreRequestDuration metric.Float64Histogram

	// VectorStoreCircuitState tracks circuit breaker state (0=closed, 1=open, 2=half-open).
	VectorStoreCircuitState metric.Int64ObservableGauge

	// --- Cache Metrics ---

	// SemanticCacheLookupsTotal counts semantic cache lookups by tier and result.
	SemanticCacheLookupsTotal metric.Int64Counter

	// SemanticCacheStoresTotal counts semantic cache write operations by status.
	SemanticCacheStoresTotal metric.Int64Counter

	// --- Validation Metrics ---

	// ValidationsTotal counts syntax validation runs by language and verdict.
	ValidationsTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by type and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("forge")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.PipelineRunsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"forge_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"forge_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"forge_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	// --- Pipeline Metrics ---
	m.PipelineRunsTotal, err = meter.Int64Counter(
		"forge_pipeline_runs_total",
		metric.WithDescription("Total pipeline runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_runs_total: %w", err)
	}

	m.PipelineDuration, err = meter.Float64Histogram(
		"forge_pipeline_duration_seconds",
		metric.WithDescription("End-to-end pipeline duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_duration: %w", err)
	}

	m.PipelineIterations, err = meter.Int64Histogram(
		"forge_pipeline_iterations",
		metric.WithDescription("Workflow iterations consumed per pipeline run"),
		metric.WithUnit("{iteration}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_iterations: %w", err)
	}

	m.PipelineTokensTotal, err = meter.Int64Counter(
		"forge_pipeline_tokens_total",
		metric.WithDescription("Total LLM tokens consumed by pipeline runs"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_tokens_total: %w", err)
	}

	// --- LLM Metrics ---
	m.LLMRequestsTotal, err = meter.Int64Counter(
		"forge_llm_requests_total",
		metric.WithDescription("Total LLM calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_requests_total: %w", err)
	}

	m.LLMRequestDuration, err = meter.Float64Histogram(
		"forge_llm_request_duration_seconds",
		metric.WithDescription("LLM call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_request_duration: %w", err)
	}

	// --- Vector Store Metrics ---
	m.VectorStoreRequestsTotal, err = meter.Int64Counter(
		"forge_vectorstore_requests_total",
		metric.WithDescription("Total vector store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create vectorstore_requests_total: %w", err)
	}

	m.VectorStoreRequestDuration, err = meter.Float64Histogram(
		"forge_vectorstore_request_duration_seconds",
		metric.WithDescription("Vector store operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create vectorstore_request_duration: %w", err)
	}

	// Note: VectorStoreCircuitState requires a callback registration, handled separately

	// --- Cache Metrics ---
	m.SemanticCacheLookupsTotal, err = meter.Int64Counter(
		"forge_semantic_cache_lookups_total",
		metric.WithDescription("Total semantic cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create semantic_cache_lookups_total: %w", err)
	}

	m.SemanticCacheStoresTotal, err = meter.Int64Counter(
		"forge_semantic_cache_stores_total",
		metric.WithDescription("Total semantic cache write operations"),
		metric.WithUnit("{store}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create semantic_cache_stores_total: %w", err)
	}

	// --- Validation Metrics ---
	m.ValidationsTotal, err = meter.Int64Counter(
		"forge_validations_total",
		metric.WithDescription("Total syntax validation runs"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validations_total: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"forge_errors_total",
		metric.WithDescription("Total errors by type and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterVectorStoreCircuitState registers a callback for the vector store
// circuit state gauge.
//
// Description:
//
//	Sets up an observable gauge that reports the current circuit breaker state.
//	The callback is invoked each time metrics are scraped.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	stateFunc - A function that returns the current circuit state (0=closed, 1=open, 2=half-open).
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterVectorStoreCircuitState(meter metric.Meter, stateFunc func() int64) (metric.Registration, error) {
	var err error
	m.VectorStoreCircuitState, err = meter.Int64ObservableGauge(
		"forge_vectorstore_circuit_state",
		metric.WithDescription("Vector store circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create vectorstore_circuit_state: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.VectorStoreCircuitState, stateFunc())
		return nil
	}, m.VectorStoreCircuitState)
}
