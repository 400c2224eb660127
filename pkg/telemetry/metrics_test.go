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
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test_metrics")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// Verify all metrics are created
	if metrics.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
	if metrics.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration is nil")
	}
	if metrics.HTTPActiveRequests == nil {
		t.Error("HTTPActiveRequests is nil")
	}
	if metrics.PipelineRunsTotal == nil {
		t.Error("PipelineRunsTotal is nil")
	}
	if metrics.PipelineDuration == nil {
		t.Error("PipelineDuration is nil")
	}
	if metrics.PipelineIterations == nil {
		t.Error("PipelineIterations is nil")
	}
	if metrics.PipelineTokensTotal == nil {
		t.Error("PipelineTokensTotal is nil")
	}
	if metrics.LLMRequestsTotal == nil {
		t.Error("LLMRequestsTotal is nil")
	}
	if metrics.LLMRequestDuration == nil {
		t.Error("LLMRequestDuration is nil")
	}
	if metrics.VectorStoreRequestsTotal == nil {
		t.Error("VectorStoreRequestsTotal is nil")
	}
	if metrics.VectorStoreRequestDuration == nil {
		t.Error("VectorStoreRequestDuration is nil")
	}
	if metrics.SemanticCacheLookupsTotal == nil {
		t.Error("SemanticCacheLookupsTotal is nil")
	}
	if metrics.SemanticCacheStoresTotal == nil {
		t.Error("SemanticCacheStoresTotal is nil")
	}
	if metrics.ValidationsTotal == nil {
		t.Error("ValidationsTotal is nil")
	}
	if metrics.ErrorsTotal == nil {
		t.Error("ErrorsTotal is nil")
	}
}

func TestMetrics_RecordPipelineMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test_pipeline_metrics")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("decision", "SEARCH_THEN_CODE"),
		attribute.String("status", "ok"),
	)

	// Should not panic
	metrics.PipelineRunsTotal.Add(ctx, 1, attrs)
	metrics.PipelineDuration.Record(ctx, 2.5, attrs)
	metrics.PipelineIterations.Record(ctx, 2, attrs)
	metrics.PipelineTokensTotal.Add(ctx, 1024, attrs)
}

func TestMetrics_RecordCacheMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test_cache_metrics")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()

	metrics.SemanticCacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", "semantic"),
		attribute.String("result", "hit"),
	))
	metrics.SemanticCacheStoresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", "ok"),
	))
}

func TestMetrics_RegisterVectorStoreCircuitState(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test_circuit_metrics")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	reg, err := metrics.RegisterVectorStoreCircuitState(meter, func() int64 { return 0 })
	if err != nil {
		t.Fatalf("RegisterVectorStoreCircuitState() error = %v", err)
	}
	if metrics.VectorStoreCircuitState == nil {
		t.Error("VectorStoreCircuitState is nil after registration")
	}
	if err := reg.Unregister(); err != nil {
		t.Errorf("Unregister() error = %v", err)
	}
}
