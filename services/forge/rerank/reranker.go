// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rerank re-orders vector search hits with a cross-encoder.
//
// Bi-encoder retrieval (pgvector cosine) is recall-oriented; the
// cross-encoder reads each (query, passage) pair jointly and produces a
// sharper relevance signal. The raw logits are squashed through a sigmoid
// before they replace the cosine scores.
//
// Calibration note: downstream thresholds (docsearch self-correction at 0.7)
// compare sigmoid outputs against values originally tuned for cosine
// similarity. The asymmetry is intentional and preserved from the system
// this pipeline derives from.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

var tracer = otel.Tracer("forge.rerank")

// DefaultBatchSize bounds how many (query, passage) pairs go to the scorer
// per call.
const DefaultBatchSize = 32

// Scorer produces one relevance score per passage for a query. Scores are
// raw model outputs (logits); callers apply their own calibration.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Reranker re-scores and re-orders documentation results.
//
// Thread Safety: Safe for concurrent use when the Scorer is.
type Reranker struct {
	scorer    Scorer
	batchSize int
	logger    *slog.Logger
}

// NewReranker builds a Reranker. batchSize <= 0 falls back to
// DefaultBatchSize; a nil logger falls back to slog.Default().
func NewReranker(scorer Scorer, batchSize int, logger *slog.Logger) *Reranker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		scorer:    scorer,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "reranker")),
	}
}

// Rerank scores every result against the query and returns a new slice
// ordered by descending relevance, truncated to topK (topK <= 0 keeps all).
//
// The input slice is not mutated. The returned set holds the same contents
// with cross-encoder scores in place of the retrieval scores; ties keep
// their original relative order.
//
// Outputs:
//
//	[]datatypes.DocumentationResult - Re-ordered results.
//	error - ErrEmptyQuery, ErrNoResults, scorer failure, or
//	        ErrScoreCountMismatch.
func (r *Reranker) Rerank(ctx context.Context, query string, results []datatypes.DocumentationResult, topK int) ([]datatypes.DocumentationResult, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	ctx, span := tracer.Start(ctx, "rerank.Rerank",
		trace.WithAttributes(
			attribute.Int("candidate_count", len(results)),
			attribute.Int("top_k", topK),
		),
	)
	defer span.End()

	ranked := make([]datatypes.DocumentationResult, len(results))
	copy(ranked, results)

	for start := 0; start < len(ranked); start += r.batchSize {
		end := start + r.batchSize
		if end > len(ranked) {
			end = len(ranked)
		}

		passages := make([]string, end-start)
		for i := start; i < end; i++ {
			passages[i-start] = ranked[i].Content
		}

		scores, err := r.scorer.Score(ctx, query, passages)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scoring failed")
			return nil, fmt.Errorf("rerank batch %d-%d: %w", start, end, err)
		}
		if len(scores) != len(passages) {
			err := fmt.Errorf("%w: sent %d passages, got %d scores",
				ErrScoreCountMismatch, len(passages), len(scores))
			span.RecordError(err)
			span.SetStatus(codes.Error, "score count mismatch")
			return nil, err
		}

		for i, raw := range scores {
			ranked[start+i].Score = sigmoid(raw)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}

	r.logger.Debug("results_reranked",
		slog.Int("candidates", len(results)),
		slog.Int("returned", len(ranked)))
	span.SetAttributes(attribute.Int("result_count", len(ranked)))
	span.SetStatus(codes.Ok, "")
	return ranked, nil
}

// sigmoid maps a raw cross-encoder logit into (0,1).
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
