// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docsearch retrieves framework documentation for a query: embed,
// vector search, cross-encoder re-rank, and a single self-correction pass
// when the best hit is weak.
package docsearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/embedding"
	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/mod/semver"
)

var tracer = otel.Tracer("forge.docsearch")

const (
	// DefaultTopK is how many results a search returns when the caller
	// does not say.
	DefaultTopK = 10

	// DefaultMinScore is the cosine-similarity floor for the initial
	// vector search.
	DefaultMinScore = 0.7

	// selfCorrectionThreshold triggers the corrective second pass when
	// the best re-ranked score falls below it.
	selfCorrectionThreshold = 0.7

	// Correction pass widens the net: more candidates, lower floor.
	correctionTopK     = 20
	correctionMinScore = 0.5

	// toolName keys tool-cache entries for this agent.
	toolName = "documentation_search"
)

// VectorSearcher is the slice of the vector store this agent needs.
// *vectorstore.Client satisfies it.
type VectorSearcher interface {
	SearchDocumentation(ctx context.Context, queryEmbedding []float32, frameworks []string, topK int, minScore float64) ([]datatypes.DocumentationResult, error)
}

// Reranker reorders results by cross-encoder relevance to the query.
// *rerank.Reranker satisfies it.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []datatypes.DocumentationResult, topK int) ([]datatypes.DocumentationResult, error)
}

// Agent is the documentation search agent.
//
// Thread Safety: safe for concurrent use as long as its dependencies are.
type Agent struct {
	embedder embedding.Provider
	store    VectorSearcher
	reranker Reranker
	cache    *resilience.ToolCache
	logger   *slog.Logger
}

// New creates a documentation search agent. The tool cache may be nil, in
// which case every search goes to the backends. A nil logger falls back to
// slog.Default().
func New(embedder embedding.Provider, store VectorSearcher, reranker Reranker, cache *resilience.ToolCache, logger *slog.Logger) (*Agent, error) {
	if embedder == nil {
		return nil, fmt.Errorf("docsearch: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("docsearch: vector store must not be nil")
	}
	if reranker == nil {
		return nil, fmt.Errorf("docsearch: reranker must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		embedder: embedder,
		store:    store,
		reranker: reranker,
		cache:    cache,
		logger:   logger,
	}, nil
}

// Search retrieves documentation for a query.
//
// # Description
//
// Runs the retrieval pipeline: tool-cache lookup, query embedding, vector
// search over topK*2 candidates, cross-encoder re-rank down to topK. When
// the best re-ranked score is weak (< 0.7) a single self-correction pass
// reformulates the query with the frameworks of the leading hits and keeps
// whichever result set scores higher. The final list lands in the tool
// cache best-effort.
//
// Re-ranker failures degrade gracefully to vector order. Embedding and
// vector store failures are real errors and propagate.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - query: Natural-language query. Must be non-blank.
//   - frameworks: Optional framework filter (nil means all).
//   - topK: Result count; non-positive means DefaultTopK.
//   - minScore: Similarity floor; non-positive means DefaultMinScore.
//
// # Outputs
//
//   - []datatypes.DocumentationResult: Ranked results, possibly empty,
//     never nil on success.
//   - error: Non-nil on blank query or backend failure.
func (a *Agent) Search(ctx context.Context, query string, frameworks []string, topK int, minScore float64) ([]datatypes.DocumentationResult, error) {
	ctx, span := tracer.Start(ctx, "DocSearch.Search")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		err := fmt.Errorf("docsearch: query is empty")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	span.SetAttributes(
		attribute.Int("search.top_k", topK),
		attribute.Float64("search.min_score", minScore),
		attribute.Int("search.framework_filter_len", len(frameworks)),
	)

	params := map[string]any{
		"query":      query,
		"frameworks": frameworks,
		"top_k":      topK,
		"min_score":  minScore,
	}
	if a.cache != nil {
		var cached []datatypes.DocumentationResult
		if a.cache.Get(ctx, toolName, params, &cached) {
			span.SetAttributes(attribute.Bool("search.cache_hit", true))
			a.logger.Debug("documentation_search_cache_hit",
				"results", len(cached))
			return cached, nil
		}
	}

	queryEmbedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, fmt.Errorf("docsearch: embed query: %w", err)
	}

	candidates, err := a.store.SearchDocumentation(ctx, queryEmbedding, frameworks, topK*2, minScore)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector search failed")
		return nil, err
	}
	if len(candidates) == 0 {
		empty := []datatypes.DocumentationResult{}
		a.cacheResults(ctx, params, empty)
		span.SetAttributes(attribute.Int("search.results", 0))
		return empty, nil
	}

	ranked := a.rerankOrDegrade(ctx, query, candidates, topK)

	corrected := false
	if topScore(ranked) < selfCorrectionThreshold {
		if better, ok := a.selfCorrect(ctx, query, ranked, topK); ok {
			ranked = better
			corrected = true
		}
	}

	a.cacheResults(ctx, params, ranked)
	span.SetAttributes(
		attribute.Int("search.results", len(ranked)),
		attribute.Float64("search.top_score", topScore(ranked)),
		attribute.Bool("search.self_corrected", corrected),
	)
	a.logger.Debug("documentation_search_completed",
		"results", len(ranked),
		"top_score", topScore(ranked),
		"self_corrected", corrected,
	)
	return ranked, nil
}

// rerankOrDegrade re-ranks and falls back to vector order on failure.
func (a *Agent) rerankOrDegrade(ctx context.Context, query string, results []datatypes.DocumentationResult, topK int) []datatypes.DocumentationResult {
	ranked, err := a.reranker.Rerank(ctx, query, results, topK)
	if err != nil {
		a.logger.Warn("rerank_degraded", "error", err, "candidates", len(results))
		if len(results) > topK {
			results = results[:topK]
		}
		return results
	}
	return ranked
}

// selfCorrect runs the corrective second pass. The reformulated query leans
// on the frameworks of the current top hits; when there are none it leans
// on generic documentation phrasing. The corrected list is adopted only
// when its best score beats the original best score. Failures along the
// way keep the original list; retrieval already produced something usable.
func (a *Agent) selfCorrect(ctx context.Context, query string, ranked []datatypes.DocumentationResult, topK int) ([]datatypes.DocumentationResult, bool) {
	ctx, span := tracer.Start(ctx, "DocSearch.selfCorrect")
	defer span.End()

	frameworks := topFrameworks(ranked, 3)
	corrected := query + " example code documentation"
	if len(frameworks) > 0 {
		corrected = query + " " + strings.Join(frameworks, " ")
	}

	correctedEmbedding, err := a.embedder.Embed(ctx, corrected)
	if err != nil {
		a.logger.Debug("self_correction_skipped", "stage", "embed", "error", err)
		return nil, false
	}

	candidates, err := a.store.SearchDocumentation(ctx, correctedEmbedding, frameworks, correctionTopK, correctionMinScore)
	if err != nil {
		a.logger.Debug("self_correction_skipped", "stage", "search", "error", err)
		return nil, false
	}
	if len(candidates) == 0 {
		return nil, false
	}

	// Re-rank against the original query: the reformulation is only a
	// retrieval aid, relevance is still to what the user asked.
	reranked := a.rerankOrDegrade(ctx, query, candidates, topK)

	originalTop, correctedTop := topScore(ranked), topScore(reranked)
	span.SetAttributes(
		attribute.Float64("correction.original_top", originalTop),
		attribute.Float64("correction.corrected_top", correctedTop),
	)
	if correctedTop <= originalTop {
		return nil, false
	}

	a.logger.Info("search_self_corrected",
		"original_top_score", originalTop,
		"corrected_top_score", correctedTop,
		"frameworks", frameworks,
	)
	return reranked, true
}

// cacheResults writes the final list to the tool cache, best effort.
func (a *Agent) cacheResults(ctx context.Context, params map[string]any, results []datatypes.DocumentationResult) {
	if a.cache == nil {
		return
	}
	a.cache.Set(ctx, toolName, params, results, resilience.DefaultToolCacheTTL)
}

// topScore returns the best score in a ranked list, 0 when empty.
func topScore(results []datatypes.DocumentationResult) float64 {
	if len(results) == 0 {
		return 0
	}
	return results[0].Score
}

// topFrameworks collects the distinct non-empty frameworks of the first n
// results, preserving encounter order.
func topFrameworks(results []datatypes.DocumentationResult, n int) []string {
	seen := make(map[string]bool, n)
	var out []string
	for i, r := range results {
		if i >= n {
			break
		}
		fw := strings.TrimSpace(r.Framework)
		if fw == "" || seen[fw] {
			continue
		}
		seen[fw] = true
		out = append(out, fw)
	}
	return out
}

// Sources lists the distinct source URLs of results in encounter order.
// When version metadata is present the highest semver tag per source wins
// and is appended to the entry, e.g. "https://docs.nestjs.com (v10.2.1)".
func Sources(results []datatypes.DocumentationResult) []string {
	best := make(map[string]string)
	var order []string
	for _, r := range results {
		src := strings.TrimSpace(r.Source)
		if src == "" {
			continue
		}
		v := canonicalVersion(r.Metadata["version"])
		current, ok := best[src]
		if !ok {
			best[src] = v
			order = append(order, src)
			continue
		}
		if v != "" && (current == "" || semver.Compare(v, current) > 0) {
			best[src] = v
		}
	}

	out := make([]string, 0, len(order))
	for _, src := range order {
		if v := best[src]; v != "" {
			out = append(out, fmt.Sprintf("%s (%s)", src, v))
		} else {
			out = append(out, src)
		}
	}
	return out
}

// canonicalVersion normalizes a version tag to leading-v semver, or ""
// when the tag is absent or not semver.
func canonicalVersion(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "v") {
		raw = "v" + raw
	}
	if !semver.IsValid(raw) {
		return ""
	}
	return raw
}
