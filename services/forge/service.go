// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge wires the full request pipeline: two-tier semantic cache in
// front of the supervisor / documentation search / code generation workflow.
// New builds every collaborator from a Config; Process runs one prompt
// through cache lookup, workflow execution, and cache write-back.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianForge/pkg/validation"
	"github.com/AleutianAI/AleutianForge/services/forge/agent/codegen"
	"github.com/AleutianAI/AleutianForge/services/forge/agent/docsearch"
	"github.com/AleutianAI/AleutianForge/services/forge/agent/supervisor"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/embedding"
	"github.com/AleutianAI/AleutianForge/services/forge/kv"
	"github.com/AleutianAI/AleutianForge/services/forge/rerank"
	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/AleutianAI/AleutianForge/services/forge/semcache"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
	"github.com/AleutianAI/AleutianForge/services/forge/vectorstore"
	"github.com/AleutianAI/AleutianForge/services/forge/workflow"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

var tracer = otel.Tracer("forge.service")

// ProcessRequest is one prompt to run through the pipeline.
type ProcessRequest struct {
	// Prompt is the natural-language request. Required; at most 10,000
	// characters.
	Prompt string

	// Context optionally narrows the request to a framework.
	Context *RequestContext

	// MaxIterations caps self-correction loopbacks. Zero applies the
	// configured default; negative is rejected.
	MaxIterations int

	// TraceID correlates logs and spans across services. Empty generates
	// a fresh one.
	TraceID string
}

// RequestContext narrows a request.
type RequestContext struct {
	// Framework is a framework hint such as "nestjs" or "react".
	Framework string
}

// Services is the wired pipeline. Build it once with New, share it across
// requests, and Close it on shutdown.
//
// Thread Safety: safe for concurrent use.
type Services struct {
	// Embedder turns text into vectors for cache lookups and ingestion.
	Embedder embedding.Provider

	// Cache is the two-tier semantic response cache.
	Cache *semcache.Cache

	// Engine runs the agent workflow.
	Engine *workflow.Engine

	// Store is the PostgreSQL vector store.
	Store *vectorstore.Client

	// KV is the Redis-backed key-value store.
	KV kv.Store

	logger         *slog.Logger
	budget         time.Duration
	cacheTTL       time.Duration
	cacheThreshold float64
	maxIterations  int
	closeFns       []func() error
}

// New builds the pipeline from cfg.
//
// # Description
//
// Constructs every collaborator in dependency order: chat and embedding
// backends, the PostgreSQL vector store, the Redis key-value store, the
// semantic and tool caches, the reranker, the three agents, and the
// workflow engine. Construction is all-or-nothing: the first failure closes
// everything already opened and returns the error. The embedding disk cache
// is the one exception; if it cannot be opened the pipeline runs with
// uncached embeddings and logs a warning.
//
// # Inputs
//   - ctx: bounds the vector store's startup ping.
//   - cfg: validated configuration; see LoadConfig.
//   - logger: structured logger. Nil falls back to slog.Default().
//
// # Outputs
//   - *Services: the wired pipeline, ready for Process.
//   - error: validation or construction failure.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Services{
		logger:         logger,
		budget:         cfg.Server.RequestBudget,
		cacheTTL:       cfg.Cache.TTL,
		cacheThreshold: cfg.Cache.SimilarityThreshold,
		maxIterations:  cfg.Workflow.MaxIterations,
	}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	var chat llm.ChatClient
	switch cfg.LLM.Backend {
	case "openai":
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, fmt.Errorf("forge: openai chat client: %w", err)
		}
		chat = client
	case "gemini":
		client, err := llm.NewGeminiClient()
		if err != nil {
			return nil, fmt.Errorf("forge: gemini chat client: %w", err)
		}
		chat = client
	default:
		return nil, fmt.Errorf("forge: unknown llm backend %q", cfg.LLM.Backend)
	}

	var base embedding.Provider
	switch cfg.Embedding.Backend {
	case "openai":
		provider, err := embedding.NewOpenAIProvider()
		if err != nil {
			return nil, fmt.Errorf("forge: openai embedding provider: %w", err)
		}
		base = provider
	case "local":
		provider, err := embedding.NewLocalProvider()
		if err != nil {
			return nil, fmt.Errorf("forge: local embedding provider: %w", err)
		}
		base = provider
	default:
		return nil, fmt.Errorf("forge: unknown embedding backend %q", cfg.Embedding.Backend)
	}

	cacheDB, err := embedding.OpenCacheDB(logger)
	if err != nil {
		logger.Warn("embedding_cache_unavailable",
			slog.String("error", err.Error()))
		cacheDB = nil
	} else {
		s.closeFns = append(s.closeFns, cacheDB.Close)
	}
	s.Embedder = embedding.NewCachedProvider(base, cacheDB, cfg.Embedding.CacheTTL)

	store, err := vectorstore.NewClient(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("forge: vector store: %w", err)
	}
	s.Store = store
	s.closeFns = append(s.closeFns, func() error {
		store.Close()
		return nil
	})

	kvStore := kv.NewRedisStore(cfg.Redis)
	s.KV = kvStore
	s.closeFns = append(s.closeFns, kvStore.Close)

	s.Cache = semcache.New(kvStore, store, cfg.Cache.TTL, logger)

	scorer := rerank.NewHTTPScorer(cfg.Rerank.URL, cfg.Rerank.Timeout, logger)
	reranker := rerank.NewReranker(scorer, cfg.Rerank.BatchSize, logger)
	toolCache := resilience.NewToolCache(kvStore, cfg.Cache.ToolCacheTTL, logger)

	classifier, err := supervisor.New(chat, logger)
	if err != nil {
		return nil, fmt.Errorf("forge: supervisor agent: %w", err)
	}

	searcher, err := docsearch.New(s.Embedder, store, reranker, toolCache, logger)
	if err != nil {
		return nil, fmt.Errorf("forge: docsearch agent: %w", err)
	}

	generator, err := codegen.New(chat, syntax.NewRegistry(), codegen.Config{
		FallbackLanguage: cfg.Codegen.FallbackLanguage,
		GuidanceDir:      cfg.Codegen.GuidanceDir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("forge: codegen agent: %w", err)
	}
	s.closeFns = append(s.closeFns, generator.Close)

	engine, err := workflow.New(classifier, searcher, generator, workflow.Config{
		NodeTimeout: cfg.Workflow.NodeTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("forge: workflow engine: %w", err)
	}
	s.Engine = engine

	ok = true
	return s, nil
}

// Close releases every resource the pipeline holds, in reverse construction
// order. Safe to call more than once.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closeFns) - 1; i >= 0; i-- {
		if err := s.closeFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closeFns = nil
	return errors.Join(errs...)
}

// Process runs one prompt through the pipeline.
//
// # Description
//
// Validates the request, embeds the prompt, and consults the two-tier
// cache. A hit returns the cached answer with zero token cost. A miss runs
// the workflow under the request budget and writes the answer back to the
// cache when the run produced a usable result. Embedding is best-effort: if
// the provider fails, the request proceeds with exact-match caching only.
//
// The returned error is non-nil only for invalid input (wrapped
// ErrInvalidInput). Agent and backend failures inside the workflow degrade
// into an error-summary Result instead of failing the call.
//
// # Inputs
//   - ctx: caller cancellation; the configured request budget is layered
//     underneath.
//   - req: the prompt plus optional framework, iteration cap, and trace id.
//
// # Outputs
//   - *datatypes.AgentResponse: the answer and its per-request metadata.
//   - error: wrapped ErrInvalidInput on a malformed request.
func (s *Services) Process(ctx context.Context, req ProcessRequest) (*datatypes.AgentResponse, error) {
	started := time.Now()

	if err := validation.ValidatePrompt(req.Prompt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	framework := ""
	if req.Context != nil && req.Context.Framework != "" {
		sanitized, err := validation.SanitizeFramework(req.Context.Framework)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		framework = sanitized
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	} else if err := validation.ValidateTraceID(traceID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if req.MaxIterations < 0 {
		return nil, fmt.Errorf("%w: max_iterations must not be negative", ErrInvalidInput)
	}
	maxIterations := req.MaxIterations
	if maxIterations == 0 {
		maxIterations = s.maxIterations
	}

	ctx, span := tracer.Start(ctx, "Forge.Process",
		trace.WithAttributes(
			attribute.String("forge.trace_id", traceID),
			attribute.Bool("forge.has_framework", framework != ""),
		),
	)
	defer span.End()

	logger := s.logger.With(slog.String("trace_id", traceID))
	logger.Info("request_received",
		slog.Int("prompt_chars", len([]rune(req.Prompt))),
		slog.String("framework", framework))

	budget := s.budget
	if budget <= 0 {
		budget = DefaultRequestBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	promptVec, err := s.Embedder.Embed(ctx, req.Prompt)
	if err != nil {
		// Tier-1 lookups key on the exact prompt text, so the request
		// still benefits from caching without the vector.
		logger.Warn("prompt_embedding_failed",
			slog.String("error", err.Error()))
		promptVec = nil
	}

	if hit := s.Cache.Get(ctx, req.Prompt, promptVec, s.cacheThreshold); hit != nil {
		span.SetAttributes(
			attribute.Bool("forge.cache_hit", true),
			attribute.String("forge.cache_tier", hit.Tier),
		)
		span.SetStatus(codes.Ok, "")
		logger.Info("cache_hit_served",
			slog.String("tier", hit.Tier),
			slog.Float64("similarity", hit.SimilarityScore),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()))
		return &datatypes.AgentResponse{
			Result: hit.Response,
			Metadata: datatypes.ResponseMetadata{
				TraceID:            traceID,
				CacheHit:           true,
				ProcessingTimeMS:   time.Since(started).Milliseconds(),
				TokensUsed:         0,
				AgentsInvoked:      []string{},
				WorkflowIterations: 0,
			},
		}, nil
	}

	state := workflow.NewState(req.Prompt, framework, traceID, maxIterations)
	report := s.Engine.Run(ctx, state)

	if state.ProducedResult() {
		s.Cache.Set(ctx, req.Prompt, report.Result, promptVec, s.cacheTTL)
	}

	span.SetAttributes(
		attribute.Bool("forge.cache_hit", false),
		attribute.Int("forge.iterations", report.Iterations),
		attribute.Int("forge.tokens_used", report.TokensUsed),
	)
	span.SetStatus(codes.Ok, "")

	return &datatypes.AgentResponse{
		Result: report.Result,
		Metadata: datatypes.ResponseMetadata{
			TraceID:            traceID,
			CacheHit:           false,
			ProcessingTimeMS:   time.Since(started).Milliseconds(),
			TokensUsed:         report.TokensUsed,
			AgentsInvoked:      report.AgentsInvoked,
			WorkflowIterations: report.Iterations,
		},
	}, nil
}
