// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semcache is the two-tier semantic response cache in front of the
// agent workflow.
//
// Tier 1 is an exact-prompt lookup in a Redis-protocol KV store; Tier 2 is
// cosine similarity over pgvector rows. The cache never changes the result
// of a request, only its latency: every backend failure on the request path
// is logged and treated as a miss, and Set reports success as long as at
// least one tier stored the entry.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/kv"
)

var tracer = otel.Tracer("forge.semcache")

// Defaults.
const (
	// DefaultTTL is how long cached responses stay valid.
	DefaultTTL = 3600 * time.Second

	// DefaultSimilarityThreshold gates Tier-2 hits.
	DefaultSimilarityThreshold = 0.95

	// keyPrefix namespaces Tier-1 keys in the shared KV store.
	keyPrefix = "semantic_cache:"
)

// Tier labels reported on hits.
const (
	TierExact    = "exact"
	TierSemantic = "semantic"
)

// VectorBackend is the Tier-2 surface. *vectorstore.Client implements it.
type VectorBackend interface {
	SearchCacheByEmbedding(ctx context.Context, embedding []float32, threshold float64) (*datatypes.CachedResponse, float64, error)
	UpsertCache(ctx context.Context, prompt, response string, embedding []float32, ttlSeconds int) error
	TruncateCache(ctx context.Context) error
}

// Hit is a successful cache lookup.
type Hit struct {
	// Response is the previously computed answer.
	Response string

	// SimilarityScore is 1.0 for exact hits, the measured cosine
	// similarity for semantic hits.
	SimilarityScore float64

	// Tier is TierExact or TierSemantic.
	Tier string
}

// tier1Entry is the JSON value stored under a Tier-1 key.
type tier1Entry struct {
	Response string    `json:"response"`
	CachedAt time.Time `json:"cached_at"`
}

// Cache is the two-tier semantic cache.
//
// Thread Safety: Safe for concurrent use. There is no cross-key consistency:
// concurrent identical prompts may both compute and both write; last write
// wins.
type Cache struct {
	store  kv.Store
	vector VectorBackend
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a Cache over the KV store (Tier 1) and vector backend (Tier 2).
// ttl <= 0 falls back to DefaultTTL; a nil logger falls back to
// slog.Default().
func New(store kv.Store, vector VectorBackend, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		vector: vector,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "semantic_cache")),
	}
}

// Key returns the Tier-1 key for a prompt: semantic_cache:{hex(sha256)}.
func Key(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get looks the prompt up in both tiers.
//
// Tier 1 matches the exact prompt and reports similarity 1.0. On a Tier-1
// miss, Tier 2 runs a cosine search with the supplied embedding against
// threshold; a nil embedding skips Tier 2 entirely, so callers that could
// not embed the prompt still get exact-match caching.
//
// Get never returns an error: backend failures are logged as
// cache_backend_connection_failed and treated as a miss.
func (c *Cache) Get(ctx context.Context, prompt string, embedding []float32, threshold float64) *Hit {
	ctx, span := tracer.Start(ctx, "semcache.Get",
		trace.WithAttributes(attribute.Bool("embedding_present", len(embedding) > 0)),
	)
	defer span.End()

	if hit := c.getExact(ctx, prompt); hit != nil {
		span.SetAttributes(attribute.String("tier", TierExact))
		span.SetStatus(codes.Ok, "")
		return hit
	}

	if len(embedding) == 0 {
		span.SetAttributes(attribute.Bool("hit", false))
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if hit := c.getSemantic(ctx, embedding, threshold); hit != nil {
		span.SetAttributes(attribute.String("tier", TierSemantic),
			attribute.Float64("similarity", hit.SimilarityScore))
		span.SetStatus(codes.Ok, "")
		return hit
	}

	span.SetAttributes(attribute.Bool("hit", false))
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Cache) getExact(ctx context.Context, prompt string) *Hit {
	raw, found, err := c.store.Get(ctx, Key(prompt))
	if err != nil {
		c.logger.Warn("cache_backend_connection_failed",
			slog.String("tier", TierExact),
			slog.String("op", "get"),
			slog.String("error", err.Error()))
		return nil
	}
	if !found {
		return nil
	}

	var entry tier1Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("cache_entry_corrupt",
			slog.String("tier", TierExact),
			slog.String("error", err.Error()))
		return nil
	}
	return &Hit{Response: entry.Response, SimilarityScore: 1.0, Tier: TierExact}
}

func (c *Cache) getSemantic(ctx context.Context, embedding []float32, threshold float64) *Hit {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	cached, score, err := c.vector.SearchCacheByEmbedding(ctx, embedding, threshold)
	if err != nil {
		c.logger.Warn("cache_backend_connection_failed",
			slog.String("tier", TierSemantic),
			slog.String("op", "get"),
			slog.String("error", err.Error()))
		return nil
	}
	if cached == nil {
		return nil
	}
	return &Hit{Response: cached.Response, SimilarityScore: score, Tier: TierSemantic}
}

// Set writes the response to both tiers and reports whether at least one
// write landed. A nil embedding skips the Tier-2 write. Backend failures are
// logged, never surfaced; the response has already been computed and a
// failed cache write must not fail the request.
func (c *Cache) Set(ctx context.Context, prompt, response string, embedding []float32, ttl time.Duration) bool {
	ctx, span := tracer.Start(ctx, "semcache.Set")
	defer span.End()

	if ttl <= 0 {
		ttl = c.ttl
	}

	stored := false

	entry, err := json.Marshal(tier1Entry{Response: response, CachedAt: time.Now().UTC()})
	if err == nil {
		if err := c.store.Set(ctx, Key(prompt), entry, ttl); err != nil {
			c.logger.Warn("cache_backend_connection_failed",
				slog.String("tier", TierExact),
				slog.String("op", "set"),
				slog.String("error", err.Error()))
		} else {
			stored = true
		}
	}

	if len(embedding) > 0 {
		ttlSeconds := int(ttl / time.Second)
		if err := c.vector.UpsertCache(ctx, prompt, response, embedding, ttlSeconds); err != nil {
			c.logger.Warn("cache_backend_connection_failed",
				slog.String("tier", TierSemantic),
				slog.String("op", "set"),
				slog.String("error", err.Error()))
		} else {
			stored = true
		}
	}

	span.SetAttributes(attribute.Bool("stored", stored))
	span.SetStatus(codes.Ok, "")
	return stored
}

// Clear removes every cached response from both tiers. Unlike Get/Set this
// is an operator action, so failures surface: the first error from either
// tier is returned after both deletions were attempted.
func (c *Cache) Clear(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "semcache.Clear")
	defer span.End()

	deleted, kvErr := c.store.DeleteByPrefix(ctx, keyPrefix)
	if kvErr != nil {
		c.logger.Error("cache_clear_failed",
			slog.String("tier", TierExact),
			slog.String("error", kvErr.Error()))
	}

	vecErr := c.vector.TruncateCache(ctx)
	if vecErr != nil {
		c.logger.Error("cache_clear_failed",
			slog.String("tier", TierSemantic),
			slog.String("error", vecErr.Error()))
	}

	if kvErr != nil {
		span.RecordError(kvErr)
		span.SetStatus(codes.Error, "tier1 clear failed")
		return kvErr
	}
	if vecErr != nil {
		span.RecordError(vecErr)
		span.SetStatus(codes.Error, "tier2 clear failed")
		return vecErr
	}

	c.logger.Info("semantic_cache_cleared", slog.Int("tier1_keys", deleted))
	span.SetStatus(codes.Ok, "")
	return nil
}
