// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/kv"
)

// DefaultToolCacheTTL is how long tool results stay cached.
const DefaultToolCacheTTL = 300 * time.Second

// toolCacheKeyPrefix namespaces tool cache entries in the shared KV store.
const toolCacheKeyPrefix = "tool_cache:"

// toolCacheEntry is the stored envelope around a cached tool result.
type toolCacheEntry struct {
	Result   json.RawMessage `json:"result"`
	CachedAt time.Time       `json:"cached_at"`
}

// ToolCache caches tool call results keyed by tool name and parameters.
//
// The cache is strictly best-effort: a missing or unreachable backend turns
// every lookup into a miss and every write into a no-op. Callers never see
// backend errors, they only see slower responses.
//
// Thread Safety: safe for concurrent use as long as the underlying store is.
type ToolCache struct {
	store  kv.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewToolCache creates a tool cache over the given store. A nil logger
// falls back to slog.Default(); a non-positive ttl falls back to
// DefaultToolCacheTTL.
func NewToolCache(store kv.Store, ttl time.Duration, logger *slog.Logger) *ToolCache {
	if ttl <= 0 {
		ttl = DefaultToolCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolCache{store: store, ttl: ttl, logger: logger}
}

// Key derives the cache key for a tool call. Parameters are serialized as
// canonical JSON (encoding/json emits map keys in sorted order), hashed with
// SHA-256, and truncated to 16 hex characters. Identical parameters always
// produce identical keys regardless of insertion order.
func (c *ToolCache) Key(tool string, params map[string]any) string {
	canonical, err := json.Marshal(params)
	if err != nil {
		// Unmarshalable params (channels, funcs) never match anything.
		canonical = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256(canonical)
	return toolCacheKeyPrefix + tool + ":" + hex.EncodeToString(sum[:])[:16]
}

// Get looks up a cached result and unmarshals it into out. Returns false on
// miss, backend error, or decode failure. Backend errors are logged, never
// returned.
func (c *ToolCache) Get(ctx context.Context, tool string, params map[string]any, out any) bool {
	key := c.Key(tool, params)

	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache_backend_connection_failed",
			"operation", "tool_cache_get", "tool", tool, "error", err)
		return false
	}
	if !found {
		return false
	}

	var entry toolCacheEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		c.logger.Warn("tool_cache_decode_failed", "tool", tool, "error", err)
		return false
	}
	if err := json.Unmarshal(entry.Result, out); err != nil {
		c.logger.Warn("tool_cache_decode_failed", "tool", tool, "error", err)
		return false
	}
	return true
}

// Set stores a tool result with the given TTL (non-positive means the cache
// default). Returns true when the write succeeded.
func (c *ToolCache) Set(ctx context.Context, tool string, params map[string]any, result any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}

	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("tool_cache_encode_failed", "tool", tool, "error", err)
		return false
	}
	value, err := json.Marshal(toolCacheEntry{Result: raw, CachedAt: time.Now().UTC()})
	if err != nil {
		c.logger.Warn("tool_cache_encode_failed", "tool", tool, "error", err)
		return false
	}

	if err := c.store.Set(ctx, c.Key(tool, params), value, ttl); err != nil {
		c.logger.Warn("cache_backend_connection_failed",
			"operation", "tool_cache_set", "tool", tool, "error", err)
		return false
	}
	return true
}

// Delete removes a cached result. Returns true when the delete succeeded
// (including when the key was already absent).
func (c *ToolCache) Delete(ctx context.Context, tool string, params map[string]any) bool {
	if err := c.store.Delete(ctx, c.Key(tool, params)); err != nil {
		c.logger.Warn("cache_backend_connection_failed",
			"operation", "tool_cache_delete", "tool", tool, "error", err)
		return false
	}
	return true
}

// GetOrSet returns the cached result when present, otherwise invokes fetch,
// caches its result, and unmarshals it into out. Cache failures on either
// side degrade silently; fetch errors propagate unchanged.
func (c *ToolCache) GetOrSet(ctx context.Context, tool string, params map[string]any, ttl time.Duration, out any, fetch func(context.Context) (any, error)) error {
	if c.Get(ctx, tool, params, out) {
		return nil
	}

	result, err := fetch(ctx)
	if err != nil {
		return err
	}
	c.Set(ctx, tool, params, result, ttl)

	// Round-trip through JSON so hits and misses yield identical shapes.
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("tool cache encode result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("tool cache decode result: %w", err)
	}
	return nil
}
