// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	badgerstore "github.com/AleutianAI/AleutianForge/services/forge/storage/badger"
)

// DefaultCacheTTL is how long cached vectors stay valid. Embeddings for a
// fixed model never change, so the TTL only bounds disk growth.
const DefaultCacheTTL = 24 * time.Hour

// cacheKeyPrefix versions the on-disk format. Bump on encoding changes.
const cacheKeyPrefix = "emb/v1/"

// CachedProvider wraps a Provider with a BadgerDB vector cache keyed by
// model name and content hash. Identical texts hit disk instead of the
// backend. Concurrent requests for the same text are collapsed into one
// backend call.
//
// Cache failures are logged and degrade to direct backend calls; callers
// never see them.
//
// Thread Safety: safe for concurrent use. Returned vectors are shared and
// must be treated as read-only.
type CachedProvider struct {
	inner Provider
	db    *badgerstore.DB
	ttl   time.Duration
	group singleflight.Group
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps inner with a vector cache. A nil db disables
// caching entirely; a non-positive ttl falls back to DefaultCacheTTL. The
// caller owns the db lifecycle.
func NewCachedProvider(inner Provider, db *badgerstore.DB, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{inner: inner, db: db, ttl: ttl}
}

// OpenCacheDB opens the embedding cache database at FORGE_EMBED_CACHE_DIR,
// falling back to the user cache directory.
func OpenCacheDB(logger *slog.Logger) (*badgerstore.DB, error) {
	dir := os.Getenv("FORGE_EMBED_CACHE_DIR")
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = "."
		}
		dir = filepath.Join(base, "forge", "embeddings")
	}

	cfg := badgerstore.DefaultConfig()
	cfg.Path = dir
	cfg.Logger = logger
	return badgerstore.OpenDB(cfg)
}

// Name implements the Provider interface.
func (c *CachedProvider) Name() string { return c.inner.Name() }

// Dimensions implements the Provider interface.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// Embed implements the Provider interface. Cache hits skip the backend;
// concurrent misses for the same text share one backend call.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	key := c.key(text)
	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have populated the cache already.
		if vec, ok := c.lookup(key); ok {
			return vec, nil
		}
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.store(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// EmbedBatch implements the Provider interface. Cached texts are served
// from disk; only the misses travel to the backend.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	out := make([][]float32, len(texts))
	misses := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if vec, ok := c.lookup(c.key(text)); ok {
			out[i] = vec
			continue
		}
		misses = append(misses, text)
		positions = append(positions, i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		out[positions[j]] = vec
		if vec != nil {
			c.store(c.key(misses[j]), vec)
		}
	}
	return out, nil
}

// key derives the cache key: versioned prefix, model name, then the first
// 16 hex characters of the content hash.
func (c *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + c.inner.Name() + "/" + hex.EncodeToString(sum[:])[:16]
}

// lookup reads a vector from the cache. Any failure is a miss.
func (c *CachedProvider) lookup(key string) ([]float32, bool) {
	if c.db == nil {
		return nil, false
	}

	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&vec)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("embedding_cache_read_failed", "error", err)
		}
		return nil, false
	}
	return vec, true
}

// store writes a vector with the cache TTL. Failures are logged and
// swallowed.
func (c *CachedProvider) store(key string, vec []float32) {
	if c.db == nil {
		return
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vec); err != nil {
		slog.Warn("embedding_cache_encode_failed", "error", err)
		return
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), buf.Bytes()).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		slog.Warn("embedding_cache_write_failed", "error", err)
	}
}
