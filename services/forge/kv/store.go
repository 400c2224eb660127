// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kv provides the key-value store used by the tool cache and the
// exact tier of the semantic cache.
//
// The Store interface is deliberately small: callers treat the backend as
// an optimization, never as a source of truth, so every operation can fail
// without taking a request down with it.
package kv

import (
	"context"
	"time"
)

// Store is a TTL'd byte store keyed by string.
//
// Keys are namespaced by prefix ("semantic_cache:", "tool_cache:") and
// DeleteByPrefix must only ever be called with one of those namespaces.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key. found=false with a nil error means
	// the key is absent (or expired); a non-nil error means the backend
	// itself failed.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeleteByPrefix removes every key matching prefix and returns the
	// number of keys removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
