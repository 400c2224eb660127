// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding turns text into dense vectors for similarity search.
//
// Two backends are supported: the OpenAI embeddings API and a local HTTP
// embedding server speaking the Ollama /api/embed protocol. Either can be
// wrapped in a CachedProvider, which memoizes vectors in BadgerDB keyed by
// content hash.
//
// Every provider returns vectors of a fixed dimensionality. The vector
// store validates its column width against Dimensions() at startup, so a
// model swap that changes the width is caught before any data is written.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by all providers.
var (
	// ErrEmptyInput is returned when the text to embed is empty or
	// whitespace-only.
	ErrEmptyInput = errors.New("embedding: empty input")

	// ErrEmptyBatch is returned when EmbedBatch is called with no texts.
	ErrEmptyBatch = errors.New("embedding: empty batch")
)

// DimensionMismatchError is returned when a backend produces a vector whose
// width differs from the provider's declared dimensionality.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding: dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Provider produces embedding vectors for text.
//
// Thread Safety: implementations are safe for concurrent use.
type Provider interface {
	// Embed returns the embedding vector for a single text. Empty or
	// whitespace-only text yields ErrEmptyInput.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds many texts in one backend round trip. The result
	// is index-aligned with the input: empty texts produce a nil vector
	// at their position rather than shifting later entries.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the width of vectors this provider produces.
	Dimensions() int

	// Name identifies the backing model for cache keys and logs.
	Name() string
}

// checkDimensions validates a backend vector against the declared width.
func checkDimensions(want int, vec []float32) error {
	if len(vec) != want {
		return &DimensionMismatchError{Want: want, Got: len(vec)}
	}
	return nil
}
