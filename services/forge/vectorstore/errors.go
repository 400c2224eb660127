// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for the vector store client.
var (
	// ErrVectorStoreUnavailable is returned when the database cannot be
	// reached after retries and a forced pool reset.
	ErrVectorStoreUnavailable = errors.New("vectorstore: database not available")

	// ErrEmptyEmbedding is returned when a search is attempted with a
	// zero-length query vector.
	ErrEmptyEmbedding = errors.New("vectorstore: query embedding must not be empty")

	// ErrVectorExtensionMissing is returned by schema validation when the
	// pgvector extension is not installed in the target database.
	ErrVectorExtensionMissing = errors.New("vectorstore: pgvector extension not installed")

	// ErrHNSWUnavailable is returned by schema validation when the hnsw
	// access method is absent (pgvector older than 0.5.0).
	ErrHNSWUnavailable = errors.New("vectorstore: hnsw index access method not available")
)

// SchemaDimensionError reports a mismatch between the embedding width the
// tables declare and the width the active embedding provider produces.
// Changing dimensions requires dropping and re-ingesting the vector tables,
// so this is treated as a fatal configuration error at startup.
type SchemaDimensionError struct {
	Declared int
	Want     int
}

func (e *SchemaDimensionError) Error() string {
	return fmt.Sprintf("vectorstore: schema declares VECTOR(%d) but embedding provider produces %d dimensions (changing dimensions requires re-ingestion)",
		e.Declared, e.Want)
}

// IsUnavailable reports whether err indicates the vector store could not be
// reached, as opposed to a query-level failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrVectorStoreUnavailable)
}
