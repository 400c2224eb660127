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
	"context"
	"fmt"
	"log/slog"
)

// -----------------------------------------------------------------------------
// DDL
// -----------------------------------------------------------------------------

// Table DDL templates. The single %d is the embedding dimension; both tables
// must declare the same width as the active embedding provider.
const (
	createVectorExtension = `CREATE EXTENSION IF NOT EXISTS vector`

	createDocumentationTable = `
CREATE TABLE IF NOT EXISTS framework_documentation (
    id          BIGSERIAL PRIMARY KEY,
    content     TEXT NOT NULL,
    embedding   VECTOR(%d) NOT NULL,
    source      TEXT NOT NULL,
    framework   TEXT NOT NULL,
    section     TEXT,
    version     TEXT,
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (framework, source, section)
)`

	createDocumentationIndex = `
CREATE INDEX IF NOT EXISTS framework_documentation_embedding_idx
    ON framework_documentation USING hnsw (embedding vector_cosine_ops)`

	createCacheTable = `
CREATE TABLE IF NOT EXISTS semantic_cache (
    prompt      TEXT PRIMARY KEY,
    response    TEXT NOT NULL,
    embedding   VECTOR(%d) NOT NULL,
    cached_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    ttl         INT NOT NULL DEFAULT 3600
)`

	createCacheIndex = `
CREATE INDEX IF NOT EXISTS semantic_cache_embedding_idx
    ON semantic_cache USING hnsw (embedding vector_cosine_ops)`
)

// Schema probes.
const (
	vectorExtensionQuery = `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`

	hnswMethodQuery = `SELECT EXISTS (SELECT 1 FROM pg_am WHERE amname = 'hnsw')`

	// For vector columns atttypmod holds the declared dimension directly.
	declaredDimensionQuery = `
SELECT atttypmod FROM pg_attribute
WHERE attrelid = 'framework_documentation'::regclass
  AND attname = 'embedding'`
)

// schemaStatements returns the idempotent DDL in execution order.
func schemaStatements(dimensions int) []string {
	return []string{
		createVectorExtension,
		fmt.Sprintf(createDocumentationTable, dimensions),
		createDocumentationIndex,
		fmt.Sprintf(createCacheTable, dimensions),
		createCacheIndex,
	}
}

// -----------------------------------------------------------------------------
// Schema operations
// -----------------------------------------------------------------------------

// EnsureSchema creates the pgvector extension, both vector tables, and their
// HNSW indexes. Every statement is idempotent, so re-running against an
// existing database is safe. The dimension is frozen at first creation;
// EnsureSchema never alters an existing column.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	dimensions - Embedding width for the VECTOR columns. Must be positive.
//
// Outputs:
//
//	error - Non-nil if any statement fails.
func (c *Client) EnsureSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("vectorstore: dimensions must be positive, got %d", dimensions)
	}

	ctx, span := tracer.Start(ctx, "vectorstore.EnsureSchema")
	defer span.End()

	for _, stmt := range schemaStatements(dimensions) {
		err := c.run(ctx, "ensure_schema", func(ctx context.Context) error {
			_, execErr := c.db.Exec(ctx, stmt)
			return execErr
		})
		if err != nil {
			return spanError(span, err)
		}
	}

	c.logger.Info("vector_store_schema_ensured",
		slog.Int("dimensions", dimensions))
	spanOK(span)
	return nil
}

// ValidateSchema verifies the database is usable for this deployment:
// pgvector installed, HNSW access method present, and the declared embedding
// dimension matching the active provider. A dimension mismatch is fatal;
// changing widths requires dropping and re-ingesting both tables.
func (c *Client) ValidateSchema(ctx context.Context, dimensions int) error {
	ctx, span := tracer.Start(ctx, "vectorstore.ValidateSchema")
	defer span.End()

	var hasVector, hasHNSW bool
	var declared int

	err := c.run(ctx, "validate_schema", func(ctx context.Context) error {
		if err := c.db.QueryRow(ctx, vectorExtensionQuery).Scan(&hasVector); err != nil {
			return err
		}
		if err := c.db.QueryRow(ctx, hnswMethodQuery).Scan(&hasHNSW); err != nil {
			return err
		}
		return c.db.QueryRow(ctx, declaredDimensionQuery).Scan(&declared)
	})
	if err != nil {
		return spanError(span, err)
	}

	if !hasVector {
		return spanError(span, ErrVectorExtensionMissing)
	}
	if !hasHNSW {
		return spanError(span, ErrHNSWUnavailable)
	}
	if declared != dimensions {
		return spanError(span, &SchemaDimensionError{Declared: declared, Want: dimensions})
	}

	spanOK(span)
	return nil
}

// HealthReport describes vector store health for readiness checks.
type HealthReport struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	VectorEnabled bool  `json:"vector_enabled"`
	HNSWAvailable bool  `json:"hnsw_available"`
}

// Health pings the database and reports pool utilization plus extension and
// index-method availability. Pool counters are zero when the client was built
// from a bare Querier.
func (c *Client) Health(ctx context.Context) (HealthReport, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Health")
	defer span.End()

	var report HealthReport
	err := c.run(ctx, "health", func(ctx context.Context) error {
		if err := c.db.Ping(ctx); err != nil {
			return err
		}
		if err := c.db.QueryRow(ctx, vectorExtensionQuery).Scan(&report.VectorEnabled); err != nil {
			return err
		}
		return c.db.QueryRow(ctx, hnswMethodQuery).Scan(&report.HNSWAvailable)
	})
	if err != nil {
		return HealthReport{}, spanError(span, err)
	}

	if c.pool != nil {
		stat := c.pool.Stat()
		report.TotalConns = stat.TotalConns()
		report.IdleConns = stat.IdleConns()
	}

	spanOK(span)
	return report, nil
}
