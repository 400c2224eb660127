// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/forge/ingest"
)

// DocumentIngestor is the slice of the ingestion pipeline the documents
// handler needs. *ingest.Ingestor satisfies it.
type DocumentIngestor interface {
	IngestDocument(ctx context.Context, doc ingest.Document) (int, error)
}

// IngestDocumentRequest is the POST /api/v1/documents body.
type IngestDocumentRequest struct {
	Content   string `json:"content" binding:"required"`
	Source    string `json:"source" binding:"required"`
	Framework string `json:"framework" binding:"required,max=50"`
	Version   string `json:"version,omitempty"`
}

// CreateDocument serves POST /api/v1/documents: one document in, chunked,
// embedded, and upserted into the documentation table.
func CreateDocument(ingestor DocumentIngestor, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		var req IngestDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "trace_id": ""})
			return
		}

		chunks, err := ingestor.IngestDocument(c.Request.Context(), ingest.Document{
			Content:   req.Content,
			Source:    req.Source,
			Framework: req.Framework,
			Version:   req.Version,
		})
		if err != nil {
			writeError(c, logger, "", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"source":           req.Source,
			"chunks_processed": chunks,
		})
	}
}
