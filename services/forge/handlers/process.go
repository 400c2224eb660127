// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers. They stay thin: bind the request,
// call the pipeline, map errors to sanitized JSON bodies.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/ingest"
	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/AleutianAI/AleutianForge/services/forge/vectorstore"
)

// Processor is the slice of the pipeline the process handler needs.
// *forge.Services satisfies it.
type Processor interface {
	Process(ctx context.Context, req forge.ProcessRequest) (*datatypes.AgentResponse, error)
}

// ProcessRequest is the POST /api/v1/process body. Deep validation (length
// ceilings, character sets) happens in the pipeline; binding tags reject
// only the shapes that cannot possibly be valid.
type ProcessRequest struct {
	Prompt        string          `json:"prompt" binding:"required"`
	Context       *RequestContext `json:"context,omitempty"`
	MaxIterations int             `json:"max_iterations,omitempty" binding:"omitempty,gte=0,lte=10"`
	TraceID       string          `json:"trace_id,omitempty" binding:"omitempty,max=64"`
}

// RequestContext narrows a request to one framework.
type RequestContext struct {
	Framework string `json:"framework,omitempty" binding:"omitempty,max=50"`
}

// ProcessPrompt serves POST /api/v1/process: natural-language prompt in,
// AgentResponse out. Pipeline failures are not transport errors; they come
// back as 200 responses whose result explains what went wrong.
func ProcessPrompt(svc Processor, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		var req ProcessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "trace_id": ""})
			return
		}

		procReq := forge.ProcessRequest{
			Prompt:        req.Prompt,
			MaxIterations: req.MaxIterations,
			TraceID:       req.TraceID,
		}
		if req.Context != nil {
			procReq.Context = &forge.RequestContext{Framework: req.Context.Framework}
		}

		resp, err := svc.Process(c.Request.Context(), procReq)
		if err != nil {
			writeError(c, logger, req.TraceID, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// writeError maps pipeline errors onto sanitized HTTP bodies: message plus
// trace id, never stacks or connection strings.
func writeError(c *gin.Context, logger *slog.Logger, traceID string, err error) {
	switch {
	case errors.Is(err, forge.ErrInvalidInput), errors.Is(err, ingest.ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "trace_id": traceID})
	case errors.Is(err, vectorstore.ErrVectorStoreUnavailable), errors.Is(err, resilience.ErrCircuitOpen):
		logger.Warn("request_backend_unavailable",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable", "trace_id": traceID})
	default:
		logger.Error("request_failed",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "trace_id": traceID})
	}
}
