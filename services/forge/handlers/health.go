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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/forge/embedding"
)

// healthProbeTimeout bounds each backend ping so a hung backend cannot
// stall the probe loop of an orchestrator.
const healthProbeTimeout = 5 * time.Second

// Pinger reports backend liveness. *vectorstore.Client and kv.Store
// satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck serves GET /healthz.
//
// The vector store is load-bearing: without it the service cannot search or
// cache semantically, so an unreachable database makes the response 503. A
// KV outage only degrades caching, requests still succeed, so it reports
// "degraded" with a 200 and stays in rotation.
func HealthCheck(db Pinger, kvStore Pinger, embedder embedding.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		checks := gin.H{}
		status := "ok"
		code := http.StatusOK

		if db == nil {
			checks["vector_store"] = "not configured"
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else if err := db.Ping(ctx); err != nil {
			checks["vector_store"] = "unreachable"
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			checks["vector_store"] = "ok"
		}

		if kvStore == nil {
			checks["kv"] = "not configured"
		} else if err := kvStore.Ping(ctx); err != nil {
			checks["kv"] = "unreachable"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			checks["kv"] = "ok"
		}

		if embedder == nil {
			checks["embedding"] = "not configured"
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			checks["embedding"] = embedder.Name()
		}

		c.JSON(code, gin.H{"status": status, "checks": checks})
	}
}
