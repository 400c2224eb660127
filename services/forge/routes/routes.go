// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianForge/pkg/telemetry"
	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/AleutianAI/AleutianForge/services/forge/ingest"
)

// SetupRoutes registers every route and middleware on the router. metrics
// may be nil when telemetry is disabled; svc.Store may be nil in partial
// wirings, healthz then reports the vector store as not configured.
func SetupRoutes(router *gin.Engine, svc *forge.Services, ingestor *ingest.Ingestor,
	metrics *telemetry.Metrics, logger *slog.Logger) {

	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("forge"))
	router.Use(handlers.TrackMetrics(metrics))

	var db handlers.Pinger
	if svc.Store != nil {
		db = svc.Store
	}
	router.GET("/healthz", handlers.HealthCheck(db, svc.KV, svc.Embedder))

	// Resolved per request: the Prometheus handler only exists after
	// telemetry.Init ran with the prometheus exporter selected.
	router.GET("/metrics", func(c *gin.Context) {
		h := telemetry.MetricsHandler()
		if h == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "metrics exporter disabled"})
			return
		}
		h.ServeHTTP(c.Writer, c.Request)
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/process", handlers.ProcessPrompt(svc, logger))
		v1.POST("/documents", handlers.CreateDocument(ingestor, logger))
		v1.POST("/cache/clear", handlers.ClearCache(svc.Cache, logger))
	}
}
