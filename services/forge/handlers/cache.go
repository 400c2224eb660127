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
)

// CacheClearer empties the response cache. *semcache.Cache satisfies it.
type CacheClearer interface {
	Clear(ctx context.Context) error
}

// ClearCache serves POST /api/v1/cache/clear. Unlike cache reads and
// writes, clearing is an operator action, so backend failures surface.
func ClearCache(cache CacheClearer, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		if err := cache.Clear(c.Request.Context()); err != nil {
			writeError(c, logger, "", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}
