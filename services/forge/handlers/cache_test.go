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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
)

// mockClearer implements CacheClearer.
type mockClearer struct {
	err   error
	calls int
}

func (m *mockClearer) Clear(context.Context) error {
	m.calls++
	return m.err
}

func TestClearCache_Success(t *testing.T) {
	clearer := &mockClearer{}
	router := createTestRouter(http.MethodPost, "/api/v1/cache/clear", ClearCache(clearer, nil))

	w := performRequest(router, http.MethodPost, "/api/v1/cache/clear", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, clearer.calls)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "cleared", body["status"])
}

func TestClearCache_CircuitOpenMapsTo503(t *testing.T) {
	clearer := &mockClearer{err: fmt.Errorf("clear tier2: %w", resilience.ErrCircuitOpen)}
	router := createTestRouter(http.MethodPost, "/api/v1/cache/clear", ClearCache(clearer, nil))

	w := performRequest(router, http.MethodPost, "/api/v1/cache/clear", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestClearCache_BackendErrorMapsTo500(t *testing.T) {
	clearer := &mockClearer{err: errors.New("redis: connection pool timeout")}
	router := createTestRouter(http.MethodPost, "/api/v1/cache/clear", ClearCache(clearer, nil))

	w := performRequest(router, http.MethodPost, "/api/v1/cache/clear", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
	assert.NotContains(t, w.Body.String(), "redis:")
}
