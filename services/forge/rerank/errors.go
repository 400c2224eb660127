// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rerank

import (
	"errors"
	"fmt"
)

// Sentinel errors for re-ranking.
var (
	// ErrEmptyQuery is returned when Rerank is called without a query.
	ErrEmptyQuery = errors.New("rerank: query must not be empty")

	// ErrNoResults is returned when Rerank is called with nothing to rank.
	ErrNoResults = errors.New("rerank: no results to rerank")

	// ErrScoreCountMismatch is returned when a scorer yields a different
	// number of scores than passages submitted.
	ErrScoreCountMismatch = errors.New("rerank: scorer returned wrong number of scores")
)

// StatusError reports a non-2xx response from the cross-encoder sidecar.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rerank: scorer returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status indicates a transient gateway
// condition worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}
