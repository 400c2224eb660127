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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
)

// DefaultScorerTimeout bounds one sidecar round trip.
const DefaultScorerTimeout = 10 * time.Second

// HTTPScorer scores passages through a cross-encoder sidecar
// (ms-marco MiniLM class) exposing POST /score.
//
// The sidecar serializes access to the model; this client may be called
// concurrently and may keep several batches in flight.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
	retry   resilience.RetryPolicy
	logger  *slog.Logger
}

type scoreRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// NewHTTPScorer builds a scorer for the sidecar at baseURL
// (e.g. "http://localhost:8090"). timeout <= 0 falls back to
// DefaultScorerTimeout.
func NewHTTPScorer(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPScorer {
	if timeout <= 0 {
		timeout = DefaultScorerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	retry := resilience.HTTPRetryPolicy()
	retry.RetryIf = func(err error) bool {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return statusErr.Retryable()
		}
		return resilience.IsRetryableHTTP(err)
	}

	return &HTTPScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
		logger:  logger.With(slog.String("component", "http_scorer")),
	}
}

var _ Scorer = (*HTTPScorer)(nil)

// Score implements Scorer. Transport failures and gateway statuses
// (502/503/504) are retried under the HTTP retry policy; other statuses and
// malformed bodies fail fast.
func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(scoreRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("rerank: marshal score request: %w", err)
	}

	var scores []float64
	err = s.retry.Run(ctx, func(ctx context.Context) error {
		got, callErr := s.post(ctx, body)
		if callErr != nil {
			return callErr
		}
		scores = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(scores) != len(passages) {
		return nil, fmt.Errorf("%w: sent %d passages, got %d scores",
			ErrScoreCountMismatch, len(passages), len(scores))
	}
	return scores, nil
}

func (s *HTTPScorer) post(ctx context.Context, body []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank: build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: score request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("rerank: read score response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: snippet(raw)}
		if statusErr.Retryable() {
			s.logger.Warn("scorer_transient_failure",
				slog.Int("status", resp.StatusCode))
		}
		return nil, statusErr
	}

	var decoded scoreResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("rerank: decode score response: %w", err)
	}
	return decoded.Scores, nil
}

// snippet truncates a response body for error messages.
func snippet(raw []byte) string {
	const maxLen = 200
	text := strings.TrimSpace(string(raw))
	if len(text) > maxLen {
		return text[:maxLen] + "..."
	}
	return text
}
