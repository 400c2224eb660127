// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// LocalDimensions is the default vector width for local embedding models.
const LocalDimensions = 384

// defaultLocalEmbedModel is used when FORGE_EMBED_MODEL is not set.
const defaultLocalEmbedModel = "all-minilm"

// LocalProvider embeds text through a local HTTP server speaking the Ollama
// /api/embed protocol.
type LocalProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dimensions int
	retry      resilience.RetryPolicy
}

var _ Provider = (*LocalProvider)(nil)

// Local embed API request/response structures.
type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewLocalProvider builds a provider from the environment. FORGE_EMBED_URL
// must point at the embedding server; FORGE_EMBED_MODEL and
// FORGE_EMBED_DIMENSIONS override the model and vector width.
func NewLocalProvider() (*LocalProvider, error) {
	baseURL := os.Getenv("FORGE_EMBED_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("FORGE_EMBED_URL environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := os.Getenv("FORGE_EMBED_MODEL")
	if model == "" {
		slog.Warn("FORGE_EMBED_MODEL not set, defaulting", "model", defaultLocalEmbedModel)
		model = defaultLocalEmbedModel
	}

	dimensions := LocalDimensions
	if raw := os.Getenv("FORGE_EMBED_DIMENSIONS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid FORGE_EMBED_DIMENSIONS %q", raw)
		}
		dimensions = parsed
	}

	slog.Info("Initializing local embedding provider",
		"base_url", baseURL, "model", model, "dimensions", dimensions)
	return &LocalProvider{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		retry:      resilience.LLMRetryPolicy(),
	}, nil
}

// Name implements the Provider interface.
func (p *LocalProvider) Name() string { return p.model }

// Dimensions implements the Provider interface.
func (p *LocalProvider) Dimensions() int { return p.dimensions }

// Embed implements the Provider interface.
func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	vectors, err := p.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(p.dimensions, vectors[0]); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements the Provider interface.
func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		nonEmpty = append(nonEmpty, text)
		positions = append(positions, i)
	}

	out := make([][]float32, len(texts))
	if len(nonEmpty) == 0 {
		return out, nil
	}

	vectors, err := p.request(ctx, nonEmpty)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		if err := checkDimensions(p.dimensions, vec); err != nil {
			return nil, err
		}
		out[positions[j]] = vec
	}
	return out, nil
}

// request posts one embed call under the LLM retry policy.
func (p *LocalProvider) request(ctx context.Context, inputs []string) ([][]float32, error) {
	payload := localEmbedRequest{Model: p.model, Input: inputs}
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request to embedding server: %w", err)
	}

	var vectors [][]float32
	err = p.retry.Run(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, "POST",
			p.baseURL+"/api/embed", bytes.NewBuffer(reqBodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request to embedding server: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return llm.Classify(0, err)
		}
		defer resp.Body.Close()

		respBodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body from embedding server: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			slog.Error("Embedding server returned an error",
				"status_code", resp.StatusCode, "response", string(respBodyBytes))
			return llm.Classify(resp.StatusCode, nil)
		}

		var embedResp localEmbedResponse
		if err := json.Unmarshal(respBodyBytes, &embedResp); err != nil {
			return fmt.Errorf("failed to parse embedding server response: %w", err)
		}
		vectors = embedResp.Embeddings
		return nil
	})
	if err != nil {
		slog.Error("Local embedding call failed", "model", p.model, "error", err)
		return nil, err
	}

	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(inputs), len(vectors))
	}
	return vectors, nil
}
