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
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// OpenAIDimensions is the vector width of text-embedding-3-small.
const OpenAIDimensions = 1536

// defaultOpenAIEmbedModel is used when OPENAI_EMBED_MODEL is not set.
const defaultOpenAIEmbedModel = string(openai.SmallEmbedding3)

// OpenAIProvider embeds text through the OpenAI embeddings API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	retry  resilience.RetryPolicy
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider from the environment. The API key is
// read from OPENAI_API_KEY with a Podman secret fallback, matching the chat
// client.
func NewOpenAIProvider() (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	model := os.Getenv("OPENAI_EMBED_MODEL")
	if model == "" {
		model = defaultOpenAIEmbedModel
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	slog.Info("Initializing OpenAI embedding provider", "model", model)
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
		retry:  resilience.LLMRetryPolicy(),
	}, nil
}

// Name implements the Provider interface.
func (p *OpenAIProvider) Name() string { return p.model }

// Dimensions implements the Provider interface.
func (p *OpenAIProvider) Dimensions() int { return OpenAIDimensions }

// Embed implements the Provider interface.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	vectors, err := p.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(OpenAIDimensions, vectors[0]); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements the Provider interface. Empty texts are skipped on
// the wire and come back as nil vectors at their original index.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
		if err := checkDimensions(OpenAIDimensions, vec); err != nil {
			return nil, err
		}
		out[positions[j]] = vec
	}
	return out, nil
}

// request sends one embeddings call under the LLM retry policy and returns
// vectors in input order.
func (p *OpenAIProvider) request(ctx context.Context, inputs []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(p.model),
	}

	var resp openai.EmbeddingResponse
	err := p.retry.Run(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = p.client.CreateEmbeddings(ctx, req)
		if callErr != nil {
			return llm.ClassifyOpenAIError(callErr)
		}
		return nil
	})
	if err != nil {
		slog.Error("OpenAI embeddings call failed", "model", p.model, "error", err)
		return nil, err
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(inputs), len(resp.Data))
	}

	// The API tags each vector with its input index; order by it rather
	// than trusting response order.
	vectors := make([][]float32, len(inputs))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding: vector index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("embedding: missing vector for input %d", i)
		}
	}
	return vectors, nil
}
