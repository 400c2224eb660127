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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// Wire shapes of the OpenAI embeddings endpoint, as seen by the fake server.
type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type openAIEmbedReply struct {
	Object string            `json:"object"`
	Data   []openAIEmbedItem `json:"data"`
	Model  string            `json:"model"`
}

// vec1536 returns an OpenAI-width vector with a marker in slot zero.
func vec1536(marker float32) []float32 {
	v := make([]float32, OpenAIDimensions)
	v[0] = marker
	return v
}

// newOpenAIProvider points a provider at the given test server with
// millisecond retry waits.
func newOpenAIProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", srv.URL)
	t.Setenv("OPENAI_EMBED_MODEL", "text-embedding-test")

	p, err := NewOpenAIProvider()
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	p.retry = resilience.RetryPolicy{
		MaxAttempts: 3,
		Multiplier:  time.Millisecond,
		MaxWait:     4 * time.Millisecond,
		RetryIf:     p.retry.RetryIf,
	}
	return p
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIProvider(); err == nil {
		t.Fatal("expected an error without OPENAI_API_KEY")
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	var gotReq openAIEmbedRequest
	p := newOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(openAIEmbedReply{
			Object: "list",
			Data:   []openAIEmbedItem{{Object: "embedding", Index: 0, Embedding: vec1536(7)}},
			Model:  "text-embedding-test",
		})
	})

	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(vec) != OpenAIDimensions || vec[0] != 7 {
		t.Errorf("unexpected vector: len=%d first=%v", len(vec), vec[0])
	}
	if gotReq.Model != "text-embedding-test" {
		t.Errorf("expected model text-embedding-test, got %q", gotReq.Model)
	}
	if !reflect.DeepEqual(gotReq.Input, []string{"hello"}) {
		t.Errorf("unexpected input payload: %v", gotReq.Input)
	}
}

func TestOpenAIProvider_Embed_EmptyInput(t *testing.T) {
	p := newOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called for empty input")
	})

	if _, err := p.Embed(context.Background(), ""); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestOpenAIProvider_EmbedBatch_ReordersByIndex(t *testing.T) {
	p := newOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		// Vectors arrive out of order; the index field is authoritative.
		json.NewEncoder(w).Encode(openAIEmbedReply{
			Object: "list",
			Data: []openAIEmbedItem{
				{Object: "embedding", Index: 1, Embedding: vec1536(2)},
				{Object: "embedding", Index: 0, Embedding: vec1536(1)},
			},
			Model: "text-embedding-test",
		})
	})

	out, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out[0][0] != 1 || out[1][0] != 2 {
		t.Errorf("vectors not reordered by index: %v, %v", out[0][0], out[1][0])
	}
}

func TestOpenAIProvider_EmbedBatch_SkipsEmptyTexts(t *testing.T) {
	var gotReq openAIEmbedRequest
	p := newOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(openAIEmbedReply{
			Object: "list",
			Data: []openAIEmbedItem{
				{Object: "embedding", Index: 0, Embedding: vec1536(1)},
				{Object: "embedding", Index: 1, Embedding: vec1536(2)},
			},
			Model: "text-embedding-test",
		})
	})

	out, err := p.EmbedBatch(context.Background(), []string{"alpha", " ", "beta"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(gotReq.Input, []string{"alpha", "beta"}) {
		t.Errorf("expected only non-empty texts on the wire, got %v", gotReq.Input)
	}
	if out[1] != nil {
		t.Errorf("expected nil vector for empty text, got %v", out[1])
	}
	if out[0][0] != 1 || out[2][0] != 2 {
		t.Errorf("vectors not aligned with inputs")
	}
}

func TestOpenAIProvider_EmbedBatch_EmptyBatch(t *testing.T) {
	p := newOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called for an empty batch")
	})

	if _, err := p.EmbedBatch(context.Background(), []string{}); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestOpenAIProvider_DimensionMismatch(t *testing.T) {
	p := newOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIEmbedReply{
			Object: "list",
			Data:   []openAIEmbedItem{{Object: "embedding", Index: 0, Embedding: []float32{1, 2, 3}}},
			Model:  "text-embedding-test",
		})
	})

	_, err := p.Embed(context.Background(), "hello")
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dimErr.Want != OpenAIDimensions || dimErr.Got != 3 {
		t.Errorf("unexpected mismatch detail: %+v", dimErr)
	}
}

func TestOpenAIProvider_APIErrorFailsFast(t *testing.T) {
	var calls atomic.Int64
	p := newOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid input","type":"invalid_request_error"}}`))
	})

	_, err := p.Embed(context.Background(), "hello")
	if !errors.Is(err, llm.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected single attempt for 400, got %d", calls.Load())
	}
}

func TestOpenAIProvider_VectorCountMismatch(t *testing.T) {
	p := newOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIEmbedReply{
			Object: "list",
			Data:   []openAIEmbedItem{{Object: "embedding", Index: 0, Embedding: vec1536(1)}},
			Model:  "text-embedding-test",
		})
	})

	_, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "expected 2 vectors") {
		t.Errorf("expected a count mismatch error, got %v", err)
	}
}
