// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docsearch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/kv"
	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/alicebob/miniredis/v2"
)

// ----- fakes -----

type fakeEmbedder struct {
	embedFn func(text string) ([]float32, error)
	calls   atomic.Int64
	texts   []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.texts = append(f.texts, text)
	if f.embedFn != nil {
		return f.embedFn(text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake-embedder" }

type searchCall struct {
	frameworks []string
	topK       int
	minScore   float64
}

type fakeSearcher struct {
	searchFn func(call int, frameworks []string, topK int, minScore float64) ([]datatypes.DocumentationResult, error)
	calls    atomic.Int64
	history  []searchCall
}

func (f *fakeSearcher) SearchDocumentation(_ context.Context, _ []float32, frameworks []string, topK int, minScore float64) ([]datatypes.DocumentationResult, error) {
	n := int(f.calls.Add(1))
	f.history = append(f.history, searchCall{frameworks: frameworks, topK: topK, minScore: minScore})
	return f.searchFn(n, frameworks, topK, minScore)
}

type fakeReranker struct {
	rerankFn func(query string, results []datatypes.DocumentationResult, topK int) ([]datatypes.DocumentationResult, error)
	calls    atomic.Int64
	queries  []string
}

func (f *fakeReranker) Rerank(_ context.Context, query string, results []datatypes.DocumentationResult, topK int) ([]datatypes.DocumentationResult, error) {
	f.calls.Add(1)
	f.queries = append(f.queries, query)
	if f.rerankFn != nil {
		return f.rerankFn(query, results, topK)
	}
	out := make([]datatypes.DocumentationResult, len(results))
	copy(out, results)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) *resilience.ToolCache {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewRedisStore(kv.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = store.Close() })
	return resilience.NewToolCache(store, time.Minute, quietLogger())
}

func newTestAgent(t *testing.T, e *fakeEmbedder, s *fakeSearcher, r *fakeReranker, cache *resilience.ToolCache) *Agent {
	t.Helper()
	a, err := New(e, s, r, cache, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func hits(scores ...float64) []datatypes.DocumentationResult {
	out := make([]datatypes.DocumentationResult, len(scores))
	for i, s := range scores {
		out[i] = datatypes.DocumentationResult{
			Content:   "excerpt",
			Score:     s,
			Source:    "https://docs.example.com/page",
			Framework: "nestjs",
		}
	}
	return out
}

// ----- Search -----

func TestSearch_HappyPath(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return hits(0.91, 0.88, 0.85), nil
	}}
	reranker := &fakeReranker{}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, reranker, nil)

	results, err := a.Search(context.Background(), "nestjs middleware", nil, 2, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want topK=2", len(results))
	}
	// Vector search casts a wider net than the final list.
	if got := searcher.history[0].topK; got != 4 {
		t.Errorf("vector topK = %d, want 4", got)
	}
	if n := reranker.calls.Load(); n != 1 {
		t.Errorf("rerank calls = %d, want 1", n)
	}
}

func TestSearch_AppliesDefaults(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return hits(0.9), nil
	}}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, &fakeReranker{}, nil)

	if _, err := a.Search(context.Background(), "query", nil, 0, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
	call := searcher.history[0]
	if call.topK != DefaultTopK*2 {
		t.Errorf("vector topK = %d, want %d", call.topK, DefaultTopK*2)
	}
	if call.minScore != DefaultMinScore {
		t.Errorf("minScore = %v, want %v", call.minScore, DefaultMinScore)
	}
}

func TestSearch_BlankQuery(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return hits(0.9), nil
	}}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, &fakeReranker{}, nil)

	if _, err := a.Search(context.Background(), "  \n ", nil, 5, 0.7); err == nil {
		t.Fatal("expected error for blank query")
	}
	if n := searcher.calls.Load(); n != 0 {
		t.Errorf("vector searches = %d, want 0", n)
	}
}

func TestSearch_EmptyResultsCachedAndReturned(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return nil, nil
	}}
	reranker := &fakeReranker{}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, reranker, newTestCache(t))

	results, err := a.Search(context.Background(), "no such thing", nil, 5, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("results = %#v, want empty non-nil slice", results)
	}
	if n := reranker.calls.Load(); n != 0 {
		t.Errorf("rerank calls = %d, want 0 for empty candidates", n)
	}

	// Second identical search is served from the tool cache.
	if _, err := a.Search(context.Background(), "no such thing", nil, 5, 0.7); err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if n := searcher.calls.Load(); n != 1 {
		t.Errorf("vector searches = %d, want 1 (second should hit cache)", n)
	}
}

func TestSearch_CacheHitSkipsPipeline(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return hits(0.93, 0.9), nil
	}}
	embedder := &fakeEmbedder{}
	a := newTestAgent(t, embedder, searcher, &fakeReranker{}, newTestCache(t))

	first, err := a.Search(context.Background(), "nestjs guards", []string{"nestjs"}, 5, 0.7)
	if err != nil {
		t.Fatalf("first Search: %v", err)
	}
	second, err := a.Search(context.Background(), "nestjs guards", []string{"nestjs"}, 5, 0.7)
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if len(second) != len(first) {
		t.Errorf("cached results = %d, want %d", len(second), len(first))
	}
	if n := embedder.calls.Load(); n != 1 {
		t.Errorf("embed calls = %d, want 1", n)
	}
	if n := searcher.calls.Load(); n != 1 {
		t.Errorf("vector searches = %d, want 1", n)
	}
}

func TestSearch_DifferentParamsMissCache(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return hits(0.93), nil
	}}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, &fakeReranker{}, newTestCache(t))

	if _, err := a.Search(context.Background(), "nestjs guards", nil, 5, 0.7); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, err := a.Search(context.Background(), "nestjs guards", nil, 3, 0.7); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if n := searcher.calls.Load(); n != 2 {
		t.Errorf("vector searches = %d, want 2 for different top_k", n)
	}
}

func TestSearch_RerankFailureDegradesToVectorOrder(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return hits(0.95, 0.9, 0.85), nil
	}}
	reranker := &fakeReranker{rerankFn: func(string, []datatypes.DocumentationResult, int) ([]datatypes.DocumentationResult, error) {
		return nil, errors.New("scorer sidecar down")
	}}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, reranker, nil)

	results, err := a.Search(context.Background(), "nestjs pipes", nil, 2, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want vector order truncated to 2", len(results))
	}
	if results[0].Score != 0.95 {
		t.Errorf("top score = %v, want vector-ordered 0.95", results[0].Score)
	}
}

func TestSearch_VectorStoreErrorPropagates(t *testing.T) {
	wantErr := errors.New("vector store unavailable")
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return nil, wantErr
	}}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, &fakeReranker{}, nil)

	_, err := a.Search(context.Background(), "query", nil, 5, 0.7)
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

// ----- self-correction -----

func TestSearch_SelfCorrectionAdoptsBetterResults(t *testing.T) {
	firstPass := []datatypes.DocumentationResult{
		{Content: "weak", Score: 0.62, Source: "https://a", Framework: "nestjs"},
		{Content: "weaker", Score: 0.5, Source: "https://b", Framework: "express"},
	}
	secondPass := []datatypes.DocumentationResult{
		{Content: "strong", Score: 0.82, Source: "https://c", Framework: "nestjs"},
	}
	searcher := &fakeSearcher{searchFn: func(call int, _ []string, _ int, _ float64) ([]datatypes.DocumentationResult, error) {
		if call == 1 {
			return firstPass, nil
		}
		return secondPass, nil
	}}
	embedder := &fakeEmbedder{}
	reranker := &fakeReranker{}
	a := newTestAgent(t, embedder, searcher, reranker, nil)

	results, err := a.Search(context.Background(), "how do I add middleware", nil, 5, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Score != 0.82 {
		t.Fatalf("results = %#v, want corrected single hit at 0.82", results)
	}

	// The corrective pass reformulates with the top-hit frameworks, widens
	// topK, lowers the floor, and filters by those frameworks.
	if len(embedder.texts) != 2 {
		t.Fatalf("embed texts = %v, want 2", embedder.texts)
	}
	if want := "how do I add middleware nestjs express"; embedder.texts[1] != want {
		t.Errorf("corrected query = %q, want %q", embedder.texts[1], want)
	}
	second := searcher.history[1]
	if second.topK != 20 || second.minScore != 0.5 {
		t.Errorf("correction search topK=%d minScore=%v, want 20/0.5", second.topK, second.minScore)
	}
	if len(second.frameworks) != 2 || second.frameworks[0] != "nestjs" || second.frameworks[1] != "express" {
		t.Errorf("correction frameworks = %v, want [nestjs express]", second.frameworks)
	}

	// Both re-rank passes score against the original query.
	for i, q := range reranker.queries {
		if q != "how do I add middleware" {
			t.Errorf("rerank query %d = %q, want original", i, q)
		}
	}
}

func TestSearch_SelfCorrectionKeepsOriginalWhenNotBetter(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(call int, _ []string, _ int, _ float64) ([]datatypes.DocumentationResult, error) {
		if call == 1 {
			return hits(0.6), nil
		}
		return hits(0.55), nil
	}}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, &fakeReranker{}, nil)

	results, err := a.Search(context.Background(), "vague question", nil, 5, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Score != 0.6 {
		t.Errorf("top score = %v, want original 0.6 kept", results[0].Score)
	}
	if n := searcher.calls.Load(); n != 2 {
		t.Errorf("vector searches = %d, want 2 (correction attempted once)", n)
	}
}

func TestSearch_SelfCorrectionGenericSuffixWithoutFrameworks(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(call int, _ []string, _ int, _ float64) ([]datatypes.DocumentationResult, error) {
		if call == 1 {
			return []datatypes.DocumentationResult{{Content: "weak", Score: 0.5, Source: "https://a"}}, nil
		}
		return nil, nil
	}}
	embedder := &fakeEmbedder{}
	a := newTestAgent(t, embedder, searcher, &fakeReranker{}, nil)

	if _, err := a.Search(context.Background(), "vague question", nil, 5, 0.7); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if want := "vague question example code documentation"; embedder.texts[1] != want {
		t.Errorf("corrected query = %q, want %q", embedder.texts[1], want)
	}
}

func TestSearch_NoSelfCorrectionAboveThreshold(t *testing.T) {
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return hits(0.71), nil
	}}
	a := newTestAgent(t, &fakeEmbedder{}, searcher, &fakeReranker{}, nil)

	if _, err := a.Search(context.Background(), "clear question", nil, 5, 0.7); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if n := searcher.calls.Load(); n != 1 {
		t.Errorf("vector searches = %d, want 1", n)
	}
}

func TestSearch_SelfCorrectionEmbedFailureKeepsOriginal(t *testing.T) {
	calls := 0
	embedder := &fakeEmbedder{embedFn: func(string) ([]float32, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("embedder down")
		}
		return []float32{0.1, 0.2, 0.3}, nil
	}}
	searcher := &fakeSearcher{searchFn: func(int, []string, int, float64) ([]datatypes.DocumentationResult, error) {
		return hits(0.6), nil
	}}
	a := newTestAgent(t, embedder, searcher, &fakeReranker{}, nil)

	results, err := a.Search(context.Background(), "vague question", nil, 5, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Score != 0.6 {
		t.Errorf("top score = %v, want original kept", results[0].Score)
	}
}

// ----- Sources -----

func TestSources_DedupesKeepingHighestVersion(t *testing.T) {
	results := []datatypes.DocumentationResult{
		{Source: "https://docs.nestjs.com/controllers", Metadata: map[string]string{"version": "9.0.0"}},
		{Source: "https://docs.nestjs.com/controllers", Metadata: map[string]string{"version": "10.2.1"}},
		{Source: "https://docs.nestjs.com/controllers", Metadata: map[string]string{"version": "10.0.0"}},
		{Source: "https://expressjs.com/en/guide/routing.html"},
	}
	got := Sources(results)

	want := []string{
		"https://docs.nestjs.com/controllers (v10.2.1)",
		"https://expressjs.com/en/guide/routing.html",
	}
	if len(got) != len(want) {
		t.Fatalf("sources = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sources[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSources_ToleratesNonSemverVersions(t *testing.T) {
	results := []datatypes.DocumentationResult{
		{Source: "https://a", Metadata: map[string]string{"version": "latest"}},
		{Source: "https://a", Metadata: map[string]string{"version": "v2.1.0"}},
		{Source: "", Metadata: map[string]string{"version": "v9.9.9"}},
	}
	got := Sources(results)

	if len(got) != 1 {
		t.Fatalf("sources = %v, want 1 entry", got)
	}
	if got[0] != "https://a (v2.1.0)" {
		t.Errorf("sources[0] = %q", got[0])
	}
}

func TestSources_PreservesEncounterOrder(t *testing.T) {
	results := []datatypes.DocumentationResult{
		{Source: "https://b"},
		{Source: "https://a"},
		{Source: "https://b"},
	}
	got := Sources(results)

	if len(got) != 2 || got[0] != "https://b" || got[1] != "https://a" {
		t.Errorf("sources = %v, want [https://b https://a]", got)
	}
}

// ----- constructor -----

func TestNew_ValidatesDependencies(t *testing.T) {
	e, s, r := &fakeEmbedder{}, &fakeSearcher{}, &fakeReranker{}

	_, err := New(nil, s, r, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "embedder") {
		t.Errorf("nil embedder: err = %v, want named dependency", err)
	}
	if _, err := New(e, nil, r, nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(e, s, nil, nil, nil); err == nil {
		t.Error("expected error for nil reranker")
	}
}
