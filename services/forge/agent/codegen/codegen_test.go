// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegen

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// ----- fakes -----

type fakeChat struct {
	chatFn     func(call int) (*llm.ChatResponse, error)
	calls      atomic.Int64
	lastSystem string
	users      []string
}

func (f *fakeChat) Chat(_ context.Context, system, user string, _ ...llm.ChatOption) (*llm.ChatResponse, error) {
	n := int(f.calls.Add(1))
	f.lastSystem = system
	f.users = append(f.users, user)
	return f.chatFn(n)
}

func (f *fakeChat) Name() string { return "fake" }

type fakeValidator struct {
	results   []syntax.Result
	calls     atomic.Int64
	languages []string
}

func (f *fakeValidator) Validate(_ context.Context, language, _ string) syntax.Result {
	n := int(f.calls.Add(1))
	f.languages = append(f.languages, language)
	if n <= len(f.results) {
		return f.results[n-1]
	}
	return syntax.Result{Valid: true, Language: language}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(t *testing.T, chat *fakeChat, validator SyntaxValidator, cfg Config) *Agent {
	t.Helper()
	a, err := New(chat, validator, cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	a.retry = resilience.RetryPolicy{
		MaxAttempts: 3,
		Multiplier:  time.Millisecond,
		MaxWait:     4 * time.Millisecond,
		RetryIf:     llm.IsRetryable,
	}
	return a
}

func fenced(tag, code string) string {
	return "```" + tag + "\n" + code + "\n```"
}

// ----- language inference -----

func TestInferLanguage(t *testing.T) {
	a := newTestAgent(t, &fakeChat{}, &fakeValidator{}, Config{})

	tests := []struct {
		name      string
		prompt    string
		framework string
		want      string
	}{
		{"nestjs table", "build a controller", "nestjs", "TypeScript"},
		{"framework case-insensitive", "build a controller", "NestJS", "TypeScript"},
		{"express table", "routing", "express", "JavaScript"},
		{"fastapi table", "an endpoint", "fastapi", "Python"},
		{"spring table", "a service", "spring", "Java"},
		{"aspnet table", "an api", "aspnet", "C#"},
		{"aspnet dotted alias", "an api", "ASP.NET Core", "C#"},
		{"rails table", "a model", "rails", "Ruby"},
		{"gin table", "a handler", "gin", "Go"},
		{"keyword typescript", "write typescript to parse csv", "", "TypeScript"},
		{"keyword javascript", "a javascript debounce helper", "", "JavaScript"},
		{"javascript does not read as java", "a javascript class", "", "JavaScript"},
		{"keyword java", "a java thread pool", "", "Java"},
		{"keyword csharp", "write c# linq example", "", "C#"},
		{"keyword golang", "a golang worker pool", "", "Go"},
		{"keyword ruby", "a ruby rake task", "", "Ruby"},
		{"fallback", "sort a list of numbers", "", "Python"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.inferLanguage(tt.prompt, tt.framework); got != tt.want {
				t.Errorf("inferLanguage(%q, %q) = %q, want %q", tt.prompt, tt.framework, got, tt.want)
			}
		})
	}
}

func TestInferLanguage_ConfiguredFallback(t *testing.T) {
	a := newTestAgent(t, &fakeChat{}, &fakeValidator{}, Config{FallbackLanguage: "Ruby"})
	if got := a.inferLanguage("sort a list", ""); got != "Ruby" {
		t.Errorf("fallback = %q, want Ruby", got)
	}
}

// ----- extraction -----

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tagged fence", "```python\nprint(1)\n```", "print(1)"},
		{"fence with prose around", "Sure:\n```ts\nconst a = 1;\n```\nDone.", "const a = 1;"},
		{"untagged fence", "```\ncode here\n```", "code here"},
		{"no fence", "  just code  ", "just code"},
		{"unclosed fence", "```python\nprint(1)", "print(1)"},
		{"bare fence only", "```", ""},
		{"first of two blocks", "```js\nfirst\n```\n```js\nsecond\n```", "first"},
		{"crlf after tag", "```go\r\npackage main\n```", "package main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractCode(tt.in); got != tt.want {
				t.Errorf("extractCode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// ----- prompt assembly -----

func TestBuildUserPrompt(t *testing.T) {
	long := strings.Repeat("x", 700)
	docs := []datatypes.DocumentationResult{
		{Content: long, Source: "https://a", Framework: "nestjs"},
		{Content: "short", Source: "https://b", Framework: "nestjs"},
		{Content: "third", Source: "https://c"},
		{Content: "fourth never rendered", Source: "https://d"},
	}
	got := buildUserPrompt("build a controller", docs)

	if !strings.Contains(got, "[1] nestjs - https://a") {
		t.Error("first excerpt title missing")
	}
	if !strings.Contains(got, "[3] https://c") {
		t.Error("untitled framework renders bare source")
	}
	if strings.Contains(got, "[4]") || strings.Contains(got, "fourth never rendered") {
		t.Error("more than three excerpts rendered")
	}
	if !strings.HasSuffix(got, "Task:\nbuild a controller") {
		t.Errorf("prompt should end with the task, got tail %q", got[len(got)-40:])
	}
	if strings.Contains(got, strings.Repeat("x", 601)) {
		t.Error("excerpt not capped at 600 runes")
	}
	if !strings.Contains(got, strings.Repeat("x", 600)+"...") {
		t.Error("capped excerpt should end with ellipsis")
	}
}

func TestBuildUserPrompt_NoDocs(t *testing.T) {
	if got := buildUserPrompt("just the task", nil); got != "just the task" {
		t.Errorf("prompt = %q, want bare task", got)
	}
}

func TestCapRunes_MultibyteSafe(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := capRunes(s, 4)
	if got != strings.Repeat("é", 4)+"..." {
		t.Errorf("capRunes = %q", got)
	}
}

// ----- Generate -----

func TestGenerate_FirstAttemptValid(t *testing.T) {
	code := "export function add(a: number, b: number): number {\n  return a + b;\n}"
	chat := &fakeChat{chatFn: func(int) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Text: fenced("typescript", code), TokensUsed: 42}, nil
	}}
	a := newTestAgent(t, chat, syntax.NewRegistry(), Config{})

	docs := []datatypes.DocumentationResult{
		{Content: "controllers...", Source: "https://docs.nestjs.com/controllers", Framework: "nestjs"},
		{Content: "more...", Source: "https://docs.nestjs.com/controllers", Framework: "nestjs"},
	}
	result, err := a.Generate(context.Background(), "write an add function", docs, "nestjs")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !result.SyntaxValid {
		t.Errorf("SyntaxValid = false, errors: %v", result.ValidationErrors)
	}
	if result.Code != code {
		t.Errorf("Code = %q", result.Code)
	}
	if result.Language != "TypeScript" {
		t.Errorf("Language = %q, want TypeScript", result.Language)
	}
	if result.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d, want 42", result.TokensUsed)
	}
	if len(result.DocumentationSources) != 1 || result.DocumentationSources[0] != "https://docs.nestjs.com/controllers" {
		t.Errorf("DocumentationSources = %v", result.DocumentationSources)
	}
	if n := chat.calls.Load(); n != 1 {
		t.Errorf("chat calls = %d, want 1", n)
	}
	if !strings.Contains(chat.lastSystem, "Target language: TypeScript.") {
		t.Error("system prompt missing target language")
	}
	if !strings.Contains(chat.lastSystem, "@Controller") {
		t.Error("system prompt missing nestjs guidance block")
	}
	if !strings.Contains(chat.users[0], "Documentation excerpts:") {
		t.Error("user prompt missing documentation excerpts")
	}
}

func TestGenerate_FeedbackRetry(t *testing.T) {
	chat := &fakeChat{chatFn: func(call int) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Text: fenced("python", "attempt "+strings.Repeat("i", call)), TokensUsed: 10 * call}, nil
	}}
	validator := &fakeValidator{results: []syntax.Result{
		{Valid: false, Errors: []string{"Unexpected \"(\" at line 3"}, Language: "python"},
		{Valid: true, Language: "python"},
	}}
	a := newTestAgent(t, chat, validator, Config{})

	result, err := a.Generate(context.Background(), "write a parser", nil, "fastapi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !result.SyntaxValid {
		t.Fatal("expected valid after feedback retry")
	}
	if n := chat.calls.Load(); n != 2 {
		t.Errorf("chat calls = %d, want 2", n)
	}
	if result.TokensUsed != 30 {
		t.Errorf("TokensUsed = %d, want 10+20", result.TokensUsed)
	}
	if len(result.ValidationErrors) != 0 {
		t.Errorf("ValidationErrors = %v, want none on success", result.ValidationErrors)
	}
	second := chat.users[1]
	if !strings.Contains(second, "previous attempt had errors") {
		t.Error("feedback prompt missing error preamble")
	}
	if !strings.Contains(second, "Unexpected \"(\" at line 3") {
		t.Error("feedback prompt missing the syntax error text")
	}
}

func TestGenerate_AllAttemptsInvalid(t *testing.T) {
	chat := &fakeChat{chatFn: func(call int) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Text: fenced("python", "broken attempt"), TokensUsed: 5}, nil
	}}
	validator := &fakeValidator{results: []syntax.Result{
		{Valid: false, Errors: []string{"error one"}, Language: "python"},
		{Valid: false, Errors: []string{"error two"}, Language: "python"},
		{Valid: false, Errors: []string{"error three"}, Language: "python"},
	}}
	a := newTestAgent(t, chat, validator, Config{})

	result, err := a.Generate(context.Background(), "write a parser", nil, "flask")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.SyntaxValid {
		t.Fatal("expected SyntaxValid=false")
	}
	if n := chat.calls.Load(); n != 3 {
		t.Errorf("chat calls = %d, want MaxRetries+1 = 3", n)
	}
	if result.Code != "broken attempt" {
		t.Errorf("Code = %q, want last attempt kept", result.Code)
	}
	if len(result.ValidationErrors) != 3 {
		t.Errorf("ValidationErrors = %v, want all three accumulated", result.ValidationErrors)
	}
	if result.TokensUsed != 15 {
		t.Errorf("TokensUsed = %d, want 15", result.TokensUsed)
	}
}

func TestGenerate_LLMFailureProducesResultNotError(t *testing.T) {
	chat := &fakeChat{chatFn: func(int) (*llm.ChatResponse, error) {
		return nil, llm.ErrRateLimited
	}}
	a := newTestAgent(t, chat, &fakeValidator{}, Config{})

	docs := []datatypes.DocumentationResult{{Content: "x", Source: "https://a"}}
	result, err := a.Generate(context.Background(), "write a parser", docs, "")
	if err != nil {
		t.Fatalf("LLM failure must not surface as error, got: %v", err)
	}

	if result.Code != "" {
		t.Errorf("Code = %q, want empty", result.Code)
	}
	if result.SyntaxValid {
		t.Error("SyntaxValid = true, want false")
	}
	found := false
	for _, msg := range result.ValidationErrors {
		if msg == "llm unavailable: rate limited" {
			found = true
		}
	}
	if !found {
		t.Errorf("ValidationErrors = %v, want rate-limited message", result.ValidationErrors)
	}
	if result.TokensUsed != 0 {
		t.Errorf("TokensUsed = %d, want 0", result.TokensUsed)
	}
	if len(result.DocumentationSources) != 1 {
		t.Errorf("DocumentationSources = %v, want sources kept", result.DocumentationSources)
	}
	// Transient failure was retried before giving up.
	if n := chat.calls.Load(); n != 3 {
		t.Errorf("chat calls = %d, want 3", n)
	}
}

func TestGenerate_LLMFailureAfterInvalidAttemptKeepsHistory(t *testing.T) {
	chat := &fakeChat{chatFn: func(call int) (*llm.ChatResponse, error) {
		if call == 1 {
			return &llm.ChatResponse{Text: fenced("python", "broken"), TokensUsed: 7}, nil
		}
		return nil, llm.ErrInvalidRequest
	}}
	validator := &fakeValidator{results: []syntax.Result{
		{Valid: false, Errors: []string{"error one"}, Language: "python"},
	}}
	a := newTestAgent(t, chat, validator, Config{})

	result, err := a.Generate(context.Background(), "write a parser", nil, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.Code != "broken" {
		t.Errorf("Code = %q, want last produced code kept", result.Code)
	}
	if result.TokensUsed != 7 {
		t.Errorf("TokensUsed = %d, want 7", result.TokensUsed)
	}
	if len(result.ValidationErrors) != 2 {
		t.Fatalf("ValidationErrors = %v, want syntax error plus llm failure", result.ValidationErrors)
	}
	if result.ValidationErrors[0] != "error one" {
		t.Errorf("ValidationErrors[0] = %q", result.ValidationErrors[0])
	}
	if !strings.HasPrefix(result.ValidationErrors[1], "llm unavailable:") {
		t.Errorf("ValidationErrors[1] = %q", result.ValidationErrors[1])
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	chat := &fakeChat{chatFn: func(int) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Text: "x"}, nil
	}}
	a := newTestAgent(t, chat, &fakeValidator{}, Config{})

	if _, err := a.Generate(context.Background(), "   ", nil, ""); err == nil {
		t.Fatal("expected error for blank prompt")
	}
	if n := chat.calls.Load(); n != 0 {
		t.Errorf("chat calls = %d, want 0", n)
	}
}

// ----- guidance -----

func TestGuidanceTable_EmbeddedLookup(t *testing.T) {
	g, err := NewGuidanceTable(quietLogger())
	if err != nil {
		t.Fatalf("NewGuidanceTable: %v", err)
	}
	defer g.Close()

	block, ok := g.Lookup("nestjs")
	if !ok || !strings.Contains(block, "@Controller") {
		t.Errorf("nestjs guidance = %q, ok=%v", block, ok)
	}
	if _, ok := g.Lookup("unknown-framework"); ok {
		t.Error("unknown framework should miss")
	}
	if _, ok := g.Lookup(""); ok {
		t.Error("empty framework should miss")
	}
	for _, fw := range []string{"express", "fastapi", "django", "flask", "spring", "aspnet", "rails", "gin"} {
		if _, ok := g.Lookup(fw); !ok {
			t.Errorf("embedded guidance missing %s", fw)
		}
	}
}

func TestGuidanceTable_LoadDirOverlaysEmbedded(t *testing.T) {
	dir := t.TempDir()
	override := "frameworks:\n  gin: |\n    Custom gin guidance for this deployment.\n"
	if err := writeFile(t, dir, override); err != nil {
		t.Fatal(err)
	}

	g, err := NewGuidanceTable(quietLogger())
	if err != nil {
		t.Fatalf("NewGuidanceTable: %v", err)
	}
	defer g.Close()
	if err := g.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	block, ok := g.Lookup("gin")
	if !ok || !strings.Contains(block, "Custom gin guidance") {
		t.Errorf("gin override not applied: %q", block)
	}
	if block, ok := g.Lookup("nestjs"); !ok || !strings.Contains(block, "@Controller") {
		t.Errorf("embedded nestjs guidance lost on overlay: %q", block)
	}
}

func TestGuidanceTable_LoadDirMissingFile(t *testing.T) {
	g, err := NewGuidanceTable(quietLogger())
	if err != nil {
		t.Fatalf("NewGuidanceTable: %v", err)
	}
	defer g.Close()

	if err := g.LoadDir(t.TempDir()); err == nil {
		t.Fatal("expected error for missing override file")
	}
}

func TestGuidanceTable_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(t, dir, "frameworks:\n  gin: |\n    first version\n"); err != nil {
		t.Fatal(err)
	}

	g, err := NewGuidanceTable(quietLogger())
	if err != nil {
		t.Fatalf("NewGuidanceTable: %v", err)
	}
	defer g.Close()
	if err := g.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if err := g.Watch(dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := g.Watch(dir); err == nil {
		t.Fatal("second Watch should fail")
	}

	if err := writeFile(t, dir, "frameworks:\n  gin: |\n    second version\n"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if block, _ := g.Lookup("gin"); strings.Contains(block, "second version") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	block, _ := g.Lookup("gin")
	t.Fatalf("hot reload never applied, gin guidance = %q", block)
}

func TestNew_GuidanceDirMustLoad(t *testing.T) {
	_, err := New(&fakeChat{}, &fakeValidator{}, Config{GuidanceDir: "/does/not/exist"}, quietLogger())
	if err == nil {
		t.Fatal("expected error for unreadable guidance dir")
	}
}

func TestNormalizeFramework(t *testing.T) {
	tests := []struct{ in, want string }{
		{"NestJS", "nestjs"},
		{"nest.js", "nestjs"},
		{"ASP.NET Core", "aspnet"},
		{"Ruby on Rails", "rails"},
		{" Gin ", "gin"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeFramework(tt.in); got != tt.want {
			t.Errorf("normalizeFramework(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, dir, content string) error {
	t.Helper()
	return os.WriteFile(filepath.Join(dir, guidanceFileName), []byte(content), 0o600)
}
