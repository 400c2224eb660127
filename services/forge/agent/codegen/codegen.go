// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codegen generates framework-specific code from a prompt and
// retrieved documentation, validating each attempt and feeding syntax
// errors back to the model.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("forge.codegen")

const (
	// MaxRetries is how many corrective attempts follow the first one.
	MaxRetries = 2

	// DefaultFallbackLanguage is used when neither the framework table nor
	// the prompt reveals a target language.
	DefaultFallbackLanguage = "Python"

	generationTemperature = 0.2
	generationMaxTokens   = 4096

	// maxPromptDocs is how many documentation excerpts reach the model.
	maxPromptDocs = 3

	// maxExcerptRunes caps each rendered excerpt.
	maxExcerptRunes = 600
)

// baseSystemPrompt is shared by every generation request; language,
// framework, and guidance lines are appended per request.
const baseSystemPrompt = `You are an expert software engineer generating production-quality code.

Rules:
- Output a single fenced code block and nothing else.
- The code must be complete, with all imports and declarations included.
- Ground the code in the documentation excerpts when they are provided.
- Do not invent APIs; prefer the idioms shown in the documentation.`

// frameworkLanguages is the fixed framework-to-language table consulted
// before any prompt inspection.
var frameworkLanguages = map[string]string{
	"nestjs":  "TypeScript",
	"express": "JavaScript",
	"fastapi": "Python",
	"django":  "Python",
	"flask":   "Python",
	"spring":  "Java",
	"aspnet":  "C#",
	"rails":   "Ruby",
	"gin":     "Go",
}

// languageKeywords is scanned in order against the lowercased prompt when
// the framework table has no answer. Patterns are word-bounded so "java"
// does not fire inside "javascript"; "go" sits near the end because it is
// also an English verb.
var languageKeywords = []struct {
	language string
	pattern  *regexp.Regexp
}{
	{"TypeScript", regexp.MustCompile(`\btypescript\b`)},
	{"JavaScript", regexp.MustCompile(`\bjavascript\b|\bnode\.?js\b`)},
	{"Python", regexp.MustCompile(`\bpython\b`)},
	{"Java", regexp.MustCompile(`\bjava\b`)},
	{"C#", regexp.MustCompile(`c#|\bcsharp\b|\bdotnet\b`)},
	{"Ruby", regexp.MustCompile(`\bruby\b`)},
	{"Go", regexp.MustCompile(`\bgolang\b|\bgo\b`)},
}

// fencedBlockRe matches the first complete fenced code block, capturing the
// language tag and the body.
var fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9#+._-]*)[ \t]*\r?\n(.*?)```")

// SyntaxValidator checks generated code. *syntax.Registry satisfies it.
type SyntaxValidator interface {
	Validate(ctx context.Context, language, code string) syntax.Result
}

// Config tunes the agent.
type Config struct {
	// FallbackLanguage is used when inference finds nothing. Empty means
	// DefaultFallbackLanguage.
	FallbackLanguage string

	// GuidanceDir optionally overrides the embedded guidance asset. When
	// set, dir/frameworks.yaml is loaded at construction and hot-reloaded
	// on change.
	GuidanceDir string
}

// Agent is the code generation agent.
//
// Thread Safety: safe for concurrent use as long as its dependencies are.
type Agent struct {
	client           llm.ChatClient
	syntax           SyntaxValidator
	guidance         *GuidanceTable
	fallbackLanguage string
	retry            resilience.RetryPolicy
	logger           *slog.Logger
}

// New creates a code generation agent. The embedded guidance asset always
// loads; a configured GuidanceDir must load cleanly or construction fails,
// but a failure to start its watcher only logs (the override still applies,
// it just will not hot-reload). A nil logger falls back to slog.Default().
func New(client llm.ChatClient, validator SyntaxValidator, cfg Config, logger *slog.Logger) (*Agent, error) {
	if client == nil {
		return nil, fmt.Errorf("codegen: chat client must not be nil")
	}
	if validator == nil {
		return nil, fmt.Errorf("codegen: syntax validator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	guidance, err := NewGuidanceTable(logger)
	if err != nil {
		return nil, err
	}
	if cfg.GuidanceDir != "" {
		if err := guidance.LoadDir(cfg.GuidanceDir); err != nil {
			return nil, err
		}
		if err := guidance.Watch(cfg.GuidanceDir); err != nil {
			logger.Warn("guidance_watch_unavailable", "dir", cfg.GuidanceDir, "error", err)
		}
	}

	fallback := cfg.FallbackLanguage
	if fallback == "" {
		fallback = DefaultFallbackLanguage
	}

	return &Agent{
		client:           client,
		syntax:           validator,
		guidance:         guidance,
		fallbackLanguage: fallback,
		retry:            resilience.LLMRetryPolicy(),
		logger:           logger,
	}, nil
}

// Close releases the guidance watcher, if any.
func (a *Agent) Close() error {
	return a.guidance.Close()
}

// Generate produces code for a prompt.
//
// # Description
//
// Infers the target language, builds a system prompt with framework
// guidance and a user prompt with the top documentation excerpts, then runs
// up to MaxRetries+1 generation attempts. Each attempt's output has its
// code extracted and syntax-checked; failures are fed back to the model as
// an error suffix. The error return is reserved for invalid input: an LLM
// that stays down through its retry budget produces a result with empty
// code and the failure recorded in ValidationErrors, never an error.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - prompt: What to build. Must be non-blank.
//   - docs: Retrieved documentation; top 3 are rendered into the prompt,
//     all contribute to DocumentationSources.
//   - framework: Optional target framework.
//
// # Outputs
//
//   - datatypes.CodeGenerationResult: Always populated with language,
//     framework, sources, and token usage, whatever happened.
//   - error: Non-nil only for invalid input.
func (a *Agent) Generate(ctx context.Context, prompt string, docs []datatypes.DocumentationResult, framework string) (datatypes.CodeGenerationResult, error) {
	ctx, span := tracer.Start(ctx, "CodeGen.Generate")
	defer span.End()

	if strings.TrimSpace(prompt) == "" {
		err := fmt.Errorf("codegen: prompt is empty")
		span.SetStatus(codes.Error, err.Error())
		return datatypes.CodeGenerationResult{}, err
	}

	language := a.inferLanguage(prompt, framework)
	system := a.systemPrompt(language, framework)
	user := buildUserPrompt(prompt, docs)

	result := datatypes.CodeGenerationResult{
		Language:             language,
		Framework:            framework,
		DocumentationSources: dedupeSources(docs),
	}
	span.SetAttributes(
		attribute.String("codegen.language", language),
		attribute.String("codegen.framework", framework),
		attribute.Int("codegen.docs", len(docs)),
	)

	var accumulated []string
	totalTokens := 0
	currentUser := user

	for attempt := 1; attempt <= MaxRetries+1; attempt++ {
		var resp *llm.ChatResponse
		err := a.retry.Run(ctx, func(ctx context.Context) error {
			r, chatErr := a.client.Chat(ctx, system, currentUser,
				llm.WithTemperature(generationTemperature),
				llm.WithMaxTokens(generationMaxTokens),
			)
			if chatErr != nil {
				return chatErr
			}
			resp = r
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation chat failed")
			a.logger.Warn("code_generation_llm_failed",
				"attempt", attempt, "error", err)
			result.SyntaxValid = false
			result.TokensUsed = totalTokens
			result.ValidationErrors = append(accumulated, llmFailureMessage(err))
			return result, nil
		}
		totalTokens += resp.TokensUsed

		code := extractCode(resp.Text)
		result.Code = code

		check := a.syntax.Validate(ctx, language, code)
		if check.Valid {
			result.SyntaxValid = true
			result.ValidationErrors = nil
			result.TokensUsed = totalTokens
			span.SetAttributes(
				attribute.Int("codegen.attempts", attempt),
				attribute.Int("codegen.tokens_used", totalTokens),
				attribute.Bool("codegen.syntax_valid", true),
			)
			a.logger.Debug("code_generated",
				"language", language,
				"framework", framework,
				"attempts", attempt,
				"tokens_used", totalTokens,
			)
			return result, nil
		}

		accumulated = append(accumulated, check.Errors...)
		if attempt <= MaxRetries {
			currentUser = feedbackPrompt(user, check.Errors)
			a.logger.Debug("code_generation_retrying",
				"attempt", attempt, "syntax_errors", len(check.Errors))
		}
	}

	result.SyntaxValid = false
	result.ValidationErrors = accumulated
	result.TokensUsed = totalTokens
	span.SetAttributes(
		attribute.Int("codegen.attempts", MaxRetries+1),
		attribute.Int("codegen.tokens_used", totalTokens),
		attribute.Bool("codegen.syntax_valid", false),
	)
	a.logger.Info("code_generation_exhausted_retries",
		"language", language,
		"framework", framework,
		"syntax_errors", len(accumulated),
	)
	return result, nil
}

// ----- prompt assembly -----

// inferLanguage resolves the output language: framework table first, then
// keyword scan of the prompt, then the configured fallback.
func (a *Agent) inferLanguage(prompt, framework string) string {
	if lang, ok := frameworkLanguages[normalizeFramework(framework)]; ok {
		return lang
	}
	lower := strings.ToLower(prompt)
	for _, kw := range languageKeywords {
		if kw.pattern.MatchString(lower) {
			return kw.language
		}
	}
	return a.fallbackLanguage
}

// systemPrompt assembles the per-request system prompt.
func (a *Agent) systemPrompt(language, framework string) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	fmt.Fprintf(&b, "\n\nTarget language: %s.", language)
	if framework != "" {
		fmt.Fprintf(&b, "\nTarget framework: %s.", framework)
	}
	if block, ok := a.guidance.Lookup(normalizeFramework(framework)); ok {
		b.WriteString("\n\nFramework guidance:\n")
		b.WriteString(strings.TrimRight(block, "\n"))
	}
	return b.String()
}

// buildUserPrompt renders the top documentation excerpts above the task.
func buildUserPrompt(prompt string, docs []datatypes.DocumentationResult) string {
	if len(docs) == 0 {
		return prompt
	}
	n := len(docs)
	if n > maxPromptDocs {
		n = maxPromptDocs
	}

	var b strings.Builder
	b.WriteString("Documentation excerpts:\n\n")
	for i := 0; i < n; i++ {
		d := docs[i]
		title := d.Source
		if d.Framework != "" {
			title = d.Framework + " - " + d.Source
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, title, capRunes(d.Content, maxExcerptRunes))
	}
	b.WriteString("Task:\n")
	b.WriteString(prompt)
	return b.String()
}

// feedbackPrompt appends the previous attempt's syntax errors to the
// original user prompt.
func feedbackPrompt(user string, errs []string) string {
	return user + "\n\nThe previous attempt had errors: " +
		strings.Join(errs, "; ") + ". Please fix them and output the corrected code."
}

// capRunes truncates s to maxRunes runes, marking the cut.
func capRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "..."
}

// ----- response handling -----

// extractCode pulls code out of a completion: the first complete fenced
// block when present (language tag dropped), a truncated fenced block with
// its opening fence line stripped, else the whole trimmed text.
func extractCode(text string) string {
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[2])
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
			return strings.TrimSpace(trimmed[nl+1:])
		}
		return ""
	}
	return trimmed
}

// llmFailureMessage renders a chat failure for ValidationErrors.
func llmFailureMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return "llm unavailable: rate limited"
	case errors.Is(err, llm.ErrQuotaExceeded):
		return "llm unavailable: quota exceeded"
	case errors.Is(err, llm.ErrTimeout):
		return "llm unavailable: request timed out"
	case errors.Is(err, llm.ErrConnection):
		return "llm unavailable: connection failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "llm unavailable: deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "llm unavailable: request canceled"
	default:
		return "llm unavailable: " + err.Error()
	}
}

// dedupeSources lists the distinct non-empty sources of docs in order.
func dedupeSources(docs []datatypes.DocumentationResult) []string {
	seen := make(map[string]bool, len(docs))
	var out []string
	for _, d := range docs {
		src := strings.TrimSpace(d.Source)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

// normalizeFramework canonicalizes a framework name for table lookups.
func normalizeFramework(fw string) string {
	fw = strings.ToLower(strings.TrimSpace(fw))
	fw = strings.ReplaceAll(fw, ".", "")
	switch fw {
	case "aspnet core", "aspnetcore":
		return "aspnet"
	case "ruby on rails":
		return "rails"
	}
	return fw
}
