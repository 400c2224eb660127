// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor classifies incoming prompts into a routing decision
// that drives the workflow: documentation search, code generation, or both.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/resilience"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("forge.supervisor")

// classifyMaxTokens bounds the completion. The model only has to emit one
// of three category names.
const classifyMaxTokens = 16

// classifySystemPrompt pins the output format. Parsing tolerates extra
// prose around the category name, but asking for the bare name keeps small
// models honest.
const classifySystemPrompt = `You are the routing supervisor for a developer assistance pipeline.
Classify the user's request into exactly one of three categories:

SEARCH_ONLY - the user wants documentation, an explanation, or an API reference, not code.
CODE_ONLY - the user wants code and the request already contains everything needed to write it.
SEARCH_THEN_CODE - the user wants code that should be grounded in framework documentation first.

Respond with exactly one category name and nothing else: SEARCH_ONLY, CODE_ONLY, or SEARCH_THEN_CODE.`

// Agent is the routing supervisor.
//
// Thread Safety: safe for concurrent use as long as the ChatClient is.
type Agent struct {
	client llm.ChatClient
	retry  resilience.RetryPolicy
	logger *slog.Logger
}

// New creates a supervisor over the given chat client. A nil logger falls
// back to slog.Default().
func New(client llm.ChatClient, logger *slog.Logger) (*Agent, error) {
	if client == nil {
		return nil, fmt.Errorf("supervisor: chat client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		client: client,
		retry:  resilience.LLMRetryPolicy(),
		logger: logger,
	}, nil
}

// Classify routes a prompt.
//
// # Description
//
// Sends the prompt to the chat backend with temperature 0 and a tiny token
// budget, then extracts the routing decision from the response text.
// Unrecognized responses fall back to SEARCH_THEN_CODE, the safest default:
// a search that was not needed wastes a little latency, skipping a needed
// search produces ungrounded code.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - prompt: The raw user prompt. Must be non-blank.
//
// # Outputs
//
//   - datatypes.RoutingDecision: One of the three decisions.
//   - error: Non-nil when the prompt is blank or the backend stayed
//     unreachable through the retry budget (wraps llm.ErrLLMUnavailable).
func (a *Agent) Classify(ctx context.Context, prompt string) (datatypes.RoutingDecision, error) {
	ctx, span := tracer.Start(ctx, "Supervisor.Classify")
	defer span.End()

	if strings.TrimSpace(prompt) == "" {
		err := fmt.Errorf("supervisor: prompt is empty")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var resp *llm.ChatResponse
	err := a.retry.Run(ctx, func(ctx context.Context) error {
		r, chatErr := a.client.Chat(ctx, classifySystemPrompt, prompt,
			llm.WithTemperature(0),
			llm.WithMaxTokens(classifyMaxTokens),
		)
		if chatErr != nil {
			return chatErr
		}
		resp = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification chat failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: classify prompt: %v", llm.ErrLLMUnavailable, err)
	}

	decision, ok := datatypes.ParseRoutingDecision(resp.Text)
	if !ok {
		a.logger.Debug("routing_decision_unrecognized",
			"raw", snippet(resp.Text),
			"fallback", decision.String(),
		)
	}

	span.SetAttributes(
		attribute.String("routing.decision", decision.String()),
		attribute.Bool("routing.parsed", ok),
		attribute.Int("llm.tokens_used", resp.TokensUsed),
	)
	a.logger.Debug("prompt_classified",
		"decision", decision.String(),
		"backend", a.client.Name(),
		"tokens_used", resp.TokensUsed,
	)
	return decision, nil
}

// snippet truncates raw model output for log lines.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
