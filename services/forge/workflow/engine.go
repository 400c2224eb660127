// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow drives the agent pipeline for one request: a directed
// graph with a single cycle (validate → search) over a per-request State.
// The supervisor picks a route, search grounds the prompt in documentation,
// code generation produces and self-checks code, and validate bounds the
// retry loop. Nodes record failures into the state instead of aborting, so
// a run always terminates with whatever partial output exists.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("forge.workflow")
	meter  = otel.Meter("forge.workflow")
)

// DefaultNodeTimeout bounds a single node when the config does not.
const DefaultNodeTimeout = 60 * time.Second

// ----- collaborator interfaces -----

// Classifier routes a prompt. Implemented by supervisor.Agent.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (datatypes.RoutingDecision, error)
}

// Searcher retrieves ranked documentation. Implemented by docsearch.Agent.
// Zero topK and minScore defer to the searcher's own defaults.
type Searcher interface {
	Search(ctx context.Context, query string, frameworks []string, topK int, minScore float64) ([]datatypes.DocumentationResult, error)
}

// Generator produces framework-aware code grounded in documentation.
// Implemented by codegen.Agent.
type Generator interface {
	Generate(ctx context.Context, prompt string, docs []datatypes.DocumentationResult, framework string) (datatypes.CodeGenerationResult, error)
}

// Config tunes engine execution.
type Config struct {
	// NodeTimeout caps each node's wall time, layered under the request
	// deadline. Zero applies DefaultNodeTimeout; negative disables the
	// per-node cap and relies on the request deadline alone.
	NodeTimeout time.Duration
}

// nodeFunc mutates the state; failures are recorded into state.Errors.
type nodeFunc func(ctx context.Context, state *State)

// Engine executes the workflow graph.
//
// Thread Safety: safe for concurrent Run calls as long as the collaborators
// are; each call must receive its own State.
type Engine struct {
	classifier  Classifier
	searcher    Searcher
	generator   Generator
	nodeTimeout time.Duration
	logger      *slog.Logger

	metricsOnce   sync.Once
	nodeLatency   metric.Float64Histogram
	nodeSuccesses metric.Int64Counter
	nodeFailures  metric.Int64Counter
	activeNodes   metric.Int64UpDownCounter
	runLatency    metric.Float64Histogram
}

// New wires the three agents into an engine. A nil logger falls back to
// slog.Default().
func New(classifier Classifier, searcher Searcher, generator Generator, cfg Config, logger *slog.Logger) (*Engine, error) {
	if classifier == nil {
		return nil, fmt.Errorf("workflow: classifier must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("workflow: searcher must not be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("workflow: generator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	nodeTimeout := cfg.NodeTimeout
	if nodeTimeout == 0 {
		nodeTimeout = DefaultNodeTimeout
	}
	return &Engine{
		classifier:  classifier,
		searcher:    searcher,
		generator:   generator,
		nodeTimeout: nodeTimeout,
		logger:      logger,
	}, nil
}

// initMetrics lazily builds the engine's instruments. Failures degrade
// observability, never execution.
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		e.nodeLatency, err = meter.Float64Histogram("workflow_node_duration_seconds",
			metric.WithDescription("Time spent executing each workflow node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodeSuccesses, err = meter.Int64Counter("workflow_node_success_total",
			metric.WithDescription("Number of node executions that recorded no error"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		e.nodeFailures, err = meter.Int64Counter("workflow_node_failure_total",
			metric.WithDescription("Number of node executions that recorded an error"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		e.activeNodes, err = meter.Int64UpDownCounter("workflow_active_nodes",
			metric.WithDescription("Number of currently executing workflow nodes"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		e.runLatency, err = meter.Float64Histogram("workflow_run_duration_seconds",
			metric.WithDescription("Total workflow execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("workflow_metrics_init_failed",
				"failed_count", len(initErrors),
				"errors", initErrors,
			)
		}
	})
}

// Run executes the graph to completion.
//
// # Description
//
// Starts at the supervisor and follows the transition function until End,
// checking for caller cancellation between nodes. Node failures are
// appended to state.Errors and the graph continues, so Run never returns
// an error: the report's Result is either synthesized output or an error
// summary.
//
// # Inputs
//
//   - ctx: Carries the request deadline; each node additionally gets its
//     own timeout.
//   - state: The request's private state. Mutated in place.
//
// # Outputs
//
//   - *RunReport: Synthesized result text plus run metadata. Never nil.
func (e *Engine) Run(ctx context.Context, state *State) *RunReport {
	e.initMetrics()

	ctx, span := tracer.Start(ctx, "Workflow.Run",
		trace.WithAttributes(
			attribute.String("workflow.trace_id", state.TraceID),
			attribute.Int("workflow.max_iterations", state.MaxIterations),
			attribute.Bool("workflow.has_framework", state.Framework != ""),
		),
	)
	defer span.End()

	start := time.Now()
	e.logger.Info("workflow_started",
		"trace_id", state.TraceID,
		"framework", state.Framework,
		"max_iterations", state.MaxIterations,
	)

	nodes := map[NodeID]nodeFunc{
		NodeSupervisor: e.runSupervisor,
		NodeSearch:     e.runSearch,
		NodeCodeGen:    e.runCodeGen,
		NodeValidate:   e.runValidate,
	}

	id := NodeSupervisor
loop:
	for id != End {
		select {
		case <-ctx.Done():
			state.recordError(fmt.Errorf("workflow interrupted at node %s: %v", id, ctx.Err()))
			break loop
		default:
		}
		e.executeNode(ctx, id, nodes[id], state)
		id = next(state, id)
	}

	report := &RunReport{
		Result:        synthesize(state),
		AgentsInvoked: agentsInvoked(state),
		Iterations:    state.IterationCount,
		TokensUsed:    reportTokens(state),
	}

	duration := time.Since(start)
	if e.runLatency != nil {
		e.runLatency.Record(ctx, duration.Seconds())
	}
	span.SetAttributes(
		attribute.Int("workflow.iterations", report.Iterations),
		attribute.StringSlice("workflow.agents_invoked", report.AgentsInvoked),
		attribute.Int("workflow.tokens_used", report.TokensUsed),
		attribute.Int("workflow.errors", len(state.Errors)),
	)
	e.logger.Info("workflow_completed",
		"trace_id", state.TraceID,
		"iterations", report.Iterations,
		"agents_invoked", report.AgentsInvoked,
		"tokens_used", report.TokensUsed,
		"errors", len(state.Errors),
		"duration_ms", duration.Milliseconds(),
	)
	return report
}

// executeNode runs a single node with a child span, a per-node timeout,
// and latency/outcome instruments. Failure is detected by the node having
// appended to state.Errors.
func (e *Engine) executeNode(ctx context.Context, id NodeID, fn nodeFunc, state *State) {
	ctx, span := tracer.Start(ctx, "Workflow."+id.String(),
		trace.WithAttributes(
			attribute.String("workflow.node", id.String()),
			attribute.String("workflow.trace_id", state.TraceID),
			attribute.Int("workflow.iteration", state.IterationCount),
		),
	)
	defer span.End()

	if e.activeNodes != nil {
		e.activeNodes.Add(ctx, 1)
		defer e.activeNodes.Add(ctx, -1)
	}

	nodeCtx := ctx
	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
		defer cancel()
	}

	e.logger.Debug("node_started", "node", id.String(), "trace_id", state.TraceID)

	errsBefore := len(state.Errors)
	start := time.Now()
	fn(nodeCtx, state)
	duration := time.Since(start)

	attrs := metric.WithAttributes(attribute.String("node", id.String()))
	if e.nodeLatency != nil {
		e.nodeLatency.Record(ctx, duration.Seconds(), attrs)
	}

	if len(state.Errors) > errsBefore {
		failure := state.Errors[len(state.Errors)-1]
		if e.nodeFailures != nil {
			e.nodeFailures.Add(ctx, 1, attrs)
		}
		span.SetStatus(codes.Error, failure)
		e.logger.Error("node_failed",
			"node", id.String(),
			"trace_id", state.TraceID,
			"duration_ms", duration.Milliseconds(),
			"error", failure,
		)
		return
	}

	if e.nodeSuccesses != nil {
		e.nodeSuccesses.Add(ctx, 1, attrs)
	}
	span.SetStatus(codes.Ok, "")
	e.logger.Debug("node_completed",
		"node", id.String(),
		"trace_id", state.TraceID,
		"duration_ms", duration.Milliseconds(),
	)
}

// ----- node implementations -----

func (e *Engine) runSupervisor(ctx context.Context, state *State) {
	if strings.TrimSpace(state.Prompt) == "" {
		state.recordError(errors.New("supervisor: prompt is empty"))
		return
	}
	decision, err := e.classifier.Classify(ctx, state.Prompt)
	if err != nil {
		state.recordError(fmt.Errorf("classification failed: %v", err))
		return
	}
	state.Decision = &decision
}

func (e *Engine) runSearch(ctx context.Context, state *State) {
	if strings.TrimSpace(state.Prompt) == "" {
		state.recordError(errors.New("search: prompt is empty"))
		state.Results = []datatypes.DocumentationResult{}
		return
	}
	var frameworks []string
	if state.Framework != "" {
		frameworks = []string{state.Framework}
	}
	// Zero topK/minScore let the searcher apply its documented defaults.
	results, err := e.searcher.Search(ctx, state.Prompt, frameworks, 0, 0)
	if err != nil {
		state.recordError(fmt.Errorf("documentation search failed: %v", err))
		state.Results = []datatypes.DocumentationResult{}
		return
	}
	state.Results = results
}

func (e *Engine) runCodeGen(ctx context.Context, state *State) {
	if state.decisionIs(datatypes.DecisionSearchOnly) {
		// The search → code_gen edge is static; documentation-only runs
		// pass through here without invoking the agent.
		e.logger.Debug("code_generation_skipped",
			"trace_id", state.TraceID,
			"reason", "search_only",
		)
		return
	}
	if strings.TrimSpace(state.Prompt) == "" {
		state.recordError(errors.New("code_gen: prompt is empty"))
		return
	}
	result, err := e.generator.Generate(ctx, state.Prompt, state.Results, state.Framework)
	if err != nil {
		state.recordError(fmt.Errorf("code generation failed: %v", err))
		return
	}
	state.CodeResult = &result
	state.GeneratedCode = &result.Code
}

func (e *Engine) runValidate(ctx context.Context, state *State) {
	state.IterationCount++
	if state.MaxIterations <= 0 {
		state.MaxIterations = DefaultMaxIterations
	}
	if state.CodeResult == nil {
		// Nothing was generated; the transition function ends the run.
		return
	}
	// Syntax validation already ran inside code generation; the stored
	// result drives the loopback decision in next().
	if !state.CodeResult.SyntaxValid {
		e.logger.Debug("generated_code_invalid",
			"trace_id", state.TraceID,
			"iteration", state.IterationCount,
			"validation_errors", len(state.CodeResult.ValidationErrors),
		)
	}
}
