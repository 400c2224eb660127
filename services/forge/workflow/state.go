// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// DefaultMaxIterations bounds the validate → search loopback when the
// caller does not set a ceiling.
const DefaultMaxIterations = 3

// NodeID identifies one node of the workflow graph.
type NodeID int

// ----- node identifiers -----

const (
	// NodeSupervisor classifies the prompt into a routing decision.
	NodeSupervisor NodeID = iota

	// NodeSearch retrieves and re-ranks documentation.
	NodeSearch

	// NodeCodeGen generates framework-aware code.
	NodeCodeGen

	// NodeValidate counts the iteration and inspects the last code result.
	NodeValidate

	// End is the terminal sentinel; no node runs for it.
	End
)

// String returns the node's wire name, used in spans, metrics, and logs.
func (id NodeID) String() string {
	switch id {
	case NodeSupervisor:
		return "supervisor"
	case NodeSearch:
		return "search"
	case NodeCodeGen:
		return "code_gen"
	case NodeValidate:
		return "validate"
	case End:
		return "end"
	default:
		return fmt.Sprintf("node(%d)", int(id))
	}
}

// State is the mutable, per-request workflow state. It is created for one
// request, owned exclusively by that request, and discarded afterwards.
// Nodes communicate only through it.
type State struct {
	// Prompt is the raw user prompt.
	Prompt string

	// Framework optionally narrows documentation search and steers code
	// generation ("nestjs", "fastapi", ...).
	Framework string

	// TraceID correlates every span and log line of this run.
	TraceID string

	// Decision is set by the supervisor node; nil means classification
	// never produced one and the run ends immediately.
	Decision *datatypes.RoutingDecision

	// Results is nil until the search node runs. The node always stores a
	// non-nil slice, so nil-ness doubles as the "search ran" marker.
	Results []datatypes.DocumentationResult

	// GeneratedCode is the last generated code text, nil until code
	// generation produced something.
	GeneratedCode *string

	// CodeResult is the full result of the last code generation attempt.
	CodeResult *datatypes.CodeGenerationResult

	// IterationCount is incremented by every pass through the validate
	// node; it is strictly increasing and never exceeds MaxIterations.
	IterationCount int

	// MaxIterations is the loopback ceiling; the validate node defaults it
	// to DefaultMaxIterations when unset.
	MaxIterations int

	// Errors accumulates node-level failures. Nodes never abort the run;
	// they record here and the graph continues.
	Errors []string
}

// NewState builds the starting state for one request. A maxIterations of
// zero or less defers to DefaultMaxIterations.
func NewState(prompt, framework, traceID string, maxIterations int) *State {
	return &State{
		Prompt:        prompt,
		Framework:     framework,
		TraceID:       traceID,
		MaxIterations: maxIterations,
	}
}

// ProducedResult reports whether the run ended with usable output rather
// than an error summary. The caller uses it to decide cache write-back.
func (s *State) ProducedResult() bool {
	if s.Decision == nil {
		return false
	}
	if *s.Decision == datatypes.DecisionSearchOnly {
		if s.Results == nil {
			return false
		}
		return len(s.Results) > 0 || len(s.Errors) == 0
	}
	return s.CodeResult != nil && strings.TrimSpace(s.CodeResult.Code) != ""
}

func (s *State) recordError(err error) {
	s.Errors = append(s.Errors, err.Error())
}

func (s *State) decisionIs(d datatypes.RoutingDecision) bool {
	return s.Decision != nil && *s.Decision == d
}

// next is the transition function of the graph. Edges:
//
//	start      → supervisor
//	supervisor → search (SEARCH_ONLY, SEARCH_THEN_CODE) | code_gen (CODE_ONLY) | end (no decision)
//	search     → code_gen
//	code_gen   → validate
//	validate   → search when the decision allows code, the last code result
//	             is invalid, and the iteration ceiling is not reached; else end
//
// A SEARCH_ONLY run can never loop: the loopback edge is gated on the
// decision before anything else.
func next(s *State, from NodeID) NodeID {
	switch from {
	case NodeSupervisor:
		if s.Decision == nil {
			return End
		}
		switch *s.Decision {
		case datatypes.DecisionSearchOnly, datatypes.DecisionSearchThenCode:
			return NodeSearch
		case datatypes.DecisionCodeOnly:
			return NodeCodeGen
		default:
			return End
		}
	case NodeSearch:
		return NodeCodeGen
	case NodeCodeGen:
		return NodeValidate
	case NodeValidate:
		if s.decisionIs(datatypes.DecisionSearchOnly) {
			return End
		}
		if s.CodeResult != nil && !s.CodeResult.SyntaxValid && s.IterationCount < s.MaxIterations {
			return NodeSearch
		}
		return End
	default:
		return End
	}
}
