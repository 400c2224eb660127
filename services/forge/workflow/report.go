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

const (
	// maxListedResults caps the numbered list of a documentation answer.
	maxListedResults = 5

	// maxExcerptRunes caps each listed excerpt.
	maxExcerptRunes = 300

	// maxFooterSources caps the source URLs in a code answer's footer.
	maxFooterSources = 3
)

// RunReport is the outcome of one workflow run.
type RunReport struct {
	// Result is the synthesized answer text: a documentation list, code
	// with a metadata footer, or an error summary.
	Result string

	// AgentsInvoked names the agents that wrote output into the state, in
	// pipeline order.
	AgentsInvoked []string

	// Iterations is the number of passes through the validate node.
	Iterations int

	// TokensUsed is the LLM token total of the final code generation
	// attempt chain; zero for documentation-only runs.
	TokensUsed int
}

// synthesize renders the final answer from the end-of-run state.
func synthesize(s *State) string {
	if !s.ProducedResult() {
		return errorSummary(s)
	}
	if s.decisionIs(datatypes.DecisionSearchOnly) {
		return synthesizeSearch(s.Results)
	}
	return synthesizeCode(s.CodeResult)
}

func synthesizeSearch(results []datatypes.DocumentationResult) string {
	if len(results) == 0 {
		return "No documentation found for this query."
	}
	var b strings.Builder
	b.WriteString("Documentation results:\n")
	for i, r := range results {
		if i == maxListedResults {
			break
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "%d. ", i+1)
		if r.Framework != "" {
			fmt.Fprintf(&b, "[%s] ", r.Framework)
		}
		fmt.Fprintf(&b, "%s (score %.2f)\n", r.Source, r.Score)
		if excerpt := capRunes(strings.TrimSpace(r.Content), maxExcerptRunes); excerpt != "" {
			fmt.Fprintf(&b, "   %s\n", excerpt)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func synthesizeCode(r *datatypes.CodeGenerationResult) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(r.Code, "\n"))
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "Language: %s\n", r.Language)
	if r.Framework != "" {
		fmt.Fprintf(&b, "Framework: %s\n", r.Framework)
	}
	fmt.Fprintf(&b, "Syntax valid: %t\n", r.SyntaxValid)
	if len(r.DocumentationSources) > 0 {
		srcs := r.DocumentationSources
		if len(srcs) > maxFooterSources {
			srcs = srcs[:maxFooterSources]
		}
		fmt.Fprintf(&b, "Sources: %s\n", strings.Join(srcs, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func errorSummary(s *State) string {
	if len(s.Errors) == 0 {
		return "The workflow completed without producing a result."
	}
	var b strings.Builder
	b.WriteString("The request could not be completed:\n")
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}

// agentsInvoked derives the invoked-agent list from which state fields
// were written, in pipeline order.
func agentsInvoked(s *State) []string {
	invoked := make([]string, 0, 3)
	if s.Decision != nil {
		invoked = append(invoked, "supervisor")
	}
	if s.Results != nil {
		invoked = append(invoked, "documentation_search")
	}
	if s.CodeResult != nil {
		invoked = append(invoked, "code_gen")
	}
	return invoked
}

func reportTokens(s *State) int {
	if s.CodeResult == nil {
		return 0
	}
	return s.CodeResult.TokensUsed
}

// capRunes truncates to maxRunes runes, marking the cut with an ellipsis.
func capRunes(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
