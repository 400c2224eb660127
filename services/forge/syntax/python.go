// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Traversal bounds: maxReportedErrors prevents excessive memory on heavily
// malformed input, maxWalkDepth prevents stack overflow on deeply nested
// trees.
const (
	maxReportedErrors = 50
	maxWalkDepth      = 1000
)

// PythonValidator parses code with tree-sitter and reports every ERROR or
// MISSING node in the syntax tree.
type PythonValidator struct{}

// NewPythonValidator returns the tree-sitter backed Python validator.
func NewPythonValidator() *PythonValidator {
	return &PythonValidator{}
}

var _ Validator = (*PythonValidator)(nil)

// Language implements Validator.
func (v *PythonValidator) Language() string { return "python" }

// Validate implements Validator. A fresh parser is created per call;
// tree-sitter parsers are not safe for concurrent reuse.
func (v *PythonValidator) Validate(ctx context.Context, code string) Result {
	if isBlank(code) {
		return emptyResult(v.Language())
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return Result{
			Valid:    false,
			Errors:   []string{fmt.Sprintf("parsing failed: %v", err)},
			Language: v.Language(),
		}
	}
	defer tree.Close()

	var found []string
	collectParseErrors(tree.RootNode(), content, &found, 0)

	return Result{
		Valid:    len(found) == 0,
		Errors:   found,
		Language: v.Language(),
	}
}

// collectParseErrors walks the tree and records ERROR/MISSING nodes with
// their 1-based line numbers.
func collectParseErrors(node *sitter.Node, content []byte, out *[]string, depth int) {
	if node == nil || depth > maxWalkDepth || len(*out) >= maxReportedErrors {
		return
	}

	if node.IsError() || node.IsMissing() {
		line := int(node.StartPoint().Row) + 1

		if node.IsMissing() {
			*out = append(*out, fmt.Sprintf("Missing %s at line %d", node.Type(), line))
		} else {
			start, end := node.StartByte(), node.EndByte()
			if end > uint32(len(content)) {
				end = uint32(len(content))
			}
			contextStr := ""
			if end > start && end-start < 100 {
				contextStr = string(content[start:end])
			}
			if contextStr != "" {
				*out = append(*out, fmt.Sprintf("Unexpected %q at line %d", truncate(contextStr, 50), line))
			} else {
				*out = append(*out, fmt.Sprintf("Syntax error at line %d", line))
			}
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectParseErrors(node.Child(i), content, out, depth+1)
	}
}

// truncate shortens a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
