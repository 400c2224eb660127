// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax validates generated code before it is returned to callers.
//
// Python gets a full tree-sitter parse; the curly-brace family (JavaScript,
// TypeScript, Java, C#) gets a literal-stripping preprocessor, a balanced
// delimiter scan, and a small per-family checklist. Unknown languages fall
// back to the delimiter scan alone. Validators are registered per language,
// so a coarse checker can be swapped for a real parser without touching the
// code generation agent.
package syntax

import (
	"context"
	"strings"
	"sync"
)

// emptyCodeError is the error every validator reports for blank input.
const emptyCodeError = "Code is empty"

// Result is the outcome of one validation pass.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Language string   `json:"language"`
}

// Validator checks one language. Implementations must be side-effect free
// and safe for concurrent use.
type Validator interface {
	Validate(ctx context.Context, code string) Result
	Language() string
}

// Registry dispatches validation by normalized language name.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// NewRegistry returns a registry with the built-in validators: tree-sitter
// Python plus brace checkers for JavaScript, TypeScript, Java, and C#.
func NewRegistry() *Registry {
	r := &Registry{validators: make(map[string]Validator)}
	r.Register(NewPythonValidator())
	r.Register(NewJavaScriptValidator())
	r.Register(NewTypeScriptValidator())
	r.Register(NewJavaValidator())
	r.Register(NewCSharpValidator())
	return r
}

// Register adds or replaces the validator for its language.
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[Normalize(v.Language())] = v
}

// Validate dispatches to the language's validator. Languages without a
// registered validator get the generic balanced-delimiter scan.
func (r *Registry) Validate(ctx context.Context, language, code string) Result {
	name := Normalize(language)

	r.mu.RLock()
	v, ok := r.validators[name]
	r.mu.RUnlock()

	if !ok {
		v = NewGenericValidator(name)
	}
	return v.Validate(ctx, code)
}

// Languages lists the registered language names.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	return names
}

// Normalize maps language aliases onto registry keys.
func Normalize(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "js", "javascript", "ecmascript", "node":
		return "javascript"
	case "ts", "typescript":
		return "typescript"
	case "py", "python", "python3":
		return "python"
	case "c#", "cs", "csharp", "dotnet":
		return "csharp"
	case "golang", "go":
		return "go"
	default:
		return strings.ToLower(strings.TrimSpace(language))
	}
}

// isBlank reports whether code contains nothing but whitespace.
func isBlank(code string) bool {
	return strings.TrimSpace(code) == ""
}

// emptyResult is the uniform answer for blank input.
func emptyResult(language string) Result {
	return Result{Valid: false, Errors: []string{emptyCodeError}, Language: language}
}
