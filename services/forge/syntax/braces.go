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
	"regexp"
	"strings"
)

// familyCheck inspects preprocessed source and reports issues. The source it
// receives has string literals and comments blanked out, with line structure
// intact.
type familyCheck func(stripped string) []string

// BraceValidator is the coarse checker for curly-brace languages. It strips
// literals and comments, verifies that (), {}, [] balance, and runs a small
// per-family checklist. It catches the structural damage LLMs typically
// produce (truncated blocks, dangling signatures) without a full grammar.
type BraceValidator struct {
	language string
	checks   []familyCheck
}

var _ Validator = (*BraceValidator)(nil)

// NewJavaScriptValidator returns the brace checker for JavaScript.
func NewJavaScriptValidator() *BraceValidator {
	return &BraceValidator{language: "javascript", checks: []familyCheck{checkArrowBodies}}
}

// NewTypeScriptValidator returns the brace checker for TypeScript.
func NewTypeScriptValidator() *BraceValidator {
	return &BraceValidator{
		language: "typescript",
		checks:   []familyCheck{checkArrowBodies, checkEmptyInterfaces},
	}
}

// NewJavaValidator returns the brace checker for Java.
func NewJavaValidator() *BraceValidator {
	return &BraceValidator{language: "java", checks: []familyCheck{checkMethodBodies}}
}

// NewCSharpValidator returns the brace checker for C#.
func NewCSharpValidator() *BraceValidator {
	return &BraceValidator{language: "csharp", checks: []familyCheck{checkMethodBodies}}
}

// NewGenericValidator returns a balanced-delimiter-only checker for
// languages without a registered validator.
func NewGenericValidator(language string) *BraceValidator {
	return &BraceValidator{language: language}
}

// Language implements Validator.
func (v *BraceValidator) Language() string { return v.language }

// Validate implements Validator.
func (v *BraceValidator) Validate(_ context.Context, code string) Result {
	if isBlank(code) {
		return emptyResult(v.language)
	}

	stripped := stripLiterals(code)
	found := scanBalance(stripped)
	for _, check := range v.checks {
		found = append(found, check(stripped)...)
	}

	return Result{
		Valid:    len(found) == 0,
		Errors:   found,
		Language: v.language,
	}
}

// -----------------------------------------------------------------------------
// Preprocessor
// -----------------------------------------------------------------------------

// stripLiterals blanks string literals (single, double, backtick; escapes
// honored) and line/block comments, replacing every stripped byte with a
// space. Newlines survive so downstream line numbers stay correct.
func stripLiterals(code string) string {
	const (
		stateCode = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	src := []byte(code)
	out := make([]byte, len(src))
	state := stateCode
	var quote byte

	for i := 0; i < len(src); i++ {
		ch := src[i]

		switch state {
		case stateCode:
			switch {
			case ch == '"' || ch == '\'' || ch == '`':
				state = stateString
				quote = ch
				out[i] = ' '
			case ch == '/' && i+1 < len(src) && src[i+1] == '/':
				state = stateLineComment
				out[i] = ' '
			case ch == '/' && i+1 < len(src) && src[i+1] == '*':
				state = stateBlockComment
				out[i] = ' '
			default:
				out[i] = ch
			}

		case stateString:
			switch {
			case ch == '\\' && i+1 < len(src):
				out[i] = ' '
				i++
				if src[i] == '\n' {
					out[i] = '\n'
				} else {
					out[i] = ' '
				}
			case ch == quote:
				state = stateCode
				out[i] = ' '
			case ch == '\n':
				out[i] = '\n'
				// Only template literals legally span lines; for the
				// others this is already broken input, but the scan
				// stays line-accurate either way.
			default:
				out[i] = ' '
			}

		case stateLineComment:
			if ch == '\n' {
				state = stateCode
				out[i] = '\n'
			} else {
				out[i] = ' '
			}

		case stateBlockComment:
			switch {
			case ch == '*' && i+1 < len(src) && src[i+1] == '/':
				out[i] = ' '
				i++
				out[i] = ' '
				state = stateCode
			case ch == '\n':
				out[i] = '\n'
			default:
				out[i] = ' '
			}
		}
	}

	return string(out)
}

// -----------------------------------------------------------------------------
// Balanced-delimiter scan
// -----------------------------------------------------------------------------

type openDelim struct {
	ch   byte
	line int
}

var closerFor = map[byte]byte{')': '(', '}': '{', ']': '['}

// scanBalance verifies (), {}, [] pairing over preprocessed source. A
// mismatched closer is reported without popping, so the dangling opener
// still reports as unclosed at the end.
func scanBalance(stripped string) []string {
	var stack []openDelim
	var found []string
	line := 1

	for i := 0; i < len(stripped); i++ {
		ch := stripped[i]
		switch ch {
		case '\n':
			line++
		case '(', '{', '[':
			stack = append(stack, openDelim{ch: ch, line: line})
		case ')', '}', ']':
			want := closerFor[ch]
			if len(stack) == 0 || stack[len(stack)-1].ch != want {
				found = append(found, fmt.Sprintf("Unmatched closing '%c' at line %d", ch, line))
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}

	for _, open := range stack {
		found = append(found, fmt.Sprintf("Unclosed '%c' opened at line %d", open.ch, open.line))
	}
	return found
}

// -----------------------------------------------------------------------------
// Per-family checks
// -----------------------------------------------------------------------------

// lineAt returns the 1-based line of a byte offset.
func lineAt(src string, offset int) int {
	return 1 + strings.Count(src[:offset], "\n")
}

// nextToken returns the first non-whitespace byte at or after offset, and
// its position. ok is false at end of input.
func nextToken(src string, offset int) (byte, int, bool) {
	for i := offset; i < len(src); i++ {
		switch src[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return src[i], i, true
		}
	}
	return 0, len(src), false
}

var methodSigRe = regexp.MustCompile(
	`(?m)^[ \t]*(?:(?:public|private|protected|internal|static|final|abstract|sealed|virtual|override|async|synchronized)[ \t]+)+[\w<>\[\]., \t]+\([^()]*\)`)

// checkMethodBodies flags Java/C# method signatures followed by neither a
// body nor a terminating semicolon. A throws clause between the parameter
// list and the body is skipped.
func checkMethodBodies(stripped string) []string {
	var found []string
	for _, loc := range methodSigRe.FindAllStringIndex(stripped, -1) {
		end := loc[1]

		ch, pos, ok := nextToken(stripped, end)
		if ok && ch == 't' && strings.HasPrefix(stripped[pos:], "throws") {
			// Skip to whatever terminates the throws clause.
			rest := stripped[pos:]
			stop := strings.IndexAny(rest, "{;")
			if stop < 0 {
				found = append(found, fmt.Sprintf("Method declaration without body at line %d", lineAt(stripped, loc[0])))
				continue
			}
			ch = rest[stop]
			ok = true
		}

		if !ok || (ch != '{' && ch != ';') {
			found = append(found, fmt.Sprintf("Method declaration without body at line %d", lineAt(stripped, loc[0])))
		}
	}
	return found
}

var arrowRe = regexp.MustCompile(`=>`)

// checkArrowBodies flags arrow functions whose body is missing: `=>`
// followed directly by a delimiter or end of input. A body starting on the
// next line is legal and passes.
func checkArrowBodies(stripped string) []string {
	var found []string
	for _, loc := range arrowRe.FindAllStringIndex(stripped, -1) {
		ch, _, ok := nextToken(stripped, loc[1])
		if !ok || ch == ';' || ch == ',' || ch == ')' || ch == '}' || ch == ']' {
			found = append(found, fmt.Sprintf("Arrow function without body at line %d", lineAt(stripped, loc[0])))
		}
	}
	return found
}

var (
	emptyInterfaceRe = regexp.MustCompile(`\binterface[ \t]+\w+[ \t]*\{[\s]*\}`)
	emptyTypeRe      = regexp.MustCompile(`\btype[ \t]+\w+[ \t]*=[ \t]*\{[\s]*\}`)
)

// checkEmptyInterfaces flags TypeScript interface/type declarations with an
// empty body, a common artifact of truncated generations.
func checkEmptyInterfaces(stripped string) []string {
	var found []string
	for _, loc := range emptyInterfaceRe.FindAllStringIndex(stripped, -1) {
		found = append(found, fmt.Sprintf("Empty interface declaration at line %d", lineAt(stripped, loc[0])))
	}
	for _, loc := range emptyTypeRe.FindAllStringIndex(stripped, -1) {
		found = append(found, fmt.Sprintf("Empty type declaration at line %d", lineAt(stripped, loc[0])))
	}
	return found
}
