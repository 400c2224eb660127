// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries, cache keys, or LLM prompts. Using these validators
// prevents injection attacks (SQL injection, cache-key poisoning) and keeps
// unbounded user input out of downstream services.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxPromptLength is the maximum accepted prompt length in characters.
const MaxPromptLength = 10000

// frameworkPattern matches valid framework identifiers.
// Allows: lowercase letters, digits, dots (asp.net), hyphens (spring-boot),
// underscores. Max length: 50 characters.
var frameworkPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,49}$`)

// traceIDPattern matches caller-supplied trace identifiers.
// Allows: hex digits and hyphens (UUIDs, W3C trace IDs). Max length: 64.
var traceIDPattern = regexp.MustCompile(`^[a-fA-F0-9][a-fA-F0-9\-]{0,63}$`)

// ValidateFramework validates a framework identifier before it reaches a
// database filter or cache key.
//
// Valid framework names:
//   - 1-50 characters
//   - Lowercase letters a-z
//   - Digits 0-9
//   - Dots (.) for names like asp.net
//   - Hyphens (-) and underscores (_) for names like spring-boot
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateFramework(name); err != nil {
//	    return nil, fmt.Errorf("invalid framework: %w", err)
//	}
//	// Safe to use in a documentation filter
func ValidateFramework(name string) error {
	if name == "" {
		return fmt.Errorf("framework cannot be empty")
	}

	if !frameworkPattern.MatchString(name) {
		return fmt.Errorf("invalid framework format: %q (must be 1-50 lowercase alphanumeric chars, dots, hyphens, or underscores)", name)
	}

	return nil
}

// ValidateFrameworks validates multiple framework identifiers.
// Returns an error listing all invalid names if any fail validation.
func ValidateFrameworks(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateFramework(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid frameworks: %v", invalid)
	}
	return nil
}

// SanitizeFramework normalizes and validates a framework identifier.
// Returns the lowercase name if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	framework, err := validation.SanitizeFramework(userInput)
//	if err != nil {
//	    return err
//	}
//	// framework is lowercase and validated
func SanitizeFramework(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateFramework(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidatePrompt validates a user prompt before pipeline processing.
//
// A valid prompt is non-empty after trimming and at most MaxPromptLength
// characters. Length is measured in Unicode code points, not bytes, so
// multi-byte input is not penalized.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt cannot be empty")
	}

	if n := utf8.RuneCountInString(prompt); n > MaxPromptLength {
		return fmt.Errorf("prompt exceeds maximum length: %d > %d characters", n, MaxPromptLength)
	}

	return nil
}

// ValidateTraceID validates a caller-supplied trace identifier.
//
// Valid trace IDs are 1-64 characters of hex digits and hyphens, which
// covers UUIDs and W3C trace IDs. An empty string is rejected; callers
// that allow absent trace IDs should skip validation when unset.
func ValidateTraceID(id string) error {
	if id == "" {
		return fmt.Errorf("trace id cannot be empty")
	}

	if !traceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid trace id format: %q (must be 1-64 hex chars or hyphens)", id)
	}

	return nil
}
