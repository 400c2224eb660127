// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateFramework(t *testing.T) {
	tests := []struct {
		name      string
		framework string
		wantErr   bool
	}{
		// Valid frameworks
		{"simple", "fastapi", false},
		{"single char", "r", false},
		{"with digit", "vue3", false},
		{"with dot", "asp.net", false},
		{"with hyphen", "spring-boot", false},
		{"with underscore", "my_framework", false},
		{"max length", strings.Repeat("a", 50), false},
		{"all digits", "1234567890", false},

		// Invalid frameworks - injection attempts
		{"empty", "", true},
		{"sql injection", "react'; DROP TABLE--", true},
		{"newline injection", "react\nUNION SELECT", true},
		{"uppercase", "FastAPI", true}, // Must be lowercase
		{"too long", strings.Repeat("a", 51), true},
		{"special chars", "react@#$", true},
		{"spaces", "spring boot", true},
		{"unicode", "reactâ„¢", true},
		{"starts with dot", ".net", true},
		{"starts with hyphen", "-react", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFramework(tt.framework)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFramework(%q) error = %v, wantErr %v", tt.framework, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFrameworks(t *testing.T) {
	tests := []struct {
		name       string
		frameworks []string
		wantErr    bool
	}{
		{"all valid", []string{"fastapi", "react", "django"}, false},
		{"one invalid", []string{"fastapi", "bad!", "django"}, true},
		{"all invalid", []string{"Bad", "Worse!"}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrameworks(tt.frameworks)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFrameworks(%v) error = %v, wantErr %v", tt.frameworks, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFramework(t *testing.T) {
	tests := []struct {
		name      string
		framework string
		want      string
		wantErr   bool
	}{
		{"lowercase passthrough", "fastapi", "fastapi", false},
		{"uppercase normalized", "FastAPI", "fastapi", false},
		{"with spaces trimmed", "  react  ", "react", false},
		{"invalid rejected", "bad!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeFramework(tt.framework)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeFramework(%q) error = %v, wantErr %v", tt.framework, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeFramework(%q) = %q, want %q", tt.framework, got, tt.want)
			}
		})
	}
}

func TestValidatePrompt(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		wantErr bool
	}{
		{"simple", "How do I create a FastAPI endpoint?", false},
		{"single char", "x", false},
		{"max length", strings.Repeat("a", MaxPromptLength), false},
		{"multibyte at limit", strings.Repeat("é", MaxPromptLength), false},

		{"empty", "", true},
		{"whitespace only", "   \n\t  ", true},
		{"too long", strings.Repeat("a", MaxPromptLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrompt(tt.prompt)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrompt() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTraceID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "9b2f6a5e-3c41-4b9a-9f2d-8a1c0d7e6b5f", false},
		{"w3c trace id", "0123456789abcdef0123456789abcdef", false},
		{"short hex", "abc123", false},

		{"empty", "", true},
		{"non-hex chars", "not-a-trace-id!", true},
		{"starts with hyphen", "-abc", true},
		{"too long", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTraceID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTraceID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
