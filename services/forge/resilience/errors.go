// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for resilience primitives.
var (
	// ErrCircuitOpen is matched (via errors.Is) by every *CircuitOpenError.
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrInvalidConfig is returned by config validation.
	ErrInvalidConfig = errors.New("resilience: invalid configuration")
)

// CircuitOpenError is returned when a call is rejected by an open breaker.
// TimeUntilRetry tells callers how long until the breaker will admit a
// recovery probe (zero when a probe is already in flight).
type CircuitOpenError struct {
	TimeUntilRetry time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry in %s", e.TimeUntilRetry)
}

// Is makes errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// RetryExhaustedError wraps the last error after all retry attempts failed.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes the final attempt's error to errors.Is / errors.As.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}
