// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides the fault-tolerance primitives shared by every
// forge component that talks to an external dependency: a circuit breaker, a
// retry policy with exponential backoff, and a key-value tool cache.
//
// Each external dependency (LLM provider, vector store, reranker, embedding
// backend) gets its own CircuitBreaker instance. Breakers are never shared
// across dependencies: an LLM outage must not block vector search.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed allows all requests through (normal operation).
	StateClosed State = iota

	// StateOpen rejects all requests until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen admits exactly one probe request to test recovery.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Default breaker parameters.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// RecoveryTimeout is how long the breaker stays open before admitting
	// a probe request.
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
}

// DefaultBreakerConfig returns the standard configuration: trip after 5
// consecutive failures, probe after 60 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

// Validate checks the configuration for invalid values.
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure threshold must be >= 1, got %d",
			ErrInvalidConfig, c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: recovery timeout must be positive, got %s",
			ErrInvalidConfig, c.RecoveryTimeout)
	}
	return nil
}

// BreakerStatus is a point-in-time snapshot of breaker internals.
type BreakerStatus struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time"`
	LastStateChange     time.Time `json:"last_state_change"`
}

// CircuitBreaker implements the circuit breaker pattern for guarding calls
// to a single external dependency.
//
// State machine:
//
//	closed    --[threshold consecutive failures]--> open
//	open      --[recovery timeout elapsed]-------> half_open
//	half_open --[probe succeeds]-----------------> closed
//	half_open --[probe fails]--------------------> open
//
// The lock is held only while inspecting or updating state, never while the
// guarded function runs, so a slow dependency cannot serialize callers.
//
// Thread Safety: all methods are safe for concurrent use.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	lastStateChange     time.Time
	probeInFlight       bool

	mu sync.Mutex
}

// NewCircuitBreaker creates a breaker for the named dependency. Zero-valued
// config fields fall back to defaults.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Call runs fn under breaker protection and returns its error unchanged.
//
// When the breaker is open and the recovery timeout has not elapsed, fn is
// not invoked and Call returns a *CircuitOpenError carrying the remaining
// wait. When the timeout has elapsed the breaker moves to half_open and
// admits exactly one probe; concurrent callers are rejected until the probe
// resolves.
//
// A nil error from fn counts as success. Any non-nil error counts as a
// failure except context.Canceled, which reflects caller intent rather than
// dependency health.
//
// Inputs:
//   - ctx: passed through to fn.
//   - fn: the guarded operation.
//
// Outputs:
//   - error: fn's error, or *CircuitOpenError when rejected.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// admit decides whether a call may proceed, transitioning open -> half_open
// when the recovery timeout has elapsed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		remaining := cb.config.RecoveryTimeout - time.Since(cb.lastFailureTime)
		if remaining > 0 {
			return &CircuitOpenError{TimeUntilRetry: remaining}
		}
		cb.transitionTo(StateHalfOpen)
		cb.probeInFlight = true
		return nil

	case StateHalfOpen:
		if cb.probeInFlight {
			return &CircuitOpenError{TimeUntilRetry: 0}
		}
		cb.probeInFlight = true
		return nil

	default:
		return &CircuitOpenError{TimeUntilRetry: cb.config.RecoveryTimeout}
	}
}

// record applies the outcome of a completed call to breaker state.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.recordSuccess()
		return
	}

	// Caller cancellation says nothing about dependency health. Release
	// the probe slot so the next caller can retest.
	if errors.Is(err, context.Canceled) {
		cb.probeInFlight = false
		return
	}

	cb.recordFailure()
}

// recordSuccess resets failure tracking. Must be called with lock held.
func (cb *CircuitBreaker) recordSuccess() {
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
	}
}

// recordFailure counts a failure and trips the breaker when the threshold
// is reached. Must be called with lock held.
func (cb *CircuitBreaker) recordFailure() {
	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()
	cb.probeInFlight = false

	switch cb.state {
	case StateHalfOpen:
		// Failed probe reopens immediately.
		cb.transitionTo(StateOpen)
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	}
}

// transitionTo changes the breaker state. Must be called with lock held.
func (cb *CircuitBreaker) transitionTo(newState State) {
	cb.state = newState
	cb.lastStateChange = time.Now()
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Status returns a snapshot of breaker internals for health endpoints.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStatus{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureTime:     cb.lastFailureTime,
		LastStateChange:     cb.lastStateChange,
	}
}

// Reset forces the breaker back to closed and clears failure tracking.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	cb.lastFailureTime = time.Time{}
	cb.transitionTo(StateClosed)
}
