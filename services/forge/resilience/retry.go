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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AleutianAI/AleutianForge/services/llm"
)

// DefaultMaxAttempts is used when a policy leaves MaxAttempts at zero.
const DefaultMaxAttempts = 3

// RetryPolicy defines retry behavior with exponential backoff.
//
// The wait before attempt n+1 is min(MaxWait, Multiplier * 2^(n-1)). Waits
// are deterministic: no jitter is applied, so tests and traces stay
// reproducible.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Zero means DefaultMaxAttempts.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Multiplier is the base wait, doubled after each failed attempt.
	Multiplier time.Duration `json:"multiplier" yaml:"multiplier"`

	// MaxWait caps the wait between attempts.
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`

	// RetryIf reports whether an error is worth retrying. A nil predicate
	// retries every error.
	RetryIf func(error) bool `json:"-" yaml:"-"`
}

// Validate checks the policy for invalid values.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must be >= 0, got %d",
			ErrInvalidConfig, p.MaxAttempts)
	}
	if p.Multiplier < 0 {
		return fmt.Errorf("%w: multiplier must be >= 0, got %s",
			ErrInvalidConfig, p.Multiplier)
	}
	if p.MaxWait < 0 {
		return fmt.Errorf("%w: max wait must be >= 0, got %s",
			ErrInvalidConfig, p.MaxWait)
	}
	return nil
}

// wait returns the backoff before the attempt following failed attempt n
// (1-based), capped at MaxWait.
func (p RetryPolicy) wait(attempt int) time.Duration {
	if p.Multiplier <= 0 {
		return 0
	}
	// Guard the shift: beyond 2^30 doublings the cap always wins.
	if attempt > 31 {
		return p.MaxWait
	}
	w := p.Multiplier << uint(attempt-1)
	if w <= 0 || (p.MaxWait > 0 && w > p.MaxWait) {
		return p.MaxWait
	}
	return w
}

// Run executes fn up to MaxAttempts times.
//
// A nil error stops immediately. An error rejected by RetryIf propagates
// unchanged. When every attempt fails, Run returns a *RetryExhaustedError
// wrapping the last error, so errors.Is still matches the underlying cause.
// Context cancellation during a backoff wait aborts with ctx.Err().
func (p RetryPolicy) Run(ctx context.Context, fn func(context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.RetryIf != nil && !p.RetryIf(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.wait(attempt)):
		}
	}

	return &RetryExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// RunWithBreaker composes a retry policy with a circuit breaker: every
// attempt passes through breaker admission and records its outcome. A
// rejection by the open breaker is not retryable under the standard presets,
// so the loop short-circuits instead of hammering a tripped dependency.
func RunWithBreaker(ctx context.Context, cb *CircuitBreaker, policy RetryPolicy, fn func(context.Context) error) error {
	return policy.Run(ctx, func(ctx context.Context) error {
		return cb.Call(ctx, fn)
	})
}

// ===== Presets =====

// LLMRetryPolicy returns the retry policy for LLM provider calls: 3 attempts,
// 2s base wait, 30s cap, retrying only errors llm.IsRetryable accepts.
func LLMRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Multiplier:  2 * time.Second,
		MaxWait:     30 * time.Second,
		RetryIf:     llm.IsRetryable,
	}
}

// DatabaseRetryPolicy returns the retry policy for vector store calls: 3
// attempts, 200ms base wait, 2s cap, retrying connection-level failures.
func DatabaseRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Multiplier:  200 * time.Millisecond,
		MaxWait:     2 * time.Second,
		RetryIf:     IsRetryableDatabase,
	}
}

// HTTPRetryPolicy returns the retry policy for plain HTTP backends such as
// the reranker and the local embedding server: 3 attempts, 500ms base wait,
// 5s cap, retrying timeouts and network errors.
func HTTPRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Multiplier:  500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		RetryIf:     IsRetryableHTTP,
	}
}

// Postgres error codes that indicate a transient connection-level problem.
// Class 08 covers connection exceptions, 53300 is too_many_connections, and
// 57P0x are server shutdown states.
var retryablePgCodes = map[string]bool{
	"08000": true, // connection_exception
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// IsRetryableDatabase reports whether a database error is transient:
// connection loss, connection refusal, pool exhaustion on the server side,
// or a server restart in progress. Query-level errors (syntax, constraint
// violations) are not retryable.
func IsRetryableDatabase(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePgCodes[pgErr.Code]
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// IsRetryableHTTP reports whether an HTTP transport error is worth another
// attempt: timeouts, temporary network failures, and connection resets.
// Application-level responses (4xx payloads already decoded by the caller)
// are not.
func IsRetryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}
