package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// IsRetryableError classifies whether a node error should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: validation errors, approval misuse, typed EngineErrors with
// non-retryable codes, and context.Canceled (the execution is shutting down).
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is a node-level timeout, not an execution shutdown.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var engineErr *schema.EngineError
	if errors.As(err, &engineErr) {
		return engineErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common transient failure patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable. The retry policy limits attempts.
	return true
}

// newBackoff builds the wait strategy for a node's retry policy.
// "exponential" doubles the delay per attempt up to max_delay; everything
// else (constant, none, unset) waits the fixed delay.
func newBackoff(policy *schema.RetryPolicy) backoff.BackOff {
	if policy == nil || policy.Delay == "" {
		return &backoff.ZeroBackOff{}
	}

	base, err := time.ParseDuration(policy.Delay)
	if err != nil || base < 0 {
		return &backoff.ZeroBackOff{}
	}

	switch policy.Backoff {
	case "exponential":
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.MaxInterval = 24 * time.Hour
		if policy.MaxDelay != "" {
			if maxDelay, parseErr := time.ParseDuration(policy.MaxDelay); parseErr == nil {
				b.MaxInterval = maxDelay
			}
		}
		b.Reset()
		return b
	default:
		return backoff.NewConstantBackOff(base)
	}
}

// retryPolicyFor resolves the effective retry policy of a node: the node's
// own policy when set, otherwise the workflow-level default budget.
func retryPolicyFor(def *schema.WorkflowDefinition, node *schema.Node) *schema.RetryPolicy {
	if node.Retry != nil {
		return node.Retry
	}
	if def.MaxRetries > 0 {
		return &schema.RetryPolicy{Max: def.MaxRetries}
	}
	return nil
}

// waitBackoff sleeps for the given delay or returns early when the context
// is cancelled.
func waitBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
