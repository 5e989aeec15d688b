// Package retry is the single place where gateway call retry policy lives.
// Adapters never retry internally.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// Policy describes bounded exponential backoff. An operation is attempted at
// most MaxRetries+1 times.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	MaxRetries int
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
		MaxRetries: 3,
	}
}

// Backoff returns the delay before the retry following the given zero-based
// attempt: min(base * multiplier^attempt, max) with ±10% jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if capped := float64(p.MaxDelay); delay > capped {
		delay = capped
	}
	jitter := delay * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(delay + jitter)
}

// RetryableError lets error types opt in to classification.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable classifies an error as transient. Timeouts, unreachable
// network, DNS failures and anything reporting Retryable()==true qualify;
// validation, auth and other client errors do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// Connection-level failures (refused, unreachable) satisfy net.Error
	// with Timeout()==false, so they must be classified first.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Do runs op with a per-attempt timeout, retrying transient failures until
// the policy is exhausted. A non-retryable error is surfaced after a single
// attempt. The last error is returned on exhaustion. Cancelling ctx stops
// the loop between attempts.
func Do[T any](ctx context.Context, p Policy, attemptTimeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		result, err := op(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == p.MaxRetries {
			return zero, err
		}
		// The parent being cancelled is not a transient gateway failure.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
