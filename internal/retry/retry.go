// Package retry wraps network operations with exponential backoff.
//
// An operation is attempted up to MaxRetries+1 times. Errors that report
// Retryable() == false (4xx responses) and errors that are not network
// errors are returned immediately; the rest are retried after
// InitialDelay * 2^attempt.
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"
)

// Policy configures retries.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// selects the default; use NoRetries for a single attempt.
	// Default: 4
	MaxRetries int

	// InitialDelay is the delay before the first retry; it doubles each time.
	// Default: 2s
	InitialDelay time.Duration

	// Sleep waits between attempts. Tests replace it with a fake clock.
	// Default: a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger receives one message per retry.
	Logger *slog.Logger
}

// NoRetries as MaxRetries makes a single attempt.
const NoRetries = -1

// DefaultPolicy returns the default policy (delays 2s, 4s, 8s, 16s).
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   4,
		InitialDelay: 2 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	switch {
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	case p.MaxRetries == 0:
		p.MaxRetries = 4
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 2 * time.Second
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.InitialDelay * time.Duration(1<<uint(attempt))
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, label string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			return zero, err
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt)
		p.Logger.Warn("Retrying after error",
			slog.String("op", label),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		if err := p.Sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}

	p.Logger.Error("Giving up", slog.String("op", label), slog.Int("attempts", p.MaxRetries+1), slog.Any("error", lastErr))
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, label string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// IsRetryable reports whether err is a transient network condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
