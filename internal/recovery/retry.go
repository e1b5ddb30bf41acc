package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind tags an error for the orchestrator to branch on. Transient errors are
// retried with backoff; fatal errors fail the deployment immediately.
type Kind int

const (
	KindFatal Kind = iota
	KindTransient
	KindPermission
)

type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Tag wraps err with an explicit kind, overriding pattern classification.
func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// transientPatterns are the infrastructure failure modes worth retrying:
// network flakes, resolver hiccups, busy filesystems.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"i/o timeout",
	"temporary failure in name resolution",
	"could not resolve host",
	"no such host",
	"socket hang up",
	"resource busy",
	"device or resource busy",
	"directory not empty",
	"text file busy",
	"try again",
}

var permissionPatterns = []string{
	"permission denied",
	"operation not permitted",
	"eacces",
}

// Classify returns the error kind, honouring explicit tags first and falling
// back to message pattern matching.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}

	msg := strings.ToLower(err.Error())
	for _, p := range permissionPatterns {
		if strings.Contains(msg, p) {
			return KindPermission
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return KindTransient
		}
	}
	return KindFatal
}

// IsRetryable reports whether the auto-recovery loop should try again.
// Permission errors count: the caller gets a chance to repair ownership
// before the next attempt.
func IsRetryable(err error) bool {
	k := Classify(err)
	return k == KindTransient || k == KindPermission
}

// Retry runs fn up to attempts times with exponential backoff (base, 2*base,
// 4*base, ...). Non-retryable errors abort immediately. onRetry, when
// non-nil, runs before each re-attempt and receives the failed attempt's
// error. The cache-ownership repair hangs off this hook.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error, onRetry func(attempt int, err error)) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || !IsRetryable(lastErr) {
			break
		}
		if onRetry != nil {
			onRetry(attempt, lastErr)
		}

		delay := base << (attempt - 1)
		select {
		case <-ctx.Done():
			return fmt.Errorf("recovery: aborted while backing off: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}
