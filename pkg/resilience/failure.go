// Package resilience provides failure classification and retrying execution
// for marketplace and network operations. Failures carry a kind that drives
// the backoff schedule; exhausted retries surface as a terminal Failure with
// the attempt count attached.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// FailureKind classifies why an operation failed.
type FailureKind string

const (
	// FailureTimeout is a request that exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureRateLimited means the remote is throttling the caller.
	FailureRateLimited FailureKind = "rate_limited"
	// FailureServerUnavailable covers 5xx-style remote outages.
	FailureServerUnavailable FailureKind = "server_unavailable"
	// FailureConnection covers refused/reset/unreachable transport errors.
	FailureConnection FailureKind = "connection_error"
	// FailureTransient is any other retryable I/O failure.
	FailureTransient FailureKind = "transient"
	// FailureFatal is non-retryable (malformed request, rejected credentials).
	FailureFatal FailureKind = "fatal"
	// FailureCancelled means the caller's context was cancelled. Distinct
	// from Fatal so callers can tell a stopped run from a broken one.
	FailureCancelled FailureKind = "cancelled"
)

// Retryable reports whether another attempt can be made for this kind.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureFatal, FailureCancelled:
		return false
	default:
		return true
	}
}

// Failure is a classified operation failure.
type Failure struct {
	Kind     FailureKind
	Op       string
	Attempts int
	// RetryAfter is a server-supplied wait hint (e.g. a Retry-After header).
	// Zero means no hint.
	RetryAfter time.Duration
	Err        error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure creates a classified failure for an operation.
func NewFailure(kind FailureKind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err}
}

// WithRetryAfter attaches a server-supplied wait hint.
func (f *Failure) WithRetryAfter(d time.Duration) *Failure {
	f.RetryAfter = d
	return f
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the failure kind of an error, classifying plain transport
// errors when the error is not already a *Failure.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return FailureConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnection
	}
	return FailureTransient
}

// classify normalizes any error into a *Failure for the given operation.
func classify(op string, err error) *Failure {
	if f, ok := AsFailure(err); ok {
		if f.Op == "" {
			f.Op = op
		}
		return f
	}
	return NewFailure(KindOf(err), op, err)
}
