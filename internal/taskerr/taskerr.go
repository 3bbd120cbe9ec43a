// Package taskerr classifies task execution errors so the worker's retry
// decision is a function of error kind, not of message parsing.
package taskerr

import (
	"errors"
	"fmt"
)

// Kind buckets an execution error.
type Kind string

const (
	// Validation: payload or options violate invariants. Never retried.
	Validation Kind = "validation"
	// Transient: KV/transport/blob I/O failure. Retried under backoff.
	Transient Kind = "transient"
	// LockContention: a required lock is held elsewhere. Retried.
	LockContention Kind = "lock_contention"
	// Integrity: checksum mismatch or malformed durable record. Never retried.
	Integrity Kind = "integrity"
	// Timeout: handler exceeded the task timeout. Retried.
	Timeout Kind = "timeout"
)

// Error carries the classification alongside the cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the worker should put the task back under the
// backoff policy rather than failing it outright.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case Transient, LockContention, Timeout:
		return true
	}
	return false
}

// New wraps cause with a kind.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Newf wraps a formatted message with a kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// Fatal reports whether err is classified as non-retryable. Unclassified
// errors default to retryable (transient), matching at-least-once delivery.
func Fatal(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return !te.Retryable()
	}
	return false
}

// KindOf returns the classification of err, or Transient when unclassified.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Transient
}
