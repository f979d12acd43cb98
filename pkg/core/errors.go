package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies sync-cycle failures for reporting and retry policy.
type ErrorKind string

const (
	ErrKindNone              ErrorKind = ""
	ErrKindConnection        ErrorKind = "connection"
	ErrKindIntrospection     ErrorKind = "introspection"
	ErrKindMalformedSnapshot ErrorKind = "malformed_snapshot"
	ErrKindApplyConflict     ErrorKind = "apply_conflict"
	ErrKindCanceled          ErrorKind = "canceled"
	ErrKindInvariant         ErrorKind = "invariant_violation"
)

// ConnectionError is a transient failure reaching a source
// (network, auth, timeout). The orchestrator retries these with backoff.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to source %s failed: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IntrospectionError is a non-transient failure: the source returned a
// structure the connector could not map. Never retried.
type IntrospectionError struct {
	Source string
	Detail string
	Err    error
}

func (e *IntrospectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("introspection of source %s failed: %s: %v", e.Source, e.Detail, e.Err)
	}
	return fmt.Sprintf("introspection of source %s failed: %s", e.Source, e.Detail)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }

// MalformedSnapshotError means a candidate tree failed validation before
// diffing. The pull is rejected wholesale; nothing is applied.
type MalformedSnapshotError struct {
	// Path is the qualified path of the offending entity.
	Path   string
	Reason string
}

func (e *MalformedSnapshotError) Error() string {
	return fmt.Sprintf("malformed snapshot at %s: %s", e.Path, e.Reason)
}

// ApplyConflictError means two appliers raced on the same source's sync
// cursor. The whole cycle must be retried against a fresh live view.
type ApplyConflictError struct {
	Source string
	Cursor int64
}

func (e *ApplyConflictError) Error() string {
	return fmt.Sprintf("apply conflict on source %s: sync cursor moved past %d", e.Source, e.Cursor)
}

// InvariantViolationError is defect-class: the diff or apply step produced a
// structurally invalid change-set. The cycle aborts loudly; never retried.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

// KindOf maps an error to its taxonomy kind. Context cancellation is an
// operator action, not a defect; everything else unrecognized is reported as
// an invariant violation so it surfaces loudly.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return ErrKindConnection
	}
	var introErr *IntrospectionError
	if errors.As(err, &introErr) {
		return ErrKindIntrospection
	}
	var malformedErr *MalformedSnapshotError
	if errors.As(err, &malformedErr) {
		return ErrKindMalformedSnapshot
	}
	var conflictErr *ApplyConflictError
	if errors.As(err, &conflictErr) {
		return ErrKindApplyConflict
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrKindCanceled
	}
	return ErrKindInvariant
}

// IsTransient reports whether the error may succeed on retry.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case ErrKindConnection, ErrKindApplyConflict:
		return true
	}
	return false
}
