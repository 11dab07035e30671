// Package apperr defines the error kinds shared by the session manager, the
// booking controller and the transition orchestrator.  Callers branch on
// KindOf(err) instead of matching strings; the wrapped cause stays reachable
// through errors.Is and errors.As.
package apperr

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration is a missing or invalid secret.  Startup only.
	KindConfiguration
	// KindInvalidIdentity is a device token that failed to decode.
	KindInvalidIdentity
	KindSessionNotFound
	KindDeviceMismatch
	KindSessionExpired
	// KindRotationFailed means the handle could not be replaced; the caller
	// must treat the request as unauthenticated.
	KindRotationFailed
	KindConcurrencyBlocked
	KindConfirmRequired
	KindConcurrencyRace
	KindTransient
	KindDataIntegrity
	KindNotFound
	KindInvalidTransition
	KindConflict
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindConfiguration:      "configuration",
	KindInvalidIdentity:    "invalid_identity",
	KindSessionNotFound:    "session_not_found",
	KindDeviceMismatch:     "device_mismatch",
	KindSessionExpired:     "session_expired",
	KindRotationFailed:     "rotation_failed",
	KindConcurrencyBlocked: "concurrency_blocked",
	KindConfirmRequired:    "confirm_required",
	KindConcurrencyRace:    "retry",
	KindTransient:          "transient",
	KindDataIntegrity:      "data_integrity",
	KindNotFound:           "not_found",
	KindInvalidTransition:  "invalid_transition",
	KindConflict:           "conflict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is a classified failure.  Op names the operation that failed
// (e.g. "session.login"); Detail is a human readable reason safe to show an
// operator.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error without a cause.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap builds an *Error around err.  A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStore classifies an I/O error from Postgres or Redis.  Timeouts,
// cancellations and dropped connections become KindTransient; anything
// else keeps its cause under KindUnknown so it propagates as an opaque
// fault.  Errors that are already classified pass through untouched.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if transient(err) {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	return &Error{Kind: KindUnknown, Op: op, Err: err}
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "pool timeout") ||
		strings.Contains(msg, "i/o timeout")
}
