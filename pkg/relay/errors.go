// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
)

// ErrorKind classifies a failed relay operation so callers can branch on it
// without parsing messages.
type ErrorKind string

const (
	KindNotAuthenticated   ErrorKind = "not_authenticated"
	KindVerificationFailed ErrorKind = "verification_failed"
	KindTransport          ErrorKind = "transport_error"
	KindLoginFailed        ErrorKind = "login_failed"
	KindInvalidIdentity    ErrorKind = "invalid_identity"
	KindInvalidRule        ErrorKind = "invalid_rule"
)

// DetailNoPendingCode is the VerificationFailed detail returned when no code
// was requested, or the requested one was already redeemed.
const DetailNoPendingCode = "no pending code"

// Error is the error type returned by SessionManager, ForwardingController
// and Relay.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotAuthenticated   = &Error{Kind: KindNotAuthenticated}
	ErrVerificationFailed = &Error{Kind: KindVerificationFailed}
	ErrTransport          = &Error{Kind: KindTransport}
	ErrLoginFailed        = &Error{Kind: KindLoginFailed}
	ErrInvalidIdentity    = &Error{Kind: KindInvalidIdentity}
	ErrInvalidRule        = &Error{Kind: KindInvalidRule}
)

// ErrRejected is wrapped by Client implementations when the platform itself
// refused a request (wrong or expired code, rate limit, unknown chat). Any
// other client error is treated as a transport failure.
var ErrRejected = errors.New("rejected by platform")

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return string(e.Kind) + ": " + e.Detail
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Detail != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" if err is not a relay error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// platformError converts an error returned by a Client. Rejections become
// rejectKind, everything else is a transport error.
func platformError(rejectKind ErrorKind, err error) *Error {
	if errors.Is(err, ErrRejected) {
		return &Error{Kind: rejectKind, Detail: err.Error(), Err: err}
	}
	return transportError(err)
}

func transportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransport, Detail: "platform call timed out", Err: err}
	}
	return &Error{Kind: KindTransport, Detail: err.Error(), Err: err}
}
