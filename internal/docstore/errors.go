package docstore

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can tell them apart without parsing
// messages.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindInvalidArgument    Kind = "invalid_argument"
	KindNotFound           Kind = "not_found"
	KindPermissionDenied   Kind = "permission_denied"
	KindPolicyRejected     Kind = "policy_rejected"
	KindNetworkUnavailable Kind = "network_unavailable"
	KindTimeout            Kind = "timeout"
	KindCanceled           Kind = "canceled"
	KindBatchTooLarge      Kind = "batch_too_large"
	KindDecode             Kind = "decode"
	KindBackend            Kind = "backend"
)

// Retryable reports whether the same call may succeed later.
func (k Kind) Retryable() bool {
	return k == KindNetworkUnavailable || k == KindTimeout
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the bare sentinels below by kind, so
// errors.Is(err, ErrPermissionDenied) works on any wrapped *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrPolicyRejected     = &Error{Kind: KindPolicyRejected}
	ErrNetworkUnavailable = &Error{Kind: KindNetworkUnavailable}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrBatchTooLarge      = &Error{Kind: KindBatchTooLarge}
	ErrDecode             = &Error{Kind: KindDecode}
)

func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err. Untyped errors are classified as backend
// failures, except context errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindBackend
}

// wrap attaches op to an error coming back from a backend. Typed errors
// pass through untouched.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
