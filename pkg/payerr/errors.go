// Package payerr defines the error taxonomy shared by every payment component.
package payerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a payment error so callers can react without parsing messages
type Kind string

const (
	KindProviderUnavailable    Kind = "provider_unavailable"
	KindUserRejected           Kind = "user_rejected"
	KindValidation             Kind = "validation_error"
	KindBackend                Kind = "backend_error"
	KindNetwork                Kind = "network_error"
	KindTransactionFailed      Kind = "transaction_failed"
	KindConfirmationTimeout    Kind = "confirmation_timeout"
	KindVerificationMismatch   Kind = "verification_mismatch"
	KindInvalidState           Kind = "invalid_state"
	KindInvalidStateTransition Kind = "invalid_state_transition"
)

// Error is a payment error with enough detail to display without inferring the cause
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Code != "" {
		prefix = fmt.Sprintf("%s(%s)", e.Kind, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrProviderUnavailable    = &Error{Kind: KindProviderUnavailable, Message: "wallet provider unavailable"}
	ErrUserRejected           = &Error{Kind: KindUserRejected, Message: "request rejected by user"}
	ErrValidation             = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrBackend                = &Error{Kind: KindBackend, Message: "backend error"}
	ErrNetwork                = &Error{Kind: KindNetwork, Message: "network error"}
	ErrTransactionFailed      = &Error{Kind: KindTransactionFailed, Message: "transaction failed on-chain"}
	ErrConfirmationTimeout    = &Error{Kind: KindConfirmationTimeout, Message: "confirmation timed out"}
	ErrVerificationMismatch   = &Error{Kind: KindVerificationMismatch, Message: "verification mismatch"}
	ErrInvalidState           = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition, Message: "invalid state transition"}
)

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Backend creates a BackendError(code, message)
func Backend(code, message string) *Error {
	return &Error{Kind: KindBackend, Code: code, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Ensure returns err unchanged when it already carries a kind, and wraps it as kind otherwise.
// Context cancellation is passed through untouched.
func Ensure(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if KindOf(err) != "" {
		return err
	}
	return Wrap(kind, err, format, args...)
}
