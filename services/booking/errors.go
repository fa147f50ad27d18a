package booking

import (
	"errors"
	"fmt"
)

// Error codes returned to clients.
const (
	CodeUnauthorized            = "unauthorized"
	CodeNotFound                = "not_found"
	CodeInvalidTransition       = "invalid_transition"
	CodeConflict                = "conflict"
	CodeValidation              = "validation"
	CodePaymentPartialFailure   = "payment_partial_failure"
	CodePaymentRequired         = "payment_required"
	CodeAlreadyAuthorized       = "already_authorized"
	CodeGatewayUnavailable      = "gateway_unavailable"
	CodeInvalidWebhookSignature = "invalid_webhook_signature"
)

// Error is a lifecycle failure with a stable code. Two errors match under
// errors.Is when their codes are equal, so the exported sentinels can be
// used as targets.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthorized            = &Error{Code: CodeUnauthorized, Message: "principal may not perform this action"}
	ErrNotFound                = &Error{Code: CodeNotFound, Message: "booking not found"}
	ErrInvalidTransition       = &Error{Code: CodeInvalidTransition, Message: "transition not allowed"}
	ErrConflict                = &Error{Code: CodeConflict, Message: "booking was modified concurrently"}
	ErrValidation              = &Error{Code: CodeValidation, Message: "invalid request"}
	ErrPaymentPartialFailure   = &Error{Code: CodePaymentPartialFailure, Message: "booking completed but payment was not captured"}
	ErrPaymentRequired         = &Error{Code: CodePaymentRequired, Message: "booking completed without a payment hold"}
	ErrAlreadyAuthorized       = &Error{Code: CodeAlreadyAuthorized, Message: "payment hold already exists"}
	ErrGatewayUnavailable      = &Error{Code: CodeGatewayUnavailable, Message: "payment gateway unavailable"}
	ErrInvalidWebhookSignature = &Error{Code: CodeInvalidWebhookSignature, Message: "webhook signature verification failed"}
)

func newError(kind *Error, format string, args ...interface{}) *Error {
	return &Error{Code: kind.Code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind *Error, err error, format string, args ...interface{}) *Error {
	return &Error{Code: kind.Code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of a lifecycle error or "" for anything else.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsPartialSuccess reports errors that accompany a committed booking: the
// caller should return the booking together with the error.
func IsPartialSuccess(err error) bool {
	return errors.Is(err, ErrPaymentPartialFailure) || errors.Is(err, ErrPaymentRequired)
}
