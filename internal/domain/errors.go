package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound            = errors.New("campaign not found")
	ErrClaimNotFound       = errors.New("claim not found")
	ErrInvalidState        = errors.New("campaign is not accepting claims")
	ErrContentionExhausted = errors.New("issuance contention retry budget exhausted")
	ErrOverload            = errors.New("too many concurrent claims for campaign")
	ErrTimeout             = errors.New("deadline exceeded waiting for issuance")
	ErrUnavailable         = errors.New("storage unavailable")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrIneligible          = errors.New("requester is not eligible for campaign")
)

// Stable error codes shared by the HTTP body, the Kafka reply payload and the
// audit log.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeClaimNotFound       = "CLAIM_NOT_FOUND"
	CodeInvalidState        = "INVALID_STATE"
	CodeContentionExhausted = "CONTENTION_EXHAUSTED"
	CodeOverload            = "OVERLOAD"
	CodeTimeout             = "TIMEOUT"
	CodeUnavailable         = "UNAVAILABLE"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeIneligible          = "INELIGIBLE"
	CodeInternal            = "INTERNAL_ERROR"
)

var codeByErr = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrClaimNotFound, CodeClaimNotFound},
	{ErrInvalidState, CodeInvalidState},
	{ErrContentionExhausted, CodeContentionExhausted},
	{ErrOverload, CodeOverload},
	{ErrTimeout, CodeTimeout},
	{ErrUnavailable, CodeUnavailable},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrIneligible, CodeIneligible},
}

func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range codeByErr {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// ErrorFromCode is the inverse of ErrorCode. Unknown codes yield nil.
func ErrorFromCode(code string) error {
	for _, e := range codeByErr {
		if e.code == code {
			return e.err
		}
	}
	return nil
}

// Retryable reports whether the caller may resubmit the same request after
// backing off.
func Retryable(err error) bool {
	return errors.Is(err, ErrContentionExhausted) ||
		errors.Is(err, ErrOverload) ||
		errors.Is(err, ErrTimeout)
}
