// Package apperr defines the error taxonomy shared by the fulfillment core.
//
// Every error carries a Code. Sentinels such as ErrNotFound match any error with
// the same code through errors.Is, so callers never compare messages.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and for the HTTP layer.
type Code string

const (
	CodeResourceExhausted     Code = "RESOURCE_EXHAUSTED"
	CodeLockAcquisitionFailed Code = "LOCK_ACQUISITION_FAILED"
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeNotFound              Code = "NOT_FOUND"
	CodeInsufficientStock     Code = "INSUFFICIENT_STOCK"
	CodeDuplicatePayment      Code = "DUPLICATE_PAYMENT"
	CodeGateway               Code = "GATEWAY_ERROR"
	CodePersistence           Code = "PERSISTENCE_ERROR"
)

// Error is a coded application error with an optional cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrResourceExhausted     = &Error{Code: CodeResourceExhausted, Message: "resource exhausted"}
	ErrLockAcquisitionFailed = &Error{Code: CodeLockAcquisitionFailed, Message: "lock acquisition failed"}
	ErrValidation            = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInsufficientStock     = &Error{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrDuplicatePayment      = &Error{Code: CodeDuplicatePayment, Message: "duplicate payment"}
	ErrGateway               = &Error{Code: CodeGateway, Message: "gateway error"}
	ErrPersistence           = &Error{Code: CodePersistence, Message: "persistence error"}
)

func newf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

func ResourceExhausted(format string, args ...any) *Error {
	return newf(CodeResourceExhausted, nil, format, args...)
}

func LockAcquisitionFailed(cause error, format string, args ...any) *Error {
	return newf(CodeLockAcquisitionFailed, cause, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newf(CodeValidation, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(CodeNotFound, nil, format, args...)
}

func InsufficientStock(format string, args ...any) *Error {
	return newf(CodeInsufficientStock, nil, format, args...)
}

func DuplicatePayment(format string, args ...any) *Error {
	return newf(CodeDuplicatePayment, nil, format, args...)
}

// Gateway wraps an adapter failure.
func Gateway(cause error, format string, args ...any) *Error {
	return newf(CodeGateway, cause, format, args...)
}

// Persistence wraps a store I/O failure.
func Persistence(cause error, format string, args ...any) *Error {
	return newf(CodePersistence, cause, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
