package ai

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable classification of a fatal session error.
type ErrorCode string

const (
	ErrCodeModelProtocol      ErrorCode = "model_protocol"
	ErrCodeIterationsExceeded ErrorCode = "iterations_exceeded"
	ErrCodeModel              ErrorCode = "model_error"
	ErrCodeCanceled           ErrorCode = "canceled"
	ErrCodeInvalidRequest     ErrorCode = "invalid_request"
)

// Error is the single classified error a failed session returns.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf returns the classification of err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}
