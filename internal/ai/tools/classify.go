package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/floegence/reposcout/internal/repo"
)

// invalidArgsError marks argument validation failures raised by the executor.
type invalidArgsError struct{ msg string }

func (e *invalidArgsError) Error() string { return e.msg }

func invalidArgs(msg string) error { return &invalidArgsError{msg: msg} }

// ClassifyError converts a capability failure into a ToolError for the model.
func ClassifyError(c Capability, err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) && te != nil {
		out := *te
		out.Normalize()
		return &out
	}

	msg := strings.TrimSpace(err.Error())
	out := &ToolError{Code: ErrorCodeUnknown, Message: msg}

	var unknown *UnknownCapabilityError
	var bad *invalidArgsError
	switch {
	case errors.As(err, &unknown):
		out.Code = ErrorCodeUnknownCapability
		out.SuggestedFixes = []string{"Use one of: list_directory, read_file, search_code, get_imports_exports."}
	case errors.As(err, &bad):
		out.Code = ErrorCodeInvalidArgs
		out.Retryable = true
		out.SuggestedFixes = []string{"Check the argument names and types against the capability schema."}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Code = ErrorCodeCanceled
	default:
		switch repo.KindOf(err) {
		case repo.KindNotFound:
			out.Code = ErrorCodeNotFound
			out.SuggestedFixes = []string{"Verify the path exists.", "Call list_directory on the parent directory first."}
		case repo.KindAuth:
			out.Code = ErrorCodeAuth
		case repo.KindAccessDenied:
			out.Code = ErrorCodePermissionDenied
		case repo.KindRateLimited:
			out.Code = ErrorCodeRateLimited
			out.Retryable = true
			out.SuggestedFixes = []string{"Prefer reading files you already know about over new searches."}
		case repo.KindUnavailable:
			out.Code = ErrorCodeUnavailable
			out.Retryable = true
		}
	}
	if out.Code == ErrorCodeUnknown && strings.Contains(strings.ToLower(msg), "not found") {
		out.Code = ErrorCodeNotFound
	}
	out.Normalize()
	return out
}
