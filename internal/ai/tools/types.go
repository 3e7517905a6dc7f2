package tools

import (
	"encoding/json"
	"strings"
	"time"
)

// ErrorCode is a stable, machine-readable capability error code.
type ErrorCode string

const (
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidArgs       ErrorCode = "INVALID_ARGS"
	ErrorCodeInvalidPath       ErrorCode = "INVALID_PATH"
	ErrorCodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	ErrorCodeAuth              ErrorCode = "AUTH"
	ErrorCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrorCodeUnavailable       ErrorCode = "UNAVAILABLE"
	ErrorCodeUnknownCapability ErrorCode = "UNKNOWN_CAPABILITY"
	ErrorCodeCanceled          ErrorCode = "CANCELED"
	ErrorCodeUnknown           ErrorCode = "UNKNOWN"
)

// ToolError carries structured capability failure metadata.
type ToolError struct {
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	Retryable      bool      `json:"retryable,omitempty"`
	SuggestedFixes []string  `json:"suggested_fixes,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ToolError) Normalize() {
	if e == nil {
		return
	}
	e.Message = strings.TrimSpace(e.Message)
	if e.Message == "" {
		e.Message = "Capability failed"
	}
	if e.Code == "" {
		e.Code = ErrorCodeUnknown
	}
	if len(e.SuggestedFixes) > 0 {
		out := make([]string, 0, len(e.SuggestedFixes))
		seen := make(map[string]struct{}, len(e.SuggestedFixes))
		for _, it := range e.SuggestedFixes {
			v := strings.TrimSpace(it)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
		e.SuggestedFixes = out
	}
	if len(e.SuggestedFixes) == 0 {
		e.SuggestedFixes = nil
	}
}

// Call is one dispatched capability invocation. Immutable once returned by Dispatch.
type Call struct {
	ID         string          `json:"id"`
	Capability Capability      `json:"capability"`
	Input      map[string]any  `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Error      *ToolError      `json:"error,omitempty"`

	// OutputBytes estimates the size of the result fed back to the model.
	OutputBytes int `json:"output_bytes,omitempty"`
}

func (c Call) Succeeded() bool { return c.Error == nil }

// ResultText renders the tool-result turn content for the model.
func (c Call) ResultText() string {
	if c.Error != nil {
		return "Error: " + c.Error.Message
	}
	if len(c.Output) == 0 {
		return "{}"
	}
	return string(c.Output)
}
