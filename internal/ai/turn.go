package ai

import (
	"context"
	"encoding/json"
)

// Provider runs one model turn and streams its progress through onEvent.
// onEvent may be nil.
type Provider interface {
	StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error)
}

type StreamEventType string

const (
	StreamEventTextDelta     StreamEventType = "text_delta"
	StreamEventThinkingDelta StreamEventType = "thinking_delta"
	// StreamEventToolCall fires once per call, after its arguments are complete.
	StreamEventToolCall StreamEventType = "tool_call"
	StreamEventUsage    StreamEventType = "usage"
)

type StreamEvent struct {
	Type  StreamEventType
	Text  string
	Call  *ToolCall
	Usage *TurnUsage
}

// Content part types.
const (
	PartText       = "text"
	PartToolCall   = "tool_call"
	PartToolResult = "tool_result"
)

// ContentPart is one element of a conversation message. Tool calls carry
// their arguments as raw JSON so they replay byte-for-byte.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ArgsJSON   string `json:"args_json,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message roles are system, user, assistant and tool.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

func textMessage(role string, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Type: PartText, Text: text}}}
}

type ProviderControls struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

type TurnRequest struct {
	Model            string           `json:"model"`
	Messages         []Message        `json:"messages"`
	Tools            []ToolDef        `json:"tools"`
	MaxOutputTokens  int              `json:"max_output_tokens,omitempty"`
	ProviderControls ProviderControls `json:"provider_controls,omitempty"`
}

// ToolDef advertises one capability to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type TurnUsage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

// Normalized finish reasons. The orchestrator only continues on FinishStop
// and FinishToolCalls.
const (
	FinishStop          = "stop"
	FinishToolCalls     = "tool_calls"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
	FinishError         = "error"
	FinishUnknown       = "unknown"
)

type TurnResult struct {
	FinishReason string     `json:"finish_reason"`
	Text         string     `json:"text,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        TurnUsage  `json:"usage,omitempty"`
	// ResponseID is the provider's id for the turn, for log correlation.
	ResponseID string `json:"response_id,omitempty"`
}
