// Package events defines the progress events an analysis session publishes
// and the emitter that delivers them to subscribers.
package events

import (
	"encoding/json"
	"time"

	"github.com/floegence/reposcout/internal/ai/artifact"
)

// Type discriminates the event variants.
type Type string

const (
	TypePhaseChange        Type = "phase_change"
	TypeToolCallStarted    Type = "tool_call_started"
	TypeToolCallFinished   Type = "tool_call_finished"
	TypePartialReasoning   Type = "partial_reasoning"
	TypeProgress           Type = "progress"
	TypeArtifactDiscovered Type = "artifact_discovered"
	TypeFinalResult        Type = "final_result"
	TypeError              Type = "error"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseLoading   Phase = "loading"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseExceeded  Phase = "exceeded"
)

// Terminal reports whether no further transitions follow p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseExceeded
}

// Event is a single progress notification. Type selects which of the variant
// fields are set; the rest stay empty and are omitted on the wire.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`

	// phase_change
	Phase         Phase `json:"phase,omitempty"`
	PreviousPhase Phase `json:"previous_phase,omitempty"`

	// tool_call_started / tool_call_finished
	CallID      string          `json:"call_id,omitempty"`
	Capability  string          `json:"capability,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	OutputBytes int             `json:"output_bytes,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`

	// partial_reasoning
	Text string `json:"text,omitempty"`

	// progress
	Iteration     int `json:"iteration,omitempty"`
	MaxIterations int `json:"max_iterations,omitempty"`
	ToolCalls     int `json:"tool_calls,omitempty"`

	// artifact_discovered
	Path   string `json:"path,omitempty"`
	Action string `json:"action,omitempty"`

	// final_result
	Artifact *artifact.Artifact `json:"artifact,omitempty"`
	Stats    *ResultStats       `json:"stats,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// ResultStats summarizes a finished session.
type ResultStats struct {
	Iterations    int    `json:"iterations"`
	ToolCalls     int    `json:"tool_calls"`
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
	DurationMs    int64  `json:"duration_ms"`
	ArtifactClean bool   `json:"artifact_clean"`
	Model         string `json:"model,omitempty"`
}

func PhaseChange(prev, next Phase) Event {
	return Event{Type: TypePhaseChange, PreviousPhase: prev, Phase: next}
}

func ToolCallStarted(callID, capability string, input json.RawMessage) Event {
	return Event{Type: TypeToolCallStarted, CallID: callID, Capability: capability, Input: input}
}

// ToolCallFinished reports a completed capability call. errorCode is empty on success.
func ToolCallFinished(callID, capability string, d time.Duration, outputBytes int, errorCode string) Event {
	ok := errorCode == ""
	return Event{
		Type:        TypeToolCallFinished,
		CallID:      callID,
		Capability:  capability,
		Success:     &ok,
		DurationMs:  d.Milliseconds(),
		OutputBytes: outputBytes,
		ErrorCode:   errorCode,
	}
}

func PartialReasoning(text string) Event {
	return Event{Type: TypePartialReasoning, Text: text}
}

func Progress(iteration, maxIterations, toolCalls int) Event {
	return Event{Type: TypeProgress, Iteration: iteration, MaxIterations: maxIterations, ToolCalls: toolCalls}
}

func ArtifactDiscovered(path, action string) Event {
	return Event{Type: TypeArtifactDiscovered, Path: path, Action: action}
}

func FinalResult(a artifact.Artifact, stats ResultStats) Event {
	return Event{Type: TypeFinalResult, Artifact: &a, Stats: &stats}
}

func Error(code, message string, fatal bool) Event {
	return Event{Type: TypeError, Code: code, Message: message, Fatal: fatal}
}
