package ai

import (
	"context"
	"strings"
	"time"

	"github.com/floegence/reposcout/internal/ai/artifact"
	"github.com/floegence/reposcout/internal/ai/events"
	"github.com/floegence/reposcout/internal/ai/tools"
	"github.com/floegence/reposcout/internal/repo"
)

// Session defaults, overridable per invocation.
const (
	DefaultModel           = "claude-sonnet-4-5"
	DefaultMaxOutputTokens = 16000
	DefaultMaxIterations   = 25
	DefaultTemperature     = 0.2
)

// WorkItem is the task a session analyzes.
type WorkItem struct {
	Title              string   `json:"title" yaml:"title"`
	Description        string   `json:"description,omitempty" yaml:"description"`
	Type               string   `json:"type,omitempty" yaml:"type"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria"`
	Repository         repo.Ref `json:"repository" yaml:"repository"`
	Context            string   `json:"context,omitempty" yaml:"context"`
}

func (w WorkItem) validate() error {
	if strings.TrimSpace(w.Title) == "" && strings.TrimSpace(w.Description) == "" {
		return newError(ErrCodeInvalidRequest, nil, "work item needs a title or description")
	}
	if strings.TrimSpace(w.Repository.Owner) == "" || strings.TrimSpace(w.Repository.Repo) == "" {
		return newError(ErrCodeInvalidRequest, nil, "work item repository must be owner/repo")
	}
	return nil
}

// SessionConfig is the per-invocation configuration surface. Zero values take the defaults.
type SessionConfig struct {
	Model           string   `json:"model,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	MaxIterations   int      `json:"max_iterations,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

func (c SessionConfig) withDefaults() SessionConfig {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	return c
}

// Session is the mutable state of one loop run. Owned by the orchestrator.
type Session struct {
	ID           string
	Item         WorkItem
	Config       SessionConfig
	SystemPrompt string
	Conversation []Message
	Iteration    int
	InputTokens  int64
	OutputTokens int64
	StartedAt    time.Time
	Calls        []tools.Call
}

// Stats summarizes a session for callers, logs and metrics.
type Stats struct {
	Iterations       int           `json:"iterations" yaml:"iterations"`
	ToolCalls        int           `json:"tool_calls" yaml:"tool_calls"`
	InputTokens      int64         `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens     int64         `json:"output_tokens" yaml:"output_tokens"`
	Duration         time.Duration `json:"duration" yaml:"duration"`
	ArtifactClean    bool          `json:"artifact_clean" yaml:"artifact_clean"`
	ArtifactRepaired bool          `json:"artifact_repaired" yaml:"artifact_repaired"`
	Model            string        `json:"model" yaml:"model"`
}

func (s Stats) eventStats() events.ResultStats {
	return events.ResultStats{
		Iterations:    s.Iterations,
		ToolCalls:     s.ToolCalls,
		InputTokens:   s.InputTokens,
		OutputTokens:  s.OutputTokens,
		DurationMs:    s.Duration.Milliseconds(),
		ArtifactClean: s.ArtifactClean,
		Model:         s.Model,
	}
}

// Result is what a session returns. On failure it still carries the stats and
// the capability log gathered so far.
type Result struct {
	SessionID string            `json:"session_id" yaml:"session_id"`
	Phase     events.Phase      `json:"phase" yaml:"phase"`
	Artifact  artifact.Artifact `json:"artifact" yaml:"artifact"`
	Stats     Stats             `json:"stats" yaml:"stats"`
	ToolCalls []tools.Call      `json:"tool_calls" yaml:"-"`
}

// SessionRecord describes a session when it starts.
type SessionRecord struct {
	ID         string
	Title      string
	Repository string
	Model      string
	StartedAt  time.Time
}

// SessionOutcome describes how a session ended.
type SessionOutcome struct {
	Phase      events.Phase
	Stats      Stats
	Artifact   *artifact.Artifact
	ErrorCode  ErrorCode
	Error      string
	FinishedAt time.Time
}

// SessionRepository persists session progress. Implementations must be safe
// for concurrent sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, rec SessionRecord) error
	AppendToolCall(ctx context.Context, sessionID string, iteration int, call tools.Call) error
	FinishSession(ctx context.Context, sessionID string, outcome SessionOutcome) error
}
