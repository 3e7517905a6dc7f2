package auditlog

import (
	"time"

	"github.com/floegence/reposcout/internal/ai/events"
)

// Audit actions.
const (
	ActionSessionStarted  = "session_started"
	ActionCapabilityCall  = "capability_call"
	ActionSessionWarning  = "session_warning"
	ActionSessionFinished = "session_finished"
	ActionSessionFailed   = "session_failed"
)

var _ events.Subscriber = (*Store)(nil)

// trail holds what a session reported before its closing phase change.
type trail struct {
	stats map[string]any
	fatal *events.Event
}

// HandleEvent turns lifecycle events into audit entries. Reasoning, progress
// and call starts are not audited. Final stats and fatal errors are folded
// into the closing entry of their session.
func (s *Store) HandleEvent(ev events.Event) {
	if s == nil {
		return
	}
	e := Entry{SessionID: ev.SessionID}
	if !ev.Timestamp.IsZero() {
		e.CreatedAt = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	switch ev.Type {
	case events.TypeFinalResult:
		if ev.Stats != nil {
			s.remember(ev.SessionID, func(t *trail) { t.stats = statsDetail(*ev.Stats) })
		}
		return
	case events.TypeError:
		if ev.Fatal {
			s.remember(ev.SessionID, func(t *trail) { t.fatal = &ev })
			return
		}
		e.Action = ActionSessionWarning
		e.Error = ev.Message
		e.Detail = map[string]any{"code": ev.Code}
	case events.TypeToolCallFinished:
		e.Action = ActionCapabilityCall
		e.Capability = ev.Capability
		e.CallID = ev.CallID
		if ev.Success != nil && !*ev.Success {
			e.Status = "failure"
			e.Error = ev.ErrorCode
		}
		e.Detail = map[string]any{"duration_ms": ev.DurationMs, "output_bytes": ev.OutputBytes}
	case events.TypePhaseChange:
		if !s.phaseEntry(ev, &e) {
			return
		}
	default:
		return
	}
	s.Append(e)
}

func (s *Store) phaseEntry(ev events.Event, e *Entry) bool {
	e.Phase = string(ev.Phase)
	switch ev.Phase {
	case events.PhaseLoading:
		e.Action = ActionSessionStarted
	case events.PhaseCompleted:
		e.Action = ActionSessionFinished
		if t := s.forget(ev.SessionID); t != nil {
			e.Detail = t.stats
		}
	case events.PhaseFailed, events.PhaseExceeded:
		e.Action = ActionSessionFailed
		e.Status = "failure"
		if t := s.forget(ev.SessionID); t != nil && t.fatal != nil {
			e.Error = t.fatal.Message
			e.Detail = map[string]any{"code": t.fatal.Code}
		}
	default:
		return false
	}
	return true
}

func (s *Store) remember(sessionID string, fn func(*trail)) {
	s.trailsMu.Lock()
	defer s.trailsMu.Unlock()
	t := s.trails[sessionID]
	if t == nil {
		t = &trail{}
		s.trails[sessionID] = t
	}
	fn(t)
}

func (s *Store) forget(sessionID string) *trail {
	s.trailsMu.Lock()
	defer s.trailsMu.Unlock()
	t := s.trails[sessionID]
	delete(s.trails, sessionID)
	return t
}

func statsDetail(st events.ResultStats) map[string]any {
	return map[string]any{
		"iterations":     st.Iterations,
		"tool_calls":     st.ToolCalls,
		"input_tokens":   st.InputTokens,
		"output_tokens":  st.OutputTokens,
		"duration_ms":    st.DurationMs,
		"artifact_clean": st.ArtifactClean,
		"model":          st.Model,
	}
}
