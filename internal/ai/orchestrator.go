package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/floegence/reposcout/internal/ai/artifact"
	"github.com/floegence/reposcout/internal/ai/events"
	"github.com/floegence/reposcout/internal/ai/tools"
	"github.com/floegence/reposcout/internal/metrics"
	"github.com/floegence/reposcout/internal/repo"
)

// Options wires an Orchestrator. Provider and Gateway are required.
type Options struct {
	Provider Provider
	Gateway  repo.Gateway
	Limits   tools.Limits
	Defaults SessionConfig

	// Sessions persists progress; nil disables persistence.
	Sessions SessionRepository
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	// Subscribers receive the events of every session.
	Subscribers []events.Subscriber
}

// Orchestrator runs analysis sessions. Each Analyze call is one independent
// session; concurrent calls share nothing but the injected collaborators.
type Orchestrator struct {
	provider Provider
	gateway  repo.Gateway
	limits   tools.Limits
	defaults SessionConfig
	sessions SessionRepository
	metrics  *metrics.Recorder
	log      *slog.Logger
	subs     []events.Subscriber
	now      func() time.Time
	newID    func() string
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, errors.New("missing model provider")
	}
	if opts.Gateway == nil {
		return nil, errors.New("missing repository gateway")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		provider: opts.Provider,
		gateway:  opts.Gateway,
		limits:   opts.Limits,
		defaults: opts.Defaults,
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		log:      log.With("component", "orchestrator"),
		subs:     append([]events.Subscriber(nil), opts.Subscribers...),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Analyze runs one session for item. Per-invocation fields of cfg override
// the orchestrator defaults; extra subscribers receive this session's events.
//
// A fatal failure returns an *Error together with a Result holding the stats
// gathered so far.
func (o *Orchestrator) Analyze(ctx context.Context, item WorkItem, cfg SessionConfig, subs ...events.Subscriber) (*Result, error) {
	if err := item.validate(); err != nil {
		return nil, err
	}
	cfg = o.mergeConfig(cfg)

	s := &Session{
		ID:        o.newID(),
		Item:      item,
		Config:    cfg,
		StartedAt: o.now(),
	}
	all := make([]events.Subscriber, 0, len(o.subs)+len(subs))
	all = append(all, o.subs...)
	all = append(all, subs...)
	emitter := events.NewEmitter(s.ID, all...)
	defer emitter.Close()

	r := &sessionRun{
		o:       o,
		s:       s,
		emitter: emitter,
		log:     o.log.With("session_id", s.ID, "repository", item.Repository.String()),
	}
	return r.run(ctx)
}

func (o *Orchestrator) mergeConfig(cfg SessionConfig) SessionConfig {
	d := o.defaults
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = d.Model
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = d.MaxOutputTokens
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = d.MaxIterations
	}
	if cfg.Temperature == nil {
		cfg.Temperature = d.Temperature
	}
	return cfg.withDefaults()
}

// sessionRun drives the loop for one session.
type sessionRun struct {
	o        *Orchestrator
	s        *Session
	executor *tools.Executor
	emitter  *events.Emitter
	log      *slog.Logger
	phase    events.Phase
}

func (r *sessionRun) transition(next events.Phase) {
	prev := r.phase
	if prev == next {
		return
	}
	r.phase = next
	r.emitter.Emit(events.PhaseChange(prev, next))
}

func (r *sessionRun) run(ctx context.Context) (*Result, error) {
	s := r.s
	r.transition(events.PhaseLoading)
	r.log.Info("session started", "model", s.Config.Model, "max_iterations", s.Config.MaxIterations)

	if repoStore := r.o.sessions; repoStore != nil {
		rec := SessionRecord{
			ID:         s.ID,
			Title:      strings.TrimSpace(s.Item.Title),
			Repository: s.Item.Repository.String(),
			Model:      s.Config.Model,
			StartedAt:  s.StartedAt,
		}
		if err := repoStore.CreateSession(ctx, rec); err != nil {
			r.log.Warn("session store create failed", "error", err)
		}
	}

	executor, err := tools.NewExecutor(tools.ExecutorOptions{
		Gateway: r.o.gateway,
		Ref:     s.Item.Repository,
		Limits:  r.o.limits,
		Logger:  r.log,
	})
	if err != nil {
		return r.fail(ctx, events.PhaseFailed, newError(ErrCodeInvalidRequest, err, "cannot prepare capability executor"))
	}
	r.executor = executor

	s.SystemPrompt = buildSystemPrompt(s.Item.Repository.String(), s.Config.MaxIterations)
	s.Conversation = []Message{textMessage("user", buildUserPrompt(s.Item))}
	defs := toolDefs()

	r.transition(events.PhaseRunning)
	for s.Iteration < s.Config.MaxIterations {
		// Cancellation is observed between iterations only.
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, events.PhaseFailed, newError(ErrCodeCanceled, err, "session canceled after %d iterations", s.Iteration))
		}
		s.Iteration++
		r.emitter.Emit(events.Progress(s.Iteration, s.Config.MaxIterations, len(s.Calls)))

		req := TurnRequest{
			Model:            s.Config.Model,
			Messages:         composeTurnMessages(s.SystemPrompt, s.Conversation),
			Tools:            defs,
			MaxOutputTokens:  s.Config.MaxOutputTokens,
			ProviderControls: ProviderControls{Temperature: s.Config.Temperature},
		}
		turn, err := r.o.provider.StreamTurn(ctx, req, r.onStreamEvent)
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(ctx, events.PhaseFailed, newError(ErrCodeCanceled, err, "session canceled during model call"))
			}
			return r.fail(ctx, events.PhaseFailed, newError(ErrCodeModel, err, "model call failed at iteration %d", s.Iteration))
		}
		s.InputTokens += turn.Usage.InputTokens
		s.OutputTokens += turn.Usage.OutputTokens
		r.o.metrics.ModelTokens(turn.Usage.InputTokens, turn.Usage.OutputTokens)
		r.log.Debug("model turn", "iteration", s.Iteration, "finish_reason", turn.FinishReason, "tool_calls", len(turn.ToolCalls))

		switch {
		case turn.FinishReason == FinishStop && len(turn.ToolCalls) == 0:
			return r.complete(ctx, turn.Text)
		case turn.FinishReason == FinishToolCalls && len(turn.ToolCalls) > 0:
			r.dispatchBatch(ctx, turn)
		default:
			return r.fail(ctx, events.PhaseFailed, newError(ErrCodeModelProtocol, nil,
				"unexpected finish reason %q with %d tool calls at iteration %d", turn.FinishReason, len(turn.ToolCalls), s.Iteration))
		}
	}
	return r.fail(ctx, events.PhaseExceeded, newError(ErrCodeIterationsExceeded, nil,
		"no final answer within the maximum of %d iterations", s.Config.MaxIterations))
}

func (r *sessionRun) onStreamEvent(ev StreamEvent) {
	switch ev.Type {
	case StreamEventTextDelta, StreamEventThinkingDelta:
		if ev.Text != "" {
			r.emitter.Emit(events.PartialReasoning(ev.Text))
		}
	}
}

// dispatchBatch executes the turn's calls in order and appends the assistant
// turn plus exactly one tool result per call to the conversation.
func (r *sessionRun) dispatchBatch(ctx context.Context, turn TurnResult) {
	s := r.s
	assistant := Message{Role: "assistant"}
	if txt := strings.TrimSpace(turn.Text); txt != "" {
		assistant.Content = append(assistant.Content, ContentPart{Type: PartText, Text: txt})
	}
	results := Message{Role: "tool"}

	for i, tc := range turn.ToolCalls {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", s.Iteration, i+1)
		}
		input, _ := json.Marshal(tc.Args)
		if tc.Args == nil {
			input = []byte("{}")
		}
		assistant.Content = append(assistant.Content, ContentPart{Type: PartToolCall, ToolCallID: id, ToolName: tc.Name, ArgsJSON: string(input)})

		r.emitter.Emit(events.ToolCallStarted(id, tc.Name, input))
		call := r.executor.Dispatch(ctx, id, tc.Name, tc.Args)
		s.Calls = append(s.Calls, call)

		status := "ok"
		errorCode := ""
		if call.Error != nil {
			errorCode = string(call.Error.Code)
			status = errorCode
			r.log.Info("capability failed", "iteration", s.Iteration, "capability", tc.Name, "code", errorCode, "error", call.Error.Message)
		}
		r.emitter.Emit(events.ToolCallFinished(id, tc.Name, call.Duration, call.OutputBytes, errorCode))
		r.o.metrics.CapabilityCall(tc.Name, status, call.Duration)
		if repoStore := r.o.sessions; repoStore != nil {
			if err := repoStore.AppendToolCall(ctx, s.ID, s.Iteration, call); err != nil {
				r.log.Warn("session store append failed", "error", err)
			}
		}

		results.Content = append(results.Content, ContentPart{
			Type:       PartToolResult,
			ToolCallID: id,
			ToolName:   tc.Name,
			Text:       call.ResultText(),
			IsError:    call.Error != nil,
		})
	}
	s.Conversation = append(s.Conversation, assistant, results)
}

func (r *sessionRun) complete(ctx context.Context, text string) (*Result, error) {
	s := r.s
	ex := artifact.Extract(text)
	switch {
	case !ex.Clean:
		r.o.metrics.ArtifactExtraction("degraded")
		r.log.Warn("artifact extraction degraded", "source", ex.Source, "error", ex.Err)
		r.emitter.Emit(events.Error("artifact_degraded", "final answer could not be parsed; returning a degraded artifact", false))
	case ex.Repaired:
		r.o.metrics.ArtifactExtraction("repaired")
		r.log.Info("artifact repaired", "source", ex.Source)
	default:
		r.o.metrics.ArtifactExtraction("clean")
	}

	for _, f := range ex.Artifact.ProposedFiles() {
		r.emitter.Emit(events.ArtifactDiscovered(f.Path, f.Action))
	}

	res := r.result(ex)
	r.emitter.Emit(events.FinalResult(res.Artifact, res.Stats.eventStats()))
	r.transition(events.PhaseCompleted)
	res.Phase = events.PhaseCompleted

	r.o.metrics.SessionFinished(string(events.PhaseCompleted), s.Iteration)
	r.finishStore(ctx, SessionOutcome{Phase: events.PhaseCompleted, Stats: res.Stats, Artifact: &res.Artifact})
	r.log.Info("session completed",
		"iterations", res.Stats.Iterations,
		"tool_calls", res.Stats.ToolCalls,
		"input_tokens", res.Stats.InputTokens,
		"output_tokens", res.Stats.OutputTokens,
		"artifact_clean", res.Stats.ArtifactClean,
		"duration", res.Stats.Duration,
	)
	return res, nil
}

func (r *sessionRun) fail(ctx context.Context, phase events.Phase, e *Error) (*Result, error) {
	s := r.s
	r.emitter.Emit(events.Error(string(e.Code), e.Error(), true))
	r.transition(phase)

	res := r.result(artifact.Result{Artifact: artifact.Default()})
	res.Phase = phase
	r.o.metrics.SessionFinished(string(phase), s.Iteration)
	// Persist the outcome even when ctx is done.
	r.finishStore(context.WithoutCancel(ctx), SessionOutcome{Phase: phase, Stats: res.Stats, ErrorCode: e.Code, Error: e.Error()})
	r.log.Error("session failed", "phase", phase, "code", e.Code, "iterations", s.Iteration, "error", e.Error())
	return res, e
}

func (r *sessionRun) result(ex artifact.Result) *Result {
	s := r.s
	calls := make([]tools.Call, len(s.Calls))
	copy(calls, s.Calls)
	return &Result{
		SessionID: s.ID,
		Artifact:  ex.Artifact,
		Stats: Stats{
			Iterations:       s.Iteration,
			ToolCalls:        len(s.Calls),
			InputTokens:      s.InputTokens,
			OutputTokens:     s.OutputTokens,
			Duration:         r.o.now().Sub(s.StartedAt),
			ArtifactClean:    ex.Clean,
			ArtifactRepaired: ex.Repaired,
			Model:            s.Config.Model,
		},
		ToolCalls: calls,
	}
}

func (r *sessionRun) finishStore(ctx context.Context, outcome SessionOutcome) {
	repoStore := r.o.sessions
	if repoStore == nil {
		return
	}
	outcome.FinishedAt = r.o.now()
	if err := repoStore.FinishSession(ctx, r.s.ID, outcome); err != nil {
		r.log.Warn("session store finish failed", "error", err)
	}
}

func composeTurnMessages(systemPrompt string, history []Message) []Message {
	out := make([]Message, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, textMessage("system", systemPrompt))
	}
	return append(out, history...)
}
