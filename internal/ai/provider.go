package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

// Provider types.
const (
	ProviderAnthropic        = "anthropic"
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai_compatible"
)

// ProviderConfig selects and authenticates a model provider.
type ProviderConfig struct {
	Type    string
	BaseURL string
	APIKey  string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewProvider builds the adapter for cfg.Type.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.APIKey == "" {
		return nil, errors.New("missing provider api key")
	}
	switch cfg.Type {
	case ProviderAnthropic:
		return newAnthropicProvider(cfg), nil
	case ProviderOpenAI, ProviderOpenAICompatible:
		return newOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}

func newAnthropicProvider(cfg ProviderConfig) *anthropicProvider {
	opts := []aoption.RequestOption{aoption.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, aoption.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, aoption.WithHTTPClient(cfg.HTTPClient))
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...)}
}

func newOpenAIProvider(cfg ProviderConfig) *openAIProvider {
	opts := []ooption.RequestOption{ooption.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, ooption.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, ooption.WithHTTPClient(cfg.HTTPClient))
	}
	return &openAIProvider{
		client:           openai.NewClient(opts...),
		strictToolSchema: shouldUseStrictOpenAIToolSchema(cfg.Type, cfg.BaseURL),
	}
}

func validateTurn(req TurnRequest) error {
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("missing model")
	}
	return nil
}

// toolAliases maps the provider-safe tool name back to the capability name.
type toolAliases map[string]string

func (a toolAliases) resolve(name string) string {
	name = strings.TrimSpace(name)
	if capability, ok := a[name]; ok {
		return capability
	}
	return name
}

// pendingCall is a tool call whose arguments are still streaming in.
type pendingCall struct {
	id    string
	name  string
	order int64
	args  strings.Builder
	done  bool
	call  ToolCall
}

// callAccumulator collects streamed tool calls keyed by the provider's block
// or item id, and reports each call once its arguments are complete.
type callAccumulator struct {
	aliases toolAliases
	onEvent func(StreamEvent)
	pending map[string]*pendingCall
	seen    map[string]bool
	fresh   int
	extra   []ToolCall
}

func newCallAccumulator(aliases toolAliases, onEvent func(StreamEvent)) *callAccumulator {
	return &callAccumulator{aliases: aliases, onEvent: onEvent, pending: map[string]*pendingCall{}, seen: map[string]bool{}}
}

// open returns the pending call for key, creating it at position order.
func (a *callAccumulator) open(key string, order int64) *pendingCall {
	if pc := a.pending[key]; pc != nil {
		return pc
	}
	pc := &pendingCall{id: key, order: order}
	a.pending[key] = pc
	return pc
}

func (a *callAccumulator) get(key string) *pendingCall {
	return a.pending[key]
}

func (a *callAccumulator) name(pc *pendingCall, providerName string) {
	if n := a.aliases.resolve(providerName); n != "" {
		pc.name = n
	}
}

// close finalizes pc. Malformed argument JSON yields empty args; the
// executor reports the missing fields back to the model.
func (a *callAccumulator) close(pc *pendingCall) {
	if pc == nil || pc.done {
		return
	}
	pc.done = true
	if pc.id == "" {
		a.fresh++
		pc.id = fmt.Sprintf("call_%d", a.fresh)
	}
	pc.call = ToolCall{ID: pc.id, Name: pc.name, Args: decodeArgs(pc.args.String())}
	a.seen[pc.id] = true
	a.emit(pc.call)
}

// recover adds a call found only in the provider's final message.
func (a *callAccumulator) recover(id, providerName, rawArgs string) {
	id = strings.TrimSpace(id)
	if id == "" {
		a.fresh++
		id = fmt.Sprintf("call_recovered_%d", a.fresh)
	}
	if a.seen[id] {
		return
	}
	a.seen[id] = true
	call := ToolCall{ID: id, Name: a.aliases.resolve(providerName), Args: decodeArgs(rawArgs)}
	a.extra = append(a.extra, call)
	a.emit(call)
}

func (a *callAccumulator) emit(call ToolCall) {
	if a.onEvent != nil {
		c := call
		a.onEvent(StreamEvent{Type: StreamEventToolCall, Call: &c})
	}
}

// calls returns completed calls in stream order followed by recovered ones.
func (a *callAccumulator) calls() []ToolCall {
	done := make([]*pendingCall, 0, len(a.pending))
	for _, pc := range a.pending {
		if pc.done {
			done = append(done, pc)
		}
	}
	sort.SliceStable(done, func(i, j int) bool {
		if done[i].order != done[j].order {
			return done[i].order < done[j].order
		}
		return done[i].id < done[j].id
	})
	out := make([]ToolCall, 0, len(done)+len(a.extra))
	for _, pc := range done {
		out = append(out, pc.call)
	}
	return append(out, a.extra...)
}

func decodeArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw = strings.TrimSpace(raw); raw != "" {
		_ = json.Unmarshal([]byte(raw), &args)
	}
	return args
}

// finishTurn applies the tool-call override and reports usage.
func finishTurn(res TurnResult, onEvent func(StreamEvent)) TurnResult {
	if len(res.ToolCalls) > 0 {
		res.FinishReason = FinishToolCalls
	}
	if onEvent != nil {
		u := res.Usage
		onEvent(StreamEvent{Type: StreamEventUsage, Usage: &u})
	}
	return res
}

// splitSystem separates system text from the rest of the conversation.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if strings.EqualFold(strings.TrimSpace(msg.Role), "system") {
			if txt := messageText(msg); txt != "" {
				system = append(system, txt)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}

func messageText(msg Message) string {
	var lines []string
	for _, part := range msg.Content {
		if part.Type == PartText {
			if txt := strings.TrimSpace(part.Text); txt != "" {
				lines = append(lines, txt)
			}
		}
	}
	return strings.Join(lines, "\n")
}

// sanitizeProviderToolName restricts name to [A-Za-z0-9_-].
func sanitizeProviderToolName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
	if out = strings.Trim(out, "_-"); out == "" {
		return "tool"
	}
	return out
}

// decodeSchema parses a capability input schema and its required list.
func decodeSchema(raw json.RawMessage) (map[string]any, []string) {
	schema := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &schema)
	}
	var required []string
	if list, ok := schema["required"].([]any); ok {
		for _, v := range list {
			if s, _ := v.(string); strings.TrimSpace(s) != "" {
				required = append(required, strings.TrimSpace(s))
			}
		}
	}
	return schema, required
}
