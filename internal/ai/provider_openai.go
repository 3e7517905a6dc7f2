package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	openai "github.com/openai/openai-go"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

// openAIProvider speaks the Responses API, which also serves compatible gateways.
type openAIProvider struct {
	client           openai.Client
	strictToolSchema bool
}

func (p *openAIProvider) StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error) {
	if err := validateTurn(req); err != nil {
		return TurnResult{}, err
	}
	input, instructions := buildOpenAIInput(req.Messages)
	if len(input) == 0 {
		input = append(input, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}
	maxTokens := int64(DefaultMaxOutputTokens)
	if req.MaxOutputTokens > 0 {
		maxTokens = int64(req.MaxOutputTokens)
	}
	params := oresponses.ResponseNewParams{
		Model:             oshared.ResponsesModel(strings.TrimSpace(req.Model)),
		Input:             oresponses.ResponseNewParamsInputUnion{OfInputItemList: input},
		MaxOutputTokens:   openai.Int(maxTokens),
		ParallelToolCalls: openai.Bool(false),
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if t := req.ProviderControls.Temperature; t != nil {
		params.Temperature = openai.Float(*t)
	}
	tools, aliases := buildOpenAITools(req.Tools, p.strictToolSchema)
	if len(tools) > 0 {
		params.Tools = tools
	}

	turn := &openAITurn{onEvent: onEvent, calls: newCallAccumulator(aliases, onEvent)}
	stream := p.client.Responses.NewStreaming(ctx, params)
	for stream.Next() {
		turn.apply(stream.Current())
	}
	if err := stream.Err(); err != nil {
		return TurnResult{}, err
	}
	if turn.final == nil {
		return TurnResult{}, errors.New("stream ended without response.completed")
	}
	return turn.result(), nil
}

// openAITurn folds Responses stream events into a TurnResult. Function calls
// are keyed by output item id until their call id is known.
type openAITurn struct {
	onEvent func(StreamEvent)
	text    strings.Builder
	calls   *callAccumulator
	final   *oresponses.Response
}

func (t *openAITurn) apply(ev oresponses.ResponseStreamEventUnion) {
	switch ev.Type {
	case "response.output_text.delta":
		if d := ev.Delta.OfString; d != "" {
			t.text.WriteString(d)
			t.emit(StreamEventTextDelta, d)
		}
	case "response.reasoning_summary_text.delta":
		if d := ev.Delta.OfString; strings.TrimSpace(d) != "" {
			t.emit(StreamEventThinkingDelta, d)
		}
	case "response.output_item.added":
		if ev.Item.Type != "function_call" || ev.Item.ID == "" {
			return
		}
		pc := t.calls.open(ev.Item.ID, ev.OutputIndex)
		t.adopt(pc, ev.Item.CallID, ev.Item.Name)
		pc.args.WriteString(ev.Item.Arguments)
	case "response.function_call_arguments.delta":
		if pc := t.calls.get(ev.ItemID); pc != nil {
			pc.args.WriteString(ev.Delta.OfString)
		}
	case "response.function_call_arguments.done":
		if pc := t.calls.get(ev.ItemID); pc != nil {
			if full := strings.TrimSpace(ev.Arguments); full != "" {
				pc.args.Reset()
				pc.args.WriteString(full)
			}
			t.calls.close(pc)
		}
	case "response.output_item.done":
		if ev.Item.Type != "function_call" {
			return
		}
		if pc := t.calls.get(ev.Item.ID); pc != nil {
			t.adopt(pc, ev.Item.CallID, ev.Item.Name)
			if strings.TrimSpace(pc.args.String()) == "" {
				pc.args.WriteString(ev.Item.Arguments)
			}
			t.calls.close(pc)
		}
	case "response.completed":
		resp := ev.Response
		t.final = &resp
	}
}

// adopt moves pc onto the model-visible call id once the item reveals it.
func (t *openAITurn) adopt(pc *pendingCall, callID, name string) {
	if callID = strings.TrimSpace(callID); callID != "" && !pc.done {
		pc.id = callID
	}
	t.calls.name(pc, name)
}

func (t *openAITurn) emit(typ StreamEventType, text string) {
	if t.onEvent != nil {
		t.onEvent(StreamEvent{Type: typ, Text: text})
	}
}

func (t *openAITurn) result() TurnResult {
	resp := t.final
	for _, item := range resp.Output {
		if item.Type != "function_call" || t.calls.get(item.ID) != nil {
			continue
		}
		id := item.CallID
		if strings.TrimSpace(id) == "" {
			id = item.ID
		}
		t.calls.recover(id, item.Name, item.Arguments)
	}
	text := strings.TrimSpace(t.text.String())
	if text == "" {
		text = outputText(*resp)
	}
	return finishTurn(TurnResult{
		FinishReason: mapOpenAIStatus(resp.Status),
		Text:         text,
		ToolCalls:    t.calls.calls(),
		Usage:        TurnUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		ResponseID:   strings.TrimSpace(resp.ID),
	}, t.onEvent)
}

func outputText(resp oresponses.Response) string {
	var chunks []string
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.AsMessage().Content {
			if part.Type == "output_text" {
				chunks = append(chunks, strings.TrimSpace(part.Text))
			}
		}
	}
	return strings.TrimSpace(strings.Join(chunks, "\n"))
}

func buildOpenAITools(defs []ToolDef, strict bool) ([]oresponses.ToolUnionParam, toolAliases) {
	out := make([]oresponses.ToolUnionParam, 0, len(defs))
	aliases := make(toolAliases, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema, required := decodeSchema(def.InputSchema)
		alias := sanitizeProviderToolName(name)
		aliases[alias] = name
		tool := oresponses.ToolParamOfFunction(alias, schema, strict && closedSchema(schema, required))
		if desc := strings.TrimSpace(def.Description); desc != "" && tool.OfFunction != nil {
			tool.OfFunction.Description = openai.String(desc)
		}
		out = append(out, tool)
	}
	return out, aliases
}

// closedSchema reports whether strict function calling accepts schema: no
// additional properties and every property required.
func closedSchema(schema map[string]any, required []string) bool {
	if extra, ok := schema["additionalProperties"].(bool); !ok || extra {
		return false
	}
	props, _ := schema["properties"].(map[string]any)
	if len(required) != len(props) {
		return false
	}
	for _, name := range required {
		if _, ok := props[name]; !ok {
			return false
		}
	}
	return true
}

// buildOpenAIInput flattens the conversation into Responses input items and
// returns the system text separately as instructions.
func buildOpenAIInput(messages []Message) (oresponses.ResponseInputParam, string) {
	instructions, convo := splitSystem(messages)
	items := make(oresponses.ResponseInputParam, 0, len(convo)+2)
	for _, msg := range convo {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if txt := messageText(msg); txt != "" && role != "tool" {
			r := oresponses.EasyInputMessageRoleUser
			if role == "assistant" {
				r = oresponses.EasyInputMessageRoleAssistant
			}
			items = append(items, oresponses.ResponseInputItemParamOfMessage(txt, r))
		}
		for _, part := range msg.Content {
			id := strings.TrimSpace(part.ToolCallID)
			if id == "" {
				continue
			}
			switch {
			case part.Type == PartToolCall && role == "assistant":
				name := sanitizeProviderToolName(part.ToolName)
				if name == "" {
					continue
				}
				args := strings.TrimSpace(part.ArgsJSON)
				if !json.Valid([]byte(args)) {
					args = "{}"
				}
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(args, id, name))
			case part.Type == PartToolResult && role == "tool":
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(id, part.Text))
			}
		}
	}
	return items, instructions
}

func mapOpenAIStatus(status oresponses.ResponseStatus) string {
	switch strings.ToLower(strings.TrimSpace(string(status))) {
	case "completed":
		return FinishStop
	case "incomplete":
		return FinishLength
	case "failed", "cancelled":
		return FinishError
	}
	return FinishUnknown
}

// shouldUseStrictOpenAIToolSchema enables strict schemas only against the
// first-party endpoint. Compatible gateways disagree on strict support.
func shouldUseStrictOpenAIToolSchema(providerType string, baseURL string) bool {
	if strings.EqualFold(strings.TrimSpace(providerType), ProviderOpenAICompatible) {
		return false
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL == "" {
		return true
	}
	u, err := url.Parse(baseURL)
	return err == nil && strings.EqualFold(u.Hostname(), "api.openai.com")
}
