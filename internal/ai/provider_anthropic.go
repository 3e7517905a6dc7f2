package ai

import (
	"context"
	"strconv"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

type anthropicProvider struct {
	client anthropic.Client
}

func (p *anthropicProvider) StreamTurn(ctx context.Context, req TurnRequest, onEvent func(StreamEvent)) (TurnResult, error) {
	if err := validateTurn(req); err != nil {
		return TurnResult{}, err
	}
	system, convo := splitSystem(req.Messages)
	tools, aliases := buildAnthropicTools(req.Tools)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(req.Model)),
		MaxTokens: DefaultMaxOutputTokens,
		Messages:  buildAnthropicMessages(convo),
		Tools:     tools,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = int64(req.MaxOutputTokens)
	}
	if t := req.ProviderControls.Temperature; t != nil {
		params.Temperature = anthropic.Float(*t)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	turn := &anthropicTurn{onEvent: onEvent, calls: newCallAccumulator(aliases, onEvent)}
	stream := p.client.Messages.NewStreaming(ctx, params)
	for stream.Next() {
		if err := turn.apply(stream.Current()); err != nil {
			return TurnResult{}, err
		}
	}
	if err := stream.Err(); err != nil {
		return TurnResult{}, err
	}
	return turn.result(), nil
}

// anthropicTurn folds message stream events into a TurnResult.
type anthropicTurn struct {
	onEvent func(StreamEvent)
	msg     anthropic.Message
	text    strings.Builder
	calls   *callAccumulator
}

func (t *anthropicTurn) apply(event anthropic.MessageStreamEventUnion) error {
	if err := t.msg.Accumulate(event); err != nil {
		return err
	}
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if ev.ContentBlock.Type == "tool_use" {
			pc := t.calls.open(blockKey(ev.Index), ev.Index)
			pc.id = strings.TrimSpace(ev.ContentBlock.ID)
			t.calls.name(pc, ev.ContentBlock.Name)
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				t.text.WriteString(d.Text)
				t.emit(StreamEventTextDelta, d.Text)
			}
		case anthropic.ThinkingDelta:
			if strings.TrimSpace(d.Thinking) != "" {
				t.emit(StreamEventThinkingDelta, d.Thinking)
			}
		case anthropic.InputJSONDelta:
			if pc := t.calls.get(blockKey(ev.Index)); pc != nil {
				pc.args.WriteString(d.PartialJSON)
			}
		}
	case anthropic.ContentBlockStopEvent:
		pc := t.calls.get(blockKey(ev.Index))
		if pc == nil {
			return nil
		}
		// Some servers send the whole input on the start block instead of deltas.
		if strings.TrimSpace(pc.args.String()) == "" {
			if i := int(ev.Index); i >= 0 && i < len(t.msg.Content) {
				if tu, ok := t.msg.Content[i].AsAny().(anthropic.ToolUseBlock); ok {
					pc.args.Write(tu.Input)
				}
			}
		}
		t.calls.close(pc)
	}
	return nil
}

func (t *anthropicTurn) emit(typ StreamEventType, text string) {
	if t.onEvent != nil {
		t.onEvent(StreamEvent{Type: typ, Text: text})
	}
}

func (t *anthropicTurn) result() TurnResult {
	text := strings.TrimSpace(t.text.String())
	for i, block := range t.msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if text == "" {
				text = strings.TrimSpace(b.Text)
			}
		case anthropic.ToolUseBlock:
			pc := t.calls.get(blockKey(int64(i)))
			if pc == nil {
				t.calls.recover(b.ID, b.Name, string(b.Input))
				continue
			}
			if !pc.done && strings.TrimSpace(pc.args.String()) == "" {
				pc.args.Write(b.Input)
			}
			t.calls.close(pc)
		}
	}
	return finishTurn(TurnResult{
		FinishReason: mapAnthropicStopReason(t.msg.StopReason),
		Text:         text,
		ToolCalls:    t.calls.calls(),
		Usage:        TurnUsage{InputTokens: t.msg.Usage.InputTokens, OutputTokens: t.msg.Usage.OutputTokens},
		ResponseID:   strings.TrimSpace(t.msg.ID),
	}, t.onEvent)
}

func blockKey(index int64) string {
	return "block_" + strconv.FormatInt(index, 10)
}

func buildAnthropicTools(defs []ToolDef) ([]anthropic.ToolUnionParam, toolAliases) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	aliases := make(toolAliases, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema, required := decodeSchema(def.InputSchema)
		alias := sanitizeProviderToolName(name)
		aliases[alias] = name
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        alias,
			Description: anthropic.String(strings.TrimSpace(def.Description)),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"], Required: required},
		}})
	}
	return out, aliases
}

// buildAnthropicMessages maps the conversation onto user and assistant turns.
// Tool results travel as tool_result blocks on a user turn.
func buildAnthropicMessages(convo []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(convo))
	for _, msg := range convo {
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range msg.Content {
			id := strings.TrimSpace(part.ToolCallID)
			switch {
			case part.Type == PartToolCall && id != "":
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeArgs(part.ArgsJSON), sanitizeProviderToolName(part.ToolName)))
			case part.Type == PartToolResult && id != "":
				blocks = append(blocks, anthropic.NewToolResultBlock(id, part.Text, part.IsError))
			case part.Type == PartText && strings.TrimSpace(part.Text) != "":
				blocks = append(blocks, anthropic.NewTextBlock(strings.TrimSpace(part.Text)))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if strings.EqualFold(msg.Role, "assistant") {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	if len(out) == 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}

func mapAnthropicStopReason(reason anthropic.StopReason) string {
	switch strings.ToLower(strings.TrimSpace(string(reason))) {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	case "refusal":
		return FinishContentFilter
	}
	return FinishUnknown
}
