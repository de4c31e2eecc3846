package claude

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"agui-bridge/internal/runtime"
	"agui-bridge/internal/translator"
)

// streamMapper turns one streamed model response into native events.
// Text and thinking are published as deltas while they arrive; tool calls and
// the consolidated text are published once the message stops.
type streamMapper struct {
	sink   runtime.Sink
	author string
	log    *slog.Logger
	acc    anthropic.Message
	text   strings.Builder
}

func newStreamMapper(sink runtime.Sink, author string, logger *slog.Logger) *streamMapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &streamMapper{sink: sink, author: author, log: logger}
}

func (m *streamMapper) handle(ev anthropic.MessageStreamEventUnion) error {
	if err := m.acc.Accumulate(ev); err != nil {
		return fmt.Errorf("failed to accumulate stream event: %w", err)
	}
	if ev.Type != "content_block_delta" {
		return nil
	}
	switch ev.Delta.Type {
	case "text_delta":
		if ev.Delta.Text == "" {
			return nil
		}
		m.text.WriteString(ev.Delta.Text)
		return m.publish(translator.PhaseDelta, translator.Text{Text: ev.Delta.Text})
	case "thinking_delta":
		if ev.Delta.Thinking == "" {
			return nil
		}
		return m.publish(translator.PhaseDelta, translator.Thought{Text: ev.Delta.Thinking})
	}
	return nil
}

// finish publishes the consolidated message and returns it.
func (m *streamMapper) finish() (anthropic.Message, error) {
	stop := m.acc.StopReason
	ev := translator.Event{
		Author:       m.author,
		Phase:        translator.PhaseFinal,
		TurnComplete: stop != anthropic.StopReasonToolUse,
		FinishReason: string(stop),
	}
	if stop == anthropic.StopReasonToolUse {
		ev.Phase = translator.PhaseComplete
	}
	if m.text.Len() > 0 {
		ev.Items = append(ev.Items, translator.Text{Text: m.text.String()})
	}
	for _, block := range m.acc.Content {
		if block.Type != "tool_use" {
			continue
		}
		ev.Items = append(ev.Items, translator.FunctionCall{ID: block.ID, Name: block.Name, Args: blockArgs(m.log, block.ID, block.Input)})
	}
	if err := m.sink.Publish(ev); err != nil {
		return m.acc, err
	}
	return m.acc, nil
}

func (m *streamMapper) publish(phase translator.Phase, it translator.Item) error {
	return m.sink.Publish(translator.Event{Author: m.author, Phase: phase, Items: []translator.Item{it}})
}

// blockArgs decodes a tool_use input. Malformed input is logged and treated
// as no arguments.
func blockArgs(log *slog.Logger, id string, raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		log.Warn("malformed tool input", "tool_call_id", id, "error", err)
		return map[string]any{}
	}
	if args == nil {
		return map[string]any{}
	}
	return args
}
