package adk

import (
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"agui-bridge/internal/translator"
)

// Convert normalizes an ADK session event for the translator.
func Convert(ev *session.Event) translator.Event {
	out := translator.Event{
		Author:             ev.Author,
		TurnComplete:       ev.TurnComplete,
		FinishReason:       string(ev.FinishReason),
		LongRunningToolIDs: ev.LongRunningToolIDs,
	}
	if ev.Content != nil {
		for _, part := range ev.Content.Parts {
			if it, ok := convertPart(part); ok {
				out.Items = append(out.Items, it)
			}
		}
	}
	switch {
	case ev.Partial:
		out.Phase = translator.PhaseDelta
	case isFinal(ev, out.Items):
		out.Phase = translator.PhaseFinal
	default:
		out.Phase = translator.PhaseComplete
	}
	if len(ev.Actions.StateDelta) > 0 {
		out.Items = append(out.Items, translator.StateDelta{Delta: ev.Actions.StateDelta})
	}
	if len(ev.CustomMetadata) > 0 {
		out.Items = append(out.Items, translator.Custom{Name: translator.MetadataEventName, Value: ev.CustomMetadata})
	}
	return out
}

// isFinal mirrors session.Event.IsFinalResponse over the converted items, so
// nil parts in the content cannot reach it.
func isFinal(ev *session.Event, items []translator.Item) bool {
	if ev.Actions.SkipSummarization || len(ev.LongRunningToolIDs) > 0 {
		return true
	}
	for _, it := range items {
		switch it.(type) {
		case translator.FunctionCall, translator.FunctionResponse:
			return false
		}
	}
	return true
}

func convertPart(part *genai.Part) (translator.Item, bool) {
	switch {
	case part == nil:
		return nil, false
	case part.FunctionCall != nil:
		return convertCall(part.FunctionCall), true
	case part.FunctionResponse != nil:
		fr := part.FunctionResponse
		return translator.FunctionResponse{ID: fr.ID, Name: fr.Name, Response: fr.Response}, true
	case part.Text == "":
		return nil, false
	case part.Thought:
		return translator.Thought{Text: part.Text}, true
	default:
		return translator.Text{Text: part.Text}, true
	}
}

func convertCall(fc *genai.FunctionCall) translator.FunctionCall {
	call := translator.FunctionCall{
		ID:           fc.ID,
		Name:         fc.Name,
		Args:         fc.Args,
		WillContinue: fc.WillContinue != nil && *fc.WillContinue,
	}
	// only string arguments stream token by token; the rest arrive with Args
	for _, pa := range fc.PartialArgs {
		if pa == nil || pa.StringValue == "" {
			continue
		}
		call.Fragments = append(call.Fragments, translator.ArgFragment{JSONPath: pa.JsonPath, Value: pa.StringValue})
	}
	return call
}
