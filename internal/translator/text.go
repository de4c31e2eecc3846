package translator

import (
	"strings"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

const roleAssistant = "assistant"

func (t *Translator) translateContent(ev Event, thought, text, runID string) {
	if thought != "" {
		t.translateThinking(thought)
	}

	final := ev.Phase == PhaseFinal
	if text == "" && !final {
		return
	}

	if final {
		t.closeThinking()
		if t.text.isOpen() {
			t.closeText(runID)
			return
		}
		if text == "" || t.isDuplicateFinal(text, runID) {
			t.clearLastStreamed()
			return
		}
	}

	partial := ev.Phase == PhaseDelta
	wasOpen := t.text.isOpen()
	shouldEnd := (ev.TurnComplete && !partial) ||
		(final && !partial) ||
		(ev.FinishReason != "" && wasOpen)

	if !wasOpen {
		t.closeThinking()
		id := events.GenerateMessageID()
		t.text.begin(id)
		t.emit(events.NewTextMessageStartEvent(id, events.WithRole(roleAssistant)))
	}

	// A non-partial event while streaming repeats the deltas already sent.
	if !(wasOpen && !partial) {
		t.text.write(text)
		t.emit(events.NewTextMessageContentEvent(t.text.id, text))
	}

	if shouldEnd {
		t.closeText(runID)
	}
}

// closeText ends the open message and remembers its text for final-response
// deduplication within runID.
func (t *Translator) closeText(runID string) {
	id, text := t.text.finish()
	t.emit(events.NewTextMessageEndEvent(id))
	if runID != "" {
		t.lastStreamedText = text
		t.lastStreamedRunID = runID
		t.hasLastStreamed = true
	}
}

// forceCloseText ends an open message before a tool call starts.
func (t *Translator) forceCloseText() {
	if t.text.isOpen() {
		id, _ := t.text.finish()
		t.emit(events.NewTextMessageEndEvent(id))
	}
}

func (t *Translator) isDuplicateFinal(text, runID string) bool {
	if !t.hasLastStreamed || t.lastStreamedRunID != runID {
		return false
	}
	if text == t.lastStreamedText {
		return true
	}
	return t.opts.SuffixDedup && strings.HasSuffix(t.lastStreamedText, text)
}

func (t *Translator) clearLastStreamed() {
	t.lastStreamedText = ""
	t.lastStreamedRunID = ""
	t.hasLastStreamed = false
}

func (t *Translator) translateThinking(delta string) {
	t.forceCloseText()
	if !t.thinkingBlock {
		t.emit(events.NewThinkingStartEvent().WithTitle(ThinkingTitle))
		t.thinkingBlock = true
	}
	if !t.thinking.isOpen() {
		t.thinking.begin("")
		t.emit(events.NewThinkingTextMessageStartEvent())
	}
	t.thinking.write(delta)
	t.emit(events.NewThinkingTextMessageContentEvent(delta))
}

// closeThinking ends the thinking text and block. Calling it twice emits nothing the second time.
func (t *Translator) closeThinking() {
	if t.thinking.isOpen() {
		t.thinking.finish()
		t.emit(events.NewThinkingTextMessageEndEvent())
	}
	if t.thinkingBlock {
		t.thinkingBlock = false
		t.emit(events.NewThinkingEndEvent())
	}
}
