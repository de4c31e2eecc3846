package coordinator

import (
	"sync"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/execution"
	"agui-bridge/internal/translator"
)

// sink translates runtime events into the execution queue. Tool callbacks may
// publish from other goroutines, so the translator is guarded.
type sink struct {
	exec   *execution.Execution
	states *agui.StateManager

	mu sync.Mutex
	tr *translator.Translator
}

func (s *sink) Publish(ev translator.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ev.LongRunningToolIDs {
		s.exec.AddLongRunning(id)
	}
	for _, it := range ev.Items {
		if d, ok := it.(translator.StateDelta); ok {
			s.states.ApplyDelta(s.exec.ThreadID, d.Delta)
		}
	}
	return s.emit(s.tr.Translate(ev, s.exec.ThreadID, s.exec.RunID))
}

// closeStreams flushes open streams and the deferred confirmation calls.
func (s *sink) closeStreams() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.emit(s.tr.ForceCloseOpenStream()); err != nil {
		return err
	}
	return s.emit(s.tr.DeferredConfirmEvents())
}

func (s *sink) emit(evs []events.Event) error {
	for _, ev := range evs {
		if err := s.exec.Emit(ev); err != nil {
			return err
		}
	}
	return nil
}
