// Package execution tracks one background agent run: its event queue, its
// pending client-tool futures and its lifecycle.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

// DefaultQueueSize bounds the number of undelivered queue items.
const DefaultQueueSize = 256

// Status values reported by Execution.Status. A waiting execution reports
// StatusWaiting followed by the pending count, e.g. "waiting_for_tools (2 pending)".
const (
	StatusRunning  = "running"
	StatusWaiting  = "waiting_for_tools"
	StatusTaskDone = "task_done"
	StatusComplete = "complete"
)

// Item is one entry of the execution queue.
type Item interface {
	isQueueItem()
}

// EventItem carries a protocol event to the client.
type EventItem struct {
	Event events.Event
}

// Sentinel marks the end of a stream segment. Paused is set when the run is
// suspended waiting for client tool results; otherwise the run is over.
type Sentinel struct {
	Paused bool
}

func (EventItem) isQueueItem() {}
func (Sentinel) isQueueItem()  {}

// Execution is the state of one background run for a thread.
type Execution struct {
	ThreadID  string
	RunID     string
	StartedAt time.Time

	queue  chan Item
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu          sync.Mutex
	pending     map[string]*Future
	longRunning map[string]bool
	err         error
	started     bool
	complete    bool
	cancelled   bool
}

// New creates an execution bound to parent. Cancelling parent or calling
// Cancel stops the run.
func New(parent context.Context, threadID, runID string, logger *slog.Logger) *Execution {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Execution{
		ThreadID:    threadID,
		RunID:       runID,
		StartedAt:   time.Now(),
		queue:       make(chan Item, DefaultQueueSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		log:         logger.With("thread_id", threadID, "run_id", runID),
		pending:     make(map[string]*Future),
		longRunning: make(map[string]bool),
	}
}

// Start runs fn in a background goroutine. When fn returns its error is
// recorded, a terminal Sentinel is queued and Done is closed.
func (e *Execution) Start(fn func(ctx context.Context) error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		panic("execution: Start called twice")
	}
	e.started = true
	e.mu.Unlock()

	go func() {
		defer close(e.done)
		err := e.run(fn)
		if err != nil {
			e.log.Error("agent run failed", "error", err)
		}
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		e.push(Sentinel{})
	}()
}

func (e *Execution) run(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent run panicked: %v", r)
		}
	}()
	return fn(e.ctx)
}

// Context is cancelled when the execution is cancelled.
func (e *Execution) Context() context.Context {
	return e.ctx
}

// Emit queues ev for the client. It fails once the execution is cancelled.
func (e *Execution) Emit(ev events.Event) error {
	if !e.push(EventItem{Event: ev}) {
		return fmt.Errorf("failed to queue %s event: %w", ev.Type(), e.ctx.Err())
	}
	return nil
}

// Suspend tells the current drain that the run is waiting on client tool results.
func (e *Execution) Suspend() {
	e.push(Sentinel{Paused: true})
}

func (e *Execution) push(it Item) bool {
	select {
	case e.queue <- it:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Queue yields queued items in order.
func (e *Execution) Queue() <-chan Item {
	return e.queue
}

// Done is closed after the run function returned and its Sentinel was queued.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// IsDone reports whether the run function has returned.
func (e *Execution) IsDone() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Err is the error returned by the run function.
func (e *Execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// MarkComplete records that the terminal Sentinel was delivered.
func (e *Execution) MarkComplete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.complete = true
}

// IsComplete reports whether the run was fully delivered to the client.
func (e *Execution) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

// IsStale reports whether the run has been going for longer than timeout.
func (e *Execution) IsStale(timeout time.Duration) bool {
	if e.IsDone() {
		return false
	}
	return time.Since(e.StartedAt) > timeout
}

// RegisterTool creates the future awaited for a client tool call.
func (e *Execution) RegisterTool(callID string) *Future {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := NewFuture()
	if e.cancelled {
		f.Cancel()
		return f
	}
	e.pending[callID] = f
	return f
}

// RemoveTool forgets the future of callID.
func (e *Execution) RemoveTool(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, callID)
}

// HasPendingTools reports whether a client tool result is still awaited.
func (e *Execution) HasPendingTools() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0
}

// PendingTools lists the awaited tool call ids.
func (e *Execution) PendingTools() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddLongRunning records a fire-and-forget call whose result arrives with a
// later request.
func (e *Execution) AddLongRunning(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.longRunning[callID] = true
}

// HasOutstanding reports whether any tool result, blocking or long-running,
// is still expected from the client.
func (e *Execution) HasOutstanding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0 || len(e.longRunning) > 0
}

// ResolveToolResult settles the future of callID with value, or rejects it
// when toolErr is set. A long-running call is marked answered. It reports
// false when no such call is outstanding.
func (e *Execution) ResolveToolResult(callID string, value any, toolErr error) bool {
	e.mu.Lock()
	f, ok := e.pending[callID]
	if ok {
		delete(e.pending, callID)
	}
	lr := e.longRunning[callID]
	delete(e.longRunning, callID)
	e.mu.Unlock()

	if lr && !ok {
		return true
	}
	if !ok {
		e.log.Warn("no pending tool call for result", "tool_call_id", callID)
		return false
	}
	if toolErr != nil {
		return f.Reject(toolErr)
	}
	return f.Resolve(value)
}

// Cancel stops the run, waits for it to return and cancels every pending
// future. It is safe to call more than once.
func (e *Execution) Cancel() {
	e.mu.Lock()
	first := !e.cancelled
	e.cancelled = true
	started := e.started
	pending := e.pending
	e.pending = make(map[string]*Future)
	e.mu.Unlock()

	e.cancel()
	for _, f := range pending {
		f.Cancel()
	}
	if started {
		<-e.done
	}
	if first {
		e.log.Info("execution cancelled")
	}
}

// Status summarizes the lifecycle state for logs.
func (e *Execution) Status() string {
	done := e.IsDone()
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.complete:
		return StatusComplete
	case done:
		return StatusTaskDone
	case len(e.pending) > 0:
		return fmt.Sprintf("%s (%d pending)", StatusWaiting, len(e.pending))
	default:
		return StatusRunning
	}
}
