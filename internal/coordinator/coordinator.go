// Package coordinator owns the thread to execution mapping. It decides per
// request whether to start a new execution or resume a suspended one, and
// streams the execution's queue to the caller.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/google/uuid"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/execution"
	"agui-bridge/internal/proxytool"
	"agui-bridge/internal/runtime"
	"agui-bridge/internal/translator"
)

// Codes carried by RUN_ERROR events.
const (
	CodeExecutionTimeout  = "EXECUTION_TIMEOUT"
	CodeNoActiveExecution = "NO_ACTIVE_EXECUTION"
	CodeToolResultError   = "TOOL_RESULT_ERROR"
	CodeExecutionError    = "EXECUTION_ERROR"
	CodeMaxConcurrent     = "MAX_CONCURRENT_EXECUTIONS"
)

// RunError is a failure reported to the client as RUN_ERROR.
type RunError struct {
	Code    string
	Message string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Config tunes the coordinator.
type Config struct {
	ExecutionTimeout time.Duration
	ToolTimeout      time.Duration
	MaxConcurrent    int
	PollInterval     time.Duration
	CleanupInterval  time.Duration
	StateTTL         time.Duration

	StreamingArgs    bool
	SuffixDedup      bool
	PredictState     []translator.PredictStateMapping
	LongRunningTools []string

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 10 * time.Minute
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = proxytool.DefaultTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 20 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Coordinator routes AG-UI runs to background executions.
type Coordinator struct {
	runtime runtime.Runtime
	states  *agui.StateManager
	cfg     Config
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	executions map[string]*execution.Execution
	closed     bool
}

// New creates a coordinator and starts its janitor.
func New(rt runtime.Runtime, states *agui.StateManager, cfg Config) *Coordinator {
	cfg.setDefaults()
	if states == nil {
		states = agui.NewStateManager()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		runtime:    rt,
		states:     states,
		cfg:        cfg,
		log:        cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		executions: make(map[string]*execution.Execution),
	}
	c.wg.Add(1)
	go c.janitor()
	return c
}

// States returns the per-thread state store.
func (c *Coordinator) States() *agui.StateManager {
	return c.states
}

// Active returns the execution registered for threadID.
func (c *Coordinator) Active(threadID string) (*execution.Execution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec, ok := c.executions[threadID]
	return exec, ok
}

// ActiveCount is the number of registered executions.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.executions)
}

// Run handles one AG-UI request. The returned channel yields the protocol
// events of the run and is closed after its terminal event, or early when
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, in *agui.RunAgentInput, userID string) <-chan events.Event {
	out := make(chan events.Event, 16)
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}
	s := &stream{ctx: ctx, out: out, threadID: in.ThreadID, runID: in.RunID}

	go func() {
		defer close(out)
		log := c.log.With("thread_id", in.ThreadID, "run_id", in.RunID)
		if results := in.ToolResults(); len(results) > 0 {
			log.Debug("tool result submission", "results", len(results))
			c.resume(s, in, userID, results)
			return
		}
		log.Debug("new turn", "messages", len(in.Messages))
		c.startTurn(s, in, userID, nil)
	}()
	return out
}

// Close cancels every execution and stops the janitor.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	execs := make([]*execution.Execution, 0, len(c.executions))
	for id, exec := range c.executions {
		execs = append(execs, exec)
		delete(c.executions, id)
	}
	c.mu.Unlock()

	c.cancel()
	for _, exec := range execs {
		exec.Cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) startTurn(s *stream, in *agui.RunAgentInput, userID string, results []agui.ToolResult) {
	if !s.send(events.NewRunStartedEvent(s.threadID, s.runID)) {
		return
	}

	exec, err := c.admit(s.threadID, s.runID)
	if err != nil {
		s.fail(err)
		return
	}

	state := c.states.Merge(s.threadID, in.State)
	if len(state) > 0 && !s.send(events.NewStateSnapshotEvent(state)) {
		c.evict(exec)
		exec.Cancel()
		return
	}

	c.launch(exec, in, userID, state, results)
	c.drain(s, exec)
}

func (c *Coordinator) resume(s *stream, in *agui.RunAgentInput, userID string, messages []agui.Message) {
	if !s.send(events.NewRunStartedEvent(s.threadID, s.runID)) {
		return
	}

	exec, ok := c.Active(s.threadID)
	if !ok {
		s.fail(&RunError{Code: CodeNoActiveExecution, Message: fmt.Sprintf("No active execution found for thread %s", s.threadID)})
		return
	}

	results := make([]agui.ToolResult, 0, len(messages))
	for _, m := range messages {
		res, err := agui.ParseToolResult(m)
		if err != nil {
			s.fail(&RunError{Code: CodeToolResultError, Message: err.Error()})
			return
		}
		if res.Name == "" {
			res.Name = in.ToolCallName(res.CallID)
		}
		if res.Err != nil {
			res.Err = &proxytool.ToolError{Tool: res.Name, CallID: res.CallID, Message: res.Err.Error()}
		}
		results = append(results, res)
	}

	resolved := 0
	for _, res := range results {
		if exec.ResolveToolResult(res.CallID, res.Value, res.Err) {
			resolved++
		}
	}

	if !exec.IsDone() {
		if resolved == 0 {
			// nothing was unblocked, so the run stays suspended
			s.send(events.NewRunFinishedEvent(s.threadID, s.runID))
			return
		}
		c.drain(s, exec)
		return
	}

	// The run already returned, so the results go to a continuation run.
	c.evict(exec)
	exec, err := c.admit(s.threadID, s.runID)
	if err != nil {
		s.fail(err)
		return
	}
	state := c.states.Get(s.threadID)
	c.launch(exec, in, userID, state, results)
	c.drain(s, exec)
}

// admit registers a new execution for threadID, replacing a previous one.
// At the concurrency ceiling stale executions are evicted first.
func (c *Coordinator) admit(threadID, runID string) (*execution.Execution, error) {
	var superseded []*execution.Execution

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &RunError{Code: CodeExecutionError, Message: "coordinator is shut down"}
	}
	if prev, ok := c.executions[threadID]; ok {
		delete(c.executions, threadID)
		superseded = append(superseded, prev)
	}
	if len(c.executions) >= c.cfg.MaxConcurrent {
		superseded = append(superseded, c.removeStaleLocked()...)
	}
	if len(c.executions) >= c.cfg.MaxConcurrent {
		c.mu.Unlock()
		c.cancelAll(superseded)
		return nil, &RunError{
			Code:    CodeMaxConcurrent,
			Message: fmt.Sprintf("Maximum concurrent executions (%d) reached", c.cfg.MaxConcurrent),
		}
	}
	exec := execution.New(c.ctx, threadID, runID, c.log)
	c.executions[threadID] = exec
	c.mu.Unlock()

	c.cancelAll(superseded)
	return exec, nil
}

func (c *Coordinator) removeStaleLocked() []*execution.Execution {
	var stale []*execution.Execution
	for id, exec := range c.executions {
		if c.reapable(exec) {
			stale = append(stale, exec)
			delete(c.executions, id)
		}
	}
	return stale
}

func (c *Coordinator) cancelAll(execs []*execution.Execution) {
	for _, exec := range execs {
		c.log.Info("cancelling execution", "thread_id", exec.ThreadID, "run_id", exec.RunID, "status", exec.Status())
		exec.Cancel()
	}
}

// reapable reports whether exec holds a slot it no longer needs: it ran past
// the execution timeout, or its task returned with nothing left to resolve.
func (c *Coordinator) reapable(exec *execution.Execution) bool {
	return exec.IsStale(c.cfg.ExecutionTimeout) || (exec.IsDone() && !exec.HasOutstanding())
}

// detach is called when the client leaves mid-drain. A finished execution is
// evicted; a running one stays until it finishes or goes stale.
func (c *Coordinator) detach(exec *execution.Execution) {
	c.log.Info("client disconnected", "thread_id", exec.ThreadID, "run_id", exec.RunID, "status", exec.Status())
	if exec.IsDone() && !exec.HasOutstanding() {
		c.evict(exec)
	}
}

// evict removes exec if it is still the registered execution of its thread.
func (c *Coordinator) evict(exec *execution.Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.executions[exec.ThreadID] == exec {
		delete(c.executions, exec.ThreadID)
	}
}

// launch starts the runtime for exec in the background.
func (c *Coordinator) launch(exec *execution.Execution, in *agui.RunAgentInput, userID string, state map[string]any, results []agui.ToolResult) {
	log := c.log.With("thread_id", exec.ThreadID, "run_id", exec.RunID)
	announced := translator.NewCallSet()
	tools := proxytool.NewToolset(exec, announced, in.ToolDefinitions(), proxytool.Options{
		Timeout:     c.cfg.ToolTimeout,
		LongRunning: c.cfg.LongRunningTools,
		Logger:      log,
	})
	tr := translator.New(translator.Options{
		PredictState:  c.cfg.PredictState,
		StreamingArgs: c.cfg.StreamingArgs,
		SuffixDedup:   c.cfg.SuffixDedup,
		ClientTools:   tools.ArgNames(),
		Announced:     announced,
		Logger:        log,
	})
	s := &sink{exec: exec, tr: tr, states: c.states}
	req := runtime.RunRequest{
		ThreadID:    exec.ThreadID,
		RunID:       exec.RunID,
		UserID:      userID,
		Input:       in,
		Tools:       tools,
		State:       state,
		ToolResults: results,
	}

	exec.Start(func(ctx context.Context) error {
		defer tools.Close()
		runErr := c.runtime.Run(ctx, req, s)
		if err := s.closeStreams(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	})
}

// drain forwards exec's queue to s until a sentinel, staleness or client
// disconnect. Every path that keeps the client attached ends with exactly
// one terminal event.
func (c *Coordinator) drain(s *stream, exec *execution.Execution) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			c.detach(exec)
			return
		case it := <-exec.Queue():
			switch v := it.(type) {
			case execution.EventItem:
				if !s.send(v.Event) {
					c.detach(exec)
					return
				}
			case execution.Sentinel:
				if v.Paused {
					if exec.HasPendingTools() {
						s.send(events.NewRunFinishedEvent(s.threadID, s.runID))
						return
					}
					// the calls were answered before this marker was read
					continue
				}
				c.finish(s, exec)
				return
			}
		case <-ticker.C:
			if exec.IsStale(c.cfg.ExecutionTimeout) {
				s.fail(&RunError{
					Code:    CodeExecutionTimeout,
					Message: fmt.Sprintf("Execution timed out after %s", c.cfg.ExecutionTimeout),
				})
				c.evict(exec)
				exec.Cancel()
				return
			}
			if exec.IsDone() && len(exec.Queue()) == 0 {
				c.finish(s, exec)
				return
			}
		}
	}
}

func (c *Coordinator) finish(s *stream, exec *execution.Execution) {
	exec.MarkComplete()
	if err := exec.Err(); err != nil {
		s.fail(&RunError{Code: CodeExecutionError, Message: err.Error()})
	} else {
		s.send(events.NewRunFinishedEvent(s.threadID, s.runID))
	}
	if !exec.HasOutstanding() {
		c.evict(exec)
	}
}

func (c *Coordinator) janitor() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep evicts stale executions and expired client state.
func (c *Coordinator) sweep() {
	var stale []*execution.Execution
	c.mu.Lock()
	for id, exec := range c.executions {
		if c.reapable(exec) || (exec.IsDone() && time.Since(exec.StartedAt) > c.cfg.ExecutionTimeout) {
			stale = append(stale, exec)
			delete(c.executions, id)
		}
	}
	c.mu.Unlock()

	c.cancelAll(stale)
	if removed := c.states.Cleanup(c.cfg.StateTTL); removed > 0 {
		c.log.Debug("expired thread state", "removed", removed)
	}
}

// stream is the outbound side of one request.
type stream struct {
	ctx      context.Context
	out      chan<- events.Event
	threadID string
	runID    string
}

func (s *stream) send(ev events.Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *stream) fail(err error) {
	code := CodeExecutionError
	msg := err.Error()
	if re, ok := err.(*RunError); ok {
		code = re.Code
		msg = re.Message
	}
	s.send(events.NewRunErrorEvent(msg, events.WithRunID(s.runID), events.WithErrorCode(code)))
}
