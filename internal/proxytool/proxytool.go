// Package proxytool stands in for tools that execute on the client. A proxy
// announces the call as AG-UI tool-call events and waits for the client to
// post the result back.
package proxytool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"agui-bridge/internal/execution"
	"agui-bridge/internal/translator"
)

// DefaultTimeout bounds how long a blocking proxy waits for the client.
const DefaultTimeout = 5 * time.Minute

// Definition describes a client-side tool as declared in the run input.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ArgNames returns the top-level argument names of the JSON schema.
func (d Definition) ArgNames() []string {
	props, _ := d.Parameters["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// TimeoutError is returned when the client did not answer in time.
type TimeoutError struct {
	Tool    string
	CallID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("client tool %q execution timed out after %s", e.Tool, e.Timeout)
}

// ToolError is a failure reported by the client for one call.
type ToolError struct {
	Tool    string
	CallID  string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("client tool %q failed: %s", e.Tool, e.Message)
}

// Options configures a Toolset.
type Options struct {
	Timeout     time.Duration
	LongRunning []string
	Logger      *slog.Logger
}

// Toolset owns the proxies of one execution.
type Toolset struct {
	exec        *execution.Execution
	announced   *translator.CallSet
	defs        []Definition
	timeout     time.Duration
	longRunning map[string]bool
	log         *slog.Logger

	mu      sync.Mutex
	proxies map[string]*Proxy
	waiting map[string]*execution.Future
	closed  bool
}

// NewToolset creates the proxies for defs. announced is shared with the
// execution's translator.
func NewToolset(exec *execution.Execution, announced *translator.CallSet, defs []Definition, opts Options) *Toolset {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if announced == nil {
		announced = translator.NewCallSet()
	}
	lr := make(map[string]bool, len(opts.LongRunning))
	for _, name := range opts.LongRunning {
		lr[name] = true
	}
	return &Toolset{
		exec:        exec,
		announced:   announced,
		defs:        defs,
		timeout:     opts.Timeout,
		longRunning: lr,
		log:         opts.Logger,
		proxies:     make(map[string]*Proxy),
		waiting:     make(map[string]*execution.Future),
	}
}

// Definitions returns the declared client tools.
func (s *Toolset) Definitions() []Definition {
	if s == nil {
		return nil
	}
	return s.defs
}

// ArgNames maps each tool name to its argument names.
func (s *Toolset) ArgNames() map[string][]string {
	out := make(map[string][]string, len(s.Definitions()))
	for _, d := range s.Definitions() {
		out[d.Name] = d.ArgNames()
	}
	return out
}

// Announced returns the id set shared with the translator.
func (s *Toolset) Announced() *translator.CallSet {
	return s.announced
}

// IsLongRunning reports whether name is configured as fire-and-forget.
func (s *Toolset) IsLongRunning(name string) bool {
	return s != nil && s.longRunning[name]
}

// Proxy returns the cached proxy for name.
func (s *Toolset) Proxy(name string) (*Proxy, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proxies[name]; ok {
		return p, true
	}
	for _, d := range s.defs {
		if d.Name == name {
			p := &Proxy{def: d, set: s, longRunning: s.longRunning[name]}
			s.proxies[name] = p
			return p, true
		}
	}
	return nil, false
}

// Close cancels the futures of calls still waiting for the client.
func (s *Toolset) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	waiting := s.waiting
	s.waiting = make(map[string]*execution.Future)
	s.mu.Unlock()

	for id, f := range waiting {
		f.Cancel()
		s.exec.RemoveTool(id)
	}
}

func (s *Toolset) track(id string, f *execution.Future) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.waiting[id] = f
	return true
}

func (s *Toolset) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiting, id)
}

// Proxy is the runtime-facing stand-in for one client tool.
type Proxy struct {
	def         Definition
	set         *Toolset
	longRunning bool
}

// Definition returns the tool declaration.
func (p *Proxy) Definition() Definition {
	return p.def
}

// LongRunning reports whether Call returns before the client answers.
func (p *Proxy) LongRunning() bool {
	return p.longRunning
}

// Call announces the invocation to the client. Long-running proxies return a
// pending marker at once; blocking proxies suspend the stream and wait for
// the client's result. callID may be empty when the runtime has none.
func (p *Proxy) Call(ctx context.Context, callID string, args map[string]any) (any, error) {
	id := callID
	if id == "" {
		id = events.GenerateToolCallID()
	}
	log := p.set.log.With("tool", p.def.Name, "tool_call_id", id)

	var fut *execution.Future
	if !p.longRunning {
		fut = p.set.exec.RegisterTool(id)
		if !p.set.track(id, fut) {
			p.set.exec.RemoveTool(id)
			return nil, execution.ErrCancelled
		}
		defer p.set.untrack(id)
	}

	if err := p.announce(id, args); err != nil {
		if fut != nil {
			p.set.exec.RemoveTool(id)
		}
		return nil, err
	}

	if p.longRunning {
		p.set.exec.AddLongRunning(id)
		log.Debug("long-running client tool announced")
		return map[string]any{"status": "pending", "tool_call_id": id}, nil
	}

	p.set.exec.Suspend()
	log.Debug("waiting for client tool result", "timeout", p.set.timeout)

	waitCtx, cancel := context.WithTimeout(ctx, p.set.timeout)
	defer cancel()
	result, err := fut.Wait(waitCtx)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		p.set.exec.RemoveTool(id)
		log.Warn("client tool timed out")
		return nil, &TimeoutError{Tool: p.def.Name, CallID: id, Timeout: p.set.timeout}
	case errors.Is(err, execution.ErrCancelled) || ctx.Err() != nil:
		p.set.exec.RemoveTool(id)
		return nil, err
	default:
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, err
		}
		return nil, &ToolError{Tool: p.def.Name, CallID: id, Message: err.Error()}
	}
}

func (p *Proxy) announce(id string, args map[string]any) error {
	if p.set.announced.Has(id) {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments for %s: %w", p.def.Name, err)
	}
	for _, ev := range []events.Event{
		events.NewToolCallStartEvent(id, p.def.Name),
		events.NewToolCallArgsEvent(id, string(encoded)),
		events.NewToolCallEndEvent(id),
	} {
		if err := p.set.exec.Emit(ev); err != nil {
			return err
		}
	}
	p.set.announced.Add(id)
	return nil
}
