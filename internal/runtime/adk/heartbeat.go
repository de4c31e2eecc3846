package adk

import (
	"context"
	"sync"
	"time"

	"google.golang.org/adk/tool"

	"agui-bridge/internal/runtime"
	"agui-bridge/internal/translator"
)

// HeartbeatEventName names the custom event emitted while a backend tool runs.
const HeartbeatEventName = "Heartbeat"

// heartbeat publishes periodic progress for running backend tools. Client
// tools are skipped since the client is the one executing them.
type heartbeat struct {
	interval time.Duration
	sink     runtime.Sink
	skip     func(name string) bool

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func newHeartbeat(interval time.Duration, sink runtime.Sink, skip func(string) bool) *heartbeat {
	return &heartbeat{
		interval: interval,
		sink:     sink,
		skip:     skip,
		running:  make(map[string]context.CancelFunc),
	}
}

func (h *heartbeat) before(ctx tool.Context, t tool.Tool, _ map[string]any) (map[string]any, error) {
	if h.interval <= 0 || (h.skip != nil && h.skip(t.Name())) {
		return nil, nil
	}
	h.start(ctx, ctx.FunctionCallID(), t.Name())
	return nil, nil
}

func (h *heartbeat) after(ctx tool.Context, _ tool.Tool, _, _ map[string]any, _ error) (map[string]any, error) {
	h.stop(ctx.FunctionCallID())
	return nil, nil
}

func (h *heartbeat) start(parent context.Context, callID, name string) {
	ctx, cancel := context.WithCancel(parent)
	h.mu.Lock()
	if prev, ok := h.running[callID]; ok {
		prev()
	}
	h.running[callID] = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		began := time.Now()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := h.sink.Publish(translator.Event{
					Author: name,
					Phase:  translator.PhaseComplete,
					Items: []translator.Item{translator.Custom{
						Name:  HeartbeatEventName,
						Value: map[string]any{"tool": name, "elapsed_ms": time.Since(began).Milliseconds()},
					}},
				})
				if err != nil {
					return
				}
			}
		}
	}()
}

func (h *heartbeat) stop(callID string) {
	h.mu.Lock()
	cancel, ok := h.running[callID]
	delete(h.running, callID)
	h.mu.Unlock()
	if ok {
		cancel()
	}
}

// stopAll ends every ticker and waits for them to return.
func (h *heartbeat) stopAll() {
	h.mu.Lock()
	for id, cancel := range h.running {
		cancel()
		delete(h.running, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
