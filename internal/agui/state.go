package agui

import (
	"maps"
	"sync"
	"time"
)

// StateManager manages client state per threadId
type StateManager struct {
	mu         sync.Mutex
	states     map[string]map[string]any
	lastAccess map[string]time.Time
}

// NewStateManager creates a new state manager
func NewStateManager() *StateManager {
	return &StateManager{
		states:     make(map[string]map[string]any),
		lastAccess: make(map[string]time.Time),
	}
}

// Get retrieves a copy of the state for a threadId
func (m *StateManager) Get(threadID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[threadID]
	if !exists {
		return make(map[string]any)
	}
	m.lastAccess[threadID] = time.Now()
	return maps.Clone(state)
}

// Set replaces the state for a threadId
func (m *StateManager) Set(threadID string, state map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state == nil {
		state = make(map[string]any)
	}
	m.states[threadID] = maps.Clone(state)
	m.lastAccess[threadID] = time.Now()
}

// Merge overlays incoming state on the stored state and returns the result.
// Incoming keys win.
func (m *StateManager) Merge(threadID string, incoming map[string]any) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := maps.Clone(m.states[threadID])
	if merged == nil {
		merged = make(map[string]any)
	}
	maps.Copy(merged, incoming)

	m.states[threadID] = merged
	m.lastAccess[threadID] = time.Now()
	return maps.Clone(merged)
}

// ApplyDelta records top-level keys changed by the agent.
func (m *StateManager) ApplyDelta(threadID string, delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	m.Merge(threadID, delta)
}

// Delete removes state for a threadId
func (m *StateManager) Delete(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, threadID)
	delete(m.lastAccess, threadID)
}

// Cleanup removes states not accessed within olderThan and returns how many were removed.
func (m *StateManager) Cleanup(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for threadID, lastAccess := range m.lastAccess {
		if now.Sub(lastAccess) > olderThan {
			delete(m.states, threadID)
			delete(m.lastAccess, threadID)
			removed++
		}
	}
	return removed
}
