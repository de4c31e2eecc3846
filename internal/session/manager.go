package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"google.golang.org/adk/session"
)

// Manager manages agent sessions. AG-UI threads map one to one onto ADK
// sessions, so history survives across turns of the same thread.
type Manager struct {
	service session.Service
	log     *slog.Logger
}

// NewManager creates a new session manager backed by the in-memory service
func NewManager(logger *slog.Logger) *Manager {
	return NewManagerWithService(session.InMemoryService(), logger)
}

// NewManagerWithService wraps an existing session service
func NewManagerWithService(service session.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{service: service, log: logger}
}

// Create creates a new session with the given id, seeded with state
func (m *Manager) Create(ctx context.Context, appName, userID, sessionID string, state map[string]any) (session.Session, error) {
	resp, err := m.service.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
		State:     maps.Clone(state),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return resp.Session, nil
}

// GetOrCreate gets an existing session by ID or creates a new one.
// State only seeds newly created sessions.
func (m *Manager) GetOrCreate(ctx context.Context, appName, userID, sessionID string, state map[string]any) (session.Session, error) {
	if sessionID != "" {
		resp, err := m.service.Get(ctx, &session.GetRequest{
			AppName:   appName,
			UserID:    userID,
			SessionID: sessionID,
		})
		if err == nil && resp != nil && resp.Session != nil {
			return resp.Session, nil
		}
		m.log.Debug("creating session", "session_id", sessionID)
	}
	return m.Create(ctx, appName, userID, sessionID, state)
}

// Delete removes a session
func (m *Manager) Delete(ctx context.Context, appName, userID, sessionID string) error {
	err := m.service.Delete(ctx, &session.DeleteRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Service returns the underlying session service
func (m *Manager) Service() session.Service {
	return m.service
}
