// Package adk runs turns on a Google ADK agent and normalizes its session
// events for the translator.
package adk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/geminitool"
	"google.golang.org/genai"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/runtime"
	"agui-bridge/internal/session"
)

// Defaults for the agent definition.
const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultAgentName   = "agui_assistant"
	DefaultInstruction = "You are a helpful assistant. Use the available tools when they help answer the user."
	DefaultUserID      = "anonymous"
)

// Config describes the agent run for every turn.
type Config struct {
	AppName     string
	Name        string
	Description string
	Instruction string
	Model       model.LLM
	// Tools run on the server next to the client tool proxies.
	Tools             []tool.Tool
	Streaming         bool
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

// Runtime runs AG-UI turns on an llmagent. A fresh agent is built per run
// because the client tool set changes between requests.
type Runtime struct {
	cfg      Config
	sessions *session.Manager
	log      *slog.Logger
}

// New creates an ADK runtime.
func New(cfg Config, sessions *session.Manager) (*Runtime, error) {
	if cfg.Model == nil {
		return nil, errors.New("adk runtime requires a model")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultAgentName
	}
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if sessions == nil {
		sessions = session.NewManager(cfg.Logger)
	}
	return &Runtime{cfg: cfg, sessions: sessions, log: cfg.Logger}, nil
}

// NewGeminiModel creates the Gemini model used by the agent.
func NewGeminiModel(ctx context.Context, name, apiKey string) (model.LLM, error) {
	if name == "" {
		name = DefaultModel
	}
	m, err := gemini.NewModel(ctx, name, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini model: %w", err)
	}
	return m, nil
}

// BackendTools returns the server-side tools. Google Search cannot be
// combined with function tools on most models, so it is opt in.
func BackendTools(googleSearch bool) ([]tool.Tool, error) {
	timeTool, err := NewTimeTool()
	if err != nil {
		return nil, fmt.Errorf("failed to create time tool: %w", err)
	}
	tools := []tool.Tool{timeTool}
	if googleSearch {
		tools = append(tools, geminitool.GoogleSearch{})
	}
	return tools, nil
}

// Run executes one turn and publishes every session event to sink.
func (r *Runtime) Run(ctx context.Context, req runtime.RunRequest, sink runtime.Sink) error {
	log := r.log.With("thread_id", req.ThreadID, "run_id", req.RunID)

	msg, err := newMessage(req)
	if err != nil {
		return err
	}

	clientTools, err := proxyTools(req.Tools)
	if err != nil {
		return err
	}
	isClient := func(name string) bool {
		if req.Tools == nil {
			return false
		}
		_, ok := req.Tools.Proxy(name)
		return ok
	}
	hb := newHeartbeat(r.cfg.HeartbeatInterval, sink, isClient)
	defer hb.stopAll()

	a, err := llmagent.New(llmagent.Config{
		Name:                r.cfg.Name,
		Description:         r.cfg.Description,
		Instruction:         r.cfg.Instruction,
		Model:               r.cfg.Model,
		Tools:               append(append([]tool.Tool{}, r.cfg.Tools...), clientTools...),
		BeforeToolCallbacks: []llmagent.BeforeToolCallback{hb.before},
		AfterToolCallbacks:  []llmagent.AfterToolCallback{hb.after},
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	rn, err := runner.New(runner.Config{
		AppName:        r.cfg.AppName,
		Agent:          a,
		SessionService: r.sessions.Service(),
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}
	sess, err := r.sessions.GetOrCreate(ctx, r.cfg.AppName, userID, req.ThreadID, req.State)
	if err != nil {
		return err
	}

	runCfg := agent.RunConfig{}
	if r.cfg.Streaming {
		runCfg.StreamingMode = agent.StreamingModeSSE
	}
	log.Debug("running agent", "session_id", sess.ID(), "client_tools", len(clientTools), "continuation", len(req.ToolResults) > 0)

	for ev, err := range rn.Run(ctx, userID, sess.ID(), msg, runCfg) {
		if err != nil {
			return fmt.Errorf("agent execution error: %w", err)
		}
		if ev == nil {
			continue
		}
		if ev.ErrorCode != "" {
			return fmt.Errorf("model error %s: %s", ev.ErrorCode, ev.ErrorMessage)
		}
		if err := sink.Publish(Convert(ev)); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// newMessage builds the content that starts the turn: function responses for
// a continuation run, the latest user message otherwise.
func newMessage(req runtime.RunRequest) (*genai.Content, error) {
	if len(req.ToolResults) > 0 {
		parts := make([]*genai.Part, 0, len(req.ToolResults))
		for _, res := range req.ToolResults {
			response := resultMap(res.Value)
			if res.Err != nil {
				response = map[string]any{"error": res.Err.Error()}
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       res.CallID,
				Name:     res.Name,
				Response: response,
			}})
		}
		return &genai.Content{Role: genai.RoleUser, Parts: parts}, nil
	}
	if req.Input == nil {
		return nil, agui.ErrNoMessages
	}
	m, ok := req.Input.LastUserMessage()
	if !ok {
		return nil, agui.ErrNoMessages
	}
	return genai.NewContentFromText(m.ContentText(), genai.RoleUser), nil
}
