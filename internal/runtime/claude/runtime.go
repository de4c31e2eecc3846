// Package claude runs turns on the Anthropic Messages API. Client tools are
// declared to the model and executed through the run's tool proxies.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/execution"
	"agui-bridge/internal/proxytool"
	"agui-bridge/internal/runtime"
	"agui-bridge/internal/translator"
)

// Defaults for the model call.
const (
	DefaultModel         = string(anthropic.ModelClaudeSonnet4_5)
	DefaultMaxTokens     = 4096
	DefaultMaxToolRounds = 16
	Author               = "claude"
)

// Config tunes the model call.
type Config struct {
	Model       string
	MaxTokens   int64
	Instruction string
	// ThinkingBudget enables extended thinking when positive.
	ThinkingBudget int64
	MaxToolRounds  int
	Logger         *slog.Logger
}

// Runtime runs AG-UI turns against Claude.
type Runtime struct {
	client anthropic.Client
	cfg    Config
	log    *slog.Logger
}

// New creates a Claude runtime. opts configure the API client, typically
// option.WithAPIKey.
func New(cfg Config, opts ...option.RequestOption) *Runtime {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runtime{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		log:    cfg.Logger,
	}
}

// Run streams model responses and executes requested tools until the model
// ends its turn.
func (r *Runtime) Run(ctx context.Context, req runtime.RunRequest, sink runtime.Sink) error {
	if req.Input == nil {
		return agui.ErrNoMessages
	}
	log := r.log.With("thread_id", req.ThreadID, "run_id", req.RunID)

	msgs, system := convertMessages(req.Input, r.cfg.Instruction)
	if len(msgs) == 0 {
		return agui.ErrNoMessages
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.cfg.Model),
		MaxTokens: r.cfg.MaxTokens,
		Messages:  msgs,
		System:    system,
	}
	if req.Tools != nil {
		params.Tools = convertTools(req.Tools.Definitions())
	}
	if r.cfg.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(r.cfg.ThinkingBudget)
	}

	for round := 0; round < r.cfg.MaxToolRounds; round++ {
		msg, err := r.stream(ctx, params, sink)
		if err != nil {
			return err
		}
		log.Debug("model response", "round", round, "stop_reason", msg.StopReason, "blocks", len(msg.Content))
		if msg.StopReason != anthropic.StopReasonToolUse {
			return nil
		}

		results, err := r.callTools(ctx, req.Tools, msg, sink)
		if err != nil {
			return err
		}
		params.Messages = append(params.Messages, msg.ToParam(), anthropic.NewUserMessage(results...))
	}
	return fmt.Errorf("tool loop exceeded %d rounds", r.cfg.MaxToolRounds)
}

func (r *Runtime) stream(ctx context.Context, params anthropic.MessageNewParams, sink runtime.Sink) (anthropic.Message, error) {
	stream := r.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	m := newStreamMapper(sink, Author, r.log)
	for stream.Next() {
		if err := m.handle(stream.Current()); err != nil {
			return anthropic.Message{}, err
		}
	}
	if err := stream.Err(); err != nil {
		return anthropic.Message{}, fmt.Errorf("claude stream error: %w", err)
	}
	return m.finish()
}

// callTools executes every tool_use block of msg through the proxies.
// Tool failures become error results the model can react to; cancellation
// ends the run.
func (r *Runtime) callTools(ctx context.Context, tools *proxytool.Toolset, msg anthropic.Message, sink runtime.Sink) ([]anthropic.ContentBlockParamUnion, error) {
	var results []anthropic.ContentBlockParamUnion
	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		var p *proxytool.Proxy
		ok := false
		if tools != nil {
			p, ok = tools.Proxy(block.Name)
		}
		if !ok {
			r.log.Warn("model requested unknown tool", "tool", block.Name, "tool_call_id", block.ID)
			results = append(results, anthropic.NewToolResultBlock(block.ID, fmt.Sprintf("unknown tool %q", block.Name), true))
			continue
		}

		value, err := p.Call(ctx, block.ID, blockArgs(r.log, block.ID, block.Input))
		switch {
		case errors.Is(err, execution.ErrCancelled) || ctx.Err() != nil:
			return nil, errors.Join(err, ctx.Err())
		case err != nil:
			results = append(results, anthropic.NewToolResultBlock(block.ID, err.Error(), true))
			continue
		}

		// The placeholder of a long-running call is for the model only; the
		// client answers it in a later request.
		if p.LongRunning() {
			results = append(results, anthropic.NewToolResultBlock(block.ID, resultContent(value), false))
			continue
		}
		if err := sink.Publish(translator.Event{
			Author: Author,
			Phase:  translator.PhaseComplete,
			Items:  []translator.Item{translator.FunctionResponse{ID: block.ID, Name: block.Name, Response: value}},
		}); err != nil {
			return nil, err
		}
		results = append(results, anthropic.NewToolResultBlock(block.ID, resultContent(value), false))
	}
	return results, nil
}
