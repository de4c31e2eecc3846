package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/config"
	"agui-bridge/internal/coordinator"
	"agui-bridge/internal/logging"
	"agui-bridge/internal/runtime"
	"agui-bridge/internal/runtime/adk"
	"agui-bridge/internal/runtime/claude"
	"agui-bridge/internal/server"
	"agui-bridge/internal/session"
	"agui-bridge/internal/transport/connectrpc"
	"agui-bridge/internal/transport/sse"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("agent stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	rt, suffixDedup, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}

	coord := coordinator.New(rt, agui.NewStateManager(), coordinator.Config{
		ExecutionTimeout: cfg.ExecutionTimeout,
		ToolTimeout:      cfg.ToolTimeout,
		MaxConcurrent:    cfg.MaxConcurrentExecutions,
		PollInterval:     cfg.DrainPollInterval,
		CleanupInterval:  cfg.CleanupInterval,
		StateTTL:         cfg.StateTTL,
		StreamingArgs:    cfg.StreamingFunctionArgs,
		SuffixDedup:      suffixDedup,
		PredictState:     cfg.PredictState,
		LongRunningTools: cfg.LongRunningTools,
		Logger:           logger,
	})
	defer coord.Close()

	srv := server.New(cfg,
		sse.NewHandler(coord, logger),
		connectrpc.NewHandler(coord, logger),
		logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("starting AG-UI bridge", "runtime", cfg.Runtime, "app", cfg.AppName)

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for interrupt signal or a failed listener
	select {
	case sig := <-sigChan:
		logger.Info("shutting down server", "signal", sig.String())
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}

	if err := srv.ShutdownTimeout(5 * time.Second); err != nil {
		logger.Error("error shutting down server", "error", err)
	}
	return nil
}

// newRuntime builds the configured agent runtime. The second result reports
// whether its streamed text repeats the accumulated text, which the
// translator then strips.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (runtime.Runtime, bool, error) {
	switch cfg.Runtime {
	case config.RuntimeClaude:
		rt := claude.New(claude.Config{
			Model:          cfg.ClaudeModel,
			ThinkingBudget: cfg.ClaudeThinkingBudget,
			Logger:         logger.With("runtime", config.RuntimeClaude),
		}, option.WithAPIKey(cfg.AnthropicAPIKey))
		return rt, false, nil
	default:
		model, err := adk.NewGeminiModel(ctx, cfg.GeminiModel, cfg.GoogleAPIKey)
		if err != nil {
			return nil, false, err
		}
		tools, err := adk.BackendTools(cfg.GoogleSearch)
		if err != nil {
			return nil, false, err
		}
		adkLogger := logger.With("runtime", config.RuntimeADK)
		rt, err := adk.New(adk.Config{
			AppName:           cfg.AppName,
			Model:             model,
			Tools:             tools,
			Streaming:         true,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            adkLogger,
		}, session.NewManager(adkLogger))
		if err != nil {
			return nil, false, err
		}
		return rt, true, nil
	}
}
