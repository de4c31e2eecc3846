package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	aguisse "github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/encoding/sse"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/transport"
)

// Handler handles HTTP requests for the AG-UI protocol via SSE.
// Only responsible for HTTP/SSE serialization; run logic is in the coordinator.
type Handler struct {
	runner transport.Runner
	writer *aguisse.SSEWriter
	log    *slog.Logger
}

// NewHandler creates a new SSE handler
func NewHandler(runner transport.Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runner: runner,
		writer: aguisse.NewSSEWriter(),
		log:    logger.With("transport", "sse"),
	}
}

// ServeHTTP handles AG-UI protocol requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+transport.UserIDHeader)

	// Handle CORS preflight
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var input agui.RunAgentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.log.Warn("failed to decode request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Validate input early (fail fast)
	if err := input.Validate(); err != nil {
		h.log.Warn("validation failed", "error", err)
		http.Error(w, fmt.Sprintf("Validation failed: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	log := h.log.With("thread_id", input.ThreadID)
	rc := http.NewResponseController(w)
	bufWriter := bufio.NewWriter(w)

	sent := 0
	for ev := range h.runner.Run(ctx, &input, transport.UserID(r.Header)) {
		if err := h.send(ctx, bufWriter, rc, ev); err != nil {
			// Returning cancels the request context, which ends the run stream.
			log.Warn("failed to write event", "event", ev.Type(), "error", err)
			return
		}
		sent++
	}
	log.Debug("stream closed", "events", sent)
}

func (h *Handler) send(ctx context.Context, bw *bufio.Writer, rc *http.ResponseController, ev events.Event) error {
	if err := h.writer.WriteEvent(ctx, bw, ev); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return rc.Flush()
}
