package connectrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"google.golang.org/protobuf/types/known/structpb"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/transport"
)

// RunAgentProcedure is the server-streaming procedure serving AG-UI runs.
const RunAgentProcedure = "/agui.v1.AGUIService/RunAgent"

// Handler handles Connect RPC requests for the AG-UI protocol.
// Only responsible for Protobuf serialization; run logic is in the coordinator.
type Handler struct {
	runner transport.Runner
	log    *slog.Logger
}

// NewHandler creates a new Connect RPC handler
func NewHandler(runner transport.Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runner: runner,
		log:    logger.With("transport", "connect"),
	}
}

// Route returns the procedure path and its HTTP handler.
func (h *Handler) Route(opts ...connect.HandlerOption) (string, http.Handler) {
	return RunAgentProcedure, connect.NewServerStreamHandler(RunAgentProcedure, h.RunAgent, opts...)
}

// RunAgent implements the AGUIService.RunAgent RPC method. The request holds
// the RunAgentInput JSON; every protocol event is sent as one Struct.
func (h *Handler) RunAgent(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
	stream *connect.ServerStream[structpb.Struct],
) error {
	input, err := convertRunAgentInput(req.Msg)
	if err != nil {
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("failed to convert request: %w", err))
	}

	// Validate input early (fail fast)
	if err := input.Validate(); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("validation failed: %w", err))
	}

	log := h.log.With("thread_id", input.ThreadID)
	for ev := range h.runner.Run(ctx, input, transport.UserID(req.Header())) {
		msg, err := convertAGUIEvent(ev)
		if err != nil {
			log.Error("failed to convert event", "event", ev.Type(), "error", err)
			continue
		}
		if err := stream.Send(msg); err != nil {
			log.Warn("failed to send event", "event", ev.Type(), "error", err)
			return err
		}
	}
	return nil
}

// convertRunAgentInput decodes the request Struct as a RunAgentInput.
func convertRunAgentInput(msg *structpb.Struct) (*agui.RunAgentInput, error) {
	if msg == nil {
		return nil, fmt.Errorf("empty request")
	}
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var input agui.RunAgentInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode run input: %w", err)
	}
	return &input, nil
}

// convertAGUIEvent converts an AG-UI event to a protobuf Struct
func convertAGUIEvent(event events.Event) (*structpb.Struct, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	var eventMap map[string]any
	if err := json.Unmarshal(eventJSON, &eventMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event JSON: %w", err)
	}

	eventStruct, err := structpb.NewStruct(eventMap)
	if err != nil {
		return nil, fmt.Errorf("failed to create struct: %w", err)
	}
	return eventStruct, nil
}
