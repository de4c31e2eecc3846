package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"agui-bridge/internal/config"
	"agui-bridge/internal/transport/connectrpc"
	"agui-bridge/internal/transport/sse"
)

const (
	// EndpointSSE is the endpoint for Server-Sent Events transport
	EndpointSSE = "/sse"
	// EndpointConnect is the endpoint for Connect RPC transport
	EndpointConnect = "/connect"
	// EndpointHealth reports liveness.
	EndpointHealth = "/healthz"
)

// Server represents the HTTP server
type Server struct {
	httpServer     *http.Server
	sseHandler     *sse.Handler
	connectHandler *connectrpc.Handler
	log            *slog.Logger
}

// New creates a new server instance with multiple transport endpoints.
// connectHandler may be nil.
func New(cfg *config.Config, sseHandler *sse.Handler, connectHandler *connectrpc.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	// SSE endpoint, also served at the bare root for clients posting there
	mux.Handle(EndpointSSE, sseHandler)
	mux.Handle("/{$}", sseHandler)
	mux.HandleFunc("GET "+EndpointHealth, healthHandler)

	// Connect RPC endpoint
	if connectHandler != nil {
		path, handler := connectHandler.Route()
		mux.Handle(path, handler)
		// Also register explicit endpoint for convenience
		mux.Handle(EndpointConnect, handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           CORS(Logging(logger)(mux)),
			ReadHeaderTimeout: 10 * time.Second,
		},
		sseHandler:     sseHandler,
		connectHandler: connectHandler,
		log:            logger,
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	base := "http://localhost" + s.httpServer.Addr
	s.log.Info("starting AG-UI server", "addr", s.httpServer.Addr)
	s.log.Info("SSE endpoint", "url", base+EndpointSSE)
	if s.connectHandler != nil {
		s.log.Info("Connect RPC endpoint", "url", base+connectrpc.RunAgentProcedure)
	} else {
		s.log.Info("Connect RPC endpoint not configured")
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ShutdownTimeout shuts down the server with a default timeout
func (s *Server) ShutdownTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
