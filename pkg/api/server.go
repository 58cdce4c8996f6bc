// Package api implements the HTTP control surface of upgraderunner.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/r3labs/sse/v2"
	"github.com/tcmartin/upgraderunner/pkg/config"
	"github.com/tcmartin/upgraderunner/pkg/logging"
	"github.com/tcmartin/upgraderunner/pkg/middleware"
	"github.com/tcmartin/upgraderunner/pkg/services"
	"github.com/tcmartin/upgraderunner/pkg/workflow"
)

// sseStream is the single event stream published to SSE subscribers.
const sseStream = "events"

// Server represents the HTTP API server
type Server struct {
	config    *config.Config
	router    *mux.Router
	server    *http.Server
	workflows *services.WorkflowService
	auth      *services.AuthService
	wsHub     *WebSocketHub
	sse       *sse.Server
	logger    logging.Logger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, workflows *services.WorkflowService, auth *services.AuthService, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		workflows: workflows,
		auth:      auth,
		wsHub:     NewWebSocketHub(logger),
		sse:       sse.New(),
		logger:    logger,
	}
	s.sse.AutoReplay = false
	s.sse.CreateStream(sseStream)

	// Live engine events feed both transports.
	workflows.AddEventListener(s.wsHub.Broadcast)
	workflows.AddEventListener(s.publishSSE)

	s.setupRoutes()
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", logging.Field{Key: "addr", Value: addr})

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}

	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Close()
	s.sse.Close()
	return s.server.Shutdown(ctx)
}

// Handler returns the configured router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	authMiddleware := middleware.NewAuthMiddleware(s.auth)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public routes (no authentication required)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)

	// Authenticated routes
	authenticated := api.PathPrefix("").Subrouter()
	authenticated.Use(authMiddleware.Authenticate)

	wf := authenticated.PathPrefix("/workflow").Subrouter()
	wf.HandleFunc("", s.handleGetWorkflow).Methods(http.MethodGet, http.MethodOptions)
	wf.HandleFunc("/start", s.handleStart).Methods(http.MethodPost, http.MethodOptions)
	wf.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost, http.MethodOptions)
	wf.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost, http.MethodOptions)
	wf.HandleFunc("/retry", s.handleRetry).Methods(http.MethodPost, http.MethodOptions)
	wf.HandleFunc("/skip", s.handleSkip).Methods(http.MethodPost, http.MethodOptions)
	wf.HandleFunc("/cancel", s.handleCancel).Methods(http.MethodPost, http.MethodOptions)
	wf.HandleFunc("/actions/{id}", s.handleSubmitAction).Methods(http.MethodPost, http.MethodOptions)
	wf.HandleFunc("/history", s.handleWorkflowHistory).Methods(http.MethodGet, http.MethodOptions)

	runs := authenticated.PathPrefix("/runs").Subrouter()
	runs.HandleFunc("", s.handleListRuns).Methods(http.MethodGet, http.MethodOptions)
	runs.HandleFunc("/{id}", s.handleGetRun).Methods(http.MethodGet, http.MethodOptions)
	runs.HandleFunc("/{id}/logs", s.handleGetRunLogs).Methods(http.MethodGet, http.MethodOptions)

	// Streaming endpoints authenticate via a token query parameter because
	// EventSource and browser WebSocket clients cannot set headers.
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.handleSSE).Methods(http.MethodGet)

	s.router.Use(middleware.CORS)
}

// publishSSE forwards an engine event to the SSE stream.
func (s *Server) publishSSE(event workflow.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event for SSE", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	s.sse.Publish(sseStream, &sse.Event{
		Event: []byte(event.Type),
		Data:  data,
	})
}

// authenticateQueryToken validates the token query parameter used by the
// streaming endpoints.
func (s *Server) authenticateQueryToken(w http.ResponseWriter, r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token query parameter required", http.StatusUnauthorized)
		return false
	}
	if _, err := s.auth.ValidateToken(token); err != nil {
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return false
	}
	return true
}

// handleWebSocket upgrades an authenticated connection and attaches it to
// the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authenticateQueryToken(w, r) {
		return
	}
	s.wsHub.HandleConnection(w, r, s.workflows.Snapshot())
}

// handleSSE streams engine events to an authenticated EventSource client.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.authenticateQueryToken(w, r) {
		return
	}

	// The SSE library selects its stream by query parameter.
	q := r.URL.Query()
	q.Set("stream", sseStream)
	r.URL.RawQuery = q.Encode()

	s.sse.ServeHTTP(w, r)
}
