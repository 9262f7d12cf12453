// Package gateway exposes the orchestrator over HTTP: agent and session
// CRUD, message posting, live event streaming over SSE and WebSocket.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/sessiond/internal/agents"
	"github.com/nextlevelbuilder/sessiond/internal/config"
	"github.com/nextlevelbuilder/sessiond/internal/events"
	"github.com/nextlevelbuilder/sessiond/internal/orchestrator"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
	"github.com/nextlevelbuilder/sessiond/internal/sink"
	"github.com/nextlevelbuilder/sessiond/internal/stream"
	"github.com/nextlevelbuilder/sessiond/internal/tools"
)

// Server is the HTTP front of the service.
type Server struct {
	cfg      *config.Config
	catalog  *agents.Catalog
	policies *policy.Store
	orch     *orchestrator.Orchestrator
	log      *events.Log
	fanout   *stream.Fanout
	exec     *tools.Executor
	sink     *sink.Sink // nil when no database is configured

	limiter    *rate.Limiter // nil when rate limiting is disabled
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server

	workspaceMu sync.Mutex // serializes root updates across the stores
}

// NewServer wires the HTTP surface. sink may be nil.
func NewServer(cfg *config.Config, catalog *agents.Catalog, policies *policy.Store, orch *orchestrator.Orchestrator, log *events.Log, fanout *stream.Fanout, exec *tools.Executor, eventSink *sink.Sink) *Server {
	s := &Server{
		cfg:      cfg,
		catalog:  catalog,
		policies: policies,
		orch:     orch,
		log:      log,
		fanout:   fanout,
		exec:     exec,
		sink:     eventSink,
	}
	if rpm := cfg.Gateway.RateLimitRPM; rpm > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the Origin header against the allowed origins list.
// No configured origins allows everything; an empty Origin header means a
// non-browser client and is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the route table.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.guard(s.handleWebSocket))

	mux.HandleFunc("GET /v1/agents", s.guard(s.handleListAgents))
	mux.HandleFunc("POST /v1/agents", s.guard(s.handleCreateAgent))
	mux.HandleFunc("GET /v1/agents/{agentID}", s.guard(s.handleGetAgent))
	mux.HandleFunc("DELETE /v1/agents/{agentID}", s.guard(s.handleDeleteAgent))
	mux.HandleFunc("PUT /v1/agents/{agentID}/model", s.guard(s.handleSelectModel))
	mux.HandleFunc("GET /v1/agents/{agentID}/docs/{kind}", s.guard(s.handleGetDoc))
	mux.HandleFunc("PUT /v1/agents/{agentID}/docs/{kind}", s.guard(s.handlePutDoc))
	mux.HandleFunc("GET /v1/agents/{agentID}/tools", s.guard(s.handleGetPolicy))
	mux.HandleFunc("PUT /v1/agents/{agentID}/tools", s.guard(s.handlePutPolicy))

	mux.HandleFunc("GET /v1/agents/{agentID}/sessions", s.guard(s.handleListSessions))
	mux.HandleFunc("POST /v1/agents/{agentID}/sessions", s.guard(s.handleCreateSession))
	mux.HandleFunc("GET /v1/agents/{agentID}/sessions/{sessionID}", s.guard(s.handleGetSession))
	mux.HandleFunc("DELETE /v1/agents/{agentID}/sessions/{sessionID}", s.guard(s.handleDeleteSession))
	mux.HandleFunc("POST /v1/agents/{agentID}/sessions/{sessionID}/messages", s.guard(s.handlePostMessage))
	mux.HandleFunc("POST /v1/agents/{agentID}/sessions/{sessionID}/control", s.guard(s.handleControl))
	mux.HandleFunc("GET /v1/agents/{agentID}/sessions/{sessionID}/stream", s.guard(s.handleStream))

	mux.HandleFunc("POST /v1/tools/invoke", s.guard(s.handleInvokeTool))

	mux.HandleFunc("PUT /v1/workspace", s.guard(s.handleUpdateWorkspace))

	mux.HandleFunc("GET /v1/dashboard/projects", s.guard(s.handleListProjects))
	mux.HandleFunc("POST /v1/dashboard/projects", s.guard(s.handleCreateProject))

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
