// Package server exposes the relay daemon's HTTP, SSE, and WebSocket
// surface.
//
// All routes require the bearer credential except /api/status, whose whole
// purpose is reachability probing, and the /terminal/{id} WebSocket, which
// authenticates with a single-use attach token. Session-id path parameters are validated
// as UUID v4 before they reach any component that spawns subprocesses.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termrelay/relayd/internal/auth"
	"github.com/termrelay/relayd/internal/bridge"
	"github.com/termrelay/relayd/internal/config"
	"github.com/termrelay/relayd/internal/discovery"
	"github.com/termrelay/relayd/internal/errors"
	"github.com/termrelay/relayd/internal/metrics"
	"github.com/termrelay/relayd/internal/registry"
	"github.com/termrelay/relayd/internal/storage"
	"github.com/termrelay/relayd/internal/tmux"
)

// APIVersion is the wire protocol generation reported by /api/status.
const APIVersion = "1"

// Server wires the components behind the HTTP surface.
type Server struct {
	cfg        *config.Config
	version    string
	authorizer *auth.Authorizer
	tokens     *auth.TokenManager
	registry   *registry.Registry
	disco      *discovery.Discovery
	tmux       *tmux.Manager
	bridge     *bridge.Bridge
	store      *storage.Store

	limiter  *attachLimiter
	upgrader websocket.Upgrader

	httpServer *http.Server
	startTime  time.Time
}

// Deps carries the constructed components into New.
type Deps struct {
	Config     *config.Config
	Version    string
	Authorizer *auth.Authorizer
	Tokens     *auth.TokenManager
	Registry   *registry.Registry
	Discovery  *discovery.Discovery
	Tmux       *tmux.Manager
	Bridge     *bridge.Bridge
	Store      *storage.Store
}

// New creates the server. Call Start to bind and serve.
func New(d Deps) *Server {
	s := &Server{
		cfg:        d.Config,
		version:    d.Version,
		authorizer: d.Authorizer,
		tokens:     d.Tokens,
		registry:   d.Registry,
		disco:      d.Discovery,
		tmux:       d.Tmux,
		bridge:     d.Bridge,
		store:      d.Store,
		limiter:    newAttachLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// The PSK plus single-use token already gate the socket; the
			// daemon sits on a trusted network or behind a tunnel.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:    d.Config.Addr,
		Handler: s.createMux(),
	}
	return s
}

// createMux assembles the route table.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Open reachability probe; everything else is authenticated.
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.Handle("GET /api/sessions", s.authed(s.handleListSessions))
	mux.Handle("GET /api/sessions/stream", s.authed(s.handleSessionStream))
	mux.Handle("GET /api/sessions/{id}", s.authed(s.handleGetSession))
	mux.Handle("POST /api/sessions/{id}/attach", s.authed(s.handleAttach))
	mux.Handle("POST /api/sessions/{id}/kill", s.authed(s.handleKill))
	mux.Handle("POST /api/sessions/kill-all", s.authed(s.handleKillAll))
	mux.Handle("POST /api/sessions/new", s.authed(s.handleNewSession))
	mux.Handle("GET /api/projects", s.authed(s.handleProjects))
	mux.Handle("GET /api/directories", s.authed(s.handleDirectories))
	mux.Handle("GET /metrics", s.authed(func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	}))

	// The terminal WebSocket authenticates with a single-use attach token
	// (carried in the query string), not the PSK.
	mux.HandleFunc("GET /terminal/{id}", s.handleTerminal)

	return mux
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	log.Printf("server: listening on %s", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the route table (tests drive it via httptest).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// authed wraps a handler with the bearer credential check.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorizer.Authorize(r); err != nil {
			writeError(w, err)
			return
		}
		h(w, r)
	})
}

// sessionIDParam extracts and validates the {id} path parameter.
func sessionIDParam(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if !auth.ValidSessionID(id) {
		return "", errors.InvalidSessionID(id)
	}
	return id, nil
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: response encode failed: %v", err)
	}
}

// errorBody is the wire shape of every failure.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// writeError maps an error to the standard envelope and status code.
func writeError(w http.ResponseWriter, err error) {
	code, message, action := errors.Fields(err)
	writeJSON(w, errors.HTTPStatus(code), errorBody{
		Error:   code,
		Message: message,
		Action:  action,
	})
}

// audit records an event row, best-effort.
func (s *Server) audit(ctx context.Context, sessionID, event, detail string) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordEvent(ctx, sessionID, event, detail); err != nil {
		log.Printf("server: audit write failed: %v", err)
	}
}
