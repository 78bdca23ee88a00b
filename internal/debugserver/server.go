// Package debugserver exposes a local HTTP surface for inspecting a running
// session: Prometheus metrics, a health check and the current store state.
package debugserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"storefront/internal/chat"
	"storefront/internal/state"
	"storefront/internal/transport"
	"storefront/pkg/logger"
)

// Source is the session surface the server reads from.
type Source interface {
	ID() string
	ConnState() transport.State
	Store() *state.Store
	Transcript() []chat.Message
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Connection string `json:"connection"`
	Uptime     int64  `json:"uptime"`
}

// StateResponse is the /debug/state body.
type StateResponse struct {
	SessionID string         `json:"session_id"`
	State     state.Snapshot `json:"state"`
}

// TranscriptEntry is one message in /debug/transcript.
type TranscriptEntry struct {
	Role  chat.Role   `json:"role"`
	Agent state.Agent `json:"agent,omitempty"`
	Text  string      `json:"text"`
}

// Server serves the debug endpoints.
type Server struct {
	src     Source
	version string
	started time.Time

	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
	log        zerolog.Logger
}

// New builds the router. Call Start to listen.
func New(src Source, version string) *Server {
	s := &Server{
		src:     src,
		version: version,
		started: time.Now(),
		router:  mux.NewRouter(),
		log:     logger.Component("debugserver"),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:           s.recovery(s.logging(s.router)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/state", s.handleState).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/transcript", s.handleTranscript).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "no such endpoint")
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on addr and serves in the background. The bound address is
// returned so ":0" can be used.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("debug listen %s: %w", addr, err)
	}
	s.listener = ln
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("debug server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("debug server listening")
	return ln.Addr().String(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("debug shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	conn := s.src.ConnState()
	status := "ok"
	code := http.StatusOK
	if conn != transport.Open {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	SendJSON(w, code, HealthResponse{
		Status:     status,
		Version:    s.version,
		Connection: conn.String(),
		Uptime:     int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, StateResponse{
		SessionID: s.src.ID(),
		State:     s.src.Store().Snapshot(),
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	msgs := s.src.Transcript()
	out := make([]TranscriptEntry, len(msgs))
	for i, m := range msgs {
		out[i] = TranscriptEntry{Role: m.Role, Agent: m.Agent, Text: m.Text}
	}
	SendJSON(w, http.StatusOK, out)
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				SendError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("debug request")
	})
}
