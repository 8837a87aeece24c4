// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/auth"
	"github.com/fruitsalade/drivegate/internal/events"
	"github.com/fruitsalade/drivegate/internal/filemanager"
	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/protocol"
)

// defaultMaxUploadMemory is the multipart memory limit when none is set.
const defaultMaxUploadMemory = 32 << 20

// Server is the HTTP server.
type Server struct {
	manager         *filemanager.Manager
	auth            *auth.Authenticator
	broadcaster     *events.Broadcaster
	maxUploadMemory int64
}

// NewServer creates a new server. authenticator and broadcaster may be
// nil, which disables authentication and the event stream respectively.
func NewServer(
	manager *filemanager.Manager,
	authenticator *auth.Authenticator,
	broadcaster *events.Broadcaster,
	maxUploadMemory int64,
) *Server {
	if maxUploadMemory <= 0 {
		maxUploadMemory = defaultMaxUploadMemory
	}
	return &Server{
		manager:         manager,
		auth:            authenticator,
		broadcaster:     broadcaster,
		maxUploadMemory: maxUploadMemory,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/v1/filemanager/operations", s.handleOperations)
	protected.HandleFunc("POST /api/v1/filemanager/upload", s.handleUpload)
	protected.HandleFunc("POST /api/v1/filemanager/download", s.handleDownload)
	protected.HandleFunc("GET /api/v1/filemanager/image", s.handleImage)
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	var authed http.Handler = protected
	if s.auth != nil {
		authed = s.auth.Middleware(protected)
	}
	mux.Handle("/api/v1/", authed)

	return metrics.Middleware(logging.Middleware(mux))
}

// managerFor binds the manager to the caller's role. Without a role from
// the token the configured policy role applies.
func (s *Server) managerFor(ctx context.Context) (context.Context, *filemanager.Manager) {
	policy := s.manager.Policy()
	role := auth.RoleFromContext(ctx)
	if role == "" {
		role = policy.Role()
	}
	ctx = logging.WithFields(ctx, zap.String("role", role))
	return ctx, s.manager.WithPolicy(policy.WithRole(role))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{
		Status: "ok",
		Store:  s.manager.Store().Type(),
	})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		s.sendError(w, r, http.StatusNotFound, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the headers go out so a client that has seen them
	// cannot miss an event.
	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: logging.GetRequestID(r.Context()),
	})
}
