// Package server exposes the chat gateway over HTTP: a synchronous JSON
// endpoint, a server-sent event stream, a health check and a small read-only
// session API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/cors"

	"github.com/user/chatagent/internal/gateway"
	"github.com/user/chatagent/internal/state"
	"github.com/user/chatagent/internal/turn"
	"github.com/user/chatagent/internal/types"
	"github.com/user/chatagent/pkg/llm"
)

const maxRequestBytes = 1 << 20

// Mode selects how POST /api/chat answers by default.
const (
	ModeSync   = "sync"
	ModeStream = "stream"
)

// ChatService is the gateway as seen by the HTTP layer.
type ChatService interface {
	Complete(ctx context.Context, sessionID types.SessionID, message string) (*gateway.Reply, error)
	Stream(ctx context.Context, sessionID types.SessionID, message string) (types.SessionID, iter.Seq[turn.Event], error)
	Sessions(ctx context.Context) ([]*types.SessionInfo, error)
	History(ctx context.Context, id types.SessionID) ([]llm.Message, error)
}

// Options configures a Server.
type Options struct {
	// Mode is ModeSync (default) or ModeStream.
	Mode string
	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler
}

// Server is the HTTP front of the chat service.
type Server struct {
	chat    ChatService
	mode    string
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer creates a Server for chat with the given options.
func NewServer(chat ChatService, opts Options) *Server {
	mode := opts.Mode
	if mode != ModeStream {
		mode = ModeSync
	}
	s := &Server{
		chat: chat,
		mode: mode,
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}

	// Browsers call the API from arbitrary front-end origins.
	c := cors.New(cors.Options{
		AllowOriginFunc:  func(string) bool { return true },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	s.handler = logRequests(c.Handler(s.mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.mode == ModeStream || wantsEventStream(r) {
		s.handleChatStream(w, r)
		return
	}

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	reply, err := s.chat.Complete(r.Context(), types.SessionID(req.SessionID), req.Message)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	_, events, err := s.chat.Stream(r.Context(), types.SessionID(req.SessionID), req.Message)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}

	sse, err := newEventWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	for ev := range events {
		if err := sse.Send(ev); err != nil {
			slog.Debug("stream client gone", "error", err)
			return
		}
	}
}

func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gateway.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case r.Context().Err() != nil:
		// Client went away; nobody is listening for the answer.
		slog.Debug("chat request cancelled", "error", err)
	default:
		slog.Error("chat turn failed", "error", err)
		writeError(w, http.StatusBadGateway, "backend failure")
	}
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.chat.Sessions(r.Context())
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if sessions == nil {
		sessions = []*types.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(r.PathValue("id"))
	messages, err := s.chat.History(r.Context(), id)
	if errors.Is(err, state.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("load history failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if messages == nil {
		messages = []llm.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
