package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"medassist/internal/core"
	"medassist/pkg"
)

const maxBodyBytes = 1 << 20

// Chatter answers one chat message.  *core.ChatService implements it.
type Chatter interface {
	HandleChat(ctx context.Context, req pkg.PipelineRequest) (pkg.PipelineResponse, error)
}

// Transcripts is the read side of the history store used by the
// conversation endpoints.
type Transcripts interface {
	core.HistoryStore
	ListConversations(ctx context.Context, limit int) ([]pkg.ConversationPreview, error)
}

// Subscriber yields IDs of conversations as their transcripts are committed.
type Subscriber interface {
	Listen(ctx context.Context) (<-chan string, error)
}

// Options configures the HTTP layer.  Updates may be nil, in which case the
// stream endpoint sends the current transcript once and closes.
type Options struct {
	RequestTimeout time.Duration
	Updates        Subscriber
	Logger         *slog.Logger
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.Server.
type Server struct {
	Router      *chi.Mux
	Chat        Chatter
	Transcripts Transcripts
	Updates     Subscriber
	logger      *slog.Logger
}

// NewServer builds the router.  The chat route runs under the request
// timeout; the transcript stream is long-lived and does not.
func NewServer(chat Chatter, transcripts Transcripts, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{
		Router:      chi.NewRouter(),
		Chat:        chat,
		Transcripts: transcripts,
		Updates:     opts.Updates,
		logger:      logger,
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "medassist")
	})

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(timeout))
		r.Post("/chat", s.handleChat)
		r.Get("/api/conversations", s.handleListConversations)
		r.Get("/api/conversations/{id}", s.handleGetConversation)
	})
	r.Get("/api/conversations/{id}/stream", s.handleConversationStream)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat runs the pipeline for one message.  Model failures never reach
// this layer; only malformed requests and unexpected faults produce errors.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req pkg.ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, pkg.ErrorResponse{Error: "invalid_request", Message: "request body must be a JSON object"})
		return
	}

	resp, err := s.Chat.HandleChat(r.Context(), req.PipelineRequest())
	if err != nil {
		var inErr *core.InputError
		if errors.As(err, &inErr) {
			writeJSON(w, http.StatusBadRequest, pkg.ErrorResponse{Error: "invalid_input", Message: inErr.Error()})
			return
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			writeJSON(w, http.StatusServiceUnavailable, pkg.ErrorResponse{Error: "busy", Message: "The conversation is busy. Please try again."})
			return
		}
		s.logger.Error("chat request failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, pkg.ErrorResponse{Error: "internal_error", Message: "An unexpected error occurred."})
		return
	}
	writeJSON(w, http.StatusOK, pkg.NewChatResponse(resp))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.Transcripts.ListConversations(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list conversations", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, pkg.ErrorResponse{Error: "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type conversationView struct {
	ID         string         `json:"id"`
	Transcript pkg.Transcript `json:"transcript"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok, err := s.Transcripts.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load conversation", slog.String("conversation_id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, pkg.ErrorResponse{Error: "internal_error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, pkg.ErrorResponse{Error: "not_found", Message: "conversation not found"})
		return
	}
	if t == nil {
		t = pkg.Transcript{}
	}
	writeJSON(w, http.StatusOK, conversationView{ID: id, Transcript: t})
}

// handleConversationStream streams transcript updates for a conversation
// using SSE.  It sends the current transcript, then one event per commit.
func (s *Server) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var updates <-chan string
	if s.Updates != nil {
		ch, err := s.Updates.Listen(ctx)
		if err != nil {
			s.logger.Error("failed to subscribe to transcript updates", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, pkg.ErrorResponse{Error: "unavailable"})
			return
		}
		updates = ch
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.sendTranscriptEvent(ctx, w, id); err != nil {
		s.logger.Warn("failed to send transcript event", slog.String("error", err.Error()))
		return
	}
	flusher.Flush()
	if updates == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case changed, ok := <-updates:
			if !ok {
				return
			}
			if changed != id {
				continue
			}
			if err := s.sendTranscriptEvent(ctx, w, id); err != nil {
				s.logger.Warn("failed to send transcript event", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) sendTranscriptEvent(ctx context.Context, w http.ResponseWriter, id string) error {
	t, ok, err := s.Transcripts.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		t = pkg.Transcript{}
	}
	data, err := json.Marshal(conversationView{ID: id, Transcript: t})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: transcript_update\ndata: %s\n\n", data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
