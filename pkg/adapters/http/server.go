// Package http exposes a ports.Orchestrator as a JSON API with a
// server-sent event stream of lifecycle events.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/conductor/internal/logging"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/observability"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/aretw0/conductor/pkg/runner"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves the orchestrator API.
type Server struct {
	orch    ports.Orchestrator
	events  *observability.Broadcaster
	auth    *Authenticator
	metrics http.Handler
	logger  *slog.Logger
	version string
}

// Option configures the Server.
type Option func(*Server)

// WithBroadcaster enables the /events streams. The broadcaster's hooks must
// also be installed on the engine.
func WithBroadcaster(b *observability.Broadcaster) Option {
	return func(s *Server) {
		s.events = b
	}
}

// WithAuthenticator requires a bearer token on every API route and scopes
// threads to the token subject.
func WithAuthenticator(a *Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithMetricsHandler mounts h (typically promhttp) at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewHandler creates a new HTTP handler for the orchestrator.
func NewHandler(orch ports.Orchestrator, opts ...Option) http.Handler {
	s := &Server{
		orch:    orch,
		logger:  logging.New(slog.LevelInfo, logging.WithJSON()),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(enableCORS)

	r.Get("/health", s.health)
	r.Get("/info", s.info)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Get("/nodes", s.nodes)
		r.Get("/events", s.streamAll)
		r.Route("/threads", func(r chi.Router) {
			r.Post("/", s.invoke)
			r.Get("/", s.listThreads)
			r.Route("/{threadID}", func(r chi.Router) {
				r.Get("/", s.getThread)
				r.Delete("/", s.deleteThread)
				r.Post("/messages", s.invoke)
				r.Post("/resume", s.resume)
				r.Get("/events", s.streamThread)
			})
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// InvokeRequest is the body of POST /threads and POST /threads/{id}/messages.
type InvokeRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Input    string `json:"input"`
}

// ResumeRequest is the body of POST /threads/{id}/resume.
type ResumeRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ThreadView is the public projection of a thread.
type ThreadView struct {
	ThreadID  string                   `json:"thread_id"`
	UserID    string                   `json:"user_id,omitempty"`
	Status    domain.Status            `json:"status"`
	Node      string                   `json:"node,omitempty"`
	Answer    string                   `json:"answer,omitempty"`
	Interrupt *domain.InterruptRequest `json:"interrupt,omitempty"`
	Plans     []string                 `json:"plans,omitempty"`
	History   []string                 `json:"history,omitempty"`
	Messages  []domain.Message         `json:"messages"`
	Usages    domain.Usage             `json:"usages,omitempty"`
}

func newThreadView(st *domain.State) ThreadView {
	v := ThreadView{
		ThreadID: st.ThreadID,
		UserID:   st.UserID,
		Status:   st.Status,
		Node:     st.Node,
		Answer:   st.Answer,
		Plans:    st.Plans,
		History:  st.History,
		Messages: st.Messages,
		Usages:   st.Usages,
	}
	if st.Pending != nil {
		req := st.Pending.Request
		v.Interrupt = &req
	}
	return v
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"app": "conductor-http", "version": s.version})
}

func (s *Server) nodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Nodes())
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	var body InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if id := chi.URLParam(r, "threadID"); id != "" {
		body.ThreadID = id
	}
	input, err := runner.SanitizeMessage(body.Input)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if caller, ok := CallerFrom(r.Context()); ok {
		body.UserID = caller.Subject
	}
	if body.ThreadID != "" && !s.owns(w, r, body.ThreadID, true) {
		return
	}

	res, err := s.orch.Invoke(r.Context(), ports.Request{ThreadID: body.ThreadID, UserID: body.UserID, Input: input})
	if err != nil {
		s.failDomain(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	var body ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.Name == "" {
		s.fail(w, r, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if text, ok := body.Value.(string); ok {
		clean, err := runner.SanitizeInput(text)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, err)
			return
		}
		body.Value = clean
	}
	if !s.owns(w, r, threadID, false) {
		return
	}

	res, err := s.orch.Resume(r.Context(), ports.ResumeRequest{ThreadID: threadID, Name: body.Name, Value: body.Value})
	if err != nil {
		s.failDomain(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	ids, err := s.orch.Threads(r.Context())
	if err != nil {
		s.failDomain(w, r, err)
		return
	}
	if caller, ok := CallerFrom(r.Context()); ok {
		mine := ids[:0]
		for _, id := range ids {
			st, err := s.orch.Thread(r.Context(), id)
			if err == nil && st.UserID == caller.Subject {
				mine = append(mine, id)
			}
		}
		ids = mine
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"threads": ids})
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	st, ok := s.load(w, r, chi.URLParam(r, "threadID"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newThreadView(st))
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if !s.owns(w, r, threadID, false) {
		return
	}
	if err := s.orch.Delete(r.Context(), threadID); err != nil {
		s.failDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// load fetches a thread the caller is allowed to see. Threads owned by
// someone else are reported as missing.
func (s *Server) load(w http.ResponseWriter, r *http.Request, threadID string) (*domain.State, bool) {
	st, err := s.orch.Thread(r.Context(), threadID)
	if err != nil {
		s.failDomain(w, r, err)
		return nil, false
	}
	if caller, ok := CallerFrom(r.Context()); ok && st.UserID != "" && st.UserID != caller.Subject {
		s.failDomain(w, r, domain.ErrThreadNotFound)
		return nil, false
	}
	return st, true
}

// owns checks access to threadID. A missing thread passes when allowNew is
// set, so a caller can choose the id of a new thread.
func (s *Server) owns(w http.ResponseWriter, r *http.Request, threadID string, allowNew bool) bool {
	if _, ok := CallerFrom(r.Context()); !ok {
		return true
	}
	st, err := s.orch.Thread(r.Context(), threadID)
	if errors.Is(err, domain.ErrThreadNotFound) && allowNew {
		return true
	}
	if err != nil {
		s.failDomain(w, r, err)
		return false
	}
	if caller, _ := CallerFrom(r.Context()); st.UserID != "" && st.UserID != caller.Subject {
		s.failDomain(w, r, domain.ErrThreadNotFound)
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err, "request_id", middleware.GetReqID(r.Context()))
	} else {
		s.logger.Warn("request rejected", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) failDomain(w http.ResponseWriter, r *http.Request, err error) {
	s.fail(w, r, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrThreadSuspended),
		errors.Is(err, domain.ErrNotSuspended),
		errors.Is(err, domain.ErrInterruptMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInterrupt):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
