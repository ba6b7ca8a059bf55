package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/observability"
	"github.com/go-chi/chi/v5"
)

// streamThread handles GET /threads/{threadID}/events.
func (s *Server) streamThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if !s.owns(w, r, threadID, true) {
		return
	}
	s.stream(w, r, threadID)
}

// streamAll handles GET /events. With authentication enabled only the
// caller's threads would be visible, so the global stream is refused.
func (s *Server) streamAll(w http.ResponseWriter, r *http.Request) {
	if _, ok := CallerFrom(r.Context()); ok {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "subscribe to a thread stream instead"})
		return
	}
	s.stream(w, r, "")
}

// stream writes lifecycle events as server-sent events. The optional
// "types" query parameter is a comma separated filter of event types.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, threadID string) {
	if s.events == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "event streaming is not enabled"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
		return
	}

	var filter map[domain.EventType]bool
	if types := r.URL.Query().Get("types"); types != "" {
		filter = map[domain.EventType]bool{}
		for _, t := range strings.Split(types, ",") {
			filter[domain.EventType(strings.TrimSpace(t))] = true
		}
	}

	events := s.events.Subscribe(r.Context(), threadID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filter != nil && !filter[ev.Type] {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Warn("sse write failed", "thread_id", threadID, "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev observability.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
