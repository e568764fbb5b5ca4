package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/internal/streaming"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// handleRunEvents streams the events of one run via Server-Sent Events. The
// current view is sent first so a client that connects late still renders.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, schema.ErrCodeNotFound, "event stream is not enabled")
		return
	}
	p := caller(r)
	runID := r.PathValue("id")
	view, err := s.engine.Status(r.Context(), runID, engine.StatusOptions{UserID: p.scope(), Admin: p.Admin})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.hub.Subscribe(r.Context(), streaming.EventFilter{RunID: runID})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "snapshot", view)
	flusher.Flush()
	if view.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event.EventType, event)
			flusher.Flush()
			if isFinalEvent(event.EventType) {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

// isFinalEvent reports whether no further events follow for the run.
func isFinalEvent(eventType string) bool {
	switch eventType {
	case schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunCancelled, schema.EventRunReaped:
		return true
	}
	return false
}
