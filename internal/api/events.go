package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// eventHeartbeatInterval is how often an SSE comment is written to keep
// idle connections from being reaped by intermediaries.
const eventHeartbeatInterval = 15 * time.Second

// handleEvents streams engine notifications as server-sent events. Each
// event's name is the engine kind and its data is the JSON payload. The
// stream ends when the client disconnects or the engine stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, unsubscribe := s.calls.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Tell the client it is connected before the first engine event.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(eventHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				// Engine stopped.
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("events: failed to marshal event", "error", err, "kind", ev.Kind.String())
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind.String(), payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
