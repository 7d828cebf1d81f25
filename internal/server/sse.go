package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/termrelay/relayd/internal/metrics"
)

// keepaliveInterval is how often an SSE comment keeps idle streams open
// through proxies.
const keepaliveInterval = 30 * time.Second

// handleSessionStream serves GET /api/sessions/stream.
//
// Standard text/event-stream: an initial "sessions" snapshot, then one
// event per debounced discovery change, with keepalive comments in between.
// Disconnected clients surface as write errors on the next frame and the
// handler returns, unsubscribing.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.SSEClients.Inc()
	defer metrics.SSEClients.Dec()

	changes := s.disco.Subscribe()
	defer s.disco.Unsubscribe(changes)

	if err := s.writeSessionsEvent(w, r); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			if err := s.writeSessionsEvent(w, r); err != nil {
				log.Printf("server: SSE write failed, dropping client: %v", err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSessionsEvent writes one "sessions" frame with the current views.
func (s *Server) writeSessionsEvent(w http.ResponseWriter, r *http.Request) error {
	views := s.registry.ListSessions(r.Context())
	data, err := json.Marshal(views)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: sessions\ndata: %s\n\n", data)
	return err
}
