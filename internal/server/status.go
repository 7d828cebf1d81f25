package server

import (
	"log"
	"net/http"
	"time"
)

// statusTmuxSession is one owned window in the status response.
type statusTmuxSession struct {
	SessionID string    `json:"sessionId"`
	Attached  bool      `json:"attached"`
	Created   time.Time `json:"created"`
}

// statusResponse is the body of GET /api/status.
type statusResponse struct {
	Version        string              `json:"version"`
	APIVersion     string              `json:"apiVersion"`
	Claude         string              `json:"claude"`
	ActiveSessions int                 `json:"activeSessions"`
	TmuxSessions   []statusTmuxSession `json:"tmuxSessions"`
	UptimeSeconds  int64               `json:"uptime"`
}

// handleStatus serves GET /api/status, the only unauthenticated route.
// Clients use it as a reachability probe before presenting credentials, so
// it must succeed even when tmux is missing or broken.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions := []statusTmuxSession{}
	owned, err := s.tmux.ListOwned(r.Context())
	if err != nil {
		log.Printf("server: status window listing failed: %v", err)
	} else {
		for id, win := range owned {
			sessions = append(sessions, statusTmuxSession{
				SessionID: id,
				Attached:  win.Attached,
				Created:   win.Created,
			})
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:        s.version,
		APIVersion:     APIVersion,
		Claude:         s.cfg.CLIBinary,
		ActiveSessions: s.bridge.ActiveCount(),
		TmuxSessions:   sessions,
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
	})
}
