package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termrelay/relayd/internal/auth"
	"github.com/termrelay/relayd/internal/storage"
)

// WebSocket close codes in the 44xx authentication/authorization class.
// Clients must not retry these; other codes are retriable.
const (
	closeInvalidSession = 4400
	closeBadToken       = 4401
)

// handleTerminal serves GET /terminal/{id}: the terminal WebSocket.
//
// The socket authenticates with the single-use attach token from the query
// string, not the PSK — the token already proves an authenticated attach
// for exactly this session. Failures are reported as close codes so the
// client can distinguish "don't retry" (44xx) from transient trouble: that
// requires completing the upgrade first.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: terminal upgrade failed: %v", err)
		return
	}

	id := r.PathValue("id")
	if !auth.ValidSessionID(id) {
		closeWith(conn, closeInvalidSession, "invalid session id")
		return
	}

	token := r.URL.Query().Get("token")
	if result := s.tokens.Consume(token, id); result != auth.ConsumeOK {
		log.Printf("server: terminal token rejected for %s: %s", id, result)
		closeWith(conn, closeBadToken, "invalid or expired attach token")
		return
	}

	cols := queryInt(r, "cols", 80)
	rows := queryInt(r, "rows", 24)

	if err := s.bridge.Attach(id, s.tmux.WindowName(id), conn, cols, rows); err != nil {
		// A busy session was already closed with 4409 by the bridge; only
		// spawn failures still hold an open socket here.
		if conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to attach terminal"),
			time.Now().Add(time.Second)) == nil {
			conn.Close()
		}
		log.Printf("server: terminal attach for %s failed: %v", id, err)
		return
	}

	// r.Context() dies when this handler returns; the hijacked socket
	// lives on, so the audit row gets its own context.
	s.audit(context.Background(), id, storage.EventWSOpen, "")
}

// closeWith sends a close frame and drops the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

// queryInt parses a positive integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
