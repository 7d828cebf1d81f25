package server

import (
	"fmt"
	"net/http"

	"github.com/termrelay/relayd/internal/errors"
	"github.com/termrelay/relayd/internal/metrics"
	"github.com/termrelay/relayd/internal/storage"
)

// attachResponse is the body of a successful attach request.
type attachResponse struct {
	WSURL       string `json:"wsUrl"`
	TmuxSession string `json:"tmuxSession"`
	Existed     bool   `json:"existed"`
	AttachToken string `json:"attachToken"`
}

// handleAttach serves POST /api/sessions/{id}/attach.
//
// Order matters: validation, then the rate limit (counting every attempt,
// successful or not), then the lock-serialized attach decision in the tmux
// manager, then the token mint. The whole create-or-adopt sequence runs
// under the per-session lock inside Attach, so concurrent requests for the
// same id cannot both spawn a window.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if !s.limiter.Allow(id) {
		metrics.AttachRejectsTotal.WithLabelValues(errors.CodeRateLimited).Inc()
		writeError(w, errors.RateLimited(id))
		return
	}

	// The session must be known somewhere: discovery (a conversation log
	// exists) or tmux (a window survived a daemon restart).
	if !s.registry.HasSession(id) {
		owned, err := s.tmux.ListOwned(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if _, ok := owned[id]; !ok {
			writeError(w, errors.SessionNotFound(id))
			return
		}
	}

	result, err := s.tmux.Attach(r.Context(), id, s.registry.ProjectPathOf(id))
	if err != nil {
		metrics.AttachRejectsTotal.WithLabelValues(errors.GetCode(err)).Inc()
		writeError(w, err)
		return
	}

	token, err := s.tokens.Generate(id)
	if err != nil {
		writeError(w, errors.Internal("failed to mint attach token", err))
		return
	}

	s.audit(r.Context(), id, storage.EventAttach, fmt.Sprintf("existed=%t", result.Existed))
	writeJSON(w, http.StatusOK, attachResponse{
		WSURL:       "/terminal/" + id,
		TmuxSession: result.WindowName,
		Existed:     result.Existed,
		AttachToken: token,
	})
}
