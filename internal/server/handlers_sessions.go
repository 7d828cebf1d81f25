package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/termrelay/relayd/internal/errors"
	"github.com/termrelay/relayd/internal/storage"
)

// handleListSessions serves GET /api/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListSessions(r.Context()))
}

// handleGetSession serves GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view := s.registry.GetSession(r.Context(), id)
	if view == nil {
		writeError(w, errors.SessionNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// killResponse is the body of POST /api/sessions/{id}/kill.
type killResponse struct {
	Success bool `json:"success"`
	Existed bool `json:"existed"`
}

// killAllResponse is the body of POST /api/sessions/kill-all.
type killAllResponse struct {
	Success bool `json:"success"`
	Killed  int  `json:"killed"`
}

// handleKill serves POST /api/sessions/{id}/kill.
func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	owned, err := s.tmux.ListOwned(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	_, existed := owned[id]

	if err := s.tmux.KillSession(r.Context(), s.tmux.WindowName(id)); err != nil {
		writeError(w, err)
		return
	}

	s.audit(r.Context(), id, storage.EventKill, fmt.Sprintf("existed=%t", existed))
	writeJSON(w, http.StatusOK, killResponse{Success: true, Existed: existed})
}

// handleKillAll serves POST /api/sessions/kill-all.
func (s *Server) handleKillAll(w http.ResponseWriter, r *http.Request) {
	killed, err := s.tmux.KillAllOwned(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	s.audit(r.Context(), "", storage.EventKillAll, fmt.Sprintf("killed=%d", killed))
	writeJSON(w, http.StatusOK, killAllResponse{Success: true, Killed: killed})
}

// handleProjects serves GET /api/projects.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GroupedByProject())
}

// directoryEntry is one row of the /api/directories listing.
type directoryEntry struct {
	Group string `json:"group"`
	Name  string `json:"name"`
	Path  string `json:"path"`
}

// handleDirectories serves GET /api/directories: the subdirectories of each
// configured project root, tagged with the root's group label. Unreadable
// roots are skipped; an operator typo should not 500 the whole listing.
func (s *Server) handleDirectories(w http.ResponseWriter, r *http.Request) {
	dirs := []directoryEntry{}
	for _, root := range s.cfg.ProjectRoots {
		entries, err := os.ReadDir(root.Path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			dirs = append(dirs, directoryEntry{
				Group: root.Label,
				Name:  e.Name(),
				Path:  filepath.Join(root.Path, e.Name()),
			})
		}
	}
	writeJSON(w, http.StatusOK, dirs)
}

// newSessionRequest is the body of POST /api/sessions/new.
type newSessionRequest struct {
	ProjectPath string `json:"projectPath"`
}

// newSessionResponse mirrors the attach response for a fresh session.
type newSessionResponse struct {
	SessionID   string `json:"sessionId"`
	TmuxSession string `json:"tmuxSession"`
	WSURL       string `json:"wsUrl"`
	AttachToken string `json:"attachToken"`
}

// handleNewSession serves POST /api/sessions/new: validates the project
// path against the configured roots, spawns a fresh CLI window there, and
// mints an attach token for the immediate WebSocket connect.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req newSessionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, errors.New(errors.CodeInvalidPath, "request body must be JSON with a projectPath field",
			"Send {\"projectPath\": \"/absolute/path\"}"))
		return
	}

	path, err := s.validateProjectPath(req.ProjectPath)
	if err != nil {
		writeError(w, err)
		return
	}

	sessionID, windowName, err := s.tmux.CreateNew(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := s.tokens.Generate(sessionID)
	if err != nil {
		writeError(w, errors.Internal("failed to mint attach token", err))
		return
	}

	s.audit(r.Context(), sessionID, storage.EventCreate, "path="+path)
	writeJSON(w, http.StatusOK, newSessionResponse{
		SessionID:   sessionID,
		TmuxSession: windowName,
		WSURL:       "/terminal/" + sessionID,
		AttachToken: token,
	})
}

// validateProjectPath checks that a requested path is absolute, inside a
// configured project root, and an existing directory.
func (s *Server) validateProjectPath(path string) (string, error) {
	if path == "" || !filepath.IsAbs(path) {
		return "", errors.New(errors.CodeInvalidPath,
			fmt.Sprintf("project path %q must be absolute", path),
			"Pick a directory from /api/directories")
	}
	path = filepath.Clean(path)

	inRoot := false
	for _, root := range s.cfg.ProjectRoots {
		rootPath := filepath.Clean(root.Path)
		if path == rootPath || strings.HasPrefix(path, rootPath+string(filepath.Separator)) {
			inRoot = true
			break
		}
	}
	if !inRoot {
		return "", errors.Forbidden(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.DirNotFound(path)
	}
	if !info.IsDir() {
		return "", errors.New(errors.CodeInvalidPath,
			fmt.Sprintf("%s is not a directory", path),
			"Pick a directory from /api/directories")
	}
	return path, nil
}

// decodeJSONBody decodes a bounded JSON request body.
func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}
