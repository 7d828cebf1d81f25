// Package registry composes discovery records, the tmux window snapshot, and
// terminal-bridge liveness into the session views served to clients.
//
// The registry owns no caches and no goroutines: freshness is the
// composition of discovery's event-driven map and the tmux manager's
// window cache.
package registry

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/termrelay/relayd/internal/discovery"
	"github.com/termrelay/relayd/internal/tmux"
)

// TmuxStatus is a session's window state at view-construction time.
type TmuxStatus string

const (
	// TmuxActive means the window exists and a client is attached.
	TmuxActive TmuxStatus = "active"
	// TmuxDetached means the window exists with no client attached.
	TmuxDetached TmuxStatus = "detached"
	// TmuxNone means no window exists for the session.
	TmuxNone TmuxStatus = "none"
)

// ClaudeState is the assistant's inferred activity, derived from the last
// message role and the window state.
type ClaudeState string

const (
	// StateWaiting: the assistant answered last and is waiting on the user.
	StateWaiting ClaudeState = "waiting"
	// StateThinking: the user spoke last; the assistant is presumably working.
	StateThinking ClaudeState = "thinking"
	// StateIdle: no window exists; nothing is running.
	StateIdle ClaudeState = "idle"
	// StateUnknown: a window exists but the last role could not be read.
	StateUnknown ClaudeState = "unknown"
)

// View is one session as served to clients.
type View struct {
	ID                  string         `json:"id"`
	ProjectHash         string         `json:"projectHash"`
	ProjectPath         string         `json:"projectPath"`
	LastMessagePreview  string         `json:"lastMessagePreview"`
	LastMessageRole     discovery.Role `json:"lastMessageRole"`
	Timestamp           time.Time      `json:"timestamp"`
	CLIVersion          string         `json:"cliVersion,omitempty"`
	TmuxStatus          TmuxStatus     `json:"tmuxStatus"`
	HasActiveConnection bool           `json:"hasActiveConnection"`
	ClaudeState         ClaudeState    `json:"claudeState"`

	// StateLabel is what clients display: the claude state, except that
	// unknown falls back to the tmux status label.
	StateLabel string `json:"stateLabel"`
}

// ProjectGroup summarizes the sessions of one project.
type ProjectGroup struct {
	ProjectPath     string    `json:"projectPath"`
	ProjectName     string    `json:"projectName"`
	SessionCount    int       `json:"sessionCount"`
	LatestTimestamp time.Time `json:"latestTimestamp"`
}

// Source is the discovery surface the registry consumes.
type Source interface {
	GetAll() []*discovery.Metadata
	Get(id string) *discovery.Metadata
}

// WindowLister is the tmux surface the registry consumes.
type WindowLister interface {
	ListOwned(ctx context.Context) (map[string]tmux.Window, error)
}

// ConnectionChecker reports live terminal connections (the bridge).
type ConnectionChecker interface {
	Connected(sessionID string) bool
}

// Registry builds session views on demand.
type Registry struct {
	source  Source
	windows WindowLister
	conns   ConnectionChecker
}

// New creates a registry over the three state owners.
func New(source Source, windows WindowLister, conns ConnectionChecker) *Registry {
	return &Registry{source: source, windows: windows, conns: conns}
}

// ListSessions returns a view per discovered session, newest first.
// A tmux listing failure degrades to "no windows" rather than failing the
// request; the discovery data is still useful on its own.
func (r *Registry) ListSessions(ctx context.Context) []View {
	owned := r.ownedSnapshot(ctx)

	records := r.source.GetAll()
	views := make([]View, 0, len(records))
	for _, m := range records {
		views = append(views, r.buildView(m, owned))
	}
	return views
}

// GetSession returns one session's view, or nil if discovery doesn't know
// the id.
func (r *Registry) GetSession(ctx context.Context, id string) *View {
	m := r.source.Get(id)
	if m == nil {
		return nil
	}
	v := r.buildView(m, r.ownedSnapshot(ctx))
	return &v
}

// HasSession reports whether discovery knows the id.
func (r *Registry) HasSession(id string) bool {
	return r.source.Get(id) != nil
}

// ProjectPathOf returns the project path for a session, or "" if unknown.
func (r *Registry) ProjectPathOf(id string) string {
	m := r.source.Get(id)
	if m == nil {
		return ""
	}
	return m.ProjectPath
}

// GroupedByProject summarizes sessions per project, most recent first.
func (r *Registry) GroupedByProject() []ProjectGroup {
	groups := make(map[string]*ProjectGroup)
	for _, m := range r.source.GetAll() {
		key := m.ProjectPath
		if key == "" {
			key = m.ProjectHash
		}
		g, ok := groups[key]
		if !ok {
			name := filepath.Base(key)
			if name == "." || name == string(filepath.Separator) || name == "" {
				name = key
			}
			g = &ProjectGroup{ProjectPath: key, ProjectName: name}
			groups[key] = g
		}
		g.SessionCount++
		if m.Timestamp.After(g.LatestTimestamp) {
			g.LatestTimestamp = m.Timestamp
		}
	}

	out := make([]ProjectGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LatestTimestamp.After(out[j].LatestTimestamp)
	})
	return out
}

// ownedSnapshot takes a fresh owned-window snapshot, degrading to empty.
func (r *Registry) ownedSnapshot(ctx context.Context) map[string]tmux.Window {
	owned, err := r.windows.ListOwned(ctx)
	if err != nil {
		return map[string]tmux.Window{}
	}
	return owned
}

// buildView maps one discovery record to a view using the window snapshot
// and the bridge's liveness predicate.
func (r *Registry) buildView(m *discovery.Metadata, owned map[string]tmux.Window) View {
	status := TmuxNone
	if w, ok := owned[m.ID]; ok {
		if w.Attached {
			status = TmuxActive
		} else {
			status = TmuxDetached
		}
	}

	state := deriveState(m.LastMessageRole, status)
	label := string(state)
	if state == StateUnknown {
		label = string(status)
	}

	return View{
		ID:                  m.ID,
		ProjectHash:         m.ProjectHash,
		ProjectPath:         m.ProjectPath,
		LastMessagePreview:  m.LastMessagePreview,
		LastMessageRole:     m.LastMessageRole,
		Timestamp:           m.Timestamp,
		CLIVersion:          m.CLIVersion,
		TmuxStatus:          status,
		HasActiveConnection: r.conns != nil && r.conns.Connected(m.ID),
		ClaudeState:         state,
		StateLabel:          label,
	}
}

// deriveState implements the claude-state table: no window means idle;
// otherwise the last role decides.
func deriveState(role discovery.Role, status TmuxStatus) ClaudeState {
	if status == TmuxNone {
		return StateIdle
	}
	switch role {
	case discovery.RoleAssistant:
		return StateWaiting
	case discovery.RoleUser:
		return StateThinking
	default:
		return StateUnknown
	}
}
