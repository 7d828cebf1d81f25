// Package tmux manages the detached terminal multiplexer windows that back
// relay sessions.
//
// Each session lives in a tmux session named "<prefix>-<sessionId>" running
// the assistant CLI. The daemon creates these windows detached; clients bind
// to them through a PTY running `tmux attach-session` (see internal/bridge).
// tmux is what makes sessions survive client disconnects.
//
// The package uses explicit argument vectors for every tmux invocation (never
// a shell string), and session ids are validated as UUID v4 before they are
// interpolated into window names or process arguments.
package tmux

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termrelay/relayd/internal/errors"
	"github.com/termrelay/relayd/internal/lock"
)

// cacheTTL is how long a window listing stays fresh before the next
// ListWindows call re-runs `tmux list-sessions`.
const cacheTTL = 10 * time.Second

// listFormat is the format string for tmux list-sessions. Tab-delimited to
// avoid parsing issues with the default colon delimiter.
//   - #{session_name}: the window name
//   - #{session_attached}: 1 if a client is attached, 0 if not
//   - #{session_created}: unix timestamp of creation
const listFormat = "#{session_name}\t#{session_attached}\t#{session_created}"

// Window describes one tmux session as seen by list-sessions.
type Window struct {
	// Name is the tmux session name (e.g., "relay-<uuid>").
	Name string `json:"name"`

	// Attached indicates whether a client is currently bound.
	Attached bool `json:"attached"`

	// Created is when the tmux session was created.
	Created time.Time `json:"created"`
}

// AttachResult is the outcome of a successful Attach call.
type AttachResult struct {
	// WindowName is the tmux session the client should bind to.
	WindowName string

	// Existed is true when an existing window was adopted rather than
	// a new one spawned.
	Existed bool
}

// ConnectionChecker answers "is a client currently bound to this session?".
// The terminal bridge implements it; injecting the predicate here avoids a
// cyclic dependency between the two packages.
type ConnectionChecker interface {
	Connected(sessionID string) bool
}

// Config holds the manager's spawn defaults.
type Config struct {
	// Prefix is the window-name prefix for daemon-owned sessions.
	Prefix string

	// CLIBinary is the assistant CLI started inside new windows.
	CLIBinary string

	// MaxSessions caps the number of concurrent owned windows.
	MaxSessions int

	// Cols and Rows size newly created windows.
	Cols, Rows int
}

// Manager handles the lifecycle of daemon-owned tmux windows.
//
// It keeps a cached window listing (10s TTL) refreshed on demand and by a
// periodic loop, and serializes the attach decision per session id so
// concurrent attach requests cannot race the read-check-write against tmux.
type Manager struct {
	cfg Config

	// execCommand creates exec.Cmd instances. Tests inject a mock;
	// production uses exec.CommandContext.
	execCommand func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// conns reports live client connections; consulted before attach.
	conns ConnectionChecker

	// locks serializes the attach decision per session id.
	locks *lock.Map

	// cache is the last window listing. cachedAt is the zero time when the
	// cache is invalid.
	mu       sync.Mutex
	cache    []Window
	cachedAt time.Time

	// stopRefresh ends the periodic refresh loop.
	stopRefresh chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a tmux manager using the real exec.CommandContext.
func NewManager(cfg Config, conns ConnectionChecker) *Manager {
	return NewManagerWithExec(cfg, conns, exec.CommandContext)
}

// NewManagerWithExec creates a manager with an injected command factory.
// Tests use this to mock tmux and pgrep invocations.
func NewManagerWithExec(cfg Config, conns ConnectionChecker, execCommand func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Manager {
	m := &Manager{
		cfg:         cfg,
		execCommand: execCommand,
		conns:       conns,
		locks:       lock.NewMap(),
		stopRefresh: make(chan struct{}),
	}
	go m.refreshLoop()
	return m
}

// Stop ends the periodic cache refresh. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopRefresh) })
}

// refreshLoop keeps the window cache warm so list-heavy callers (the session
// registry, the status endpoint) rarely pay for a tmux invocation.
func (m *Manager) refreshLoop() {
	ticker := time.NewTicker(cacheTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.listWindowsFresh(context.Background()); err != nil {
				log.Printf("tmux: cache refresh failed: %v", err)
			}
		case <-m.stopRefresh:
			return
		}
	}
}

// ListWindows returns all tmux sessions, serving from the cache when fresh.
//
// Error handling:
//   - "no server running" means no sessions exist; returned as an empty
//     slice with nil error, not as a failure.
//   - Transient tmux errors empty the cache (treated as "no windows") and
//     propagate so callers can decide.
//   - Malformed output lines are skipped, not fatal.
func (m *Manager) ListWindows(ctx context.Context) ([]Window, error) {
	m.mu.Lock()
	if !m.cachedAt.IsZero() && time.Since(m.cachedAt) < cacheTTL {
		cached := make([]Window, len(m.cache))
		copy(cached, m.cache)
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	return m.listWindowsFresh(ctx)
}

// listWindowsFresh always invokes tmux and updates the cache.
func (m *Manager) listWindowsFresh(ctx context.Context) ([]Window, error) {
	cmd := m.execCommand(ctx, "tmux", "list-sessions", "-F", listFormat)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if isNoServerRunning(string(output), err) {
			m.setCache([]Window{})
			return []Window{}, nil
		}
		// Transient failure: empty the cache so stale windows don't linger.
		m.invalidate()
		return nil, errors.Internal("failed to list tmux sessions", err)
	}

	windows := parseListOutput(string(output))
	m.setCache(windows)
	return windows, nil
}

// ListOwned returns the daemon-owned windows keyed by session id.
// Ownership is by name prefix; the prefix is stripped to recover the id, and
// names whose remainder is not a valid UUID are ignored.
func (m *Manager) ListOwned(ctx context.Context) (map[string]Window, error) {
	windows, err := m.ListWindows(ctx)
	if err != nil {
		return nil, err
	}

	owned := make(map[string]Window)
	prefix := m.cfg.Prefix + "-"
	for _, w := range windows {
		if !strings.HasPrefix(w.Name, prefix) {
			continue
		}
		id := strings.TrimPrefix(w.Name, prefix)
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		owned[id] = w
	}
	return owned, nil
}

// WindowName returns the tmux session name for a session id.
func (m *Manager) WindowName(sessionID string) string {
	return m.cfg.Prefix + "-" + sessionID
}

// Attach ensures a window exists for the session and reports whether it was
// adopted or created. The whole decision runs under the per-session lock.
//
// Sequence:
//  1. live WebSocket for this id → SESSION_ATTACHED
//  2. CLI process already resuming this id on the host → SESSION_CONFLICT
//  3. owned-window count at the cap and no window for this id → MAX_SESSIONS
//  4. window exists → adopt
//  5. spawn a detached window running `<cli> --resume <id>`
func (m *Manager) Attach(ctx context.Context, sessionID, projectPath string) (*AttachResult, error) {
	var result *AttachResult
	err := m.locks.Acquire(sessionID, func() error {
		r, err := m.attachLocked(ctx, sessionID, projectPath)
		result = r
		return err
	})
	return result, err
}

func (m *Manager) attachLocked(ctx context.Context, sessionID, projectPath string) (*AttachResult, error) {
	if m.conns != nil && m.conns.Connected(sessionID) {
		return nil, errors.SessionAttached(sessionID)
	}

	conflict, err := m.probeCLIProcess(ctx, sessionID)
	if err != nil {
		log.Printf("tmux: conflict probe failed for %s: %v", sessionID, err)
		// Probe failure is not a reason to block the attach.
	} else if conflict {
		return nil, errors.SessionConflict(sessionID)
	}

	owned, err := m.ListOwned(ctx)
	if err != nil {
		return nil, err
	}

	name := m.WindowName(sessionID)
	if _, ok := owned[sessionID]; ok {
		return &AttachResult{WindowName: name, Existed: true}, nil
	}

	if len(owned) >= m.cfg.MaxSessions {
		return nil, errors.MaxSessions(m.cfg.MaxSessions)
	}

	args := []string{
		"new-session", "-d",
		"-s", name,
		"-x", strconv.Itoa(m.cfg.Cols),
		"-y", strconv.Itoa(m.cfg.Rows),
	}
	if projectPath != "" {
		args = append(args, "-c", projectPath)
	}
	args = append(args, m.cfg.CLIBinary, "--resume", sessionID)

	cmd := m.execCommand(ctx, "tmux", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.Internal(
			fmt.Sprintf("failed to create tmux session %s: %s", name, strings.TrimSpace(string(output))), err)
	}

	m.invalidate()
	log.Printf("tmux: created window %s (resume)", name)
	return &AttachResult{WindowName: name, Existed: false}, nil
}

// CreateNew spawns a window for a brand-new session at projectPath.
// The CLI is started without a resume flag; it mints its own conversation,
// which discovery picks up from the log directory.
func (m *Manager) CreateNew(ctx context.Context, projectPath string) (sessionID, windowName string, err error) {
	owned, err := m.ListOwned(ctx)
	if err != nil {
		return "", "", err
	}
	if len(owned) >= m.cfg.MaxSessions {
		return "", "", errors.MaxSessions(m.cfg.MaxSessions)
	}

	sessionID = uuid.New().String()
	windowName = m.WindowName(sessionID)

	cmd := m.execCommand(ctx, "tmux",
		"new-session", "-d",
		"-s", windowName,
		"-x", strconv.Itoa(m.cfg.Cols),
		"-y", strconv.Itoa(m.cfg.Rows),
		"-c", projectPath,
		m.cfg.CLIBinary,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", "", errors.Internal(
			fmt.Sprintf("failed to create tmux session %s: %s", windowName, strings.TrimSpace(string(output))), err)
	}

	m.invalidate()
	log.Printf("tmux: created window %s (new) in %s", windowName, projectPath)
	return sessionID, windowName, nil
}

// KillSession destroys a window by name. "No such window" is not an error;
// the window may have been killed externally between listing and killing.
func (m *Manager) KillSession(ctx context.Context, windowName string) error {
	cmd := m.execCommand(ctx, "tmux", "kill-session", "-t", windowName)
	output, err := cmd.CombinedOutput()
	m.invalidate()
	if err != nil {
		if isNoSuchSession(string(output)) {
			return nil
		}
		return errors.Internal(fmt.Sprintf("failed to kill tmux session %s", windowName), err)
	}
	return nil
}

// KillAllOwned destroys every daemon-owned window and returns how many were
// killed. Individual kill failures are logged and skipped.
func (m *Manager) KillAllOwned(ctx context.Context) (int, error) {
	owned, err := m.ListOwned(ctx)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, w := range owned {
		if err := m.KillSession(ctx, w.Name); err != nil {
			log.Printf("tmux: kill %s failed: %v", w.Name, err)
			continue
		}
		killed++
	}
	return killed, nil
}

// DisableStatusBar turns off the tmux status line in a window so it does not
// occupy a row of the bridged terminal. Cosmetic; errors are the caller's to
// ignore.
func (m *Manager) DisableStatusBar(ctx context.Context, windowName string) error {
	cmd := m.execCommand(ctx, "tmux", "set-option", "-t", windowName, "status", "off")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("set-option status off for %s: %s: %w", windowName, strings.TrimSpace(string(output)), err)
	}
	return nil
}

// invalidate drops the cached listing.
func (m *Manager) invalidate() {
	m.mu.Lock()
	m.cache = nil
	m.cachedAt = time.Time{}
	m.mu.Unlock()
}

// setCache installs a fresh listing.
func (m *Manager) setCache(windows []Window) {
	m.mu.Lock()
	m.cache = windows
	m.cachedAt = time.Now()
	m.mu.Unlock()
}

// parseListOutput parses tab-delimited list-sessions output.
// Malformed lines are skipped rather than failing the listing.
func parseListOutput(output string) []Window {
	windows := []Window{}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		w, err := parseListLine(line)
		if err != nil {
			log.Printf("tmux: skipping malformed list-sessions line %q: %v", line, err)
			continue
		}
		windows = append(windows, w)
	}
	return windows
}

// parseListLine parses one line of the form name\tattached\tcreated.
func parseListLine(line string) (Window, error) {
	parts := strings.Split(line, "\t")
	if len(parts) != 3 {
		return Window{}, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}

	created, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Window{}, fmt.Errorf("invalid created timestamp: %w", err)
	}

	return Window{
		Name:     parts[0],
		Attached: parts[1] == "1",
		Created:  time.Unix(created, 0),
	}, nil
}

// isNoServerRunning checks whether tmux failed because no server exists.
// When there are no sessions at all, tmux exits 1 with a message that varies
// by version.
func isNoServerRunning(output string, err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no server running") ||
		strings.Contains(lower, "error connecting to") ||
		strings.Contains(lower, "no sessions")
}

// isNoSuchSession checks whether a kill failed because the window is gone.
func isNoSuchSession(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "can't find session") ||
		strings.Contains(lower, "session not found") ||
		strings.Contains(lower, "no server running") ||
		strings.Contains(lower, "error connecting to")
}
