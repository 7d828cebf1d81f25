package tmux

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
)

// probeCLIProcess checks the OS process table for an assistant CLI already
// resuming this session outside the daemon (e.g., the user ran it in a local
// terminal). Attaching a second CLI to the same conversation corrupts it, so
// the attach is refused with SESSION_CONFLICT.
//
// The probe runs `pgrep -f` with the regex-escaped session id next to the
// resume flag. pgrep exits 1 when nothing matches; that is "no conflict",
// not an error.
func (m *Manager) probeCLIProcess(ctx context.Context, sessionID string) (bool, error) {
	pattern := fmt.Sprintf("--resume[ =]%s", regexp.QuoteMeta(sessionID))
	cmd := m.execCommand(ctx, "pgrep", "-f", pattern)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if isPgrepNoMatch(err) {
			return false, nil
		}
		return false, fmt.Errorf("pgrep failed: %w", err)
	}

	// Our own windows run the CLI with --resume too; only processes outside
	// daemon-owned tmux windows count as conflicts. tmux re-parents the CLI
	// under the tmux server, so filter matches whose pid belongs to a window
	// we own by checking the window for this id.
	pids := strings.Fields(strings.TrimSpace(string(output)))
	if len(pids) == 0 {
		return false, nil
	}

	owned, err := m.ListOwned(ctx)
	if err != nil {
		return true, nil // Matches exist and ownership is unknown: conservative.
	}
	if _, ok := owned[sessionID]; ok {
		// The matching process is (or includes) our own window's CLI.
		return false, nil
	}
	return true, nil
}

// ReconcileResult reports what startup reconciliation found.
type ReconcileResult struct {
	// KilledPIDs are orphaned attach processes that were terminated.
	KilledPIDs []string

	// AdoptedSessions are session ids of owned windows that survived a
	// daemon restart. Callers typically warn the user and adopt them.
	AdoptedSessions []string
}

// Reconcile cleans up after an unclean daemon shutdown.
//
// A crashed daemon can leave `tmux attach-session -t <prefix>-<id>` processes
// behind whose WebSocket is long gone. They are located by exact argument
// match — never a broad pattern kill — and terminated. Surviving owned
// windows are returned so the caller can adopt them.
func (m *Manager) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	// Exact full-command match for our attach processes. The id part of the
	// name is constrained to the UUID shape so an unrelated process whose
	// arguments merely contain the prefix cannot match.
	pattern := fmt.Sprintf("^tmux attach-session -t %s-[0-9a-f-]{36}$", regexp.QuoteMeta(m.cfg.Prefix))
	cmd := m.execCommand(ctx, "pgrep", "-f", pattern)
	output, err := cmd.CombinedOutput()
	if err != nil && !isPgrepNoMatch(err) {
		log.Printf("tmux: reconcile probe failed: %v", err)
	} else if err == nil {
		for _, pid := range strings.Fields(strings.TrimSpace(string(output))) {
			killCmd := m.execCommand(ctx, "kill", pid)
			if killOut, killErr := killCmd.CombinedOutput(); killErr != nil {
				log.Printf("tmux: reconcile kill %s failed: %s", pid, strings.TrimSpace(string(killOut)))
				continue
			}
			result.KilledPIDs = append(result.KilledPIDs, pid)
		}
	}

	owned, err := m.ListOwned(ctx)
	if err != nil {
		return result, err
	}
	for id := range owned {
		result.AdoptedSessions = append(result.AdoptedSessions, id)
	}

	if len(result.KilledPIDs) > 0 || len(result.AdoptedSessions) > 0 {
		log.Printf("tmux: reconcile killed %d orphaned attach processes, adopted %d windows",
			len(result.KilledPIDs), len(result.AdoptedSessions))
	}
	return result, nil
}

// isPgrepNoMatch reports whether pgrep exited 1, meaning no process matched.
func isPgrepNoMatch(err error) bool {
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode() == 1
	}
	return false
}
