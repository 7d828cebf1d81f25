// Package bridge shuttles bytes between a tmux-backed PTY and a client
// WebSocket.
//
// Each attached session gets one terminal: a PTY running
// `tmux attach-session -t <window>` paired with the client's WebSocket.
// PTY output is batched into binary frames with FIFO eviction under
// backpressure; client binary frames are written to the PTY as input; text
// frames carry a small JSON control envelope (resize). A heartbeat detects
// zombie sockets and an orphan reaper sweeps up terminals whose WebSocket
// died without triggering cleanup.
package bridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termrelay/relayd/internal/metrics"
)

const (
	// bufferCap bounds the PTY output FIFO per terminal.
	bufferCap = 1 << 20 // 1 MiB

	// backpressureLimit pauses flushing while this many bytes are queued
	// on the socket and not yet written out.
	backpressureLimit = 64 << 10 // 64 KiB

	// batchInterval coalesces PTY output chunks into one frame.
	batchInterval = 16 * time.Millisecond

	// initialFlushSuppression discards PTY output right after attach while
	// tmux replays its scrollback at the window's old size. After the
	// window a resize forces a clean redraw at the client's dimensions.
	initialFlushSuppression = 500 * time.Millisecond

	// reapInterval is how often terminals with a dead socket are swept.
	reapInterval = 60 * time.Second

	// killGrace is how long cleanup waits after SIGTERM before SIGKILL.
	killGrace = 5 * time.Second

	// CloseAlreadyAttached is the close code sent to a second WebSocket
	// while a session already has an active terminal. Clients must not
	// retry 44xx codes.
	CloseAlreadyAttached = 4409
)

// StatusBarDisabler turns off the tmux status line in a window. The tmux
// manager implements it; failures are cosmetic and ignored.
type StatusBarDisabler interface {
	DisableStatusBar(ctx context.Context, windowName string) error
}

// Config holds the bridge's heartbeat tuning.
type Config struct {
	// HeartbeatInterval is the ping period.
	HeartbeatInterval time.Duration

	// MaxMissedPongs terminates the socket after this many unanswered
	// pings.
	MaxMissedPongs int

	// OnClosed, when set, is invoked once per terminal after its cleanup
	// completes (audit hook).
	OnClosed func(sessionID string)
}

// Bridge owns the active terminals. Its map is the sole source of truth for
// "is a client bound to this session right now?" — the tmux manager and the
// registry consult it rather than keeping parallel flags.
type Bridge struct {
	cfg       Config
	statusBar StatusBarDisabler

	mu        sync.Mutex
	terminals map[string]*Terminal

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a bridge and starts its orphan reaper.
func New(cfg Config, statusBar StatusBarDisabler) *Bridge {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.MaxMissedPongs <= 0 {
		cfg.MaxMissedPongs = 2
	}
	b := &Bridge{
		cfg:       cfg,
		statusBar: statusBar,
		terminals: make(map[string]*Terminal),
		done:      make(chan struct{}),
	}
	go b.reapLoop()
	return b
}

// Connected reports whether a session has an active terminal.
func (b *Bridge) Connected(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminals[sessionID] != nil
}

// ActiveCount returns the number of active terminals.
func (b *Bridge) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.terminals)
}

// Attach binds a WebSocket to a session's tmux window through a new PTY.
//
// If the session already has a terminal whose socket is still alive, the
// new socket is closed with CloseAlreadyAttached and an error is returned.
// A terminal whose socket already died is cleaned up and replaced.
func (b *Bridge) Attach(sessionID, windowName string, conn *websocket.Conn, cols, rows int) error {
	b.mu.Lock()
	if existing := b.terminals[sessionID]; existing != nil {
		if existing.socketDead() {
			// Stale entry: the reaper hasn't run yet. Replace it.
			b.mu.Unlock()
			b.cleanup(sessionID, existing)
			b.mu.Lock()
		} else {
			b.mu.Unlock()
			msg := websocket.FormatCloseMessage(CloseAlreadyAttached, "session already has an active terminal")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			conn.Close()
			return errSessionBusy
		}
	}
	b.mu.Unlock()

	// Cosmetic: the status line would waste a row of the bridged terminal.
	if b.statusBar != nil {
		if err := b.statusBar.DisableStatusBar(context.Background(), windowName); err != nil {
			log.Printf("bridge: disable status bar for %s: %v", windowName, err)
		}
	}

	term, err := newTerminal(b, sessionID, windowName, conn, cols, rows)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.terminals[sessionID] = term
	b.mu.Unlock()

	metrics.TerminalsActive.Inc()
	metrics.AttachesTotal.Inc()

	term.start()
	log.Printf("bridge: attached session %s to window %s (%dx%d)", sessionID, windowName, cols, rows)
	return nil
}

// cleanup tears a terminal down: removes it from the map, terminates the
// PTY child (SIGTERM, then SIGKILL after killGrace), and closes the socket.
//
// Idempotent: repeated calls, including concurrent ones from the WS pump,
// the PTY waiter, and the reaper, perform exactly one termination. The map
// identity check keeps a late cleanup of a replaced terminal from removing
// its successor.
func (b *Bridge) cleanup(sessionID string, term *Terminal) {
	term.mu.Lock()
	if term.cleanedUp {
		term.mu.Unlock()
		return
	}
	term.cleanedUp = true
	term.mu.Unlock()

	b.mu.Lock()
	if b.terminals[sessionID] == term {
		delete(b.terminals, sessionID)
		metrics.TerminalsActive.Dec()
	}
	b.mu.Unlock()

	term.shutdown()
	log.Printf("bridge: cleaned up session %s", sessionID)

	if b.cfg.OnClosed != nil {
		b.cfg.OnClosed(sessionID)
	}
}

// reapLoop periodically cleans up terminals whose socket died without a
// close event reaching us (mobile clients vanish mid-air).
func (b *Bridge) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.reapOrphans()
		case <-b.done:
			return
		}
	}
}

// reapOrphans cleans up every terminal with a dead socket.
func (b *Bridge) reapOrphans() {
	b.mu.Lock()
	var orphans []*Terminal
	var ids []string
	for id, term := range b.terminals {
		if term.socketDead() {
			orphans = append(orphans, term)
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for i, term := range orphans {
		log.Printf("bridge: reaping orphaned terminal for session %s", ids[i])
		b.cleanup(ids[i], term)
	}
}

// Stop cleans up all terminals in parallel and waits for completion.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	terms := make(map[string]*Terminal, len(b.terminals))
	for id, t := range b.terminals {
		terms[id] = t
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for id, term := range terms {
		wg.Add(1)
		go func(id string, term *Terminal) {
			defer wg.Done()
			b.cleanup(id, term)
		}(id, term)
	}
	wg.Wait()
}
