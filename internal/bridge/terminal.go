package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"

	"github.com/termrelay/relayd/internal/metrics"
)

// errSessionBusy is returned by Attach when the session already has a live
// terminal. The route layer never sees it as a 5xx; the socket has already
// been closed with CloseAlreadyAttached.
var errSessionBusy = errors.New("session already has an active terminal")

// controlMessage is the JSON envelope carried by client text frames.
// The version field is reserved; absent or zero means the current protocol.
type controlMessage struct {
	Version int    `json:"version,omitempty"`
	Type    string `json:"type"`
	Cols    int    `json:"cols"`
	Rows    int    `json:"rows"`
}

// Terminal is one live PTY↔WebSocket binding.
type Terminal struct {
	bridge     *Bridge
	sessionID  string
	windowName string
	conn       *websocket.Conn
	cmd        *exec.Cmd
	ptmx       *os.File
	createdAt  time.Time
	cols, rows int

	// mu guards cleanedUp and missedPongs.
	mu          sync.Mutex
	cleanedUp   bool
	missedPongs int

	// buf accumulates PTY output between batch flushes; bufMu guards it.
	bufMu sync.Mutex
	buf   *outputBuffer

	// outstanding approximates the socket's buffered amount: bytes handed
	// to the write pump but not yet written. Flushes pause above
	// backpressureLimit.
	outstanding atomic.Int64

	// writeCh feeds the single write pump; gorilla allows one writer.
	writeCh chan []byte

	// dead is set when either pump observes a socket failure.
	dead atomic.Bool

	// suppress is set while the initial flush-suppression window is open.
	suppress atomic.Bool

	// exited is closed when the PTY child has been reaped.
	exited chan struct{}

	// stop is closed by shutdown to end the timer goroutines.
	stop     chan struct{}
	stopOnce sync.Once
}

// newTerminal spawns the PTY for a window and wires the terminal struct.
// The pumps are not started until start() so the bridge can insert the map
// entry first.
func newTerminal(b *Bridge, sessionID, windowName string, conn *websocket.Conn, cols, rows int) (*Terminal, error) {
	cmd := exec.Command("tmux", "attach-session", "-t", windowName)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	if home, err := os.UserHomeDir(); err == nil {
		cmd.Dir = home
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY for %s: %w", windowName, err)
	}

	t := &Terminal{
		bridge:     b,
		sessionID:  sessionID,
		windowName: windowName,
		conn:       conn,
		cmd:        cmd,
		ptmx:       ptmx,
		createdAt:  time.Now(),
		cols:       cols,
		rows:       rows,
		buf:        newOutputBuffer(bufferCap),
		writeCh:    make(chan []byte, 64),
		exited:     make(chan struct{}),
		stop:       make(chan struct{}),
	}
	t.suppress.Store(true)
	return t, nil
}

// start launches the pumps and timers.
func (t *Terminal) start() {
	t.conn.SetPongHandler(func(string) error {
		t.mu.Lock()
		t.missedPongs = 0
		t.mu.Unlock()
		return nil
	})

	// End of the suppression window: force a redraw at the client's size.
	time.AfterFunc(initialFlushSuppression, func() {
		t.suppress.Store(false)
		if err := t.resize(t.cols, t.rows); err != nil {
			log.Printf("bridge: initial resize for %s: %v", t.sessionID, err)
		}
	})

	go t.readPTY()
	go t.flushLoop()
	go t.writePump()
	go t.readWS()
	go t.heartbeatLoop()
	go t.waitExit()
}

// socketDead reports whether the WebSocket is known to be closed or failing.
func (t *Terminal) socketDead() bool {
	return t.dead.Load()
}

// markDead records a socket failure and triggers cleanup.
func (t *Terminal) markDead() {
	if t.dead.CompareAndSwap(false, true) {
		go t.bridge.cleanup(t.sessionID, t)
	}
}

// readPTY pumps PTY output into the batch buffer.
func (t *Terminal) readPTY() {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 && !t.suppress.Load() {
			t.bufMu.Lock()
			t.buf.Append(buf[:n])
			t.bufMu.Unlock()
		}
		if err != nil {
			// EOF or EIO: the PTY child went away. waitExit handles the
			// close handshake; nothing to do here.
			return
		}
	}
}

// flushLoop coalesces buffered output into binary frames on the batch
// interval, pausing while the socket's outstanding bytes exceed the
// backpressure limit. Skipping the tick is the reschedule: the FIFO keeps
// absorbing (and, at the cap, head-evicting) in the meantime.
func (t *Terminal) flushLoop() {
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if t.outstanding.Load() > backpressureLimit {
				continue
			}
			t.flush()
		case <-t.stop:
			return
		}
	}
}

// flush drains the buffer into the write pump.
func (t *Terminal) flush() {
	t.bufMu.Lock()
	frame := t.buf.Drain()
	t.bufMu.Unlock()
	if frame == nil {
		return
	}

	t.outstanding.Add(int64(len(frame)))
	select {
	case t.writeCh <- frame:
	case <-t.stop:
		t.outstanding.Add(-int64(len(frame)))
	}
}

// writePump is the sole socket writer.
func (t *Terminal) writePump() {
	for {
		select {
		case frame := <-t.writeCh:
			err := t.conn.WriteMessage(websocket.BinaryMessage, frame)
			t.outstanding.Add(-int64(len(frame)))
			if err != nil {
				t.markDead()
				return
			}
			metrics.BytesOut.Add(float64(len(frame)))
		case <-t.stop:
			return
		}
	}
}

// readWS pumps client frames: binary to the PTY, text through the control
// envelope.
func (t *Terminal) readWS() {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.markDead()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if _, err := t.ptmx.Write(data); err != nil {
				log.Printf("bridge: PTY write for %s failed: %v", t.sessionID, err)
			}
			metrics.BytesIn.Add(float64(len(data)))
		case websocket.TextMessage:
			t.handleControl(data)
		}
	}
}

// handleControl parses a text frame as a control envelope. Only resize is
// recognized; anything else is dropped with a warning.
func (t *Terminal) handleControl(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("bridge: dropping malformed control frame for %s: %v", t.sessionID, err)
		return
	}
	if msg.Version > 1 {
		log.Printf("bridge: dropping control frame with version %d for %s", msg.Version, t.sessionID)
		return
	}

	switch msg.Type {
	case "resize":
		if err := t.resize(msg.Cols, msg.Rows); err != nil {
			log.Printf("bridge: resize for %s failed: %v", t.sessionID, err)
		}
	default:
		log.Printf("bridge: dropping unknown control type %q for %s", msg.Type, t.sessionID)
	}
}

// resize changes the PTY dimensions, which signals SIGWINCH to the child so
// TUI programs redraw.
func (t *Terminal) resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", cols, rows)
	}
	return pty.Setsize(t.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// heartbeatLoop pings the client and terminates the socket when too many
// pings go unanswered.
func (t *Terminal) heartbeatLoop() {
	ticker := time.NewTicker(t.bridge.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			t.missedPongs++
			missed := t.missedPongs
			t.mu.Unlock()

			if missed > t.bridge.cfg.MaxMissedPongs {
				log.Printf("bridge: session %s missed %d pongs, terminating socket", t.sessionID, missed-1)
				t.markDead()
				return
			}
			deadline := time.Now().Add(t.bridge.cfg.HeartbeatInterval / 2)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.markDead()
				return
			}
		case <-t.stop:
			return
		}
	}
}

// waitExit reaps the PTY child. A natural exit (the user detached or the
// window died) flushes pending output and closes the socket normally.
func (t *Terminal) waitExit() {
	_ = t.cmd.Wait()
	close(t.exited)

	t.mu.Lock()
	alreadyCleaned := t.cleanedUp
	t.mu.Unlock()
	if alreadyCleaned {
		return
	}

	// Final flush, bypassing the batch timer.
	t.bufMu.Lock()
	frame := t.buf.Drain()
	t.bufMu.Unlock()
	if frame != nil {
		_ = t.conn.WriteMessage(websocket.BinaryMessage, frame)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Terminal session ended")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	t.bridge.cleanup(t.sessionID, t)
}

// shutdown stops the pumps, closes the socket, and terminates the PTY
// child: SIGTERM first, SIGKILL after killGrace if it is still alive.
// Called exactly once, from Bridge.cleanup.
func (t *Terminal) shutdown() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.conn.Close()

	// Closing the master makes the child's reads fail, which usually ends
	// `tmux attach-session` on its own; the signals cover the rest.
	t.ptmx.Close()

	if t.cmd.Process != nil {
		select {
		case <-t.exited:
			return
		default:
		}

		_ = t.cmd.Process.Signal(syscall.SIGTERM)

		select {
		case <-t.exited:
		case <-time.After(killGrace):
			log.Printf("bridge: escalating to SIGKILL for session %s", t.sessionID)
			_ = t.cmd.Process.Kill()
			<-t.exited
		}
	}
}
