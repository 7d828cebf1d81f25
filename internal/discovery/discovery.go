// Package discovery maintains session metadata harvested from the assistant
// CLI's on-disk conversation logs.
//
// The CLI writes one JSONL file per session under
// <logDir>/<projectHash>/<sessionId>.jsonl. Discovery scans that tree,
// parses a small head and tail window of each file into Metadata, watches
// the tree for changes, and fans out debounced change events to subscribers
// (the SSE stream). A versioned JSON cache under the daemon's config
// directory warms the map across restarts.
package discovery

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/termrelay/relayd/internal/metrics"
)

const (
	// fullScanInterval is the safety-net rescan period. The watcher catches
	// changes in real time; the rescan picks up anything it missed.
	fullScanInterval = 120 * time.Second

	// writeStability is how long a file must be quiet after a watcher event
	// before it is reparsed. The CLI appends records in bursts.
	writeStability = 500 * time.Millisecond

	// changeCoalesce is the debounce window for change events.
	changeCoalesce = 2 * time.Second

	// saveDebounce is the debounce window for persisting the cache.
	saveDebounce = 5 * time.Second
)

// Role is the author of a session's most recent message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleUnknown   Role = "unknown"
)

// Metadata is one session's discovered state. Records are immutable once
// installed; a reparse installs a replacement.
type Metadata struct {
	// ID is the session id (the log file's base name).
	ID string `json:"id"`

	// ProjectHash is the on-disk directory name containing the log file.
	ProjectHash string `json:"projectHash"`

	// ProjectPath is where the CLI was invoked, from the log's first cwd
	// field, or synthesized from ProjectHash when the log never records one.
	ProjectPath string `json:"projectPath"`

	// LastMessagePreview is up to 200 characters of the most recent
	// user/assistant message, with a trailing ellipsis when truncated.
	LastMessagePreview string `json:"lastMessagePreview"`

	// LastMessageRole is who wrote the most recent message.
	LastMessageRole Role `json:"lastMessageRole"`

	// Timestamp is the log file's modification time.
	Timestamp time.Time `json:"timestamp"`

	// CLIVersion is the CLI version harvested from the log, if present.
	CLIVersion string `json:"cliVersion,omitempty"`
}

// Discovery watches the CLI log directory and maintains the metadata map.
type Discovery struct {
	logDir    string
	cacheFile string

	mu       sync.RWMutex
	sessions map[string]*Metadata // session id -> record
	mtimes   map[string]int64     // file path -> last seen mtime (ms)

	watcher *fsnotify.Watcher

	// pending holds per-path write-stability timers.
	pendingMu sync.Mutex
	pending   map[string]*time.Timer

	// changeTimer coalesces change notifications; saveTimer debounces the
	// persistent cache write. Both guarded by timerMu.
	timerMu     sync.Mutex
	changeTimer *time.Timer
	saveTimer   *time.Timer

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Discovery for the given log directory and cache file path.
// Call Start to begin scanning and watching.
func New(logDir, cacheFile string) *Discovery {
	return &Discovery{
		logDir:    logDir,
		cacheFile: cacheFile,
		sessions:  make(map[string]*Metadata),
		mtimes:    make(map[string]int64),
		pending:   make(map[string]*time.Timer),
		subs:      make(map[chan struct{}]struct{}),
		done:      make(chan struct{}),
	}
}

// Start loads the persistent cache (best effort), performs a full scan,
// starts the recursive watcher, and schedules the periodic rescan.
func (d *Discovery) Start() error {
	d.loadCache()
	d.fullScan()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	d.watcher = watcher

	// Watch the root and every existing project directory (depth 2: the
	// session files live one level down).
	if err := watcher.Add(d.logDir); err != nil {
		log.Printf("discovery: cannot watch %s: %v", d.logDir, err)
	}
	entries, err := os.ReadDir(d.logDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				if err := watcher.Add(filepath.Join(d.logDir, e.Name())); err != nil {
					log.Printf("discovery: cannot watch %s: %v", e.Name(), err)
				}
			}
		}
	}

	d.wg.Add(2)
	go d.watchLoop()
	go d.rescanLoop()
	return nil
}

// Stop closes the watcher, cancels timers, and flushes the cache
// synchronously.
func (d *Discovery) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		if d.watcher != nil {
			d.watcher.Close()
		}
	})
	d.wg.Wait()

	d.timerMu.Lock()
	if d.changeTimer != nil {
		d.changeTimer.Stop()
	}
	if d.saveTimer != nil {
		d.saveTimer.Stop()
	}
	d.timerMu.Unlock()

	d.pendingMu.Lock()
	for _, t := range d.pending {
		t.Stop()
	}
	d.pendingMu.Unlock()

	if err := d.saveCache(); err != nil {
		log.Printf("discovery: final cache flush failed: %v", err)
	}
}

// GetAll returns all known sessions, newest first.
func (d *Discovery) GetAll() []*Metadata {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Metadata, 0, len(d.sessions))
	for _, m := range d.sessions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Get returns one session's metadata, or nil if unknown.
func (d *Discovery) Get(id string) *Metadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[id]
}

// GetByProject groups sessions by project key (project path, falling back to
// the hash), each group newest first.
func (d *Discovery) GetByProject() map[string][]*Metadata {
	grouped := make(map[string][]*Metadata)
	for _, m := range d.GetAll() {
		key := m.ProjectPath
		if key == "" {
			key = m.ProjectHash
		}
		grouped[key] = append(grouped[key], m)
	}
	return grouped
}

// Subscribe registers a change listener. The returned channel receives one
// signal per debounced change event; slow receivers never block delivery.
func (d *Discovery) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	d.subsMu.Lock()
	d.subs[ch] = struct{}{}
	d.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a listener registered with Subscribe.
func (d *Discovery) Unsubscribe(ch chan struct{}) {
	d.subsMu.Lock()
	delete(d.subs, ch)
	d.subsMu.Unlock()
}

// rescanLoop runs the periodic full scan.
func (d *Discovery) rescanLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(fullScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.fullScan()
		case <-d.done:
			return
		}
	}
}

// fullScan walks the log tree, reparsing changed files and removing entries
// whose files disappeared.
func (d *Discovery) fullScan() {
	seen := make(map[string]bool)
	seenIDs := make(map[string]bool)

	entries, err := os.ReadDir(d.logDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("discovery: scan of %s failed: %v", d.logDir, err)
		}
		return
	}

	for _, projEntry := range entries {
		if !projEntry.IsDir() {
			continue
		}
		projDir := filepath.Join(d.logDir, projEntry.Name())
		files, err := os.ReadDir(projDir)
		if err != nil {
			continue
		}
		for _, fe := range files {
			if fe.IsDir() || !strings.HasSuffix(fe.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(projDir, fe.Name())
			seen[path] = true
			seenIDs[sessionIDFromPath(path)] = true
			d.scanFile(path, projEntry.Name())
		}
	}

	// Remove entries whose files were not seen in this pass.
	d.mu.Lock()
	removed := 0
	for path := range d.mtimes {
		if !seen[path] {
			delete(d.mtimes, path)
			id := sessionIDFromPath(path)
			if _, ok := d.sessions[id]; ok {
				delete(d.sessions, id)
				removed++
			}
		}
	}
	// Entries warmed from the cache have no mtime record yet.
	for id := range d.sessions {
		if !seenIDs[id] {
			delete(d.sessions, id)
			removed++
		}
	}
	count := len(d.sessions)
	d.mu.Unlock()

	metrics.SessionsDiscovered.Set(float64(count))
	if removed > 0 {
		d.notifyChanged()
	}
}

// scanFile stats one log file and reparses it if its mtime moved.
func (d *Discovery) scanFile(path, projectHash string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mtimeMs := info.ModTime().UnixMilli()

	d.mu.RLock()
	prev, known := d.mtimes[path]
	d.mu.RUnlock()
	if known && prev == mtimeMs {
		return
	}

	d.parseAndInstall(path, projectHash, info.ModTime(), mtimeMs)
}

// parseAndInstall parses a log file and installs the resulting record.
//
// Parse failures keep any pre-existing entry (a truncated write should not
// blank a session out of the list); a brand-new file that cannot be parsed
// gets a placeholder so the session is at least visible.
func (d *Discovery) parseAndInstall(path, projectHash string, mtime time.Time, mtimeMs int64) {
	id := sessionIDFromPath(path)

	meta, err := parseLogFile(path)
	if err != nil {
		log.Printf("discovery: parse %s failed: %v", path, err)
		d.mu.Lock()
		d.mtimes[path] = mtimeMs
		if _, exists := d.sessions[id]; !exists {
			d.sessions[id] = &Metadata{
				ID:                 id,
				ProjectHash:        projectHash,
				ProjectPath:        synthesizeProjectPath(projectHash),
				LastMessagePreview: "(unable to read)",
				LastMessageRole:    RoleUnknown,
				Timestamp:          mtime,
			}
		}
		d.mu.Unlock()
		d.notifyChanged()
		return
	}

	meta.ID = id
	meta.ProjectHash = projectHash
	meta.Timestamp = mtime
	if meta.ProjectPath == "" {
		meta.ProjectPath = synthesizeProjectPath(projectHash)
	}

	d.mu.Lock()
	d.mtimes[path] = mtimeMs
	d.sessions[id] = meta
	d.mu.Unlock()

	d.notifyChanged()
}

// watchLoop consumes fsnotify events.
func (d *Discovery) watchLoop() {
	defer d.wg.Done()

	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("discovery: watcher error: %v", err)
		case <-d.done:
			return
		}
	}
}

// handleEvent routes one watcher event.
func (d *Discovery) handleEvent(event fsnotify.Event) {
	path := event.Name

	// New project directory: start watching it and scan its contents.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if filepath.Dir(path) == d.logDir {
				if err := d.watcher.Add(path); err != nil {
					log.Printf("discovery: cannot watch new dir %s: %v", path, err)
				}
				d.fullScan()
			}
			return
		}
	}

	if !strings.HasSuffix(path, ".jsonl") {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		d.removeFile(path)
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		d.scheduleReparse(path)
	}
}

// scheduleReparse arms (or re-arms) the write-stability timer for a path.
// The file is reparsed once it has been quiet for writeStability.
func (d *Discovery) scheduleReparse(path string) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if t, ok := d.pending[path]; ok {
		t.Reset(writeStability)
		return
	}
	d.pending[path] = time.AfterFunc(writeStability, func() {
		d.pendingMu.Lock()
		delete(d.pending, path)
		d.pendingMu.Unlock()

		select {
		case <-d.done:
			return
		default:
		}
		d.scanFile(path, filepath.Base(filepath.Dir(path)))
	})
}

// removeFile drops the entry and mtime record for an unlinked log file.
func (d *Discovery) removeFile(path string) {
	id := sessionIDFromPath(path)

	d.mu.Lock()
	delete(d.mtimes, path)
	_, existed := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()

	if existed {
		log.Printf("discovery: session %s removed (log unlinked)", id)
		d.notifyChanged()
	}
}

// notifyChanged schedules the debounced change event and cache save.
func (d *Discovery) notifyChanged() {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if d.changeTimer == nil {
		d.changeTimer = time.AfterFunc(changeCoalesce, d.emitChange)
	} else {
		d.changeTimer.Reset(changeCoalesce)
	}

	if d.saveTimer == nil {
		d.saveTimer = time.AfterFunc(saveDebounce, func() {
			if err := d.saveCache(); err != nil {
				log.Printf("discovery: cache save failed: %v", err)
			}
		})
	} else {
		d.saveTimer.Reset(saveDebounce)
	}
}

// emitChange signals every subscriber. A subscriber that has not drained its
// previous signal is skipped; the signal carries no payload, so one pending
// signal is as good as two.
func (d *Discovery) emitChange() {
	d.timerMu.Lock()
	d.changeTimer = nil
	d.timerMu.Unlock()

	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// sessionIDFromPath derives the session id from a log file path.
func sessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// synthesizeProjectPath derives a plausible project path from the hashed
// directory name the CLI uses: a leading "-" is the filesystem root and the
// remaining dashes are path separators.
func synthesizeProjectPath(projectHash string) string {
	if projectHash == "" {
		return ""
	}
	rest := strings.ReplaceAll(strings.TrimPrefix(projectHash, "-"), "-", "/")
	if strings.HasPrefix(projectHash, "-") {
		return "/" + rest
	}
	return rest
}
