package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// attachInterval allows one attach attempt per session per interval.
	attachInterval = 5 * time.Second

	// limiterSweepInterval is how often idle limiter entries are removed.
	limiterSweepInterval = 60 * time.Second

	// limiterIdleAge is how long an untouched entry survives a sweep.
	limiterIdleAge = 60 * time.Second
)

// attachLimiter rate-limits attach attempts per session id.
// Entries are created on first use and swept once idle so the map does not
// grow with every session id ever probed.
type attachLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	done    chan struct{}
	once    sync.Once
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newAttachLimiter creates the limiter and starts its sweep loop.
func newAttachLimiter() *attachLimiter {
	l := &attachLimiter{
		entries: make(map[string]*limiterEntry),
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether an attach attempt for this session may proceed.
func (l *attachLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[sessionID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(attachInterval), 1)}
		l.entries[sessionID] = e
	}
	e.lastSeen = time.Now()
	return e.lim.Allow()
}

// Stop ends the sweep loop.
func (l *attachLimiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *attachLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

func (l *attachLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-limiterIdleAge)
	for id, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, id)
		}
	}
}
