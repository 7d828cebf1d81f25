package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"
)

// TokenTTL is how long an attach token stays valid after minting.
// The client is expected to open the WebSocket immediately after the attach
// response, so 30 seconds is generous.
const TokenTTL = 30 * time.Second

// sweepInterval is how often expired tokens are removed from the map.
const sweepInterval = 30 * time.Second

// ConsumeResult is the outcome of a token consumption attempt.
type ConsumeResult int

const (
	// ConsumeOK means the token was valid and is now spent.
	ConsumeOK ConsumeResult = iota
	// ConsumeInvalid means the token was never issued (or already swept).
	ConsumeInvalid
	// ConsumeExpired means the token's TTL has passed.
	ConsumeExpired
	// ConsumeMismatch means the token was issued for a different session.
	ConsumeMismatch
	// ConsumeAlreadyUsed means the token was consumed before.
	ConsumeAlreadyUsed
)

// String returns a log-friendly label for the result.
func (r ConsumeResult) String() string {
	switch r {
	case ConsumeOK:
		return "ok"
	case ConsumeInvalid:
		return "invalid"
	case ConsumeExpired:
		return "expired"
	case ConsumeMismatch:
		return "mismatch"
	case ConsumeAlreadyUsed:
		return "already_used"
	default:
		return "unknown"
	}
}

// attachToken is the stored state for one minted token.
type attachToken struct {
	sessionID string
	expiresAt time.Time
	used      bool
}

// TokenManager mints and consumes single-use attach tokens.
//
// A token proves the bearer completed an authenticated attach request for a
// specific session id. It is consumable exactly once; after consumption the
// entry is removed. Expired entries are swept periodically.
type TokenManager struct {
	mu      sync.Mutex
	tokens  map[string]*attachToken
	done    chan struct{}
	once    sync.Once
	timeNow func() time.Time
}

// NewTokenManager creates a token manager and starts its sweep loop.
// Call Stop on shutdown to end the loop.
func NewTokenManager() *TokenManager {
	m := &TokenManager{
		tokens:  make(map[string]*attachToken),
		done:    make(chan struct{}),
		timeNow: time.Now,
	}
	go m.sweepLoop()
	return m
}

// Generate mints a new attach token for the given session id.
// The token is 32 bytes of cryptographic randomness, base64url-encoded
// without padding.
func (m *TokenManager) Generate(sessionID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate attach token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	m.mu.Lock()
	m.tokens[token] = &attachToken{
		sessionID: sessionID,
		expiresAt: m.timeNow().Add(TokenTTL),
	}
	m.mu.Unlock()

	return token, nil
}

// Consume atomically looks up a token and marks it used.
//
// Only ConsumeOK grants access. On success the entry is removed; every
// failure leaves the entry in place for the sweep so repeated attempts keep
// failing the same way rather than flipping to "invalid".
func (m *TokenManager) Consume(token, sessionID string) ConsumeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.tokens[token]
	if !ok {
		return ConsumeInvalid
	}
	if entry.used {
		return ConsumeAlreadyUsed
	}
	if m.timeNow().After(entry.expiresAt) {
		return ConsumeExpired
	}
	if entry.sessionID != sessionID {
		return ConsumeMismatch
	}

	entry.used = true
	delete(m.tokens, token)
	return ConsumeOK
}

// Stop ends the sweep loop. Safe to call more than once.
func (m *TokenManager) Stop() {
	m.once.Do(func() { close(m.done) })
}

// sweepLoop removes expired tokens periodically.
func (m *TokenManager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

// sweep removes all entries whose TTL has passed.
func (m *TokenManager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeNow()
	removed := 0
	for token, entry := range m.tokens {
		if now.After(entry.expiresAt) {
			delete(m.tokens, token)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("auth: swept %d expired attach tokens", removed)
	}
}
