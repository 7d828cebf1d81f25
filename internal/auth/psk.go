// Package auth provides authentication for the relay daemon: bearer
// credential checks on HTTP routes and the single-use attach tokens that
// gate terminal WebSocket connections.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/termrelay/relayd/internal/errors"
)

// Authorizer validates the pre-shared key on authenticated routes.
//
// Two modes are supported:
//   - plaintext key: compared with a constant-time comparison
//   - bcrypt hash: the config file holds only the hash, and the presented
//     key is checked with bcrypt (which is itself timing-safe)
//
// When both are configured, the hash wins so secrets can be rotated out of
// the config file without a second code path on the caller's side.
type Authorizer struct {
	key  string
	hash string
}

// NewAuthorizer creates an Authorizer from a plaintext key and/or bcrypt hash.
// At least one must be non-empty; config validation enforces that before the
// daemon starts.
func NewAuthorizer(key, hash string) *Authorizer {
	return &Authorizer{key: key, hash: hash}
}

// Authorize checks the Authorization header of a request.
// Expected format: "Bearer <psk>". Missing, malformed, or mismatched
// credentials all return the same UNAUTHORIZED error.
func (a *Authorizer) Authorize(r *http.Request) error {
	token := bearerToken(r)
	if token == "" {
		return errors.Unauthorized()
	}
	if !a.check(token) {
		return errors.Unauthorized()
	}
	return nil
}

// check compares a presented credential against the configured key or hash.
func (a *Authorizer) check(token string) bool {
	if a.hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.hash), []byte(token)) == nil
	}
	if a.key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.key), []byte(token)) == 1
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns "" if the header is missing or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
