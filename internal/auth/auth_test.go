package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestAuthorizer_PlaintextKey(t *testing.T) {
	a := NewAuthorizer("secret-key", "")

	r := httptest.NewRequest("GET", "/api/sessions", nil)
	r.Header.Set("Authorization", "Bearer secret-key")
	if err := a.Authorize(r); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic secret-key"},
		{"wrong key", "Bearer other-key"},
		{"empty token", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/sessions", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if err := a.Authorize(r); err == nil {
				t.Error("expected UNAUTHORIZED")
			}
		})
	}
}

func TestAuthorizer_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuthorizer("", string(hash))

	r := httptest.NewRequest("GET", "/api/sessions", nil)
	r.Header.Set("Authorization", "Bearer secret-key")
	if err := a.Authorize(r); err != nil {
		t.Errorf("valid key rejected against hash: %v", err)
	}

	r = httptest.NewRequest("GET", "/api/sessions", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	if err := a.Authorize(r); err == nil {
		t.Error("expected UNAUTHORIZED for wrong key")
	}
}

func TestTokenManager_SingleUse(t *testing.T) {
	m := NewTokenManager()
	defer m.Stop()

	const sid = "11111111-2222-4333-8444-555555555555"
	token, err := m.Generate(sid)
	if err != nil {
		t.Fatal(err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	if got := m.Consume(token, sid); got != ConsumeOK {
		t.Fatalf("first consume = %v, want ok", got)
	}
	// Consumed tokens are removed, so a replay reads as invalid.
	if got := m.Consume(token, sid); got != ConsumeInvalid {
		t.Errorf("second consume = %v, want invalid", got)
	}
}

func TestTokenManager_Mismatch(t *testing.T) {
	m := NewTokenManager()
	defer m.Stop()

	token, _ := m.Generate("11111111-2222-4333-8444-555555555555")
	if got := m.Consume(token, "99999999-2222-4333-8444-555555555555"); got != ConsumeMismatch {
		t.Errorf("consume = %v, want mismatch", got)
	}
	// The entry survives a mismatch; the right session can still consume it.
	if got := m.Consume(token, "11111111-2222-4333-8444-555555555555"); got != ConsumeOK {
		t.Errorf("consume after mismatch = %v, want ok", got)
	}
}

func TestTokenManager_Expiry(t *testing.T) {
	m := NewTokenManager()
	defer m.Stop()

	now := time.Now()
	m.timeNow = func() time.Time { return now }

	const sid = "11111111-2222-4333-8444-555555555555"
	token, _ := m.Generate(sid)

	// Advance past the TTL.
	m.timeNow = func() time.Time { return now.Add(TokenTTL + time.Second) }
	if got := m.Consume(token, sid); got != ConsumeExpired {
		t.Errorf("consume = %v, want expired", got)
	}

	// The sweep removes it entirely.
	m.sweep()
	if got := m.Consume(token, sid); got != ConsumeInvalid {
		t.Errorf("consume after sweep = %v, want invalid", got)
	}
}

func TestTokenManager_UnknownToken(t *testing.T) {
	m := NewTokenManager()
	defer m.Stop()

	if got := m.Consume("never-issued", "11111111-2222-4333-8444-555555555555"); got != ConsumeInvalid {
		t.Errorf("consume = %v, want invalid", got)
	}
}

func TestValidSessionID(t *testing.T) {
	valid := []string{
		"11111111-2222-4333-8444-555555555555",
		"a81bc81b-dead-4e5d-abff-90865d1e13b1",
		"00000000-0000-4000-9000-000000000000",
	}
	for _, id := range valid {
		if !ValidSessionID(id) {
			t.Errorf("ValidSessionID(%q) = false, want true", id)
		}
	}

	invalid := []string{
		"",
		"not-a-uuid",
		"11111111-2222-1333-8444-555555555555",  // version 1
		"11111111-2222-4333-c444-555555555555",  // bad variant
		"11111111-2222-4333-8444-55555555555",   // short
		"11111111-2222-4333-8444-5555555555556", // long
		"11111111222243338444555555555555",      // no dashes
		"A81BC81B-DEAD-4E5D-ABFF-90865D1E13B1",  // uppercase
		"11111111-2222-4333-8444-555555555555; rm -rf /",
		"$(whoami)-2222-4333-8444-555555555555",
	}
	for _, id := range invalid {
		if ValidSessionID(id) {
			t.Errorf("ValidSessionID(%q) = true, want false", id)
		}
	}
}
