package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	err := New(CodeNotFound, "session abc not found", "refresh")
	want := "NOT_FOUND: session abc not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCodedError_ErrorWithCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeUnknown, "save failed", "retry", cause)
	if got := err.Error(); got != "UNKNOWN: save failed (disk full)" {
		t.Errorf("Error() = %q", got)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"coded", SessionAttached("abc"), CodeSessionAttached},
		{"wrapped coded", fmt.Errorf("outer: %w", RateLimited("abc")), CodeRateLimited},
		{"plain", stderrors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFields(t *testing.T) {
	code, msg, action := Fields(SessionConflict("id-1"))
	if code != CodeSessionConflict {
		t.Errorf("code = %q", code)
	}
	if msg == "" || action == "" {
		t.Error("expected non-empty message and action")
	}

	code, _, action = Fields(stderrors.New("boom"))
	if code != CodeUnknown {
		t.Errorf("plain error code = %q", code)
	}
	if action == "" {
		t.Error("plain errors still need an action hint")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeInvalidSessionID, http.StatusBadRequest},
		{CodeInvalidPath, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeDirNotFound, http.StatusNotFound},
		{CodeSessionAttached, http.StatusConflict},
		{CodeSessionConflict, http.StatusConflict},
		{CodeMaxSessions, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeUnknown, http.StatusInternalServerError},
		{"something-else", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestIsCode(t *testing.T) {
	if !IsCode(MaxSessions(4), CodeMaxSessions) {
		t.Error("IsCode should match")
	}
	if IsCode(MaxSessions(4), CodeNotFound) {
		t.Error("IsCode should not match a different code")
	}
}
