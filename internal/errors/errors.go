// Package errors provides the stable error codes surfaced to relay clients.
//
// Codes are flat UPPER_SNAKE identifiers that clients can rely on for
// programmatic handling. Every client-visible error also carries a
// human-readable message and a user-actionable hint ("action") telling the
// operator what to do about it.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced over the wire.
// These are stable identifiers; clients branch on them.
const (
	CodeInvalidSessionID = "INVALID_SESSION_ID" // Session id is not canonical UUID v4
	CodeInvalidPath      = "INVALID_PATH"       // Project path is malformed
	CodeForbidden        = "FORBIDDEN"          // Path is outside configured project roots
	CodeNotFound         = "NOT_FOUND"          // Session does not exist
	CodeDirNotFound      = "DIR_NOT_FOUND"      // Project directory does not exist
	CodeRateLimited      = "RATE_LIMITED"       // Too many attach attempts for this session
	CodeSessionAttached  = "SESSION_ATTACHED"   // Another client already holds the terminal
	CodeSessionConflict  = "SESSION_CONFLICT"   // A CLI process with this session id is already running on the host
	CodeMaxSessions      = "MAX_SESSIONS"       // Concurrent window limit reached
	CodeUnauthorized     = "UNAUTHORIZED"       // Missing or invalid bearer credential
	CodeTimeout          = "TIMEOUT"            // Operation timed out
	CodeUnknown          = "UNKNOWN"            // Unclassified internal error
)

// CodedError wraps an error with a stable code and an actionable hint.
// This is the only error shape that crosses the HTTP boundary.
type CodedError struct {
	Code    string // Stable error code (e.g., "SESSION_ATTACHED")
	Message string // Human-readable error message
	Action  string // What the user should do about it
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code, message, and action hint.
func New(code, message, action string) *CodedError {
	return &CodedError{Code: code, Message: message, Action: action}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message, action string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Action: action, Cause: cause}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that are not CodedErrors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Fields extracts the wire triple (code, message, action) from an error.
// Non-coded errors map to UNKNOWN with a generic action.
func Fields(err error) (code, message, action string) {
	if err == nil {
		return "", "", ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message, coded.Action
	}
	return CodeUnknown, err.Error(), "Retry, and check the daemon log if the problem persists"
}

// HTTPStatus maps an error code to the HTTP status it is served with.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalidSessionID, CodeInvalidPath:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeDirNotFound:
		return http.StatusNotFound
	case CodeSessionAttached, CodeSessionConflict, CodeMaxSessions:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Constructors for the common cases.

// InvalidSessionID creates an INVALID_SESSION_ID error.
func InvalidSessionID(id string) *CodedError {
	return New(CodeInvalidSessionID,
		fmt.Sprintf("session id %q is not a valid UUID", id),
		"Use the id exactly as reported by the session list")
}

// SessionNotFound creates a NOT_FOUND error for a session id.
func SessionNotFound(id string) *CodedError {
	return New(CodeNotFound,
		fmt.Sprintf("session %s not found", id),
		"Refresh the session list and pick an existing session")
}

// DirNotFound creates a DIR_NOT_FOUND error.
func DirNotFound(path string) *CodedError {
	return New(CodeDirNotFound,
		fmt.Sprintf("directory %s does not exist", path),
		"Create the directory on the host or pick an existing one")
}

// Forbidden creates a FORBIDDEN error for a path outside the configured roots.
func Forbidden(path string) *CodedError {
	return New(CodeForbidden,
		fmt.Sprintf("path %s is outside the configured project roots", path),
		"Add the directory to project_roots in the daemon config")
}

// RateLimited creates a RATE_LIMITED error.
func RateLimited(id string) *CodedError {
	return New(CodeRateLimited,
		fmt.Sprintf("too many attach attempts for session %s", id),
		"Wait a few seconds before retrying")
}

// SessionAttached creates a SESSION_ATTACHED error.
func SessionAttached(id string) *CodedError {
	return New(CodeSessionAttached,
		fmt.Sprintf("session %s already has an active terminal", id),
		"Disconnect the other client first, or pick a different session")
}

// SessionConflict creates a SESSION_CONFLICT error.
func SessionConflict(id string) *CodedError {
	return New(CodeSessionConflict,
		fmt.Sprintf("a CLI process is already running session %s on the host", id),
		"Close the CLI on your host first, or pick a different session")
}

// MaxSessions creates a MAX_SESSIONS error.
func MaxSessions(limit int) *CodedError {
	return New(CodeMaxSessions,
		fmt.Sprintf("the maximum of %d concurrent sessions is reached", limit),
		"Kill an existing session before starting another")
}

// Unauthorized creates an UNAUTHORIZED error.
func Unauthorized() *CodedError {
	return New(CodeUnauthorized,
		"missing or invalid authorization token",
		"Check the auth token configured on the client")
}

// Internal creates an UNKNOWN error wrapping an internal failure.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeUnknown, message,
		"Retry, and check the daemon log if the problem persists", cause)
}
