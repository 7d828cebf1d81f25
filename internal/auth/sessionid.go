package auth

import "regexp"

// sessionIDPattern matches the canonical UUID v4 text form: 8-4-4-4-12 hex
// groups with the version nibble fixed to 4 and the variant nibble in [89ab].
// Session ids are interpolated into tmux window names and process arguments,
// so anything else is rejected before it reaches a subprocess.
var sessionIDPattern = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidSessionID reports whether s is a canonical lowercase UUID v4.
func ValidSessionID(s string) bool {
	return sessionIDPattern.MatchString(s)
}
