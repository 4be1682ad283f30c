package logutil

import "strings"

// SanitizeForLog flattens newlines and strips control characters from
// strings that originate outside the process (instance names, device names,
// API response fragments) so they cannot forge extra log lines.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32:
			// drop remaining control characters
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate shortens diagnostic snippets kept for troubleshooting. Raw API
// bodies and process stderr can be arbitrarily large; only the head is
// useful in a log line or a stored outcome.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
