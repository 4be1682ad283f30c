package logutil

import "testing"

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"titan-e2e", "titan-e2e"},
		{"evil\ninjected line", "evil injected line"},
		{"tab\there\rand\nthere", "tab here and there"},
		{"bell\x07and esc\x1b[31m", "belland esc[31m"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeForLog(tt.in); got != tt.want {
			t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 4); got != "abcd..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("abc", 4); got != "abc" {
		t.Errorf("Truncate should not touch short strings, got %q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Errorf("Truncate with max 0 should be a no-op, got %q", got)
	}
}
