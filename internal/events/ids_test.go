package events

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"a1", true},
		{"agent.name-2_x", true},
		{"", false},
		{"has space", false},
		{"slash/id", false},
		{strings.Repeat("a", 120), true},
		{strings.Repeat("a", 121), false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := ValidAgentID(tt.id); got != tt.want {
				t.Errorf("ValidAgentID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if !regexp.MustCompile(`^session-[0-9a-f]{32}$`).MatchString(id) {
		t.Errorf("unexpected session id %q", id)
	}
	if !ValidSessionID(id) {
		t.Errorf("generated id %q fails validation", id)
	}
	if id == NewSessionID() {
		t.Error("two generated ids collided")
	}
}

func TestSanitizeFilename(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	tests := []struct {
		in   string
		want string
	}{
		{"notes.txt", "notes.txt"},
		{"my file (1).txt", "my-file-1-.txt"},
		{"../../etc/passwd", "etc-passwd"},
		{"---", "file"},
		{"...", "file"},
		{"", "file"},
		{"résumé.pdf", "r-sum-.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeFilename(tt.in)
			if got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !valid.MatchString(got) {
				t.Errorf("output %q has forbidden characters", got)
			}
			if strings.Contains(got, "--") {
				t.Errorf("output %q has consecutive dashes", got)
			}
			if strings.HasPrefix(got, "-") || strings.HasPrefix(got, ".") ||
				strings.HasSuffix(got, "-") || strings.HasSuffix(got, ".") {
				t.Errorf("output %q starts or ends with - or .", got)
			}
		})
	}
}

func TestClampTitle(t *testing.T) {
	long := strings.Repeat("t", 500)
	if got := ClampTitle(long); len(got) != 240 {
		t.Errorf("clamped length = %d, want 240", len(got))
	}
	if got := ClampTitle("short"); got != "short" {
		t.Errorf("ClampTitle(short) = %q", got)
	}

	// A byte-offset cut through this title would land inside a Cyrillic rune.
	cyrillic := "x" + strings.Repeat("ы", 300)
	got := ClampTitle(cyrillic)
	if !utf8.ValidString(got) {
		t.Errorf("clamped title is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 240 {
		t.Errorf("clamped rune count = %d, want 240", n)
	}
}

func TestDefaultTitle(t *testing.T) {
	if got := DefaultTitle("session-abcdef0123456789"); got != "Session abcdef01" {
		t.Errorf("DefaultTitle = %q", got)
	}
}
