package events

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	maxAgentIDLen   = 120
	maxSessionIDLen = 160
	maxTitleLen     = 240
)

// ValidID reports whether id contains only [A-Za-z0-9._-] and fits maxLen.
func ValidID(id string, maxLen int) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// ValidAgentID validates an agent identifier.
func ValidAgentID(id string) bool { return ValidID(id, maxAgentIDLen) }

// ValidSessionID validates a session identifier.
func ValidSessionID(id string) bool { return ValidID(id, maxSessionIDLen) }

// NewSessionID generates "session-" followed by 128 bits of hex randomness.
func NewSessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return "session-" + hex.EncodeToString(buf[:])
}

// DefaultTitle derives the default session title from its id.
func DefaultTitle(sessionID string) string {
	trimmed := strings.TrimPrefix(sessionID, "session-")
	if len(trimmed) > 8 {
		trimmed = trimmed[:8]
	}
	return "Session " + trimmed
}

// ClampTitle enforces the title length limit.
func ClampTitle(title string) string {
	return truncateRunes(title, maxTitleLen)
}

// truncateRunes limits s to n characters, never splitting a multibyte rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// SanitizeFilename keeps alphanumerics and "-_.", replaces everything else
// with "-", collapses runs of "-", and strips leading/trailing "-" and ".".
// The result always matches [A-Za-z0-9_.-]+.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	out = strings.Trim(out, "-.")
	if out == "" {
		return "file"
	}
	return out
}
