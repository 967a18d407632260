package util

import "fmt"

// DefaultLogMaxLen is the default maximum length for truncated log output (1KB)
// Full provider responses are never logged; callers keep the original bytes
const DefaultLogMaxLen = 1024

// TruncateLog truncates long strings for verbose logging.
// This keeps provider error bodies from flooding the log while leaving
// enough of the payload to diagnose the failure.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is a convenience wrapper for TruncateLog that accepts []byte
// and uses DefaultLogMaxLen. This simplifies common logging patterns.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
