// Package checksum provides content digests for drafts and publish records.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint returns the hex-encoded SHA-256 digest of text after
// whitespace normalization, so that trailing-whitespace edits do not
// defeat duplicate detection.
func Fingerprint(text string) string {
	return Sum([]byte(Normalize(text)))
}

// Normalize strips trailing whitespace from every line, trims leading and
// trailing blank lines, and appends a single trailing newline.
func Normalize(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}
