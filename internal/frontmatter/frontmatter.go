// Package frontmatter reads and rewrites the key:value metadata block that
// prefixes every draft document. Parsing is line-oriented and lossless:
// blank lines, comments, and lines without a colon are kept verbatim so that
// rewriting a draft never destroys content a human (or another tool) put there.
package frontmatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
)

// Delimiter is the line that opens and closes a frontmatter block.
const Delimiter = "---"

// TimeLayout is the canonical timestamp format written into frontmatter
// and the ledger: ISO-8601 UTC with a Z suffix, second precision.
const TimeLayout = "2006-01-02T15:04:05Z"

// Update is one key/value assignment applied to a block. Values are written
// as given; callers quote timestamps themselves (see Quote).
type Update struct {
	Key   string
	Value string
}

// Document is a parsed draft: the raw inner block lines (verbatim, without
// the delimiters) and the body lines that follow the closing delimiter.
type Document struct {
	HasBlock bool
	Block    []string
	Body     []string
}

// Parse splits raw draft content into frontmatter block and body.
// A document whose first line is not a delimiter has no block and is all
// body. An opening delimiter without a matching close signals
// apperr.ErrMalformedDocument; the document is never silently repaired.
func Parse(data []byte) (*Document, error) {
	lines := splitLines(string(data))
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != Delimiter {
		return &Document{Body: lines}, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == Delimiter {
			return &Document{
				HasBlock: true,
				// Clone so Block does not share a backing array with Body:
				// Apply inserts lines into Block with append, which would
				// otherwise write through into the body lines.
				Block: append([]string(nil), lines[1:i]...),
				Body:  lines[i+1:],
			}, nil
		}
	}
	return nil, fmt.Errorf("frontmatter: missing closing %q: %w", Delimiter, apperr.ErrMalformedDocument)
}

// Get returns the unquoted value for key. When a key appears more than once
// the last occurrence wins, the same occurrence Apply rewrites, so reads and
// updates always agree on which line is authoritative.
// Blank lines, comment lines, and lines without a colon are skipped.
func (d *Document) Get(key string) (string, bool) {
	for i := len(d.Block) - 1; i >= 0; i-- {
		k, v, ok := splitKV(d.Block[i])
		if ok && k == key {
			return Unquote(v), true
		}
	}
	return "", false
}

// Values returns every key/value pair in the block. Later duplicates win,
// mirroring Get's last-write semantics in the original documents.
func (d *Document) Values() map[string]string {
	out := make(map[string]string)
	for _, line := range d.Block {
		if k, v, ok := splitKV(line); ok {
			out[k] = Unquote(v)
		}
	}
	return out
}

// Apply rewrites the block in place: existing keys are updated at their
// current position, new keys are inserted immediately after a created_at key
// when present, else at the top of the block, in update order. Applying the
// same updates twice yields byte-identical output. A document without a
// block gets one synthesized.
func (d *Document) Apply(updates []Update) {
	if !d.HasBlock {
		block := make([]string, 0, len(updates))
		for _, u := range updates {
			block = append(block, u.Key+": "+u.Value)
		}
		d.HasBlock = true
		d.Block = block
		return
	}

	keyIdx := make(map[string]int, len(d.Block))
	for i, line := range d.Block {
		if k, _, ok := splitKV(line); ok {
			keyIdx[k] = i
		}
	}

	for _, u := range updates {
		if i, ok := keyIdx[u.Key]; ok {
			d.Block[i] = u.Key + ": " + u.Value
		}
	}

	insertAt := 0
	if i, ok := keyIdx["created_at"]; ok {
		insertAt = i + 1
	}
	for _, u := range updates {
		if _, ok := keyIdx[u.Key]; ok {
			continue
		}
		d.Block = append(d.Block[:insertAt], append([]string{u.Key + ": " + u.Value}, d.Block[insertAt:]...)...)
		insertAt++
	}
}

// Bytes renders the document back to file content. Output always ends with
// a single trailing newline so repeated rewrites are stable.
func (d *Document) Bytes() []byte {
	var lines []string
	if d.HasBlock {
		lines = append(lines, Delimiter)
		lines = append(lines, d.Block...)
		lines = append(lines, Delimiter)
	}
	lines = append(lines, d.Body...)
	return []byte(strings.Join(lines, "\n") + "\n")
}

// BodyText returns the body joined back into a single string.
func (d *Document) BodyText() string {
	return strings.Join(d.Body, "\n")
}

// Meta is the typed view of the recognized frontmatter keys. Unknown keys
// stay untouched in the raw block.
type Meta struct {
	AutoPublish  bool
	ScheduledAt  time.Time // zero when absent or unparseable
	HasScheduled bool
	CreatedAt    string
	Topics       string
}

// Meta extracts the typed view from the block.
func (d *Document) Meta() Meta {
	var m Meta
	if v, ok := d.Get("auto_publish"); ok {
		m.AutoPublish = Truthy(v)
	}
	if v, ok := d.Get("scheduled_at"); ok {
		if t, tok := ParseTime(v); tok {
			m.ScheduledAt = t
			m.HasScheduled = true
		}
	}
	m.CreatedAt, _ = d.Get("created_at")
	m.Topics, _ = d.Get("topics")
	return m
}

// Truthy reports whether a frontmatter or environment value means "on".
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Unquote strips one layer of matching single or double quotes.
func Unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// Quote renders t as a double-quoted UTC timestamp for frontmatter values.
func Quote(t time.Time) string {
	return `"` + t.UTC().Format(TimeLayout) + `"`
}

// ParseTime parses an ISO-8601 timestamp. Values with a Z suffix or numeric
// offset parse as RFC 3339; a naive timestamp is taken as UTC. The result is
// always in UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func splitKV(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(strings.TrimLeft(line, " \t"), "#") {
		return "", "", false
	}
	i := strings.Index(line, ":")
	if i < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:i])
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[i+1:]), true
}

// splitLines splits on newlines without keeping terminators. A trailing
// newline does not produce a phantom empty line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	return strings.Split(s, "\n")
}
