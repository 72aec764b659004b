// Package ledger stores the append-only publication history. The JSONL file
// is the single durable source of truth for rate limiting and duplicate
// detection; it is only ever appended to, never rewritten.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/starford/ansuz/internal/frontmatter"
)

// Entry is one immutable publish record.
type Entry struct {
	PublishedAt time.Time // zero when the stored timestamp is unparseable
	DraftPath   string
	TextSHA256  string
	TweetID     string
	Text        string
}

// wireEntry is the stable on-disk shape: one JSON object per line.
type wireEntry struct {
	PublishedAt string `json:"published_at"`
	DraftPath   string `json:"draft_path"`
	TextSHA256  string `json:"text_sha256"`
	TweetID     string `json:"tweet_id"`
	Text        string `json:"text,omitempty"`
}

// Ledger is a handle on the posts.jsonl file. It holds no cached state;
// every read hits the file so decisions always see current history.
type Ledger struct {
	path string
}

// New returns a ledger handle for path. The file may not exist yet; it is
// created on first append.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Append durably appends one entry: exclusive flock, single O_APPEND write,
// fsync of both file and parent directory. Prior bytes are never touched.
func (l *Ledger) Append(e Entry) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: create state dir: %w", err)
	}

	lock, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open lock: %w", err)
	}
	defer lock.Close()
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("ledger: lock: %w", err)
	}
	defer func() {
		_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	}()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(wireEntry{
		PublishedAt: e.PublishedAt.UTC().Format(frontmatter.TimeLayout),
		DraftPath:   e.DraftPath,
		TextSHA256:  e.TextSHA256,
		TweetID:     e.TweetID,
		Text:        e.Text,
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ledger: fsync: %w", err)
	}
	return syncDir(dir)
}

// Entries returns a lazy, restartable sequence of entries in append order.
// Malformed lines are skipped. A missing ledger file yields nothing; other
// read errors also end the sequence. Callers that must distinguish use
// Snapshot instead.
func (l *Ledger) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		f, err := os.Open(l.path)
		if err != nil {
			return
		}
		defer f.Close()
		scanEntries(f, yield)
	}
}

// Snapshot materializes the full history. A missing file is an empty,
// valid snapshot; any other read failure is an error, because an unreadable
// ledger must deny publishing rather than pass duplicate checks.
func (l *Ledger) Snapshot() (*Snapshot, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanErr := scanEntriesErr(f, func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	if scanErr != nil {
		return nil, fmt.Errorf("ledger: read: %w", scanErr)
	}
	return &Snapshot{entries: entries}, nil
}

// Snapshot is an in-memory view of the ledger taken at one decision point.
type Snapshot struct {
	entries []Entry
}

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Entries returns the entries in append order.
func (s *Snapshot) Entries() []Entry { return s.entries }

// ContainsDraft reports whether the draft id has ever been published.
func (s *Snapshot) ContainsDraft(id string) bool {
	for _, e := range s.entries {
		if e.DraftPath == id {
			return true
		}
	}
	return false
}

// FingerprintFor returns the recorded content fingerprint for a draft id.
func (s *Snapshot) FingerprintFor(id string) (string, bool) {
	for _, e := range s.entries {
		if e.DraftPath == id {
			return e.TextSHA256, true
		}
	}
	return "", false
}

// ContainsFingerprint reports whether identical text has ever been published.
func (s *Snapshot) ContainsFingerprint(hash string) bool {
	for _, e := range s.entries {
		if e.TextSHA256 == hash {
			return true
		}
	}
	return false
}

// CountInWindow counts entries published within the trailing window ending
// at now. Entries with unparseable timestamps do not count.
func (s *Snapshot) CountInWindow(window time.Duration, now time.Time) int {
	n := 0
	for _, e := range s.entries {
		if !e.PublishedAt.IsZero() && now.Sub(e.PublishedAt) <= window {
			n++
		}
	}
	return n
}

// Latest returns the most recent publish timestamp.
func (s *Snapshot) Latest() (time.Time, bool) {
	var latest time.Time
	for _, e := range s.entries {
		if e.PublishedAt.After(latest) {
			latest = e.PublishedAt
		}
	}
	return latest, !latest.IsZero()
}

// OldestInWindow returns the oldest publish timestamp within the trailing
// window ending at now. Used to compute when a daily cap frees up.
func (s *Snapshot) OldestInWindow(window time.Duration, now time.Time) (time.Time, bool) {
	var oldest time.Time
	for _, e := range s.entries {
		if e.PublishedAt.IsZero() || now.Sub(e.PublishedAt) > window {
			continue
		}
		if oldest.IsZero() || e.PublishedAt.Before(oldest) {
			oldest = e.PublishedAt
		}
	}
	return oldest, !oldest.IsZero()
}

func scanEntries(r io.Reader, yield func(Entry) bool) {
	_ = scanEntriesErr(r, yield)
}

func scanEntriesErr(r io.Reader, yield func(Entry) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var w wireEntry
		if err := json.Unmarshal(line, &w); err != nil {
			continue
		}
		if w.DraftPath == "" && w.TextSHA256 == "" && w.PublishedAt == "" {
			continue
		}
		e := Entry{
			DraftPath:  w.DraftPath,
			TextSHA256: w.TextSHA256,
			TweetID:    w.TweetID,
			Text:       w.Text,
		}
		if t, ok := frontmatter.ParseTime(w.PublishedAt); ok {
			e.PublishedAt = t
		}
		if !yield(e) {
			return nil
		}
	}
	return sc.Err()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("ledger: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("ledger: fsync dir: %w", err)
	}
	return nil
}
