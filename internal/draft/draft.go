// Package draft manages the collection of draft documents under the
// workspace drafts directory: enumeration, body extraction, and frontmatter
// state transitions (arming, disarming, marking published).
package draft

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/storage"
)

// Workspace layout. Paths are relative to the workspace root and stable for
// compatibility with existing state.
const (
	Dir          = "drafts"
	ApprovalFile = "human/messages.md"
	LedgerFile   = "state/posts.jsonl"
	MetricsFile  = "state/metrics.jsonl"
	StopFile     = "state/STOP_PUBLISH"
)

// Draft is one parsed draft document. ID is its path relative to the
// workspace root (e.g. "drafts/20260215_topic.md").
type Draft struct {
	ID   string
	Doc  *frontmatter.Document
	Meta frontmatter.Meta
}

// RawScheduled returns the raw scheduled_at value, empty when unset. A
// non-empty unparseable value still blocks re-arming: the scheduler must not
// clobber a value it does not understand.
func (d *Draft) RawScheduled() string {
	v, _ := d.Doc.Get("scheduled_at")
	return v
}

// Store reads and rewrites drafts through the workspace storage provider.
type Store struct {
	fs     storage.Provider
	logger *slog.Logger
}

// NewStore creates a draft store.
func NewStore(fs storage.Provider, logger *slog.Logger) *Store {
	return &Store{fs: fs, logger: logger}
}

// List returns every parseable draft under drafts/, sorted by ID. Drafts
// with a malformed frontmatter block are skipped with a warning and never
// auto-repaired.
func (s *Store) List() ([]*Draft, error) {
	infos, err := s.fs.List(Dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Draft, 0, len(infos))
	for _, info := range infos {
		d, err := s.Get(info.Path)
		if err != nil {
			if errors.Is(err, apperr.ErrMalformedDocument) {
				s.logger.Warn("skipping malformed draft",
					slog.String("draft", info.Path),
					slog.String("error", err.Error()))
				continue
			}
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Get reads and parses one draft by ID.
func (s *Store) Get(id string) (*Draft, error) {
	data, err := s.fs.Read(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("draft %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	doc, err := frontmatter.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("draft %s: %w", id, err)
	}
	return &Draft{ID: id, Doc: doc, Meta: doc.Meta()}, nil
}

// Body returns the publishable text: the document body with the frontmatter
// block stripped and surrounding whitespace trimmed. An empty result signals
// apperr.ErrEmptyBody.
func (s *Store) Body(d *Draft) (string, error) {
	body := strings.TrimSpace(d.Doc.BodyText())
	if body == "" {
		return "", fmt.Errorf("draft %s: %w", d.ID, apperr.ErrEmptyBody)
	}
	return body, nil
}

// Fingerprint returns the normalized content hash used for duplicate
// detection independent of the draft's path.
func (s *Store) Fingerprint(d *Draft) (string, error) {
	body, err := s.Body(d)
	if err != nil {
		return "", err
	}
	return checksum.Fingerprint(body), nil
}

// Apply re-reads the draft, applies frontmatter updates, and writes it back
// atomically. Re-reading keeps concurrent manual edits from being clobbered
// by a stale in-memory copy.
func (s *Store) Apply(id string, updates []frontmatter.Update) error {
	d, err := s.Get(id)
	if err != nil {
		return err
	}
	d.Doc.Apply(updates)
	return s.fs.Write(id, d.Doc.Bytes())
}

// Arm schedules a draft for unattended publishing at the given time.
func (s *Store) Arm(id string, at time.Time) error {
	return s.Apply(id, []frontmatter.Update{
		{Key: "scheduled_at", Value: frontmatter.Quote(at)},
		{Key: "auto_publish", Value: "true"},
	})
}

// Disarm clears a draft's auto-publish state.
func (s *Store) Disarm(id string) error {
	return s.Apply(id, []frontmatter.Update{
		{Key: "auto_publish", Value: "false"},
		{Key: "scheduled_at", Value: `""`},
	})
}

// MarkPublished disarms a draft and records when it was published.
func (s *Store) MarkPublished(id string, at time.Time) error {
	return s.Apply(id, []frontmatter.Update{
		{Key: "auto_publish", Value: "false"},
		{Key: "published_at", Value: frontmatter.Quote(at)},
	})
}
