// Package metrics collects post-performance snapshots from the remote API
// and appends them to the metrics JSONL file. Snapshots are append-only
// history: eligibility tracking needs a 90-day window while the API only
// exposes private metrics for 30 days, so old snapshots are never discarded.
package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/xapi"
)

const lookupBatchSize = 100

// Snapshot is one stored metrics observation for a post.
type Snapshot struct {
	FetchedAt        string         `json:"fetched_at"`
	TweetID          string         `json:"tweet_id"`
	CreatedAt        string         `json:"created_at,omitempty"`
	PublicMetrics    map[string]int `json:"public_metrics,omitempty"`
	NonPublicMetrics map[string]int `json:"non_public_metrics,omitempty"`
	OrganicMetrics   map[string]int `json:"organic_metrics,omitempty"`
}

// Impressions returns the private impression count: organic metrics first,
// then non-public. The boolean is false when neither is available.
func (s Snapshot) Impressions() (int, bool) {
	if v, ok := s.OrganicMetrics["impression_count"]; ok {
		return v, true
	}
	if v, ok := s.NonPublicMetrics["impression_count"]; ok {
		return v, true
	}
	return 0, false
}

// Public returns a public metric count, zero when absent.
func (s Snapshot) Public(key string) int {
	return s.PublicMetrics[key]
}

// ReadAll loads every snapshot in append order. Malformed lines are skipped;
// a missing file yields nothing.
func ReadAll(path string) ([]Snapshot, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metrics: open: %w", err)
	}
	defer f.Close()

	var out []Snapshot
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Snapshot
		if err := json.Unmarshal(line, &s); err != nil || s.TweetID == "" {
			continue
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("metrics: read: %w", err)
	}
	return out, nil
}

// appendAll appends rows as JSONL, creating the file if needed.
func appendAll(path string, rows []Snapshot) error {
	if len(rows) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: create state dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("metrics: open: %w", err)
	}
	defer f.Close()
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("metrics: marshal: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("metrics: append: %w", err)
		}
	}
	return f.Sync()
}

// Fetcher pulls fresh snapshots for recently published posts.
type Fetcher struct {
	ledger *ledger.Ledger
	path   string // metrics.jsonl
	client *xapi.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewFetcher creates a fetcher. now defaults to time.Now.
func NewFetcher(lg *ledger.Ledger, path string, client *xapi.Client, logger *slog.Logger, now func() time.Time) *Fetcher {
	if now == nil {
		now = time.Now
	}
	return &Fetcher{ledger: lg, path: path, client: client, logger: logger, now: now}
}

// Run fetches snapshots for up to limit recent posts, skipping any post
// already fetched within minInterval. It returns how many snapshots were
// stored and how many per-post errors the API reported. When private
// metrics are forbidden it falls back to public-only fields.
func (f *Fetcher) Run(ctx context.Context, limit int, minInterval time.Duration) (stored, apiErrors int, err error) {
	ids := f.recentPostIDs(limit)
	if len(ids) == 0 {
		f.logger.Info("no posts to fetch metrics for")
		return 0, 0, nil
	}

	existing, err := ReadAll(f.path)
	if err != nil {
		return 0, 0, err
	}
	lastFetch := latestFetchByID(existing)

	now := f.now().UTC()
	var toFetch []string
	for _, id := range ids {
		if prev, ok := lastFetch[id]; ok && now.Sub(prev) < minInterval {
			continue
		}
		toFetch = append(toFetch, id)
	}
	if len(toFetch) == 0 {
		f.logger.Info("metrics up to date")
		return 0, 0, nil
	}

	var rows []Snapshot
	for start := 0; start < len(toFetch); start += lookupBatchSize {
		end := min(start+lookupBatchSize, len(toFetch))
		batch := toFetch[start:end]

		posts, perItemErrs, err := f.client.LookupPosts(ctx, batch, xapi.FieldsFull)
		var authErr *xapi.AuthError
		if errors.As(err, &authErr) {
			// Private metrics need user-context auth; retry public-only.
			posts, perItemErrs, err = f.client.LookupPosts(ctx, batch, xapi.FieldsPublic)
		}
		if err != nil {
			return stored, apiErrors, err
		}
		apiErrors += perItemErrs

		fetchedAt := f.now().UTC().Format(frontmatter.TimeLayout)
		for _, p := range posts {
			if p.ID == "" {
				continue
			}
			rows = append(rows, Snapshot{
				FetchedAt:        fetchedAt,
				TweetID:          p.ID,
				CreatedAt:        p.CreatedAt,
				PublicMetrics:    p.PublicMetrics,
				NonPublicMetrics: p.NonPublicMetrics,
				OrganicMetrics:   p.OrganicMetrics,
			})
		}
	}

	if err := appendAll(f.path, rows); err != nil {
		return 0, apiErrors, err
	}
	f.logger.Info("metrics fetched",
		slog.Int("stored", len(rows)),
		slog.Int("api_errors", apiErrors))
	return len(rows), apiErrors, nil
}

// recentPostIDs returns the newest post ids from the ledger, most recent
// first, de-duplicated, capped at limit.
func (f *Fetcher) recentPostIDs(limit int) []string {
	var all []string
	for e := range f.ledger.Entries() {
		if e.TweetID != "" {
			all = append(all, e.TweetID)
		}
	}
	seen := make(map[string]struct{})
	var out []string
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if _, dup := seen[all[i]]; dup {
			continue
		}
		seen[all[i]] = struct{}{}
		out = append(out, all[i])
	}
	return out
}

func latestFetchByID(rows []Snapshot) map[string]time.Time {
	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		t, ok := frontmatter.ParseTime(row.FetchedAt)
		if !ok {
			continue
		}
		if prev, exists := out[row.TweetID]; !exists || t.After(prev) {
			out[row.TweetID] = t
		}
	}
	return out
}
