package insights

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/storage"
)

// Creator-revenue eligibility requires 5M organic impressions across the
// trailing 90 days.
const (
	EligibilityWindow    = 90 * 24 * time.Hour
	EligibilityThreshold = 5_000_000
)

const (
	PerformanceFile = "memory/performance.md"
	EligibilityFile = "memory/eligibility.md"
	EligibilityLog  = "state/eligibility.jsonl"
	ManualFile      = "state/manual.jsonl"

	topPostCount = 10
)

// EligibilityRecord is one appended observation of window progress.
// VerifiedFollowers comes from the manual record file when present; the API
// does not expose it.
type EligibilityRecord struct {
	CheckedAt         string  `json:"checked_at"`
	WindowDays        int     `json:"window_days"`
	Posts             int     `json:"posts"`
	WithMetrics       int     `json:"posts_with_metrics"`
	Impressions       int     `json:"impressions"`
	Threshold         int     `json:"threshold"`
	Progress          float64 `json:"progress"`
	VerifiedFollowers *int    `json:"verified_followers,omitempty"`
}

// Reporter renders the performance and eligibility memory files.
type Reporter struct {
	db  *DB
	fs  storage.Provider
	now func() time.Time
}

// NewReporter creates a reporter over a synced read model. now defaults to
// time.Now.
func NewReporter(db *DB, fs storage.Provider, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{db: db, fs: fs, now: now}
}

// WritePerformance renders memory/performance.md: top posts by impressions
// and by replies, with topics so future drafting can lean on what worked.
func (r *Reporter) WritePerformance() error {
	byImpressions, err := r.db.TopByImpressions(topPostCount)
	if err != nil {
		return err
	}
	byReplies, err := r.db.TopByReplies(topPostCount)
	if err != nil {
		return err
	}

	var b strings.Builder
	now := r.now().UTC()
	fmt.Fprintf(&b, "# Post performance\n\n")
	fmt.Fprintf(&b, "Updated: %s\n\n", now.Format(frontmatter.TimeLayout))

	b.WriteString("## Top posts by impressions\n\n")
	writePostTable(&b, byImpressions)

	b.WriteString("\n## Top posts by replies\n\n")
	writePostTable(&b, byReplies)

	return r.fs.Write(PerformanceFile, []byte(b.String()))
}

func writePostTable(b *strings.Builder, rows []PostRow) {
	if len(rows) == 0 {
		b.WriteString("No posts yet.\n")
		return
	}
	b.WriteString("| Published | Impressions | Likes | Replies | Topics | Text |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, p := range rows {
		impressions := "-"
		if p.Impressions != nil {
			impressions = fmt.Sprintf("%d", *p.Impressions)
		}
		fmt.Fprintf(b, "| %s | %s | %d | %d | %s | %s |\n",
			p.PublishedAt.UTC().Format("2006-01-02"),
			impressions, p.Likes, p.Replies,
			orDash(p.Topics), excerpt(p.Text, 60))
	}
}

// CheckEligibility computes trailing-window impressions, renders
// memory/eligibility.md, and appends the observation to
// state/eligibility.jsonl so progress over time stays queryable.
func (r *Reporter) CheckEligibility() (EligibilityRecord, error) {
	now := r.now().UTC()
	posts, impressions, withMetrics, err := r.db.WindowTotals(now, EligibilityWindow)
	if err != nil {
		return EligibilityRecord{}, err
	}

	rec := EligibilityRecord{
		CheckedAt:         now.Format(frontmatter.TimeLayout),
		WindowDays:        int(EligibilityWindow.Hours() / 24),
		Posts:             posts,
		WithMetrics:       withMetrics,
		Impressions:       impressions,
		Threshold:         EligibilityThreshold,
		Progress:          float64(impressions) / float64(EligibilityThreshold),
		VerifiedFollowers: r.verifiedFollowers(),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Creator revenue eligibility\n\n")
	fmt.Fprintf(&b, "Checked: %s\n\n", rec.CheckedAt)
	fmt.Fprintf(&b, "- Window: trailing %d days\n", rec.WindowDays)
	fmt.Fprintf(&b, "- Posts in window: %d (%d with metrics)\n", rec.Posts, rec.WithMetrics)
	fmt.Fprintf(&b, "- Impressions: %d of %d required\n", rec.Impressions, rec.Threshold)
	fmt.Fprintf(&b, "- Progress: %.2f%%\n", rec.Progress*100)
	if rec.VerifiedFollowers != nil {
		fmt.Fprintf(&b, "- Verified followers: %d\n", *rec.VerifiedFollowers)
	} else {
		fmt.Fprintf(&b, "- Verified followers: unknown (append {\"verified_followers\": N} to %s)\n", ManualFile)
	}
	if rec.Impressions >= rec.Threshold {
		b.WriteString("\nThreshold met.\n")
	} else {
		fmt.Fprintf(&b, "\n%d impressions to go.\n", rec.Threshold-rec.Impressions)
	}

	if err := r.fs.Write(EligibilityFile, []byte(b.String())); err != nil {
		return rec, err
	}
	if err := r.appendEligibility(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// verifiedFollowers returns the count from the most recent manual record, or
// nil when no record exists. The file is human-maintained, so malformed lines
// are ignored.
func (r *Reporter) verifiedFollowers() *int {
	raw, err := r.fs.Read(ManualFile)
	if err != nil {
		return nil
	}
	var latest *int
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec struct {
			VerifiedFollowers *int `json:"verified_followers"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.VerifiedFollowers == nil {
			continue
		}
		latest = rec.VerifiedFollowers
	}
	return latest
}

func (r *Reporter) appendEligibility(rec EligibilityRecord) error {
	path, err := r.fs.Abs(EligibilityLog)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("insights: create state dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("insights: open eligibility log: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("insights: marshal eligibility: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("insights: append eligibility: %w", err)
	}
	return f.Sync()
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
