package insights

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/storage"
)

func testReporter(t *testing.T, entries []ledger.Entry, snaps []metrics.Snapshot) (*Reporter, *storage.FS) {
	t.Helper()
	db := openTestDB(t)
	if err := db.Sync(entries, snaps, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return NewReporter(db, fs, func() time.Time { return syncNow }), fs
}

func TestWritePerformance(t *testing.T) {
	r, fs := testReporter(t,
		[]ledger.Entry{
			entry("1", 48*time.Hour, "a post | with a pipe in it"),
			entry("2", 24*time.Hour, "another post"),
		},
		[]metrics.Snapshot{
			snap("1", "2026-08-29T10:00:00Z", 500, map[string]int{"like_count": 3, "reply_count": 2}),
			snap("2", "2026-08-29T10:00:00Z", 900, map[string]int{"like_count": 5, "reply_count": 8}),
		})

	if err := r.WritePerformance(); err != nil {
		t.Fatalf("WritePerformance: %v", err)
	}
	raw, err := fs.Read(PerformanceFile)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := string(raw)

	if !strings.Contains(got, "Updated: 2026-08-29T12:00:00Z") {
		t.Errorf("missing update stamp:\n%s", got)
	}
	for _, want := range []string{
		"## Top posts by impressions",
		"## Top posts by replies",
		"| 2026-08-28 | 900 | 5 | 8 |",
		"a post \\| with a pipe in it",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}

	// Impression table lists post 2 (900) before post 1 (500).
	impSection := got[:strings.Index(got, "## Top posts by replies")]
	if strings.Index(impSection, "| 900 |") > strings.Index(impSection, "| 500 |") {
		t.Error("impression table not ordered by impressions")
	}
}

func TestWritePerformanceEmpty(t *testing.T) {
	r, fs := testReporter(t, nil, nil)
	if err := r.WritePerformance(); err != nil {
		t.Fatalf("WritePerformance: %v", err)
	}
	raw, err := fs.Read(PerformanceFile)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(string(raw), "No posts yet.") {
		t.Errorf("report = %s", raw)
	}
}

func TestCheckEligibility(t *testing.T) {
	r, fs := testReporter(t,
		[]ledger.Entry{
			entry("1", 10*24*time.Hour, "in window"),
			entry("2", 120*24*time.Hour, "too old"),
		},
		[]metrics.Snapshot{
			snap("1", "2026-08-29T10:00:00Z", 2_500_000, nil),
			snap("2", "2026-08-29T10:00:00Z", 9_000_000, nil),
		})

	rec, err := r.CheckEligibility()
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if rec.Posts != 1 || rec.Impressions != 2_500_000 || rec.WithMetrics != 1 {
		t.Errorf("record = %+v", rec)
	}
	if rec.WindowDays != 90 || rec.Threshold != EligibilityThreshold {
		t.Errorf("window/threshold = %d/%d", rec.WindowDays, rec.Threshold)
	}
	if rec.Progress != 0.5 {
		t.Errorf("progress = %v", rec.Progress)
	}

	raw, err := fs.Read(EligibilityFile)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := string(raw)
	for _, want := range []string{
		"Checked: 2026-08-29T12:00:00Z",
		"- Window: trailing 90 days",
		"- Impressions: 2500000 of 5000000 required",
		"- Progress: 50.00%",
		"2500000 impressions to go.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}

	logPath, err := fs.Abs(EligibilityLog)
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	logRaw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read eligibility log: %v", err)
	}
	var logged EligibilityRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(logRaw))), &logged); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if logged != rec {
		t.Errorf("logged = %+v, want %+v", logged, rec)
	}
}

func TestCheckEligibilityThresholdMet(t *testing.T) {
	r, fs := testReporter(t,
		[]ledger.Entry{entry("1", 24*time.Hour, "viral")},
		[]metrics.Snapshot{snap("1", "2026-08-29T10:00:00Z", 6_000_000, nil)})

	rec, err := r.CheckEligibility()
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if rec.Impressions < EligibilityThreshold {
		t.Fatalf("impressions = %d", rec.Impressions)
	}
	raw, err := fs.Read(EligibilityFile)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(string(raw), "Threshold met.") {
		t.Errorf("report = %s", raw)
	}
}

func TestCheckEligibilityManualFollowers(t *testing.T) {
	r, fs := testReporter(t, nil, nil)
	manual := `{"updated_at":"2026-08-01T00:00:00Z","verified_followers":120}
not json
{"updated_at":"2026-08-20T00:00:00Z","verified_followers":245}
`
	if err := fs.Write(ManualFile, []byte(manual)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rec, err := r.CheckEligibility()
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if rec.VerifiedFollowers == nil || *rec.VerifiedFollowers != 245 {
		t.Fatalf("VerifiedFollowers = %v", rec.VerifiedFollowers)
	}
	raw, err := fs.Read(EligibilityFile)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(string(raw), "- Verified followers: 245") {
		t.Errorf("report = %s", raw)
	}
}

func TestCheckEligibilityWithoutManualRecord(t *testing.T) {
	r, fs := testReporter(t, nil, nil)
	rec, err := r.CheckEligibility()
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if rec.VerifiedFollowers != nil {
		t.Errorf("VerifiedFollowers = %d", *rec.VerifiedFollowers)
	}
	raw, _ := fs.Read(EligibilityFile)
	if !strings.Contains(string(raw), "Verified followers: unknown") {
		t.Errorf("report = %s", raw)
	}
}

func TestEligibilityLogAppends(t *testing.T) {
	r, fs := testReporter(t, nil, nil)
	if _, err := r.CheckEligibility(); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if _, err := r.CheckEligibility(); err != nil {
		t.Fatalf("second check: %v", err)
	}
	logPath, _ := fs.Abs(EligibilityLog)
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Errorf("log lines = %d, want 2", len(lines))
	}
}
