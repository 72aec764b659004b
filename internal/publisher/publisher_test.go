package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/draft"
	"github.com/starford/ansuz/internal/guardrail"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/storage"
)

var testNow = time.Date(2026, 8, 29, 12, 15, 0, 0, time.UTC)

type fakePoster struct {
	id       string
	err      error
	calls    int
	lastText string
}

func (p *fakePoster) CreatePost(ctx context.Context, text string) (string, error) {
	p.calls++
	p.lastText = text
	if p.err != nil {
		return "", p.err
	}
	return p.id, nil
}

type fixture struct {
	fs     *storage.FS
	store  *draft.Store
	ledger *ledger.Ledger
	poster *fakePoster
	orch   *Orchestrator
}

func newFixture(t *testing.T, rules guardrail.Rules) *fixture {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := draft.NewStore(fs, logger)
	lg := ledger.New(filepath.Join(fs.Root(), draft.LedgerFile))
	env := NewEnvironment(fs, "")
	poster := &fakePoster{id: "190000000000000001"}
	orch := New(store, lg, env, rules, poster, logger, func() time.Time { return testNow })
	return &fixture{fs: fs, store: store, ledger: lg, poster: poster, orch: orch}
}

// openRules skips the manual-mode identity checks so tests exercise the
// orchestration flow rather than the evaluator (covered in its own package).
func openRules() guardrail.Rules {
	return guardrail.Rules{
		MaxPostsPerDay:  2,
		MinPostInterval: 3 * time.Hour,
		MaxLate:         12 * time.Hour,
	}
}

const armedDraft = `---
created_at: "2026-08-20T09:00:00Z"
scheduled_at: "2026-08-29T12:10:00Z"
auto_publish: true
---
Ship it.
`

func writeDraft(t *testing.T, fs *storage.FS, name, content string) string {
	t.Helper()
	id := draft.Dir + "/" + name
	if err := fs.Write(id, []byte(content)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return id
}

func TestPublishRecordsAndDisarms(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	id := writeDraft(t, f.fs, "post.md", armedDraft)

	res, err := f.orch.Publish(context.Background(), id, guardrail.ModeManual, false)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Published || res.PostID != "190000000000000001" {
		t.Fatalf("Result = %+v", res)
	}
	if f.poster.calls != 1 || f.poster.lastText != "Ship it." {
		t.Errorf("poster calls=%d text=%q", f.poster.calls, f.poster.lastText)
	}

	snap, err := f.ledger.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Len() != 1 || !snap.ContainsDraft(id) {
		t.Errorf("ledger after publish: len=%d", snap.Len())
	}
	e := snap.Entries()[0]
	if e.TweetID != "190000000000000001" || e.Text != "Ship it." || e.TextSHA256 == "" {
		t.Errorf("entry = %+v", e)
	}
	if !e.PublishedAt.Equal(testNow) {
		t.Errorf("PublishedAt = %v", e.PublishedAt)
	}

	d, err := f.store.Get(id)
	if err != nil {
		t.Fatalf("Get after publish: %v", err)
	}
	if d.Meta.AutoPublish {
		t.Error("draft still armed after publish")
	}
}

func TestPublishAgainIsDuplicateDenial(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	id := writeDraft(t, f.fs, "post.md", armedDraft)

	if _, err := f.orch.Publish(context.Background(), id, guardrail.ModeManual, false); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	res, err := f.orch.Publish(context.Background(), id, guardrail.ModeManual, false)
	if err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if res.Published || res.Decision.Reason != guardrail.ReasonDuplicate {
		t.Errorf("Result = %+v", res)
	}
	if f.poster.calls != 1 {
		t.Errorf("poster called %d times, want 1", f.poster.calls)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	id := writeDraft(t, f.fs, "post.md", armedDraft)

	res, err := f.orch.Publish(context.Background(), id, guardrail.ModeManual, true)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.DryRun || res.Published {
		t.Errorf("Result = %+v", res)
	}
	if f.poster.calls != 0 {
		t.Errorf("poster called %d times on dry run", f.poster.calls)
	}
	snap, _ := f.ledger.Snapshot()
	if snap.Len() != 0 {
		t.Error("dry run wrote a ledger entry")
	}
	d, _ := f.store.Get(id)
	if !d.Meta.AutoPublish {
		t.Error("dry run disarmed the draft")
	}
}

func TestKillSwitchFileDenies(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	id := writeDraft(t, f.fs, "post.md", armedDraft)
	if err := f.fs.Write(draft.StopFile, []byte("halt\n")); err != nil {
		t.Fatalf("Write stop file: %v", err)
	}

	res, err := f.orch.Publish(context.Background(), id, guardrail.ModeManual, false)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Published || res.Decision.Reason != guardrail.ReasonStopped {
		t.Errorf("Result = %+v", res)
	}
	if f.poster.calls != 0 {
		t.Error("poster called while stopped")
	}
}

func TestKillSwitchEnvDenies(t *testing.T) {
	t.Setenv(KillSwitchEnv, "1")
	f := newFixture(t, openRules())
	id := writeDraft(t, f.fs, "post.md", armedDraft)

	res, err := f.orch.Publish(context.Background(), id, guardrail.ModeAuto, false)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Decision.Reason != guardrail.ReasonStopped {
		t.Errorf("Reason = %s", res.Decision.Reason)
	}
}

func TestApprovalRecord(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	rules := openRules()
	rules.RequireApproval = true
	f := newFixture(t, rules)
	id := writeDraft(t, f.fs, "post.md", armedDraft)

	res, err := f.orch.Publish(context.Background(), id, guardrail.ModeManual, false)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Decision.Reason != guardrail.ReasonNotApproved {
		t.Fatalf("Reason = %s, want not_approved", res.Decision.Reason)
	}

	record := "2026-08-29: post.md looks good, approved for publishing.\n"
	if err := f.fs.Write(draft.ApprovalFile, []byte(record)); err != nil {
		t.Fatalf("Write approval: %v", err)
	}
	res, err = f.orch.Publish(context.Background(), id, guardrail.ModeManual, false)
	if err != nil {
		t.Fatalf("Publish after approval: %v", err)
	}
	if !res.Published {
		t.Errorf("Result = %+v", res)
	}
}

func TestPosterFailureKeepsDraftArmed(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	f.poster.err = errors.New("boom")
	id := writeDraft(t, f.fs, "post.md", armedDraft)

	if _, err := f.orch.Publish(context.Background(), id, guardrail.ModeManual, false); err == nil {
		t.Fatal("Publish succeeded despite poster failure")
	}
	snap, _ := f.ledger.Snapshot()
	if snap.Len() != 0 {
		t.Error("failed publish wrote a ledger entry")
	}
	d, _ := f.store.Get(id)
	if !d.Meta.AutoPublish {
		t.Error("failed publish disarmed the draft")
	}
}

func TestRunAutoPicksEarliestDue(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	writeDraft(t, f.fs, "later.md", `---
scheduled_at: "2026-08-29T12:12:00Z"
auto_publish: true
---
Later.
`)
	writeDraft(t, f.fs, "sooner.md", `---
scheduled_at: "2026-08-29T12:10:00Z"
auto_publish: true
---
Sooner.
`)

	res, err := f.orch.RunAuto(context.Background())
	if err != nil {
		t.Fatalf("RunAuto: %v", err)
	}
	if !res.Published || res.DraftID != "drafts/sooner.md" {
		t.Errorf("Result = %+v", res)
	}
	if f.poster.calls != 1 {
		t.Errorf("poster calls = %d, want exactly one per run", f.poster.calls)
	}
}

func TestRunAutoNothingDue(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	writeDraft(t, f.fs, "future.md", `---
scheduled_at: "2026-08-29T20:30:00Z"
auto_publish: true
---
Not yet.
`)
	res, err := f.orch.RunAuto(context.Background())
	if err != nil {
		t.Fatalf("RunAuto: %v", err)
	}
	if res.Published || res.DraftID != "" {
		t.Errorf("Result = %+v", res)
	}
	if f.poster.calls != 0 {
		t.Error("poster called with nothing due")
	}
}

func TestRunAutoSkipsStale(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	writeDraft(t, f.fs, "stale.md", `---
scheduled_at: "2026-08-28T12:10:00Z"
auto_publish: true
---
Too old.
`)
	res, err := f.orch.RunAuto(context.Background())
	if err != nil {
		t.Fatalf("RunAuto: %v", err)
	}
	if res.Published || f.poster.calls != 0 {
		t.Errorf("stale draft published: %+v", res)
	}
}

func TestRunAutoDisarmsAlreadyPublished(t *testing.T) {
	t.Setenv(KillSwitchEnv, "")
	f := newFixture(t, openRules())
	id := writeDraft(t, f.fs, "crashed.md", armedDraft)
	// Simulate a crash between ledger append and disarm.
	if err := f.ledger.Append(ledger.Entry{
		PublishedAt: testNow.Add(-30 * time.Hour),
		DraftPath:   id,
		TextSHA256:  "whatever",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	res, err := f.orch.RunAuto(context.Background())
	if err != nil {
		t.Fatalf("RunAuto: %v", err)
	}
	if res.Published || f.poster.calls != 0 {
		t.Errorf("re-published a ledgered draft: %+v", res)
	}
	d, _ := f.store.Get(id)
	if d.Meta.AutoPublish {
		t.Error("ledgered draft left armed")
	}
}

func TestEnvironmentApprovedMissingFile(t *testing.T) {
	f := newFixture(t, openRules())
	env := NewEnvironment(f.fs, "")
	ok, err := env.Approved("drafts/post.md")
	if err != nil {
		t.Fatalf("Approved: %v", err)
	}
	if ok {
		t.Error("missing approval record approved a draft")
	}
}
