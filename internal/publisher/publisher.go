// Package publisher orchestrates a single publish attempt: select a due
// draft, re-validate every guardrail against fresh ledger state, invoke the
// external publish capability exactly once, record the result durably, and
// disarm the draft. Any denial is a clean no-op.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/draft"
	"github.com/starford/ansuz/internal/guardrail"
	"github.com/starford/ansuz/internal/ledger"
)

// MaxPostLength is the post length above which a warning is logged. Length
// is advisory only; the remote API is the final authority.
const MaxPostLength = 280

// Poster is the external publish capability.
type Poster interface {
	CreatePost(ctx context.Context, text string) (string, error)
}

// Result reports what one run did.
type Result struct {
	Published bool
	Decision  guardrail.Decision
	DraftID   string
	PostID    string
	DryRun    bool
}

// Orchestrator ties the draft store, ledger, guardrails, and poster together.
type Orchestrator struct {
	store  *draft.Store
	ledger *ledger.Ledger
	env    *Environment
	rules  guardrail.Rules
	poster Poster
	logger *slog.Logger
	now    func() time.Time
}

// New creates an orchestrator. now defaults to time.Now.
func New(store *draft.Store, lg *ledger.Ledger, env *Environment, rules guardrail.Rules, poster Poster, logger *slog.Logger, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:  store,
		ledger: lg,
		env:    env,
		rules:  rules,
		poster: poster,
		logger: logger,
		now:    now,
	}
}

// Publish attempts to publish one draft by id in the given mode. A guardrail
// denial is returned in the Result, not as an error; failures of the publish
// capability are errors and leave the draft armed for a later retry.
func (o *Orchestrator) Publish(ctx context.Context, id string, mode guardrail.Mode, dryRun bool) (*Result, error) {
	d, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	return o.attempt(ctx, d, mode, dryRun)
}

// RunAuto performs one unattended run: pick the earliest due armed draft and
// attempt to publish it. At most one publish happens per run. Armed drafts
// already present in the ledger are disarmed on sight (self-healing after a
// crash between publish and disarm).
func (o *Orchestrator) RunAuto(ctx context.Context) (*Result, error) {
	snap, err := o.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	drafts, err := o.store.List()
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	var due []*draft.Draft
	for _, d := range drafts {
		if !d.Meta.AutoPublish {
			continue
		}
		if snap.ContainsDraft(d.ID) {
			if err := o.store.Disarm(d.ID); err != nil {
				return nil, err
			}
			o.logger.Info("disarmed already-published draft", slog.String("draft", d.ID))
			continue
		}
		if !d.Meta.HasScheduled || d.Meta.ScheduledAt.After(now) {
			continue
		}
		if now.Sub(d.Meta.ScheduledAt) > o.rules.MaxLate {
			continue
		}
		due = append(due, d)
	}
	if len(due) == 0 {
		o.logger.Info("no due drafts")
		return &Result{}, nil
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Meta.ScheduledAt.Before(due[j].Meta.ScheduledAt)
	})

	return o.attempt(ctx, due[0], guardrail.ModeAuto, false)
}

// attempt runs the Validate → Publish → Record → Disarm sequence for one
// draft. Validation uses a snapshot taken at this instant, never an earlier
// one: time has advanced since the schedule was armed.
func (o *Orchestrator) attempt(ctx context.Context, d *draft.Draft, mode guardrail.Mode, dryRun bool) (*Result, error) {
	body, err := o.store.Body(d)
	if err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(body); n > MaxPostLength {
		o.logger.Warn("draft exceeds post length",
			slog.String("draft", d.ID),
			slog.Int("length", n))
	}
	fingerprint := checksum.Fingerprint(body)

	snap, err := o.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	inputs, err := o.env.Inputs(d.ID)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	decision := guardrail.Evaluate(now, snap, o.rules, guardrail.Draft{
		ID:          d.ID,
		Fingerprint: fingerprint,
		AutoPublish: d.Meta.AutoPublish,
		ScheduledAt: d.Meta.ScheduledAt,
		HasSchedule: d.Meta.HasScheduled,
	}, inputs, mode)
	if !decision.Allowed {
		o.logger.Info("publish denied",
			slog.String("draft", d.ID),
			slog.String("mode", mode.String()),
			slog.String("reason", string(decision.Reason)),
			slog.String("detail", decision.Detail))
		return &Result{Decision: decision, DraftID: d.ID}, nil
	}

	if dryRun {
		o.logger.Info("dry run ok", slog.String("draft", d.ID))
		return &Result{Decision: decision, DraftID: d.ID, DryRun: true}, nil
	}

	postID, err := o.poster.CreatePost(ctx, body)
	if err != nil {
		// No ledger entry, no disarm: the draft stays armed so a later run
		// can retry.
		return nil, fmt.Errorf("publish %s: %w", d.ID, err)
	}

	publishedAt := o.now().UTC()
	if err := o.ledger.Append(ledger.Entry{
		PublishedAt: publishedAt,
		DraftPath:   d.ID,
		TextSHA256:  fingerprint,
		TweetID:     postID,
		Text:        body,
	}); err != nil {
		return nil, fmt.Errorf("record %s: %w", d.ID, err)
	}

	if err := o.store.MarkPublished(d.ID, publishedAt); err != nil {
		// The ledger entry exists, so the next scheduler or auto run will
		// disarm this draft; surface the failure anyway.
		return nil, fmt.Errorf("disarm %s after publish: %w", d.ID, err)
	}

	o.logger.Info("published",
		slog.String("draft", d.ID),
		slog.String("post_id", postID),
		slog.String("mode", mode.String()))
	return &Result{
		Published: true,
		Decision:  decision,
		DraftID:   d.ID,
		PostID:    postID,
	}, nil
}
