// Package scheduler maintains the single-flight invariant on armed drafts
// and assigns future publish times from a fixed set of daily slots.
//
// Planning is pure: Plan maps (drafts, ledger snapshot, config, now) to a
// set of actions without touching disk, so reconciliation is independently
// testable and repeated runs converge to the same fixpoint. Run applies a
// plan through the draft store.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/ansuz/internal/draft"
	"github.com/starford/ansuz/internal/guardrail"
	"github.com/starford/ansuz/internal/ledger"
)

// Config is the scheduling configuration, resolved by the caller.
type Config struct {
	Location        *time.Location
	Slots           []Slot
	Buffer          time.Duration // minimum lead time between now and a new scheduled_at
	HorizonDays     int
	MaxPostsPerDay  int
	MinPostInterval time.Duration
	MaxLate         time.Duration
}

// State is the planner's view of one draft.
type State struct {
	ID           string
	Fingerprint  string
	AutoPublish  bool
	ScheduledAt  time.Time
	HasSchedule  bool
	RawScheduled string // raw scheduled_at value; non-empty blocks arming even if unparseable
}

// Assignment pairs a draft with a publish time.
type Assignment struct {
	ID string
	At time.Time
}

// Plan is the set of actions one scheduler run wants to apply.
type Plan struct {
	Disarm     []string    // published or surplus armed drafts to disarm
	Keep       string      // armed draft left untouched because it is due now
	Reschedule *Assignment // armed draft whose scheduled_at gets rewritten
	Arm        *Assignment // unscheduled draft to arm
	Warnings   []string
}

// Compute builds the reconciliation plan.
//
// Draft-id presence in the ledger is authoritative for disarming: a draft
// edited after publishing still gets disarmed, with a warning when its
// current fingerprint no longer matches the recorded one.
func Compute(drafts []State, snap *ledger.Snapshot, cfg Config, now time.Time) (Plan, error) {
	var plan Plan

	sorted := make([]State, len(drafts))
	copy(sorted, drafts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	// Step 1: self-heal drafts that are armed but already published (a crash
	// between publish and disarm leaves this state behind).
	var active []State
	for _, d := range sorted {
		if !d.AutoPublish {
			continue
		}
		if snap.ContainsDraft(d.ID) {
			plan.Disarm = append(plan.Disarm, d.ID)
			if recorded, ok := snap.FingerprintFor(d.ID); ok && d.Fingerprint != "" && recorded != d.Fingerprint {
				plan.Warnings = append(plan.Warnings,
					fmt.Sprintf("draft %s was edited after publishing (fingerprint mismatch)", d.ID))
			}
			continue
		}
		active = append(active, d)
	}

	// Step 2: single-flight repair. Keep the earliest-scheduled armed draft
	// (unscheduled drafts lose to scheduled ones; ties break by ID), disarm
	// the rest.
	if len(active) > 1 {
		sort.SliceStable(active, func(i, j int) bool {
			a, b := active[i], active[j]
			if a.HasSchedule != b.HasSchedule {
				return a.HasSchedule
			}
			if a.HasSchedule && !a.ScheduledAt.Equal(b.ScheduledAt) {
				return a.ScheduledAt.Before(b.ScheduledAt)
			}
			return a.ID < b.ID
		})
		for _, extra := range active[1:] {
			plan.Disarm = append(plan.Disarm, extra.ID)
		}
		active = active[:1]
	}

	earliestAllowed := earliestAllowedPublish(snap, cfg, now)
	earliestSchedule := EarliestSchedule(snap, cfg, now)

	// Step 3: one armed draft remains. Leave it alone when it is due and
	// publishable right now; otherwise move it to the next allowed slot.
	if len(active) == 1 {
		d := active[0]
		if d.HasSchedule &&
			!d.ScheduledAt.After(now) &&
			now.Sub(d.ScheduledAt) <= cfg.MaxLate &&
			!earliestAllowed.After(now) {
			plan.Keep = d.ID
			return plan, nil
		}
		at, err := NextSlot(earliestSchedule, cfg.Location, cfg.Slots, cfg.HorizonDays)
		if err != nil {
			return Plan{}, err
		}
		plan.Reschedule = &Assignment{ID: d.ID, At: at}
		return plan, nil
	}

	// Step 4: nothing armed. Arm the oldest eligible draft: no schedule
	// marker at all, not already published.
	for _, d := range sorted {
		if d.AutoPublish || d.RawScheduled != "" || snap.ContainsDraft(d.ID) {
			continue
		}
		at, err := NextSlot(earliestSchedule, cfg.Location, cfg.Slots, cfg.HorizonDays)
		if err != nil {
			return Plan{}, err
		}
		plan.Arm = &Assignment{ID: d.ID, At: at}
		return plan, nil
	}

	return plan, nil
}

// EarliestSchedule is the first instant a new scheduled_at may point to:
// the earliest allowed publish time, pushed out by the scheduling buffer.
func EarliestSchedule(snap *ledger.Snapshot, cfg Config, now time.Time) time.Time {
	earliest := earliestAllowedPublish(snap, cfg, now)
	if buffered := now.Add(cfg.Buffer); buffered.After(earliest) {
		earliest = buffered
	}
	return earliest
}

// earliestAllowedPublish computes the first instant a publish could pass the
// rate-limit guardrails: after the minimum interval from the latest post,
// and after the daily window frees a slot when the cap is reached.
func earliestAllowedPublish(snap *ledger.Snapshot, cfg Config, now time.Time) time.Time {
	earliest := now
	if latest, ok := snap.Latest(); ok {
		if t := latest.Add(cfg.MinPostInterval); t.After(earliest) {
			earliest = t
		}
	}
	if cfg.MaxPostsPerDay > 0 && snap.CountInWindow(guardrail.Window, now) >= cfg.MaxPostsPerDay {
		if oldest, ok := snap.OldestInWindow(guardrail.Window, now); ok {
			if t := oldest.Add(guardrail.Window); t.After(earliest) {
				earliest = t
			}
		}
	}
	return earliest
}

// Runner executes scheduler runs against the draft store and ledger.
type Runner struct {
	store  *draft.Store
	ledger *ledger.Ledger
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a scheduler runner. now defaults to time.Now.
func NewRunner(store *draft.Store, lg *ledger.Ledger, cfg Config, logger *slog.Logger, now func() time.Time) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{store: store, ledger: lg, cfg: cfg, logger: logger, now: now}
}

// Run performs one scheduler invocation: load current state, compute the
// plan, apply it. The ledger is re-read on every run.
func (r *Runner) Run() error {
	snap, err := r.ledger.Snapshot()
	if err != nil {
		return err
	}
	drafts, err := r.store.List()
	if err != nil {
		return err
	}

	states := make([]State, 0, len(drafts))
	for _, d := range drafts {
		st := State{
			ID:           d.ID,
			AutoPublish:  d.Meta.AutoPublish,
			ScheduledAt:  d.Meta.ScheduledAt,
			HasSchedule:  d.Meta.HasScheduled,
			RawScheduled: d.RawScheduled(),
		}
		if fp, fpErr := r.store.Fingerprint(d); fpErr == nil {
			st.Fingerprint = fp
		}
		states = append(states, st)
	}

	plan, err := Compute(states, snap, r.cfg, r.now().UTC())
	if err != nil {
		return err
	}
	return r.apply(plan)
}

func (r *Runner) apply(plan Plan) error {
	for _, w := range plan.Warnings {
		r.logger.Warn(w)
	}
	for _, id := range plan.Disarm {
		if err := r.store.Disarm(id); err != nil {
			return fmt.Errorf("disarm %s: %w", id, err)
		}
		r.logger.Info("disarmed draft", slog.String("draft", id))
	}
	if plan.Keep != "" {
		r.logger.Info("leaving due draft armed", slog.String("draft", plan.Keep))
		return nil
	}
	if plan.Reschedule != nil {
		if err := r.store.Arm(plan.Reschedule.ID, plan.Reschedule.At); err != nil {
			return fmt.Errorf("reschedule %s: %w", plan.Reschedule.ID, err)
		}
		r.logger.Info("rescheduled draft",
			slog.String("draft", plan.Reschedule.ID),
			slog.Time("scheduled_at", plan.Reschedule.At))
		return nil
	}
	if plan.Arm != nil {
		if err := r.store.Arm(plan.Arm.ID, plan.Arm.At); err != nil {
			return fmt.Errorf("arm %s: %w", plan.Arm.ID, err)
		}
		r.logger.Info("armed draft",
			slog.String("draft", plan.Arm.ID),
			slog.Time("scheduled_at", plan.Arm.At))
		return nil
	}
	r.logger.Info("no eligible drafts to schedule")
	return nil
}
