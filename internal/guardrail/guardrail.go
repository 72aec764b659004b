// Package guardrail decides whether a publish attempt is currently allowed.
// Evaluate is a pure function of explicit inputs: the caller samples the
// clock, ledger, kill switch, host identity, and approval record, so tests
// can reproduce any decision deterministically. A prior Allow is never
// trusted across time; callers re-evaluate immediately before publishing.
package guardrail

import (
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/ledger"
)

// Mode selects which checks apply. Manual publishing answers to a human
// (host identity, approval record); auto publishing answers to the schedule
// (armed flag, due time, staleness).
type Mode int

const (
	ModeManual Mode = iota
	ModeAuto
)

func (m Mode) String() string {
	if m == ModeAuto {
		return "auto"
	}
	return "manual"
}

// Reason identifies why a publish attempt was denied.
type Reason string

const (
	ReasonStopped             Reason = "stopped"
	ReasonWrongHost           Reason = "wrong_host"
	ReasonNotApproved         Reason = "not_approved"
	ReasonNotArmed            Reason = "not_armed"
	ReasonNotScheduled        Reason = "not_scheduled"
	ReasonTooEarly            Reason = "too_early"
	ReasonStale               Reason = "stale"
	ReasonDuplicate           Reason = "duplicate"
	ReasonRateLimitedDaily    Reason = "rate_limited_daily"
	ReasonRateLimitedInterval Reason = "rate_limited_interval"
)

// Rules is the process-wide guardrail configuration, resolved by the caller
// before evaluation (never read from the environment here).
type Rules struct {
	MaxPostsPerDay  int
	MinPostInterval time.Duration
	MaxLate         time.Duration
	RequiredHost    string
	RequireApproval bool
}

// Draft is the evaluator's view of one draft document.
type Draft struct {
	ID          string
	Fingerprint string
	AutoPublish bool
	ScheduledAt time.Time
	HasSchedule bool
}

// Inputs carries the ambient state sampled at decision time.
type Inputs struct {
	Stopped    bool
	StopDetail string
	Host       string
	Approved   bool
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

// Allow returns a permitting decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny returns a refusing decision with a reason and human-readable detail.
func Deny(reason Reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Err returns nil for an Allow, or a *DeniedError for a Deny.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason, Detail: d.Detail}
}

// DeniedError is the typed error form of a Deny decision.
type DeniedError struct {
	Reason Reason
	Detail string
}

func (e *DeniedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("publish denied (%s)", e.Reason)
	}
	return fmt.Sprintf("publish denied (%s): %s", e.Reason, e.Detail)
}

// Window is the rolling window for the daily post cap.
const Window = 24 * time.Hour

// Evaluate runs the ordered, short-circuiting guardrail checks. The order is
// part of the contract: when several conditions hold at once, the
// higher-priority reason is reported.
func Evaluate(now time.Time, snap *ledger.Snapshot, rules Rules, d Draft, in Inputs, mode Mode) Decision {
	if in.Stopped {
		return Deny(ReasonStopped, in.StopDetail)
	}

	if mode == ModeManual {
		if rules.RequiredHost != "" && in.Host != rules.RequiredHost {
			return Deny(ReasonWrongHost,
				fmt.Sprintf("host %q, expected %q", in.Host, rules.RequiredHost))
		}
		if rules.RequireApproval && !in.Approved {
			return Deny(ReasonNotApproved,
				fmt.Sprintf("no approval record references %s", d.ID))
		}
	}

	if mode == ModeAuto {
		if !d.AutoPublish {
			return Deny(ReasonNotArmed, "draft is not marked auto_publish")
		}
		if !d.HasSchedule {
			return Deny(ReasonNotScheduled, "draft has no valid scheduled_at")
		}
	}

	if d.HasSchedule {
		if d.ScheduledAt.After(now) {
			return Deny(ReasonTooEarly,
				fmt.Sprintf("scheduled for %s", d.ScheduledAt.UTC().Format(time.RFC3339)))
		}
		if now.Sub(d.ScheduledAt) > rules.MaxLate {
			return Deny(ReasonStale,
				fmt.Sprintf("scheduled %s ago, max lateness %s", now.Sub(d.ScheduledAt), rules.MaxLate))
		}
	}

	if snap.ContainsDraft(d.ID) {
		return Deny(ReasonDuplicate, fmt.Sprintf("draft already published: %s", d.ID))
	}
	if d.Fingerprint != "" && snap.ContainsFingerprint(d.Fingerprint) {
		return Deny(ReasonDuplicate, "identical text already published")
	}

	if rules.MaxPostsPerDay > 0 {
		if n := snap.CountInWindow(Window, now); n >= rules.MaxPostsPerDay {
			return Deny(ReasonRateLimitedDaily,
				fmt.Sprintf("%d posts in the last 24h (cap %d)", n, rules.MaxPostsPerDay))
		}
	}
	if latest, ok := snap.Latest(); ok {
		if since := now.Sub(latest); since < rules.MinPostInterval {
			return Deny(ReasonRateLimitedInterval,
				fmt.Sprintf("last post %s ago, minimum interval %s", since, rules.MinPostInterval))
		}
	}

	return Allow()
}
