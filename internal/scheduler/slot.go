package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
)

// Slot is one local time-of-day candidate for scheduling.
type Slot struct {
	Hour   int
	Minute int
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// ParseSlot parses "HH:MM".
func ParseSlot(v string) (Slot, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return Slot{}, fmt.Errorf("invalid slot %q: want HH:MM", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return Slot{}, fmt.Errorf("invalid slot %q: %w", v, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return Slot{}, fmt.Errorf("invalid slot %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return Slot{}, fmt.Errorf("invalid slot %q: out of range", v)
	}
	return Slot{Hour: h, Minute: m}, nil
}

// ParseSlots parses a slot list and returns it sorted chronologically within
// the day. An empty list is a configuration error.
func ParseSlots(values []string) ([]Slot, error) {
	out := make([]Slot, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		s, err := ParseSlot(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid slots configured")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})
	return out, nil
}

// NextSlot returns the first slot instant at or after earliest, scanning
// day by day in loc over the chronologically ordered slot list and
// converting the winner back to UTC. The horizon is inclusive: horizonDays=7
// scans today plus the next seven days. Exhausting the horizon signals
// apperr.ErrNoSlot (slot list empty or horizon too short for the rate
// limits in effect).
func NextSlot(earliest time.Time, loc *time.Location, slots []Slot, horizonDays int) (time.Time, error) {
	if len(slots) == 0 {
		return time.Time{}, fmt.Errorf("scheduler: %w", apperr.ErrNoSlot)
	}
	local := earliest.In(loc)
	year, month, day := local.Date()
	for offset := 0; offset <= horizonDays; offset++ {
		for _, s := range slots {
			candidate := time.Date(year, month, day+offset, s.Hour, s.Minute, 0, 0, loc)
			if !candidate.Before(local) {
				return candidate.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("scheduler: no slot within %d days: %w", horizonDays, apperr.ErrNoSlot)
}
