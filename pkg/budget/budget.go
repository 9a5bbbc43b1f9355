// Package budget converts a cumulative, never-reset grid import meter into a
// daily usage figure against a configurable kWh budget.
package budget

import (
	"context"
	"log/slog"
	"time"

	"github.com/alwayssunny/alwayssunny/pkg/log"
	"github.com/alwayssunny/alwayssunny/pkg/types"
)

// PersistFunc is called with a fresh baseline before it is used, so a crash
// between baselining and the first computation cannot lose the day's start.
type PersistFunc func(date string, baselineKWH float64) error

// Tracker tracks one user's daily grid budget. It is owned by that user's
// loop state and never synchronized.
type Tracker struct {
	baselineDate string // YYYY-MM-DD in the user's timezone
	baselineKWH  float64
}

// Status is the budget position after an Update.
type Status struct {
	UsedKWH      float64
	RemainingKWH float64
	// Unlimited is true when no budget is configured. It is distinct from
	// Exhausted: an unlimited budget is never exhausted.
	Unlimited bool
	Exhausted bool
}

// Pct returns the share of the budget used, 0 when unlimited.
func (s Status) Pct() float64 {
	if s.Unlimited {
		return 0
	}
	total := s.UsedKWH + s.RemainingKWH
	if total <= 0 {
		return 0
	}
	return s.UsedKWH / total * 100
}

// Update advances the tracker to now and returns the budget position.
//
// now must already be in the user's timezone; the calendar date of now
// decides whether a new day has started. saved is the persisted checkpoint
// used to restore the baseline after a restart. The tracker never returns an
// error: a failed persist is logged and the in-memory baseline is used
// anyway, and a meter that goes backwards clamps used to zero.
func (t *Tracker) Update(ctx context.Context, now time.Time, meterKWH, budgetKWH float64, saved types.Checkpoint, persist PersistFunc) Status {
	today := now.Format("2006-01-02")

	// Restore the persisted baseline after a restart, but only for today.
	if t.baselineDate == "" && saved.GridBaselineDate == today {
		t.baselineDate = saved.GridBaselineDate
		t.baselineKWH = saved.GridBaselineKWH
		log.Ctx(ctx).InfoContext(ctx, "restored daily grid baseline",
			slog.String("date", t.baselineDate),
			slog.Float64("baselineKWH", t.baselineKWH),
		)
	}

	// New day or first ever run: take a fresh baseline and persist it
	// before using it.
	if t.baselineDate != today {
		t.baselineDate = today
		t.baselineKWH = meterKWH
		if persist != nil {
			if err := persist(today, meterKWH); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to persist grid baseline", slog.Any("error", err))
			}
		}
		log.Ctx(ctx).InfoContext(ctx, "daily grid baseline reset",
			slog.String("date", today),
			slog.Float64("baselineKWH", meterKWH),
		)
	}

	used := meterKWH - t.baselineKWH
	if used < 0 {
		// meter rollover or provider resync
		used = 0
	}

	st := Status{UsedKWH: used}
	if budgetKWH <= 0 {
		st.Unlimited = true
		return st
	}
	st.RemainingKWH = budgetKWH - used
	if st.RemainingKWH <= 0 {
		st.RemainingKWH = 0
		st.Exhausted = true
	}
	return st
}
