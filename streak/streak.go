/*
Package streak tracks consecutive calendar days of learning activity.

PURPOSE:
  A streak counts consecutive days on which an account completed a lesson.
  Reaching an exact milestone length pays a one-off bonus that the rule
  engine adds to the lesson's breakdown.

TRANSITIONS (today vs LastActivityDate):
  same day        -> no change, bonus 0
  the day before  -> current + 1
  older / none    -> current = 1
  later (skew)    -> no change, bonus 0

  LongestStreak never decreases. Milestones match on exact length, so a
  streak of 3 pays the 3-day bonus once and day 4 pays nothing.

PURITY:
  Advance does no I/O. The caller persists Outcome.State in the same
  transaction as the ledger entry it feeds.
*/
package streak

import (
	"time"

	"github.com/warp/points-ledger/ledger"
)

// Milestones maps an exact streak length to its bonus points.
type Milestones map[int]int64

// DefaultMilestones returns the standard table: 3 days +5, 7 days +10, 30 days +20.
func DefaultMilestones() Milestones {
	return Milestones{3: 5, 7: 10, 30: 20}
}

// Bonus returns the bonus for an exact streak length.
func (m Milestones) Bonus(length int) int64 {
	return m[length]
}

// Outcome is the result of one activity signal.
type Outcome struct {
	State     ledger.StreakState
	Changed   bool  // false when the day was already counted
	Bonus     int64 // milestone bonus, 0 when none was hit
	Milestone int   // streak length that paid Bonus
}

// Info returns the snapshot attached to a ledger entry.
func (o Outcome) Info() *ledger.StreakInfo {
	return &ledger.StreakInfo{
		CurrentStreak: o.State.CurrentStreak,
		LongestStreak: o.State.LongestStreak,
		BonusPoints:   o.Bonus,
		Milestone:     o.Milestone,
	}
}

// Advance applies an activity on today to state. A zero-valued state is
// treated as "no record yet".
func Advance(state ledger.StreakState, today ledger.Day, milestones Milestones, now time.Time) Outcome {
	last := state.LastActivityDate
	gap := last.DaysUntil(today)

	switch {
	case !last.IsZero() && gap <= 0:
		// Already counted today, or a clock that went backwards
		return Outcome{State: state}
	case !last.IsZero() && gap == 1:
		state.CurrentStreak++
	default:
		state.CurrentStreak = 1
	}

	if state.CurrentStreak > state.LongestStreak {
		state.LongestStreak = state.CurrentStreak
	}
	state.LastActivityDate = today
	state.UpdatedAt = now

	out := Outcome{State: state, Changed: true}
	if bonus := milestones.Bonus(state.CurrentStreak); bonus > 0 {
		out.Bonus = bonus
		out.Milestone = state.CurrentStreak
	}
	return out
}
