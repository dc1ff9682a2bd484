/*
Package ledger provides the point ledger: the append-only record of every
balance change and the storage contract behind it.

PURPOSE:
  Points are earned by completing lessons and quizzes and spent on rewards.
  Every earn and spend is one immutable Entry. The balance of an account is
  never stored on its own; it is the BalanceAfter of the account's most
  recent entry, a denormalized running total that is checked on every write.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: One immutable ledger row (delta, reason, running balance)
  - Reason: Closed set of business reasons for a balance change
  - Breakdown: Named point components that sum to an entry's delta
  - StreakState: Per-account calendar streak, stored next to the ledger
  - Day: A calendar date, independent of time of day

CRITICAL INVARIANTS:
  1. BALANCE INTEGRITY: ordered by Seq, BalanceAfter[n] == BalanceAfter[n-1] + Delta[n]
  2. IDEMPOTENCY: no two entries share an IdempotencyKey, across all accounts
  3. DAILY LOGIN: at most one daily_login entry per account per calendar day
  4. APPEND-ONLY: entries are never updated or deleted

SEE ALSO:
  - store.go: Storage contract (AppendIfAbsent, CurrentBalance, History)
  - errors.go: Error taxonomy
  - verify.go: Balance chain verification
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// NewEntryID returns a fresh random entry id.
func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// =============================================================================
// REASON - Why a balance changed
// =============================================================================

type Reason string

const (
	ReasonLessonComplete   Reason = "lesson_complete"
	ReasonQuizScore        Reason = "quiz_score"
	ReasonDailyLogin       Reason = "daily_login"
	ReasonStreakBonus      Reason = "streak_bonus" // recorded as a breakdown line of lesson_complete
	ReasonAchievement      Reason = "achievement"
	ReasonRedemption       Reason = "redemption"
	ReasonManualAdjustment Reason = "manual_adjustment"
	ReasonRefund           Reason = "refund"
	ReasonPenalty          Reason = "penalty"
	ReasonExpired          Reason = "expired"
)

var reasons = map[Reason]bool{
	ReasonLessonComplete:   true,
	ReasonQuizScore:        true,
	ReasonDailyLogin:       true,
	ReasonStreakBonus:      true,
	ReasonAchievement:      true,
	ReasonRedemption:       true,
	ReasonManualAdjustment: true,
	ReasonRefund:           true,
	ReasonPenalty:          true,
	ReasonExpired:          true,
}

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool { return reasons[r] }

// ParseReason converts a string into a Reason.
func ParseReason(s string) (Reason, error) {
	r := Reason(s)
	if !r.Valid() {
		return "", &UnknownReasonError{Value: s}
	}
	return r, nil
}

// =============================================================================
// BREAKDOWN - Named components of a point award
// =============================================================================

// Component is one named line of a breakdown, e.g. "speed_bonus": 10.
type Component struct {
	Name   string `json:"name"`
	Points int64  `json:"points"`
}

// Breakdown is an ordered list of components. Order is the order in which
// the rule engine produced them and is preserved through storage.
type Breakdown []Component

// Total returns the sum of all components.
func (b Breakdown) Total() int64 {
	var total int64
	for _, c := range b {
		total += c.Points
	}
	return total
}

// AddPoints returns balance+delta, or ErrInvalidAmount when the result does
// not fit in an int64.
func AddPoints(balance, delta int64) (int64, error) {
	sum := balance + delta
	if (delta > 0 && sum < balance) || (delta < 0 && sum > balance) {
		return 0, fmt.Errorf("%w: %d%+d overflows the balance", ErrInvalidAmount, balance, delta)
	}
	return sum, nil
}

// Get returns the points for a named component.
func (b Breakdown) Get(name string) (int64, bool) {
	for _, c := range b {
		if c.Name == name {
			return c.Points, true
		}
	}
	return 0, false
}

// Map returns the breakdown as a map. Order is lost.
func (b Breakdown) Map() map[string]int64 {
	m := make(map[string]int64, len(b))
	for _, c := range b {
		m[c.Name] = c.Points
	}
	return m
}

// =============================================================================
// ENTRY - Immutable ledger row
// =============================================================================

type Entry struct {
	ID             EntryID
	Seq            int64 // store-assigned total order; 0 on drafts
	AccountID      AccountID
	Delta          int64
	Reason         Reason
	IdempotencyKey string
	BalanceAfter   int64

	// Provenance
	ReferenceID string
	Description string
	Metadata    map[string]string
	Breakdown   Breakdown
	Streak      *StreakInfo

	// ActivityDay is the calendar day the event was applied on.
	ActivityDay Day
	CreatedAt   time.Time
}

// BalanceBefore returns the balance the entry was applied to.
func (e Entry) BalanceBefore() int64 { return e.BalanceAfter - e.Delta }

// =============================================================================
// STREAK STATE - One record per account
// =============================================================================

type StreakState struct {
	AccountID        AccountID
	CurrentStreak    int
	LongestStreak    int
	LastActivityDate Day
	UpdatedAt        time.Time
}

// StreakInfo is the streak outcome attached to a lesson completion.
type StreakInfo struct {
	CurrentStreak int   `json:"current_streak"`
	LongestStreak int   `json:"longest_streak"`
	BonusPoints   int64 `json:"bonus_points"`
	Milestone     int   `json:"milestone,omitempty"` // 0 when no milestone was hit
}

// =============================================================================
// HISTORY FILTER
// =============================================================================

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type HistoryFilter struct {
	Reasons []Reason // empty = all reasons
	Limit   int
	Offset  int
}

// Normalize applies the default and maximum limit.
func (f HistoryFilter) Normalize() HistoryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether the entry passes the reason filter.
func (f HistoryFilter) Matches(e Entry) bool {
	if len(f.Reasons) == 0 {
		return true
	}
	for _, r := range f.Reasons {
		if e.Reason == r {
			return true
		}
	}
	return false
}
