package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// DAY
// =============================================================================

func TestDayOf_UsesLocation(t *testing.T) {
	// 23:30 UTC on March 10 is already March 11 in Tokyo
	instant := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*60*60)

	assert.Equal(t, ledger.NewDay(2025, 3, 10), ledger.DayOf(instant, nil))
	assert.Equal(t, ledger.NewDay(2025, 3, 11), ledger.DayOf(instant, tokyo))
}

func TestDay_Arithmetic(t *testing.T) {
	feb28 := ledger.NewDay(2024, time.February, 28)

	assert.Equal(t, ledger.NewDay(2024, time.February, 29), feb28.AddDays(1), "leap year")
	assert.Equal(t, ledger.NewDay(2024, time.March, 1), feb28.AddDays(2))
	assert.True(t, feb28.Before(feb28.AddDays(1)))
	assert.True(t, feb28.AddDays(1).After(feb28))
	assert.Equal(t, 2, feb28.DaysUntil(feb28.AddDays(2)))
	assert.Equal(t, -1, feb28.DaysUntil(feb28.AddDays(-1)))
}

func TestDay_TextRoundTrip(t *testing.T) {
	d := ledger.NewDay(2025, 12, 31)
	assert.Equal(t, "2025-12-31", d.String())

	b, err := json.Marshal(struct {
		D ledger.Day `json:"d"`
	}{d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2025-12-31"}`, string(b))

	var back struct {
		D ledger.Day `json:"d"`
	}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back.D)
}

func TestDay_Zero(t *testing.T) {
	var d ledger.Day
	assert.True(t, d.IsZero())
	assert.Equal(t, "", d.String())

	parsed, err := ledger.ParseDay("")
	require.NoError(t, err)
	assert.True(t, parsed.IsZero())

	_, err = ledger.ParseDay("10/03/2025")
	assert.Error(t, err)
}

// =============================================================================
// REASONS, BREAKDOWN, FILTER
// =============================================================================

func TestParseReason(t *testing.T) {
	r, err := ledger.ParseReason("quiz_score")
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonQuizScore, r)

	_, err = ledger.ParseReason("bonus")
	assert.ErrorIs(t, err, ledger.ErrInvalidEvent)
	var unknown *ledger.UnknownReasonError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bonus", unknown.Value)
}

func TestBreakdown(t *testing.T) {
	b := ledger.Breakdown{{Name: "base_completion", Points: 10}, {Name: "speed_bonus", Points: 10}}

	assert.Equal(t, int64(20), b.Total())
	v, ok := b.Get("speed_bonus")
	assert.True(t, ok)
	assert.Equal(t, int64(10), v)
	_, ok = b.Get("streak_bonus")
	assert.False(t, ok)
	assert.Equal(t, map[string]int64{"base_completion": 10, "speed_bonus": 10}, b.Map())
}

func TestAddPoints(t *testing.T) {
	sum, err := ledger.AddPoints(10, -4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum)

	_, err = ledger.AddPoints(10, math.MaxInt64)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = ledger.AddPoints(-10, math.MinInt64)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestHistoryFilter_Normalize(t *testing.T) {
	assert.Equal(t, ledger.DefaultHistoryLimit, ledger.HistoryFilter{}.Normalize().Limit)
	assert.Equal(t, ledger.MaxHistoryLimit, ledger.HistoryFilter{Limit: 10_000}.Normalize().Limit)
	assert.Equal(t, 0, ledger.HistoryFilter{Offset: -3}.Normalize().Offset)

	f := ledger.HistoryFilter{Reasons: []ledger.Reason{ledger.ReasonRefund}}
	assert.True(t, f.Matches(ledger.Entry{Reason: ledger.ReasonRefund}))
	assert.False(t, f.Matches(ledger.Entry{Reason: ledger.ReasonPenalty}))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorClassification(t *testing.T) {
	storage := ledger.Unavailable("append entry", errors.New("disk I/O error"))

	assert.ErrorIs(t, storage, ledger.ErrStorageUnavailable)
	assert.True(t, ledger.IsRetryable(storage))
	assert.False(t, ledger.IsClientError(storage))

	assert.True(t, ledger.IsRetryable(ledger.ErrConcurrentModification))
	assert.True(t, ledger.IsClientError(&ledger.InsufficientBalanceError{Available: 1, Requested: 2}))
	assert.True(t, ledger.IsClientError(&ledger.ValidationError{Field: "amount", Message: "bad"}))
	assert.True(t, ledger.IsClientError(fmt.Errorf("wrapped: %w", ledger.ErrAlreadyAppliedToday)))
}

func TestUnavailable_PassesThroughLedgerErrors(t *testing.T) {
	assert.NoError(t, ledger.Unavailable("op", nil))
	assert.Same(t, ledger.ErrAlreadyAppliedToday, ledger.Unavailable("op", ledger.ErrAlreadyAppliedToday))

	var se *ledger.StorageError
	cause := errors.New("database is locked")
	err := ledger.Unavailable("commit", cause)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "commit", se.Op)
	assert.ErrorIs(t, err, cause)
}

func TestUnavailable_PassesThroughContextErrors(t *testing.T) {
	wrapped := fmt.Errorf("query: %w", context.DeadlineExceeded)
	for _, cause := range []error{context.Canceled, wrapped} {
		err := ledger.Unavailable("history", cause)
		assert.Same(t, cause, err)
		assert.True(t, ledger.IsCanceled(err))
		assert.False(t, ledger.IsRetryable(err))
	}
	assert.False(t, ledger.IsCanceled(ledger.ErrStorageUnavailable))
}

func TestInsufficientBalanceError_Message(t *testing.T) {
	err := &ledger.InsufficientBalanceError{AccountID: "u1", Available: 30, Requested: 45}
	assert.Contains(t, err.Error(), "shortfall 15")
}

// =============================================================================
// CHAIN VERIFICATION
// =============================================================================

func chain(deltas ...int64) []ledger.Entry {
	var (
		out []ledger.Entry
		bal int64
	)
	for i, d := range deltas {
		bal += d
		out = append(out, ledger.Entry{
			ID: ledger.EntryID(fmt.Sprintf("e%d", i+1)), Seq: int64(i + 1), AccountID: "u1",
			Delta: d, BalanceAfter: bal,
		})
	}
	return out
}

func TestVerifyChain_Valid(t *testing.T) {
	entries := chain(10, 5, -15, 20)
	assert.NoError(t, ledger.VerifyChain(entries))
	assert.Equal(t, int64(20), ledger.Sum(entries))
	assert.NoError(t, ledger.VerifyChain(nil))
}

func TestVerifyChain_BrokenRunningTotal(t *testing.T) {
	// GIVEN: A chain whose third entry claims the wrong balance
	// WHEN: Verifying
	// THEN: The error points at that entry with expected and actual balances
	entries := chain(10, 5, -15)
	entries[2].BalanceAfter = 7

	err := ledger.VerifyChain(entries)
	require.ErrorIs(t, err, ledger.ErrIntegrityViolation)

	var ie *ledger.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ledger.EntryID("e3"), ie.EntryID)
	assert.Equal(t, int64(0), ie.Expected)
	assert.Equal(t, int64(7), ie.Actual)
}

func TestVerifyChain_BreakdownMismatch(t *testing.T) {
	entries := chain(10)
	entries[0].Breakdown = ledger.Breakdown{{Name: "base_completion", Points: 8}}

	assert.ErrorIs(t, ledger.VerifyChain(entries), ledger.ErrIntegrityViolation)
}

func TestVerifyChain_OutOfOrder(t *testing.T) {
	entries := chain(10, 5)
	entries[0].Seq, entries[1].Seq = 2, 1

	assert.ErrorIs(t, ledger.VerifyChain(entries), ledger.ErrIntegrityViolation)
}

func TestNewEntryID_Unique(t *testing.T) {
	assert.NotEqual(t, ledger.NewEntryID(), ledger.NewEntryID())
}
