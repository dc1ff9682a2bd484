package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var day = ledger.NewDay(2025, 3, 10)

func lesson(account, key string, delta, balanceAfter int64) ledger.Entry {
	return ledger.Entry{
		AccountID:      ledger.AccountID(account),
		IdempotencyKey: key,
		Delta:          delta,
		BalanceAfter:   balanceAfter,
		Reason:         ledger.ReasonLessonComplete,
		ReferenceID:    "lesson-1",
		ActivityDay:    day,
		Metadata:       map[string]string{"difficulty": "hard"},
		Breakdown:      ledger.Breakdown{{Name: "base", Points: 10}, {Name: "speed_bonus", Points: delta - 10}},
		Streak:         &ledger.StreakInfo{CurrentStreak: 3, LongestStreak: 3, BonusPoints: 5, Milestone: 3},
	}
}

func TestSQLite_AppendAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	e, created, err := s.AppendIfAbsent(ctx, lesson("u1", "k1", 15, 15))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), e.Seq)

	got, found, err := s.FindByKey(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, day, got.ActivityDay)
	assert.Equal(t, "hard", got.Metadata["difficulty"])
	assert.Equal(t, ledger.Breakdown{{Name: "base", Points: 10}, {Name: "speed_bonus", Points: 5}}, got.Breakdown)
	require.NotNil(t, got.Streak)
	assert.Equal(t, 3, got.Streak.Milestone)
	assert.Equal(t, "lesson-1", got.ReferenceID)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLite_AppendIfAbsent_ReturnsExisting(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, _, err := s.AppendIfAbsent(ctx, lesson("u1", "k1", 15, 15))
	require.NoError(t, err)

	again, created, err := s.AppendIfAbsent(ctx, lesson("u1", "k1", 30, 45))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(15), again.BalanceAfter)

	bal, err := s.CurrentBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), bal)
}

func TestSQLite_RejectsStaleBalance(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, _, err := s.AppendIfAbsent(ctx, lesson("u1", "k1", 15, 15))
	require.NoError(t, err)

	_, _, err = s.AppendIfAbsent(ctx, lesson("u1", "k2", 15, 15))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}

func TestSQLite_DailyLoginUniqueIndex(t *testing.T) {
	// GIVEN: A daily login recorded on March 10
	// WHEN: A second login with a new key is appended for the same day
	// THEN: The unique index rejects it as already applied today
	ctx := context.Background()
	s := newStore(t)

	login := ledger.Entry{AccountID: "u1", IdempotencyKey: "login-1", Delta: 5, BalanceAfter: 5, Reason: ledger.ReasonDailyLogin, ActivityDay: day}
	_, _, err := s.AppendIfAbsent(ctx, login)
	require.NoError(t, err)

	login.IdempotencyKey = "login-2"
	login.BalanceAfter = 10
	_, _, err = s.AppendIfAbsent(ctx, login)
	assert.ErrorIs(t, err, ledger.ErrAlreadyAppliedToday)

	has, err := s.HasEntryOn(ctx, "u1", ledger.ReasonDailyLogin, day)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasEntryOn(ctx, "u1", ledger.ReasonDailyLogin, day.AddDays(1))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSQLite_HistoryFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var bal int64
	for i, r := range []ledger.Reason{ledger.ReasonLessonComplete, ledger.ReasonQuizScore, ledger.ReasonLessonComplete} {
		bal += 10
		e := ledger.Entry{AccountID: "u1", IdempotencyKey: string(rune('a' + i)), Delta: 10, BalanceAfter: bal, Reason: r, ActivityDay: day}
		_, _, err := s.AppendIfAbsent(ctx, e)
		require.NoError(t, err)
	}

	all, err := s.History(ctx, "u1", ledger.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(30), all[0].BalanceAfter)

	lessons, err := s.History(ctx, "u1", ledger.HistoryFilter{Reasons: []ledger.Reason{ledger.ReasonLessonComplete}, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, int64(10), lessons[0].BalanceAfter)

	accounts, err := s.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.AccountID{"u1"}, accounts)
}

func TestSQLite_WithTx_RollsBackEntryAndStreak(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if _, _, err := tx.AppendIfAbsent(ctx, lesson("u1", "k1", 15, 15)); err != nil {
			return err
		}
		if err := tx.SaveStreak(ctx, ledger.StreakState{AccountID: "u1", CurrentStreak: 1, LongestStreak: 1, LastActivityDate: day}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, found, err := s.FindByKey(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.Streak(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLite_StreakUpsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveStreak(ctx, ledger.StreakState{AccountID: "u1", CurrentStreak: 1, LongestStreak: 1, LastActivityDate: day}))
	require.NoError(t, s.SaveStreak(ctx, ledger.StreakState{AccountID: "u1", CurrentStreak: 2, LongestStreak: 2, LastActivityDate: day.AddDays(1)}))

	st, found, err := s.Streak(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, st.CurrentStreak)
	assert.Equal(t, day.AddDays(1), st.LastActivityDate)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "points.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	_, _, err = s.AppendIfAbsent(ctx, lesson("u1", "k1", 15, 15))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	bal, err := s.CurrentBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), bal)
}

func TestStore_CanceledContextIsNotStorageError(t *testing.T) {
	// GIVEN: A canceled context
	// WHEN: A read runs against the database
	// THEN: The context error comes back unwrapped and is not retryable
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CurrentBalance(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.False(t, ledger.IsRetryable(err))
}
