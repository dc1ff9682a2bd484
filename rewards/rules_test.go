package rewards_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/rewards"
)

var rules = rewards.DefaultRules()

func TestLesson_HardDifficultyMultiplier(t *testing.T) {
	// GIVEN: A hard lesson with 2 correct answers, slow, no streak
	// WHEN: Computing the breakdown
	// THEN: subtotal 20 x 1.5 = 30, recorded as a 10 point difficulty bonus
	b, err := rules.Compute(rewards.LessonCompleted{CorrectAnswers: 2, TimeSpentMinutes: 5, Difficulty: rewards.DifficultyHard}, 0)
	require.NoError(t, err)

	assert.Equal(t, ledger.Breakdown{
		{Name: "base_completion", Points: 10},
		{Name: "correct_answers_bonus", Points: 10},
		{Name: "difficulty_bonus", Points: 10},
	}, b)
	assert.Equal(t, int64(30), b.Total())
}

func TestLesson_HardMultiplierFloors(t *testing.T) {
	// subtotal 15 (base 10 + streak 5) x 1.5 = 22.5 -> 22
	b, err := rules.Compute(rewards.LessonCompleted{Difficulty: rewards.DifficultyHard}, 5)
	require.NoError(t, err)

	bonus, ok := b.Get("difficulty_bonus")
	require.True(t, ok)
	assert.Equal(t, int64(7), bonus)
	assert.Equal(t, int64(22), b.Total())
}

func TestLesson_SpeedBonusBoundary(t *testing.T) {
	tests := []struct {
		name    string
		minutes float64
		want    bool
	}{
		{"two minutes is not fast", 2, false},
		{"one minute is fast", 1, true},
		{"just under two", 1.99, true},
		{"zero means not measured", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := rules.Compute(rewards.LessonCompleted{TimeSpentMinutes: tt.minutes, Difficulty: rewards.DifficultyEasy}, 0)
			require.NoError(t, err)
			_, got := b.Get("speed_bonus")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLesson_ComponentOrderAndStreak(t *testing.T) {
	b, err := rules.Compute(rewards.LessonCompleted{CorrectAnswers: 3, TimeSpentMinutes: 1, Difficulty: rewards.DifficultyMedium}, 5)
	require.NoError(t, err)

	assert.Equal(t, ledger.Breakdown{
		{Name: "base_completion", Points: 10},
		{Name: "correct_answers_bonus", Points: 15},
		{Name: "speed_bonus", Points: 10},
		{Name: "streak_bonus", Points: 5},
	}, b)
	assert.Equal(t, int64(40), b.Total())
}

func TestLesson_EmptyDifficultyIsMedium(t *testing.T) {
	b, err := rules.Compute(rewards.LessonCompleted{}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Total())
}

func TestQuiz_PerfectScore(t *testing.T) {
	b, err := rules.Compute(rewards.QuizCompleted{CorrectAnswers: 4, TotalQuestions: 4, TimeSpentMinutes: 10}, 0)
	require.NoError(t, err)

	assert.Equal(t, ledger.Breakdown{
		{Name: "correct_answers_bonus", Points: 20},
		{Name: "perfect_score_bonus", Points: 20},
	}, b)
}

func TestQuiz_ZeroCorrectIsEmptyBreakdown(t *testing.T) {
	b, err := rules.Compute(rewards.QuizCompleted{CorrectAnswers: 0, TotalQuestions: 5, TimeSpentMinutes: 3}, 0)
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.Zero(t, b.Total())
}

func TestQuiz_StreakBonusIgnored(t *testing.T) {
	b, err := rules.Compute(rewards.QuizCompleted{CorrectAnswers: 1, TotalQuestions: 2, TimeSpentMinutes: 1}, 5)
	require.NoError(t, err)
	_, ok := b.Get("streak_bonus")
	assert.False(t, ok)
	assert.Equal(t, int64(15), b.Total())
}

func TestFixedAmountEvents(t *testing.T) {
	login, err := rules.Compute(rewards.DailyLogin{}, 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.Breakdown{{Name: "daily_login", Points: 5}}, login)

	ded, err := rules.Compute(rewards.Deduction{Amount: 40, Reason: ledger.ReasonRedemption}, 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.Breakdown{{Name: "deduction", Points: -40}}, ded)

	grant, err := rules.Compute(rewards.Grant{Amount: 100, Reason: ledger.ReasonAchievement}, 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.Breakdown{{Name: "grant", Points: 100}}, grant)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		ev   rewards.Event
		want error
	}{
		{"negative correct answers", rewards.LessonCompleted{CorrectAnswers: -1}, ledger.ErrInvalidEvent},
		{"negative minutes", rewards.LessonCompleted{TimeSpentMinutes: -1}, ledger.ErrInvalidEvent},
		{"unknown difficulty", rewards.LessonCompleted{Difficulty: "extreme"}, ledger.ErrInvalidEvent},
		{"quiz without questions", rewards.QuizCompleted{TotalQuestions: 0}, ledger.ErrInvalidEvent},
		{"more correct than total", rewards.QuizCompleted{CorrectAnswers: 3, TotalQuestions: 2}, ledger.ErrInvalidEvent},
		{"zero deduction", rewards.Deduction{Amount: 0}, ledger.ErrInvalidAmount},
		{"negative deduction", rewards.Deduction{Amount: -5}, ledger.ErrInvalidAmount},
		{"deduction with credit reason", rewards.Deduction{Amount: 5, Reason: ledger.ReasonRefund}, ledger.ErrInvalidEvent},
		{"zero grant", rewards.Grant{Amount: 0}, ledger.ErrInvalidAmount},
		{"grant with debit reason", rewards.Grant{Amount: 5, Reason: ledger.ReasonPenalty}, ledger.ErrInvalidEvent},
		{"grant of max int64", rewards.Grant{Amount: math.MaxInt64}, ledger.ErrInvalidAmount},
		{"deduction above maximum", rewards.Deduction{Amount: rewards.MaxAmount + 1}, ledger.ErrInvalidAmount},
		{"lesson answers that would overflow", rewards.LessonCompleted{CorrectAnswers: math.MaxInt64 / 4}, ledger.ErrInvalidEvent},
		{"quiz above question cap", rewards.QuizCompleted{CorrectAnswers: 1, TotalQuestions: rewards.MaxAnswers + 1}, ledger.ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rules.Compute(tt.ev, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDefaultReasons(t *testing.T) {
	assert.Equal(t, ledger.ReasonManualAdjustment, rewards.Deduction{Amount: 1}.LedgerReason())
	assert.Equal(t, ledger.ReasonManualAdjustment, rewards.Grant{Amount: 1}.LedgerReason())
}

func TestLessonProvenance(t *testing.T) {
	p := rewards.LessonCompleted{LessonID: "L1", CorrectAnswers: 2, TimeSpentMinutes: 1.5}.Provenance()
	assert.Equal(t, "L1", p.ReferenceID)
	assert.Equal(t, "medium", p.Metadata["difficulty"])
	assert.Equal(t, "1.5", p.Metadata["time_spent_minutes"])
}

func TestRules_Validate(t *testing.T) {
	assert.NoError(t, rules.Validate())

	bad := rewards.DefaultRules()
	bad.HardMultiplier = decimal.NewFromFloat(0.5)
	assert.Error(t, bad.Validate())

	bad = rewards.DefaultRules()
	bad.DailyLogin = -1
	assert.Error(t, bad.Validate())

	bad = rewards.DefaultRules()
	bad.PerCorrectAnswer = rewards.MaxAmount + 1
	assert.Error(t, bad.Validate())

	bad = rewards.DefaultRules()
	bad.HardMultiplier = decimal.NewFromInt(11)
	assert.Error(t, bad.Validate())
}

func TestBounds_LargestInputsStayPositive(t *testing.T) {
	// GIVEN: The largest accepted answer count and amount
	// WHEN: Computing their breakdowns
	// THEN: Totals are exact and positive
	b, err := rules.Compute(rewards.LessonCompleted{CorrectAnswers: rewards.MaxAnswers, Difficulty: rewards.DifficultyHard}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(75_015), b.Total())

	b, err = rules.Compute(rewards.Grant{Amount: rewards.MaxAmount}, 0)
	require.NoError(t, err)
	assert.Equal(t, rewards.MaxAmount, b.Total())
}

func TestCustomRules(t *testing.T) {
	r := rewards.DefaultRules()
	r.HardMultiplier = decimal.NewFromInt(2)
	r.BaseCompletion = 20

	b, err := r.Compute(rewards.LessonCompleted{Difficulty: rewards.DifficultyHard}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(40), b.Total())
}
