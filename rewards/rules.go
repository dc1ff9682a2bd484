package rewards

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// RULES - Point constants
// =============================================================================

// Rules holds the constants of the point formulas.
type Rules struct {
	BaseCompletion        int64
	PerCorrectAnswer      int64
	SpeedBonus            int64
	SpeedThresholdMinutes float64 // speed bonus iff 0 < minutes < threshold
	PerfectScoreBonus     int64
	DailyLogin            int64
	HardMultiplier        decimal.Decimal
}

var maxMultiplier = decimal.NewFromInt(10)

// DefaultRules returns the standard point table.
func DefaultRules() Rules {
	return Rules{
		BaseCompletion:        10,
		PerCorrectAnswer:      5,
		SpeedBonus:            10,
		SpeedThresholdMinutes: 2,
		PerfectScoreBonus:     20,
		DailyLogin:            5,
		HardMultiplier:        decimal.NewFromFloat(1.5),
	}
}

// Validate rejects tables that would produce negative awards.
func (r Rules) Validate() error {
	for name, v := range map[string]int64{
		"base_completion":     r.BaseCompletion,
		"per_correct_answer":  r.PerCorrectAnswer,
		"speed_bonus":         r.SpeedBonus,
		"perfect_score_bonus": r.PerfectScoreBonus,
		"daily_login":         r.DailyLogin,
	} {
		if v < 0 || v > MaxAmount {
			return fmt.Errorf("rules: %s must be between 0 and %d, got %d", name, MaxAmount, v)
		}
	}
	if r.SpeedThresholdMinutes < 0 {
		return fmt.Errorf("rules: speed_threshold_minutes must not be negative")
	}
	if r.HardMultiplier.LessThan(decimal.NewFromInt(1)) || r.HardMultiplier.GreaterThan(maxMultiplier) {
		return fmt.Errorf("rules: hard_multiplier must be between 1 and %s, got %s", maxMultiplier, r.HardMultiplier)
	}
	return nil
}

// =============================================================================
// COMPUTE
// =============================================================================

// Compute returns the breakdown for ev. streakBonus only applies to lessons.
// The entry delta is the breakdown's Total.
func (r Rules) Compute(ev Event, streakBonus int64) (ledger.Breakdown, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	switch e := ev.(type) {
	case LessonCompleted:
		return r.lesson(e, streakBonus), nil
	case QuizCompleted:
		return r.quiz(e), nil
	case DailyLogin:
		return ledger.Breakdown{{Name: ComponentDailyLogin, Points: r.DailyLogin}}, nil
	case Deduction:
		return ledger.Breakdown{{Name: ComponentDeduction, Points: -e.Amount}}, nil
	case Grant:
		return ledger.Breakdown{{Name: ComponentGrant, Points: e.Amount}}, nil
	default:
		return nil, &ledger.ValidationError{Field: "event", Message: fmt.Sprintf("unsupported kind %T", ev)}
	}
}

func (r Rules) lesson(e LessonCompleted, streakBonus int64) ledger.Breakdown {
	b := ledger.Breakdown{{Name: ComponentBaseCompletion, Points: r.BaseCompletion}}
	b = appendNonZero(b, ComponentCorrectAnswers, int64(e.CorrectAnswers)*r.PerCorrectAnswer)
	if r.fast(e.TimeSpentMinutes) {
		b = appendNonZero(b, ComponentSpeedBonus, r.SpeedBonus)
	}
	b = appendNonZero(b, ComponentStreakBonus, streakBonus)

	if d, _ := ParseDifficulty(string(e.Difficulty)); d == DifficultyHard {
		subtotal := b.Total()
		multiplied := decimal.NewFromInt(subtotal).Mul(r.HardMultiplier).Floor().IntPart()
		b = appendNonZero(b, ComponentDifficultyBonus, multiplied-subtotal)
	}
	return b
}

func (r Rules) quiz(e QuizCompleted) ledger.Breakdown {
	var b ledger.Breakdown
	b = appendNonZero(b, ComponentCorrectAnswers, int64(e.CorrectAnswers)*r.PerCorrectAnswer)
	if r.fast(e.TimeSpentMinutes) {
		b = appendNonZero(b, ComponentSpeedBonus, r.SpeedBonus)
	}
	if e.TotalQuestions > 0 && e.CorrectAnswers == e.TotalQuestions {
		b = appendNonZero(b, ComponentPerfectScore, r.PerfectScoreBonus)
	}
	return b
}

func (r Rules) fast(minutes float64) bool {
	return minutes > 0 && minutes < r.SpeedThresholdMinutes
}

func appendNonZero(b ledger.Breakdown, name string, points int64) ledger.Breakdown {
	if points == 0 {
		return b
	}
	return append(b, ledger.Component{Name: name, Points: points})
}
