/*
Package rewards is the point rule engine: it turns a learning event into
an ordered breakdown of named point components.

PURPOSE:
  Every way of earning or spending points is an Event. The engine is pure:
  given an event, the streak bonus and a Rules value it always returns the
  same breakdown. It never reads balances or writes to the ledger.

EVENT KINDS:
  LessonCompleted: base + correct answers + speed + streak, x difficulty
  QuizCompleted:   correct answers + speed + perfect score
  DailyLogin:      fixed amount, once per calendar day (enforced by points/)
  Deduction:       negative amount, sufficiency checked by points/
  Grant:           positive amount for achievements, refunds, corrections

COMPONENT NAMES:
  base_completion, correct_answers_bonus, speed_bonus, streak_bonus,
  difficulty_bonus, perfect_score_bonus, daily_login, deduction, grant

SEE ALSO:
  - rules.go: Rules and Compute
  - streak/: Where streak_bonus comes from
  - points/: Applies the breakdown to the ledger
*/
package rewards

import (
	"fmt"
	"strconv"

	"github.com/warp/points-ledger/ledger"
)

// Component names as they appear in breakdowns.
const (
	ComponentBaseCompletion  = "base_completion"
	ComponentCorrectAnswers  = "correct_answers_bonus"
	ComponentSpeedBonus      = "speed_bonus"
	ComponentStreakBonus     = "streak_bonus"
	ComponentDifficultyBonus = "difficulty_bonus"
	ComponentPerfectScore    = "perfect_score_bonus"
	ComponentDailyLogin      = "daily_login"
	ComponentDeduction       = "deduction"
	ComponentGrant           = "grant"
)

// Input bounds. They keep every computed award well inside int64.
const (
	// MaxAmount is the largest deduction or grant accepted in one event.
	MaxAmount int64 = 1_000_000_000
	// MaxAnswers caps correct_answers and total_questions.
	MaxAnswers = 10_000
)

func checkAmount(amount int64) error {
	switch {
	case amount <= 0:
		return ledger.ErrInvalidAmount
	case amount > MaxAmount:
		return fmt.Errorf("%w: %d exceeds the maximum of %d", ledger.ErrInvalidAmount, amount, MaxAmount)
	}
	return nil
}

// =============================================================================
// DIFFICULTY
// =============================================================================

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty converts a string into a Difficulty. Empty means medium.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(s); d {
	case "":
		return DifficultyMedium, nil
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", &ledger.ValidationError{Field: "difficulty", Message: strconv.Quote(s) + " is not easy, medium or hard"}
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// Event is a business event that changes a balance.
type Event interface {
	// LedgerReason is the reason recorded on the resulting entry.
	LedgerReason() ledger.Reason
	// Validate checks the event fields before any ledger interaction.
	Validate() error
	// Provenance describes the event for the ledger entry.
	Provenance() Provenance
}

// Provenance is the free-form description stored with an entry.
type Provenance struct {
	ReferenceID string
	Description string
	Metadata    map[string]string
}

// LessonCompleted is a finished lesson.
type LessonCompleted struct {
	LessonID         string
	CorrectAnswers   int
	TimeSpentMinutes float64
	Difficulty       Difficulty
}

func (LessonCompleted) LedgerReason() ledger.Reason { return ledger.ReasonLessonComplete }

func (e LessonCompleted) Validate() error {
	if e.CorrectAnswers < 0 {
		return &ledger.ValidationError{Field: "correct_answers", Message: "must not be negative"}
	}
	if e.CorrectAnswers > MaxAnswers {
		return &ledger.ValidationError{Field: "correct_answers", Message: "must not exceed " + strconv.Itoa(MaxAnswers)}
	}
	if e.TimeSpentMinutes < 0 {
		return &ledger.ValidationError{Field: "time_spent_minutes", Message: "must not be negative"}
	}
	_, err := ParseDifficulty(string(e.Difficulty))
	return err
}

func (e LessonCompleted) Provenance() Provenance {
	d, _ := ParseDifficulty(string(e.Difficulty))
	return Provenance{
		ReferenceID: e.LessonID,
		Description: "lesson completed",
		Metadata: map[string]string{
			"correct_answers":    strconv.Itoa(e.CorrectAnswers),
			"time_spent_minutes": strconv.FormatFloat(e.TimeSpentMinutes, 'f', -1, 64),
			"difficulty":         string(d),
		},
	}
}

// QuizCompleted is a finished quiz.
type QuizCompleted struct {
	QuizID           string
	CorrectAnswers   int
	TotalQuestions   int
	TimeSpentMinutes float64
}

func (QuizCompleted) LedgerReason() ledger.Reason { return ledger.ReasonQuizScore }

func (e QuizCompleted) Validate() error {
	switch {
	case e.TotalQuestions <= 0:
		return &ledger.ValidationError{Field: "total_questions", Message: "must be positive"}
	case e.TotalQuestions > MaxAnswers:
		return &ledger.ValidationError{Field: "total_questions", Message: "must not exceed " + strconv.Itoa(MaxAnswers)}
	case e.CorrectAnswers < 0:
		return &ledger.ValidationError{Field: "correct_answers", Message: "must not be negative"}
	case e.CorrectAnswers > e.TotalQuestions:
		return &ledger.ValidationError{Field: "correct_answers", Message: "must not exceed total_questions"}
	case e.TimeSpentMinutes < 0:
		return &ledger.ValidationError{Field: "time_spent_minutes", Message: "must not be negative"}
	}
	return nil
}

func (e QuizCompleted) Provenance() Provenance {
	return Provenance{
		ReferenceID: e.QuizID,
		Description: "quiz completed",
		Metadata: map[string]string{
			"correct_answers":    strconv.Itoa(e.CorrectAnswers),
			"total_questions":    strconv.Itoa(e.TotalQuestions),
			"time_spent_minutes": strconv.FormatFloat(e.TimeSpentMinutes, 'f', -1, 64),
		},
	}
}

// DailyLogin is the first login of a calendar day.
type DailyLogin struct{}

func (DailyLogin) LedgerReason() ledger.Reason { return ledger.ReasonDailyLogin }
func (DailyLogin) Validate() error             { return nil }
func (DailyLogin) Provenance() Provenance      { return Provenance{Description: "daily login"} }

// Deduction spends points. Reason defaults to manual_adjustment.
type Deduction struct {
	Amount      int64
	Reason      ledger.Reason
	Description string
	ReferenceID string
}

var deductionReasons = map[ledger.Reason]bool{
	ledger.ReasonRedemption:       true,
	ledger.ReasonManualAdjustment: true,
	ledger.ReasonPenalty:          true,
	ledger.ReasonExpired:          true,
}

func (e Deduction) LedgerReason() ledger.Reason {
	if e.Reason == "" {
		return ledger.ReasonManualAdjustment
	}
	return e.Reason
}

func (e Deduction) Validate() error {
	if err := checkAmount(e.Amount); err != nil {
		return err
	}
	if !deductionReasons[e.LedgerReason()] {
		return &ledger.ValidationError{Field: "reason", Message: strconv.Quote(string(e.Reason)) + " is not a deduction reason"}
	}
	return nil
}

func (e Deduction) Provenance() Provenance {
	return Provenance{ReferenceID: e.ReferenceID, Description: e.Description}
}

// Grant credits points outside the learning rules.
type Grant struct {
	Amount      int64
	Reason      ledger.Reason
	Description string
	ReferenceID string
}

var grantReasons = map[ledger.Reason]bool{
	ledger.ReasonAchievement:      true,
	ledger.ReasonRefund:           true,
	ledger.ReasonManualAdjustment: true,
}

func (e Grant) LedgerReason() ledger.Reason {
	if e.Reason == "" {
		return ledger.ReasonManualAdjustment
	}
	return e.Reason
}

func (e Grant) Validate() error {
	if err := checkAmount(e.Amount); err != nil {
		return err
	}
	if !grantReasons[e.LedgerReason()] {
		return &ledger.ValidationError{Field: "reason", Message: strconv.Quote(string(e.Reason)) + " is not a grant reason"}
	}
	return nil
}

func (e Grant) Provenance() Provenance {
	return Provenance{ReferenceID: e.ReferenceID, Description: e.Description}
}
