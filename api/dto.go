/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP contract. They keep the wire names stable while
  the ledger types evolve.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

VALIDATION:
  Done by the event types in rewards/, not here. A DTO only converts.

SEE ALSO:
  - handlers.go: Uses these types
  - rewards/types.go: Events built from requests
*/
package api

import (
	"time"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/rewards"
)

// =============================================================================
// REQUESTS
// =============================================================================

// LessonRequest reports a completed lesson.
type LessonRequest struct {
	CorrectAnswers   int     `json:"correct_answers"`
	TimeSpentMinutes float64 `json:"time_spent_minutes"`
	Difficulty       string  `json:"difficulty"`
	ReferenceID      string  `json:"reference_id"`
}

func (r LessonRequest) Event() rewards.Event {
	return rewards.LessonCompleted{
		LessonID:         r.ReferenceID,
		CorrectAnswers:   r.CorrectAnswers,
		TimeSpentMinutes: r.TimeSpentMinutes,
		Difficulty:       rewards.Difficulty(r.Difficulty),
	}
}

// QuizRequest reports a completed quiz.
type QuizRequest struct {
	CorrectAnswers   int     `json:"correct_answers"`
	TotalQuestions   int     `json:"total_questions"`
	TimeSpentMinutes float64 `json:"time_spent_minutes"`
	ReferenceID      string  `json:"reference_id"`
}

func (r QuizRequest) Event() rewards.Event {
	return rewards.QuizCompleted{
		QuizID:           r.ReferenceID,
		CorrectAnswers:   r.CorrectAnswers,
		TotalQuestions:   r.TotalQuestions,
		TimeSpentMinutes: r.TimeSpentMinutes,
	}
}

// AdjustmentRequest is the body of both deductions and grants.
type AdjustmentRequest struct {
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

func (r AdjustmentRequest) Deduction() rewards.Event {
	return rewards.Deduction{
		Amount:      r.Amount,
		Reason:      ledger.Reason(r.Reason),
		Description: r.Description,
		ReferenceID: r.ReferenceID,
	}
}

func (r AdjustmentRequest) Grant() rewards.Event {
	return rewards.Grant{
		Amount:      r.Amount,
		Reason:      ledger.Reason(r.Reason),
		Description: r.Description,
		ReferenceID: r.ReferenceID,
	}
}

// =============================================================================
// RESPONSES
// =============================================================================

// ResultDTO is the response of every write endpoint.
type ResultDTO struct {
	EntryID    string             `json:"entry_id"`
	AccountID  string             `json:"account_id"`
	Reason     string             `json:"reason"`
	Delta      int64              `json:"delta"`
	Breakdown  []ledger.Component `json:"breakdown"`
	NewBalance int64              `json:"new_balance"`
	Streak     *ledger.StreakInfo `json:"streak,omitempty"`
	Replayed   bool               `json:"replayed"`
	CreatedAt  string             `json:"created_at"`
}

func toResultDTO(r points.Result) ResultDTO {
	return ResultDTO{
		EntryID:    string(r.EntryID),
		AccountID:  string(r.AccountID),
		Reason:     string(r.Reason),
		Delta:      r.Delta,
		Breakdown:  nonNilBreakdown(r.Breakdown),
		NewBalance: r.NewBalance,
		Streak:     r.Streak,
		Replayed:   r.Replayed,
		CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// EntryDTO is one history row.
type EntryDTO struct {
	ID           string             `json:"id"`
	Seq          int64              `json:"seq"`
	Delta        int64              `json:"delta"`
	Reason       string             `json:"reason"`
	BalanceAfter int64              `json:"balance_after"`
	ReferenceID  string             `json:"reference_id,omitempty"`
	Description  string             `json:"description,omitempty"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	Breakdown    []ledger.Component `json:"breakdown"`
	Streak       *ledger.StreakInfo `json:"streak,omitempty"`
	ActivityDay  string             `json:"activity_day"`
	CreatedAt    string             `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		Seq:          e.Seq,
		Delta:        e.Delta,
		Reason:       string(e.Reason),
		BalanceAfter: e.BalanceAfter,
		ReferenceID:  e.ReferenceID,
		Description:  e.Description,
		Metadata:     e.Metadata,
		Breakdown:    nonNilBreakdown(e.Breakdown),
		Streak:       e.Streak,
		ActivityDay:  e.ActivityDay.String(),
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type HistoryDTO struct {
	AccountID string     `json:"account_id"`
	Entries   []EntryDTO `json:"entries"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset"`
}

type StreakDTO struct {
	AccountID        string `json:"account_id"`
	CurrentStreak    int    `json:"current_streak"`
	LongestStreak    int    `json:"longest_streak"`
	LastActivityDate string `json:"last_activity_date,omitempty"`
}

func toStreakDTO(s ledger.StreakState) StreakDTO {
	return StreakDTO{
		AccountID:        string(s.AccountID),
		CurrentStreak:    s.CurrentStreak,
		LongestStreak:    s.LongestStreak,
		LastActivityDate: s.LastActivityDate.String(),
	}
}

// AuditDTO is the result of a manual integrity audit.
type AuditDTO struct {
	Accounts   int               `json:"accounts"`
	OK         bool              `json:"ok"`
	Violations map[string]string `json:"violations,omitempty"`
}

func toAuditDTO(r points.AuditReport) AuditDTO {
	dto := AuditDTO{Accounts: r.Accounts, OK: r.OK()}
	if len(r.Violations) > 0 {
		dto.Violations = make(map[string]string, len(r.Violations))
		for account, err := range r.Violations {
			dto.Violations[string(account)] = err.Error()
		}
	}
	return dto
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`

	// Set for insufficient_balance only.
	Available *int64 `json:"available,omitempty"`
	Requested *int64 `json:"requested,omitempty"`
}

func nonNilBreakdown(b ledger.Breakdown) []ledger.Component {
	if b == nil {
		return []ledger.Component{}
	}
	return b
}
