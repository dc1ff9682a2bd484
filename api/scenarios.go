/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Pre-built event sequences that populate the ledger with realistic data
  for demos. Each scenario applies lessons, quizzes, logins and
  adjustments across several days through a regular Coordinator.

AVAILABLE SCENARIOS:
  streak-week:      Seven days of lessons, hitting the 3 and 7 day milestones
  broken-streak:    Three days of lessons, a gap, then a restart
  quiz-and-redeem:  Quizzes, an achievement grant and a redemption

HOW SCENARIOS WORK:
  1. Steps carry a day offset; the last step lands on today
  2. A scripted-clock copy of the live Coordinator applies each step
  3. Keys are prefixed "scenario:<id>:" so loading twice replays
     instead of duplicating

  Nothing is reset. Scenario accounts are prefixed "demo-".

USAGE VIA API (when server.enable_scenarios is set):
  GET  /api/scenarios
  POST /api/scenarios/load   {"scenario_id": "streak-week"}

USAGE VIA CLI:
  ./server seed streak-week

NOTE:
  The scripted copy shares the live Coordinator's account locks, so
  scenario writes queue behind live traffic for the same account. Use
  only in development or demo environments.

SEE ALSO:
  - handlers.go: Core endpoints
  - cmd/server/inspect.go: seed command
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario is a named sequence of events.
type Scenario struct {
	ID          string
	Name        string
	Description string
	Steps       []Step
}

// Step is one event applied Day days after the scenario starts.
type Step struct {
	Day     int
	Account ledger.AccountID
	Key     string
	Event   rewards.Event
}

func (s Scenario) span() int {
	last := 0
	for _, st := range s.Steps {
		if st.Day > last {
			last = st.Day
		}
	}
	return last
}

func (s Scenario) accounts() []string {
	seen := make(map[ledger.AccountID]bool)
	var out []string
	for _, st := range s.Steps {
		if !seen[st.Account] {
			seen[st.Account] = true
			out = append(out, string(st.Account))
		}
	}
	return out
}

func lesson(day int, account ledger.AccountID, correct int, minutes float64, d rewards.Difficulty) Step {
	return Step{
		Day:     day,
		Account: account,
		Key:     fmt.Sprintf("lesson-%d", day),
		Event: rewards.LessonCompleted{
			LessonID:         fmt.Sprintf("lesson-%d", day+1),
			CorrectAnswers:   correct,
			TimeSpentMinutes: minutes,
			Difficulty:       d,
		},
	}
}

func login(day int, account ledger.AccountID) Step {
	return Step{Day: day, Account: account, Key: fmt.Sprintf("login-%d", day), Event: rewards.DailyLogin{}}
}

var scenarios = []Scenario{
	{
		ID:          "streak-week",
		Name:        "Streak Week",
		Description: "Seven consecutive days of lessons and logins; milestones at 3 and 7 days",
		Steps: []Step{
			login(0, "demo-streak"), lesson(0, "demo-streak", 4, 6, rewards.DifficultyEasy),
			login(1, "demo-streak"), lesson(1, "demo-streak", 5, 4, rewards.DifficultyMedium),
			login(2, "demo-streak"), lesson(2, "demo-streak", 6, 1.5, rewards.DifficultyMedium),
			login(3, "demo-streak"), lesson(3, "demo-streak", 3, 8, rewards.DifficultyHard),
			login(4, "demo-streak"), lesson(4, "demo-streak", 7, 5, rewards.DifficultyMedium),
			login(5, "demo-streak"), lesson(5, "demo-streak", 8, 1, rewards.DifficultyHard),
			login(6, "demo-streak"), lesson(6, "demo-streak", 10, 3, rewards.DifficultyHard),
		},
	},
	{
		ID:          "broken-streak",
		Name:        "Broken Streak",
		Description: "Three days of lessons, two days off, then the streak restarts at 1",
		Steps: []Step{
			lesson(0, "demo-returning", 5, 3, rewards.DifficultyMedium),
			lesson(1, "demo-returning", 5, 3, rewards.DifficultyMedium),
			lesson(2, "demo-returning", 5, 3, rewards.DifficultyMedium),
			lesson(5, "demo-returning", 6, 1, rewards.DifficultyHard),
		},
	},
	{
		ID:          "quiz-and-redeem",
		Name:        "Quiz and Redeem",
		Description: "Two quizzes (one perfect), an achievement grant, then a redemption",
		Steps: []Step{
			{Day: 0, Account: "demo-shopper", Key: "quiz-1", Event: rewards.QuizCompleted{
				QuizID: "quiz-1", CorrectAnswers: 7, TotalQuestions: 10, TimeSpentMinutes: 6,
			}},
			{Day: 1, Account: "demo-shopper", Key: "quiz-2", Event: rewards.QuizCompleted{
				QuizID: "quiz-2", CorrectAnswers: 10, TotalQuestions: 10, TimeSpentMinutes: 1.5,
			}},
			{Day: 1, Account: "demo-shopper", Key: "badge-1", Event: rewards.Grant{
				Amount: 50, Reason: ledger.ReasonAchievement, Description: "first perfect quiz",
			}},
			{Day: 2, Account: "demo-shopper", Key: "shop-1", Event: rewards.Deduction{
				Amount: 80, Reason: ledger.ReasonRedemption, Description: "sticker pack", ReferenceID: "sku-stickers",
			}},
		},
	},
}

// LookupScenario returns the scenario with the given id.
func LookupScenario(id string) (Scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// =============================================================================
// LOADER
// =============================================================================

// ScenarioLoader applies scenarios through a coordinator.
type ScenarioLoader struct {
	Coordinator *points.Coordinator
	Now         func() time.Time // defaults to time.Now
}

// Load applies every step of the scenario. The scenario is anchored so
// that its last day is today.
func (l *ScenarioLoader) Load(ctx context.Context, id string) ([]points.Result, error) {
	sc, ok := LookupScenario(id)
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", id)
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	start := now().AddDate(0, 0, -sc.span())

	var current time.Time
	c := l.Coordinator.WithClock(func() time.Time { return current })

	results := make([]points.Result, 0, len(sc.Steps))
	for _, st := range sc.Steps {
		current = start.AddDate(0, 0, st.Day)
		key := fmt.Sprintf("scenario:%s:%s:%s", sc.ID, st.Account, st.Key)
		res, err := c.Apply(ctx, st.Account, st.Event, key)
		if err != nil {
			return results, fmt.Errorf("scenario %s step %s: %w", sc.ID, st.Key, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// ScenarioDTO describes an available scenario.
type ScenarioDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Accounts    []string `json:"accounts"`
	Steps       int      `json:"steps"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	ScenarioID string      `json:"scenario_id"`
	Results    []ResultDTO `json:"results"`
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, ScenarioDTO{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Accounts:    s.accounts(),
			Steps:       len(s.Steps),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, ok := LookupScenario(req.ScenarioID); !ok {
		writeError(w, http.StatusNotFound, "unknown_scenario", "unknown scenario "+req.ScenarioID, nil)
		return
	}

	results, err := h.Scenarios.Load(r.Context(), req.ScenarioID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := LoadScenarioResponse{ScenarioID: req.ScenarioID, Results: make([]ResultDTO, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, toResultDTO(res))
	}
	writeJSON(w, http.StatusOK, resp)
}
