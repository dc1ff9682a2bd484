/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes the Coordinator via REST. Handles request/response, JSON
  serialization and status mapping; all point logic stays in points/.

ENDPOINTS:
  Writes (header Idempotency-Key required):
    POST   /api/accounts/{id}/lessons      Lesson completed
    POST   /api/accounts/{id}/quizzes      Quiz completed
    POST   /api/accounts/{id}/logins       Daily login
    POST   /api/accounts/{id}/deductions   Spend points
    POST   /api/accounts/{id}/grants       Manual credit

  Reads:
    GET    /api/accounts/{id}/balance
    GET    /api/accounts/{id}/history      ?reason=&limit=&offset=
    GET    /api/accounts/{id}/streak

  Admin:
    POST   /api/admin/audit                Verify every balance chain now

  Scenarios (only with a ScenarioLoader):
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Load a demo scenario

ERROR HANDLING:
  201: Entry created
  200: Replay of a known idempotency key (same body as the original)
  400: Invalid event, amount, reason or missing key
  409: Insufficient balance, already applied today, key reused
  503: Storage unavailable or concurrent modification (retry, same key)
  500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/rewards"
)

// IdempotencyKeyHeader carries the caller's idempotency key on writes.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes bounds request bodies; events are a handful of fields.
const maxBodyBytes = 64 << 10

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the dependencies of every endpoint.
type Handler struct {
	Coordinator *points.Coordinator
	Health      Pinger          // optional
	Scenarios   *ScenarioLoader // optional; enables /api/scenarios
	Logger      *zap.Logger
}

// NewHandler creates a handler. health may be nil.
func NewHandler(c *points.Coordinator, health Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Coordinator: c, Health: health, Logger: logger}
}

// =============================================================================
// WRITE ENDPOINTS
// =============================================================================

func (h *Handler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	var req LessonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.apply(w, r, req.Event())
}

func (h *Handler) CompleteQuiz(w http.ResponseWriter, r *http.Request) {
	var req QuizRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.apply(w, r, req.Event())
}

// RecordLogin takes no body.
func (h *Handler) RecordLogin(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, rewards.DailyLogin{})
}

func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.apply(w, r, req.Deduction())
}

func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.apply(w, r, req.Grant())
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, ev rewards.Event) {
	account := accountParam(r)
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	res, err := h.Coordinator.Apply(r.Context(), account, ev, key)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toResultDTO(res))
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := accountParam(r)
	balance, err := h.Coordinator.CurrentBalance(r.Context(), account)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{AccountID: string(account), Balance: balance})
}

// GetHistory lists entries most recent first. reason may repeat or hold a
// comma-separated list.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	account := accountParam(r)
	q := r.URL.Query()

	var filter ledger.HistoryFilter
	for _, raw := range q["reason"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			reason, err := ledger.ParseReason(s)
			if err != nil {
				writeLedgerError(w, err)
				return
			}
			filter.Reasons = append(filter.Reasons, reason)
		}
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer", nil)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "offset must be a non-negative integer", nil)
		return
	}

	entries, err := h.Coordinator.History(r.Context(), account, filter)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, HistoryDTO{
		AccountID: string(account),
		Entries:   dtos,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

func (h *Handler) GetStreak(w http.ResponseWriter, r *http.Request) {
	account := accountParam(r)
	state, err := h.Coordinator.Streak(r.Context(), account)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	state.AccountID = account
	writeJSON(w, http.StatusOK, toStreakDTO(state))
}

// =============================================================================
// ADMIN / OPS
// =============================================================================

// TriggerAudit runs an integrity pass over every account. A broken chain
// answers 500 with the report as body.
func (h *Handler) TriggerAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Coordinator.VerifyAll(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusInternalServerError
		h.Logger.Error("manual audit found broken balance chains", zap.Int("violations", len(report.Violations)))
	}
	writeJSON(w, status, toAuditDTO(report))
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage is not reachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func accountParam(r *http.Request) ledger.AccountID {
	return ledger.AccountID(strings.TrimSpace(chi.URLParam(r, "id")))
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative")
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps ledger errors onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	status, code := classify(err)

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		resp.Available = &insufficient.Available
		resp.Requested = &insufficient.Requested
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, ledger.ErrAlreadyAppliedToday):
		return http.StatusConflict, "already_applied_today"
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidEvent):
		return http.StatusBadRequest, "invalid_event"
	case errors.Is(err, ledger.ErrKeyRequired):
		return http.StatusBadRequest, "idempotency_key_required"
	case errors.Is(err, ledger.ErrAccountRequired):
		return http.StatusBadRequest, "account_required"
	case ledger.IsRetryable(err), ledger.IsCanceled(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
