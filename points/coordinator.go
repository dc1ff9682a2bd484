/*
Package points coordinates point awards and deductions against the ledger.

PURPOSE:
  The Coordinator turns "this account did X, here is the idempotency key"
  into exactly one ledger entry. It owns the per-account serialization
  boundary, the replay contract and the atomic unit that ties a lesson's
  streak update to its points.

APPLY STATE MACHINE:
  Start -> KeyLookup -> Replay                       (terminal)
                     -> Compute -> Append -> Done    (terminal)

  1. Lock the account (waits honor ctx)
  2. FindByKey: a known key replays the stored result, no recomputation
  3. WithTx: balance, daily-login check, streak, rules, sufficiency,
     AppendIfAbsent, SaveStreak
  4. Unlock, return Result

  There is no retry inside a call. A caller that times out retries with
  the SAME key and gets the original result back.

CONCURRENCY:
  Calls for one account are serialized by accountLocks; calls for
  different accounts run in parallel. The store's balance check on append
  backs this up across processes.

USAGE:
  c := points.New(store, points.WithLogger(logger))
  res, err := c.Apply(ctx, "user-1", rewards.LessonCompleted{...}, "lesson-42-user-1")

SEE ALSO:
  - rewards/: Point formulas
  - streak/: Streak automaton
  - ledger/store.go: Storage contract
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/metrics"
	"github.com/warp/points-ledger/rewards"
	"github.com/warp/points-ledger/streak"
)

// Coordinator applies events to the ledger. Safe for concurrent use.
type Coordinator struct {
	store        ledger.TxStore
	rules        rewards.Rules
	milestones   streak.Milestones
	now          func() time.Time
	loc          *time.Location
	logger       *zap.Logger
	historyLimit int
	locks        *accountLocks
}

// New creates a Coordinator over store.
func New(store ledger.TxStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		rules:      rewards.DefaultRules(),
		milestones: streak.DefaultMilestones(),
		now:        func() time.Time { return time.Now().UTC() },
		loc:        time.UTC,
		logger:     zap.NewNop(),
		locks:      newAccountLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithClock returns a copy of c that reads time from now. The copy shares
// the store and the account locks, so its writes serialize with c's.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	cp := *c
	cp.now = now
	return &cp
}

// Result is the outcome of Apply.
type Result struct {
	EntryID    ledger.EntryID
	AccountID  ledger.AccountID
	Reason     ledger.Reason
	Delta      int64
	Breakdown  ledger.Breakdown
	NewBalance int64
	Streak     *ledger.StreakInfo
	Replayed   bool
	CreatedAt  time.Time
}

func resultFrom(e ledger.Entry, replayed bool) Result {
	return Result{
		EntryID:    e.ID,
		AccountID:  e.AccountID,
		Reason:     e.Reason,
		Delta:      e.Delta,
		Breakdown:  e.Breakdown,
		NewBalance: e.BalanceAfter,
		Streak:     e.Streak,
		Replayed:   replayed,
		CreatedAt:  e.CreatedAt,
	}
}

// =============================================================================
// APPLY
// =============================================================================

// Apply records ev for account under key. A key seen before returns the
// original result with Replayed set.
func (c *Coordinator) Apply(ctx context.Context, account ledger.AccountID, ev rewards.Event, key string) (Result, error) {
	started := time.Now()
	reason := "unknown"
	if ev != nil {
		reason = string(ev.LedgerReason())
	}

	res, err := c.apply(ctx, account, ev, key)

	log := c.logger.With(
		zap.String("account_id", string(account)),
		zap.String("idempotency_key", key),
		zap.String("reason", reason),
	)
	switch {
	case err == nil && res.Replayed:
		metrics.ObserveApply(reason, metrics.OutcomeReplayed, res.Delta, started)
		log.Info("replayed ledger entry", zap.String("entry_id", string(res.EntryID)))
	case err == nil:
		metrics.ObserveApply(reason, metrics.OutcomeCreated, res.Delta, started)
		if res.Streak != nil && res.Streak.Milestone > 0 {
			metrics.StreakMilestones.WithLabelValues(fmt.Sprint(res.Streak.Milestone)).Inc()
		}
		log.Info("applied ledger entry",
			zap.String("entry_id", string(res.EntryID)),
			zap.Int64("delta", res.Delta),
			zap.Int64("balance_after", res.NewBalance),
		)
	case ledger.IsClientError(err):
		metrics.ObserveApply(reason, metrics.OutcomeRejected, 0, started)
		log.Info("rejected ledger event", zap.Error(err))
	case ledger.IsCanceled(err):
		metrics.ObserveApply(reason, metrics.OutcomeFailed, 0, started)
		log.Warn("ledger apply abandoned", zap.Error(err))
	default:
		metrics.ObserveApply(reason, metrics.OutcomeFailed, 0, started)
		log.Error("ledger apply failed", zap.Error(err), zap.Bool("retryable", ledger.IsRetryable(err)))
	}
	return res, err
}

func (c *Coordinator) apply(ctx context.Context, account ledger.AccountID, ev rewards.Event, key string) (Result, error) {
	if account == "" {
		return Result{}, ledger.ErrAccountRequired
	}
	if key == "" {
		return Result{}, ledger.ErrKeyRequired
	}
	if ev == nil {
		return Result{}, &ledger.ValidationError{Field: "event", Message: "is required"}
	}
	if err := ev.Validate(); err != nil {
		return Result{}, err
	}

	waitStart := time.Now()
	unlock, err := c.locks.Lock(ctx, account)
	if err != nil {
		return Result{}, err
	}
	defer unlock()
	metrics.LockWait.Observe(time.Since(waitStart).Seconds())

	// Replay: the stored result, never a recomputation
	existing, found, err := c.store.FindByKey(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if found {
		return c.replay(existing, account, ev)
	}

	var result Result
	err = c.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		result, err = c.compute(ctx, tx, account, ev, key)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// compute runs inside the store transaction.
func (c *Coordinator) compute(ctx context.Context, tx ledger.Store, account ledger.AccountID, ev rewards.Event, key string) (Result, error) {
	now := c.now()
	today := ledger.DayOf(now, c.loc)
	reason := ev.LedgerReason()

	balance, err := tx.CurrentBalance(ctx, account)
	if err != nil {
		return Result{}, err
	}

	if reason == ledger.ReasonDailyLogin {
		done, err := tx.HasEntryOn(ctx, account, ledger.ReasonDailyLogin, today)
		if err != nil {
			return Result{}, err
		}
		if done {
			return Result{}, ledger.ErrAlreadyAppliedToday
		}
	}

	var (
		outcome     streak.Outcome
		streakInfo  *ledger.StreakInfo
		streakBonus int64
	)
	if _, isLesson := ev.(rewards.LessonCompleted); isLesson {
		state, found, err := tx.Streak(ctx, account)
		if err != nil {
			return Result{}, err
		}
		if !found {
			state = ledger.StreakState{AccountID: account}
		}
		outcome = streak.Advance(state, today, c.milestones, now)
		streakBonus = outcome.Bonus
		streakInfo = outcome.Info()
	}

	breakdown, err := c.rules.Compute(ev, streakBonus)
	if err != nil {
		return Result{}, err
	}
	delta := breakdown.Total()
	after, err := ledger.AddPoints(balance, delta)
	if err != nil {
		return Result{}, err
	}
	if delta < 0 && after < 0 {
		return Result{}, &ledger.InsufficientBalanceError{
			AccountID: account,
			Available: balance,
			Requested: -delta,
		}
	}

	prov := ev.Provenance()
	entry, created, err := tx.AppendIfAbsent(ctx, ledger.Entry{
		AccountID:      account,
		Delta:          delta,
		Reason:         reason,
		IdempotencyKey: key,
		BalanceAfter:   after,
		ReferenceID:    prov.ReferenceID,
		Description:    prov.Description,
		Metadata:       prov.Metadata,
		Breakdown:      breakdown,
		Streak:         streakInfo,
		ActivityDay:    today,
	})
	if err != nil {
		return Result{}, err
	}
	if !created {
		// Another process stored the key between lookup and append
		return c.replay(entry, account, ev)
	}

	if outcome.Changed {
		if err := tx.SaveStreak(ctx, outcome.State); err != nil {
			return Result{}, err
		}
	}
	return resultFrom(entry, false), nil
}

func (c *Coordinator) replay(existing ledger.Entry, account ledger.AccountID, ev rewards.Event) (Result, error) {
	if existing.AccountID != account || existing.Reason != ev.LedgerReason() {
		return Result{}, fmt.Errorf("%w: key %q was recorded as %s for account %s",
			ledger.ErrIdempotencyConflict, existing.IdempotencyKey, existing.Reason, existing.AccountID)
	}
	return resultFrom(existing, true), nil
}

// =============================================================================
// READS
// =============================================================================

// CurrentBalance returns the account's balance, 0 for unknown accounts.
func (c *Coordinator) CurrentBalance(ctx context.Context, account ledger.AccountID) (int64, error) {
	if account == "" {
		return 0, ledger.ErrAccountRequired
	}
	return c.store.CurrentBalance(ctx, account)
}

// History returns entries most recent first.
func (c *Coordinator) History(ctx context.Context, account ledger.AccountID, filter ledger.HistoryFilter) ([]ledger.Entry, error) {
	if account == "" {
		return nil, ledger.ErrAccountRequired
	}
	for _, r := range filter.Reasons {
		if !r.Valid() {
			return nil, &ledger.UnknownReasonError{Value: string(r)}
		}
	}
	if filter.Limit <= 0 && c.historyLimit > 0 {
		filter.Limit = c.historyLimit
	}
	return c.store.History(ctx, account, filter.Normalize())
}

// Streak returns the account's streak as of today. A streak whose last
// activity is older than yesterday reads as 0 current days; the stored
// record is left alone until the next lesson.
func (c *Coordinator) Streak(ctx context.Context, account ledger.AccountID) (ledger.StreakState, error) {
	if account == "" {
		return ledger.StreakState{}, ledger.ErrAccountRequired
	}
	state, found, err := c.store.Streak(ctx, account)
	if err != nil {
		return ledger.StreakState{}, err
	}
	if !found {
		return ledger.StreakState{AccountID: account}, nil
	}
	today := ledger.DayOf(c.now(), c.loc)
	if state.LastActivityDate.DaysUntil(today) > 1 {
		state.CurrentStreak = 0
	}
	return state, nil
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Verify checks the balance chain of one account. It holds the account
// lock and reads entries and balance from one transaction, so writes
// landing mid-check cannot produce a false violation.
func (c *Coordinator) Verify(ctx context.Context, account ledger.AccountID) error {
	if account == "" {
		return ledger.ErrAccountRequired
	}
	unlock, err := c.locks.Lock(ctx, account)
	if err != nil {
		return err
	}
	defer unlock()

	return c.store.WithTx(ctx, func(tx ledger.Store) error {
		entries, err := ledger.Entries(ctx, tx, account)
		if err != nil {
			return err
		}
		if err := ledger.VerifyChain(entries); err != nil {
			return err
		}

		balance, err := tx.CurrentBalance(ctx, account)
		if err != nil {
			return err
		}
		if sum := ledger.Sum(entries); balance != sum {
			return &ledger.IntegrityError{AccountID: account, Expected: sum, Actual: balance}
		}
		return nil
	})
}

// AuditReport summarizes a VerifyAll pass.
type AuditReport struct {
	Accounts   int
	Violations map[ledger.AccountID]error
}

// OK reports whether every account verified.
func (r AuditReport) OK() bool { return len(r.Violations) == 0 }

// VerifyAll checks every account. Integrity failures are collected in the
// report; any other error aborts the pass.
func (c *Coordinator) VerifyAll(ctx context.Context) (AuditReport, error) {
	accounts, err := c.store.Accounts(ctx)
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{Accounts: len(accounts), Violations: make(map[ledger.AccountID]error)}
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := c.Verify(ctx, account)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrIntegrityViolation):
			report.Violations[account] = err
			c.logger.Error("balance chain broken", zap.String("account_id", string(account)), zap.Error(err))
		default:
			return report, err
		}
	}
	return report, nil
}
