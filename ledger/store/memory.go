// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	seq     int64
	entries map[ledger.AccountID][]ledger.Entry // chronological
	byKey   map[string]entryRef
	daily   map[dailyKey]ledger.EntryID
	streaks map[ledger.AccountID]ledger.StreakState
	now     func() time.Time
}

type entryRef struct {
	account ledger.AccountID
	index   int
}

type dailyKey struct {
	account ledger.AccountID
	reason  ledger.Reason
	day     ledger.Day
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[ledger.AccountID][]ledger.Entry),
		byKey:   make(map[string]entryRef),
		daily:   make(map[dailyKey]ledger.EntryID),
		streaks: make(map[ledger.AccountID]ledger.StreakState),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ ledger.TxStore = (*Memory)(nil)

// AppendIfAbsent adds an entry unless its idempotency key is known.
func (m *Memory) AppendIfAbsent(ctx context.Context, draft ledger.Entry) (ledger.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Entry{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(draft, nil)
}

func (m *Memory) appendLocked(draft ledger.Entry, j *journal) (ledger.Entry, bool, error) {
	if draft.AccountID == "" {
		return ledger.Entry{}, false, ledger.ErrAccountRequired
	}
	if draft.IdempotencyKey == "" {
		return ledger.Entry{}, false, ledger.ErrKeyRequired
	}

	// Known key: hand back the original, untouched
	if ref, ok := m.byKey[draft.IdempotencyKey]; ok {
		return cloneEntry(m.entries[ref.account][ref.index]), false, nil
	}

	txs := m.entries[draft.AccountID]
	var prev int64
	if len(txs) > 0 {
		prev = txs[len(txs)-1].BalanceAfter
	}
	want, err := ledger.AddPoints(prev, draft.Delta)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if draft.BalanceAfter != want {
		return ledger.Entry{}, false, ledger.ErrConcurrentModification
	}

	dk := dailyKey{account: draft.AccountID, reason: draft.Reason, day: draft.ActivityDay}
	if draft.Reason == ledger.ReasonDailyLogin {
		if _, taken := m.daily[dk]; taken {
			return ledger.Entry{}, false, ledger.ErrAlreadyAppliedToday
		}
	}

	entry := cloneEntry(draft)
	if entry.ID == "" {
		entry.ID = ledger.NewEntryID()
	}
	m.seq++
	entry.Seq = m.seq
	entry.CreatedAt = m.now()

	m.entries[draft.AccountID] = append(txs, entry)
	m.byKey[entry.IdempotencyKey] = entryRef{account: entry.AccountID, index: len(txs)}
	if entry.Reason == ledger.ReasonDailyLogin {
		m.daily[dk] = entry.ID
	}
	if j != nil {
		j.appended = append(j.appended, appendRecord{entry: entry, daily: dk})
	}
	return cloneEntry(entry), true, nil
}

func (m *Memory) FindByKey(_ context.Context, key string) (ledger.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(key)
}

func (m *Memory) findLocked(key string) (ledger.Entry, bool, error) {
	ref, ok := m.byKey[key]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	return cloneEntry(m.entries[ref.account][ref.index]), true, nil
}

func (m *Memory) CurrentBalance(_ context.Context, account ledger.AccountID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(account), nil
}

func (m *Memory) balanceLocked(account ledger.AccountID) int64 {
	txs := m.entries[account]
	if len(txs) == 0 {
		return 0
	}
	return txs[len(txs)-1].BalanceAfter
}

func (m *Memory) History(_ context.Context, account ledger.AccountID, filter ledger.HistoryFilter) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.historyLocked(account, filter), nil
}

func (m *Memory) historyLocked(account ledger.AccountID, filter ledger.HistoryFilter) []ledger.Entry {
	filter = filter.Normalize()
	txs := m.entries[account]
	result := make([]ledger.Entry, 0, filter.Limit)
	skipped := 0
	for i := len(txs) - 1; i >= 0 && len(result) < filter.Limit; i-- {
		if !filter.Matches(txs[i]) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		result = append(result, cloneEntry(txs[i]))
	}
	return result
}

func (m *Memory) HasEntryOn(_ context.Context, account ledger.AccountID, reason ledger.Reason, day ledger.Day) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasEntryOnLocked(account, reason, day), nil
}

func (m *Memory) hasEntryOnLocked(account ledger.AccountID, reason ledger.Reason, day ledger.Day) bool {
	if reason == ledger.ReasonDailyLogin {
		_, ok := m.daily[dailyKey{account: account, reason: reason, day: day}]
		return ok
	}
	for _, e := range m.entries[account] {
		if e.Reason == reason && e.ActivityDay == day {
			return true
		}
	}
	return false
}

func (m *Memory) Streak(_ context.Context, account ledger.AccountID) (ledger.StreakState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streaks[account]
	return s, ok, nil
}

func (m *Memory) SaveStreak(_ context.Context, state ledger.StreakState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveStreakLocked(state, nil)
	return nil
}

func (m *Memory) saveStreakLocked(state ledger.StreakState, j *journal) {
	if j != nil {
		prev, existed := m.streaks[state.AccountID]
		j.streaks = append(j.streaks, streakRecord{prev: prev, existed: existed, account: state.AccountID})
	}
	m.streaks[state.AccountID] = state
}

func (m *Memory) Accounts(_ context.Context) ([]ledger.AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountsLocked(), nil
}

func (m *Memory) accountsLocked() []ledger.AccountID {
	result := make([]ledger.AccountID, 0, len(m.entries))
	for id := range m.entries {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// Writes go straight to the maps and are undone from a journal on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	j := &journal{}
	view := &txMemoryView{parent: m, journal: j}

	err := fn(view)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.rollback(j)
		return err
	}
	return nil
}

type journal struct {
	appended []appendRecord
	streaks  []streakRecord
}

type appendRecord struct {
	entry ledger.Entry
	daily dailyKey
}

type streakRecord struct {
	account ledger.AccountID
	prev    ledger.StreakState
	existed bool
}

func (m *Memory) rollback(j *journal) {
	for i := len(j.appended) - 1; i >= 0; i-- {
		rec := j.appended[i]
		txs := m.entries[rec.entry.AccountID]
		txs = txs[:len(txs)-1]
		if len(txs) == 0 {
			delete(m.entries, rec.entry.AccountID)
		} else {
			m.entries[rec.entry.AccountID] = txs
		}
		delete(m.byKey, rec.entry.IdempotencyKey)
		if rec.entry.Reason == ledger.ReasonDailyLogin {
			delete(m.daily, rec.daily)
		}
		m.seq--
	}
	for i := len(j.streaks) - 1; i >= 0; i-- {
		rec := j.streaks[i]
		if rec.existed {
			m.streaks[rec.account] = rec.prev
		} else {
			delete(m.streaks, rec.account)
		}
	}
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent  *Memory
	journal *journal
}

func (tv *txMemoryView) AppendIfAbsent(ctx context.Context, draft ledger.Entry) (ledger.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Entry{}, false, err
	}
	return tv.parent.appendLocked(draft, tv.journal)
}

func (tv *txMemoryView) FindByKey(_ context.Context, key string) (ledger.Entry, bool, error) {
	return tv.parent.findLocked(key)
}

func (tv *txMemoryView) CurrentBalance(_ context.Context, account ledger.AccountID) (int64, error) {
	return tv.parent.balanceLocked(account), nil
}

func (tv *txMemoryView) History(_ context.Context, account ledger.AccountID, filter ledger.HistoryFilter) ([]ledger.Entry, error) {
	return tv.parent.historyLocked(account, filter), nil
}

func (tv *txMemoryView) HasEntryOn(_ context.Context, account ledger.AccountID, reason ledger.Reason, day ledger.Day) (bool, error) {
	return tv.parent.hasEntryOnLocked(account, reason, day), nil
}

func (tv *txMemoryView) Streak(_ context.Context, account ledger.AccountID) (ledger.StreakState, bool, error) {
	s, ok := tv.parent.streaks[account]
	return s, ok, nil
}

func (tv *txMemoryView) SaveStreak(_ context.Context, state ledger.StreakState) error {
	tv.parent.saveStreakLocked(state, tv.journal)
	return nil
}

func (tv *txMemoryView) Accounts(_ context.Context) ([]ledger.AccountID, error) {
	return tv.parent.accountsLocked(), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// cloneEntry copies the reference fields so callers cannot mutate stored rows.
func cloneEntry(e ledger.Entry) ledger.Entry {
	if e.Metadata != nil {
		md := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	if e.Breakdown != nil {
		e.Breakdown = append(ledger.Breakdown(nil), e.Breakdown...)
	}
	if e.Streak != nil {
		s := *e.Streak
		e.Streak = &s
	}
	return e
}
