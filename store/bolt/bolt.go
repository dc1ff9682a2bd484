// Package bolt provides a BoltDB-backed ledger.TxStore.
//
// Layout:
//
//	entries/{seq}                 JSON entry, seq is big-endian uint64
//	keys/{idempotency_key}        seq
//	accounts/{account}/{seq}      per-account index, empty value
//	daily/{account}/{day}         seq of that day's daily_login
//	streaks/{account}             JSON streak state
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/warp/points-ledger/ledger"
)

var (
	entriesBucket  = []byte("entries")
	keysBucket     = []byte("keys")
	accountsBucket = []byte("accounts")
	dailyBucket    = []byte("daily")
	streaksBucket  = []byte("streaks")
)

// Store provides a BoltDB-backed ledger store.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ ledger.TxStore = (*Store)(nil)

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{entriesBucket, keysBucket, accountsBucket, dailyBucket, streaksBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a single read-write bolt transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := fn(&view{tx: tx, now: s.now}); err != nil {
			return err
		}
		return ctx.Err()
	})
	return ledger.Unavailable("update", err)
}

func (s *Store) read(ctx context.Context, fn func(v *view) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ledger.Unavailable("view", s.db.View(func(tx *bbolt.Tx) error {
		return fn(&view{tx: tx, now: s.now})
	}))
}

func (s *Store) AppendIfAbsent(ctx context.Context, draft ledger.Entry) (ledger.Entry, bool, error) {
	var (
		entry   ledger.Entry
		created bool
	)
	err := s.WithTx(ctx, func(st ledger.Store) error {
		var err error
		entry, created, err = st.AppendIfAbsent(ctx, draft)
		return err
	})
	return entry, created, err
}

func (s *Store) FindByKey(ctx context.Context, key string) (e ledger.Entry, found bool, err error) {
	err = s.read(ctx, func(v *view) error {
		e, found, err = v.FindByKey(ctx, key)
		return err
	})
	return e, found, err
}

func (s *Store) CurrentBalance(ctx context.Context, account ledger.AccountID) (balance int64, err error) {
	err = s.read(ctx, func(v *view) error {
		balance, err = v.CurrentBalance(ctx, account)
		return err
	})
	return balance, err
}

func (s *Store) History(ctx context.Context, account ledger.AccountID, filter ledger.HistoryFilter) (entries []ledger.Entry, err error) {
	err = s.read(ctx, func(v *view) error {
		entries, err = v.History(ctx, account, filter)
		return err
	})
	return entries, err
}

func (s *Store) HasEntryOn(ctx context.Context, account ledger.AccountID, reason ledger.Reason, day ledger.Day) (ok bool, err error) {
	err = s.read(ctx, func(v *view) error {
		ok, err = v.HasEntryOn(ctx, account, reason, day)
		return err
	})
	return ok, err
}

func (s *Store) Streak(ctx context.Context, account ledger.AccountID) (state ledger.StreakState, found bool, err error) {
	err = s.read(ctx, func(v *view) error {
		state, found, err = v.Streak(ctx, account)
		return err
	})
	return state, found, err
}

func (s *Store) SaveStreak(ctx context.Context, state ledger.StreakState) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.SaveStreak(ctx, state)
	})
}

func (s *Store) Accounts(ctx context.Context) (accounts []ledger.AccountID, err error) {
	err = s.read(ctx, func(v *view) error {
		accounts, err = v.Accounts(ctx)
		return err
	})
	return accounts, err
}

// =============================================================================
// VIEW - ledger.Store over an open bolt transaction
// =============================================================================

type view struct {
	tx  *bbolt.Tx
	now func() time.Time
}

func (v *view) AppendIfAbsent(_ context.Context, draft ledger.Entry) (ledger.Entry, bool, error) {
	if draft.AccountID == "" {
		return ledger.Entry{}, false, ledger.ErrAccountRequired
	}
	if draft.IdempotencyKey == "" {
		return ledger.Entry{}, false, ledger.ErrKeyRequired
	}

	if existing, found, err := v.find(draft.IdempotencyKey); err != nil || found {
		return existing, false, err
	}

	prev, err := v.balance(draft.AccountID)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	want, err := ledger.AddPoints(prev, draft.Delta)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if draft.BalanceAfter != want {
		return ledger.Entry{}, false, ledger.ErrConcurrentModification
	}

	daily := v.tx.Bucket(dailyBucket)
	dayKey := accountDayKey(draft.AccountID, draft.ActivityDay)
	if draft.Reason == ledger.ReasonDailyLogin && daily.Get(dayKey) != nil {
		return ledger.Entry{}, false, ledger.ErrAlreadyAppliedToday
	}

	entries := v.tx.Bucket(entriesBucket)
	seq, err := entries.NextSequence()
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("next sequence: %w", err)
	}

	entry := draft
	if entry.ID == "" {
		entry.ID = ledger.NewEntryID()
	}
	entry.Seq = int64(seq)
	entry.CreatedAt = v.now()

	payload, err := json.Marshal(toRecord(entry))
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("marshal entry: %w", err)
	}

	seqKey := itob(seq)
	if err := entries.Put(seqKey, payload); err != nil {
		return ledger.Entry{}, false, err
	}
	if err := v.tx.Bucket(keysBucket).Put([]byte(entry.IdempotencyKey), seqKey); err != nil {
		return ledger.Entry{}, false, err
	}
	index, err := v.tx.Bucket(accountsBucket).CreateBucketIfNotExists([]byte(entry.AccountID))
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if err := index.Put(seqKey, nil); err != nil {
		return ledger.Entry{}, false, err
	}
	if entry.Reason == ledger.ReasonDailyLogin {
		if err := daily.Put(dayKey, seqKey); err != nil {
			return ledger.Entry{}, false, err
		}
	}

	return entry, true, nil
}

func (v *view) FindByKey(_ context.Context, key string) (ledger.Entry, bool, error) {
	return v.find(key)
}

func (v *view) find(key string) (ledger.Entry, bool, error) {
	seqKey := v.tx.Bucket(keysBucket).Get([]byte(key))
	if seqKey == nil {
		return ledger.Entry{}, false, nil
	}
	e, err := v.load(seqKey)
	return e, err == nil, err
}

func (v *view) load(seqKey []byte) (ledger.Entry, error) {
	payload := v.tx.Bucket(entriesBucket).Get(seqKey)
	if payload == nil {
		return ledger.Entry{}, fmt.Errorf("entry %d is missing", btoi(seqKey))
	}
	var rec entryRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return ledger.Entry{}, fmt.Errorf("unmarshal entry: %w", err)
	}
	return rec.toEntry(), nil
}

func (v *view) CurrentBalance(_ context.Context, account ledger.AccountID) (int64, error) {
	return v.balance(account)
}

func (v *view) balance(account ledger.AccountID) (int64, error) {
	index := v.tx.Bucket(accountsBucket).Bucket([]byte(account))
	if index == nil {
		return 0, nil
	}
	last, _ := index.Cursor().Last()
	if last == nil {
		return 0, nil
	}
	e, err := v.load(last)
	if err != nil {
		return 0, err
	}
	return e.BalanceAfter, nil
}

func (v *view) History(_ context.Context, account ledger.AccountID, filter ledger.HistoryFilter) ([]ledger.Entry, error) {
	filter = filter.Normalize()
	index := v.tx.Bucket(accountsBucket).Bucket([]byte(account))
	if index == nil {
		return nil, nil
	}

	var result []ledger.Entry
	skipped := 0
	c := index.Cursor()
	for k, _ := c.Last(); k != nil && len(result) < filter.Limit; k, _ = c.Prev() {
		e, err := v.load(k)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (v *view) HasEntryOn(_ context.Context, account ledger.AccountID, reason ledger.Reason, day ledger.Day) (bool, error) {
	if reason == ledger.ReasonDailyLogin {
		return v.tx.Bucket(dailyBucket).Get(accountDayKey(account, day)) != nil, nil
	}
	index := v.tx.Bucket(accountsBucket).Bucket([]byte(account))
	if index == nil {
		return false, nil
	}
	c := index.Cursor()
	for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
		e, err := v.load(k)
		if err != nil {
			return false, err
		}
		if e.Reason == reason && e.ActivityDay == day {
			return true, nil
		}
	}
	return false, nil
}

func (v *view) Streak(_ context.Context, account ledger.AccountID) (ledger.StreakState, bool, error) {
	payload := v.tx.Bucket(streaksBucket).Get([]byte(account))
	if payload == nil {
		return ledger.StreakState{}, false, nil
	}
	var rec streakRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return ledger.StreakState{}, false, fmt.Errorf("unmarshal streak: %w", err)
	}
	return rec.toState(account), true, nil
}

func (v *view) SaveStreak(_ context.Context, state ledger.StreakState) error {
	if state.AccountID == "" {
		return ledger.ErrAccountRequired
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = v.now()
	}
	payload, err := json.Marshal(streakRecord{
		CurrentStreak:    state.CurrentStreak,
		LongestStreak:    state.LongestStreak,
		LastActivityDate: state.LastActivityDate,
		UpdatedAt:        state.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal streak: %w", err)
	}
	return v.tx.Bucket(streaksBucket).Put([]byte(state.AccountID), payload)
}

func (v *view) Accounts(_ context.Context) ([]ledger.AccountID, error) {
	var accounts []ledger.AccountID
	err := v.tx.Bucket(accountsBucket).ForEach(func(k, val []byte) error {
		if val == nil {
			accounts = append(accounts, ledger.AccountID(k))
		}
		return nil
	})
	return accounts, err
}

// =============================================================================
// RECORDS
// =============================================================================

type entryRecord struct {
	ID             ledger.EntryID     `json:"id"`
	Seq            int64              `json:"seq"`
	AccountID      ledger.AccountID   `json:"account_id"`
	Delta          int64              `json:"delta"`
	Reason         ledger.Reason      `json:"reason"`
	IdempotencyKey string             `json:"idempotency_key"`
	BalanceAfter   int64              `json:"balance_after"`
	ReferenceID    string             `json:"reference_id,omitempty"`
	Description    string             `json:"description,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
	Breakdown      ledger.Breakdown   `json:"breakdown,omitempty"`
	Streak         *ledger.StreakInfo `json:"streak,omitempty"`
	ActivityDay    ledger.Day         `json:"activity_day"`
	CreatedAt      time.Time          `json:"created_at"`
}

func toRecord(e ledger.Entry) entryRecord {
	return entryRecord{
		ID:             e.ID,
		Seq:            e.Seq,
		AccountID:      e.AccountID,
		Delta:          e.Delta,
		Reason:         e.Reason,
		IdempotencyKey: e.IdempotencyKey,
		BalanceAfter:   e.BalanceAfter,
		ReferenceID:    e.ReferenceID,
		Description:    e.Description,
		Metadata:       e.Metadata,
		Breakdown:      e.Breakdown,
		Streak:         e.Streak,
		ActivityDay:    e.ActivityDay,
		CreatedAt:      e.CreatedAt,
	}
}

func (r entryRecord) toEntry() ledger.Entry {
	return ledger.Entry{
		ID:             r.ID,
		Seq:            r.Seq,
		AccountID:      r.AccountID,
		Delta:          r.Delta,
		Reason:         r.Reason,
		IdempotencyKey: r.IdempotencyKey,
		BalanceAfter:   r.BalanceAfter,
		ReferenceID:    r.ReferenceID,
		Description:    r.Description,
		Metadata:       r.Metadata,
		Breakdown:      r.Breakdown,
		Streak:         r.Streak,
		ActivityDay:    r.ActivityDay,
		CreatedAt:      r.CreatedAt,
	}
}

type streakRecord struct {
	CurrentStreak    int        `json:"current_streak"`
	LongestStreak    int        `json:"longest_streak"`
	LastActivityDate ledger.Day `json:"last_activity_date"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (r streakRecord) toState(account ledger.AccountID) ledger.StreakState {
	return ledger.StreakState{
		AccountID:        account,
		CurrentStreak:    r.CurrentStreak,
		LongestStreak:    r.LongestStreak,
		LastActivityDate: r.LastActivityDate,
		UpdatedAt:        r.UpdatedAt,
	}
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func accountDayKey(account ledger.AccountID, day ledger.Day) []byte {
	return []byte(string(account) + "/" + day.String())
}
