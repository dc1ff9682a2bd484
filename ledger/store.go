/*
store.go - Persistence contract for ledger entries and streak state

PURPOSE:
  Defines the interface between the ledger and its database. Three
  implementations exist: SQLite (default), bbolt and in-memory.

APPEND-ONLY CONTRACT:
  AppendIfAbsent is the ONLY way to write an entry. There is no Update and
  no Delete. Streak state is the one mutable record, and it is only written
  inside the same transaction as the ledger append it feeds.

IDEMPOTENCY:
  AppendIfAbsent is a single atomic insert-or-return-existing primitive.
  When the idempotency key is already stored, the EXISTING entry comes
  back with created=false. It never errors on a duplicate key, so a retry
  is always safe.

BALANCE CHECK:
  A draft carries the BalanceAfter the caller computed. The store verifies
  draft.BalanceAfter == previous balance + draft.Delta in the same atomic
  step and rejects stale drafts with ErrConcurrentModification.

ATOMIC UNITS:
  TxStore.WithTx runs fn against a transactional view. Either every write
  made through the view commits, or none do.

IMPLEMENTATIONS:
  - store/sqlite: database/sql + go-sqlite3
  - store/bolt: go.etcd.io/bbolt
  - ledger/store: in-memory for tests and development
*/
package ledger

import "context"

// =============================================================================
// STORE - Entry and streak persistence
// =============================================================================

// Store handles persistence of ledger entries and streak state.
type Store interface {
	// AppendIfAbsent inserts draft unless its idempotency key exists.
	// Returns (existing, false, nil) on a known key.
	// Assigns ID (when empty), Seq and CreatedAt on insert.
	AppendIfAbsent(ctx context.Context, draft Entry) (Entry, bool, error)

	// FindByKey returns the entry recorded under an idempotency key.
	FindByKey(ctx context.Context, key string) (Entry, bool, error)

	// CurrentBalance returns BalanceAfter of the latest entry, or 0.
	CurrentBalance(ctx context.Context, account AccountID) (int64, error)

	// History returns entries most recent first.
	History(ctx context.Context, account AccountID, filter HistoryFilter) ([]Entry, error)

	// HasEntryOn reports whether the account has an entry with reason on day.
	HasEntryOn(ctx context.Context, account AccountID, reason Reason, day Day) (bool, error)

	// Streak returns the account's streak state, if one exists.
	Streak(ctx context.Context, account AccountID) (StreakState, bool, error)

	// SaveStreak creates or replaces the account's streak state.
	SaveStreak(ctx context.Context, state StreakState) error

	// Accounts lists every account with at least one entry.
	Accounts(ctx context.Context) ([]AccountID, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the view is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Closer is implemented by stores that hold external resources.
type Closer interface {
	Close() error
}

// =============================================================================
// HELPERS
// =============================================================================

// Entries loads an account's full history in chronological order.
// Used by chain verification; pages through History.
func Entries(ctx context.Context, s Store, account AccountID) ([]Entry, error) {
	var all []Entry
	offset := 0
	for {
		page, err := s.History(ctx, account, HistoryFilter{Limit: MaxHistoryLimit, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < MaxHistoryLimit {
			break
		}
		offset += len(page)
	}
	// History is newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}
