/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Default durable store for the point ledger. Entries and streak state
  live in one database file so a lesson's points and its streak update
  commit in a single SQL transaction.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the entries table
  - No DELETE statements on the entries table
  - Corrections are new entries (manual_adjustment, refund)

KEY TABLES:
  entries: Immutable ledger of all balance changes, seq is the total order
  streaks: One mutable row per account

INDEXES:
  - idempotency_key UNIQUE: Insert-or-return-existing
  - idx_entries_account_seq: Balance and history (hot path)
  - idx_entries_daily_login: At most one daily_login per account per day

CONCURRENCY:
  The pool is capped at one connection and transactions begin IMMEDIATE,
  so SQLite serializes writers. Every read inside a transaction goes
  through the *sql.Tx; touching s.db from inside WithTx would wait on
  the connection the transaction already holds.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      return err
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
  - store/bolt: Embedded key/value alternative
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/points-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var _ ledger.TxStore = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds the read/write statements shared by the store and its
// transactional view.
type conn struct {
	q   querier
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	dsn := dbPath + sep + "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	store := &Store{
		conn: conn{q: db, now: func() time.Time { return time.Now().UTC() }},
		db:   db,
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return ledger.Unavailable("ping", s.db.PingContext(ctx))
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		balance_after INTEGER NOT NULL,
		reference_id TEXT,
		description TEXT,
		metadata_json TEXT,
		breakdown_json TEXT,
		streak_json TEXT,
		activity_day TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account_seq
		ON entries(account_id, seq DESC);

	CREATE INDEX IF NOT EXISTS idx_entries_account_reason_day
		ON entries(account_id, reason, activity_day);

	-- CRITICAL: one daily login per account per calendar day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_daily_login
		ON entries(account_id, activity_day)
		WHERE reason = 'daily_login';

	-- Streaks (one row per account, written with the entry that moved it)
	CREATE TABLE IF NOT EXISTS streaks (
		account_id TEXT PRIMARY KEY,
		current_streak INTEGER NOT NULL,
		longest_streak INTEGER NOT NULL,
		last_activity_date TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Unavailable("begin", err)
	}
	defer sqlTx.Rollback()

	view := &conn{q: sqlTx, now: s.now}
	if err := fn(view); err != nil {
		return err
	}

	return ledger.Unavailable("commit", sqlTx.Commit())
}

// AppendIfAbsent runs the insert in its own transaction so the balance
// check and the insert see the same snapshot.
func (s *Store) AppendIfAbsent(ctx context.Context, draft ledger.Entry) (ledger.Entry, bool, error) {
	var (
		entry   ledger.Entry
		created bool
	)
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		entry, created, err = tx.AppendIfAbsent(ctx, draft)
		return err
	})
	return entry, created, err
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `seq, id, account_id, delta, reason, idempotency_key, balance_after,
	reference_id, description, metadata_json, breakdown_json, streak_json, activity_day, created_at`

func (c *conn) AppendIfAbsent(ctx context.Context, draft ledger.Entry) (ledger.Entry, bool, error) {
	if draft.AccountID == "" {
		return ledger.Entry{}, false, ledger.ErrAccountRequired
	}
	if draft.IdempotencyKey == "" {
		return ledger.Entry{}, false, ledger.ErrKeyRequired
	}

	if existing, found, err := c.FindByKey(ctx, draft.IdempotencyKey); err != nil || found {
		return existing, false, err
	}

	prev, err := c.CurrentBalance(ctx, draft.AccountID)
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

	entry := draft
	if entry.ID == "" {
		entry.ID = ledger.NewEntryID()
	}
	entry.CreatedAt = c.now()

	metadataJSON, err := marshalNullable(entry.Metadata, len(entry.Metadata) == 0)
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("failed to encode metadata: %w", err)
	}
	breakdownJSON, err := marshalNullable(entry.Breakdown, len(entry.Breakdown) == 0)
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("failed to encode breakdown: %w", err)
	}
	streakJSON, err := marshalNullable(entry.Streak, entry.Streak == nil)
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("failed to encode streak: %w", err)
	}

	res, err := c.q.ExecContext(ctx, `
		INSERT INTO entries
		(id, account_id, delta, reason, idempotency_key, balance_after,
		 reference_id, description, metadata_json, breakdown_json, streak_json, activity_day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`,
		entry.ID,
		entry.AccountID,
		entry.Delta,
		entry.Reason,
		entry.IdempotencyKey,
		entry.BalanceAfter,
		nullString(entry.ReferenceID),
		nullString(entry.Description),
		metadataJSON,
		breakdownJSON,
		streakJSON,
		entry.ActivityDay.String(),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err, "activity_day") {
			return ledger.Entry{}, false, ledger.ErrAlreadyAppliedToday
		}
		return ledger.Entry{}, false, ledger.Unavailable("append entry", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the key to a concurrent writer
		existing, found, err := c.FindByKey(ctx, draft.IdempotencyKey)
		if err == nil && !found {
			err = ledger.ErrConcurrentModification
		}
		return existing, false, err
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return ledger.Entry{}, false, ledger.Unavailable("append entry", err)
	}
	entry.Seq = seq

	return entry, true, nil
}

func (c *conn) FindByKey(ctx context.Context, key string) (ledger.Entry, bool, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE idempotency_key = ?", key)
	if err != nil {
		return ledger.Entry{}, false, ledger.Unavailable("find entry", err)
	}
	entries, err := collectEntries(rows)
	if err != nil || len(entries) == 0 {
		return ledger.Entry{}, false, err
	}
	return entries[0], true, nil
}

func (c *conn) CurrentBalance(ctx context.Context, account ledger.AccountID) (int64, error) {
	var balance int64
	err := c.q.QueryRowContext(ctx,
		"SELECT balance_after FROM entries WHERE account_id = ? ORDER BY seq DESC LIMIT 1",
		account,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, ledger.Unavailable("current balance", err)
	}
	return balance, nil
}

func (c *conn) History(ctx context.Context, account ledger.AccountID, filter ledger.HistoryFilter) ([]ledger.Entry, error) {
	filter = filter.Normalize()

	query := "SELECT " + entryColumns + " FROM entries WHERE account_id = ?"
	args := []any{account}
	if len(filter.Reasons) > 0 {
		query += " AND reason IN (?" + strings.Repeat(", ?", len(filter.Reasons)-1) + ")"
		for _, r := range filter.Reasons {
			args = append(args, r)
		}
	}
	query += " ORDER BY seq DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Unavailable("history", err)
	}
	return collectEntries(rows)
}

func (c *conn) HasEntryOn(ctx context.Context, account ledger.AccountID, reason ledger.Reason, day ledger.Day) (bool, error) {
	var exists bool
	err := c.q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM entries WHERE account_id = ? AND reason = ? AND activity_day = ?)",
		account, reason, day.String(),
	).Scan(&exists)
	if err != nil {
		return false, ledger.Unavailable("has entry on", err)
	}
	return exists, nil
}

func (c *conn) Accounts(ctx context.Context) ([]ledger.AccountID, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT DISTINCT account_id FROM entries ORDER BY account_id")
	if err != nil {
		return nil, ledger.Unavailable("accounts", err)
	}
	defer rows.Close()

	var accounts []ledger.AccountID
	for rows.Next() {
		var id ledger.AccountID
		if err := rows.Scan(&id); err != nil {
			return nil, ledger.Unavailable("accounts", err)
		}
		accounts = append(accounts, id)
	}
	return accounts, ledger.Unavailable("accounts", rows.Err())
}

func collectEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, ledger.Unavailable("scan entries", rows.Err())
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e             ledger.Entry
		referenceID   sql.NullString
		description   sql.NullString
		metadataJSON  sql.NullString
		breakdownJSON sql.NullString
		streakJSON    sql.NullString
		activityDay   string
		createdAt     string
	)

	err := rows.Scan(
		&e.Seq, &e.ID, &e.AccountID, &e.Delta, &e.Reason, &e.IdempotencyKey, &e.BalanceAfter,
		&referenceID, &description, &metadataJSON, &breakdownJSON, &streakJSON, &activityDay, &createdAt,
	)
	if err != nil {
		return e, ledger.Unavailable("scan entry", err)
	}

	e.ReferenceID = referenceID.String
	e.Description = description.String
	if e.ActivityDay, err = ledger.ParseDay(activityDay); err != nil {
		return e, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return e, fmt.Errorf("entry %s: bad created_at: %w", e.ID, err)
	}
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("entry %s: bad metadata: %w", e.ID, err)
		}
	}
	if breakdownJSON.Valid {
		if err := json.Unmarshal([]byte(breakdownJSON.String), &e.Breakdown); err != nil {
			return e, fmt.Errorf("entry %s: bad breakdown: %w", e.ID, err)
		}
	}
	if streakJSON.Valid {
		e.Streak = &ledger.StreakInfo{}
		if err := json.Unmarshal([]byte(streakJSON.String), e.Streak); err != nil {
			return e, fmt.Errorf("entry %s: bad streak: %w", e.ID, err)
		}
	}

	return e, nil
}

// =============================================================================
// STREAKS
// =============================================================================

func (c *conn) Streak(ctx context.Context, account ledger.AccountID) (ledger.StreakState, bool, error) {
	var (
		state     = ledger.StreakState{AccountID: account}
		lastDay   string
		updatedAt string
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT current_streak, longest_streak, last_activity_date, updated_at
		FROM streaks WHERE account_id = ?
	`, account).Scan(&state.CurrentStreak, &state.LongestStreak, &lastDay, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.StreakState{}, false, nil
	}
	if err != nil {
		return ledger.StreakState{}, false, ledger.Unavailable("load streak", err)
	}

	if state.LastActivityDate, err = ledger.ParseDay(lastDay); err != nil {
		return ledger.StreakState{}, false, fmt.Errorf("streak %s: %w", account, err)
	}
	state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return state, true, nil
}

func (c *conn) SaveStreak(ctx context.Context, state ledger.StreakState) error {
	if state.AccountID == "" {
		return ledger.ErrAccountRequired
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = c.now()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO streaks (account_id, current_streak, longest_streak, last_activity_date, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_activity_date = excluded.last_activity_date,
			updated_at = excluded.updated_at
	`,
		state.AccountID,
		state.CurrentStreak,
		state.LongestStreak,
		state.LastActivityDate.String(),
		updatedAt.UTC().Format(time.RFC3339Nano),
	)
	return ledger.Unavailable("save streak", err)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// isUniqueViolation reports a UNIQUE constraint failure mentioning column.
func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqliteErr.Error(), column)
}
