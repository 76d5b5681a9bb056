// Package store persists the ledger in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/garagesale/treasury/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// ErrBalanceFixed is returned when an account's starting balance is changed
// after its first transaction.
var ErrBalanceFixed = errors.New("starting balance is fixed")

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bank_name TEXT NOT NULL,
	sort_code TEXT NOT NULL,
	account_number TEXT NOT NULL,
	starting_balance TEXT NOT NULL DEFAULT '0.00',
	last_transaction_number INTEGER NOT NULL DEFAULT 0,
	UNIQUE (bank_name, sort_code, account_number)
);

CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL CHECK (kind IN ('credit', 'debit')),
	parent_id INTEGER REFERENCES categories(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS financial_years (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL UNIQUE,
	year_start TEXT NOT NULL,
	year_end TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 0,
	CHECK (year_start <= year_end)
);

CREATE TABLE IF NOT EXISTS upload_histories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	uploaded_by TEXT NOT NULL,
	uploaded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS upload_histories_account ON upload_histories(account_id, start_date, end_date);

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	upload_history_id INTEGER REFERENCES upload_histories(id) ON DELETE CASCADE,
	parent_id INTEGER REFERENCES transactions(id) ON DELETE CASCADE,
	tx_number INTEGER,
	transaction_date TEXT NOT NULL,
	description TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	debit TEXT NOT NULL DEFAULT '0.00',
	credit TEXT NOT NULL DEFAULT '0.00',
	statement_balance TEXT,
	CHECK ((parent_id IS NULL) = (tx_number IS NOT NULL))
);
CREATE INDEX IF NOT EXISTS transactions_account_date ON transactions(account_id, transaction_date, tx_number);
CREATE INDEX IF NOT EXISTS transactions_account_parent ON transactions(account_id, parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_bank_line
	ON transactions(account_id, transaction_date, description, debit, credit) WHERE parent_id IS NULL;

CREATE TABLE IF NOT EXISTS upload_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_history_id INTEGER NOT NULL REFERENCES upload_histories(id) ON DELETE CASCADE,
	transaction_id INTEGER NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS upload_errors_upload ON upload_errors(upload_history_id);
CREATE INDEX IF NOT EXISTS upload_errors_transaction ON upload_errors(transaction_id);

CREATE TABLE IF NOT EXISTS published_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	shape TEXT NOT NULL,
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	file_id TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL,
	uploaded_by TEXT NOT NULL,
	uploaded_at TEXT NOT NULL,
	UNIQUE (shape, account_id, period_start, period_end)
);
`

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs repository queries against the database or an open transaction.
type Queries struct {
	q queryer
}

// Store owns the database handle.
type Store struct {
	*Queries
	db *sql.DB
}

// DSN builds the driver connection string for a database file.
// Write transactions take the lock at BEGIN so concurrent uploads serialise.
func DSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{Queries: &Queries{q: db}, db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside one database transaction. The transaction commits
// when fn returns nil and rolls back otherwise. fn must only use the
// Queries it is handed.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err comes from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func formatDate(t time.Time) string {
	return t.Format(model.DateFormat)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(model.DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored date %q: %w", s, err)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing stored amount %q: %w", s, err)
	}
	return d, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
