/*
Package sqlite opens the ledger store on SQLite.

PURPOSE:
  Default storage for a single shop: one file, no server. The queries live
  in store/sqlstore; this package contributes the schema and the dialect.

STORAGE FORMAT:
  Amounts:    TEXT, exactly two fractional digits ("60000.00")
  Timestamps: TEXT, fixed-width UTC (sqlstore.TimeLayout), so ORDER BY and
              range comparisons on the column are chronological
  Booleans:   BOOLEAN (0/1)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety (Dialect.Serialize). SQLite has a
  single writer anyway; the mutex keeps writers from failing with
  SQLITE_BUSY inside one process.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

IN-MEMORY DATABASES:
  Every connection to ":memory:" is a separate database, so the pool is
  limited to one connection.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store, logger)

SEE ALSO:
  - store/sqlstore/store.go: Queries and transactions
  - store/postgres/postgres.go: Multi-process deployments
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/debt-ledger/store/sqlstore"
)

// New opens (and migrates) the SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store, err := sqlstore.New(context.Background(), db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect describes SQLite to sqlstore.
var Dialect = sqlstore.Dialect{
	Name:                  "sqlite",
	Schema:                schema,
	EncodeTime:            sqlstore.EncodeTimeText,
	IsForeignKeyViolation: isForeignKeyViolation,
	Serialize:             true,
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

const schema = `
	-- Customers (soft delete via active)
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_created
		ON customers(created_at DESC);

	-- Debts (paid_amount and status are derived, written by compare-and-set)
	CREATE TABLE IF NOT EXISTS debts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		product TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0.00',
		issued_at TEXT NOT NULL,
		due_at TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('to''lanmagan', 'qisman', 'to''langan')),
		archived BOOLEAN NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_debts_customer
		ON debts(customer_id);
	-- Overdue listing (hot path of the daily digest)
	CREATE INDEX IF NOT EXISTS idx_debts_archived_due
		ON debts(archived, due_at);

	-- Payments (append-only)
	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		debt_id INTEGER NOT NULL REFERENCES debts(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_payments_debt_paid
		ON payments(debt_id, paid_at);

	-- Operators
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phone TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'operator',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Sessions
	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires
		ON sessions(expires_at);
`
