/*
Package sqlstore implements ledger.TxStore and auth.Store on database/sql.

PURPOSE:
  One implementation of the queries, shared by the SQLite and PostgreSQL
  packages. The engine-specific parts (schema, placeholders, row locks,
  time encoding, constraint error codes) are described by a Dialect.

TABLES:
  customers: soft-deleted through the active flag
  debts:     paid_amount and status written only through compare-and-set
  payments:  append-only, removed only together with their debt
  users:     operators, unique by phone
  sessions:  opaque tokens with explicit expiry

CONCURRENCY:
  Dialect.Serialize guards the store with a sync.RWMutex (SQLite: one writer
  per process). PostgreSQL relies on SELECT ... FOR UPDATE instead. In both
  cases UpdateDebt and UpdateDebtBalance compare the stored paid amount, so
  a lost race surfaces as ledger.ErrConcurrentModification.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Dialects
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/warp/debt-ledger/ledger"
)

// Dialect describes what differs between SQL engines.
type Dialect struct {
	// Name is used in log lines and error messages.
	Name string

	// Schema is executed on New. It must be idempotent.
	Schema string

	// Placeholder renders the n-th (1-based) bind parameter. Nil keeps "?".
	Placeholder func(n int) string

	// ForUpdate is appended to GetDebtForUpdate, e.g. " FOR UPDATE".
	ForUpdate string

	// ReadTxOptions are used by WithReadTx.
	ReadTxOptions *sql.TxOptions

	// EncodeTime converts a timestamp to a bind value. Nil passes time.Time.
	EncodeTime func(time.Time) any

	// IsForeignKeyViolation recognizes the engine's FK error.
	IsForeignKeyViolation func(error) bool

	// Serialize guards every call with a process-wide RWMutex.
	Serialize bool
}

// Store implements ledger.TxStore and auth.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*conn)(nil)
)

// New wraps an open database and migrates the schema.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, dialect: d}
	if d.Schema != "" {
		if _, err := db.ExecContext(ctx, d.Schema); err != nil {
			return nil, fmt.Errorf("failed to migrate %s database: %w", d.Name, err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the dialect name.
func (s *Store) Driver() string {
	return s.dialect.Name
}

// Reset deletes all ledger records. Users and sessions are kept.
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()

	for _, table := range []string{"payments", "debts", "customers"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) lock() func() {
	if !s.dialect.Serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock() func() {
	if !s.dialect.Serialize {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	defer s.lock()()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.on(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithReadTx executes fn within a read-only transaction, which is always
// rolled back.
func (s *Store) WithReadTx(ctx context.Context, fn func(ledger.Store) error) error {
	defer s.rlock()()

	tx, err := s.db.BeginTx(ctx, s.dialect.ReadTxOptions)
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(s.on(tx))
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs queries against either the pool or an open transaction.
type conn struct {
	q queryer
	d *Dialect
}

func (s *Store) on(q queryer) *conn {
	return &conn{q: q, d: &s.dialect}
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// rebind rewrites "?" placeholders for engines that number them.
func (d *Dialect) rebind(query string) string {
	if d.Placeholder == nil {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Dialect) time(t time.Time) any {
	if d.EncodeTime == nil {
		return t.UTC()
	}
	return d.EncodeTime(t.UTC())
}

func (d *Dialect) isForeignKeyViolation(err error) bool {
	return d.IsForeignKeyViolation != nil && d.IsForeignKeyViolation(err)
}

// placeholders returns "?, ?, ..." for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// timeColumn scans TEXT timestamps as well as native ones.
type timeColumn struct {
	t *time.Time
}

func (c timeColumn) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*c.t = time.Time{}
	case time.Time:
		*c.t = v.UTC()
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into time", value)
	}
	return nil
}

func (c timeColumn) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*c.t = t.UTC()
	return nil
}

// TimeLayout is a fixed-width UTC layout whose lexical order matches
// chronological order. Text-only engines store timestamps with it.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// EncodeTimeText formats t with TimeLayout.
func EncodeTimeText(t time.Time) any {
	return t.UTC().Format(TimeLayout)
}
