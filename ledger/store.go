/*
store.go - Persistence interface for customers, debts and payments

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   Row-level CRUD for the three entities
  TxStore: Store plus atomic read-then-write and consistent read views

DERIVED FIELDS:
  The store persists whatever the Service hands it. It never computes
  PaidAmount or Status itself. Only the Service calls UpdateDebtBalance.

ATOMIC PAYMENTS:
  ApplyPayment runs inside WithTx:
    1. GetDebtForUpdate   (row lock where the engine has one)
    2. CreatePayment
    3. UpdateDebtBalance  (compare-and-set on the previous paid amount)
  Either all three are committed or none are. A compare-and-set miss returns
  ErrConcurrentModification and the Service retries the whole sequence.

MISSING ROWS:
  Getters return (nil, nil) when the row does not exist. The Service turns
  that into a NotFoundError with the right entity name.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: default, file or :memory:
  - store/postgres/postgres.go: PostgreSQL with SELECT ... FOR UPDATE
  - ledger/store/memory.go: in-memory for testing

SEE ALSO:
  - service.go: Sole caller of the write methods
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Row-level persistence
// =============================================================================

// Store handles persistence of ledger records.
type Store interface {
	// ListCustomers returns customers newest-first by creation.
	ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error)

	// GetCustomer returns nil, nil when the customer does not exist.
	GetCustomer(ctx context.Context, id int64) (*Customer, error)

	// CreateCustomer inserts c and assigns c.ID.
	CreateCustomer(ctx context.Context, c *Customer) error

	// UpdateCustomer overwrites every mutable column of c.
	UpdateCustomer(ctx context.Context, c Customer) error

	// ListDebts returns debts matching filter. See DebtFilter for ordering.
	ListDebts(ctx context.Context, filter DebtFilter) ([]Debt, error)

	// GetDebt returns nil, nil when the debt does not exist.
	GetDebt(ctx context.Context, id int64) (*Debt, error)

	// GetDebtForUpdate is GetDebt that also locks the row until the
	// surrounding transaction ends, where the engine supports it.
	GetDebtForUpdate(ctx context.Context, id int64) (*Debt, error)

	// CreateDebt inserts d and assigns d.ID.
	CreateDebt(ctx context.Context, d *Debt) error

	// UpdateDebt writes product, amounts-independent fields, status and the
	// archive flag. It never writes the paid amount, and fails with
	// ErrConcurrentModification when the stored paid amount differs from d.PaidAmount.
	UpdateDebt(ctx context.Context, d Debt) error

	// UpdateDebtBalance sets the paid amount and status only if the stored
	// paid amount still equals expectedPaid. Otherwise it returns
	// ErrConcurrentModification.
	UpdateDebtBalance(ctx context.Context, id int64, expectedPaid, newPaid decimal.Decimal, status Status) error

	// DeleteDebt removes the debt and its payments. Reports whether it existed.
	DeleteDebt(ctx context.Context, id int64) (bool, error)

	// ListPayments returns all payments newest-first by payment time.
	ListPayments(ctx context.Context) ([]Payment, error)

	// PaymentsByDebt returns payments of the given debts, oldest first per debt.
	PaymentsByDebt(ctx context.Context, debtIDs ...int64) (map[int64][]Payment, error)

	// CreatePayment inserts p and assigns p.ID. Append-only: there is no
	// update or delete for a single payment.
	CreatePayment(ctx context.Context, p *Payment) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a read-write transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// WithReadTx executes fn against one point-in-time view of the store.
	// fn must not write.
	WithReadTx(ctx context.Context, fn func(Store) error) error
}
