package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// STORE (ledger.Store outside a transaction)
// =============================================================================

func (s *Store) ListCustomers(ctx context.Context, filter ledger.CustomerFilter) ([]ledger.Customer, error) {
	defer s.rlock()()
	return s.on(s.db).ListCustomers(ctx, filter)
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*ledger.Customer, error) {
	defer s.rlock()()
	return s.on(s.db).GetCustomer(ctx, id)
}

func (s *Store) CreateCustomer(ctx context.Context, c *ledger.Customer) error {
	defer s.lock()()
	return s.on(s.db).CreateCustomer(ctx, c)
}

func (s *Store) UpdateCustomer(ctx context.Context, c ledger.Customer) error {
	defer s.lock()()
	return s.on(s.db).UpdateCustomer(ctx, c)
}

func (s *Store) ListDebts(ctx context.Context, filter ledger.DebtFilter) ([]ledger.Debt, error) {
	defer s.rlock()()
	return s.on(s.db).ListDebts(ctx, filter)
}

func (s *Store) GetDebt(ctx context.Context, id int64) (*ledger.Debt, error) {
	defer s.rlock()()
	return s.on(s.db).GetDebt(ctx, id)
}

// GetDebtForUpdate outside a transaction is a plain GetDebt.
func (s *Store) GetDebtForUpdate(ctx context.Context, id int64) (*ledger.Debt, error) {
	return s.GetDebt(ctx, id)
}

func (s *Store) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	defer s.lock()()
	return s.on(s.db).CreateDebt(ctx, d)
}

func (s *Store) UpdateDebt(ctx context.Context, d ledger.Debt) error {
	defer s.lock()()
	return s.on(s.db).UpdateDebt(ctx, d)
}

func (s *Store) UpdateDebtBalance(ctx context.Context, id int64, expectedPaid, newPaid decimal.Decimal, status ledger.Status) error {
	defer s.lock()()
	return s.on(s.db).UpdateDebtBalance(ctx, id, expectedPaid, newPaid, status)
}

// DeleteDebt runs in its own transaction so the payments go with the debt.
func (s *Store) DeleteDebt(ctx context.Context, id int64) (bool, error) {
	var found bool
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		found, err = tx.DeleteDebt(ctx, id)
		return err
	})
	return found, err
}

func (s *Store) ListPayments(ctx context.Context) ([]ledger.Payment, error) {
	defer s.rlock()()
	return s.on(s.db).ListPayments(ctx)
}

func (s *Store) PaymentsByDebt(ctx context.Context, debtIDs ...int64) (map[int64][]ledger.Payment, error) {
	defer s.rlock()()
	return s.on(s.db).PaymentsByDebt(ctx, debtIDs...)
}

func (s *Store) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	defer s.lock()()
	return s.on(s.db).CreatePayment(ctx, p)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = "id, name, phone, address, note, active, created_at"

func (c *conn) ListCustomers(ctx context.Context, filter ledger.CustomerFilter) ([]ledger.Customer, error) {
	query := "SELECT " + customerColumns + " FROM customers"
	var args []any
	if filter.ActiveOnly {
		query += " WHERE active = ?"
		args = append(args, true)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	customers := []ledger.Customer{}
	for rows.Next() {
		cu, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, cu)
	}
	return customers, rows.Err()
}

func (c *conn) GetCustomer(ctx context.Context, id int64) (*ledger.Customer, error) {
	row := c.queryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = ?", id)
	cu, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cu, nil
}

func (c *conn) CreateCustomer(ctx context.Context, cu *ledger.Customer) error {
	query := `
		INSERT INTO customers (name, phone, address, note, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := c.queryRow(ctx, query,
		cu.Name, cu.Phone, cu.Address, cu.Note, cu.Active, c.d.time(cu.CreatedAt),
	).Scan(&cu.ID)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (c *conn) UpdateCustomer(ctx context.Context, cu ledger.Customer) error {
	query := `
		UPDATE customers
		SET name = ?, phone = ?, address = ?, note = ?, active = ?
		WHERE id = ?
	`
	res, err := c.exec(ctx, query, cu.Name, cu.Phone, cu.Address, cu.Note, cu.Active, cu.ID)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &ledger.NotFoundError{Entity: "customer", ID: cu.ID}
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (ledger.Customer, error) {
	var cu ledger.Customer
	err := row.Scan(&cu.ID, &cu.Name, &cu.Phone, &cu.Address, &cu.Note, &cu.Active,
		timeColumn{&cu.CreatedAt})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return cu, fmt.Errorf("failed to scan customer: %w", err)
	}
	return cu, err
}

// =============================================================================
// DEBTS
// =============================================================================

const debtColumns = `id, customer_id, product, total_amount, paid_amount,
	issued_at, due_at, status, archived, created_at`

func (c *conn) ListDebts(ctx context.Context, filter ledger.DebtFilter) ([]ledger.Debt, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeArchived || filter.OverdueAt != nil {
		where = append(where, "archived = ?")
		args = append(args, false)
	}
	if filter.CustomerID != nil {
		where = append(where, "customer_id = ?")
		args = append(args, *filter.CustomerID)
	}
	order := " ORDER BY created_at DESC, id DESC"
	if filter.OverdueAt != nil {
		where = append(where, "status <> ?", "due_at < ?")
		args = append(args, string(ledger.StatusPaid), c.d.time(*filter.OverdueAt))
		order = " ORDER BY due_at ASC, id ASC"
	}

	query := "SELECT " + debtColumns + " FROM debts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += order

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query debts: %w", err)
	}
	defer rows.Close()

	debts := []ledger.Debt{}
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

func (c *conn) GetDebt(ctx context.Context, id int64) (*ledger.Debt, error) {
	return c.getDebt(ctx, "SELECT "+debtColumns+" FROM debts WHERE id = ?", id)
}

func (c *conn) GetDebtForUpdate(ctx context.Context, id int64) (*ledger.Debt, error) {
	return c.getDebt(ctx, "SELECT "+debtColumns+" FROM debts WHERE id = ?"+c.d.ForUpdate, id)
}

func (c *conn) getDebt(ctx context.Context, query string, id int64) (*ledger.Debt, error) {
	d, err := scanDebt(c.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *conn) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	query := `
		INSERT INTO debts
		(customer_id, product, total_amount, paid_amount, issued_at, due_at, status, archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := c.queryRow(ctx, query,
		d.CustomerID,
		d.Product,
		ledger.FormatAmount(d.TotalAmount),
		ledger.FormatAmount(d.PaidAmount),
		c.d.time(d.IssuedAt),
		c.d.time(d.DueAt),
		string(d.Status),
		d.Archived,
		c.d.time(d.CreatedAt),
	).Scan(&d.ID)
	if err != nil {
		if c.d.isForeignKeyViolation(err) {
			return &ledger.ValidationError{Field: "mijozId", Message: "unknown customer"}
		}
		return fmt.Errorf("failed to insert debt: %w", err)
	}
	return nil
}

func (c *conn) UpdateDebt(ctx context.Context, d ledger.Debt) error {
	query := `
		UPDATE debts
		SET product = ?, total_amount = ?, issued_at = ?, due_at = ?, status = ?, archived = ?
		WHERE id = ? AND paid_amount = ?
	`
	res, err := c.exec(ctx, query,
		d.Product,
		ledger.FormatAmount(d.TotalAmount),
		c.d.time(d.IssuedAt),
		c.d.time(d.DueAt),
		string(d.Status),
		d.Archived,
		d.ID,
		ledger.FormatAmount(d.PaidAmount),
	)
	if err != nil {
		return fmt.Errorf("failed to update debt: %w", err)
	}
	return c.checkCAS(ctx, res, d.ID)
}

func (c *conn) UpdateDebtBalance(ctx context.Context, id int64, expectedPaid, newPaid decimal.Decimal, status ledger.Status) error {
	query := `
		UPDATE debts
		SET paid_amount = ?, status = ?
		WHERE id = ? AND paid_amount = ?
	`
	res, err := c.exec(ctx, query,
		ledger.FormatAmount(newPaid),
		string(status),
		id,
		ledger.FormatAmount(expectedPaid),
	)
	if err != nil {
		return fmt.Errorf("failed to update debt balance: %w", err)
	}
	return c.checkCAS(ctx, res, id)
}

// checkCAS tells a missing row from a lost compare-and-set.
func (c *conn) checkCAS(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = c.queryRow(ctx, "SELECT 1 FROM debts WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.NotFoundError{Entity: "debt", ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to check debt: %w", err)
	}
	return ledger.ErrConcurrentModification
}

func (c *conn) DeleteDebt(ctx context.Context, id int64) (bool, error) {
	if _, err := c.exec(ctx, "DELETE FROM payments WHERE debt_id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete payments: %w", err)
	}
	res, err := c.exec(ctx, "DELETE FROM debts WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete debt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func scanDebt(row rowScanner) (ledger.Debt, error) {
	var (
		d      ledger.Debt
		status string
	)
	err := row.Scan(
		&d.ID, &d.CustomerID, &d.Product, &d.TotalAmount, &d.PaidAmount,
		timeColumn{&d.IssuedAt}, timeColumn{&d.DueAt}, &status, &d.Archived,
		timeColumn{&d.CreatedAt},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("failed to scan debt: %w", err)
	}
	d.Status = ledger.Status(status)
	if !d.Status.Valid() {
		return d, fmt.Errorf("debt %d has unknown status %q", d.ID, status)
	}
	return d, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = "id, debt_id, amount, paid_at, note"

func (c *conn) ListPayments(ctx context.Context) ([]ledger.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments ORDER BY paid_at DESC, id DESC"
	rows, err := c.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []ledger.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (c *conn) PaymentsByDebt(ctx context.Context, debtIDs ...int64) (map[int64][]ledger.Payment, error) {
	result := make(map[int64][]ledger.Payment, len(debtIDs))
	if len(debtIDs) == 0 {
		return result, nil
	}

	args := make([]any, len(debtIDs))
	for i, id := range debtIDs {
		args[i] = id
	}
	query := "SELECT " + paymentColumns + " FROM payments WHERE debt_id IN (" +
		placeholders(len(debtIDs)) + ") ORDER BY debt_id, paid_at ASC, id ASC"

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result[p.DebtID] = append(result[p.DebtID], p)
	}
	return result, rows.Err()
}

func (c *conn) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	query := `
		INSERT INTO payments (debt_id, amount, paid_at, note)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	err := c.queryRow(ctx, query,
		p.DebtID, ledger.FormatAmount(p.Amount), c.d.time(p.PaidAt), p.Note,
	).Scan(&p.ID)
	if err != nil {
		if c.d.isForeignKeyViolation(err) {
			return &ledger.NotFoundError{Entity: "debt", ID: p.DebtID}
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func scanPayment(row rowScanner) (ledger.Payment, error) {
	var p ledger.Payment
	if err := row.Scan(&p.ID, &p.DebtID, &p.Amount, timeColumn{&p.PaidAt}, &p.Note); err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	return p, nil
}
