/*
service.go - Ledger domain service

PURPOSE:
  The only component allowed to mutate Debt.PaidAmount, Debt.Status and
  Customer.Active. Every operation validates its input, runs against the
  TxStore, and returns a typed error from errors.go on rejection.

CRITICAL INVARIANTS:
  1. 0 <= PaidAmount <= TotalAmount for every debt
  2. Status == DeriveStatus(PaidAmount, TotalAmount) after every write
  3. Archived only while Status == paid
  4. A debt's CustomerID never changes
  5. Sum of a debt's payments == its PaidAmount

PAYMENT FLOW (ApplyPayment):
  1. Lock the debt row (WithTx + GetDebtForUpdate)
  2. remaining = total - paid; reject amount > remaining
  3. Insert the payment
  4. Compare-and-set paid/status on the debt
  5. Commit. On ErrConcurrentModification retry from step 1.

SEE ALSO:
  - store.go: TxStore contract
  - stats.go: ComputeStats
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAttempts bounds how often a write is retried after a
// compare-and-set miss.
const DefaultMaxAttempts = 3

// Service enforces the ledger rules on top of a TxStore.
type Service struct {
	store       TxStore
	log         logrus.FieldLogger
	now         func() time.Time
	maxAttempts int
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService creates a Service backed by store.
func NewService(store TxStore, logger logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		log:         logger,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// ListCustomers returns customers newest-first.
func (s *Service) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error) {
	customers, err := s.store.ListCustomers(ctx, filter)
	return customers, wrapStore("list customers", err)
}

// GetCustomer returns a customer or a NotFoundError.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, wrapStore("get customer", err)
	}
	if c == nil {
		return nil, &NotFoundError{Entity: "customer", ID: id}
	}
	return c, nil
}

// CreateCustomer creates an active customer. Duplicate phones are allowed.
func (s *Service) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	c := &Customer{
		Name:      strings.TrimSpace(in.Name),
		Phone:     strings.TrimSpace(in.Phone),
		Address:   strings.TrimSpace(in.Address),
		Note:      strings.TrimSpace(in.Note),
		Active:    true,
		CreatedAt: s.Now(),
	}
	if err := validateCustomer(*c); err != nil {
		return nil, err
	}
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		return nil, wrapStore("create customer", err)
	}

	s.log.WithField("customer_id", c.ID).Info("customer created")
	return c, nil
}

// UpdateCustomer merges the non-nil fields of patch into the customer.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, patch CustomerPatch) (*Customer, error) {
	var updated Customer
	err := s.store.WithTx(ctx, func(tx Store) error {
		c, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Entity: "customer", ID: id}
		}

		if patch.Name != nil {
			c.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Phone != nil {
			c.Phone = strings.TrimSpace(*patch.Phone)
		}
		if patch.Address != nil {
			c.Address = strings.TrimSpace(*patch.Address)
		}
		if patch.Note != nil {
			c.Note = strings.TrimSpace(*patch.Note)
		}
		if err := validateCustomer(*c); err != nil {
			return err
		}
		if err := tx.UpdateCustomer(ctx, *c); err != nil {
			return err
		}
		updated = *c
		return nil
	})
	if err != nil {
		return nil, wrapStore("update customer", err)
	}

	s.log.WithField("customer_id", id).Info("customer updated")
	return &updated, nil
}

// DeactivateCustomer soft-deletes a customer. Calling it again is a no-op.
func (s *Service) DeactivateCustomer(ctx context.Context, id int64) error {
	err := s.store.WithTx(ctx, func(tx Store) error {
		c, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Entity: "customer", ID: id}
		}
		if !c.Active {
			return nil
		}
		c.Active = false
		return tx.UpdateCustomer(ctx, *c)
	})
	if err != nil {
		return wrapStore("deactivate customer", err)
	}

	s.log.WithField("customer_id", id).Info("customer deactivated")
	return nil
}

func validateCustomer(c Customer) error {
	if c.Name == "" {
		return invalid("ism", "name is required")
	}
	if c.Phone == "" {
		return invalid("telefon", "phone is required")
	}
	return nil
}

// =============================================================================
// DEBTS
// =============================================================================

// DebtQuery selects debts for ListDebts.
type DebtQuery struct {
	IncludeArchived bool
	CustomerID      *int64
}

// ListDebts returns debts with customer and payments, newest-first.
func (s *Service) ListDebts(ctx context.Context, q DebtQuery) ([]DebtWithCustomer, error) {
	return s.listDebts(ctx, "list debts", DebtFilter{
		IncludeArchived: q.IncludeArchived,
		CustomerID:      q.CustomerID,
	})
}

// ListOverdueDebts returns non-archived, unpaid debts past their due date,
// longest overdue first.
func (s *Service) ListOverdueDebts(ctx context.Context) ([]DebtWithCustomer, error) {
	now := s.Now()
	return s.listDebts(ctx, "list overdue debts", DebtFilter{OverdueAt: &now})
}

func (s *Service) listDebts(ctx context.Context, op string, filter DebtFilter) ([]DebtWithCustomer, error) {
	var result []DebtWithCustomer
	err := s.store.WithReadTx(ctx, func(tx Store) error {
		debts, err := tx.ListDebts(ctx, filter)
		if err != nil {
			return err
		}
		result, err = resolveDebts(ctx, tx, debts)
		return err
	})
	if err != nil {
		return nil, wrapStore(op, err)
	}
	return result, nil
}

// GetDebt returns a debt, archived or not, with customer and payments.
func (s *Service) GetDebt(ctx context.Context, id int64) (*DebtWithCustomer, error) {
	var result *DebtWithCustomer
	err := s.store.WithReadTx(ctx, func(tx Store) error {
		d, err := tx.GetDebt(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return &NotFoundError{Entity: "debt", ID: id}
		}
		resolved, err := resolveDebts(ctx, tx, []Debt{*d})
		if err != nil {
			return err
		}
		result = &resolved[0]
		return nil
	})
	if err != nil {
		return nil, wrapStore("get debt", err)
	}
	return result, nil
}

// CreateDebt records a new unpaid debt for an active customer.
func (s *Service) CreateDebt(ctx context.Context, in DebtInput) (*Debt, error) {
	if err := checkAmountRange("umumiySumma", in.TotalAmount); err != nil {
		return nil, err
	}
	now := s.Now()
	d := &Debt{
		CustomerID:  in.CustomerID,
		Product:     strings.TrimSpace(in.Product),
		TotalAmount: NormalizeAmount(in.TotalAmount),
		PaidAmount:  decimal.Zero,
		IssuedAt:    in.IssuedAt.UTC(),
		DueAt:       in.DueAt.UTC(),
		Status:      StatusUnpaid,
		CreatedAt:   now,
	}
	if in.IssuedAt.IsZero() {
		d.IssuedAt = now
	}

	if d.Product == "" {
		return nil, invalid("tovarNomi", "product is required")
	}
	if err := validateTotal(d.TotalAmount); err != nil {
		return nil, err
	}
	if err := validateDates(d.IssuedAt, d.DueAt); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(tx Store) error {
		c, err := tx.GetCustomer(ctx, d.CustomerID)
		if err != nil {
			return err
		}
		if c == nil {
			return invalid("mijozId", "customer %d does not exist", d.CustomerID)
		}
		if !c.Active {
			return invalid("mijozId", "customer %d is inactive", d.CustomerID)
		}
		return tx.CreateDebt(ctx, d)
	})
	if err != nil {
		return nil, wrapStore("create debt", err)
	}

	s.log.WithFields(logrus.Fields{
		"debt_id":     d.ID,
		"customer_id": d.CustomerID,
		"amount":      FormatAmount(d.TotalAmount),
	}).Info("debt created")
	return d, nil
}

// UpdateDebt edits product, amount and dates. Status is re-derived from the
// new amounts; an amount below what was already paid is rejected.
func (s *Service) UpdateDebt(ctx context.Context, id int64, patch DebtPatch) (*Debt, error) {
	var updated Debt
	err := s.retry(ctx, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			d, err := tx.GetDebtForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if d == nil {
				return &NotFoundError{Entity: "debt", ID: id}
			}

			if patch.CustomerID != nil && *patch.CustomerID != d.CustomerID {
				return invalid("mijozId", "owning customer cannot be changed")
			}
			if patch.Product != nil {
				d.Product = strings.TrimSpace(*patch.Product)
				if d.Product == "" {
					return invalid("tovarNomi", "product is required")
				}
			}
			if patch.TotalAmount != nil {
				if err := checkAmountRange("umumiySumma", *patch.TotalAmount); err != nil {
					return err
				}
				total := NormalizeAmount(*patch.TotalAmount)
				if err := validateTotal(total); err != nil {
					return err
				}
				if total.LessThan(d.PaidAmount) {
					return invalid("umumiySumma", "total %s is below the paid amount %s",
						FormatAmount(total), FormatAmount(d.PaidAmount))
				}
				d.TotalAmount = total
			}
			if patch.IssuedAt != nil {
				d.IssuedAt = patch.IssuedAt.UTC()
			}
			if patch.DueAt != nil {
				d.DueAt = patch.DueAt.UTC()
			}
			if err := validateDates(d.IssuedAt, d.DueAt); err != nil {
				return err
			}

			d.Status = DeriveStatus(d.PaidAmount, d.TotalAmount)
			if d.Archived && d.Status != StatusPaid {
				return &ConflictError{Entity: "debt", ID: id, Reason: "an archived debt must stay fully paid"}
			}
			if err := tx.UpdateDebt(ctx, *d); err != nil {
				return err
			}
			updated = *d
			return nil
		})
	})
	if err != nil {
		return nil, wrapStore("update debt", err)
	}

	s.log.WithFields(logrus.Fields{
		"debt_id": id,
		"status":  updated.Status,
	}).Info("debt updated")
	return &updated, nil
}

// ArchiveDebt hides a fully paid debt from default listings and statistics.
func (s *Service) ArchiveDebt(ctx context.Context, id int64) (*Debt, error) {
	var archived Debt
	err := s.retry(ctx, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			d, err := tx.GetDebtForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if d == nil {
				return &NotFoundError{Entity: "debt", ID: id}
			}
			if d.Status != StatusPaid {
				return &ConflictError{Entity: "debt", ID: id, Reason: "only fully paid debts can be archived"}
			}
			if !d.Archived {
				d.Archived = true
				if err := tx.UpdateDebt(ctx, *d); err != nil {
					return err
				}
			}
			archived = *d
			return nil
		})
	})
	if err != nil {
		return nil, wrapStore("archive debt", err)
	}

	s.log.WithField("debt_id", id).Info("debt archived")
	return &archived, nil
}

// DeleteDebt permanently removes a debt and its payments.
func (s *Service) DeleteDebt(ctx context.Context, id int64) error {
	err := s.store.WithTx(ctx, func(tx Store) error {
		found, err := tx.DeleteDebt(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return &NotFoundError{Entity: "debt", ID: id}
		}
		return nil
	})
	if err != nil {
		return wrapStore("delete debt", err)
	}

	s.log.WithField("debt_id", id).Warn("debt deleted with its payments")
	return nil
}

func checkAmountRange(field string, d decimal.Decimal) error {
	if !AmountInRange(d) {
		return invalid(field, "amount has too many digits")
	}
	return nil
}

func validateTotal(total decimal.Decimal) error {
	if !total.IsPositive() {
		return invalid("umumiySumma", "total amount must be positive")
	}
	if total.GreaterThanOrEqual(MaxAmount) {
		return invalid("umumiySumma", "total amount is too large")
	}
	return nil
}

func validateDates(issued, due time.Time) error {
	if due.IsZero() {
		return invalid("qaytarishMuddati", "due date is required")
	}
	if dayOf(due).Before(dayOf(issued)) {
		return invalid("qaytarishMuddati", "due date is before the issue date")
	}
	return nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ListPayments returns every payment with its debt and customer, newest-first.
func (s *Service) ListPayments(ctx context.Context) ([]PaymentWithDebt, error) {
	var result []PaymentWithDebt
	err := s.store.WithReadTx(ctx, func(tx Store) error {
		payments, err := tx.ListPayments(ctx)
		if err != nil {
			return err
		}

		debts := make(map[int64]*Debt)
		customers := make(map[int64]*Customer)
		result = make([]PaymentWithDebt, 0, len(payments))
		for _, p := range payments {
			d, ok := debts[p.DebtID]
			if !ok {
				if d, err = tx.GetDebt(ctx, p.DebtID); err != nil {
					return err
				}
				if d == nil {
					return &NotFoundError{Entity: "debt", ID: p.DebtID}
				}
				debts[p.DebtID] = d
			}
			c, err := cachedCustomer(ctx, tx, customers, d.CustomerID)
			if err != nil {
				return err
			}
			result = append(result, PaymentWithDebt{Payment: p, Debt: *d, Customer: *c})
		}
		return nil
	})
	if err != nil {
		return nil, wrapStore("list payments", err)
	}
	return result, nil
}

// ApplyPayment records a payment against a debt and updates the debt's paid
// amount and status in the same transaction.
func (s *Service) ApplyPayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	if err := checkAmountRange("summa", in.Amount); err != nil {
		return nil, err
	}
	amount := NormalizeAmount(in.Amount)
	if !amount.IsPositive() {
		return nil, invalid("summa", "payment amount must be positive")
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return nil, invalid("summa", "payment amount is too large")
	}

	paidAt := in.PaidAt.UTC()
	if in.PaidAt.IsZero() {
		paidAt = s.Now()
	}

	var (
		payment Payment
		status  Status
	)
	err := s.retry(ctx, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			d, err := tx.GetDebtForUpdate(ctx, in.DebtID)
			if err != nil {
				return err
			}
			if d == nil {
				return &NotFoundError{Entity: "debt", ID: in.DebtID}
			}

			remaining := d.Remaining()
			if amount.GreaterThan(remaining) {
				return &ExceedsRemainingError{DebtID: d.ID, Requested: amount, Remaining: remaining}
			}

			p := Payment{
				DebtID: d.ID,
				Amount: amount,
				PaidAt: paidAt,
				Note:   strings.TrimSpace(in.Note),
			}
			if err := tx.CreatePayment(ctx, &p); err != nil {
				return err
			}

			newPaid := d.PaidAmount.Add(amount)
			status = DeriveStatus(newPaid, d.TotalAmount)
			if err := tx.UpdateDebtBalance(ctx, d.ID, d.PaidAmount, newPaid, status); err != nil {
				return err
			}
			payment = p
			return nil
		})
	})
	if err != nil {
		if IsClientError(err) {
			s.log.WithFields(logrus.Fields{
				"debt_id": in.DebtID,
				"amount":  FormatAmount(amount),
			}).WithError(err).Warn("payment rejected")
		}
		return nil, wrapStore("apply payment", err)
	}

	s.log.WithFields(logrus.Fields{
		"debt_id":    payment.DebtID,
		"payment_id": payment.ID,
		"amount":     FormatAmount(payment.Amount),
		"status":     status,
	}).Info("payment applied")
	return &payment, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// retry runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted.
func (s *Service) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = fn(); !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.log.WithField("attempt", attempt).Debug("concurrent modification, retrying")
	}
	return err
}

func resolveDebts(ctx context.Context, tx Store, debts []Debt) ([]DebtWithCustomer, error) {
	result := make([]DebtWithCustomer, 0, len(debts))
	if len(debts) == 0 {
		return result, nil
	}

	ids := make([]int64, len(debts))
	for i, d := range debts {
		ids[i] = d.ID
	}
	payments, err := tx.PaymentsByDebt(ctx, ids...)
	if err != nil {
		return nil, err
	}

	customers := make(map[int64]*Customer)
	for _, d := range debts {
		c, err := cachedCustomer(ctx, tx, customers, d.CustomerID)
		if err != nil {
			return nil, err
		}
		ps := payments[d.ID]
		if ps == nil {
			ps = []Payment{}
		}
		result = append(result, DebtWithCustomer{Debt: d, Customer: *c, Payments: ps})
	}
	return result, nil
}

func cachedCustomer(ctx context.Context, tx Store, cache map[int64]*Customer, id int64) (*Customer, error) {
	if c, ok := cache[id]; ok {
		return c, nil
	}
	c, err := tx.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &NotFoundError{Entity: "customer", ID: id}
	}
	cache[id] = c
	return c, nil
}
