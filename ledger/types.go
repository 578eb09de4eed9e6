/*
Package ledger provides the debt-ledger domain: customers, the debts they owe,
and the payments applied against those debts.

PURPOSE:
  This package owns every rule that ties the three entities together.
  Debt.PaidAmount and Debt.Status are derived state: they change only through
  ApplyPayment and UpdateDebt in service.go, never by direct writes from
  another layer.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: fixed-point decimal amounts with two fractional digits
  - Status: unpaid / partial / paid, a pure function of (paid, total)
  - Customer, Debt, Payment: the persisted records
  - Input and patch types used by the Service operations

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Derivation: status is computed from amounts, not stored independently
  3. Asymmetric deletes: customers are deactivated, debts are hard-deleted
     together with their payments
  4. Append-only payments: a payment is never edited or removed on its own

SEE ALSO:
  - service.go: operations enforcing the invariants
  - store.go: persistence contract
  - stats.go: aggregate statistics
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point currency amounts
// =============================================================================

// MoneyScale is the number of fractional digits kept for every amount.
const MoneyScale = 2

// MaxAmount is the exclusive upper bound of any stored amount (NUMERIC(12,2)).
var MaxAmount = decimal.New(1, 10)

// Exponent bounds accepted before rounding. Rounding cost grows with the
// exponent.
const (
	minAmountExponent = -18
	maxAmountExponent = 10
)

// NormalizeAmount rounds d to MoneyScale places using banker's rounding.
// Callers must check AmountInRange first.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// AmountInRange reports whether d's exponent is small enough to round.
func AmountInRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= minAmountExponent && exp <= maxAmountExponent
}

// ParseAmount parses a decimal string and normalizes it.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !AmountInRange(d) {
		return decimal.Zero, fmt.Errorf("invalid amount %q: too many digits", s)
	}
	return NormalizeAmount(d), nil
}

// MustParseAmount is ParseAmount for literals known to be valid.
func MustParseAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatAmount renders d with exactly MoneyScale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

// =============================================================================
// STATUS - Derived from (paid, total)
// =============================================================================

// Status is the repayment state of a debt. The string values are the ones
// the client application and the original database use.
type Status string

const (
	StatusUnpaid  Status = "to'lanmagan"
	StatusPartial Status = "qisman"
	StatusPaid    Status = "to'langan"
)

// DeriveStatus returns the only status consistent with the two amounts.
func DeriveStatus(paid, total decimal.Decimal) Status {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnpaid, StatusPartial, StatusPaid:
		return true
	}
	return false
}

// =============================================================================
// RECORDS
// =============================================================================

// Customer is a person who can owe debts. Active=false is a soft delete.
type Customer struct {
	ID        int64
	Name      string
	Phone     string
	Address   string
	Note      string
	Active    bool
	CreatedAt time.Time
}

// Debt is a single obligation of one customer for one product.
type Debt struct {
	ID          int64
	CustomerID  int64
	Product     string
	TotalAmount decimal.Decimal
	PaidAmount  decimal.Decimal
	IssuedAt    time.Time
	DueAt       time.Time
	Status      Status
	Archived    bool
	CreatedAt   time.Time
}

// Remaining is the unpaid part of the debt.
func (d Debt) Remaining() decimal.Decimal {
	return d.TotalAmount.Sub(d.PaidAmount)
}

// IsOverdue reports whether the debt is active, past due and not fully paid.
func (d Debt) IsOverdue(now time.Time) bool {
	return !d.Archived && d.DueAt.Before(now) && d.Status != StatusPaid
}

// Payment is an append-only amount applied against a debt.
type Payment struct {
	ID     int64
	DebtID int64
	Amount decimal.Decimal
	PaidAt time.Time
	Note   string
}

// DebtWithCustomer is a debt with its owner and payment history resolved.
type DebtWithCustomer struct {
	Debt
	Customer Customer
	Payments []Payment
}

// PaymentWithDebt is a payment with its debt and the debt's customer resolved.
type PaymentWithDebt struct {
	Payment
	Debt     Debt
	Customer Customer
}

// =============================================================================
// INPUTS - Arguments of Service operations
// =============================================================================

// CustomerInput holds the fields of a new customer.
type CustomerInput struct {
	Name    string
	Phone   string
	Address string
	Note    string
}

// CustomerPatch holds a partial customer update. Nil fields are left as is.
type CustomerPatch struct {
	Name    *string
	Phone   *string
	Address *string
	Note    *string
}

// DebtInput holds the fields of a new debt. A zero IssuedAt means now.
type DebtInput struct {
	CustomerID  int64
	Product     string
	TotalAmount decimal.Decimal
	IssuedAt    time.Time
	DueAt       time.Time
}

// DebtPatch holds a partial debt update. Paid amount, status and the archive
// flag are deliberately absent. CustomerID may only repeat the current owner.
type DebtPatch struct {
	CustomerID  *int64
	Product     *string
	TotalAmount *decimal.Decimal
	IssuedAt    *time.Time
	DueAt       *time.Time
}

// PaymentInput holds the arguments of ApplyPayment. A zero PaidAt means now.
type PaymentInput struct {
	DebtID int64
	Amount decimal.Decimal
	Note   string
	PaidAt time.Time
}

// =============================================================================
// FILTERS
// =============================================================================

// CustomerFilter narrows ListCustomers.
type CustomerFilter struct {
	ActiveOnly bool
}

// DebtFilter narrows ListDebts.
//
// With OverdueAt set, only debts overdue at that instant are returned, ordered
// by due date ascending. Otherwise debts are ordered newest-first by creation.
type DebtFilter struct {
	IncludeArchived bool
	CustomerID      *int64
	OverdueAt       *time.Time
}

// Matches applies the filter to a single debt. Stores that cannot express
// the filter in their query language use this directly.
func (f DebtFilter) Matches(d Debt) bool {
	if !f.IncludeArchived && d.Archived {
		return false
	}
	if f.CustomerID != nil && d.CustomerID != *f.CustomerID {
		return false
	}
	if f.OverdueAt != nil && !d.IsOverdue(*f.OverdueAt) {
		return false
	}
	return true
}
