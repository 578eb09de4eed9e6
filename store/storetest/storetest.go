// Package storetest is a conformance suite for ledger.TxStore implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/ledger"
)

// Factory returns an empty store. It registers its own cleanup.
type Factory func(t *testing.T) ledger.TxStore

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.TxStore)
	}{
		{"CustomerRoundTrip", testCustomerRoundTrip},
		{"ListCustomersOrderAndFilter", testListCustomers},
		{"DebtRoundTrip", testDebtRoundTrip},
		{"CreateDebtUnknownCustomer", testCreateDebtUnknownCustomer},
		{"UpdateDebtBalanceCompareAndSet", testUpdateDebtBalance},
		{"UpdateDebtCompareAndSet", testUpdateDebt},
		{"ListDebtsFilters", testListDebtsFilters},
		{"OverdueOrdering", testOverdueOrdering},
		{"PaymentsOrdering", testPaymentsOrdering},
		{"CreatePaymentUnknownDebt", testCreatePaymentUnknownDebt},
		{"DeleteDebtCascades", testDeleteDebtCascades},
		{"WithTxRollsBack", testWithTxRollsBack},
		{"WithReadTxSeesCommittedState", testWithReadTx},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

func amt(s string) ledger.Debt { return ledger.Debt{TotalAmount: ledger.MustParseAmount(s)} }

func newCustomer(t *testing.T, s ledger.Store, name string, created time.Time) ledger.Customer {
	t.Helper()
	c := ledger.Customer{Name: name, Phone: "+998900000000", Active: true, CreatedAt: created}
	require.NoError(t, s.CreateCustomer(context.Background(), &c))
	require.NotZero(t, c.ID)
	return c
}

func newDebt(t *testing.T, s ledger.Store, customerID int64, total string, due, created time.Time) ledger.Debt {
	t.Helper()
	d := amt(total)
	d.CustomerID = customerID
	d.Product = "Gilam"
	d.PaidAmount = ledger.MustParseAmount("0")
	d.IssuedAt = base
	d.DueAt = due
	d.Status = ledger.StatusUnpaid
	d.CreatedAt = created
	require.NoError(t, s.CreateDebt(context.Background(), &d))
	require.NotZero(t, d.ID)
	return d
}

func newPayment(t *testing.T, s ledger.Store, debtID int64, amount string, at time.Time) ledger.Payment {
	t.Helper()
	p := ledger.Payment{DebtID: debtID, Amount: ledger.MustParseAmount(amount), PaidAt: at}
	require.NoError(t, s.CreatePayment(context.Background(), &p))
	require.NotZero(t, p.ID)
	return p
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func testCustomerRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := ledger.Customer{
		Name:      "Dilnoza",
		Phone:     "+998911234567",
		Address:   "Samarqand",
		Note:      "ulgurji",
		Active:    true,
		CreatedAt: base,
	}
	require.NoError(t, s.CreateCustomer(ctx, &c))

	got, err := s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.Address, got.Address)
	assert.Equal(t, c.Note, got.Note)
	assert.True(t, got.Active)
	assert.True(t, got.CreatedAt.Equal(base))

	c.Active = false
	c.Phone = "+998917654321"
	require.NoError(t, s.UpdateCustomer(ctx, c))
	got, err = s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "+998917654321", got.Phone)

	missing, err := s.GetCustomer(ctx, c.ID+1000)
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.UpdateCustomer(ctx, ledger.Customer{ID: c.ID + 1000, Name: "x", Phone: "y"})
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func testListCustomers(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	older := newCustomer(t, s, "Older", base)
	newer := newCustomer(t, s, "Newer", base.Add(time.Hour))
	inactive := newCustomer(t, s, "Inactive", base.Add(2*time.Hour))
	inactive.Active = false
	require.NoError(t, s.UpdateCustomer(ctx, inactive))

	all, err := s.ListCustomers(ctx, ledger.CustomerFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{inactive.ID, newer.ID, older.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	active, err := s.ListCustomers(ctx, ledger.CustomerFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, newer.ID, active[0].ID)
}

// =============================================================================
// DEBTS
// =============================================================================

func testDebtRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := newCustomer(t, s, "Dilnoza", base)
	d := newDebt(t, s, c.ID, "12345678.90", base.AddDate(0, 1, 0), base)

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.CustomerID)
	assert.Equal(t, "Gilam", got.Product)
	assert.Equal(t, "12345678.90", ledger.FormatAmount(got.TotalAmount))
	assert.True(t, got.PaidAmount.IsZero())
	assert.Equal(t, ledger.StatusUnpaid, got.Status)
	assert.False(t, got.Archived)
	assert.True(t, got.IssuedAt.Equal(base))
	assert.True(t, got.DueAt.Equal(base.AddDate(0, 1, 0)))

	locked, err := s.GetDebtForUpdate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, locked.ID)

	missing, err := s.GetDebt(ctx, d.ID+1000)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testCreateDebtUnknownCustomer(t *testing.T, s ledger.TxStore) {
	d := amt("100")
	d.CustomerID = 4242
	d.Product = "Gilam"
	d.IssuedAt, d.DueAt, d.CreatedAt = base, base, base
	d.Status = ledger.StatusUnpaid

	err := s.CreateDebt(context.Background(), &d)

	assert.True(t, errors.Is(err, ledger.ErrValidation), "got %v", err)
}

func testUpdateDebtBalance(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := newCustomer(t, s, "Dilnoza", base)
	d := newDebt(t, s, c.ID, "100000", base.AddDate(0, 1, 0), base)

	sixty := ledger.MustParseAmount("60000")
	require.NoError(t, s.UpdateDebtBalance(ctx, d.ID, d.PaidAmount, sixty, ledger.StatusPartial))

	// A writer that read the old balance loses.
	err := s.UpdateDebtBalance(ctx, d.ID, d.PaidAmount, ledger.MustParseAmount("50000"), ledger.StatusPartial)
	assert.True(t, errors.Is(err, ledger.ErrConcurrentModification), "got %v", err)

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "60000.00", ledger.FormatAmount(got.PaidAmount))
	assert.Equal(t, ledger.StatusPartial, got.Status)

	err = s.UpdateDebtBalance(ctx, d.ID+1000, sixty, sixty, ledger.StatusPartial)
	assert.True(t, errors.Is(err, ledger.ErrNotFound), "got %v", err)
}

func testUpdateDebt(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := newCustomer(t, s, "Dilnoza", base)
	d := newDebt(t, s, c.ID, "100000", base.AddDate(0, 1, 0), base)

	d.Product = "Gilam 3x4"
	d.TotalAmount = ledger.MustParseAmount("120000")
	d.DueAt = base.AddDate(0, 2, 0)
	require.NoError(t, s.UpdateDebt(ctx, d))

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gilam 3x4", got.Product)
	assert.Equal(t, "120000.00", ledger.FormatAmount(got.TotalAmount))
	assert.True(t, got.DueAt.Equal(base.AddDate(0, 2, 0)))

	// Paid amount moved underneath the caller.
	require.NoError(t, s.UpdateDebtBalance(ctx, d.ID, d.PaidAmount, ledger.MustParseAmount("10"), ledger.StatusPartial))
	d.Product = "stale"
	err = s.UpdateDebt(ctx, d)
	assert.True(t, errors.Is(err, ledger.ErrConcurrentModification), "got %v", err)

	got, err = s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gilam 3x4", got.Product)
}

func testListDebtsFilters(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	a := newCustomer(t, s, "A", base)
	b := newCustomer(t, s, "B", base)
	first := newDebt(t, s, a.ID, "100", base.AddDate(0, 1, 0), base)
	second := newDebt(t, s, b.ID, "200", base.AddDate(0, 1, 0), base.Add(time.Minute))
	archived := newDebt(t, s, a.ID, "300", base.AddDate(0, 1, 0), base.Add(2*time.Minute))

	require.NoError(t, s.UpdateDebtBalance(ctx, archived.ID, archived.PaidAmount, archived.TotalAmount, ledger.StatusPaid))
	archived.PaidAmount = archived.TotalAmount
	archived.Status = ledger.StatusPaid
	archived.Archived = true
	require.NoError(t, s.UpdateDebt(ctx, archived))

	visible, err := s.ListDebts(ctx, ledger.DebtFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, second.ID, visible[0].ID, "newest first")
	assert.Equal(t, first.ID, visible[1].ID)

	all, err := s.ListDebts(ctx, ledger.DebtFilter{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, archived.ID, all[0].ID)
	assert.True(t, all[0].Archived)

	ofA, err := s.ListDebts(ctx, ledger.DebtFilter{IncludeArchived: true, CustomerID: &a.ID})
	require.NoError(t, err)
	assert.Len(t, ofA, 2)

	ofB, err := s.ListDebts(ctx, ledger.DebtFilter{CustomerID: &b.ID})
	require.NoError(t, err)
	require.Len(t, ofB, 1)
	assert.Equal(t, second.ID, ofB[0].ID)
}

func testOverdueOrdering(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := newCustomer(t, s, "A", base)
	now := base.AddDate(0, 0, 10)

	recent := newDebt(t, s, c.ID, "100", base.AddDate(0, 0, 8), base)
	oldest := newDebt(t, s, c.ID, "100", base.AddDate(0, 0, 2), base)
	notYet := newDebt(t, s, c.ID, "100", base.AddDate(0, 0, 20), base)
	paid := newDebt(t, s, c.ID, "100", base.AddDate(0, 0, 1), base)
	require.NoError(t, s.UpdateDebtBalance(ctx, paid.ID, paid.PaidAmount, paid.TotalAmount, ledger.StatusPaid))

	overdue, err := s.ListDebts(ctx, ledger.DebtFilter{OverdueAt: &now})
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, oldest.ID, overdue[0].ID)
	assert.Equal(t, recent.ID, overdue[1].ID)
	for _, d := range overdue {
		assert.NotEqual(t, notYet.ID, d.ID)
		assert.NotEqual(t, paid.ID, d.ID)
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

func testPaymentsOrdering(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := newCustomer(t, s, "A", base)
	d1 := newDebt(t, s, c.ID, "1000", base.AddDate(0, 1, 0), base)
	d2 := newDebt(t, s, c.ID, "1000", base.AddDate(0, 1, 0), base)

	p1 := newPayment(t, s, d1.ID, "10", base.Add(3*time.Hour))
	p2 := newPayment(t, s, d1.ID, "20.50", base.Add(1*time.Hour))
	p3 := newPayment(t, s, d2.ID, "30", base.Add(2*time.Hour))

	all, err := s.ListPayments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{p1.ID, p3.ID, p2.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	byDebt, err := s.PaymentsByDebt(ctx, d1.ID, d2.ID, d2.ID+1000)
	require.NoError(t, err)
	require.Len(t, byDebt[d1.ID], 2)
	assert.Equal(t, p2.ID, byDebt[d1.ID][0].ID, "oldest first per debt")
	assert.Equal(t, "20.50", ledger.FormatAmount(byDebt[d1.ID][0].Amount))
	assert.Len(t, byDebt[d2.ID], 1)
	assert.Empty(t, byDebt[d2.ID+1000])

	empty, err := s.PaymentsByDebt(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testCreatePaymentUnknownDebt(t *testing.T, s ledger.TxStore) {
	p := ledger.Payment{DebtID: 777, Amount: ledger.MustParseAmount("1"), PaidAt: base}

	err := s.CreatePayment(context.Background(), &p)

	assert.True(t, errors.Is(err, ledger.ErrNotFound), "got %v", err)
}

func testDeleteDebtCascades(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := newCustomer(t, s, "A", base)
	gone := newDebt(t, s, c.ID, "1000", base.AddDate(0, 1, 0), base)
	kept := newDebt(t, s, c.ID, "1000", base.AddDate(0, 1, 0), base)
	newPayment(t, s, gone.ID, "1", base)
	newPayment(t, s, gone.ID, "2", base)
	keptPayment := newPayment(t, s, kept.ID, "3", base)

	found, err := s.DeleteDebt(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, found)

	d, err := s.GetDebt(ctx, gone.ID)
	require.NoError(t, err)
	assert.Nil(t, d)

	all, err := s.ListPayments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keptPayment.ID, all[0].ID)

	found, err = s.DeleteDebt(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testWithTxRollsBack(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := newCustomer(t, s, "A", base)
	d := newDebt(t, s, c.ID, "1000", base.AddDate(0, 1, 0), base)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		p := ledger.Payment{DebtID: d.ID, Amount: ledger.MustParseAmount("100"), PaidAt: base}
		if err := tx.CreatePayment(ctx, &p); err != nil {
			return err
		}
		if err := tx.UpdateDebtBalance(ctx, d.ID, d.PaidAmount, p.Amount, ledger.StatusPartial); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero())
	payments, err := s.ListPayments(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)

	err = s.WithTx(ctx, func(tx ledger.Store) error {
		p := ledger.Payment{DebtID: d.ID, Amount: ledger.MustParseAmount("100"), PaidAt: base}
		if err := tx.CreatePayment(ctx, &p); err != nil {
			return err
		}
		return tx.UpdateDebtBalance(ctx, d.ID, d.PaidAmount, p.Amount, ledger.StatusPartial)
	})
	require.NoError(t, err)

	got, err = s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", ledger.FormatAmount(got.PaidAmount))
}

func testWithReadTx(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	c := newCustomer(t, s, "A", base)
	newDebt(t, s, c.ID, "1000", base.AddDate(0, 1, 0), base)

	var (
		customers []ledger.Customer
		debts     []ledger.Debt
	)
	err := s.WithReadTx(ctx, func(tx ledger.Store) error {
		var err error
		if customers, err = tx.ListCustomers(ctx, ledger.CustomerFilter{}); err != nil {
			return err
		}
		debts, err = tx.ListDebts(ctx, ledger.DebtFilter{})
		return err
	})

	require.NoError(t, err)
	assert.Len(t, customers, 1)
	assert.Len(t, debts, 1)
}
