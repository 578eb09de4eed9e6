package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/ledger"
)

func TestAggregate_SkipsArchivedAndCountsStatuses(t *testing.T) {
	now := day(2025, time.June, 15)
	customers := []ledger.Customer{{ID: 1, Active: true}, {ID: 2, Active: false}, {ID: 3, Active: true}}
	debts := []ledger.Debt{
		{ID: 1, TotalAmount: amount("100"), PaidAmount: amount("0"), Status: ledger.StatusUnpaid, DueAt: day(2025, time.June, 1)},
		{ID: 2, TotalAmount: amount("200"), PaidAmount: amount("50"), Status: ledger.StatusPartial, DueAt: day(2025, time.July, 1)},
		{ID: 3, TotalAmount: amount("300"), PaidAmount: amount("300"), Status: ledger.StatusPaid, DueAt: day(2025, time.June, 1)},
		{ID: 4, TotalAmount: amount("999"), PaidAmount: amount("999"), Status: ledger.StatusPaid, Archived: true},
	}

	st := ledger.Aggregate(customers, debts, now)

	assert.Equal(t, 3, st.TotalCustomers)
	assert.Equal(t, 2, st.ActiveCustomers)
	assert.Equal(t, 3, st.TotalDebts)
	assert.Equal(t, 1, st.UnpaidDebts)
	assert.Equal(t, 1, st.PartialDebts)
	assert.Equal(t, 1, st.PaidDebts)
	assert.Equal(t, 1, st.OverdueDebts, "paid debts are never overdue")
	assert.Equal(t, "600.00", ledger.FormatAmount(st.TotalAmount))
	assert.Equal(t, "350.00", ledger.FormatAmount(st.PaidAmount))
	assert.Equal(t, "250.00", ledger.FormatAmount(st.RemainingAmount))
}

func TestAggregate_Empty(t *testing.T) {
	st := ledger.Aggregate(nil, nil, time.Now())

	assert.Zero(t, st.TotalDebts)
	assert.True(t, st.TotalAmount.IsZero())
	assert.True(t, st.RemainingAmount.IsZero())
}

func TestComputeStats_ReflectsServiceOperations(t *testing.T) {
	// GIVEN: Two customers, one deactivated, and three debts
	// WHEN: One debt is paid and archived, one partially paid
	// THEN: Stats cover the two remaining debts and remaining == total - paid

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a := mustCustomer(t, svc, "Alisher")
	b := mustCustomer(t, svc, "Bobur")

	archived := mustDebt(t, svc, a.ID, "100000", day(2025, time.July, 1))
	partial := mustDebt(t, svc, a.ID, "50000", day(2025, time.June, 10))
	mustDebt(t, svc, b.ID, "20000", day(2025, time.July, 1))

	_, err := pay(svc, archived.ID, "100000")
	require.NoError(t, err)
	_, err = svc.ArchiveDebt(ctx, archived.ID)
	require.NoError(t, err)
	_, err = pay(svc, partial.ID, "12500.25")
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateCustomer(ctx, b.ID))

	st, err := svc.ComputeStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, st.TotalCustomers)
	assert.Equal(t, 1, st.ActiveCustomers)
	assert.Equal(t, 2, st.TotalDebts)
	assert.Equal(t, 0, st.PaidDebts)
	assert.Equal(t, 1, st.PartialDebts)
	assert.Equal(t, 1, st.UnpaidDebts)
	assert.Equal(t, 1, st.OverdueDebts)
	assert.Equal(t, "70000.00", ledger.FormatAmount(st.TotalAmount))
	assert.Equal(t, "12500.25", ledger.FormatAmount(st.PaidAmount))
	assert.True(t, st.RemainingAmount.Equal(st.TotalAmount.Sub(st.PaidAmount)))
}
