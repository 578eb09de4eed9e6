package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/ledger"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		paid, total string
		want        ledger.Status
	}{
		{"0", "100", ledger.StatusUnpaid},
		{"0.01", "100", ledger.StatusPartial},
		{"99.99", "100", ledger.StatusPartial},
		{"100", "100", ledger.StatusPaid},
		{"100.00", "100", ledger.StatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.paid+"/"+tt.total, func(t *testing.T) {
			got := ledger.DeriveStatus(amount(tt.paid), amount(tt.total))
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestStatus_Valid(t *testing.T) {
	assert.False(t, ledger.Status("paid").Valid())
	assert.False(t, ledger.Status("").Valid())
}

func TestParseAmount(t *testing.T) {
	d, err := ledger.ParseAmount(" 1234.5 ")
	require.NoError(t, err)
	assert.Equal(t, "1234.50", ledger.FormatAmount(d))

	d, err = ledger.ParseAmount("0.125")
	require.NoError(t, err)
	assert.Equal(t, "0.12", ledger.FormatAmount(d), "banker's rounding")

	_, err = ledger.ParseAmount("12,50")
	assert.Error(t, err)

	_, err = ledger.ParseAmount("1e-10000000")
	assert.ErrorContains(t, err, "too many digits")
}

func TestAmountInRange(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"100000", true},
		{"10.125", true},
		{"0.000000000000000001", true},
		{"0.0000000000000000001", false},
		{"1e10", true},
		{"1e11", false},
		{"1e-10000000", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.AmountInRange(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestDebt_IsOverdue(t *testing.T) {
	now := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	base := ledger.Debt{
		TotalAmount: decimal.NewFromInt(100),
		PaidAmount:  decimal.Zero,
		Status:      ledger.StatusUnpaid,
		DueAt:       now.AddDate(0, 0, -1),
	}

	assert.True(t, base.IsOverdue(now))

	future := base
	future.DueAt = now.AddDate(0, 0, 1)
	assert.False(t, future.IsOverdue(now))

	paid := base
	paid.Status = ledger.StatusPaid
	assert.False(t, paid.IsOverdue(now))

	archived := base
	archived.Archived = true
	assert.False(t, archived.IsOverdue(now))
}

func TestDebtFilter_Matches(t *testing.T) {
	owner := int64(2)
	d := ledger.Debt{CustomerID: 2, Archived: true, Status: ledger.StatusPaid}

	assert.False(t, ledger.DebtFilter{}.Matches(d))
	assert.True(t, ledger.DebtFilter{IncludeArchived: true, CustomerID: &owner}.Matches(d))

	other := int64(3)
	assert.False(t, ledger.DebtFilter{IncludeArchived: true, CustomerID: &other}.Matches(d))
}
