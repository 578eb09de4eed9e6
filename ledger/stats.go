package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Stats is the dashboard aggregate. Debt figures cover non-archived debts only.
type Stats struct {
	TotalCustomers  int
	ActiveCustomers int

	TotalDebts   int
	PaidDebts    int
	UnpaidDebts  int
	PartialDebts int
	OverdueDebts int

	TotalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
}

// Aggregate folds one snapshot of customers and debts into Stats.
// Archived debts are skipped even if the caller passes them in.
func Aggregate(customers []Customer, debts []Debt, now time.Time) Stats {
	st := Stats{
		TotalAmount: decimal.Zero,
		PaidAmount:  decimal.Zero,
	}

	st.TotalCustomers = len(customers)
	for _, c := range customers {
		if c.Active {
			st.ActiveCustomers++
		}
	}

	for _, d := range debts {
		if d.Archived {
			continue
		}
		st.TotalDebts++
		switch d.Status {
		case StatusPaid:
			st.PaidDebts++
		case StatusPartial:
			st.PartialDebts++
		case StatusUnpaid:
			st.UnpaidDebts++
		}
		if d.IsOverdue(now) {
			st.OverdueDebts++
		}
		st.TotalAmount = st.TotalAmount.Add(d.TotalAmount)
		st.PaidAmount = st.PaidAmount.Add(d.PaidAmount)
	}

	st.RemainingAmount = st.TotalAmount.Sub(st.PaidAmount)
	return st
}

// ComputeStats aggregates over a single read-only view of the store, so
// every figure describes the same point in time.
func (s *Service) ComputeStats(ctx context.Context) (Stats, error) {
	var (
		customers []Customer
		debts     []Debt
	)
	err := s.store.WithReadTx(ctx, func(tx Store) error {
		var err error
		if customers, err = tx.ListCustomers(ctx, CustomerFilter{}); err != nil {
			return err
		}
		debts, err = tx.ListDebts(ctx, DebtFilter{})
		return err
	})
	if err != nil {
		return Stats{}, wrapStore("compute stats", err)
	}
	return Aggregate(customers, debts, s.Now()), nil
}
