/*
scenarios.go - Demo data sets for development and demonstrations

PURPOSE:
  Populates an empty ledger with realistic customers, debts and payments.
  Everything goes through the ledger service, so the data obeys the same
  rules as data entered through the API.

AVAILABLE SCENARIOS:
  small-shop:  Three customers, debts in every status, one archived
  overdue:     Two customers with debts past their due date

HOW SCENARIOS WORK:
 1. Create customers
 2. Record debts with issue/due dates relative to the service clock
 3. Apply payments
 4. Archive what is fully paid (if the scenario says so)

USAGE:
  debt-ledger seed --scenario small-shop

NOTE:
  Scenarios only add data. Use "seed --reset" to start from an empty ledger.

SEE ALSO:
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario is a named demo data set.
type Scenario struct {
	ID          string
	Name        string
	Description string

	customers []demoCustomer
}

type demoCustomer struct {
	name, phone, address string
	debts                []demoDebt
}

// Days are relative to the service clock: negative is in the past.
type demoDebt struct {
	product  string
	total    string
	issuedIn int
	dueIn    int
	payments []string
	archive  bool
}

var scenarios = []Scenario{
	{
		ID:          "small-shop",
		Name:        "Small Shop",
		Description: "Three customers with unpaid, partial, paid and archived debts",
		customers: []demoCustomer{
			{
				name: "Aziz Karimov", phone: "+998901112233", address: "Toshkent, Chilonzor 5",
				debts: []demoDebt{
					{product: "Muzlatgich", total: "4500000", issuedIn: -40, dueIn: 20, payments: []string{"1500000", "1000000"}},
					{product: "Choynak", total: "180000", issuedIn: -60, dueIn: -30, payments: []string{"180000"}, archive: true},
				},
			},
			{
				name: "Dilnoza Rahimova", phone: "+998935554433",
				debts: []demoDebt{
					{product: "Kir yuvish mashinasi", total: "3200000", issuedIn: -10, dueIn: 50},
				},
			},
			{
				name: "Bobur Tursunov", phone: "+998977778899", address: "Samarqand",
				debts: []demoDebt{
					{product: "Televizor", total: "2750000.50", issuedIn: -90, dueIn: -15, payments: []string{"750000.50"}},
					{product: "Dazmol", total: "250000", issuedIn: -5, dueIn: 25, payments: []string{"250000"}},
				},
			},
		},
	},
	{
		ID:          "overdue",
		Name:        "Overdue",
		Description: "Debts past their due date, one untouched and one partly paid",
		customers: []demoCustomer{
			{
				name: "Sardor Aliyev", phone: "+998909998877",
				debts: []demoDebt{
					{product: "Konditsioner", total: "6000000", issuedIn: -120, dueIn: -60},
				},
			},
			{
				name: "Malika Yusupova", phone: "+998946665544",
				debts: []demoDebt{
					{product: "Gaz plita", total: "2100000", issuedIn: -45, dueIn: -1, payments: []string{"700000", "700000"}},
				},
			},
		},
	},
}

// Scenarios lists the available demo data sets, ordered by ID.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SeedSummary counts what a scenario created.
type SeedSummary struct {
	Customers int
	Debts     int
	Payments  int
	Archived  int
}

// =============================================================================
// LOADER
// =============================================================================

// LoadScenario creates the scenario's data through the ledger service.
func LoadScenario(ctx context.Context, svc *ledger.Service, id string) (SeedSummary, error) {
	var sc *Scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			sc = &scenarios[i]
			break
		}
	}
	if sc == nil {
		return SeedSummary{}, fmt.Errorf("unknown scenario: %s", id)
	}

	var sum SeedSummary
	now := svc.Now()
	for _, dc := range sc.customers {
		c, err := svc.CreateCustomer(ctx, ledger.CustomerInput{
			Name:    dc.name,
			Phone:   dc.phone,
			Address: dc.address,
		})
		if err != nil {
			return sum, fmt.Errorf("customer %s: %w", dc.name, err)
		}
		sum.Customers++

		for _, dd := range dc.debts {
			d, err := svc.CreateDebt(ctx, ledger.DebtInput{
				CustomerID:  c.ID,
				Product:     dd.product,
				TotalAmount: ledger.MustParseAmount(dd.total),
				IssuedAt:    now.AddDate(0, 0, dd.issuedIn),
				DueAt:       now.AddDate(0, 0, dd.dueIn),
			})
			if err != nil {
				return sum, fmt.Errorf("debt %s: %w", dd.product, err)
			}
			sum.Debts++

			for i, amount := range dd.payments {
				// Spread payments between issue date and now.
				paidAt := now.AddDate(0, 0, dd.issuedIn*(len(dd.payments)-i-1)/(len(dd.payments)+1))
				if _, err := svc.ApplyPayment(ctx, ledger.PaymentInput{
					DebtID: d.ID,
					Amount: ledger.MustParseAmount(amount),
					PaidAt: paidAt,
				}); err != nil {
					return sum, fmt.Errorf("payment on %s: %w", dd.product, err)
				}
				sum.Payments++
			}

			if dd.archive {
				if _, err := svc.ArchiveDebt(ctx, d.ID); err != nil {
					return sum, fmt.Errorf("archive %s: %w", dd.product, err)
				}
				sum.Archived++
			}
		}
	}
	return sum, nil
}
