package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/debt-ledger/api"
	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// SEED
// =============================================================================

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo scenario",
	Example: `  debt-ledger seed
  debt-ledger seed --scenario overdue --reset
  debt-ledger seed --list`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, _ []string) error {
	if list, _ := cmd.Flags().GetBool("list"); list {
		for _, sc := range api.Scenarios() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", sc.ID, sc.Description)
		}
		return nil
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		if err := a.store.Reset(ctx); err != nil {
			return err
		}
		a.log.Warn("ledger data deleted")
	}

	id, _ := cmd.Flags().GetString("scenario")
	sum, err := api.LoadScenario(ctx, a.ledger, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s: %d customers, %d debts, %d payments, %d archived\n",
		id, sum.Customers, sum.Debts, sum.Payments, sum.Archived)
	return nil
}

// =============================================================================
// STATS
// =============================================================================

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dashboard aggregates as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.ledger.ComputeStats(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statsOutput{
			Customers:       stats.TotalCustomers,
			ActiveCustomers: stats.ActiveCustomers,
			Debts:           stats.TotalDebts,
			Paid:            stats.PaidDebts,
			Unpaid:          stats.UnpaidDebts,
			Partial:         stats.PartialDebts,
			Overdue:         stats.OverdueDebts,
			TotalAmount:     ledger.FormatAmount(stats.TotalAmount),
			PaidAmount:      ledger.FormatAmount(stats.PaidAmount),
			RemainingAmount: ledger.FormatAmount(stats.RemainingAmount),
		})
	},
}

type statsOutput struct {
	Customers       int    `json:"customers"`
	ActiveCustomers int    `json:"active_customers"`
	Debts           int    `json:"debts"`
	Paid            int    `json:"paid"`
	Unpaid          int    `json:"unpaid"`
	Partial         int    `json:"partial"`
	Overdue         int    `json:"overdue"`
	TotalAmount     string `json:"total_amount"`
	PaidAmount      string `json:"paid_amount"`
	RemainingAmount string `json:"remaining_amount"`
}

// =============================================================================
// USER
// =============================================================================

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage operator accounts",
}

var userAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Create or reactivate an operator",
	Example: `  debt-ledger user add --phone +998901234567 --name Sardor --role admin`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		phone, _ := cmd.Flags().GetString("phone")
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")

		u, err := a.auth.EnsureUser(cmd.Context(), phone, name, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %d (%s) saved with role %s\n", u.ID, u.Name, u.Role)
		return nil
	},
}

func init() {
	seedCmd.Flags().String("scenario", "small-shop", "scenario to load")
	seedCmd.Flags().Bool("reset", false, "delete customers, debts and payments first")
	seedCmd.Flags().Bool("list", false, "list scenarios and exit")

	userAddCmd.Flags().String("phone", "", "operator phone number (required)")
	userAddCmd.Flags().String("name", "", "operator name")
	userAddCmd.Flags().String("role", "operator", "admin or operator")
	_ = userAddCmd.MarkFlagRequired("phone")
	userCmd.AddCommand(userAddCmd)

	rootCmd.AddCommand(seedCmd, statsCmd, userCmd)
}
