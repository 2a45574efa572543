// =============================================================================
// Class Payment Reconciler - Reporting Commands
// =============================================================================
//
// COMMAND USAGE:
//   reconciler coaches summary [--from D] [--to D]
//   reconciler coaches sessions <coach> [--from D] [--to D]
//   reconciler invoices
//
// Reports read the master sheet as the last reconcile run left it.
//
// =============================================================================

package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/class-payment-reconciler/internal/aggregate"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

var (
	reportFrom string
	reportTo   string
)

var coachesCmd = &cobra.Command{
	Use:   "coaches",
	Short: "Coach payout reports",
}

var coachesSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Revenue split per coach",
	RunE: func(cmd *cobra.Command, args []string) error {
		dr, err := types.ParseDateRange(reportFrom, reportTo)
		if err != nil {
			return err
		}
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		report, err := eng.AggregateByCoach(cmd.Context(), dr)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printTitle(out, "Coach Summary")
		rows := make([][]string, 0, len(report.Coaches)+1)
		for _, c := range report.Coaches {
			rows = append(rows, amountRow([]string{c.Name, strconv.Itoa(c.Sessions)}, c.Amounts))
		}
		rows = append(rows, amountRow([]string{"Total", strconv.Itoa(report.Totals.Rows)}, report.Totals.Amounts))
		renderTable(out, []string{"Coach", "Sessions", "Effective", "Payments", "Coach", "BGM", "Management", "MFC"},
			rows, 1, 2, 3, 4, 5, 6, 7)
		return nil
	},
}

var coachesSessionsCmd = &cobra.Command{
	Use:   "sessions <coach>",
	Short: "Every session of one coach with its share of the split",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dr, err := types.ParseDateRange(reportFrom, reportTo)
		if err != nil {
			return err
		}
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		sessions, err := eng.CoachSessions(cmd.Context(), args[0], dr)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printTitle(out, "Sessions for "+args[0])
		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, []string{
				s.EventDate, s.Customer, s.Offering, string(s.Status), s.Discount,
				strconv.Itoa(s.Instructors), types.Money(s.Effective), types.Money(s.Coach),
			})
		}
		renderTable(out, []string{"Date", "Customer", "Offering", "Status", "Discount", "Coaches", "Effective", "Coach Share"},
			rows, 5, 6, 7)
		return nil
	},
}

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Invoice balances, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		balances, err := eng.Invoices(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printTitle(out, "Invoice Verification")
		rows := make([][]string, 0, len(balances))
		for _, b := range balances {
			rows = append(rows, []string{
				b.InvoiceNumber, b.Customer, b.PaymentDate,
				types.Money(b.TotalAmount), types.Money(b.UsedAmount), types.Money(b.RemainingBalance),
				strconv.Itoa(b.SessionsUsed) + "/" + strconv.Itoa(b.TotalSessions),
				b.Status,
			})
		}
		renderTable(out, []string{"Invoice", "Customer", "Paid", "Total", "Used", "Remaining", "Sessions", "Status"},
			rows, 3, 4, 5, 6)
		return nil
	},
}

func amountRow(lead []string, a aggregate.Amounts) []string {
	return append(lead,
		types.Money(a.Effective), types.Money(a.Payment), types.Money(a.Coach),
		types.Money(a.Bgm), types.Money(a.Management), types.Money(a.Mfc),
	)
}

func init() {
	coachesCmd.PersistentFlags().StringVar(&reportFrom, "from", "", "First event date (YYYY-MM-DD)")
	coachesCmd.PersistentFlags().StringVar(&reportTo, "to", "", "Last event date (YYYY-MM-DD)")
	coachesCmd.AddCommand(coachesSummaryCmd, coachesSessionsCmd)
	rootCmd.AddCommand(coachesCmd, invoicesCmd)
}
