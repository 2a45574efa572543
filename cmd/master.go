// =============================================================================
// Class Payment Reconciler - Master Sheet Commands
// =============================================================================
//
// COMMAND USAGE:
//   reconciler master list [--status S] [--from D] [--to D]
//   reconciler master upsert <rows.csv>
//   reconciler master edit --key K [--invoice I] [--discount D] [--note N] [--apply]
//   reconciler master apply-edits
//   reconciler master clear --yes
//
// Edits are queued on the pending edits sheet and applied by the next
// reconcile run or by apply-edits. An edited row becomes Manually verified
// and later runs leave it alone.
//
// =============================================================================

package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

var (
	masterStatus string
	masterFrom   string
	masterTo     string

	editKey      string
	editInvoice  string
	editDiscount string
	editNote     string
	editEditor   string
	editApply    bool

	clearConfirmed bool
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Inspect and correct the master sheet",
}

var masterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List master rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		dr, err := types.ParseDateRange(masterFrom, masterTo)
		if err != nil {
			return err
		}
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		list, err := eng.Repositories().Master.List(cmd.Context())
		if err != nil {
			return err
		}
		rows := [][]string{}
		for _, r := range list {
			if masterStatus != "" && !strings.EqualFold(string(r.VerificationStatus), masterStatus) {
				continue
			}
			if !dr.IsOpen() {
				t, ok := r.EventTime()
				if !ok || !dr.Contains(t) {
					continue
				}
			}
			rows = append(rows, []string{
				r.UniqueKey, r.EventStartsAt, r.Customer, r.Membership,
				string(r.VerificationStatus), r.InvoiceNumber, r.DiscountName,
				types.Money(r.EffectiveAmount), types.Money(r.CoachAmount),
			})
		}
		renderTable(cmd.OutOrStdout(),
			[]string{"Key", "Event", "Customer", "Membership", "Status", "Invoice", "Discount", "Effective", "Coach"},
			rows, 7, 8)
		return nil
	},
}

var masterUpsertCmd = &cobra.Command{
	Use:   "upsert <rows.csv>",
	Short: "Merge master rows from a CSV file by unique key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		staged, err := stageCSV(args[0], cfg.Sheets.Master)
		if err != nil {
			return err
		}
		rows, err := staged.Master.List(cmd.Context())
		if err != nil {
			return err
		}

		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		n, err := eng.Upsert(cmd.Context(), rows)
		if err != nil {
			return err
		}
		printOK(cmd.OutOrStdout(), "%d row(s) added or updated", n)
		return nil
	},
}

var masterEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Queue a manual correction for one master row",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(editKey) == "" {
			return errors.New("--key is required")
		}
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		edit, err := eng.QueueEdit(cmd.Context(), types.PendingEdit{
			UniqueKey:     editKey,
			InvoiceNumber: editInvoice,
			DiscountName:  editDiscount,
			Note:          editNote,
			Editor:        editEditor,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printOK(out, "Edit %s queued for %s", edit.ID, edit.UniqueKey)
		if !editApply {
			return nil
		}
		res, err := eng.ApplyPendingEdits(cmd.Context())
		if err != nil {
			return err
		}
		printOK(out, "%d edit(s) applied", res.Applied)
		return nil
	},
}

var masterApplyEditsCmd = &cobra.Command{
	Use:   "apply-edits",
	Short: "Apply every queued edit now",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		res, err := eng.ApplyPendingEdits(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, key := range res.Unknown {
			printWarn(out, "No master row with key %s; edit dropped", key)
		}
		printOK(out, "%d edit(s) applied", res.Applied)
		return nil
	},
}

var masterClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every row from the master sheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirmed {
			return errors.New("refusing to clear the master sheet without --yes")
		}
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		if err := eng.ClearMaster(cmd.Context()); err != nil {
			return err
		}
		printOK(cmd.OutOrStdout(), "Master sheet cleared")
		return nil
	},
}

func init() {
	masterListCmd.Flags().StringVar(&masterStatus, "status", "", "Only rows with this verification status")
	masterListCmd.Flags().StringVar(&masterFrom, "from", "", "First event date (YYYY-MM-DD)")
	masterListCmd.Flags().StringVar(&masterTo, "to", "", "Last event date (YYYY-MM-DD)")

	masterEditCmd.Flags().StringVar(&editKey, "key", "", "Unique key of the row to correct")
	masterEditCmd.Flags().StringVar(&editInvoice, "invoice", "", "Invoice number to assign")
	masterEditCmd.Flags().StringVar(&editDiscount, "discount", "", "Discount name to assign")
	masterEditCmd.Flags().StringVar(&editNote, "note", "", "Note for the change history")
	masterEditCmd.Flags().StringVar(&editEditor, "editor", os.Getenv("USER"), "Who made the change")
	masterEditCmd.Flags().BoolVar(&editApply, "apply", false, "Apply the edit immediately")

	masterClearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "Confirm clearing the master sheet")

	masterCmd.AddCommand(masterListCmd, masterUpsertCmd, masterEditCmd, masterApplyEditsCmd, masterClearCmd)
	rootCmd.AddCommand(masterCmd)
}
