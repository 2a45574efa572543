// =============================================================================
// Class Payment Reconciler - Reconcile Command
// =============================================================================
//
// This file defines the 'reconcile' command, the main command of the tool. It
// runs one reconciliation pass over the workbook.
//
// COMMAND USAGE:
//   reconciler reconcile [flags]
//
// FLAGS:
//   --from            : First event date to recompute (YYYY-MM-DD)
//   --to              : Last event date to recompute (YYYY-MM-DD)
//   --force-reverify  : Recompute rows that were manually verified
//   --dry-run         : Run every stage but write nothing to the workbook
//
// PROCESSING PIPELINE:
//   1. Load configuration and open the workbook under its lock
//   2. Run the engine (load, match, discounts, splits, build, merge, persist)
//   3. Print the summary
//   4. Write the run summary and issue log to the output directory
//
// =============================================================================

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/class-payment-reconciler/internal/engine"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
	"github.com/ginjaninja78/class-payment-reconciler/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	fromDate      string
	toDate        string
	forceReverify bool
	dryRun        bool
)

// =============================================================================
// RECONCILE COMMAND DEFINITION
// =============================================================================

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match attendance to payments and rebuild the master sheet",
	Long: `The reconcile command pairs every attendance event with the payment that
covers it, resolves the package rule, classifies discounts and writes the
priced rows to the master sheet.

Rows are keyed by event, so running the command twice over the same data
changes nothing. Manually verified rows are left alone unless
--force-reverify is given.

The master sheet, the invoice sheet and the pending edits sheet are written
in one step; if anything fails, the workbook is left as it was.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		dr, err := types.ParseDateRange(fromDate, toDate)
		if err != nil {
			return err
		}
		return runReconcile(cmd, engine.RunOptions{
			Range:         dr,
			ForceReverify: forceReverify,
			DryRun:        dryRun,
		})
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVar(&fromDate, "from", "", "First event date to recompute (YYYY-MM-DD)")
	reconcileCmd.Flags().StringVar(&toDate, "to", "", "Last event date to recompute (YYYY-MM-DD)")
	reconcileCmd.Flags().BoolVar(&forceReverify, "force-reverify", false, "Recompute manually verified rows")
	reconcileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run without writing to the workbook")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runReconcile(cmd *cobra.Command, opts engine.RunOptions) error {
	out := cmd.OutOrStdout()
	printTitle(out, "Class Payment Reconciler")

	eng, release, err := openEngine()
	if err != nil {
		return err
	}
	defer release()

	res, err := eng.Run(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	report := res.Report()
	rows := make([][]string, 0, len(report.Stats))
	for _, s := range report.Stats {
		rows = append(rows, []string{s.Label, s.Value})
	}
	renderTable(out, []string{"Statistic", "Value"}, rows, 1)

	if res.DryRun {
		printWarn(out, "Dry run: nothing was written to %s", cfg.WorkbookPath)
	} else {
		printOK(out, "%s rows written to %s", strconv.Itoa(len(res.Rows)), cfg.WorkbookPath)
	}
	if n := len(res.Issues); n > 0 {
		printWarn(out, "%d issue(s) found", n)
	}

	if !cfg.Reconciliation.Reports() {
		return nil
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	summaryPath, err := utils.WriteSummaryLog(report, cfg.OutputDir)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, mutedStyle.Render("Summary: "+summaryPath))

	issuePath, err := utils.WriteIssueLog(report.Title, res.Issues, cfg.OutputDir)
	if err != nil {
		return err
	}
	if issuePath != "" {
		fmt.Fprintln(out, mutedStyle.Render("Issues:  "+issuePath))
	}
	return nil
}
