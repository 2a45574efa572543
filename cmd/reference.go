// =============================================================================
// Class Payment Reconciler - Rules and Discounts Commands
// =============================================================================
//
// COMMAND USAGE:
//   reconciler rules list
//   reconciler rules validate
//   reconciler rules import <rules.csv>
//   reconciler discounts list
//   reconciler discounts import <discounts.csv>
//   reconciler discounts apply  [--dry-run]
//   reconciler discounts recalc [--dry-run]
//
// Imports replace the whole sheet, and only when every row passes
// validation.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/class-payment-reconciler/internal/csvparser"
	"github.com/ginjaninja78/class-payment-reconciler/internal/repository"
	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/split"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
	"github.com/ginjaninja78/class-payment-reconciler/internal/validation"
)

// =============================================================================
// RULES
// =============================================================================

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and maintain the package rules sheet",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the package rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		list, problems, err := eng.Repositories().Rules.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		rows := make([][]string, 0, len(list))
		for _, r := range list {
			p := r.Percentages
			rows = append(rows, []string{
				r.ID, r.Name, r.PackageName, string(r.SessionType),
				types.Money(split.UnitPrice(r)),
				fmt.Sprintf("%s/%s/%s/%s", p.Coach, p.Bgm, p.Management, p.Mfc),
				strconv.FormatBool(r.AllowDiscounts),
			})
		}
		renderTable(out, []string{"ID", "Rule", "Package", "Type", "Unit Price", "Coach/BGM/Mgmt/MFC %", "Discounts"}, rows, 4)
		printProblems(out, problems)
		return nil
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every rule without running a reconciliation",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		list, problems, err := eng.Repositories().Rules.List(cmd.Context())
		if err != nil {
			return err
		}
		problems = append(problems, validation.New().ValidateRules(list)...)
		out := cmd.OutOrStdout()
		if len(problems) == 0 {
			printOK(out, "%d rule(s) valid", len(list))
			return nil
		}
		printProblems(out, problems)
		return problems.Err()
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <rules.csv>",
	Short: "Replace the rules sheet with the rules in a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		staged, err := stageCSV(args[0], cfg.Sheets.Rules)
		if err != nil {
			return err
		}
		list, problems, err := staged.Rules.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if problems.HasFatal() {
			printProblems(out, problems)
			return problems.Err()
		}

		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		warnings, err := eng.Repositories().Rules.Save(cmd.Context(), list)
		printProblems(out, warnings)
		if err != nil {
			return err
		}
		printOK(out, "%d rule(s) imported", len(list))
		return nil
	},
}

// =============================================================================
// DISCOUNTS
// =============================================================================

var discountsDryRun bool

var discountsCmd = &cobra.Command{
	Use:   "discounts",
	Short: "Inspect discounts and reprice master rows",
}

var discountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured discounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		list, present, problems, err := eng.Repositories().Discounts.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !present {
			printWarn(out, "No %s sheet; memos are classified by keyword", cfg.Sheets.Discounts)
			rows := [][]string{}
			for _, k := range cfg.Discounts.FullKeywords {
				rows = append(rows, []string{k, string(types.CoachPaymentFull)})
			}
			for _, k := range cfg.Discounts.PartialKeywords {
				rows = append(rows, []string{k, string(types.CoachPaymentPartial)})
			}
			renderTable(out, []string{"Keyword", "Coach Payment"}, rows)
			return nil
		}

		rows := make([][]string, 0, len(list))
		for _, d := range list {
			rows = append(rows, []string{
				d.Code, d.DisplayName(), d.ApplicablePercentage.String(),
				string(d.CoachPaymentType), string(d.MatchType), strconv.FormatBool(d.Active),
			})
		}
		renderTable(out, []string{"Code", "Name", "%", "Coach Payment", "Match", "Active"}, rows, 2)
		printProblems(out, problems)
		return nil
	},
}

var discountsImportCmd = &cobra.Command{
	Use:   "import <discounts.csv>",
	Short: "Replace the discounts sheet with the discounts in a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		staged, err := stageCSV(args[0], cfg.Sheets.Discounts)
		if err != nil {
			return err
		}
		list, _, problems, err := staged.Discounts.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if problems.HasFatal() {
			printProblems(out, problems)
			return problems.Err()
		}

		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		warnings, err := eng.Repositories().Discounts.Save(cmd.Context(), list)
		printProblems(out, warnings)
		if err != nil {
			return err
		}
		printOK(out, "%d discount(s) imported", len(list))
		return nil
	},
}

var discountsApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Re-classify payment memos and reprice the rows whose discount changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repriceWith(cmd, "discounted", func(ctx context.Context, dry bool) (int, error) {
			eng, release, err := openEngine()
			if err != nil {
				return 0, err
			}
			defer release()
			return eng.ApplyDiscounts(ctx, dry)
		})
	},
}

var discountsRecalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recompute amounts from each row's rule and current discount",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repriceWith(cmd, "recalculated", func(ctx context.Context, dry bool) (int, error) {
			eng, release, err := openEngine()
			if err != nil {
				return 0, err
			}
			defer release()
			return eng.RecalculateDiscountedAmounts(ctx, dry)
		})
	},
}

func repriceWith(cmd *cobra.Command, verb string, run func(context.Context, bool) (int, error)) error {
	changed, err := run(cmd.Context(), discountsDryRun)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if discountsDryRun {
		printWarn(out, "Dry run: %d row(s) would be %s", changed, verb)
		return nil
	}
	printOK(out, "%d row(s) %s", changed, verb)
	return nil
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesValidateCmd, rulesImportCmd)
	rootCmd.AddCommand(rulesCmd)

	discountsCmd.PersistentFlags().BoolVar(&discountsDryRun, "dry-run", false, "Report changes without writing them")
	discountsCmd.AddCommand(discountsListCmd, discountsImportCmd, discountsApplyCmd, discountsRecalcCmd)
	rootCmd.AddCommand(discountsCmd)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// stageCSV loads a CSV file into an in-memory store under sheet, so it can be
// parsed and validated by the same repository code that reads the workbook.
func stageCSV(path, sheet string) (*repository.Set, error) {
	data, err := csvparser.ParseFile(path, cfg.Ingest.CSV)
	if err != nil {
		return nil, err
	}
	t := sheetstore.NewTable(data.Headers...)
	for _, raw := range data.Rows {
		t.Append(sheetstore.Row(raw))
	}
	mem := sheetstore.NewMemory(map[string]*sheetstore.Table{sheet: t})
	return repository.New(mem, cfg, validation.New()), nil
}

func printProblems(w io.Writer, problems validation.Errors) {
	for _, p := range problems {
		if p.Severity == validation.SeverityError {
			printFail(w, "%s", p.Error())
		} else {
			printWarn(w, "%s", p.Error())
		}
	}
}
