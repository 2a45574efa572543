// =============================================================================
// Class Payment Reconciler - Ingest Command
// =============================================================================
//
// COMMAND USAGE:
//   reconciler ingest                                 # every export in input_dir
//   reconciler ingest --file march.csv --ledger payments
//
// Exports are matched to a ledger by the attendance_pattern and
// payments_pattern globs of the ingest configuration. Imported files are
// moved to the archive directory unless --no-archive is given.
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/class-payment-reconciler/internal/ingest"
	"github.com/ginjaninja78/class-payment-reconciler/pkg/utils"
)

var (
	ingestFile   string
	ingestLedger string
	noArchive    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Append attendance and payment CSV exports to the workbook",
	Long: `The ingest command reads attendance and payment CSV exports, maps their
columns onto the ledger headers and appends them to the workbook. Rows that
are already in the ledger are skipped, so importing the same export twice is
harmless. Payment rows without a usable date or amount are rejected and
written to the issue log.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printTitle(out, "Import Exports")
		start := time.Now()

		eng, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		im, err := ingest.NewImporter(eng.Repositories(), cfg, logger)
		if err != nil {
			return fmt.Errorf("invalid ingest configuration: %w", err)
		}

		files := utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir)
		files.UseTimestampSubdirs = cfg.Ingest.ArchiveByDate
		if err := files.EnsureDirectories(); err != nil {
			return err
		}

		var results []*ingest.Result
		if ingestFile != "" {
			kind, err := ingest.ParseKind(ingestLedger)
			if err != nil {
				return err
			}
			results = append(results, im.ImportFile(cmd.Context(), ingestFile, kind))
		} else {
			if results, err = im.ImportDir(cmd.Context(), files, !noArchive); err != nil {
				return err
			}
		}

		if len(results) == 0 {
			fmt.Fprintln(out, "No CSV files found in the input directory.")
			return nil
		}

		var issues []utils.IssueLogEntry
		report := utils.RunReport{Title: "Class Payment Reconciler - Import", StartTime: start}
		rows := make([][]string, 0, len(results))
		failed := 0
		for _, r := range results {
			status := "ok"
			if r.Err != nil {
				status = r.Err.Error()
				failed++
				issues = append(issues, utils.IssueLogEntry{
					Timestamp: time.Now(),
					Source:    filepath.Base(r.File),
					Severity:  "error",
					Message:   r.Err.Error(),
				})
			}
			issues = append(issues, r.Issues...)
			rows = append(rows, []string{
				filepath.Base(r.File),
				string(r.Kind),
				strconv.Itoa(r.Rows),
				strconv.Itoa(r.Added),
				strconv.Itoa(r.Rejected),
				status,
			})
			report.Stats = append(report.Stats, utils.ReportLine{
				Label: filepath.Base(r.File),
				Value: fmt.Sprintf("%s: %d added, %d rejected", r.Kind, r.Added, r.Rejected),
			})
		}
		renderTable(out, []string{"File", "Ledger", "Rows", "Added", "Rejected", "Status"}, rows, 2, 3, 4)
		report.EndTime = time.Now()

		if _, err := utils.WriteSummaryLog(report, cfg.OutputDir); err != nil {
			return err
		}
		if path, err := utils.WriteIssueLog(report.Title, issues, cfg.OutputDir); err != nil {
			return err
		} else if path != "" {
			printWarn(out, "%d issue(s) logged to %s", len(issues), path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d file(s) failed to import", failed, len(results))
		}
		printOK(out, "%d file(s) imported", len(results))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "Import a single CSV file instead of scanning the input directory")
	ingestCmd.Flags().StringVar(&ingestLedger, "ledger", "attendance", "Ledger for --file: attendance or payments")
	ingestCmd.Flags().BoolVar(&noArchive, "no-archive", false, "Leave imported files in the input directory")
}
