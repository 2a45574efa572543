// =============================================================================
// Class Payment Reconciler - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every subcommand
// shares the --config and --verbose flags, the loaded configuration and the
// logger built from it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (reconciler)
//   ├── reconcileCmd  (reconciler reconcile)
//   ├── ingestCmd     (reconciler ingest)
//   ├── rulesCmd      (reconciler rules list|import|validate)
//   ├── discountsCmd  (reconciler discounts list|import|apply|recalc)
//   ├── masterCmd     (reconciler master list|upsert|edit|apply-edits|clear)
//   ├── coachesCmd    (reconciler coaches summary|sessions)
//   ├── invoicesCmd   (reconciler invoices)
//   └── versionCmd    (reconciler version)
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/engine"
	"github.com/ginjaninja78/class-payment-reconciler/internal/logging"
	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose enables debug logging.
var verbose bool

// cfg and logger are set by PersistentPreRunE before any subcommand runs.
var (
	cfg       *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Class Payment Reconciler - match class attendance to payments and split revenue",
	Long: `Class Payment Reconciler pairs every attended class with the payment that
covers it, prices the session from the package rules, applies discounts and
splits the revenue between the coach, BGM, management and MFC.

All data lives in one workbook: the attendance and payment ledgers, the rules
and discounts sheets, and the master sheet the reconciler maintains.

Example Usage:
  reconciler ingest                            # Import CSV exports from the input directory
  reconciler reconcile                         # Reconcile everything
  reconciler reconcile --from 2024-03-01 --to 2024-03-31
  reconciler coaches summary --from 2024-03-01 # Coach payouts for a period`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return err
		}
		logger, logCloser, err = logging.New(logging.Options{
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			File:    cfg.LogFile,
			Verbose: verbose,
		})
		return err
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// openEngine opens the configured workbook, takes its process lock and
// returns an engine over it. The returned function releases the lock.
func openEngine() (*engine.Engine, func(), error) {
	wb, err := sheetstore.OpenWorkbook(cfg.WorkbookPath)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := wb.Lock()
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := unlock(); err != nil {
			logger.WithError(err).Warn("Failed to remove workbook lock")
		}
	}
	return engine.New(wb, cfg, logger), release, nil
}
