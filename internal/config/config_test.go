package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
workbook_path: ./books/recon.xlsx
matching:
  direct_window_days: 2
sheets:
  payments: payments_2025
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "./books/recon.xlsx", cfg.WorkbookPath)
	require.Equal(t, 2, cfg.Matching.DirectWindowDays)
	require.Equal(t, 31, cfg.Matching.AllocationWindowDays)
	require.Equal(t, "payments_2025", cfg.Sheets.Payments)
	require.Equal(t, "payment_calc_detail", cfg.Sheets.Master)
	require.Equal(t, []string{"fee", "tax"}, cfg.Matching.FeeKeywords)
	require.True(t, cfg.Reconciliation.PreserveManual())
	require.Equal(t, 2, cfg.Ingest.CSV.DataStartRow)

	group := cfg.Defaults.For(types.SessionGroup)
	require.Equal(t, "43.5", group.Coach.String())
	require.Equal(t, "100", group.Sum().String())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "./data/reconciliation.xlsx", cfg.WorkbookPath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
log_level: chatty
default_percentages:
  group: {coach: 40, bgm: 40, management: 10, mfc: 5}
reconciliation:
  preserve_manual_verification: false
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "log_level")
	require.Contains(t, err.Error(), "default_percentages.group sums to 95")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RECON_WORKBOOK", "/tmp/other.xlsx")
	t.Setenv("RECON_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "workbook_path: ./ignored.xlsx\n"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/other.xlsx", cfg.WorkbookPath)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestPreserveManualCanBeDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "reconciliation:\n  preserve_manual_verification: false\n"))
	require.NoError(t, err)
	require.False(t, cfg.Reconciliation.PreserveManual())
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.InputDir = filepath.Join(root, "in")
	cfg.InputArchiveDir = filepath.Join(root, "in", "archive")
	cfg.OutputDir = filepath.Join(root, "out")

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.InputDir, cfg.InputArchiveDir, cfg.OutputDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestArchiveByDate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "ingest:\n  archive_by_date: true\n"))
	require.NoError(t, err)
	require.True(t, cfg.Ingest.ArchiveByDate)
	require.False(t, Default().Ingest.ArchiveByDate)
}
