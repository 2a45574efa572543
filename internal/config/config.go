// =============================================================================
// Class Payment Reconciler - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing the application
// configuration: where the workbook lives, which sheet holds which table, the
// matching windows, the discount keyword fallbacks, the house split
// percentages and the CSV ingestion mappings.
//
// CONFIGURATION SOURCES (later sources win):
//   1. Built-in defaults (applyDefaults)
//   2. The YAML file passed with --config (config.yaml)
//   3. A .env file in the working directory, if present
//   4. RECON_* environment variables
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the global application configuration.
type Config struct {
	// =========================================================================
	// STORAGE SETTINGS
	// =========================================================================

	// WorkbookPath is the .xlsx file that holds every table.
	// Default: "./data/reconciliation.xlsx"
	WorkbookPath string `yaml:"workbook_path"`

	// Sheets maps each logical table to its worksheet name.
	Sheets SheetNames `yaml:"sheets"`

	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned by the ingest command for attendance and payment
	// CSV exports.
	// Default: "./input"
	InputDir string `yaml:"input_dir"`

	// InputArchiveDir receives CSV files after a successful import.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir"`

	// OutputDir receives run summaries and issue logs.
	// Default: "./output"
	OutputDir string `yaml:"output_dir"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is an optional file to append logs to. Empty means stderr.
	LogFile string `yaml:"log_file"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json".
	// Default: "text"
	LogFormat string `yaml:"log_format"`

	// =========================================================================
	// RECONCILIATION SETTINGS
	// =========================================================================

	Matching       MatchingConfig       `yaml:"matching"`
	Discounts      DiscountConfig       `yaml:"discounts"`
	Defaults       DefaultSplits        `yaml:"default_percentages"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`

	// =========================================================================
	// INGESTION SETTINGS
	// =========================================================================

	Ingest IngestConfig `yaml:"ingest"`
}

// SheetNames are the worksheet names of each table.
type SheetNames struct {
	Attendance   string `yaml:"attendance"`
	Payments     string `yaml:"payments"`
	Rules        string `yaml:"rules"`
	Discounts    string `yaml:"discounts"`
	Master       string `yaml:"master"`
	Invoices     string `yaml:"invoices"`
	PendingEdits string `yaml:"pending_edits"`
}

// MatchingConfig tunes the attendance -> payment matcher.
type MatchingConfig struct {
	// DirectWindowDays is the +/- day window tried after a same-day match
	// fails.
	// Default: 3
	DirectWindowDays int `yaml:"direct_window_days"`

	// AllocationWindowDays bounds how far a payment may be shared across a
	// customer's later or earlier sessions.
	// Default: 31
	AllocationWindowDays int `yaml:"allocation_window_days"`

	// FuzzyNameThreshold is the minimum name similarity (0..1) for a fuzzy
	// customer match. Set to 1 to disable fuzzy matching.
	// Default: 0.85
	FuzzyNameThreshold float64 `yaml:"fuzzy_name_threshold"`

	// FeeKeywords mark payment lines that are fees or tax, never revenue.
	// Default: ["fee", "tax"]
	FeeKeywords []string `yaml:"fee_keywords"`
}

// DiscountConfig holds the keyword fallback used when no discount sheet
// exists.
type DiscountConfig struct {
	// FullKeywords classify a memo as a full (coach still paid) discount.
	// Default: ["freedom pass", "loyalty scheme"]
	FullKeywords []string `yaml:"full_keywords"`

	// PartialKeywords classify a memo as a partial discount.
	// Default: ["discount"]
	PartialKeywords []string `yaml:"partial_keywords"`
}

// SplitPercent is one configured four-way split, in percent.
type SplitPercent struct {
	Coach      float64 `yaml:"coach"`
	Bgm        float64 `yaml:"bgm"`
	Management float64 `yaml:"management"`
	Mfc        float64 `yaml:"mfc"`
}

// Percentages converts to the decimal form used by the calculators.
func (s SplitPercent) Percentages() types.Percentages {
	return types.Percentages{
		Coach:      decimal.NewFromFloat(s.Coach),
		Bgm:        decimal.NewFromFloat(s.Bgm),
		Management: decimal.NewFromFloat(s.Management),
		Mfc:        decimal.NewFromFloat(s.Mfc),
	}
}

func (s SplitPercent) isZero() bool {
	return s.Coach == 0 && s.Bgm == 0 && s.Management == 0 && s.Mfc == 0
}

// DefaultSplits are the house percentages per session type.
type DefaultSplits struct {
	Group   SplitPercent `yaml:"group"`
	Private SplitPercent `yaml:"private"`
}

// For returns the defaults for a session type.
func (d DefaultSplits) For(st types.SessionType) types.Percentages {
	if st == types.SessionPrivate {
		return d.Private.Percentages()
	}
	return d.Group.Percentages()
}

// ReconciliationConfig controls how a run treats existing master data.
type ReconciliationConfig struct {
	// PreserveManualVerification keeps rows that are already "Manually
	// verified" out of recomputation unless --force-reverify is given.
	// Default: true
	PreserveManualVerification *bool `yaml:"preserve_manual_verification"`

	// WriteReports writes a summary and an issue log to OutputDir after each
	// run.
	// Default: true
	WriteReports *bool `yaml:"write_reports"`
}

// PreserveManual dereferences PreserveManualVerification.
func (r ReconciliationConfig) PreserveManual() bool {
	return r.PreserveManualVerification == nil || *r.PreserveManualVerification
}

// Reports dereferences WriteReports.
func (r ReconciliationConfig) Reports() bool {
	return r.WriteReports == nil || *r.WriteReports
}

// =============================================================================
// INGESTION SETTINGS
// =============================================================================

// IngestConfig describes how raw CSV exports become sheet rows.
type IngestConfig struct {
	// CSV holds the reader settings shared by both exports.
	CSV CSVSettings `yaml:"csv"`

	// AttendancePattern and PaymentsPattern are glob patterns matched against
	// file names in InputDir.
	// Defaults: "*attendance*.csv", "*payment*.csv"
	AttendancePattern string `yaml:"attendance_pattern"`
	PaymentsPattern   string `yaml:"payments_pattern"`

	// ArchiveByDate files archived exports under YYYY/MM/DD of the import day.
	// Default: false
	ArchiveByDate bool `yaml:"archive_by_date"`

	// AttendanceColumns and PaymentColumns map source headers onto the
	// canonical sheet headers, with optional value transformations.
	AttendanceColumns []ColumnMapping `yaml:"attendance_columns"`
	PaymentColumns    []ColumnMapping `yaml:"payment_columns"`
}

// CSVSettings contains settings for parsing CSV files.
type CSVSettings struct {
	// Delimiter is the field separator: ",", ";", "|" or "tab".
	// Default: ","
	Delimiter string `yaml:"delimiter"`

	// Encoding of the export: "utf-8", "windows-1252" or "iso-8859-1". A
	// byte order mark in the file always wins.
	// Default: "utf-8"
	Encoding string `yaml:"encoding"`

	// HeaderRows is the number of header rows. Multi-row headers are merged.
	// Default: 1
	HeaderRows int `yaml:"header_rows"`

	// DataStartRow is the 1-based row where data begins.
	// Default: HeaderRows + 1
	DataStartRow int `yaml:"data_start_row"`
}

// ColumnMapping maps one canonical column.
type ColumnMapping struct {
	// Target is the canonical sheet header, e.g. "Customer".
	Target string `yaml:"target"`

	// Sources are the accepted source headers, matched case-insensitively.
	// The first one present in the file wins.
	Sources []string `yaml:"sources"`

	// Actions are applied to the value in order.
	Actions []TransformAction `yaml:"actions"`
}

// TransformAction is a single value transformation.
//
// Supported types:
//   - "trim", "uppercase", "lowercase", "title"
//   - "replace"        : replace Find with Value
//   - "regex_replace"  : replace pattern Find with Value
//   - "format_date"    : reformat a parseable date using layout Value
//   - "format_amount"  : normalise a money cell to two decimals
//   - "default"        : use Value when the cell is empty
//   - "lookup"         : map through LookupTable
type TransformAction struct {
	Type        string            `yaml:"type"`
	Value       string            `yaml:"value"`
	Find        string            `yaml:"find,omitempty"`
	LookupTable map[string]string `yaml:"lookup_table,omitempty"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// Load loads the configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the configuration file. A missing file is not
//     an error; defaults and environment overrides still apply.
//
// RETURNS:
//   - A pointer to the Config struct.
//   - An error if the file cannot be parsed or the result is invalid.
func Load(configPath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// A missing .env file is the normal case.
	_ = godotenv.Load()
	applyEnv(&cfg)

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// directories created. Used by tests and dry runs.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyEnv copies RECON_* environment variables over file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RECON_WORKBOOK"); v != "" {
		cfg.WorkbookPath = v
	}
	if v := os.Getenv("RECON_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RECON_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("RECON_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("RECON_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("RECON_DIRECT_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.DirectWindowDays = n
		}
	}
}

// applyDefaults sets default values for any unset configuration options.
func applyDefaults(cfg *Config) {
	if cfg.WorkbookPath == "" {
		cfg.WorkbookPath = "./data/reconciliation.xlsx"
	}
	if cfg.InputDir == "" {
		cfg.InputDir = "./input"
	}
	if cfg.InputArchiveDir == "" {
		cfg.InputArchiveDir = "./input_archive"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./output"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	s := &cfg.Sheets
	if s.Attendance == "" {
		s.Attendance = "attendance"
	}
	if s.Payments == "" {
		s.Payments = "Payments"
	}
	if s.Rules == "" {
		s.Rules = "rules"
	}
	if s.Discounts == "" {
		s.Discounts = "discounts"
	}
	if s.Master == "" {
		s.Master = "payment_calc_detail"
	}
	if s.Invoices == "" {
		s.Invoices = "Inv_Verification"
	}
	if s.PendingEdits == "" {
		s.PendingEdits = "pending_edits"
	}

	m := &cfg.Matching
	if m.DirectWindowDays == 0 {
		m.DirectWindowDays = 3
	}
	if m.AllocationWindowDays == 0 {
		m.AllocationWindowDays = 31
	}
	if m.FuzzyNameThreshold == 0 {
		m.FuzzyNameThreshold = 0.85
	}
	if len(m.FeeKeywords) == 0 {
		m.FeeKeywords = []string{"fee", "tax"}
	}

	if len(cfg.Discounts.FullKeywords) == 0 {
		cfg.Discounts.FullKeywords = []string{"freedom pass", "loyalty scheme"}
	}
	if len(cfg.Discounts.PartialKeywords) == 0 {
		cfg.Discounts.PartialKeywords = []string{"discount"}
	}

	if cfg.Defaults.Group.isZero() {
		cfg.Defaults.Group = SplitPercent{Coach: 43.5, Bgm: 30, Management: 8.5, Mfc: 18}
	}
	if cfg.Defaults.Private.isZero() {
		cfg.Defaults.Private = SplitPercent{Coach: 80, Bgm: 15, Management: 0, Mfc: 5}
	}

	in := &cfg.Ingest
	if in.CSV.Delimiter == "" {
		in.CSV.Delimiter = ","
	}
	if in.CSV.HeaderRows == 0 {
		in.CSV.HeaderRows = 1
	}
	if in.CSV.DataStartRow == 0 {
		in.CSV.DataStartRow = in.CSV.HeaderRows + 1
	}
	if in.AttendancePattern == "" {
		in.AttendancePattern = "*attendance*.csv"
	}
	if in.PaymentsPattern == "" {
		in.PaymentsPattern = "*payment*.csv"
	}
}

// validate checks value ranges. Directories are created by EnsureDirectories,
// not here, so loading a config has no side effects.
func validate(cfg *Config) error {
	var problems []string

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", cfg.LogLevel))
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q is not text or json", cfg.LogFormat))
	}

	if cfg.Matching.DirectWindowDays < 0 {
		problems = append(problems, "matching.direct_window_days must not be negative")
	}
	if cfg.Matching.AllocationWindowDays < cfg.Matching.DirectWindowDays {
		problems = append(problems, "matching.allocation_window_days must be at least direct_window_days")
	}
	if t := cfg.Matching.FuzzyNameThreshold; t <= 0 || t > 1 {
		problems = append(problems, "matching.fuzzy_name_threshold must be in (0, 1]")
	}

	for name, split := range map[string]SplitPercent{"group": cfg.Defaults.Group, "private": cfg.Defaults.Private} {
		sum := split.Percentages().Sum()
		if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.RequireFromString("0.01")) {
			problems = append(problems, fmt.Sprintf("default_percentages.%s sums to %s, not 100", name, sum.String()))
		}
	}

	if cfg.Ingest.CSV.DataStartRow <= cfg.Ingest.CSV.HeaderRows {
		problems = append(problems, "ingest.csv.data_start_row must come after the header rows")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// EnsureDirectories creates the directories the commands write into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.InputDir, c.InputArchiveDir, c.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
