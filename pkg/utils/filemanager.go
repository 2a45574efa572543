// =============================================================================
// Class Payment Reconciler - File Manager Utility
// =============================================================================
//
// This module provides the file handling around the workbook:
//   - Discovery of CSV exports in the input directory
//   - Archival of exports once they are imported
//   - Issue logs and run summaries written to the output directory
//   - Report file naming
//
// ARCHIVAL STRATEGY:
//   - Exports are moved to input_archive after a successful import
//   - A file that already exists in the archive is not overwritten; the new
//     copy gets a short unique suffix
//   - Failed files stay where they are so they can be fixed and re-run
//
// =============================================================================

package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the commands.
type FileManager struct {
	// InputDir is where CSV exports are dropped.
	InputDir string

	// OutputDir receives issue logs and run summaries.
	OutputDir string

	// InputArchiveDir receives exports after import.
	InputArchiveDir string

	// UseTimestampSubdirs files archived exports under YYYY/MM/DD.
	UseTimestampSubdirs bool
}

// NewFileManager creates a FileManager with the specified directories.
func NewFileManager(inputDir, outputDir, inputArchiveDir string) *FileManager {
	return &FileManager{
		InputDir:        inputDir,
		OutputDir:       outputDir,
		InputArchiveDir: inputArchiveDir,
	}
}

// EnsureDirectories creates all required directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.OutputDir, fm.InputArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverInputFiles scans the input directory for files matching the pattern.
//
// PARAMETERS:
//   - pattern: A glob pattern matched case-insensitively against file names
//     (e.g. "*attendance*.csv"). If empty, defaults to "*.csv".
//
// RETURNS:
//   - Matching file paths, sorted by name.
//   - An error if the directory cannot be read. A missing directory yields
//     no files.
func (fm *FileManager) DiscoverInputFiles(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.csv"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, _ := filepath.Match(strings.ToLower(pattern), strings.ToLower(e.Name()))
		if ok {
			files = append(files, filepath.Join(fm.InputDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an imported export into the archive directory.
//
// RETURNS:
//   - The path to the archived file.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	archivePath := fm.getArchivePath(filePath)

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// Cross-device moves fall back to copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}
	return archivePath, nil
}

func (fm *FileManager) getArchivePath(filePath string) string {
	dir := fm.InputArchiveDir
	if fm.UseTimestampSubdirs {
		now := time.Now()
		dir = filepath.Join(dir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
		)
	}

	name := filepath.Base(filePath)
	path := filepath.Join(dir, name)
	if FileExists(path) {
		ext := filepath.Ext(name)
		path = filepath.Join(dir, fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), uuid.NewString()[:8], ext))
	}
	return path
}

// =============================================================================
// REPORT FILE NAMING
// =============================================================================

// GenerateReportFileName returns "<prefix>_<YYYYMMDD_HHMMSS>_<id>.<ext>",
// where id is the first eight characters of a random UUID.
func GenerateReportFileName(prefix, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s",
		prefix,
		time.Now().Format("20060102_150405"),
		uuid.NewString()[:8],
		strings.TrimPrefix(ext, "."))
}

// =============================================================================
// ISSUE LOG GENERATION
// =============================================================================

// IssueLogEntry is one problem found while importing or reconciling.
type IssueLogEntry struct {
	Timestamp time.Time
	Source    string
	Row       int
	Severity  string
	Field     string
	Value     string
	Message   string
}

// WriteIssueLog writes issue entries to a text file in outputDir. Nothing is
// written when there are no entries.
//
// RETURNS:
//   - The path to the log file, or "" when there was nothing to write.
//   - An error if writing fails.
func WriteIssueLog(title string, entries []IssueLogEntry, outputDir string) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	logPath := filepath.Join(outputDir, GenerateReportFileName("issues", "txt"))
	file, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("failed to create issue log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	fmt.Fprintf(writer, "%s - Issue Log\nGenerated: %s\nTotal Issues: %d\n%s\n\n",
		title, time.Now().Format("2006-01-02 15:04:05"), len(entries), rule)

	for i, entry := range entries {
		fmt.Fprintf(writer, "Issue #%d\n", i+1)
		fmt.Fprintf(writer, "  Timestamp:  %s\n", entry.Timestamp.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(writer, "  Source:     %s\n", entry.Source)
		if entry.Severity != "" {
			fmt.Fprintf(writer, "  Severity:   %s\n", entry.Severity)
		}
		fmt.Fprintf(writer, "  Message:    %s\n", entry.Message)
		if entry.Row > 0 {
			fmt.Fprintf(writer, "  Row Number: %d\n", entry.Row)
		}
		if entry.Field != "" {
			fmt.Fprintf(writer, "  Field:      %s\n", entry.Field)
		}
		if entry.Value != "" {
			fmt.Fprintf(writer, "  Value:      %s\n", entry.Value)
		}
		writer.WriteString("\n")
	}
	writer.WriteString(rule + "\nEnd of Issue Log\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush issue log: %w", err)
	}
	return logPath, nil
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// RunReport is the printable summary of one command run.
type RunReport struct {
	Title     string
	RunID     string
	StartTime time.Time
	EndTime   time.Time

	// Stats are label/value pairs printed in order.
	Stats []ReportLine

	// Notes are free-form lines printed after the statistics.
	Notes []string
}

// ReportLine is one statistic.
type ReportLine struct {
	Label string
	Value string
}

// WriteSummaryLog writes a run summary to a text file in outputDir.
func WriteSummaryLog(report RunReport, outputDir string) (string, error) {
	summaryPath := filepath.Join(outputDir, GenerateReportFileName("run_summary", "txt"))
	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	fmt.Fprintf(writer, "%s - Run Summary\n%s\n\n", report.Title, rule)
	writer.WriteString("Run Information:\n")
	if report.RunID != "" {
		fmt.Fprintf(writer, "  Run ID:     %s\n", report.RunID)
	}
	fmt.Fprintf(writer, "  Start Time: %s\n", report.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(writer, "  End Time:   %s\n", report.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(writer, "  Duration:   %s\n\n", report.EndTime.Sub(report.StartTime).String())

	if len(report.Stats) > 0 {
		width := 0
		for _, s := range report.Stats {
			if len(s.Label) > width {
				width = len(s.Label)
			}
		}
		writer.WriteString("Statistics:\n")
		for _, s := range report.Stats {
			fmt.Fprintf(writer, "  %-*s  %s\n", width+1, s.Label+":", s.Value)
		}
		writer.WriteString("\n")
	}

	if len(report.Notes) > 0 {
		writer.WriteString("Notes:\n" + strings.Repeat("-", 80) + "\n")
		for _, n := range report.Notes {
			fmt.Fprintf(writer, "  %s\n", n)
		}
		writer.WriteString("\n")
	}

	writer.WriteString(rule + "\nEnd of Summary\n")
	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return summaryPath, nil
}

var rule = strings.Repeat("=", 80)

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
