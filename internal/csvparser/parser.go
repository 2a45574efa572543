// =============================================================================
// Class Payment Reconciler - CSV Parser Module
// =============================================================================
//
// This module parses the attendance and payment exports dropped into the
// input directory. Booking systems and accounting packages disagree on almost
// everything, so the reader handles:
//   - Different delimiters (comma, semicolon, pipe, tab)
//   - Multi-row headers, merged column by column
//   - Preamble rows before the data (DataStartRow)
//   - UTF-8 with or without a byte order mark, and Windows-1252 / Latin-1
//     exports from older spreadsheet tools
//   - Ragged rows and sloppy quoting
//
// The result is a header -> value map per row; column mapping onto the
// canonical sheet headers happens in the ingest package.
//
// =============================================================================

package csvparser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
)

// ErrEmptyFile is returned for a file with no rows at all.
var ErrEmptyFile = errors.New("CSV file is empty")

// =============================================================================
// CSV DATA STRUCTURE
// =============================================================================

// Data represents a parsed CSV export.
type Data struct {
	// Headers are the merged, cleaned column headers.
	Headers []string

	// Rows are the data rows as header -> value maps.
	Rows []map[string]string

	// SourceFile is the path or name the data came from.
	SourceFile string
}

// RowCount is the number of data rows.
func (d *Data) RowCount() int {
	return len(d.Rows)
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// ParseFile opens and parses a CSV export.
//
// PARAMETERS:
//   - filePath: The path to the CSV file.
//   - settings: Reader settings from the ingest configuration.
//
// RETURNS:
//   - The parsed data.
//   - An error if the file cannot be opened or parsed.
func ParseFile(filePath string, settings config.CSVSettings) (*Data, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Parse(file, filePath, settings)
}

// Parse reads CSV from r.
//
// PARSING PROCESS:
//  1. Decode the byte stream to UTF-8 (BOM aware)
//  2. Configure the CSV reader with the delimiter
//  3. Merge the header rows into one header per column
//  4. Map each data row, from DataStartRow on, to header -> value
func Parse(r io.Reader, name string, settings config.CSVSettings) (*Data, error) {
	decoded, err := decode(r, settings.Encoding)
	if err != nil {
		return nil, err
	}

	csvReader := csv.NewReader(bufio.NewReader(decoded))
	configureReader(csvReader, settings)

	allRows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV %s: %w", name, err)
	}
	if len(allRows) == 0 {
		return nil, ErrEmptyFile
	}

	headers, err := extractHeaders(allRows, settings.HeaderRows)
	if err != nil {
		return nil, fmt.Errorf("failed to extract headers from %s: %w", name, err)
	}

	return &Data{
		Headers:    headers,
		Rows:       extractDataRows(allRows, headers, settings),
		SourceFile: name,
	}, nil
}

// decode wraps r so the CSV reader always sees UTF-8. A UTF-8 or UTF-16 byte
// order mark overrides the configured encoding.
func decode(r io.Reader, name string) (io.Reader, error) {
	var fallback encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		fallback = unicode.UTF8
	case "windows-1252", "cp1252":
		fallback = charmap.Windows1252
	case "iso-8859-1", "latin1", "latin-1":
		fallback = charmap.ISO8859_1
	case "iso-8859-15", "latin9":
		fallback = charmap.ISO8859_15
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return transform.NewReader(r, unicode.BOMOverride(fallback.NewDecoder())), nil
}

// configureReader applies the delimiter and relaxes the strictness of the
// standard reader.
func configureReader(reader *csv.Reader, settings config.CSVSettings) {
	switch settings.Delimiter {
	case "\\t", "tab", "TAB":
		reader.Comma = '\t'
	case "|", "pipe", "PIPE":
		reader.Comma = '|'
	case ";", "semicolon":
		reader.Comma = ';'
	default:
		if len(settings.Delimiter) > 0 {
			reader.Comma = rune(settings.Delimiter[0])
		} else {
			reader.Comma = ','
		}
	}

	// Exports are frequently ragged and loosely quoted.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
}

// extractHeaders merges the first headerRows rows column by column.
//
// Example with two header rows:
//
//	Row 1: "Event", "",      "Booking", ""
//	Row 2: "Date",  "Venue", "Method",  "Source"
//	Result: "Event Date", "Venue", "Booking Method", "Source"
func extractHeaders(allRows [][]string, headerRows int) ([]string, error) {
	if headerRows <= 0 {
		return nil, fmt.Errorf("header_rows must be at least 1")
	}
	if len(allRows) < headerRows {
		return nil, fmt.Errorf("file has fewer rows than header_rows setting")
	}
	if headerRows == 1 {
		return cleanHeaders(allRows[0]), nil
	}

	maxCols := 0
	for i := 0; i < headerRows; i++ {
		if len(allRows[i]) > maxCols {
			maxCols = len(allRows[i])
		}
	}

	headers := make([]string, maxCols)
	for col := 0; col < maxCols; col++ {
		var parts []string
		for row := 0; row < headerRows; row++ {
			if col < len(allRows[row]) {
				if value := strings.TrimSpace(allRows[row][col]); value != "" {
					parts = append(parts, value)
				}
			}
		}
		headers[col] = strings.Join(parts, " ")
	}
	return cleanHeaders(headers), nil
}

// cleanHeaders trims headers, strips a stray BOM and names empty or repeated
// columns so no value is silently overwritten.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}
		if n := seen[header]; n > 0 {
			seen[header] = n + 1
			header = fmt.Sprintf("%s_%d", header, n+1)
		} else {
			seen[header] = 1
		}
		cleaned[i] = header
	}
	return cleaned
}

// extractDataRows maps rows from DataStartRow on. Blank rows are skipped and
// missing trailing cells read as "".
func extractDataRows(allRows [][]string, headers []string, settings config.CSVSettings) []map[string]string {
	startIndex := settings.DataStartRow - 1
	if startIndex < settings.HeaderRows {
		startIndex = settings.HeaderRows
	}
	if startIndex >= len(allRows) {
		return []map[string]string{}
	}

	dataRows := make([]map[string]string, 0, len(allRows)-startIndex)
	for _, row := range allRows[startIndex:] {
		if isRowEmpty(row) {
			continue
		}
		rowMap := make(map[string]string, len(headers))
		for colIndex, header := range headers {
			if colIndex < len(row) {
				rowMap[header] = strings.TrimSpace(row[colIndex])
			} else {
				rowMap[header] = ""
			}
		}
		dataRows = append(dataRows, rowMap)
	}
	return dataRows
}

func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
