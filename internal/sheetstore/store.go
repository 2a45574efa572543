// =============================================================================
// Class Payment Reconciler - Tabular Store
// =============================================================================
//
// The reconciler persists everything as "sheets": named tables whose first row
// is a header row and whose remaining rows are mapped to header -> value maps.
// This package defines that storage port and two implementations:
//
//   - Workbook: an .xlsx file, one worksheet per table (excelize)
//   - Memory:   an in-process map, used by tests and dry runs
//
// CONTRACT:
//   - ReadTable returns ErrTableNotFound when the sheet does not exist.
//   - Missing cells read back as "".
//   - WriteTable replaces the whole table. Writing a table with headers and
//     no rows is the explicit way to clear it.
//
// =============================================================================

package sheetstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTableNotFound is returned when a table has never been written.
var ErrTableNotFound = errors.New("table not found")

// Row is one data row keyed by header.
type Row map[string]string

// Table is a header row plus data rows.
type Table struct {
	Headers []string
	Rows    []Row
}

// NewTable returns an empty table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{Headers: append([]string(nil), headers...)}
}

// Append adds a row.
func (t *Table) Append(row Row) {
	t.Rows = append(t.Rows, row)
}

// Len is the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{Headers: append([]string(nil), t.Headers...), Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out
}

// Store is the capability set the engine needs from a backing store.
type Store interface {
	ReadTable(ctx context.Context, name string) (*Table, error)
	WriteTable(ctx context.Context, name string, table *Table) error
}

// BatchWriter is implemented by stores that can replace several tables in a
// single atomic step.
type BatchWriter interface {
	WriteTables(ctx context.Context, tables map[string]*Table) error
}

// WriteAll replaces every table, atomically when the store supports it.
func WriteAll(ctx context.Context, s Store, tables map[string]*Table) error {
	if bw, ok := s.(BatchWriter); ok {
		return bw.WriteTables(ctx, tables)
	}
	for name, t := range tables {
		if err := s.WriteTable(ctx, name, t); err != nil {
			return fmt.Errorf("failed to write table %s: %w", name, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS SHARED BY THE IMPLEMENTATIONS
// =============================================================================

// cleanHeaders trims header cells and names empty ones by column position.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Column_%d", i+1)
		}
		cleaned[i] = h
	}
	return cleaned
}

// rowsToTable maps raw rows to a Table. Rows with only blank cells are
// skipped.
func rowsToTable(raw [][]string) *Table {
	if len(raw) == 0 {
		return &Table{}
	}

	t := &Table{Headers: cleanHeaders(raw[0])}
	for _, cells := range raw[1:] {
		if isRowEmpty(cells) {
			continue
		}
		row := make(Row, len(t.Headers))
		for i, h := range t.Headers {
			if i < len(cells) {
				row[h] = strings.TrimSpace(cells[i])
			} else {
				row[h] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// tableToRows is the inverse of rowsToTable.
func tableToRows(t *Table) [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, append([]string(nil), t.Headers...))
	for _, r := range t.Rows {
		cells := make([]string, len(t.Headers))
		for i, h := range t.Headers {
			cells[i] = r[h]
		}
		out = append(out, cells)
	}
	return out
}

func isRowEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
