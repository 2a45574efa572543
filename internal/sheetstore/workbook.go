package sheetstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// defaultSheet is the sheet excelize creates in a new workbook.
const defaultSheet = "Sheet1"

// ErrLocked is returned by Lock when another process holds the workbook.
var ErrLocked = errors.New("workbook is locked by another run")

// Workbook stores tables as worksheets of a single .xlsx file.
//
// WRITE STRATEGY:
//   Every write loads the workbook, builds each replacement table in a
//   staging worksheet, swaps it in under the real name, saves the result to a
//   temporary file next to the workbook and renames it over the original.
//   A crash at any point leaves either the old file or the new file on disk,
//   never a half-cleared table.
type Workbook struct {
	path string
	mu   sync.Mutex
}

// OpenWorkbook prepares a workbook store at path. The file itself is created
// on first write; its directory is created immediately.
func OpenWorkbook(path string) (*Workbook, error) {
	if path == "" {
		return nil, fmt.Errorf("workbook path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create workbook directory: %w", err)
	}
	return &Workbook{path: path}, nil
}

// Path returns the workbook file path.
func (w *Workbook) Path() string {
	return w.path
}

// ReadTable implements Store.
func (w *Workbook) ReadTable(ctx context.Context, name string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrTableNotFound)
		}
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(name)
	if err != nil || idx == -1 {
		return nil, fmt.Errorf("%s: %w", name, ErrTableNotFound)
	}

	raw, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
	}
	return rowsToTable(raw), nil
}

// TableNames lists the worksheets in the workbook.
func (w *Workbook) TableNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// WriteTable implements Store.
func (w *Workbook) WriteTable(ctx context.Context, name string, table *Table) error {
	return w.WriteTables(ctx, map[string]*Table{name: table})
}

// WriteTables implements BatchWriter. All tables land in one file swap.
func (w *Workbook) WriteTables(ctx context.Context, tables map[string]*Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, created, err := w.load()
	if err != nil {
		return err
	}
	defer f.Close()

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := replaceSheet(f, name, tables[name]); err != nil {
			return fmt.Errorf("failed to stage sheet %s: %w", name, err)
		}
	}

	if created {
		if _, ok := tables[defaultSheet]; !ok {
			if err := f.DeleteSheet(defaultSheet); err != nil {
				return fmt.Errorf("failed to drop default sheet: %w", err)
			}
		}
	}
	f.SetActiveSheet(0)

	return w.swap(f)
}

// load opens the workbook or starts a new one.
func (w *Workbook) load() (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(w.path)
	if err == nil {
		return f, false, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), true, nil
	}
	return nil, false, fmt.Errorf("failed to open workbook: %w", err)
}

// swap saves f next to the workbook and renames it into place.
func (w *Workbook) swap(f *excelize.File) error {
	dir, base := filepath.Split(w.path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp.xlsx", base, uuid.NewString()[:8]))

	if err := f.SaveAs(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save staging workbook: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to swap workbook: %w", err)
	}
	return nil
}

// replaceSheet writes table into a staging sheet and renames it over name.
func replaceSheet(f *excelize.File, name string, table *Table) error {
	if table == nil {
		table = &Table{}
	}

	staging := stagingName(name)
	if idx, _ := f.GetSheetIndex(staging); idx != -1 {
		if err := f.DeleteSheet(staging); err != nil {
			return err
		}
	}
	if _, err := f.NewSheet(staging); err != nil {
		return err
	}

	for i, cells := range tableToRows(table) {
		if len(cells) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(cells))
		for j, c := range cells {
			values[j] = c
		}
		if err := f.SetSheetRow(staging, cell, &values); err != nil {
			return err
		}
	}

	if idx, _ := f.GetSheetIndex(name); idx != -1 {
		if err := f.DeleteSheet(name); err != nil {
			return err
		}
	}
	return f.SetSheetName(staging, name)
}

// stagingName keeps within Excel's 31 character sheet name limit.
func stagingName(name string) string {
	const suffix = "_stg"
	if len(name)+len(suffix) > 31 {
		name = name[:31-len(suffix)]
	}
	return name + suffix
}

// =============================================================================
// PROCESS LOCK
// =============================================================================

// Lock takes an exclusive lock file next to the workbook so two reconciler
// processes never write the same workbook concurrently. The returned function
// releases it.
func (w *Workbook) Lock() (func() error, error) {
	lockPath := w.path + ".lock"
	fh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", lockPath, ErrLocked)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	fmt.Fprintf(fh, "%d\n", os.Getpid())
	fh.Close()

	return func() error {
		return os.Remove(lockPath)
	}, nil
}
