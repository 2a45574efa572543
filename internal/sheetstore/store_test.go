package sheetstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkbookRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "recon.xlsx")
	wb, err := OpenWorkbook(path)
	require.NoError(t, err)

	_, err = wb.ReadTable(ctx, "Payments")
	require.ErrorIs(t, err, ErrTableNotFound)

	payments := NewTable("Date", "Customer", "Memo", "Amount", "Invoice")
	payments.Append(Row{"Date": "2025-05-01", "Customer": "A", "Amount": "112.20", "Invoice": "INV-1"})
	payments.Append(Row{"Date": "2025-05-02", "Customer": "B", "Memo": "Drop in", "Amount": "12"})
	require.NoError(t, wb.WriteTable(ctx, "Payments", payments))

	got, err := wb.ReadTable(ctx, "Payments")
	require.NoError(t, err)
	require.Equal(t, payments.Headers, got.Headers)
	require.Len(t, got.Rows, 2)
	require.Equal(t, "", got.Rows[0]["Memo"])
	require.Equal(t, "112.20", got.Rows[0]["Amount"])
	require.Equal(t, "", got.Rows[1]["Invoice"])

	names, err := wb.TableNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Payments"}, names)
}

func TestWorkbookReplaceKeepsOtherSheets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recon.xlsx")
	wb, err := OpenWorkbook(path)
	require.NoError(t, err)

	rules := NewTable("id", "rule_name")
	rules.Append(Row{"id": "1", "rule_name": "Adult 10 Pack"})
	master := NewTable("UniqueKey")
	master.Append(Row{"UniqueKey": "K"})
	require.NoError(t, wb.WriteTables(ctx, map[string]*Table{"rules": rules, "payment_calc_detail": master}))

	// Clearing is an explicit write of headers only.
	require.NoError(t, wb.WriteTable(ctx, "payment_calc_detail", NewTable("UniqueKey")))

	cleared, err := wb.ReadTable(ctx, "payment_calc_detail")
	require.NoError(t, err)
	require.Equal(t, 0, cleared.Len())

	kept, err := wb.ReadTable(ctx, "rules")
	require.NoError(t, err)
	require.Equal(t, 1, kept.Len())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging files must not be left behind")
}

func TestWorkbookLock(t *testing.T) {
	t.Parallel()

	wb, err := OpenWorkbook(filepath.Join(t.TempDir(), "recon.xlsx"))
	require.NoError(t, err)

	unlock, err := wb.Lock()
	require.NoError(t, err)

	_, err = wb.Lock()
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())
	unlock, err = wb.Lock()
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestRowsToTableSkipsBlankRowsAndNamesHeaders(t *testing.T) {
	t.Parallel()

	tbl := rowsToTable([][]string{
		{"Customer", "", "Amount"},
		{"A", "x"},
		{"", " ", ""},
		{"B", "", "5"},
	})
	require.Equal(t, []string{"Customer", "Column_2", "Amount"}, tbl.Headers)
	require.Len(t, tbl.Rows, 2)
	require.Equal(t, "", tbl.Rows[0]["Amount"])
	require.Equal(t, "5", tbl.Rows[1]["Amount"])
}

func TestMemoryCopiesAndFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(nil)
	tbl := NewTable("A")
	tbl.Append(Row{"A": "1"})
	require.NoError(t, m.WriteTable(ctx, "t", tbl))

	tbl.Rows[0]["A"] = "changed"
	got, err := m.ReadTable(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, "1", got.Rows[0]["A"])

	boom := errors.New("disk full")
	m.FailWrites = boom
	require.ErrorIs(t, WriteAll(ctx, m, map[string]*Table{"t": NewTable("A")}), boom)

	got, err = m.ReadTable(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
}
