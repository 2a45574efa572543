package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/logging"
	"github.com/ginjaninja78/class-payment-reconciler/internal/repository"
	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/validation"
	"github.com/ginjaninja78/class-payment-reconciler/pkg/utils"
)

func TestMapperTransformations(t *testing.T) {
	t.Parallel()

	m, err := NewMapper([]config.ColumnMapping{
		{Target: "Customer", Sources: []string{"Client Name"}, Actions: []config.TransformAction{{Type: "trim"}, {Type: "title"}}},
		{Target: "Amount", Sources: []string{"Gross"}, Actions: []config.TransformAction{{Type: "format_amount"}}},
		{Target: "Date", Sources: []string{"Paid"}, Actions: []config.TransformAction{{Type: "format_date", Value: "2006-01-02"}}},
		{Target: "Memo", Sources: []string{"Item"}, Actions: []config.TransformAction{
			{Type: "regex_replace", Find: `\s+`, Value: " "},
			{Type: "lookup", LookupTable: map[string]string{"10 pk": "10 Pack"}},
		}},
		{Target: "Invoice", Actions: []config.TransformAction{{Type: "default", Value: "UNKNOWN"}}},
	})
	require.NoError(t, err)

	row, err := m.MapRow(map[string]string{
		"client name": "  ann BYRNE ",
		"Gross":       "€1,120.5",
		"Paid":        "15/01/2024",
		"Item":        "10   pk",
		"Extra":       "kept",
	})
	require.NoError(t, err)
	require.Equal(t, "Ann Byrne", row["Customer"])
	require.Equal(t, "1120.50", row["Amount"])
	require.Equal(t, "2024-01-15", row["Date"])
	require.Equal(t, "10 Pack", row["Memo"])
	require.Equal(t, "UNKNOWN", row["Invoice"])
	require.Equal(t, "kept", row["Extra"])
	require.NotContains(t, row, "Gross")

	_, err = m.MapRow(map[string]string{"Gross": "lots"})
	require.Error(t, err)

	_, err = NewMapper([]config.ColumnMapping{{Target: "X", Actions: []config.TransformAction{{Type: "regex_replace", Find: "("}}}})
	require.Error(t, err)
}

func TestImportDirAppendsAndArchives(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	cfg := config.Default()
	fm := utils.NewFileManager(filepath.Join(root, "in"), filepath.Join(root, "out"), filepath.Join(root, "archive"))
	require.NoError(t, fm.EnsureDirectories())

	att := "Customer,Event Starts At,Membership Name,Instructors\n" +
		"Ann,2024-01-01 10:00,Adult 10 Pack,Sam\n" +
		"Ann,2024-01-01 10:00,Adult 10 Pack,Sam\n" +
		",2024-01-02 10:00,Adult 10 Pack,Sam\n"
	pay := "Date,Customer,Memo,Amount,Invoice\n" +
		"2024-01-01,Ann,Adult 10 Pack,112.20,INV-1\n" +
		"someday,Ann,Adult 10 Pack,112.20,INV-2\n"
	require.NoError(t, os.WriteFile(filepath.Join(fm.InputDir, "attendance_jan.csv"), []byte(att), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fm.InputDir, "payments_jan.csv"), []byte(pay), 0o644))

	mem := sheetstore.NewMemory(nil)
	repos := repository.New(mem, cfg, validation.New())
	im, err := NewImporter(repos, cfg, logging.Discard())
	require.NoError(t, err)

	results, err := im.ImportDir(ctx, fm, true)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	require.Equal(t, KindAttendance, results[0].Kind)
	require.Equal(t, 1, results[0].Added)
	require.Equal(t, 1, results[0].Rejected)
	require.NotEmpty(t, results[0].ArchivedTo)

	require.NoError(t, results[1].Err)
	require.Equal(t, 1, results[1].Added)
	require.Equal(t, 1, results[1].Rejected)
	require.Equal(t, 2, results[1].Issues[0].Row)

	records, err := repos.Attendance.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, records[0].DateErr)

	files, err := fm.DiscoverInputFiles("*.csv")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := ParseKind("payment")
	require.NoError(t, err)
	require.Equal(t, KindPayments, k)
	_, err = ParseKind("refunds")
	require.Error(t, err)
}
