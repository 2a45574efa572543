package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/logging"
	"github.com/ginjaninja78/class-payment-reconciler/internal/repository"
	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

const (
	maryFirst  = "2024_03_04_Mary_Jones_Adult_10_Pack_Sam_Checked_In_Adult_Group"
	marySecond = maryFirst + "_2"
	zedKey     = "2024_03_06_Zed_Unknown_Mystery_Pack_Sam_Checked_In_Adult_Group"
)

var runAt = time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)

func attendance(customer, startsAt, offering, instructors, membership string) sheetstore.Row {
	return sheetstore.Row{
		repository.AttCustomer:      customer,
		repository.AttEventStartsAt: startsAt,
		repository.AttOfferingType:  offering,
		repository.AttInstructors:   instructors,
		repository.AttMembership:    membership,
		repository.AttStatus:        "Checked In",
	}
}

func payment(date, customer, memo, amount, invoice string) sheetstore.Row {
	return sheetstore.Row{
		repository.PayDate:     date,
		repository.PayCustomer: customer,
		repository.PayMemo:     memo,
		repository.PayAmount:   amount,
		repository.PayInvoice:  invoice,
	}
}

// seed is a small studio month: a 50.00 payment covering two of Mary's
// classes, a private lesson with a booking fee, a membership no rule knows,
// a Freedom Pass, and a payment nobody attended against.
func seed() map[string]*sheetstore.Table {
	return map[string]*sheetstore.Table{
		"attendance": {
			Headers: repository.AttendanceHeaders,
			Rows: []sheetstore.Row{
				attendance("Mary Jones", "2024-03-04 18:00", "Adult Group", "Sam", "Adult 10 Pack"),
				attendance("Mary Jones", "2024-03-04 19:00", "Adult Group", "Sam", "Adult 10 Pack"),
				attendance("Tom Brown", "2024-03-05 18:00", "Private 1-1", "Alex", "Private Lesson"),
				attendance("Zed Unknown", "2024-03-06 18:00", "Adult Group", "Sam", "Mystery Pack"),
				attendance("Ann Lee", "2024-03-07 18:00", "Adult Group", "Sam, Alex", "Adult 10 Pack"),
			},
		},
		"Payments": {
			Headers: repository.PaymentHeaders,
			Rows: []sheetstore.Row{
				payment("2024-03-04", "Mary Jones", "Adult 10 Pack", "50.00", "INV-1"),
				payment("2024-03-05", "Tom Brown", "Private Lesson", "40.00", "INV-2"),
				payment("2024-03-05", "Tom Brown", "Booking fee", "2.00", "INV-2"),
				payment("2024-03-07", "Ann Lee", "Freedom Pass", "11.22", "INV-3"),
				payment("2024-03-20", "Nobody", "Adult 10 Pack", "10.00", "INV-4"),
			},
		},
		"rules": {
			Headers: repository.RuleHeaders,
			Rows: []sheetstore.Row{
				{"id": "R1", "rule_name": "Adult 10 Pack", "package_name": "Adult 10 Pack", "session_type": "group", "price": "112.20", "sessions": "10"},
				{
					"id": "R2", "rule_name": "Private Lesson", "package_name": "Private Lesson", "session_type": "private", "unit_price": "40",
					"coach_percentage": "80", "bgm_percentage": "15", "management_percentage": "0", "mfc_percentage": "5",
				},
			},
		},
	}
}

func newEngine(t *testing.T) (*Engine, *sheetstore.Memory) {
	t.Helper()
	mem := sheetstore.NewMemory(seed())
	e := New(mem, config.Default(), logging.Discard())
	e.SetClock(func() time.Time { return runAt })
	return e, mem
}

func rowByKey(t *testing.T, rows []types.MasterRow, key string) types.MasterRow {
	t.Helper()
	for _, r := range rows {
		if r.UniqueKey == key {
			return r
		}
	}
	t.Fatalf("no row with key %q", key)
	return types.MasterRow{}
}

func rowByCustomer(t *testing.T, rows []types.MasterRow, customer string) types.MasterRow {
	t.Helper()
	for _, r := range rows {
		if r.Customer == customer {
			return r
		}
	}
	t.Fatalf("no row for %q", customer)
	return types.MasterRow{}
}

func TestRunReconcilesMonth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newEngine(t)

	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 5)

	// One payment shared across two same-day classes, never spent twice.
	first := rowByKey(t, res.Rows, maryFirst)
	second := rowByKey(t, res.Rows, marySecond)
	for _, r := range []types.MasterRow{first, second} {
		require.Equal(t, types.StatusVerified, r.VerificationStatus)
		require.Equal(t, types.MatchAllocated, r.MatchMethod)
		require.Equal(t, "INV-1", r.InvoiceNumber)
		require.Equal(t, "25.00", types.Money(r.PaymentAmount))
		require.Equal(t, "11.22", types.Money(r.EffectiveAmount))
		require.Equal(t, "4.88", types.Money(r.CoachAmount))
		require.Equal(t, "3.37", types.Money(r.BgmAmount))
		require.Equal(t, "0.95", types.Money(r.ManagementAmount))
		require.Equal(t, "2.02", types.Money(r.MfcAmount))
		require.Equal(t, "R1", r.RuleID)
	}

	tom := rowByCustomer(t, res.Rows, "Tom Brown")
	require.Equal(t, types.StatusVerified, tom.VerificationStatus)
	require.Equal(t, types.MatchDirect, tom.MatchMethod)
	require.Equal(t, types.SessionPrivate, tom.SessionType)
	require.Equal(t, "40.00", types.Money(tom.PaymentAmount))
	require.Equal(t, "32.00", types.Money(tom.CoachAmount))
	require.Equal(t, "6.00", types.Money(tom.BgmAmount))
	require.Equal(t, "2.00", types.Money(tom.MfcAmount))

	zed := rowByKey(t, res.Rows, zedKey)
	require.Equal(t, types.StatusPackageNotFound, zed.VerificationStatus)
	require.Empty(t, zed.InvoiceNumber)
	require.True(t, zed.EffectiveAmount.IsZero())
	require.True(t, zed.CoachAmount.IsZero())

	ann := rowByCustomer(t, res.Rows, "Ann Lee")
	require.Equal(t, types.StatusVerified, ann.VerificationStatus)
	require.Equal(t, "Freedom Pass", ann.DiscountName)
	require.Equal(t, types.CoachPaymentFull, ann.DiscountType)
	require.Equal(t, "11.22", types.Money(ann.EffectiveAmount))
	require.Equal(t, "4.88", types.Money(ann.CoachAmount))

	s := res.Summary
	require.Equal(t, 5, s.TotalRecords)
	require.Equal(t, 4, s.VerifiedRecords)
	require.Equal(t, 1, s.UnverifiedRecords)
	require.Equal(t, 80.0, s.VerificationRate)
	require.Equal(t, 5, s.NewRecordsAdded)
	require.Equal(t, 1, s.PackageNotFound)
	require.Zero(t, s.DiscountedRecords)
	require.True(t, s.DiscountValue.IsZero())
	require.Equal(t, 1, s.UnconsumedPayments)
	require.Equal(t, "73.66", types.Money(s.EffectiveTotal))
	require.Equal(t, "46.64", types.Money(s.CoachTotal))

	require.Len(t, res.Issues, 1)
	require.Equal(t, "Mystery Pack", res.Issues[0].Value)

	require.Len(t, res.Invoices, 4)
	byInvoice := make(map[string]types.InvoiceBalance)
	for _, b := range res.Invoices {
		byInvoice[b.InvoiceNumber] = b
	}
	require.Equal(t, types.InvoicePartiallyUsed, byInvoice["INV-1"].Status)
	require.Equal(t, "27.56", types.Money(byInvoice["INV-1"].RemainingBalance))
	require.Equal(t, 2, byInvoice["INV-1"].SessionsUsed)
	require.Equal(t, "40.00", types.Money(byInvoice["INV-2"].TotalAmount))
	require.Equal(t, types.InvoiceFullyUsed, byInvoice["INV-2"].Status)
	require.Equal(t, types.InvoiceFullyUsed, byInvoice["INV-3"].Status)
	require.Equal(t, types.InvoiceAvailable, byInvoice["INV-4"].Status)

	stored, err := e.Repositories().Master.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	require.Equal(t, "2024-04-01T09:00:00Z", stored[0].CreatedAt)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, mem := newEngine(t)

	_, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	before, err := mem.ReadTable(ctx, "payment_calc_detail")
	require.NoError(t, err)

	e.SetClock(func() time.Time { return runAt.Add(time.Hour) })
	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, res.Summary.NewRecordsAdded)
	require.Equal(t, 5, res.Summary.UpdatedRecords)

	after, err := mem.ReadTable(ctx, "payment_calc_detail")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRunRejectsBadInvocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Run(ctx, RunOptions{Range: types.DateRange{
		From: time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	}})
	require.ErrorIs(t, err, ErrInvalidDateRange)

	e.mu.Lock()
	_, err = e.Run(ctx, RunOptions{})
	e.mu.Unlock()
	require.ErrorIs(t, err, ErrRunInProgress)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Run(cancelled, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunDateRangeOnlyTouchesEventsInside(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newEngine(t)

	day := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	res, err := e.Run(ctx, RunOptions{Range: types.DateRange{From: day, To: day}})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "Tom Brown", res.Rows[0].Customer)
	require.Equal(t, 1, res.Summary.NewRecordsAdded)
	require.Equal(t, 1, res.Summary.TotalRecords)
}

func TestDryRunAndStorageFailureWriteNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e, mem := newEngine(t)
	res, err := e.Run(ctx, RunOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Len(t, res.Rows, 5)
	_, err = mem.ReadTable(ctx, "payment_calc_detail")
	require.ErrorIs(t, err, sheetstore.ErrTableNotFound)

	diskFull := errors.New("disk full")
	mem.FailWrites = diskFull
	_, err = e.Run(ctx, RunOptions{})
	require.ErrorIs(t, err, diskFull)
	_, err = mem.ReadTable(ctx, "payment_calc_detail")
	require.ErrorIs(t, err, sheetstore.ErrTableNotFound)
	_, err = mem.ReadTable(ctx, "Inv_Verification")
	require.ErrorIs(t, err, sheetstore.ErrTableNotFound)
}

func TestManualEditsArePreserved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, mem := newEngine(t)

	_, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)

	_, err = e.QueueEdit(ctx, types.PendingEdit{UniqueKey: "no_such_row", Note: "x"})
	require.ErrorIs(t, err, ErrUnknownKey)

	_, err = e.QueueEdit(ctx, types.PendingEdit{UniqueKey: zedKey, Note: "paid cash at desk", Editor: "desk"})
	require.NoError(t, err)

	applied, err := e.ApplyPendingEdits(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, applied.Applied)
	require.Empty(t, applied.Unknown)

	edits, err := mem.ReadTable(ctx, "pending_edits")
	require.NoError(t, err)
	require.Empty(t, edits.Rows)

	rows, err := e.Repositories().Master.List(ctx)
	require.NoError(t, err)
	zed := rowByKey(t, rows, zedKey)
	require.Equal(t, types.StatusManuallyVerified, zed.VerificationStatus)
	require.Contains(t, zed.ChangeHistory, "desk")
	require.Contains(t, zed.ChangeHistory, "paid cash at desk")

	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Summary.PreservedRecords)
	require.Equal(t, 1, res.Summary.ManuallyVerified)
	require.Equal(t, types.StatusManuallyVerified, rowByKey(t, res.Rows, zedKey).VerificationStatus)

	res, err = e.Run(ctx, RunOptions{ForceReverify: true})
	require.NoError(t, err)
	require.Equal(t, 0, res.Summary.PreservedRecords)
	zed = rowByKey(t, res.Rows, zedKey)
	require.Equal(t, types.StatusPackageNotFound, zed.VerificationStatus)
	require.True(t, strings.Contains(zed.ChangeHistory, "paid cash at desk"))
}

func TestEditWithoutInvoiceTakesEarliestOpenOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tables := seed()
	tables["attendance"].Rows = append(tables["attendance"].Rows,
		attendance("Nobody", "2024-02-01 18:00", "Adult Group", "Sam", "Mystery Pack"))
	e := New(sheetstore.NewMemory(tables), config.Default(), logging.Discard())
	e.SetClock(func() time.Time { return runAt })

	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	nobody := rowByCustomer(t, res.Rows, "Nobody")
	require.Empty(t, nobody.InvoiceNumber)

	_, err = e.QueueEdit(ctx, types.PendingEdit{UniqueKey: nobody.UniqueKey, Note: "covered by March payment", Editor: "desk"})
	require.NoError(t, err)
	_, err = e.QueueEdit(ctx, types.PendingEdit{UniqueKey: rowByCustomer(t, res.Rows, "Tom Brown").UniqueKey, Editor: "desk"})
	require.NoError(t, err)
	applied, err := e.ApplyPendingEdits(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, applied.Applied)

	rows, err := e.Repositories().Master.List(ctx)
	require.NoError(t, err)
	nobody = rowByCustomer(t, rows, "Nobody")
	require.Equal(t, "INV-4", nobody.InvoiceNumber)
	require.Equal(t, "2024-03-20", nobody.PaymentDate)
	require.Contains(t, nobody.ChangeHistory, `invoice "INV-4" assigned`)
	require.Equal(t, "INV-2", rowByCustomer(t, rows, "Tom Brown").InvoiceNumber)

	res, err = e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "INV-4", rowByCustomer(t, res.Rows, "Nobody").InvoiceNumber)
}

func TestEditedDiscountIsKeptWhenRuleRefusesDiscounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tables := seed()
	tables["rules"].Rows[1]["allow_discounts"] = "false"
	e := New(sheetstore.NewMemory(tables), config.Default(), logging.Discard())
	e.SetClock(func() time.Time { return runAt })

	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	tom := rowByCustomer(t, res.Rows, "Tom Brown")

	_, err = e.QueueEdit(ctx, types.PendingEdit{UniqueKey: tom.UniqueKey, DiscountName: "Freedom Pass", Editor: "desk"})
	require.NoError(t, err)
	_, err = e.ApplyPendingEdits(ctx)
	require.NoError(t, err)

	rows, err := e.Repositories().Master.List(ctx)
	require.NoError(t, err)
	tom = rowByCustomer(t, rows, "Tom Brown")
	require.Equal(t, "Freedom Pass", tom.DiscountName)
	require.Empty(t, tom.DiscountType)
	require.Equal(t, "40.00", types.Money(tom.EffectiveAmount))
	require.Equal(t, "32.00", types.Money(tom.CoachAmount))
}

func TestReportingAfterRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)

	report, err := e.AggregateByCoach(ctx, types.DateRange{})
	require.NoError(t, err)
	require.Equal(t, "Alex", report.Coaches[0].Name)
	require.Equal(t, "34.44", types.Money(report.Coaches[0].Coach))
	require.Equal(t, "Sam", report.Coaches[1].Name)
	require.Equal(t, "12.20", types.Money(report.Coaches[1].Coach))

	sessions, err := e.CoachSessions(ctx, "alex", types.DateRange{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	changed, err := e.ApplyDiscounts(ctx, false)
	require.NoError(t, err)
	require.Zero(t, changed)

	changed, err = e.RecalculateDiscountedAmounts(ctx, false)
	require.NoError(t, err)
	require.Zero(t, changed)

	balances, err := e.Invoices(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 4)
}

func TestClearMaster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.NoError(t, e.ClearMaster(ctx))

	rows, err := e.Repositories().Master.List(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRunOverWorkbook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	wb, err := sheetstore.OpenWorkbook(filepath.Join(t.TempDir(), "recon.xlsx"))
	require.NoError(t, err)
	require.NoError(t, wb.WriteTables(ctx, seed()))

	e := New(wb, config.Default(), logging.Discard())
	e.SetClock(func() time.Time { return runAt })
	res, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, res.Summary.VerifiedRecords)

	rows, err := e.Repositories().Master.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	require.Equal(t, "4.88", types.Money(rowByKey(t, rows, maryFirst).CoachAmount))

	names, err := wb.TableNames(ctx)
	require.NoError(t, err)
	require.Contains(t, names, "payment_calc_detail")
	require.Contains(t, names, "Inv_Verification")
}
