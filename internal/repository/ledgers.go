package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// Attendance sheet headers.
const (
	AttCustomer      = "Customer"
	AttEmail         = "Email"
	AttEventStartsAt = "Event Starts At"
	AttOfferingType  = "Offering Type Name"
	AttVenue         = "Venue Name"
	AttInstructors   = "Instructors"
	AttBookingMethod = "Booking Method"
	AttMembership    = "Membership Name"
	AttBookingSource = "Booking Source"
	AttStatus        = "Status"
	AttCheckin       = "Checkin Timestamp"
)

// AttendanceHeaders is the canonical column order of the attendance sheet.
var AttendanceHeaders = []string{
	AttCustomer, AttEmail, AttEventStartsAt, AttOfferingType, AttVenue, AttInstructors,
	AttBookingMethod, AttMembership, AttBookingSource, AttStatus, AttCheckin,
}

var attendanceAliases = newAliasSet(map[string][]string{
	AttCustomer:      {"Customer Name", "Client", "Name"},
	AttEmail:         {"Customer Email", "E-mail"},
	AttEventStartsAt: {"Event Date", "Date", "Starts At", "Class Date"},
	AttOfferingType:  {"Offering Type", "Class Type", "ClassType", "Offering"},
	AttVenue:         {"Venue", "Location"},
	AttInstructors:   {"Instructor", "Coach", "Coaches"},
	AttBookingMethod: {"Method"},
	AttMembership:    {"Membership", "Package", "Package Name"},
	AttBookingSource: {"Source"},
	AttStatus:        {"Booking Status"},
	AttCheckin:       {"Checkin", "Checked In At", "Check-in Timestamp"},
})

// Payment sheet headers.
const (
	PayDate     = "Date"
	PayCustomer = "Customer"
	PayMemo     = "Memo"
	PayAmount   = "Amount"
	PayInvoice  = "Invoice"
)

// PaymentHeaders is the canonical column order of the payments sheet.
var PaymentHeaders = []string{PayDate, PayCustomer, PayMemo, PayAmount, PayInvoice}

var paymentAliases = newAliasSet(map[string][]string{
	PayDate:     {"Payment Date", "Paid At", "Transaction Date"},
	PayCustomer: {"Customer Name", "Client", "Name"},
	PayMemo:     {"Description", "Item", "Product"},
	PayAmount:   {"Total", "Net Amount", "Value"},
	PayInvoice:  {"Invoice #", "Invoice Number", "Invoice No", "Reference"},
})

// =============================================================================
// ATTENDANCE
// =============================================================================

// AttendanceRepo reads and appends attendance rows.
type AttendanceRepo struct {
	store sheetstore.Store
	sheet string
}

// List returns every attendance record. Event dates are parsed here; a bad
// date is recorded on the record, not returned as an error.
func (r *AttendanceRepo) List(ctx context.Context) ([]types.AttendanceRecord, error) {
	t, _, err := readOrEmpty(ctx, r.store, r.sheet)
	if err != nil {
		return nil, err
	}

	out := make([]types.AttendanceRecord, 0, len(t.Rows))
	for i, raw := range t.Rows {
		row := attendanceAliases.normalize(raw)
		rec := types.AttendanceRecord{
			Row:              i + 1,
			Customer:         row[AttCustomer],
			Email:            row[AttEmail],
			EventStartsAt:    row[AttEventStartsAt],
			OfferingType:     row[AttOfferingType],
			Venue:            row[AttVenue],
			Instructors:      row[AttInstructors],
			BookingMethod:    row[AttBookingMethod],
			Membership:       row[AttMembership],
			BookingSource:    row[AttBookingSource],
			Status:           row[AttStatus],
			CheckinTimestamp: row[AttCheckin],
		}
		rec.EventTime, rec.DateErr = types.ParseDate(rec.EventStartsAt)
		out = append(out, rec)
	}
	return out, nil
}

// Append adds records that are not already present. Two records are the same
// when every column matches. It returns the number of rows added.
func (r *AttendanceRepo) Append(ctx context.Context, recs []types.AttendanceRecord) (int, error) {
	existing, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	t := sheetstore.NewTable(AttendanceHeaders...)
	seen := make(map[string]bool, len(existing))
	for _, rec := range existing {
		row := attendanceRow(rec)
		seen[signature(row, AttendanceHeaders)] = true
		t.Append(row)
	}

	added := 0
	for _, rec := range recs {
		row := attendanceRow(rec)
		sig := signature(row, AttendanceHeaders)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		t.Append(row)
		added++
	}

	if added == 0 {
		return 0, nil
	}
	if err := r.store.WriteTable(ctx, r.sheet, t); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", r.sheet, err)
	}
	return added, nil
}

func attendanceRow(rec types.AttendanceRecord) sheetstore.Row {
	return sheetstore.Row{
		AttCustomer:      rec.Customer,
		AttEmail:         rec.Email,
		AttEventStartsAt: rec.EventStartsAt,
		AttOfferingType:  rec.OfferingType,
		AttVenue:         rec.Venue,
		AttInstructors:   rec.Instructors,
		AttBookingMethod: rec.BookingMethod,
		AttMembership:    rec.Membership,
		AttBookingSource: rec.BookingSource,
		AttStatus:        rec.Status,
		AttCheckin:       rec.CheckinTimestamp,
	}
}

// AttendanceFromRow maps an ingested row (already on canonical or alias
// headers) to a record.
func AttendanceFromRow(raw map[string]string) types.AttendanceRecord {
	row := attendanceAliases.normalize(raw)
	rec := types.AttendanceRecord{
		Customer:         row[AttCustomer],
		Email:            row[AttEmail],
		EventStartsAt:    row[AttEventStartsAt],
		OfferingType:     row[AttOfferingType],
		Venue:            row[AttVenue],
		Instructors:      row[AttInstructors],
		BookingMethod:    row[AttBookingMethod],
		Membership:       row[AttMembership],
		BookingSource:    row[AttBookingSource],
		Status:           row[AttStatus],
		CheckinTimestamp: row[AttCheckin],
	}
	rec.EventTime, rec.DateErr = types.ParseDate(rec.EventStartsAt)
	return rec
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentRepo reads and appends payment lines.
type PaymentRepo struct {
	store sheetstore.Store
	sheet string
}

// List returns every payment. Rows with an unparseable date or amount are
// returned with Invalid set so the caller can report them.
func (r *PaymentRepo) List(ctx context.Context) ([]types.PaymentRecord, error) {
	t, _, err := readOrEmpty(ctx, r.store, r.sheet)
	if err != nil {
		return nil, err
	}

	out := make([]types.PaymentRecord, 0, len(t.Rows))
	for i, raw := range t.Rows {
		rec := PaymentFromRow(raw)
		rec.Row = i + 1
		out = append(out, rec)
	}
	return out, nil
}

// PaymentFromRow maps a raw row to a payment record.
func PaymentFromRow(raw map[string]string) types.PaymentRecord {
	row := paymentAliases.normalize(raw)
	rec := types.PaymentRecord{
		Date:     row[PayDate],
		Customer: row[PayCustomer],
		Memo:     row[PayMemo],
		Invoice:  row[PayInvoice],
	}

	var problems []string
	var err error
	if rec.PaidAt, err = types.ParseDate(rec.Date); err != nil {
		problems = append(problems, "date: "+err.Error())
	}
	if rec.Amount, err = types.ParseAmount(row[PayAmount]); err != nil {
		problems = append(problems, "amount: "+err.Error())
	}
	rec.Invalid = strings.Join(problems, "; ")
	return rec
}

// Append adds payment lines that are not already present.
func (r *PaymentRepo) Append(ctx context.Context, recs []types.PaymentRecord) (int, error) {
	t, _, err := readOrEmpty(ctx, r.store, r.sheet)
	if err != nil {
		return 0, err
	}

	out := sheetstore.NewTable(PaymentHeaders...)
	seen := make(map[string]bool, len(t.Rows))
	for _, raw := range t.Rows {
		row := paymentAliases.normalize(raw)
		canon := sheetstore.Row{}
		for _, h := range PaymentHeaders {
			canon[h] = row[h]
		}
		seen[signature(canon, PaymentHeaders)] = true
		out.Append(canon)
	}

	added := 0
	for _, rec := range recs {
		row := sheetstore.Row{
			PayDate:     rec.Date,
			PayCustomer: rec.Customer,
			PayMemo:     rec.Memo,
			PayAmount:   types.Money(rec.Amount),
			PayInvoice:  rec.Invoice,
		}
		sig := signature(row, PaymentHeaders)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out.Append(row)
		added++
	}

	if added == 0 {
		return 0, nil
	}
	if err := r.store.WriteTable(ctx, r.sheet, out); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", r.sheet, err)
	}
	return added, nil
}

// signature joins the row's cells in header order.
func signature(row sheetstore.Row, headers []string) string {
	parts := make([]string, len(headers))
	for i, h := range headers {
		parts[i] = strings.TrimSpace(row[h])
	}
	return strings.Join(parts, "\x1f")
}
