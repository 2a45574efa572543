package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
	"github.com/ginjaninja78/class-payment-reconciler/internal/validation"
)

// InvoiceHeaders is the column order of the invoice verification sheet.
var InvoiceHeaders = []string{
	"Invoice #", "Customer Name", "Payment Date", "Total Amount", "Used Amount",
	"Remaining Balance", "Status", "Sessions Used", "Total Sessions", "Last Updated",
}

var invoiceAliases = newAliasSet(map[string][]string{
	"Invoice #":         {"Invoice", "Invoice Number"},
	"Customer Name":     {"Customer"},
	"Payment Date":      {"Date"},
	"Total Amount":      {"Total"},
	"Used Amount":       {"Used"},
	"Remaining Balance": {"Remaining", "Balance"},
	"Status":            {},
	"Sessions Used":     {},
	"Total Sessions":    {},
	"Last Updated":      {"Updated"},
})

// EditHeaders is the column order of the pending edits sheet.
var EditHeaders = []string{"id", "unique_key", "invoice_number", "discount_name", "note", "editor", "created_at"}

var editAliases = newAliasSet(map[string][]string{
	"id":             {},
	"unique_key":     {"key", "UniqueKey"},
	"invoice_number": {"invoice", "Invoice #"},
	"discount_name":  {"discount"},
	"note":           {"notes", "comment"},
	"editor":         {"user", "author"},
	"created_at":     {"created", "CreatedAt"},
})

// =============================================================================
// INVOICE BALANCES
// =============================================================================

// InvoiceRepo reads and writes invoice balances.
type InvoiceRepo struct {
	store sheetstore.Store
	sheet string
}

// Sheet is the table name, for batch writes.
func (r *InvoiceRepo) Sheet() string { return r.sheet }

// List returns the last persisted balances.
func (r *InvoiceRepo) List(ctx context.Context) ([]types.InvoiceBalance, error) {
	t, _, err := readOrEmpty(ctx, r.store, r.sheet)
	if err != nil {
		return nil, err
	}
	out := make([]types.InvoiceBalance, 0, len(t.Rows))
	for _, raw := range t.Rows {
		row := invoiceAliases.normalize(raw)
		used, _ := types.ParseCount(row["Sessions Used"])
		total, _ := types.ParseCount(row["Total Sessions"])
		out = append(out, types.InvoiceBalance{
			InvoiceNumber:    row["Invoice #"],
			Customer:         row["Customer Name"],
			PaymentDate:      row["Payment Date"],
			TotalAmount:      money(row["Total Amount"]),
			UsedAmount:       money(row["Used Amount"]),
			RemainingBalance: money(row["Remaining Balance"]),
			Status:           row["Status"],
			SessionsUsed:     used,
			TotalSessions:    total,
			LastUpdated:      row["Last Updated"],
		})
	}
	return out, nil
}

// Table renders balances in the canonical column order.
func (r *InvoiceRepo) Table(balances []types.InvoiceBalance) *sheetstore.Table {
	t := sheetstore.NewTable(InvoiceHeaders...)
	for _, b := range balances {
		t.Append(sheetstore.Row{
			"Invoice #":         b.InvoiceNumber,
			"Customer Name":     b.Customer,
			"Payment Date":      b.PaymentDate,
			"Total Amount":      types.Money(b.TotalAmount),
			"Used Amount":       types.Money(b.UsedAmount),
			"Remaining Balance": types.Money(b.RemainingBalance),
			"Status":            b.Status,
			"Sessions Used":     itoa(b.SessionsUsed),
			"Total Sessions":    itoa(b.TotalSessions),
			"Last Updated":      b.LastUpdated,
		})
	}
	return t
}

// =============================================================================
// PENDING EDITS
// =============================================================================

// EditRepo buffers manual corrections until the next merge.
type EditRepo struct {
	store sheetstore.Store
	sheet string
	now   func() time.Time
}

// Sheet is the table name, for batch writes.
func (r *EditRepo) Sheet() string { return r.sheet }

// List returns pending edits in the order they were queued.
func (r *EditRepo) List(ctx context.Context) ([]types.PendingEdit, error) {
	t, _, err := readOrEmpty(ctx, r.store, r.sheet)
	if err != nil {
		return nil, err
	}
	out := make([]types.PendingEdit, 0, len(t.Rows))
	for _, raw := range t.Rows {
		row := editAliases.normalize(raw)
		out = append(out, types.PendingEdit{
			ID:            row["id"],
			UniqueKey:     row["unique_key"],
			InvoiceNumber: row["invoice_number"],
			DiscountName:  row["discount_name"],
			Note:          row["note"],
			Editor:        row["editor"],
			CreatedAt:     row["created_at"],
		})
	}
	return out, nil
}

// Queue appends an edit and returns it with its id and timestamp filled in.
func (r *EditRepo) Queue(ctx context.Context, e types.PendingEdit) (types.PendingEdit, error) {
	if e.UniqueKey == "" {
		return e, validation.Errors{{
			Severity: validation.SeverityError,
			Entity:   "pending edit",
			Field:    "UniqueKey",
			Rule:     "required",
			Message:  "is required",
		}}
	}

	edits, err := r.List(ctx)
	if err != nil {
		return e, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}
	edits = append(edits, e)

	if err := r.store.WriteTable(ctx, r.sheet, r.Table(edits)); err != nil {
		return e, fmt.Errorf("failed to write %s: %w", r.sheet, err)
	}
	return e, nil
}

// Table renders edits in the canonical column order.
func (r *EditRepo) Table(edits []types.PendingEdit) *sheetstore.Table {
	t := sheetstore.NewTable(EditHeaders...)
	for _, e := range edits {
		t.Append(sheetstore.Row{
			"id":             e.ID,
			"unique_key":     e.UniqueKey,
			"invoice_number": e.InvoiceNumber,
			"discount_name":  e.DiscountName,
			"note":           e.Note,
			"editor":         e.Editor,
			"created_at":     e.CreatedAt,
		})
	}
	return t
}

// =============================================================================
// REPOSITORY SET
// =============================================================================

// Set bundles one repository per table.
type Set struct {
	Attendance *AttendanceRepo
	Payments   *PaymentRepo
	Rules      *RuleRepo
	Discounts  *DiscountRepo
	Master     *MasterRepo
	Invoices   *InvoiceRepo
	Edits      *EditRepo
}

// New wires every repository to the same store. Rules with no percentages
// take the configured default split for their session type.
func New(store sheetstore.Store, cfg *config.Config, v *validation.Validator) *Set {
	s := cfg.Sheets
	return &Set{
		Attendance: &AttendanceRepo{store: store, sheet: s.Attendance},
		Payments:   &PaymentRepo{store: store, sheet: s.Payments},
		Rules:      &RuleRepo{store: store, sheet: s.Rules, validator: v, defaults: cfg.Defaults.For},
		Discounts:  &DiscountRepo{store: store, sheet: s.Discounts, validator: v},
		Master:     &MasterRepo{store: store, sheet: s.Master},
		Invoices:   &InvoiceRepo{store: store, sheet: s.Invoices},
		Edits:      &EditRepo{store: store, sheet: s.PendingEdits, now: time.Now},
	}
}
