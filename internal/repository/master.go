package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// Master sheet headers.
const (
	MKey           = "UniqueKey"
	MCustomer      = "Customer Name"
	MEmail         = "Email"
	MEventStartsAt = "Event Starts At"
	MOfferingType  = "Offering Type Name"
	MVenue         = "Venue Name"
	MInstructors   = "Instructors"
	MBookingMethod = "Booking Method"
	MMembership    = "Membership Name"
	MBookingSource = "Booking Source"
	MStatus        = "Status"
	MCheckin       = "Checkin Timestamp"
	MSessionType   = "Session Type"
	MVerification  = "Verification Status"
	MMatchMethod   = "Match Method"
	MInvoice       = "Invoice #"
	MAmount        = "Amount"
	MPaymentDate   = "Payment Date"
	MRuleID        = "Rule ID"
	MPackagePrice  = "Package Price"
	MSessionPrice  = "Session Price"
	MDiscount      = "Discount"
	MDiscountPct   = "Discount %"
	MDiscountType  = "Discount Type"
	MDiscounted    = "Discounted Session Price"
	MEffective     = "Effective Amount"
	MCoachAmount   = "Coach Amount"
	MBgmAmount     = "BGM Amount"
	MMgmtAmount    = "Management Amount"
	MMfcAmount     = "MFC Amount"
	MChangeHistory = "Change History"
	MCreatedAt     = "CreatedAt"
	MUpdatedAt     = "UpdatedAt"
)

// MasterHeaders is the column order of the master sheet.
var MasterHeaders = []string{
	MCustomer, MEventStartsAt, MMembership, MInstructors, MStatus,
	MDiscount, MDiscountPct, MVerification, MInvoice, MAmount, MPaymentDate,
	MPackagePrice, MSessionPrice, MDiscounted, MCoachAmount, MBgmAmount, MMgmtAmount, MMfcAmount,
	MKey, MChangeHistory, MCreatedAt, MUpdatedAt,
	MEmail, MOfferingType, MVenue, MBookingMethod, MBookingSource, MCheckin,
	MSessionType, MMatchMethod, MRuleID, MDiscountType, MEffective,
}

var masterAliases = newAliasSet(map[string][]string{
	MKey:           {"Unique Key", "Key"},
	MCustomer:      {"Customer"},
	MEmail:         {"Customer Email"},
	MEventStartsAt: {"Event Date", "Date"},
	MOfferingType:  {"Offering Type", "Class Type"},
	MVenue:         {"Venue"},
	MInstructors:   {"Instructor", "Coach"},
	MBookingMethod: {},
	MMembership:    {"Membership", "Package"},
	MBookingSource: {},
	MStatus:        {},
	MCheckin:       {"Checkin"},
	MSessionType:   {},
	MVerification:  {"Verification"},
	MMatchMethod:   {},
	MInvoice:       {"Invoice", "Invoice Number", "Invoice No"},
	MAmount:        {"Payment Amount"},
	MPaymentDate:   {},
	MRuleID:        {},
	MPackagePrice:  {},
	MSessionPrice:  {},
	MDiscount:      {"Discount Name"},
	MDiscountPct:   {"Discount Percentage", "Discount Pct"},
	MDiscountType:  {"Coach Payment Type"},
	MDiscounted:    {},
	MEffective:     {},
	MCoachAmount:   {},
	MBgmAmount:     {},
	MMgmtAmount:    {},
	MMfcAmount:     {},
	MChangeHistory: {"History"},
	MCreatedAt:     {"Created At"},
	MUpdatedAt:     {"Updated At"},
})

// MasterRepo reads and writes the reconciled master table.
type MasterRepo struct {
	store sheetstore.Store
	sheet string
}

// Sheet is the table name, for batch writes.
func (r *MasterRepo) Sheet() string { return r.sheet }

// List returns every master row in sheet order. Unparseable money cells read
// as zero.
func (r *MasterRepo) List(ctx context.Context) ([]types.MasterRow, error) {
	t, _, err := readOrEmpty(ctx, r.store, r.sheet)
	if err != nil {
		return nil, err
	}

	out := make([]types.MasterRow, 0, len(t.Rows))
	for _, raw := range t.Rows {
		row := masterAliases.normalize(raw)
		out = append(out, types.MasterRow{
			UniqueKey:              row[MKey],
			Customer:               row[MCustomer],
			Email:                  row[MEmail],
			EventStartsAt:          row[MEventStartsAt],
			OfferingType:           row[MOfferingType],
			Venue:                  row[MVenue],
			Instructors:            row[MInstructors],
			BookingMethod:          row[MBookingMethod],
			Membership:             row[MMembership],
			BookingSource:          row[MBookingSource],
			Status:                 row[MStatus],
			CheckinTimestamp:       row[MCheckin],
			SessionType:            sessionTypeCell(row[MSessionType]),
			VerificationStatus:     types.ParseVerificationStatus(row[MVerification]),
			MatchMethod:            types.MatchMethod(row[MMatchMethod]),
			InvoiceNumber:          row[MInvoice],
			PaymentAmount:          money(row[MAmount]),
			PaymentDate:            row[MPaymentDate],
			RuleID:                 row[MRuleID],
			PackagePrice:           money(row[MPackagePrice]),
			SessionPrice:           money(row[MSessionPrice]),
			DiscountName:           row[MDiscount],
			DiscountPercentage:     percentCell(row[MDiscountPct]),
			DiscountType:           types.ParseCoachPaymentType(row[MDiscountType]),
			DiscountedSessionPrice: money(row[MDiscounted]),
			EffectiveAmount:        money(row[MEffective]),
			CoachAmount:            money(row[MCoachAmount]),
			BgmAmount:              money(row[MBgmAmount]),
			ManagementAmount:       money(row[MMgmtAmount]),
			MfcAmount:              money(row[MMfcAmount]),
			ChangeHistory:          row[MChangeHistory],
			CreatedAt:              row[MCreatedAt],
			UpdatedAt:              row[MUpdatedAt],
		})
	}
	return out, nil
}

// Table renders rows in the canonical column order.
func (r *MasterRepo) Table(rows []types.MasterRow) *sheetstore.Table {
	t := sheetstore.NewTable(MasterHeaders...)
	for _, m := range rows {
		t.Append(sheetstore.Row{
			MKey:           m.UniqueKey,
			MCustomer:      m.Customer,
			MEmail:         m.Email,
			MEventStartsAt: m.EventStartsAt,
			MOfferingType:  m.OfferingType,
			MVenue:         m.Venue,
			MInstructors:   m.Instructors,
			MBookingMethod: m.BookingMethod,
			MMembership:    m.Membership,
			MBookingSource: m.BookingSource,
			MStatus:        m.Status,
			MCheckin:       m.CheckinTimestamp,
			MSessionType:   string(m.SessionType),
			MVerification:  string(m.VerificationStatus),
			MMatchMethod:   string(m.MatchMethod),
			MInvoice:       m.InvoiceNumber,
			MAmount:        optionalMoney(m.PaymentAmount, m.InvoiceNumber != ""),
			MPaymentDate:   m.PaymentDate,
			MRuleID:        m.RuleID,
			MPackagePrice:  types.Money(m.PackagePrice),
			MSessionPrice:  types.Money(m.SessionPrice),
			MDiscount:      m.DiscountName,
			MDiscountPct:   optionalPercent(m.DiscountPercentage),
			MDiscountType:  string(m.DiscountType),
			MDiscounted:    types.Money(m.DiscountedSessionPrice),
			MEffective:     types.Money(m.EffectiveAmount),
			MCoachAmount:   types.Money(m.CoachAmount),
			MBgmAmount:     types.Money(m.BgmAmount),
			MMgmtAmount:    types.Money(m.ManagementAmount),
			MMfcAmount:     types.Money(m.MfcAmount),
			MChangeHistory: m.ChangeHistory,
			MCreatedAt:     m.CreatedAt,
			MUpdatedAt:     m.UpdatedAt,
		})
	}
	return t
}

// Replace overwrites the master table.
func (r *MasterRepo) Replace(ctx context.Context, rows []types.MasterRow) error {
	if err := r.store.WriteTable(ctx, r.sheet, r.Table(rows)); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.sheet, err)
	}
	return nil
}

// Clear leaves the master table with headers only.
func (r *MasterRepo) Clear(ctx context.Context) error {
	return r.Replace(ctx, nil)
}

// =============================================================================
// CELL HELPERS
// =============================================================================

func money(s string) decimal.Decimal {
	d, err := types.ParseAmount(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func percentCell(s string) decimal.Decimal {
	d, err := types.ParsePercent(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func optionalMoney(d decimal.Decimal, present bool) string {
	if !present && d.IsZero() {
		return ""
	}
	return types.Money(d)
}

func optionalPercent(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func sessionTypeCell(s string) types.SessionType {
	if s == "" {
		return ""
	}
	return types.ParseSessionType(s)
}

func itoa(n int) string { return strconv.Itoa(n) }
