// =============================================================================
// Class Payment Reconciler - Master Row Builder
// =============================================================================
//
// Builds the one-per-attendance MasterRow from the outputs of the earlier
// stages and owns the operations that change existing master data: merging a
// fresh pass into stored rows and applying manual edits.
//
// VERIFICATION STATUS:
//   - No rule resolved for the membership  -> Package Cannot be found
//   - Rule resolved, no payment matched     -> Not Verified
//   - Rule resolved, payment matched        -> Verified
//   - Any manual edit                       -> Manually verified
//
// =============================================================================

package master

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/split"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// Input is everything known about one attendance event after matching.
type Input struct {
	Attendance  types.AttendanceRecord
	Key         string
	SessionType types.SessionType

	// Payment is the matched payment, or nil. PaymentAmount is the share of
	// it attributed to this event.
	Payment       *types.PaymentRecord
	PaymentAmount decimal.Decimal
	Method        types.MatchMethod

	// Rule is nil when no rule resolved.
	Rule *types.Rule

	// Discount is the classified discount of the matched payment, or nil.
	Discount *types.Discount

	// Price, when set, is the already computed split for the row and is used
	// as is. Otherwise the row is priced from Rule and Discount.
	Price *split.Result
}

// Build assembles a fresh master row.
func Build(in Input, now time.Time) types.MasterRow {
	row := FromAttendance(in.Attendance)
	row.UniqueKey = in.Key
	row.SessionType = in.SessionType
	stamp := now.UTC().Format(time.RFC3339)
	row.CreatedAt = stamp
	row.UpdatedAt = stamp

	if in.Payment != nil {
		row.MatchMethod = in.Method
		row.InvoiceNumber = in.Payment.Invoice
		row.PaymentAmount = in.PaymentAmount
		row.PaymentDate = in.Payment.Date
	}

	switch {
	case in.Rule == nil:
		row.VerificationStatus = types.StatusPackageNotFound
	case in.Payment == nil:
		row.VerificationStatus = types.StatusNotVerified
	default:
		row.VerificationStatus = types.StatusVerified
	}

	if in.Price != nil && in.Rule != nil {
		row.RuleID = in.Rule.ID
		row.SessionType = in.Rule.SessionType
		split.Apply(&row, *in.Price)
		return row
	}

	discount := in.Discount
	if in.Payment == nil {
		discount = nil
	}
	Price(&row, in.Rule, discount)
	return row
}

// FromAttendance copies the attendance fields onto an empty row.
func FromAttendance(a types.AttendanceRecord) types.MasterRow {
	return types.MasterRow{
		Customer:         a.Customer,
		Email:            a.Email,
		EventStartsAt:    a.EventStartsAt,
		OfferingType:     a.OfferingType,
		Venue:            a.Venue,
		Instructors:      a.Instructors,
		BookingMethod:    a.BookingMethod,
		Membership:       a.Membership,
		BookingSource:    a.BookingSource,
		Status:           a.Status,
		CheckinTimestamp: a.CheckinTimestamp,
	}
}

// Price recomputes the priced fields of a row from its rule and discount,
// honouring the row's current verification status. A nil rule clears them.
func Price(row *types.MasterRow, rule *types.Rule, discount *types.Discount) {
	if rule == nil {
		row.RuleID = ""
		split.Zero(row)
		return
	}
	row.RuleID = rule.ID
	row.SessionType = rule.SessionType
	split.Apply(row, split.Compute(*rule, discount, row.VerificationStatus.IsMatched()))
}
