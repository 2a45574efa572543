package engine

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
	"github.com/ginjaninja78/class-payment-reconciler/pkg/utils"
)

// Summary is the headline of a run, computed over the master rows inside
// the run's date range.
type Summary struct {
	TotalRecords      int
	VerifiedRecords   int
	UnverifiedRecords int

	// VerificationRate is VerifiedRecords / TotalRecords in percent, rounded
	// to two decimals. It is 0 when there are no records.
	VerificationRate float64

	NewRecordsAdded  int
	UpdatedRecords   int
	PreservedRecords int

	PackageNotFound   int
	ManuallyVerified  int
	DiscountedRecords int
	DiscountValue     decimal.Decimal

	EffectiveTotal decimal.Decimal
	CoachTotal     decimal.Decimal

	EditsApplied       int
	UnconsumedPayments int
	Issues             int
}

// Summarize counts rows by status. Verified and Manually verified rows are
// both verified.
func Summarize(rows []types.MasterRow, dr types.DateRange) Summary {
	var s Summary
	for _, row := range rows {
		if !dr.IsOpen() {
			t, ok := row.EventTime()
			if !ok || !dr.Contains(t) {
				continue
			}
		}
		s.TotalRecords++

		switch row.VerificationStatus {
		case types.StatusManuallyVerified:
			s.ManuallyVerified++
		case types.StatusPackageNotFound:
			s.PackageNotFound++
		}
		if !row.VerificationStatus.IsMatched() {
			continue
		}

		s.VerifiedRecords++
		s.EffectiveTotal = s.EffectiveTotal.Add(row.EffectiveAmount)
		s.CoachTotal = s.CoachTotal.Add(row.CoachAmount)
		// Full discounts keep the rule price and count as neither.
		if row.DiscountType == types.CoachPaymentPartial || row.DiscountType == types.CoachPaymentFree {
			s.DiscountedRecords++
			s.DiscountValue = s.DiscountValue.Add(row.SessionPrice.Sub(row.DiscountedSessionPrice))
		}
	}

	s.UnverifiedRecords = s.TotalRecords - s.VerifiedRecords
	if s.TotalRecords > 0 {
		rate := decimal.NewFromInt(int64(s.VerifiedRecords)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(s.TotalRecords))).
			Round(2)
		s.VerificationRate = rate.InexactFloat64()
	}
	return s
}

// Report renders a run result for the summary log.
func (r *RunResult) Report() utils.RunReport {
	s := r.Summary
	rep := utils.RunReport{
		Title:     "Class Payment Reconciler",
		RunID:     r.RunID,
		StartTime: r.StartedAt,
		EndTime:   r.FinishedAt,
		Stats: []utils.ReportLine{
			{Label: "Total records", Value: strconv.Itoa(s.TotalRecords)},
			{Label: "Verified records", Value: strconv.Itoa(s.VerifiedRecords)},
			{Label: "Unverified records", Value: strconv.Itoa(s.UnverifiedRecords)},
			{Label: "Verification rate", Value: fmt.Sprintf("%.2f%%", s.VerificationRate)},
			{Label: "New records added", Value: strconv.Itoa(s.NewRecordsAdded)},
			{Label: "Records updated", Value: strconv.Itoa(s.UpdatedRecords)},
			{Label: "Manual rows preserved", Value: strconv.Itoa(s.PreservedRecords)},
			{Label: "Manually verified", Value: strconv.Itoa(s.ManuallyVerified)},
			{Label: "Package not found", Value: strconv.Itoa(s.PackageNotFound)},
			{Label: "Discounted records", Value: strconv.Itoa(s.DiscountedRecords)},
			{Label: "Discount value", Value: types.Money(s.DiscountValue)},
			{Label: "Effective total", Value: types.Money(s.EffectiveTotal)},
			{Label: "Coach total", Value: types.Money(s.CoachTotal)},
			{Label: "Edits applied", Value: strconv.Itoa(s.EditsApplied)},
			{Label: "Unconsumed payments", Value: strconv.Itoa(s.UnconsumedPayments)},
			{Label: "Issues", Value: strconv.Itoa(s.Issues)},
		},
	}
	if r.DryRun {
		rep.Notes = append(rep.Notes, "Dry run: nothing was written to the workbook.")
	}
	return rep
}
