// =============================================================================
// Class Payment Reconciler - Coach Aggregator
// =============================================================================
//
// Rolls master rows up into per-coach summaries for the payroll view. Only
// rows whose revenue is recognised (Verified or Manually verified) count.
// A session taught by several instructors is shared equally: each coach is
// credited one session and 1/n of every amount on the row.
//
// =============================================================================

package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/textnorm"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// Unassigned collects rows that list no instructor.
const Unassigned = "(unassigned)"

// Amounts are the money columns carried through aggregation.
type Amounts struct {
	Effective  decimal.Decimal
	Payment    decimal.Decimal
	Coach      decimal.Decimal
	Bgm        decimal.Decimal
	Management decimal.Decimal
	Mfc        decimal.Decimal
}

func (a *Amounts) add(b Amounts) {
	a.Effective = a.Effective.Add(b.Effective)
	a.Payment = a.Payment.Add(b.Payment)
	a.Coach = a.Coach.Add(b.Coach)
	a.Bgm = a.Bgm.Add(b.Bgm)
	a.Management = a.Management.Add(b.Management)
	a.Mfc = a.Mfc.Add(b.Mfc)
}

func rowAmounts(r types.MasterRow) Amounts {
	return Amounts{
		Effective:  r.EffectiveAmount,
		Payment:    r.PaymentAmount,
		Coach:      r.CoachAmount,
		Bgm:        r.BgmAmount,
		Management: r.ManagementAmount,
		Mfc:        r.MfcAmount,
	}
}

// divide takes a 1/n share of every amount, rounded to cents.
func (a Amounts) divide(n int) Amounts {
	if n <= 1 {
		return a
	}
	d := decimal.NewFromInt(int64(n))
	return Amounts{
		Effective:  types.Round2(a.Effective.Div(d)),
		Payment:    types.Round2(a.Payment.Div(d)),
		Coach:      types.Round2(a.Coach.Div(d)),
		Bgm:        types.Round2(a.Bgm.Div(d)),
		Management: types.Round2(a.Management.Div(d)),
		Mfc:        types.Round2(a.Mfc.Div(d)),
	}
}

// CoachSummary is one coach's total for a period.
type CoachSummary struct {
	Name     string
	Sessions int
	Amounts
}

// Totals are the period totals over counted rows, before any division.
type Totals struct {
	Rows int
	Amounts
}

// Report is the result of Aggregate.
type Report struct {
	Coaches []CoachSummary
	Totals  Totals
}

// SessionDetail is one coach's share of one row.
type SessionDetail struct {
	UniqueKey   string
	EventDate   string
	Customer    string
	Membership  string
	Offering    string
	Status      types.VerificationStatus
	Discount    string
	Instructors int
	Amounts
}

// Aggregate builds the per-coach summary for rows inside dr.
//
// RETURNS:
//   - Coaches sorted by coach amount descending, then by name.
//   - Totals over every counted row.
func Aggregate(rows []types.MasterRow, dr types.DateRange) Report {
	var rep Report
	byCoach := make(map[string]*CoachSummary)

	for _, row := range rows {
		if !counted(row, dr) {
			continue
		}
		amounts := rowAmounts(row)
		rep.Totals.Rows++
		rep.Totals.add(amounts)

		coaches := coachesOf(row)
		share := amounts.divide(len(coaches))
		for _, coach := range coaches {
			key := textnorm.Customer(coach)
			s, ok := byCoach[key]
			if !ok {
				s = &CoachSummary{Name: coach}
				byCoach[key] = s
			}
			s.Sessions++
			s.add(share)
		}
	}

	for _, s := range byCoach {
		rep.Coaches = append(rep.Coaches, *s)
	}
	sort.Slice(rep.Coaches, func(i, j int) bool {
		a, b := rep.Coaches[i], rep.Coaches[j]
		if c := a.Coach.Cmp(b.Coach); c != 0 {
			return c > 0
		}
		return a.Name < b.Name
	})
	return rep
}

// CoachSessions lists one coach's share of every counted row inside dr. The
// coach name is matched case- and accent-insensitively.
func CoachSessions(rows []types.MasterRow, coach string, dr types.DateRange) []SessionDetail {
	want := textnorm.Customer(coach)
	var out []SessionDetail

	for _, row := range rows {
		if !counted(row, dr) {
			continue
		}
		coaches := coachesOf(row)
		for _, c := range coaches {
			if textnorm.Customer(c) != want {
				continue
			}
			out = append(out, SessionDetail{
				UniqueKey:   row.UniqueKey,
				EventDate:   row.EventStartsAt,
				Customer:    row.Customer,
				Membership:  row.Membership,
				Offering:    row.OfferingType,
				Status:      row.VerificationStatus,
				Discount:    row.DiscountName,
				Instructors: len(coaches),
				Amounts:     rowAmounts(row).divide(len(coaches)),
			})
			break
		}
	}
	return out
}

func counted(row types.MasterRow, dr types.DateRange) bool {
	if !row.VerificationStatus.IsMatched() {
		return false
	}
	if dr.IsOpen() {
		return true
	}
	t, ok := row.EventTime()
	return ok && dr.Contains(t)
}

func coachesOf(row types.MasterRow) []string {
	coaches := row.InstructorList()
	if len(coaches) == 0 {
		return []string{Unassigned}
	}
	return coaches
}
