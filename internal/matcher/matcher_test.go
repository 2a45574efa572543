package matcher

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

func newMatcher() *Matcher {
	return New(OptionsFromConfig(config.Default().Matching))
}

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 18, 0, 0, 0, time.UTC)
}

func event(customer string, d int, membership string) types.AttendanceRecord {
	return types.AttendanceRecord{Customer: customer, EventTime: day(d), Membership: membership}
}

func payment(customer string, d int, amount, memo, invoice string) types.PaymentRecord {
	return types.PaymentRecord{
		Customer: customer,
		PaidAt:   day(d).Add(-6 * time.Hour),
		Amount:   decimal.RequireFromString(amount),
		Memo:     memo,
		Invoice:  invoice,
	}
}

func TestDirectSameDay(t *testing.T) {
	t.Parallel()

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{event("Mary Jones", 4, "Adult 10 Pack")},
		Payments: []types.PaymentRecord{
			payment("Someone Else", 4, "11.22", "Adult 10 Pack", "INV-0"),
			payment("mary  JONES", 4, "11.22", "Adult 10 Pack", "INV-1"),
		},
	})
	m := res.Matches[0]
	require.True(t, m.Matched())
	require.Equal(t, 1, m.Payment)
	require.Equal(t, types.MatchDirect, m.Method)
	require.Equal(t, "11.22", types.Money(m.Amount))
	require.False(t, m.Fuzzy)
	require.Equal(t, []int{0}, res.Unconsumed)
}

func TestOnePaymentIsNeverSpentTwice(t *testing.T) {
	t.Parallel()

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{
			event("Mary Jones", 4, "Adult 10 Pack"),
			event("Mary Jones", 4, "Adult 10 Pack"),
		},
		Payments: []types.PaymentRecord{payment("Mary Jones", 4, "50.00", "Adult 10 Pack", "INV-1")},
	})
	total := decimal.Zero
	for _, m := range res.Matches {
		require.Equal(t, 0, m.Payment)
		require.Equal(t, types.MatchAllocated, m.Method)
		require.Equal(t, "25.00", types.Money(m.Amount))
		total = total.Add(m.Amount)
	}
	require.Equal(t, "50.00", types.Money(total))
	require.Empty(t, res.Unconsumed)
}

func TestAllocationSharesAddUpToThePayment(t *testing.T) {
	t.Parallel()

	req := Request{
		Attendance: []types.AttendanceRecord{
			event("Tom", 1, "Kids Term"),
			event("Tom", 8, "Kids Term"),
			event("Tom", 15, "Kids Term"),
		},
		Payments: []types.PaymentRecord{payment("Tom", 1, "100.00", "Kids Term", "INV-7")},
	}
	res := newMatcher().Match(req)
	require.Equal(t, "33.33", types.Money(res.Matches[0].Amount))
	require.Equal(t, "33.33", types.Money(res.Matches[1].Amount))
	require.Equal(t, "33.34", types.Money(res.Matches[2].Amount))

	req.Weights = []decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(30), decimal.NewFromInt(60)}
	res = newMatcher().Match(req)
	require.Equal(t, "10.00", types.Money(res.Matches[0].Amount))
	require.Equal(t, "30.00", types.Money(res.Matches[1].Amount))
	require.Equal(t, "60.00", types.Money(res.Matches[2].Amount))
}

func TestAllocationPrefersUnusedPayments(t *testing.T) {
	t.Parallel()

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{
			event("Ann", 10, "Pack"),
			event("Ann", 20, "Pack"),
		},
		Payments: []types.PaymentRecord{
			payment("Ann", 10, "40.00", "Pack", "A"),
			payment("Ann", 1, "40.00", "Pack", "B"),
		},
	})
	require.Equal(t, 0, res.Matches[0].Payment)
	require.Equal(t, types.MatchDirect, res.Matches[0].Method)
	require.Equal(t, "40.00", types.Money(res.Matches[0].Amount))

	require.Equal(t, 1, res.Matches[1].Payment)
	require.Equal(t, types.MatchAllocated, res.Matches[1].Method)
	require.Equal(t, "40.00", types.Money(res.Matches[1].Amount))
	require.Equal(t, 19, res.Matches[1].DayDistance)
}

func TestExcludedPayments(t *testing.T) {
	t.Parallel()

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{
			event("Ann", 4, "Pack"),
			event("Bob", 4, "Pack"),
			event("Cat", 4, "Pack"),
		},
		Payments: []types.PaymentRecord{
			payment("Ann", 4, "2.50", "Booking fee", ""),
			payment("Bob", 4, "0.00", "Pack", ""),
			payment("Cat", 4, "12.00", "Pack", "HELD"),
		},
		ReservedInvoices: map[string]bool{"HELD": true},
	})
	for _, m := range res.Matches {
		require.False(t, m.Matched())
	}
	require.Empty(t, res.Unconsumed)
	require.Empty(t, res.Issues)
}

func TestUnparseableInputsBecomeIssues(t *testing.T) {
	t.Parallel()

	bad := types.AttendanceRecord{Customer: "Ann", Row: 3, EventStartsAt: "soon", DateErr: errors.New("unrecognised date")}
	pay := payment("Ann", 4, "10.00", "Pack", "")
	broken := types.PaymentRecord{Row: 9, Customer: "Ann", Date: "yesterday", Invalid: "date: unrecognised"}

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{bad},
		Payments:   []types.PaymentRecord{pay, broken},
	})
	require.False(t, res.Matches[0].Matched())
	require.Len(t, res.Issues, 2)
	require.Equal(t, "payments", res.Issues[0].Source)
	require.Equal(t, 9, res.Issues[0].Row)
	require.Equal(t, "attendance", res.Issues[1].Source)
	require.Equal(t, 3, res.Issues[1].Row)
	require.Equal(t, []int{0}, res.Unconsumed)
}

func TestFuzzyNamesAfterExact(t *testing.T) {
	t.Parallel()

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{event("Jon Smith", 4, "Pack")},
		Payments:   []types.PaymentRecord{payment("John Smith", 4, "10.00", "Pack", "")},
	})
	require.True(t, res.Matches[0].Matched())
	require.True(t, res.Matches[0].Fuzzy)

	strict := config.Default().Matching
	strict.FuzzyNameThreshold = 1
	res = New(OptionsFromConfig(strict)).Match(Request{
		Attendance: []types.AttendanceRecord{event("Jon Smith", 4, "Pack")},
		Payments:   []types.PaymentRecord{payment("John Smith", 4, "10.00", "Pack", "")},
	})
	require.False(t, res.Matches[0].Matched())
}

func TestWindowTieBreaks(t *testing.T) {
	t.Parallel()

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{event("Ann", 10, "Adult 10 Pack")},
		Payments: []types.PaymentRecord{
			payment("Ann", 13, "10.00", "Adult 10 Pack", "far"),
			payment("Ann", 9, "10.00", "Private lesson", "near"),
			payment("Ann", 11, "10.00", "Adult 10 Pack", "near-memo"),
		},
	})
	m := res.Matches[0]
	require.Equal(t, 2, m.Payment, "memo agreement breaks the one-day tie")
	require.Equal(t, 1, m.DayDistance)
	require.Equal(t, types.MatchDirect, m.Method)
}

func TestSkippedEventsTakeNoPart(t *testing.T) {
	t.Parallel()

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{
			event("Ann", 4, "Pack"),
			event("Ann", 4, "Pack"),
		},
		Payments: []types.PaymentRecord{payment("Ann", 4, "10.00", "Pack", "")},
		Skip:     []bool{true, false},
	})
	require.False(t, res.Matches[0].Matched())
	require.Equal(t, 0, res.Matches[1].Payment)
	require.Equal(t, types.MatchDirect, res.Matches[1].Method)
}

func TestPluralFeeAndTaxLinesAreNotRevenue(t *testing.T) {
	t.Parallel()

	m := New(Options{DirectWindowDays: 3, AllocationWindowDays: 31, FeeKeywords: []string{"fee", "tax"}})
	res := m.Match(Request{
		Attendance: []types.AttendanceRecord{event("Tom Brown", 5, "Private Lesson")},
		Payments: []types.PaymentRecord{
			payment("Tom Brown", 5, "2.00", "Booking Fees", "INV-2"),
			payment("Tom Brown", 5, "5.00", "VAT tax: 23%", "INV-2"),
		},
	})
	require.False(t, res.Matches[0].Matched())
	require.Empty(t, res.Unconsumed)
}

func TestBlankCustomersNeverMatch(t *testing.T) {
	t.Parallel()

	res := newMatcher().Match(Request{
		Attendance: []types.AttendanceRecord{
			event("", 4, "Adult 10 Pack"),
			event("   ", 4, "Adult 10 Pack"),
		},
		Payments: []types.PaymentRecord{payment("", 4, "11.22", "Adult 10 Pack", "INV-9")},
	})
	for _, m := range res.Matches {
		require.False(t, m.Matched())
	}
	require.Equal(t, []int{0}, res.Unconsumed)
}
