package discounts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/logging"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

func keywords() config.DiscountConfig {
	return config.Default().Discounts
}

func TestExactBeatsContains(t *testing.T) {
	t.Parallel()

	list := []types.Discount{
		{Code: "V", Name: "V-anything", MatchType: types.MatchContains, CoachPaymentType: types.CoachPaymentPartial, Active: true},
		{Code: "VIP", Name: "VIP", MatchType: types.MatchExact, CoachPaymentType: types.CoachPaymentFree, Active: true},
	}
	c := NewClassifier(list, true, keywords(), logging.Discard())

	d, conf, ok := c.Classify("VIP")
	require.True(t, ok)
	require.Equal(t, "VIP", d.Code)
	require.Equal(t, ConfidenceExact, conf)

	d, conf, ok = c.Classify("vip guest")
	require.True(t, ok)
	require.Equal(t, "V", d.Code)
	require.Equal(t, ConfidenceContains, conf)
}

func TestFirstConfiguredWinsWithinType(t *testing.T) {
	t.Parallel()

	list := []types.Discount{
		{Code: "inactive", MatchType: types.MatchContains, Active: false},
		{Code: "stud", Name: "Student", MatchType: types.MatchContains, Active: true},
		{Code: "student", Name: "Student Plus", MatchType: types.MatchContains, Active: true},
		{Code: `^staff\b`, Name: "Staff", MatchType: types.MatchRegex, Active: true},
		{Code: `([`, Name: "Broken", MatchType: types.MatchRegex, Active: true},
	}
	c := NewClassifier(list, true, keywords(), logging.Discard())

	d, _, ok := c.Classify("Student 10 pack")
	require.True(t, ok)
	require.Equal(t, "Student", d.Name)

	d, conf, ok := c.Classify("STAFF rate")
	require.True(t, ok)
	require.Equal(t, "Staff", d.Name)
	require.Equal(t, ConfidenceRegex, conf)

	_, _, ok = c.Classify("inactive promo")
	require.False(t, ok)
	_, _, ok = c.Classify("")
	require.False(t, ok)

	_, _, ok = c.Classify("Freedom Pass")
	require.False(t, ok, "keywords only apply when there is no discount sheet")
}

func TestKeywordFallback(t *testing.T) {
	t.Parallel()
	c := NewClassifier(nil, false, keywords(), logging.Discard())

	m, ok := c.ClassifyPayment("Freedom Pass - May", decimal.NewFromInt(20))
	require.True(t, ok)
	require.Equal(t, types.CoachPaymentFull, m.Discount.CoachPaymentType)
	require.Equal(t, "Freedom Pass", m.Discount.Name)
	require.Equal(t, SourceKeyword, m.Source)

	m, ok = c.ClassifyPayment("Comp session", decimal.Zero)
	require.True(t, ok)
	require.Equal(t, types.CoachPaymentFull, m.Discount.CoachPaymentType)
	require.Equal(t, "Comp Session", m.Discount.Name)

	m, ok = c.ClassifyPayment("école offerte", decimal.Zero)
	require.True(t, ok)
	require.Equal(t, "École Offerte", m.Discount.Name)

	m, ok = c.ClassifyPayment("Adult 10 Pack discount", decimal.NewFromInt(100))
	require.True(t, ok)
	require.Equal(t, types.CoachPaymentPartial, m.Discount.CoachPaymentType)

	_, ok = c.ClassifyPayment("Adult 10 Pack", decimal.NewFromInt(100))
	require.False(t, ok)

	d, ok := c.Lookup("loyalty scheme")
	require.True(t, ok)
	require.Equal(t, types.CoachPaymentFull, d.CoachPaymentType)
}

func TestInvoiceDiscountExtraction(t *testing.T) {
	t.Parallel()

	payments := []types.PaymentRecord{
		{Invoice: "INV-1", Memo: "Adult 10 Pack", Amount: decimal.RequireFromString("100.00")},
		{Invoice: "INV-1", Memo: "Student discount", Amount: decimal.RequireFromString("-10.00")},
		{Invoice: "INV-2", Memo: "Adult 10 Pack", Amount: decimal.RequireFromString("100.00")},
		{Invoice: "INV-2", Memo: "Refund", Amount: decimal.RequireFromString("-5.00")},
		{Invoice: "INV-3", Memo: "discount", Amount: decimal.RequireFromString("-5.00")},
		{Invoice: "", Memo: "discount", Amount: decimal.RequireFromString("-5.00")},
	}
	got := ExtractInvoiceDiscounts(payments)
	require.Len(t, got, 1)
	require.Equal(t, "Student discount", got["INV-1"].Memo)
	require.Equal(t, "10", got["INV-1"].Percentage.String())

	list := []types.Discount{
		{Code: "student", Name: "Student", MatchType: types.MatchContains, CoachPaymentType: types.CoachPaymentPartial, Active: true},
	}
	c := NewClassifier(list, true, keywords(), logging.Discard())

	m, ok := c.ForPayment(payments[0], got)
	require.True(t, ok)
	require.Equal(t, "Student", m.Discount.Name)
	require.Equal(t, SourceInvoice, m.Source)
	require.True(t, m.Discount.ApplicablePercentage.Equal(decimal.NewFromInt(10)))

	_, ok = c.ForPayment(payments[2], got)
	require.False(t, ok)
}
