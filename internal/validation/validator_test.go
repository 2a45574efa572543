package validation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

func pct(coach, bgm, mgmt, mfc string) types.Percentages {
	return types.Percentages{
		Coach:      decimal.RequireFromString(coach),
		Bgm:        decimal.RequireFromString(bgm),
		Management: decimal.RequireFromString(mgmt),
		Mfc:        decimal.RequireFromString(mfc),
	}
}

func validRule() types.Rule {
	return types.Rule{
		ID:             "1",
		Name:           "Adult 10 Pack",
		PackageName:    "Adult 10 Pack",
		SessionType:    types.SessionGroup,
		Price:          decimal.RequireFromString("112.20"),
		Sessions:       10,
		Percentages:    pct("43.5", "30", "8.5", "18"),
		AllowDiscounts: true,
		Row:            2,
	}
}

func TestRulePercentagesMustTotalHundred(t *testing.T) {
	t.Parallel()
	v := New()

	require.Empty(t, v.ValidateRule(validRule()))

	r := validRule()
	r.Percentages = pct("40", "40", "10", "5")
	errs := v.ValidateRule(r)
	require.Len(t, errs, 1)
	require.Equal(t, "sum100", errs[0].Rule)
	require.Equal(t, "Percentages", errs[0].Field)
	require.Equal(t, "95", errs[0].Value)
	require.Equal(t, 2, errs[0].Row)
	require.True(t, errs.HasFatal())

	r.Percentages = pct("43.5", "30", "8.5", "18.005")
	require.Empty(t, v.ValidateRule(r), "within the 0.01 tolerance")
}

func TestRuleFieldConstraintsAreAggregated(t *testing.T) {
	t.Parallel()
	v := New()

	r := validRule()
	r.Name = ""
	r.SessionType = "semi-private"
	r.Price = decimal.NewFromInt(-5)
	r.Percentages = pct("120", "-20", "0", "0")

	errs := v.ValidateRule(r)
	rules := map[string]bool{}
	for _, e := range errs {
		rules[e.Field+":"+e.Rule] = true
	}
	require.True(t, rules["Name:required"])
	require.True(t, rules["SessionType:oneof"])
	require.True(t, rules["Price:gte"])
	require.True(t, rules["Percentages.Coach:lte"])
	require.True(t, rules["Percentages.Bgm:gte"])

	var asErr error = errs
	var list Errors
	require.True(t, errors.As(asErr, &list))
	require.Contains(t, asErr.Error(), "problem(s)")
}

func TestRuleNeedsDerivableUnitPrice(t *testing.T) {
	t.Parallel()
	v := New()

	r := validRule()
	r.Sessions = 0
	errs := v.ValidateRule(r)
	require.Len(t, errs, 1)
	require.Equal(t, "min_sessions", errs[0].Rule)

	r.UnitPrice = decimal.RequireFromString("11.22")
	require.Empty(t, v.ValidateRule(r))
}

func TestRuleSetDuplicates(t *testing.T) {
	t.Parallel()
	v := New()

	a := validRule()
	b := validRule()
	b.Row = 3
	b.Name = "Adult 10 Pack (copy)"

	errs := v.ValidateRules([]types.Rule{a, b})
	require.Len(t, errs.Fatal(), 1)
	require.Equal(t, "unique", errs.Fatal()[0].Rule)
	require.Len(t, errs.Warnings(), 1)
	require.Equal(t, "shadowed", errs.Warnings()[0].Rule)
}

func TestDiscountValidation(t *testing.T) {
	t.Parallel()
	v := New()

	good := types.Discount{Code: "VIP", CoachPaymentType: types.CoachPaymentPartial, MatchType: types.MatchExact,
		ApplicablePercentage: decimal.NewFromInt(10), Active: true}
	require.Empty(t, v.ValidateDiscount(good))

	bad := types.Discount{Code: "([", CoachPaymentType: "sometimes", MatchType: types.MatchRegex,
		ApplicablePercentage: decimal.NewFromInt(150), Row: 4}
	errs := v.ValidateDiscount(bad)
	tags := map[string]bool{}
	for _, e := range errs {
		tags[e.Rule] = true
	}
	require.True(t, tags["oneof"])
	require.True(t, tags["lte"])
	require.True(t, tags["regex"])
}

func TestFormatErrors(t *testing.T) {
	t.Parallel()

	require.Equal(t, "No validation errors.", FormatErrors(nil))
	out := FormatErrors([]*ValidationError{{Severity: SeverityError, Entity: `rule "X"`, Field: "Name", Message: "is required", Row: 7}})
	require.Contains(t, out, "1. [ERROR] row 7, rule \"X\", field 'Name': is required")
}
