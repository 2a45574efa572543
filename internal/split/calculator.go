// =============================================================================
// Class Payment Reconciler - Split Calculator
// =============================================================================
//
// Revenue is recognised at the expected price of a session, not at the amount
// collected. For one master row the calculator derives:
//
//   unit price        fixed rate, else explicit unit price, else
//                     price / sessions per pack (or sessions), else 0
//   discounted price  partial: unit x (1 - pct/100); free: 0; otherwise unit,
//                     clamped to [0, unit]
//   effective amount  the discounted price, for verified rows only
//   splits            effective x each percentage / 100, each rounded to
//                     cents on its own
//
// Because each split is rounded independently the four amounts may differ
// from the effective amount by a cent or two.
//
// =============================================================================

package split

import (
	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Result is the priced outcome for one row.
type Result struct {
	PackagePrice    decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountedPrice decimal.Decimal
	Effective       decimal.Decimal

	// Discount fields are empty when no discount applied.
	DiscountName string
	DiscountPct  decimal.Decimal
	DiscountType types.CoachPaymentType

	// DiscountValue is unit - discounted price for partial and free
	// discounts. Full discounts are not counted as discount value.
	DiscountValue decimal.Decimal

	Coach      decimal.Decimal
	Bgm        decimal.Decimal
	Management decimal.Decimal
	Mfc        decimal.Decimal
}

// Total is the sum of the four splits.
func (r Result) Total() decimal.Decimal {
	return r.Coach.Add(r.Bgm).Add(r.Management).Add(r.Mfc)
}

// UnitPrice derives the per-session price of a rule.
func UnitPrice(rule types.Rule) decimal.Decimal {
	switch {
	case rule.IsFixedRate && rule.FixedRate.IsPositive():
		return types.Round2(rule.FixedRate)
	case rule.UnitPrice.IsPositive():
		return types.Round2(rule.UnitPrice)
	}

	sessions := rule.SessionsPerPack
	if sessions < 1 {
		sessions = rule.Sessions
	}
	if sessions < 1 || !rule.Price.IsPositive() {
		return decimal.Zero
	}
	return types.Round2(rule.Price.Div(decimal.NewFromInt(int64(sessions))))
}

// Compute prices a row.
//
// PARAMETERS:
//   - rule: the resolved rule.
//   - discount: the classified discount, or nil.
//   - recognised: whether revenue is recognised for the row (Verified or
//     Manually verified). Unrecognised rows still report prices but carry a
//     zero effective amount and zero splits.
func Compute(rule types.Rule, discount *types.Discount, recognised bool) Result {
	unit := UnitPrice(rule)
	res := Result{
		PackagePrice:    types.Round2(rule.Price),
		UnitPrice:       unit,
		DiscountedPrice: unit,
	}

	if discount != nil && rule.AllowDiscounts {
		res.DiscountName = discount.DisplayName()
		res.DiscountType = discount.CoachPaymentType

		switch discount.CoachPaymentType {
		case types.CoachPaymentPartial:
			res.DiscountPct = discount.ApplicablePercentage
			factor := hundred.Sub(discount.ApplicablePercentage).Div(hundred)
			res.DiscountedPrice = clamp(types.Round2(unit.Mul(factor)), unit)
		case types.CoachPaymentFree:
			res.DiscountPct = hundred
			res.DiscountedPrice = decimal.Zero
		}
		if res.DiscountType != types.CoachPaymentFull {
			res.DiscountValue = unit.Sub(res.DiscountedPrice)
		}
	}

	if !recognised {
		return res
	}

	res.Effective = res.DiscountedPrice
	p := rule.Percentages
	res.Coach = share(res.Effective, p.Coach)
	res.Bgm = share(res.Effective, p.Bgm)
	res.Management = share(res.Effective, p.Management)
	res.Mfc = share(res.Effective, p.Mfc)
	return res
}

// Apply copies a result onto a master row.
func Apply(row *types.MasterRow, res Result) {
	row.PackagePrice = res.PackagePrice
	row.SessionPrice = res.UnitPrice
	row.DiscountName = res.DiscountName
	row.DiscountPercentage = res.DiscountPct
	row.DiscountType = res.DiscountType
	row.DiscountedSessionPrice = res.DiscountedPrice
	row.EffectiveAmount = res.Effective
	row.CoachAmount = res.Coach
	row.BgmAmount = res.Bgm
	row.ManagementAmount = res.Management
	row.MfcAmount = res.Mfc
}

// Zero clears every priced field of a row, for rows with no rule.
func Zero(row *types.MasterRow) {
	Apply(row, Result{})
}

func share(amount, pct decimal.Decimal) decimal.Decimal {
	return types.Round2(amount.Mul(pct).Div(hundred))
}

func clamp(d, max decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(max) {
		return max
	}
	return d
}
