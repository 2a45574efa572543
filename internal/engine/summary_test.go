package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

func TestSummarizeCountsOnlyReducingDiscounts(t *testing.T) {
	t.Parallel()

	price := decimal.RequireFromString("11.22")
	row := func(name string, kind types.CoachPaymentType, discounted string) types.MasterRow {
		return types.MasterRow{
			VerificationStatus:     types.StatusVerified,
			DiscountName:           name,
			DiscountType:           kind,
			SessionPrice:           price,
			DiscountedSessionPrice: decimal.RequireFromString(discounted),
			EffectiveAmount:        decimal.RequireFromString(discounted),
		}
	}
	rows := []types.MasterRow{
		row("Freedom Pass", types.CoachPaymentFull, "11.22"),
		row("Student 20%", types.CoachPaymentPartial, "8.98"),
		row("Comp", types.CoachPaymentFree, "0"),
		row("", "", "11.22"),
		{VerificationStatus: types.StatusNotVerified, DiscountName: "Student 20%", DiscountType: types.CoachPaymentPartial},
	}

	s := Summarize(rows, types.DateRange{})
	require.Equal(t, 5, s.TotalRecords)
	require.Equal(t, 4, s.VerifiedRecords)
	require.Equal(t, 2, s.DiscountedRecords)
	require.Equal(t, "13.46", types.Money(s.DiscountValue))
	require.Equal(t, "31.42", types.Money(s.EffectiveTotal))
}
