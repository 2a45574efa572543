package invoices

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

var fees = []string{"fee", "tax"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pay(invoice, customer string, day int, amount, memo string) types.PaymentRecord {
	at := time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC)
	return types.PaymentRecord{
		Invoice:  invoice,
		Customer: customer,
		Date:     at.Format("2006-01-02"),
		PaidAt:   at,
		Amount:   dec(amount),
		Memo:     memo,
	}
}

func ledger() []types.PaymentRecord {
	return []types.PaymentRecord{
		pay("INV-2", "Ann", 10, "50.00", "Pack"),
		pay("INV-1", "Ann", 2, "112.20", "Adult 10 Pack"),
		pay("INV-1", "Ann", 2, "3.00", "Booking fee"),
		pay("INV-1", "Ann", 2, "4.60", "Late fees"),
		pay("INV-1", "Ann", 2, "-11.22", "discount"),
		pay("INV-3", "Bob", 5, "20.00", "Drop in"),
		pay("", "Bob", 5, "20.00", "Drop in"),
	}
}

func TestBalancesAreFIFO(t *testing.T) {
	t.Parallel()

	tr := New(ledger(), fees)
	got := tr.Balances(time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), dec("10"))
	require.Len(t, got, 3)
	require.Equal(t, "INV-1", got[0].InvoiceNumber)
	require.Equal(t, "112.20", types.Money(got[0].TotalAmount))
	require.Equal(t, "INV-3", got[1].InvoiceNumber)
	require.Equal(t, "INV-2", got[2].InvoiceNumber)

	for _, b := range got {
		require.Equal(t, types.InvoiceAvailable, b.Status)
		require.Equal(t, "2024-04-01T00:00:00Z", b.LastUpdated)
	}
	require.Equal(t, 11, got[0].TotalSessions)
}

func TestConsumeUpdatesStatus(t *testing.T) {
	t.Parallel()

	tr := New(ledger(), fees)
	row := types.MasterRow{
		InvoiceNumber:      "INV-1",
		VerificationStatus: types.StatusVerified,
		EffectiveAmount:    dec("11.22"),
		SessionPrice:       dec("11.22"),
	}
	require.True(t, tr.Consume(row))

	unmatched := row
	unmatched.VerificationStatus = types.StatusNotVerified
	require.False(t, tr.Consume(unmatched))

	b := tr.Balances(time.Now(), decimal.Zero)[0]
	require.Equal(t, types.InvoicePartiallyUsed, b.Status)
	require.Equal(t, "100.98", types.Money(b.RemainingBalance))
	require.Equal(t, 1, b.SessionsUsed)
	require.Equal(t, 10, b.TotalSessions)

	for i := 0; i < 9; i++ {
		tr.Consume(row)
	}
	b = tr.Balances(time.Now(), decimal.Zero)[0]
	require.Equal(t, types.InvoiceFullyUsed, b.Status)
	require.Equal(t, 10, b.SessionsUsed)
}

func TestBestAvailable(t *testing.T) {
	t.Parallel()

	tr := New(ledger(), fees)
	b, ok := tr.BestAvailable("ann", dec("60"))
	require.True(t, ok)
	require.Equal(t, "INV-1", b.InvoiceNumber)

	tr.ConsumeAll([]types.MasterRow{{
		InvoiceNumber:      "INV-1",
		VerificationStatus: types.StatusManuallyVerified,
		EffectiveAmount:    dec("100"),
	}})
	b, ok = tr.BestAvailable("Ann", dec("20"))
	require.True(t, ok)
	require.Equal(t, "INV-2", b.InvoiceNumber)

	_, ok = tr.BestAvailable("Ann", dec("500"))
	require.False(t, ok)

	tr.Consume(types.MasterRow{
		InvoiceNumber:      "INV-3",
		VerificationStatus: types.StatusVerified,
		EffectiveAmount:    dec("20.00"),
	})
	_, ok = tr.BestAvailable("Bob", decimal.Zero)
	require.False(t, ok)
}
