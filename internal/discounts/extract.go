package discounts

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// InvoiceDiscount is the discount carried as a negative line on an invoice.
type InvoiceDiscount struct {
	Invoice string
	Memo    string

	// Amount is the positive total of the discount lines.
	Amount decimal.Decimal

	// Percentage is Amount over the invoice's positive lines, times 100.
	Percentage decimal.Decimal
}

// ExtractInvoiceDiscounts finds invoices that carry a discount line: a
// negative amount whose memo mentions "discount". Invoices without positive
// lines are ignored since no percentage can be derived.
func ExtractInvoiceDiscounts(payments []types.PaymentRecord) map[string]InvoiceDiscount {
	type totals struct {
		memo     string
		positive decimal.Decimal
		discount decimal.Decimal
	}
	byInvoice := make(map[string]*totals)

	for _, p := range payments {
		if p.Invalid != "" || strings.TrimSpace(p.Invoice) == "" {
			continue
		}
		t, ok := byInvoice[p.Invoice]
		if !ok {
			t = &totals{}
			byInvoice[p.Invoice] = t
		}
		switch {
		case p.Amount.IsPositive():
			t.positive = t.positive.Add(p.Amount)
		case p.Amount.IsNegative() && strings.Contains(strings.ToLower(p.Memo), "discount"):
			t.discount = t.discount.Add(p.Amount.Abs())
			if t.memo == "" {
				t.memo = p.Memo
			}
		}
	}

	out := make(map[string]InvoiceDiscount)
	for inv, t := range byInvoice {
		if t.discount.IsZero() || !t.positive.IsPositive() {
			continue
		}
		out[inv] = InvoiceDiscount{
			Invoice:    inv,
			Memo:       t.memo,
			Amount:     t.discount,
			Percentage: t.discount.Div(t.positive).Mul(decimal.NewFromInt(100)).Round(2),
		}
	}
	return out
}
