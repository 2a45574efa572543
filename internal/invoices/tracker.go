// =============================================================================
// Class Payment Reconciler - Invoice Tracker
// =============================================================================
//
// Tracks how much of every invoice has been used up by verified sessions.
// Invoices are built from the positive, non-fee payment lines that carry an
// invoice number and are kept in FIFO order: earliest payment date first.
//
// =============================================================================

package invoices

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/textnorm"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// fullyUsedTolerance absorbs rounding left over after the last session.
var fullyUsedTolerance = decimal.RequireFromString("0.01")

type invoice struct {
	balance  types.InvoiceBalance
	paidAt   time.Time
	customer string

	// unitPrices are the session prices of the rows that consumed it.
	unitPrices []decimal.Decimal
}

// Tracker holds the invoice balances of one run.
type Tracker struct {
	invoices []*invoice
	index    map[string]*invoice
}

// New builds the tracker from the payments ledger. Lines that are invalid,
// not positive, fee or tax lines, or lack an invoice number are ignored.
func New(payments []types.PaymentRecord, feeKeywords []string) *Tracker {
	t := &Tracker{index: make(map[string]*invoice)}

	for _, p := range payments {
		number := strings.TrimSpace(p.Invoice)
		if number == "" || p.Invalid != "" || !p.Amount.IsPositive() {
			continue
		}
		if textnorm.ContainsAny(p.Memo, feeKeywords) {
			continue
		}

		inv, ok := t.index[number]
		if !ok {
			inv = &invoice{
				balance: types.InvoiceBalance{
					InvoiceNumber: number,
					Customer:      p.Customer,
					PaymentDate:   p.Date,
				},
				paidAt:   p.PaidAt,
				customer: textnorm.Customer(p.Customer),
			}
			t.index[number] = inv
			t.invoices = append(t.invoices, inv)
		}
		inv.balance.TotalAmount = inv.balance.TotalAmount.Add(p.Amount)
		if p.PaidAt.Before(inv.paidAt) {
			inv.paidAt = p.PaidAt
			inv.balance.PaymentDate = p.Date
		}
	}

	sort.SliceStable(t.invoices, func(i, j int) bool {
		a, b := t.invoices[i], t.invoices[j]
		if !a.paidAt.Equal(b.paidAt) {
			return a.paidAt.Before(b.paidAt)
		}
		return a.balance.InvoiceNumber < b.balance.InvoiceNumber
	})
	return t
}

// Consume books a master row against its invoice. Only rows whose revenue is
// recognised consume; the return value reports whether the row was booked.
func (t *Tracker) Consume(row types.MasterRow) bool {
	if !row.VerificationStatus.IsMatched() {
		return false
	}
	inv, ok := t.index[strings.TrimSpace(row.InvoiceNumber)]
	if !ok {
		return false
	}
	inv.balance.UsedAmount = inv.balance.UsedAmount.Add(row.EffectiveAmount)
	inv.balance.SessionsUsed++
	if row.SessionPrice.IsPositive() {
		inv.unitPrices = append(inv.unitPrices, row.SessionPrice)
	}
	return true
}

// ConsumeAll books every row and returns how many were booked.
func (t *Tracker) ConsumeAll(rows []types.MasterRow) int {
	n := 0
	for _, row := range rows {
		if t.Consume(row) {
			n++
		}
	}
	return n
}

// Balances returns the invoice balances in FIFO order.
//
// PARAMETERS:
//   - now: stamped into LastUpdated.
//   - fallbackUnit: the unit price used to estimate TotalSessions of an
//     invoice no session has consumed yet, typically the average rule unit
//     price. Zero leaves TotalSessions at 0 for such invoices.
func (t *Tracker) Balances(now time.Time, fallbackUnit decimal.Decimal) []types.InvoiceBalance {
	stamp := now.UTC().Format(time.RFC3339)
	out := make([]types.InvoiceBalance, 0, len(t.invoices))
	for _, inv := range t.invoices {
		b := inv.balance
		b.RemainingBalance = b.TotalAmount.Sub(b.UsedAmount)
		b.Status = Status(b.TotalAmount, b.UsedAmount)
		b.TotalSessions = totalSessions(b.TotalAmount, average(inv.unitPrices, fallbackUnit))
		b.LastUpdated = stamp
		out = append(out, b)
	}
	return out
}

// BestAvailable picks the earliest invoice of the customer with a positive
// remaining balance that covers required.
func (t *Tracker) BestAvailable(customer string, required decimal.Decimal) (types.InvoiceBalance, bool) {
	want := textnorm.Customer(customer)
	for _, inv := range t.invoices {
		if inv.customer != want {
			continue
		}
		remaining := inv.balance.TotalAmount.Sub(inv.balance.UsedAmount)
		if remaining.IsPositive() && remaining.GreaterThanOrEqual(required) {
			b := inv.balance
			b.RemainingBalance = remaining
			b.Status = Status(b.TotalAmount, b.UsedAmount)
			return b, true
		}
	}
	return types.InvoiceBalance{}, false
}

// Status classifies an invoice by how much of it is used.
func Status(total, used decimal.Decimal) string {
	switch {
	case !used.IsPositive():
		return types.InvoiceAvailable
	case total.Sub(used).LessThanOrEqual(fullyUsedTolerance):
		return types.InvoiceFullyUsed
	default:
		return types.InvoicePartiallyUsed
	}
}

func average(prices []decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return fallback
	}
	return decimal.Avg(prices[0], prices[1:]...)
}

func totalSessions(total, unit decimal.Decimal) int {
	if !unit.IsPositive() {
		return 0
	}
	return int(total.Div(unit).Round(0).IntPart())
}
