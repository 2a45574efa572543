package master

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// MergeStats counts what a merge did.
type MergeStats struct {
	Added     int
	Updated   int
	Unchanged int
}

// Merge folds freshly computed rows into the stored ones.
//
// Stored rows keep their position, CreatedAt and change history; a fresh row
// with the same key overwrites every computed field. Fresh rows with a new key
// are appended in their own order. Stored rows that the fresh pass did not
// produce, including rows without a key, are kept as they are.
func Merge(existing, fresh []types.MasterRow) ([]types.MasterRow, MergeStats) {
	var stats MergeStats
	out := make([]types.MasterRow, len(existing), len(existing)+len(fresh))
	copy(out, existing)

	index := make(map[string]int, len(existing))
	for i, row := range existing {
		if row.UniqueKey != "" {
			if _, dup := index[row.UniqueKey]; !dup {
				index[row.UniqueKey] = i
			}
		}
	}

	touched := make(map[int]bool)
	for _, row := range fresh {
		if row.UniqueKey == "" {
			out = append(out, row)
			stats.Added++
			continue
		}
		i, ok := index[row.UniqueKey]
		if !ok {
			index[row.UniqueKey] = len(out)
			out = append(out, row)
			stats.Added++
			continue
		}

		old := out[i]
		row.CreatedAt = firstNonEmpty(old.CreatedAt, row.CreatedAt)
		row.ChangeHistory = old.ChangeHistory
		if sameComputed(old, row) {
			row.UpdatedAt = old.UpdatedAt
		}
		out[i] = row
		touched[i] = true
		stats.Updated++
	}
	stats.Unchanged = len(existing) - len(touched)
	return out, stats
}

// sameComputed compares everything except the timestamps so an unchanged row
// keeps its UpdatedAt. Decimals are compared by value and then blanked, since
// == on decimal.Decimal compares pointers.
func sameComputed(a, b types.MasterRow) bool {
	pairs := []struct{ x, y *decimal.Decimal }{
		{&a.PaymentAmount, &b.PaymentAmount},
		{&a.PackagePrice, &b.PackagePrice},
		{&a.SessionPrice, &b.SessionPrice},
		{&a.DiscountPercentage, &b.DiscountPercentage},
		{&a.DiscountedSessionPrice, &b.DiscountedSessionPrice},
		{&a.EffectiveAmount, &b.EffectiveAmount},
		{&a.CoachAmount, &b.CoachAmount},
		{&a.BgmAmount, &b.BgmAmount},
		{&a.ManagementAmount, &b.ManagementAmount},
		{&a.MfcAmount, &b.MfcAmount},
	}
	for _, p := range pairs {
		if !p.x.Equal(*p.y) {
			return false
		}
		*p.x, *p.y = decimal.Zero, decimal.Zero
	}
	a.CreatedAt, b.CreatedAt = "", ""
	a.UpdatedAt, b.UpdatedAt = "", ""
	return a == b
}

// =============================================================================
// MANUAL EDITS
// =============================================================================

// EditResult reports the outcome of applying a batch of edits.
type EditResult struct {
	Applied int

	// Keys are the keys of the rows edited, in edit order.
	Keys []string

	// Unknown are the keys of edits that matched no row.
	Unknown []string
}

// ApplyEdits applies pending edits in order. Each edit overrides the fields it
// sets, appends one history entry and marks the row Manually verified; several
// edits for the same key therefore stack, with the last one winning on each
// field. reprice, when not nil, is called after every edit so the priced
// fields follow an overridden discount.
func ApplyEdits(rows []types.MasterRow, edits []types.PendingEdit, now time.Time, reprice func(*types.MasterRow)) EditResult {
	var res EditResult
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		if row.UniqueKey != "" {
			index[row.UniqueKey] = i
		}
	}

	for _, e := range edits {
		i, ok := index[e.UniqueKey]
		if !ok {
			res.Unknown = append(res.Unknown, e.UniqueKey)
			continue
		}
		ApplyEdit(&rows[i], e, now)
		if reprice != nil {
			reprice(&rows[i])
		}
		res.Applied++
		res.Keys = append(res.Keys, e.UniqueKey)
	}
	return res
}

// ApplyEdit applies a single edit to a row.
func ApplyEdit(row *types.MasterRow, e types.PendingEdit, now time.Time) {
	var changes []string
	if inv := strings.TrimSpace(e.InvoiceNumber); inv != "" {
		changes = append(changes, fmt.Sprintf("invoice %q -> %q", row.InvoiceNumber, inv))
		row.InvoiceNumber = inv
	}
	if d := strings.TrimSpace(e.DiscountName); d != "" {
		changes = append(changes, fmt.Sprintf("discount %q -> %q", row.DiscountName, d))
		row.DiscountName = d
	}
	if note := strings.TrimSpace(e.Note); note != "" {
		changes = append(changes, "note: "+note)
	}
	if row.VerificationStatus != types.StatusManuallyVerified {
		changes = append(changes, fmt.Sprintf("status %q -> %q", row.VerificationStatus, types.StatusManuallyVerified))
		row.VerificationStatus = types.StatusManuallyVerified
	}
	if len(changes) == 0 {
		changes = append(changes, "confirmed")
	}

	stamp := now.UTC().Format(time.RFC3339)
	AppendHistory(row, stamp, e.Editor, strings.Join(changes, "; "))
	row.UpdatedAt = stamp
}

// AppendHistory adds one "<timestamp> <editor>: <description>" line.
func AppendHistory(row *types.MasterRow, stamp, editor, desc string) {
	editor = strings.TrimSpace(editor)
	if editor == "" {
		editor = "unknown"
	}
	entry := fmt.Sprintf("%s %s: %s", stamp, editor, desc)
	if row.ChangeHistory == "" {
		row.ChangeHistory = entry
		return
	}
	row.ChangeHistory += "\n" + entry
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
