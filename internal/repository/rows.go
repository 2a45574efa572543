// =============================================================================
// Class Payment Reconciler - Repositories
// =============================================================================
//
// Each entity (attendance, payments, rules, discounts, master rows, invoice
// balances, pending edits) gets a typed repository over the shared tabular
// store. Repositories are the only code that knows sheet header spellings:
//
//   - On read, every header is folded (case, spaces, underscores) and matched
//     against the entity's alias table, so "Customer Name", "customer_name"
//     and "customerName" all land in the same canonical field.
//   - On write, the canonical header list is used, in a fixed order.
//
// A table that has never been written reads as empty.
//
// =============================================================================

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
)

// aliasSet maps folded header spellings to the canonical header.
type aliasSet struct {
	canonical map[string]string
}

// newAliasSet builds an alias table. The canonical header is always an alias
// of itself.
func newAliasSet(aliases map[string][]string) aliasSet {
	a := aliasSet{canonical: make(map[string]string)}
	for canon, list := range aliases {
		a.canonical[foldHeader(canon)] = canon
		for _, alias := range list {
			a.canonical[foldHeader(alias)] = canon
		}
	}
	return a
}

// normalize maps a raw row onto canonical headers. A header spelled exactly
// like the canonical one wins over an alias; among aliases the first
// non-empty value wins.
func (a aliasSet) normalize(row sheetstore.Row) map[string]string {
	out := make(map[string]string, len(row))
	for h, v := range row {
		if canon, ok := a.canonical[foldHeader(h)]; ok && canon == h {
			out[canon] = v
		}
	}
	for h, v := range row {
		canon, ok := a.canonical[foldHeader(h)]
		if !ok || canon == h {
			continue
		}
		if out[canon] == "" {
			out[canon] = v
		}
	}
	return out
}

// foldHeader lower-cases and drops separators.
func foldHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		switch r {
		case ' ', '_', '-', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// readOrEmpty reads a table, treating a missing table as empty. found reports
// whether the table existed.
func readOrEmpty(ctx context.Context, store sheetstore.Store, name string) (*sheetstore.Table, bool, error) {
	t, err := store.ReadTable(ctx, name)
	if err != nil {
		if errors.Is(err, sheetstore.ErrTableNotFound) {
			return &sheetstore.Table{}, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return t, true, nil
}
