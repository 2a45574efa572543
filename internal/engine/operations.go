package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ginjaninja78/class-payment-reconciler/internal/aggregate"
	"github.com/ginjaninja78/class-payment-reconciler/internal/discounts"
	"github.com/ginjaninja78/class-payment-reconciler/internal/logging"
	"github.com/ginjaninja78/class-payment-reconciler/internal/master"
	"github.com/ginjaninja78/class-payment-reconciler/internal/rules"
	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// =============================================================================
// DISCOUNT MAINTENANCE
// =============================================================================

// pricing loads the rule resolver and discount classifier for operations
// that reprice stored rows.
func (e *Engine) pricing(ctx context.Context) (*Sources, *rules.Resolver, *discounts.Classifier, error) {
	src, err := e.LoadSources(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	res := rules.NewResolver(src.Rules)
	cls := discounts.NewClassifier(src.Discounts, src.DiscountsPresent, e.cfg.Discounts, e.logger)
	return src, res, cls, nil
}

// ApplyDiscounts re-classifies the payment behind every stored row that has
// an invoice and reprices the rows whose discount changed. Manually verified
// rows keep their discount. It returns the number of rows changed.
func (e *Engine) ApplyDiscounts(ctx context.Context, dryRun bool) (int, error) {
	unlock, err := e.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	src, res, cls, err := e.pricing(ctx)
	if err != nil {
		return 0, err
	}
	invoiceDiscounts := discounts.ExtractInvoiceDiscounts(src.Payments)

	byInvoice := make(map[string]types.PaymentRecord)
	for _, p := range src.Payments {
		if p.Invoice == "" || p.Invalid != "" || !p.Amount.IsPositive() {
			continue
		}
		if _, seen := byInvoice[p.Invoice]; !seen {
			byInvoice[p.Invoice] = p
		}
	}

	rows := src.Existing
	changed := 0
	for i := range rows {
		row := &rows[i]
		if row.VerificationStatus == types.StatusManuallyVerified || row.InvoiceNumber == "" {
			continue
		}
		pay, ok := byInvoice[row.InvoiceNumber]
		if !ok {
			continue
		}
		rule, ok := ruleFor(res, *row)
		if !ok {
			continue
		}

		var discount *types.Discount
		if m, ok := cls.ForPayment(pay, invoiceDiscounts); ok {
			discount = &m.Discount
		}
		before := *row
		master.Price(row, &rule, discount)
		if row.DiscountName == before.DiscountName && sameAmounts(before, *row) {
			continue
		}
		row.UpdatedAt = e.stamp()
		changed++
	}

	e.logger.WithFields(logrus.Fields{"changed": changed, "dry_run": dryRun}).Info("Discounts applied")
	if dryRun || changed == 0 {
		return changed, nil
	}
	return changed, e.repos.Master.Replace(ctx, rows)
}

// RecalculateDiscountedAmounts reprices every stored row from its rule and
// its current discount name, without re-classifying memos. It returns the
// number of rows whose amounts changed.
func (e *Engine) RecalculateDiscountedAmounts(ctx context.Context, dryRun bool) (int, error) {
	unlock, err := e.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	src, res, cls, err := e.pricing(ctx)
	if err != nil {
		return 0, err
	}

	rows := src.Existing
	reprice := e.repricer(res, cls)
	changed := 0
	for i := range rows {
		before := rows[i]
		reprice(&rows[i])
		if !sameAmounts(before, rows[i]) {
			rows[i].UpdatedAt = e.stamp()
			changed++
		}
	}

	e.logger.WithFields(logrus.Fields{"changed": changed, "dry_run": dryRun}).Info("Discounted amounts recalculated")
	if dryRun || changed == 0 {
		return changed, nil
	}
	return changed, e.repos.Master.Replace(ctx, rows)
}

func sameAmounts(a, b types.MasterRow) bool {
	return a.SessionPrice.Equal(b.SessionPrice) &&
		a.DiscountedSessionPrice.Equal(b.DiscountedSessionPrice) &&
		a.EffectiveAmount.Equal(b.EffectiveAmount) &&
		a.CoachAmount.Equal(b.CoachAmount) &&
		a.BgmAmount.Equal(b.BgmAmount) &&
		a.ManagementAmount.Equal(b.ManagementAmount) &&
		a.MfcAmount.Equal(b.MfcAmount) &&
		a.DiscountType == b.DiscountType
}

// =============================================================================
// MASTER DATA
// =============================================================================

// Upsert merges rows into the stored master sheet by unique key and returns
// how many rows were added or updated.
func (e *Engine) Upsert(ctx context.Context, rows []types.MasterRow) (int, error) {
	unlock, err := e.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	existing, err := e.repos.Master.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load master rows: %w", err)
	}
	stamp := e.stamp()
	for i := range rows {
		if rows[i].CreatedAt == "" {
			rows[i].CreatedAt = stamp
		}
		if rows[i].UpdatedAt == "" {
			rows[i].UpdatedAt = stamp
		}
	}

	merged, stats := master.Merge(existing, rows)
	if err := e.repos.Master.Replace(ctx, merged); err != nil {
		return 0, err
	}
	e.logger.WithFields(logrus.Fields{"added": stats.Added, "updated": stats.Updated}).Info("Master rows upserted")
	return stats.Added + stats.Updated, nil
}

// ClearMaster empties the master sheet. This is the only operation that
// removes master rows.
func (e *Engine) ClearMaster(ctx context.Context) error {
	unlock, err := e.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.repos.Master.Clear(ctx); err != nil {
		return err
	}
	e.logger.Warn("Master sheet cleared")
	return nil
}

// =============================================================================
// MANUAL EDITS
// =============================================================================

// QueueEdit buffers a manual correction for the next run or the next
// ApplyPendingEdits. The key must name an existing master row.
func (e *Engine) QueueEdit(ctx context.Context, edit types.PendingEdit) (types.PendingEdit, error) {
	rows, err := e.repos.Master.List(ctx)
	if err != nil {
		return types.PendingEdit{}, fmt.Errorf("failed to load master rows: %w", err)
	}
	key := strings.TrimSpace(edit.UniqueKey)
	found := false
	for _, r := range rows {
		if r.UniqueKey == key {
			found = true
			break
		}
	}
	if !found && key != "" {
		return types.PendingEdit{}, fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}
	edit.UniqueKey = key
	return e.repos.Edits.Queue(ctx, edit)
}

// ApplyPendingEdits applies every queued edit to the master sheet and clears
// the queue, in one write.
func (e *Engine) ApplyPendingEdits(ctx context.Context) (master.EditResult, error) {
	unlock, err := e.lock()
	if err != nil {
		return master.EditResult{}, err
	}
	defer unlock()

	src, res, cls, err := e.pricing(ctx)
	if err != nil {
		return master.EditResult{}, err
	}
	if len(src.Edits) == 0 {
		return master.EditResult{}, nil
	}

	rows := src.Existing
	result := master.ApplyEdits(rows, src.Edits, e.now(), e.repricer(res, cls))
	for _, key := range result.Unknown {
		e.logger.WithField("key", key).Warn("Edit names no master row, dropped")
	}
	e.assignInvoices(src.Payments, rows, result.Keys, e.now())

	tables := map[string]*sheetstore.Table{
		e.repos.Master.Sheet(): e.repos.Master.Table(rows),
		e.repos.Edits.Sheet():  e.repos.Edits.Table(nil),
	}
	if err := sheetstore.WriteAll(ctx, e.store, tables); err != nil {
		logging.LogError(e.logger, "engine", "ApplyPendingEdits", "persist", len(src.Edits), err)
		return master.EditResult{}, fmt.Errorf("failed to persist edits: %w", err)
	}
	e.logger.WithField("applied", result.Applied).Info("Pending edits applied")
	return result, nil
}

// =============================================================================
// REPORTING
// =============================================================================

// AggregateByCoach summarises the stored master rows per coach.
func (e *Engine) AggregateByCoach(ctx context.Context, dr types.DateRange) (aggregate.Report, error) {
	if !dr.Valid() {
		return aggregate.Report{}, ErrInvalidDateRange
	}
	rows, err := e.repos.Master.List(ctx)
	if err != nil {
		return aggregate.Report{}, fmt.Errorf("failed to load master rows: %w", err)
	}
	return aggregate.Aggregate(rows, dr), nil
}

// CoachSessions lists one coach's sessions from the stored master rows.
func (e *Engine) CoachSessions(ctx context.Context, coach string, dr types.DateRange) ([]aggregate.SessionDetail, error) {
	if !dr.Valid() {
		return nil, ErrInvalidDateRange
	}
	rows, err := e.repos.Master.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load master rows: %w", err)
	}
	return aggregate.CoachSessions(rows, coach, dr), nil
}

// Invoices returns the stored invoice balances. When no run has written them
// yet they are computed from the payments and master sheets.
func (e *Engine) Invoices(ctx context.Context) ([]types.InvoiceBalance, error) {
	stored, err := e.repos.Invoices.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	if len(stored) > 0 {
		return stored, nil
	}

	src, err := e.LoadSources(ctx)
	if err != nil {
		return nil, err
	}
	return e.invoiceBalances(src.Payments, src.Existing, src.Rules, e.now()), nil
}

func (e *Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}
