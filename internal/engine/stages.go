package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ginjaninja78/class-payment-reconciler/internal/discounts"
	"github.com/ginjaninja78/class-payment-reconciler/internal/invoices"
	"github.com/ginjaninja78/class-payment-reconciler/internal/master"
	"github.com/ginjaninja78/class-payment-reconciler/internal/matcher"
	"github.com/ginjaninja78/class-payment-reconciler/internal/rules"
	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/split"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
	"github.com/ginjaninja78/class-payment-reconciler/internal/validation"
	"github.com/ginjaninja78/class-payment-reconciler/pkg/utils"
)

// Sources is everything a pass reads from the store.
type Sources struct {
	Attendance []types.AttendanceRecord
	Payments   []types.PaymentRecord
	Rules      []types.Rule

	Discounts        []types.Discount
	DiscountsPresent bool

	Existing []types.MasterRow
	Edits    []types.PendingEdit

	// Issues found while loading, e.g. rules that fell back to the default
	// percentages.
	Issues []utils.IssueLogEntry
}

// Pass is the working state of one reconciliation run. Each stage fills in
// the fields the next one needs; slices indexed by attendance event have one
// entry per Sources.Attendance.
type Pass struct {
	ID        string
	StartedAt time.Time
	Options   RunOptions
	Sources   *Sources

	resolver   *rules.Resolver
	classifier *discounts.Classifier

	Keys         []string
	Skip         []bool
	SessionTypes []types.SessionType
	Rules        []*types.Rule
	Matches      *matcher.Result
	Discounts    []*types.Discount
	Prices       []*split.Result

	// Preserved counts manually verified rows left out of recomputation.
	Preserved int

	Fresh      []types.MasterRow
	Merged     []types.MasterRow
	MergeStats master.MergeStats
	Edits      master.EditResult
	Invoices   []types.InvoiceBalance

	Issues []utils.IssueLogEntry
}

func (p *Pass) issue(source string, row int, severity, field, value, msg string) {
	p.Issues = append(p.Issues, utils.IssueLogEntry{
		Timestamp: p.StartedAt,
		Source:    source,
		Row:       row,
		Severity:  severity,
		Field:     field,
		Value:     value,
		Message:   msg,
	})
}

// =============================================================================
// STAGE 1: LOAD
// =============================================================================

// LoadSources reads every table a pass needs. Missing optional sheets read
// as empty. Rules whose percentages are invalid fall back to the session-type
// defaults and are reported as issues; other rule and discount problems are
// reported but do not stop the run.
func (e *Engine) LoadSources(ctx context.Context) (*Sources, error) {
	src := &Sources{}
	var err error

	if src.Attendance, err = e.repos.Attendance.List(ctx); err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	if src.Payments, err = e.repos.Payments.List(ctx); err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}

	ruleList, problems, err := e.repos.Rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	src.Issues = append(src.Issues, validationIssues("rules", problems)...)
	src.Rules = e.sanitizeRules(ruleList, src)

	var discountProblems validation.Errors
	src.Discounts, src.DiscountsPresent, discountProblems, err = e.repos.Discounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load discounts: %w", err)
	}
	discountProblems = append(discountProblems, e.validator.ValidateDiscounts(src.Discounts)...)
	src.Issues = append(src.Issues, validationIssues("discounts", discountProblems)...)

	if src.Existing, err = e.repos.Master.List(ctx); err != nil {
		return nil, fmt.Errorf("failed to load master rows: %w", err)
	}
	if src.Edits, err = e.repos.Edits.List(ctx); err != nil {
		return nil, fmt.Errorf("failed to load pending edits: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"attendance": len(src.Attendance),
		"payments":   len(src.Payments),
		"rules":      len(src.Rules),
		"discounts":  len(src.Discounts),
		"master":     len(src.Existing),
		"edits":      len(src.Edits),
	}).Info("Sources loaded")
	return src, nil
}

// sanitizeRules validates each rule and replaces invalid percentages with the
// configured defaults for the rule's session type.
func (e *Engine) sanitizeRules(list []types.Rule, src *Sources) []types.Rule {
	out := make([]types.Rule, 0, len(list))
	for _, r := range list {
		errs := e.validator.ValidateRule(r)
		badPercent := false
		for _, ve := range errs {
			if strings.HasPrefix(ve.Field, "Percentages") {
				badPercent = true
			}
		}
		if badPercent {
			r.Percentages = e.cfg.Defaults.For(r.SessionType)
			e.logger.WithFields(logrus.Fields{
				"rule": r.Name,
				"row":  r.Row,
			}).Warn("Rule percentages invalid, using session-type defaults")
			src.Issues = append(src.Issues, utils.IssueLogEntry{
				Timestamp: e.now(),
				Source:    "rules",
				Row:       r.Row,
				Severity:  validation.SeverityWarning,
				Field:     "Percentages",
				Value:     r.Name,
				Message:   "percentages invalid, session-type defaults used",
			})
		}
		out = append(out, r)
	}
	return out
}

func validationIssues(source string, errs validation.Errors) []utils.IssueLogEntry {
	out := make([]utils.IssueLogEntry, 0, len(errs))
	for _, ve := range errs {
		out = append(out, utils.IssueLogEntry{
			Timestamp: time.Now(),
			Source:    source,
			Row:       ve.Row,
			Severity:  ve.Severity,
			Field:     ve.Field,
			Value:     ve.Value,
			Message:   ve.Error(),
		})
	}
	return out
}

// =============================================================================
// STAGE 2: MATCH
// =============================================================================

// Match assigns keys, decides which events are recomputed, resolves their
// rules and pairs them with payments.
func (e *Engine) Match(p *Pass) error {
	src := p.Sources
	n := len(src.Attendance)
	p.resolver = rules.NewResolver(src.Rules)

	existing := make(map[string]types.MasterRow, len(src.Existing))
	for _, row := range src.Existing {
		if row.UniqueKey != "" {
			existing[row.UniqueKey] = row
		}
	}
	preserve := e.cfg.Reconciliation.PreserveManual() && !p.Options.ForceReverify
	reserved := make(map[string]bool)

	keys := master.NewKeyGen(p.StartedAt)
	p.Keys = make([]string, n)
	p.Skip = make([]bool, n)
	p.SessionTypes = make([]types.SessionType, n)
	p.Rules = make([]*types.Rule, n)
	hints := make([][]string, n)
	weights := make([]decimal.Decimal, n)

	for i, att := range src.Attendance {
		p.Keys[i] = keys.Next(i, att)

		if !inRange(att, p.Options.Range) {
			p.Skip[i] = true
			continue
		}
		if old, ok := existing[p.Keys[i]]; ok && preserve && old.VerificationStatus == types.StatusManuallyVerified {
			p.Skip[i] = true
			p.Preserved++
			if old.InvoiceNumber != "" {
				reserved[old.InvoiceNumber] = true
			}
			continue
		}

		p.SessionTypes[i] = sessionTypeOf(att)
		if rule, ok := p.resolver.Resolve(att.Membership, p.SessionTypes[i]); ok {
			p.Rules[i] = &rule
			hints[i] = []string{rule.PaymentMemoAlias, rule.PackageName}
			weights[i] = split.UnitPrice(rule)
		} else {
			p.issue("attendance", att.Row, validation.SeverityWarning, "Membership Name", att.Membership,
				"no rule resolves this membership; package cannot be found")
		}
	}

	p.Matches = e.matcher.Match(matcher.Request{
		Attendance:       src.Attendance,
		Payments:         src.Payments,
		Skip:             p.Skip,
		ReservedInvoices: reserved,
		MemoHints:        hints,
		Weights:          weights,
	})
	for _, is := range p.Matches.Issues {
		p.issue(is.Source, is.Row, validation.SeverityWarning, "", is.Value, is.Message)
	}

	matched := 0
	for _, m := range p.Matches.Matches {
		if m.Matched() {
			matched++
		}
	}
	e.logger.WithFields(logrus.Fields{
		"run_id":     p.ID,
		"matched":    matched,
		"preserved":  p.Preserved,
		"unconsumed": len(p.Matches.Unconsumed),
	}).Info("Matching complete")
	return nil
}

// sessionTypeOf classifies by offering type, falling back to the membership.
func sessionTypeOf(att types.AttendanceRecord) types.SessionType {
	if strings.TrimSpace(att.OfferingType) != "" {
		return rules.ClassifySessionType(att.OfferingType)
	}
	return rules.ClassifySessionType(att.Membership)
}

// inRange keeps events with an unusable date only when no range is set.
func inRange(att types.AttendanceRecord, dr types.DateRange) bool {
	if dr.IsOpen() {
		return true
	}
	return att.DateErr == nil && dr.Contains(att.EventTime)
}

// =============================================================================
// STAGE 3: DISCOUNTS
// =============================================================================

// ClassifyDiscounts classifies the payment behind every matched event.
func (e *Engine) ClassifyDiscounts(p *Pass) error {
	src := p.Sources
	p.classifier = discounts.NewClassifier(src.Discounts, src.DiscountsPresent, e.cfg.Discounts, e.logger)
	invoiceDiscounts := discounts.ExtractInvoiceDiscounts(src.Payments)

	p.Discounts = make([]*types.Discount, len(src.Attendance))
	found := 0
	for i, m := range p.Matches.Matches {
		if !m.Matched() {
			continue
		}
		if dm, ok := p.classifier.ForPayment(src.Payments[m.Payment], invoiceDiscounts); ok {
			d := dm.Discount
			p.Discounts[i] = &d
			found++
		}
	}
	e.logger.WithField("discounted", found).Debug("Discounts classified")
	return nil
}

// =============================================================================
// STAGE 4: SPLITS
// =============================================================================

// ComputeSplits prices every recomputed event that resolved a rule.
func (e *Engine) ComputeSplits(p *Pass) error {
	p.Prices = make([]*split.Result, len(p.Sources.Attendance))
	for i, rule := range p.Rules {
		if p.Skip[i] || rule == nil {
			continue
		}
		res := split.Compute(*rule, p.Discounts[i], p.Matches.Matches[i].Matched())
		p.Prices[i] = &res
	}
	return nil
}

// =============================================================================
// STAGE 5: BUILD
// =============================================================================

// BuildMasterRows assembles the fresh rows in attendance order.
func (e *Engine) BuildMasterRows(p *Pass) error {
	src := p.Sources
	p.Fresh = make([]types.MasterRow, 0, len(src.Attendance))
	for i, att := range src.Attendance {
		if p.Skip[i] {
			continue
		}
		in := master.Input{
			Attendance:  att,
			Key:         p.Keys[i],
			SessionType: p.SessionTypes[i],
			Rule:        p.Rules[i],
			Discount:    p.Discounts[i],
			Price:       p.Prices[i],
		}
		if m := p.Matches.Matches[i]; m.Matched() {
			in.Payment = &src.Payments[m.Payment]
			in.PaymentAmount = m.Amount
			in.Method = m.Method
		}
		p.Fresh = append(p.Fresh, master.Build(in, p.StartedAt))
	}
	return nil
}

// =============================================================================
// STAGE 6: MERGE
// =============================================================================

// Merge folds the fresh rows into the stored ones, applies pending edits and
// recomputes invoice balances.
func (e *Engine) Merge(p *Pass) error {
	p.Merged, p.MergeStats = master.Merge(p.Sources.Existing, p.Fresh)

	if len(p.Sources.Edits) > 0 {
		p.Edits = master.ApplyEdits(p.Merged, p.Sources.Edits, p.StartedAt, e.repricer(p.resolver, p.classifier))
		for _, key := range p.Edits.Unknown {
			p.issue("pending_edits", 0, validation.SeverityWarning, "unique_key", key, "edit names no master row; dropped")
		}
		e.assignInvoices(p.Sources.Payments, p.Merged, p.Edits.Keys, p.StartedAt)
	}

	p.Invoices = e.invoiceBalances(p.Sources.Payments, p.Merged, p.resolver.Rules(), p.StartedAt)
	return nil
}

// repricer recomputes a row's priced fields from its rule and its (possibly
// overridden) discount name.
func (e *Engine) repricer(res *rules.Resolver, cls *discounts.Classifier) func(*types.MasterRow) {
	return func(row *types.MasterRow) {
		rule, ok := ruleFor(res, *row)
		if !ok {
			master.Price(row, nil, nil)
			return
		}

		name := row.DiscountName
		var discount *types.Discount
		if name != "" {
			if d, found := cls.Lookup(name); found {
				if d.CoachPaymentType == types.CoachPaymentPartial && d.ApplicablePercentage.IsZero() {
					d.ApplicablePercentage = row.DiscountPercentage
				}
				discount = &d
			} else {
				e.logger.WithFields(logrus.Fields{
					"key":      row.UniqueKey,
					"discount": name,
				}).Warn("Discount not recognised, row priced without it")
			}
		}
		master.Price(row, &rule, discount)
		if discount != nil && !rule.AllowDiscounts {
			e.logger.WithFields(logrus.Fields{
				"key":      row.UniqueKey,
				"discount": name,
				"rule":     rule.ID,
			}).Warn("Rule does not allow discounts, row priced without it")
		}
		if row.DiscountName == "" {
			row.DiscountName = name
		}
	}
}

// assignInvoices gives every edited row that still has no invoice the
// customer's earliest invoice with enough balance left, and returns how many
// rows it filled.
func (e *Engine) assignInvoices(payments []types.PaymentRecord, rows []types.MasterRow, keys []string, now time.Time) int {
	if len(keys) == 0 {
		return 0
	}
	edited := make(map[string]bool, len(keys))
	for _, k := range keys {
		edited[k] = true
	}

	tr := invoices.New(payments, e.cfg.Matching.FeeKeywords)
	tr.ConsumeAll(rows)
	stamp := now.UTC().Format(time.RFC3339)
	filled := 0
	for i := range rows {
		row := &rows[i]
		if !edited[row.UniqueKey] || strings.TrimSpace(row.InvoiceNumber) != "" {
			continue
		}
		b, ok := tr.BestAvailable(row.Customer, row.EffectiveAmount)
		if !ok {
			continue
		}
		row.InvoiceNumber = b.InvoiceNumber
		row.PaymentDate = b.PaymentDate
		master.AppendHistory(row, stamp, "reconciler", fmt.Sprintf("invoice %q assigned", b.InvoiceNumber))
		tr.Consume(*row)
		filled++
		e.logger.WithFields(logrus.Fields{
			"key":     row.UniqueKey,
			"invoice": b.InvoiceNumber,
		}).Info("Invoice assigned to edited row")
	}
	return filled
}

// ruleFor finds the rule a stored row was priced with, resolving it again
// from the membership when the id is gone.
func ruleFor(res *rules.Resolver, row types.MasterRow) (types.Rule, bool) {
	if row.RuleID != "" {
		if rule, ok := res.ByID(row.RuleID); ok {
			return rule, true
		}
	}
	st := row.SessionType
	if st == "" {
		st = rules.ClassifySessionType(row.OfferingType)
	}
	return res.Resolve(row.Membership, st)
}

func (e *Engine) invoiceBalances(payments []types.PaymentRecord, rows []types.MasterRow, ruleList []types.Rule, now time.Time) []types.InvoiceBalance {
	tr := invoices.New(payments, e.cfg.Matching.FeeKeywords)
	tr.ConsumeAll(rows)

	var prices []decimal.Decimal
	for _, r := range ruleList {
		if u := split.UnitPrice(r); u.IsPositive() {
			prices = append(prices, u)
		}
	}
	fallback := decimal.Zero
	if len(prices) > 0 {
		fallback = decimal.Avg(prices[0], prices[1:]...)
	}
	return tr.Balances(now, fallback)
}

// =============================================================================
// STAGE 7: PERSIST
// =============================================================================

// Persist writes the master sheet, the invoice sheet and, when edits were
// consumed, an emptied pending edits sheet in a single batch. Dry runs write
// nothing.
func (e *Engine) Persist(ctx context.Context, p *Pass) error {
	if p.Options.DryRun {
		e.logger.WithField("run_id", p.ID).Info("Dry run, nothing written")
		return nil
	}

	tables := map[string]*sheetstore.Table{
		e.repos.Master.Sheet():   e.repos.Master.Table(p.Merged),
		e.repos.Invoices.Sheet(): e.repos.Invoices.Table(p.Invoices),
	}
	if len(p.Sources.Edits) > 0 {
		tables[e.repos.Edits.Sheet()] = e.repos.Edits.Table(nil)
	}
	if err := sheetstore.WriteAll(ctx, e.store, tables); err != nil {
		return fmt.Errorf("failed to persist results: %w", err)
	}
	return nil
}
