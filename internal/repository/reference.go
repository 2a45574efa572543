package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/sheetstore"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
	"github.com/ginjaninja78/class-payment-reconciler/internal/validation"
)

// ErrNotFound is returned when an id does not exist.
var ErrNotFound = errors.New("record not found")

// RuleHeaders is the column order of the rules sheet.
var RuleHeaders = []string{
	"id", "rule_name", "package_name", "session_type", "price", "sessions", "sessions_per_pack",
	"unit_price", "coach_percentage", "bgm_percentage", "management_percentage", "mfc_percentage",
	"is_fixed_rate", "fixed_rate", "allow_discounts", "attendance_alias", "payment_memo_alias", "notes",
}

var ruleAliases = newAliasSet(map[string][]string{
	"id":                    {"rule_id"},
	"rule_name":             {"name", "rule"},
	"package_name":          {"package", "membership", "membership_name"},
	"session_type":          {"type", "class_type"},
	"price":                 {"package_price"},
	"sessions":              {"session_count", "num_sessions"},
	"sessions_per_pack":     {"pack_size"},
	"unit_price":            {"session_price", "price_per_session"},
	"coach_percentage":      {"coach_pct", "coach %", "coach"},
	"bgm_percentage":        {"bgm_pct", "bgm %", "bgm"},
	"management_percentage": {"management_pct", "management %", "mgmt_percentage", "management"},
	"mfc_percentage":        {"mfc_pct", "mfc %", "mfc"},
	"is_fixed_rate":         {"fixed"},
	"fixed_rate":            {"rate"},
	"allow_discounts":       {"discounts_allowed"},
	"attendance_alias":      {"alias"},
	"payment_memo_alias":    {"memo_alias"},
	"notes":                 {"note", "comments"},
})

// DiscountHeaders is the column order of the discounts sheet.
var DiscountHeaders = []string{
	"id", "discount_code", "name", "applicable_percentage", "coach_payment_type", "match_type", "active", "notes",
}

var discountAliases = newAliasSet(map[string][]string{
	"id":                    {"discount_id"},
	"discount_code":         {"code", "pattern", "memo"},
	"name":                  {"discount_name", "discount"},
	"applicable_percentage": {"percentage", "discount_percentage", "pct"},
	"coach_payment_type":    {"payment_type", "coach_payment"},
	"match_type":            {"match"},
	"active":                {"enabled", "is_active"},
	"notes":                 {"note", "comments"},
})

// =============================================================================
// RULES
// =============================================================================

// RuleRepo reads and writes the rules sheet.
type RuleRepo struct {
	store     sheetstore.Store
	sheet     string
	validator *validation.Validator
	defaults  func(types.SessionType) types.Percentages
}

// List parses every rule. Cells that cannot be parsed are reported in the
// returned Errors and read as zero; the rule is still returned. A rule with
// all four percentages blank takes the configured defaults for its session
// type.
func (r *RuleRepo) List(ctx context.Context) ([]types.Rule, validation.Errors, error) {
	t, _, err := readOrEmpty(ctx, r.store, r.sheet)
	if err != nil {
		return nil, nil, err
	}

	rules := make([]types.Rule, 0, len(t.Rows))
	var problems validation.Errors
	for i, raw := range t.Rows {
		row := ruleAliases.normalize(raw)
		p := cellParser{entity: fmt.Sprintf("rule %q", row["rule_name"]), row: i + 1}

		rule := types.Rule{
			ID:               row["id"],
			Name:             row["rule_name"],
			PackageName:      row["package_name"],
			SessionType:      types.ParseSessionType(row["session_type"]),
			Price:            p.amount("price", row["price"]),
			Sessions:         p.count("sessions", row["sessions"]),
			SessionsPerPack:  p.count("sessions_per_pack", row["sessions_per_pack"]),
			UnitPrice:        p.amount("unit_price", row["unit_price"]),
			IsFixedRate:      types.ParseBool(row["is_fixed_rate"], false),
			FixedRate:        p.amount("fixed_rate", row["fixed_rate"]),
			AllowDiscounts:   types.ParseBool(row["allow_discounts"], true),
			AttendanceAlias:  row["attendance_alias"],
			PaymentMemoAlias: row["payment_memo_alias"],
			Notes:            row["notes"],
			Row:              i + 1,
		}
		if rule.Name == "" {
			rule.Name = rule.PackageName
		}

		var blank int
		rule.Percentages.Coach = p.percent("coach_percentage", row["coach_percentage"], &blank)
		rule.Percentages.Bgm = p.percent("bgm_percentage", row["bgm_percentage"], &blank)
		rule.Percentages.Management = p.percent("management_percentage", row["management_percentage"], &blank)
		rule.Percentages.Mfc = p.percent("mfc_percentage", row["mfc_percentage"], &blank)
		if blank == 4 && r.defaults != nil {
			rule.Percentages = r.defaults(rule.SessionType)
		}

		rules = append(rules, rule)
		problems = append(problems, p.errs...)
	}
	return rules, problems, nil
}

// Save validates the whole set and replaces the sheet. Nothing is written
// when any rule has an error-severity problem; the returned error is then a
// validation.Errors.
func (r *RuleRepo) Save(ctx context.Context, rules []types.Rule) (validation.Errors, error) {
	errs := r.validator.ValidateRules(rules)
	if errs.HasFatal() {
		return errs, errs.Err()
	}

	t := sheetstore.NewTable(RuleHeaders...)
	for _, rule := range rules {
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		t.Append(sheetstore.Row{
			"id":                    rule.ID,
			"rule_name":             rule.Name,
			"package_name":          rule.PackageName,
			"session_type":          string(rule.SessionType),
			"price":                 types.Money(rule.Price),
			"sessions":              strconv.Itoa(rule.Sessions),
			"sessions_per_pack":     strconv.Itoa(rule.SessionsPerPack),
			"unit_price":            types.Money(rule.UnitPrice),
			"coach_percentage":      rule.Percentages.Coach.String(),
			"bgm_percentage":        rule.Percentages.Bgm.String(),
			"management_percentage": rule.Percentages.Management.String(),
			"mfc_percentage":        rule.Percentages.Mfc.String(),
			"is_fixed_rate":         strconv.FormatBool(rule.IsFixedRate),
			"fixed_rate":            types.Money(rule.FixedRate),
			"allow_discounts":       strconv.FormatBool(rule.AllowDiscounts),
			"attendance_alias":      rule.AttendanceAlias,
			"payment_memo_alias":    rule.PaymentMemoAlias,
			"notes":                 rule.Notes,
		})
	}
	if err := r.store.WriteTable(ctx, r.sheet, t); err != nil {
		return errs, fmt.Errorf("failed to write %s: %w", r.sheet, err)
	}
	return errs, nil
}

// Put inserts a rule, or replaces the rule with the same id.
func (r *RuleRepo) Put(ctx context.Context, rule types.Rule) (validation.Errors, error) {
	rules, _, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	replaced := false
	for i := range rules {
		if rule.ID != "" && rules[i].ID == rule.ID {
			rule.Row = rules[i].Row
			rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		rule.Row = len(rules) + 1
		rules = append(rules, rule)
	}
	return r.Save(ctx, rules)
}

// Delete removes the rule with the given id.
func (r *RuleRepo) Delete(ctx context.Context, id string) error {
	rules, _, err := r.List(ctx)
	if err != nil {
		return err
	}
	for i := range rules {
		if rules[i].ID == id {
			_, err := r.Save(ctx, append(rules[:i], rules[i+1:]...))
			return err
		}
	}
	return ErrNotFound
}

// =============================================================================
// DISCOUNTS
// =============================================================================

// DiscountRepo reads and writes the discounts sheet.
type DiscountRepo struct {
	store     sheetstore.Store
	sheet     string
	validator *validation.Validator
}

// List parses every discount. found is false when the sheet does not exist,
// which switches classification to the keyword fallback.
func (r *DiscountRepo) List(ctx context.Context) (discounts []types.Discount, found bool, problems validation.Errors, err error) {
	t, found, err := readOrEmpty(ctx, r.store, r.sheet)
	if err != nil {
		return nil, false, nil, err
	}

	discounts = make([]types.Discount, 0, len(t.Rows))
	for i, raw := range t.Rows {
		row := discountAliases.normalize(raw)
		p := cellParser{entity: fmt.Sprintf("discount %q", row["discount_code"]), row: i + 1}

		var blank int
		d := types.Discount{
			ID:                   row["id"],
			Code:                 row["discount_code"],
			Name:                 row["name"],
			ApplicablePercentage: p.percent("applicable_percentage", row["applicable_percentage"], &blank),
			CoachPaymentType:     types.ParseCoachPaymentType(row["coach_payment_type"]),
			MatchType:            types.ParseMatchType(row["match_type"]),
			Active:               types.ParseBool(row["active"], true),
			Notes:                row["notes"],
			Row:                  i + 1,
		}
		if d.CoachPaymentType == types.CoachPaymentNone && row["coach_payment_type"] != "" {
			p.fail("coach_payment_type", row["coach_payment_type"], "oneof", "must be one of: full partial free")
		}
		discounts = append(discounts, d)
		problems = append(problems, p.errs...)
	}
	return discounts, found, problems, nil
}

// Save validates the whole set and replaces the sheet. Nothing is written
// when any discount has an error-severity problem.
func (r *DiscountRepo) Save(ctx context.Context, discounts []types.Discount) (validation.Errors, error) {
	errs := r.validator.ValidateDiscounts(discounts)
	if errs.HasFatal() {
		return errs, errs.Err()
	}

	t := sheetstore.NewTable(DiscountHeaders...)
	for _, d := range discounts {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		t.Append(sheetstore.Row{
			"id":                    d.ID,
			"discount_code":         d.Code,
			"name":                  d.Name,
			"applicable_percentage": d.ApplicablePercentage.String(),
			"coach_payment_type":    string(d.CoachPaymentType),
			"match_type":            string(d.MatchType),
			"active":                strconv.FormatBool(d.Active),
			"notes":                 d.Notes,
		})
	}
	if err := r.store.WriteTable(ctx, r.sheet, t); err != nil {
		return errs, fmt.Errorf("failed to write %s: %w", r.sheet, err)
	}
	return errs, nil
}

// Put inserts a discount, or replaces the discount with the same id.
func (r *DiscountRepo) Put(ctx context.Context, d types.Discount) (validation.Errors, error) {
	discounts, _, _, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	replaced := false
	for i := range discounts {
		if d.ID != "" && discounts[i].ID == d.ID {
			d.Row = discounts[i].Row
			discounts[i] = d
			replaced = true
			break
		}
	}
	if !replaced {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.Row = len(discounts) + 1
		discounts = append(discounts, d)
	}
	return r.Save(ctx, discounts)
}

// Delete removes the discount with the given id.
func (r *DiscountRepo) Delete(ctx context.Context, id string) error {
	discounts, _, _, err := r.List(ctx)
	if err != nil {
		return err
	}
	for i := range discounts {
		if discounts[i].ID == id {
			_, err := r.Save(ctx, append(discounts[:i], discounts[i+1:]...))
			return err
		}
	}
	return ErrNotFound
}

// =============================================================================
// CELL PARSING
// =============================================================================

// cellParser converts cells and collects a ValidationError per bad cell.
type cellParser struct {
	entity string
	row    int
	errs   validation.Errors
}

func (p *cellParser) fail(field, value, rule, msg string) {
	p.errs = append(p.errs, &validation.ValidationError{
		Severity: validation.SeverityError,
		Entity:   p.entity,
		Field:    field,
		Value:    value,
		Rule:     rule,
		Message:  msg,
		Row:      p.row,
	})
}

func (p *cellParser) amount(field, s string) decimal.Decimal {
	d, err := types.ParseAmount(s)
	if err != nil && !errors.Is(err, types.ErrEmptyValue) {
		p.fail(field, s, "number", "is not a number")
	}
	return d
}

func (p *cellParser) count(field, s string) int {
	n, err := types.ParseCount(s)
	if err != nil && !errors.Is(err, types.ErrEmptyValue) {
		p.fail(field, s, "number", "is not a whole number")
	}
	return n
}

// percent parses a percentage cell and counts blanks.
func (p *cellParser) percent(field, s string, blank *int) decimal.Decimal {
	d, err := types.ParsePercent(s)
	switch {
	case errors.Is(err, types.ErrEmptyValue):
		*blank++
	case err != nil:
		p.fail(field, s, "number", "is not a percentage")
	}
	return d
}
