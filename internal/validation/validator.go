// =============================================================================
// Class Payment Reconciler - Validation Engine
// =============================================================================
//
// This module validates rules and discounts before they are written to the
// workbook, and again when they are loaded for a reconciliation run.
//
// VALIDATION STRATEGY:
//   1. Field-level: struct tags checked by go-playground/validator
//      (required fields, non-negative prices, percentages in 0..100)
//   2. Record-level: struct-level rules (percentages total 100 within 0.01,
//      a unit price must be derivable)
//   3. Set-level: duplicates across the whole sheet
//
// ERROR HANDLING:
//   - Errors are collected, not thrown immediately
//   - Each error carries the sheet row, field, offending value and rule
//   - "error" severity blocks a save; "warning" is reported only
//   - Errors (the slice type) implements error, so a failed save returns the
//     whole machine-checkable list
//
// =============================================================================

package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/textnorm"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

var (
	hundred          = decimal.NewFromInt(100)
	percentTolerance = decimal.RequireFromString("0.01")
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation problem.
type ValidationError struct {
	// Severity is "error" (blocks the save) or "warning".
	Severity string

	// Entity names the record, e.g. `rule "Adult 10 Pack"`.
	Entity string

	// Field is the name of the field that failed validation.
	Field string

	// Value is the offending value.
	Value string

	// Rule is the constraint that was violated, e.g. "sum100".
	Rule string

	// Message is a human-readable description.
	Message string

	// Row is the 1-based sheet row, or 0 when unknown.
	Row int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", strings.ToUpper(e.Severity))
	if e.Row > 0 {
		fmt.Fprintf(&b, "row %d, ", e.Row)
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, "%s, ", e.Entity)
	}
	fmt.Fprintf(&b, "field '%s': %s", e.Field, e.Message)
	if e.Value != "" {
		fmt.Fprintf(&b, " (value: '%s')", e.Value)
	}
	return b.String()
}

// Errors is an aggregated list of problems. It implements error.
type Errors []*ValidationError

// Error implements the error interface.
func (es Errors) Error() string {
	return FormatErrors(es)
}

// Fatal returns only the error-severity entries.
func (es Errors) Fatal() Errors {
	var out Errors
	for _, e := range es {
		if e.Severity == SeverityError {
			out = append(out, e)
		}
	}
	return out
}

// Warnings returns only the warning-severity entries.
func (es Errors) Warnings() Errors {
	var out Errors
	for _, e := range es {
		if e.Severity == SeverityWarning {
			out = append(out, e)
		}
	}
	return out
}

// HasFatal reports whether any entry blocks a save.
func (es Errors) HasFatal() bool {
	return len(es.Fatal()) > 0
}

// Err returns the fatal entries as an error, or nil.
func (es Errors) Err() error {
	if f := es.Fatal(); len(f) > 0 {
		return f
	}
	return nil
}

// FormatErrors renders errors as a numbered list.
func FormatErrors(errs []*ValidationError) string {
	if len(errs) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Validation completed with %d problem(s):\n", len(errs)))
	for i, err := range errs {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator checks rules and discounts.
type Validator struct {
	v *validator.Validate
}

// New builds a Validator with the decimal type and the struct-level rules
// registered.
func New() *Validator {
	v := validator.New()
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	v.RegisterStructValidation(ruleStructLevel, types.Rule{})
	v.RegisterStructValidation(discountStructLevel, types.Discount{})
	return &Validator{v: v}
}

// decimalValue lets numeric tags such as gte/lte apply to decimal fields.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

func ruleStructLevel(sl validator.StructLevel) {
	r := sl.Current().Interface().(types.Rule)

	sum := r.Percentages.Sum()
	if sum.Sub(hundred).Abs().GreaterThan(percentTolerance) {
		sl.ReportError(sum.String(), "Percentages", "Percentages", "sum100", "")
	}

	priced := r.UnitPrice.IsPositive() || (r.IsFixedRate && r.FixedRate.IsPositive())
	if !priced && r.Price.IsPositive() && r.Sessions < 1 && r.SessionsPerPack < 1 {
		sl.ReportError(r.Sessions, "Sessions", "Sessions", "min_sessions", "1")
	}
}

func discountStructLevel(sl validator.StructLevel) {
	d := sl.Current().Interface().(types.Discount)
	if d.MatchType == types.MatchRegex {
		if _, err := regexp.Compile("(?i)" + d.Code); err != nil {
			sl.ReportError(d.Code, "Code", "Code", "regex", "")
		}
	}
}

// ValidateRule checks a single rule.
func (v *Validator) ValidateRule(r types.Rule) Errors {
	entity := fmt.Sprintf("rule %q", firstNonEmpty(r.Name, r.PackageName, r.ID))
	return v.translate(v.v.Struct(r), entity, r.Row)
}

// ValidateRules checks every rule and the set as a whole.
func (v *Validator) ValidateRules(rules []types.Rule) Errors {
	var errs Errors
	seenID := make(map[string]int)
	seenKey := make(map[string]int)

	for _, r := range rules {
		errs = append(errs, v.ValidateRule(r)...)

		if r.ID != "" {
			if prev, ok := seenID[r.ID]; ok {
				errs = append(errs, &ValidationError{
					Severity: SeverityError,
					Entity:   fmt.Sprintf("rule %q", r.Name),
					Field:    "ID",
					Value:    r.ID,
					Rule:     "unique",
					Message:  fmt.Sprintf("duplicate id, first used on row %d", prev),
					Row:      r.Row,
				})
			} else {
				seenID[r.ID] = r.Row
			}
		}

		key := textnorm.Key(firstNonEmpty(r.AttendanceAlias, r.PackageName)) + "|" + string(r.SessionType)
		if prev, ok := seenKey[key]; ok {
			errs = append(errs, &ValidationError{
				Severity: SeverityWarning,
				Entity:   fmt.Sprintf("rule %q", r.Name),
				Field:    "PackageName",
				Value:    r.PackageName,
				Rule:     "shadowed",
				Message:  fmt.Sprintf("never used; row %d matches the same package and session type first", prev),
				Row:      r.Row,
			})
		} else {
			seenKey[key] = r.Row
		}
	}
	return errs
}

// ValidateDiscount checks a single discount.
func (v *Validator) ValidateDiscount(d types.Discount) Errors {
	entity := fmt.Sprintf("discount %q", firstNonEmpty(d.Name, d.Code, d.ID))
	return v.translate(v.v.Struct(d), entity, d.Row)
}

// ValidateDiscounts checks every discount and the set as a whole.
func (v *Validator) ValidateDiscounts(discounts []types.Discount) Errors {
	var errs Errors
	seen := make(map[string]int)
	for _, d := range discounts {
		errs = append(errs, v.ValidateDiscount(d)...)

		key := string(d.MatchType) + "|" + textnorm.Key(d.Code)
		if prev, ok := seen[key]; ok && d.Active {
			errs = append(errs, &ValidationError{
				Severity: SeverityWarning,
				Entity:   fmt.Sprintf("discount %q", d.DisplayName()),
				Field:    "Code",
				Value:    d.Code,
				Rule:     "shadowed",
				Message:  fmt.Sprintf("never used; row %d has the same code and match type", prev),
				Row:      d.Row,
			})
		} else if d.Active {
			seen[key] = d.Row
		}
	}
	return errs
}

// translate converts validator output into Errors.
func (v *Validator) translate(err error, entity string, row int) Errors {
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return Errors{{Severity: SeverityError, Entity: entity, Message: err.Error(), Row: row}}
	}

	out := make(Errors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, &ValidationError{
			Severity: SeverityError,
			Entity:   entity,
			Field:    fieldPath(fe.Namespace()),
			Value:    fmt.Sprint(fe.Value()),
			Rule:     fe.Tag(),
			Message:  message(fe),
			Row:      row,
		})
	}
	return out
}

// fieldPath drops the struct name prefix: "Rule.Percentages.Coach" becomes
// "Percentages.Coach".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "sum100":
		return "percentages must total 100"
	case "min_sessions":
		return "sessions must be at least 1 when no unit price is given"
	case "regex":
		return "is not a valid regular expression"
	default:
		return fmt.Sprintf("failed the %q check", fe.Tag())
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
