// =============================================================================
// Class Payment Reconciler - Shared Types
// =============================================================================
//
// This package contains the canonical record shapes shared by every stage of
// the reconciliation pipeline. Repositories normalize raw sheet rows into these
// types immediately after reading, so business logic never branches on header
// spellings.
//
// Types defined here are used by:
//   - repository (sheet <-> record mapping)
//   - rules, discounts, matcher, split (the core algorithms)
//   - master, aggregate, invoices, engine (assembly and reporting)
//
// =============================================================================

package types

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// SessionType distinguishes group classes from private (1 to 1) sessions.
type SessionType string

const (
	SessionGroup   SessionType = "group"
	SessionPrivate SessionType = "private"
)

// ParseSessionType maps free text onto a SessionType. Anything starting with
// "priv" is private; everything else, including an empty value, is group.
func ParseSessionType(s string) SessionType {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "priv") {
		return SessionPrivate
	}
	return SessionGroup
}

// VerificationStatus is the reconciliation state of a master row.
type VerificationStatus string

const (
	StatusUnmatched        VerificationStatus = ""
	StatusVerified         VerificationStatus = "Verified"
	StatusNotVerified      VerificationStatus = "Not Verified"
	StatusManuallyVerified VerificationStatus = "Manually verified"
	StatusPackageNotFound  VerificationStatus = "Package Cannot be found"
)

// ParseVerificationStatus accepts the spellings found in hand-edited sheets.
func ParseVerificationStatus(s string) VerificationStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verified":
		return StatusVerified
	case "not verified", "unverified":
		return StatusNotVerified
	case "manually verified", "manual":
		return StatusManuallyVerified
	case "package cannot be found", "package not found":
		return StatusPackageNotFound
	default:
		return StatusUnmatched
	}
}

// IsMatched reports whether revenue is recognised for a row in this state.
func (s VerificationStatus) IsMatched() bool {
	return s == StatusVerified || s == StatusManuallyVerified
}

// CoachPaymentType tells the split calculator how a discount affects revenue.
type CoachPaymentType string

const (
	CoachPaymentNone    CoachPaymentType = ""
	CoachPaymentFull    CoachPaymentType = "full"
	CoachPaymentPartial CoachPaymentType = "partial"
	CoachPaymentFree    CoachPaymentType = "free"
)

// ParseCoachPaymentType returns CoachPaymentNone for unknown values.
func ParseCoachPaymentType(s string) CoachPaymentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return CoachPaymentFull
	case "partial":
		return CoachPaymentPartial
	case "free":
		return CoachPaymentFree
	default:
		return CoachPaymentNone
	}
}

// MatchType is the memo matching strategy of a discount definition.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)

// ParseMatchType defaults to exact, which is the safest interpretation of an
// empty cell.
func ParseMatchType(s string) MatchType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "contains", "partial":
		return MatchContains
	case "regex", "regexp", "pattern":
		return MatchRegex
	default:
		return MatchExact
	}
}

// MatchMethod records how the matcher paired an attendance event with money.
type MatchMethod string

const (
	MatchNone      MatchMethod = ""
	MatchDirect    MatchMethod = "direct"
	MatchAllocated MatchMethod = "allocated"
	MatchManual    MatchMethod = "manual"
)

// =============================================================================
// SOURCE LEDGERS
// =============================================================================

// AttendanceRecord is one class/session check-in for one customer.
type AttendanceRecord struct {
	// Row is the 1-based data row in the attendance sheet, used in issue logs.
	Row int

	Customer         string
	Email            string
	EventStartsAt    string
	OfferingType     string
	Venue            string
	Instructors      string
	BookingMethod    string
	Membership       string
	BookingSource    string
	Status           string
	CheckinTimestamp string

	// EventTime is the parsed EventStartsAt. It is the zero time when the
	// source value could not be parsed, in which case DateErr is set.
	EventTime time.Time
	DateErr   error
}

// InstructorList splits the free-text instructor column.
func (a AttendanceRecord) InstructorList() []string {
	return SplitInstructors(a.Instructors)
}

// PaymentRecord is one line of the payments ledger.
type PaymentRecord struct {
	Row int

	Date     string
	Customer string
	Memo     string
	Amount   decimal.Decimal
	Invoice  string

	PaidAt time.Time

	// Invalid holds the reason a row cannot take part in matching.
	Invalid string
}

// =============================================================================
// RULES AND DISCOUNTS
// =============================================================================

// Percentages is the four-way revenue split, each value in percent.
type Percentages struct {
	Coach      decimal.Decimal `validate:"gte=0,lte=100"`
	Bgm        decimal.Decimal `validate:"gte=0,lte=100"`
	Management decimal.Decimal `validate:"gte=0,lte=100"`
	Mfc        decimal.Decimal `validate:"gte=0,lte=100"`
}

// Sum adds the four components.
func (p Percentages) Sum() decimal.Decimal {
	return p.Coach.Add(p.Bgm).Add(p.Management).Add(p.Mfc)
}

// IsZero is true when no percentage was supplied at all.
func (p Percentages) IsZero() bool {
	return p.Coach.IsZero() && p.Bgm.IsZero() && p.Management.IsZero() && p.Mfc.IsZero()
}

// DefaultPercentages returns the house split used when a rule carries no
// usable percentages.
func DefaultPercentages(st SessionType) Percentages {
	if st == SessionPrivate {
		return Percentages{
			Coach:      decimal.NewFromInt(80),
			Bgm:        decimal.NewFromInt(15),
			Management: decimal.Zero,
			Mfc:        decimal.NewFromInt(5),
		}
	}
	return Percentages{
		Coach:      decimal.RequireFromString("43.5"),
		Bgm:        decimal.NewFromInt(30),
		Management: decimal.RequireFromString("8.5"),
		Mfc:        decimal.NewFromInt(18),
	}
}

// Rule is a pricing and split policy for a package or a session-type default.
type Rule struct {
	ID               string
	Name             string          `validate:"required"`
	PackageName      string
	SessionType      SessionType     `validate:"oneof=group private"`
	Price            decimal.Decimal `validate:"gte=0"`
	Sessions         int             `validate:"gte=0"`
	SessionsPerPack  int             `validate:"gte=0"`
	UnitPrice        decimal.Decimal `validate:"gte=0"`
	Percentages      Percentages
	IsFixedRate      bool
	FixedRate        decimal.Decimal `validate:"gte=0"`
	AllowDiscounts   bool
	AttendanceAlias  string
	PaymentMemoAlias string
	Notes            string

	// Row is the 1-based data row the rule was read from.
	Row int
}

// IsGlobalDefault reports whether the rule is the fallback for its session
// type.
func (r Rule) IsGlobalDefault() bool {
	return strings.TrimSpace(r.PackageName) == "" && strings.TrimSpace(r.AttendanceAlias) == ""
}

// Discount is a configured discount definition.
type Discount struct {
	ID                   string
	Code                 string           `validate:"required"`
	Name                 string
	ApplicablePercentage decimal.Decimal  `validate:"gte=0,lte=100"`
	CoachPaymentType     CoachPaymentType `validate:"oneof=full partial free"`
	MatchType            MatchType        `validate:"oneof=exact contains regex"`
	Active               bool
	Notes                string

	Row int
}

// DisplayName falls back to the code when no name was configured.
func (d Discount) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Code
}

// =============================================================================
// OUTPUT RECORDS
// =============================================================================

// MasterRow is the reconciled, one-per-attendance output record.
type MasterRow struct {
	UniqueKey string

	// Attendance fields.
	Customer         string
	Email            string
	EventStartsAt    string
	OfferingType     string
	Venue            string
	Instructors      string
	BookingMethod    string
	Membership       string
	BookingSource    string
	Status           string
	CheckinTimestamp string

	VerificationStatus VerificationStatus
	MatchMethod        MatchMethod

	InvoiceNumber string
	PaymentAmount decimal.Decimal
	PaymentDate   string

	RuleID       string
	SessionType  SessionType
	PackagePrice decimal.Decimal
	SessionPrice decimal.Decimal

	DiscountName           string
	DiscountPercentage     decimal.Decimal
	DiscountType           CoachPaymentType
	DiscountedSessionPrice decimal.Decimal
	EffectiveAmount        decimal.Decimal

	CoachAmount      decimal.Decimal
	BgmAmount        decimal.Decimal
	ManagementAmount decimal.Decimal
	MfcAmount        decimal.Decimal

	ChangeHistory string
	CreatedAt     string
	UpdatedAt     string
}

// InstructorList splits the free-text instructor column.
func (r MasterRow) InstructorList() []string {
	return SplitInstructors(r.Instructors)
}

// EventTime parses EventStartsAt. ok is false for unparseable values.
func (r MasterRow) EventTime() (time.Time, bool) {
	t, err := ParseDate(r.EventStartsAt)
	return t, err == nil
}

// SplitTotal is coach + bgm + management + mfc.
func (r MasterRow) SplitTotal() decimal.Decimal {
	return r.CoachAmount.Add(r.BgmAmount).Add(r.ManagementAmount).Add(r.MfcAmount)
}

// Invoice balance states.
const (
	InvoiceAvailable     = "Available"
	InvoicePartiallyUsed = "Partially Used"
	InvoiceFullyUsed     = "Fully Used"
)

// InvoiceBalance tracks how much of an invoice has been consumed by sessions.
type InvoiceBalance struct {
	InvoiceNumber    string
	Customer         string
	PaymentDate      string
	TotalAmount      decimal.Decimal
	UsedAmount       decimal.Decimal
	RemainingBalance decimal.Decimal
	Status           string
	SessionsUsed     int
	TotalSessions    int
	LastUpdated      string
}

// PendingEdit is a buffered manual correction keyed by UniqueKey.
type PendingEdit struct {
	ID            string
	UniqueKey     string
	InvoiceNumber string
	DiscountName  string
	Note          string
	Editor        string
	CreatedAt     string
}

// =============================================================================
// HELPERS
// =============================================================================

var instructorAnd = regexp.MustCompile(`(?i)\s+and\s+`)

// SplitInstructors splits "A, B & C" or "A and B" style instructor lists.
// Empty parts are dropped and order is preserved.
func SplitInstructors(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	s = instructorAnd.ReplaceAllString(s, ",")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '&' || r == '/'
	})

	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
