package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order. Day-first layouts come before month-first
// ones because the exports this tool reads are produced in day/month locales.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006 15:04",
	"2/1/2006",
	"02-01-2006",
	"2 Jan 2006 15:04",
	"2 Jan 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"January 2, 2006",
	"Mon, 2 Jan 2006",
}

// ErrEmptyValue is returned by the parsers for blank input.
var ErrEmptyValue = errors.New("empty value")

// ParseDate parses the date and timestamp formats found in attendance and
// payment exports.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyValue
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysApart is the absolute number of calendar days between a and b.
func DaysApart(a, b time.Time) int {
	d := int(Day(a).Sub(Day(b)).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

// ParseAmount parses a money cell. Currency symbols, thousands separators and
// accounting-style parentheses are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyValue
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	cleaned := strings.NewReplacer("€", "", "$", "", "£", "", ",", "", " ", "", "EUR", "").Replace(s)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognised amount %q", s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParsePercent parses "43.5" or "43.5%". Blank input yields zero and
// ErrEmptyValue so callers can tell "unset" from "0".
func ParsePercent(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return decimal.Zero, ErrEmptyValue
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognised percentage %q", s)
	}
	return d, nil
}

// ParseCount parses an integer cell, tolerating "10.0".
func ParseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptyValue
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("unrecognised count %q", s)
	}
	return int(d.IntPart()), nil
}

// ParseBool reads the truthy spellings used in hand-maintained sheets. def is
// returned for blank cells.
func ParseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def
	case "true", "yes", "y", "1", "x", "active":
		return true
	default:
		return false
	}
}

// Round2 rounds to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Money formats d with exactly two decimal places.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// =============================================================================
// DATE RANGE
// =============================================================================

// DateRange is an inclusive calendar-day filter. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange builds a range from optional CLI/config strings.
func ParseDateRange(from, to string) (DateRange, error) {
	var r DateRange
	var err error
	if strings.TrimSpace(from) != "" {
		if r.From, err = ParseDate(from); err != nil {
			return r, fmt.Errorf("invalid from date: %w", err)
		}
	}
	if strings.TrimSpace(to) != "" {
		if r.To, err = ParseDate(to); err != nil {
			return r, fmt.Errorf("invalid to date: %w", err)
		}
	}
	return r, nil
}

// IsOpen is true when neither bound is set.
func (r DateRange) IsOpen() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Valid reports whether From is not after To.
func (r DateRange) Valid() bool {
	if r.From.IsZero() || r.To.IsZero() {
		return true
	}
	return !Day(r.From).After(Day(r.To))
}

// Contains compares calendar days only.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	if !r.From.IsZero() && d.Before(Day(r.From)) {
		return false
	}
	if !r.To.IsZero() && d.After(Day(r.To)) {
		return false
	}
	return true
}
