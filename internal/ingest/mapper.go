// =============================================================================
// Class Payment Reconciler - Column Mapping and Value Transformation
// =============================================================================
//
// Raw exports name their columns however the source system likes. A Mapper
// maps a parsed CSV row onto the canonical sheet headers and applies the
// configured value transformations.
//
// TRANSFORMATION TYPES:
//   - trim, uppercase, lowercase, title
//   - replace, regex_replace
//   - format_date   : reparse with the shared date layouts, format with Value
//   - format_amount : normalise a money cell to two decimals
//   - default       : fill an empty cell
//   - lookup        : map through a lookup table
//
// Columns with no mapping are carried through unchanged; the repositories
// resolve common header aliases on their own.
//
// =============================================================================

package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

var titleCaser = cases.Title(language.English)

// Mapper maps raw rows onto canonical headers.
type Mapper struct {
	columns []config.ColumnMapping
	regexes map[string]*regexp.Regexp
}

// NewMapper compiles the mapping. Invalid regular expressions are reported
// here rather than per row.
func NewMapper(columns []config.ColumnMapping) (*Mapper, error) {
	m := &Mapper{columns: columns, regexes: make(map[string]*regexp.Regexp)}
	for _, col := range columns {
		if strings.TrimSpace(col.Target) == "" {
			return nil, fmt.Errorf("column mapping without a target")
		}
		for _, action := range col.Actions {
			if action.Type != "regex_replace" || action.Find == "" {
				continue
			}
			re, err := regexp.Compile(action.Find)
			if err != nil {
				return nil, fmt.Errorf("column %s: invalid regex pattern: %w", col.Target, err)
			}
			m.regexes[action.Find] = re
		}
	}
	return m, nil
}

// MapRow returns the row keyed by canonical headers.
//
// PARAMETERS:
//   - row: One parsed CSV row, header -> value.
//
// RETURNS:
//   - The mapped row.
//   - An error naming the column whose transformation failed.
func (m *Mapper) MapRow(row map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(row))
	consumed := make(map[string]bool)

	for _, col := range m.columns {
		header, value := lookupSource(row, col)
		if header != "" {
			consumed[header] = true
		}
		for _, action := range col.Actions {
			var err error
			value, err = m.apply(value, action)
			if err != nil {
				return nil, fmt.Errorf("column %s: transformation '%s' failed: %w", col.Target, action.Type, err)
			}
		}
		out[col.Target] = value
	}

	for h, v := range row {
		if consumed[h] {
			continue
		}
		if _, taken := out[h]; !taken {
			out[h] = v
		}
	}
	return out, nil
}

// lookupSource finds the first configured source header present in row,
// ignoring case. The target itself is tried when no source is listed.
func lookupSource(row map[string]string, col config.ColumnMapping) (string, string) {
	sources := col.Sources
	if len(sources) == 0 {
		sources = []string{col.Target}
	}
	for _, want := range sources {
		for h, v := range row {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(want)) {
				return h, v
			}
		}
	}
	return "", ""
}

func (m *Mapper) apply(value string, action config.TransformAction) (string, error) {
	switch action.Type {
	case "trim":
		return strings.TrimSpace(value), nil

	case "uppercase":
		return strings.ToUpper(value), nil

	case "lowercase":
		return strings.ToLower(value), nil

	case "title":
		return titleCaser.String(strings.ToLower(value)), nil

	case "replace":
		if action.Find == "" {
			return value, nil
		}
		return strings.ReplaceAll(value, action.Find, action.Value), nil

	case "regex_replace":
		re, ok := m.regexes[action.Find]
		if !ok {
			return value, nil
		}
		return re.ReplaceAllString(value, action.Value), nil

	case "format_date":
		// Value is the output layout, e.g. "2006-01-02 15:04". Unparseable
		// dates pass through so the run can report them.
		if strings.TrimSpace(value) == "" || action.Value == "" {
			return value, nil
		}
		t, err := types.ParseDate(value)
		if err != nil {
			return value, nil
		}
		return t.Format(action.Value), nil

	case "format_amount":
		if strings.TrimSpace(value) == "" {
			return value, nil
		}
		d, err := types.ParseAmount(value)
		if err != nil {
			return "", err
		}
		return types.Money(d), nil

	case "default":
		if strings.TrimSpace(value) == "" {
			return action.Value, nil
		}
		return value, nil

	case "lookup":
		if replacement, exists := action.LookupTable[value]; exists {
			return replacement, nil
		}
		return value, nil

	default:
		return "", fmt.Errorf("unknown transformation type")
	}
}
