// =============================================================================
// Class Payment Reconciler - Text Normalization
// =============================================================================
//
// Customer names, membership names and payment memos are typed by hand in two
// different systems. Every comparison in the matcher and the resolvers goes
// through the functions in this file so that "Zoë  O'Brien" and "zoe o'brien"
// compare equal.
//
// =============================================================================

package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonCanonical = regexp.MustCompile(`[^a-z0-9: \-]+`)
	parenthesed  = regexp.MustCompile(`\([^)]*\)`)
	dashes       = strings.NewReplacer("–", "-", "—", "-", "−", "-")
	wordBreaks   = strings.NewReplacer(":", " ", "-", " ")

	// synonyms are applied after lower-casing, in order.
	synonyms = []struct {
		re   *regexp.Regexp
		with string
	}{
		{regexp.MustCompile(`\bpayg\b`), "pay as you go"},
		{regexp.MustCompile(`\bsingle session\b`), "single"},
		{regexp.MustCompile(`\bunlimited plan\b`), "unlimited"},
		{regexp.MustCompile(`\bloyalty only\b`), "loyalty"},
		{regexp.MustCompile(`\bper week\b`), "x week"},
		{regexp.MustCompile(`\bpacks?\b`), "pack"},
		{regexp.MustCompile(`\bmonths?\b`), "month"},
		{regexp.MustCompile(`\bweeks?\b`), "week"},
	}
)

// StripDiacritics removes combining marks: "Zoë" becomes "Zoe".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Customer folds a customer name for equality checks: lower case, no
// diacritics, single spaces.
func Customer(name string) string {
	return strings.Join(strings.Fields(StripDiacritics(strings.ToLower(name))), " ")
}

// Canonical folds package names and memos. On top of Customer it drops
// parenthesised asides, unifies dashes and applies a small synonym table.
func Canonical(s string) string {
	s = StripDiacritics(strings.ToLower(s))
	s = dashes.Replace(s)
	s = strings.ReplaceAll(s, "€", " euro ")
	s = parenthesed.ReplaceAllString(s, " ")
	for _, syn := range synonyms {
		s = syn.re.ReplaceAllString(s, syn.with)
	}
	s = nonCanonical.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Key folds for case-insensitive exact lookups without synonym rewriting.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity is 1 - levenshtein/maxlen over the Customer-folded inputs, so 1.0
// means identical and 0.0 means nothing in common.
func Similarity(a, b string) float64 {
	a, b = Customer(a), Customer(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if n := len([]rune(b)); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// ContainsEither reports whether one canonical string contains the other.
// Empty inputs never match.
func ContainsEither(a, b string) bool {
	a, b = Canonical(a), Canonical(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// ContainsAny reports whether s contains any keyword as whole words, taking
// the plural of the last word too, so "fee" flags "Booking fee" and "Late
// fees" but not "Coffee".
func ContainsAny(s string, keywords []string) bool {
	padded := " " + words(s) + " "
	for _, k := range keywords {
		k = words(k)
		if k == "" {
			continue
		}
		for _, form := range []string{k, k + "s", k + "es"} {
			if strings.Contains(padded, " "+form+" ") {
				return true
			}
		}
	}
	return false
}

// words is Canonical with punctuation turned into word breaks.
func words(s string) string {
	return strings.Join(strings.Fields(wordBreaks.Replace(Canonical(s))), " ")
}
