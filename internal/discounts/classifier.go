// =============================================================================
// Class Payment Reconciler - Discount Classification
// =============================================================================
//
// Payment memos are free text. The classifier maps a memo onto one of the
// configured discount definitions.
//
// MATCHING ORDER (first match wins, never best match):
//   1. every active "exact" discount, in sheet order
//   2. every active "contains" discount, in sheet order
//   3. every active "regex" discount, in sheet order
//
// All comparisons ignore case. Confidence is a fixed constant per match type
// and is not a probability.
//
// KEYWORD FALLBACK:
//   When the workbook has no discounts sheet at all, configured keyword lists
//   stand in: zero-amount or "full" keyword memos are full discounts, memos
//   with a "partial" keyword are partial discounts.
//
// =============================================================================

package discounts

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/textnorm"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// Confidence per match type.
const (
	ConfidenceExact    = 1.0
	ConfidenceContains = 0.8
	ConfidenceRegex    = 0.9
)

// Match sources.
const (
	SourceMemo    = "memo"
	SourceInvoice = "invoice"
	SourceKeyword = "keyword"
)

// Match is a classified discount.
type Match struct {
	Discount   types.Discount
	Confidence float64
	Source     string
}

type compiledRegex struct {
	discount types.Discount
	re       *regexp.Regexp
}

// Classifier maps memos to discounts. It is safe for concurrent use once
// built.
type Classifier struct {
	exact    []types.Discount
	contains []types.Discount
	regex    []compiledRegex
	all      []types.Discount

	fallback        bool
	fullKeywords    []string
	partialKeywords []string
}

// NewClassifier builds a classifier from the discount sheet. present is false
// when the sheet does not exist, which enables the keyword fallback. Regex
// codes that do not compile are skipped with a warning.
func NewClassifier(list []types.Discount, present bool, kw config.DiscountConfig, logger logrus.FieldLogger) *Classifier {
	c := &Classifier{
		fallback:        !present,
		fullKeywords:    kw.FullKeywords,
		partialKeywords: kw.PartialKeywords,
	}
	for _, d := range list {
		c.all = append(c.all, d)
		if !d.Active || strings.TrimSpace(d.Code) == "" {
			continue
		}
		switch d.MatchType {
		case types.MatchContains:
			c.contains = append(c.contains, d)
		case types.MatchRegex:
			re, err := regexp.Compile("(?i)" + d.Code)
			if err != nil {
				logger.WithFields(logrus.Fields{"code": d.Code, "row": d.Row}).Warn("skipping discount with invalid pattern")
				continue
			}
			c.regex = append(c.regex, compiledRegex{discount: d, re: re})
		default:
			c.exact = append(c.exact, d)
		}
	}
	return c
}

// Classify matches a memo against the configured discounts, or the keyword
// fallback when no sheet exists. ok is false when nothing matches.
func (c *Classifier) Classify(memo string) (types.Discount, float64, bool) {
	m, ok := c.classify(memo, false)
	return m.Discount, m.Confidence, ok
}

// ClassifyPayment is Classify with the payment amount, so that a zero-amount
// line counts as a full discount under the keyword fallback.
func (c *Classifier) ClassifyPayment(memo string, amount decimal.Decimal) (Match, bool) {
	return c.classify(memo, amount.IsZero())
}

func (c *Classifier) classify(memo string, zeroAmount bool) (Match, bool) {
	if c.fallback {
		return c.keywordFallback(memo, zeroAmount)
	}
	if strings.TrimSpace(memo) == "" {
		return Match{}, false
	}

	key := textnorm.Key(memo)
	for _, d := range c.exact {
		if key == textnorm.Key(d.Code) {
			return Match{Discount: d, Confidence: ConfidenceExact, Source: SourceMemo}, true
		}
	}
	for _, d := range c.contains {
		if strings.Contains(key, textnorm.Key(d.Code)) {
			return Match{Discount: d, Confidence: ConfidenceContains, Source: SourceMemo}, true
		}
	}
	for _, r := range c.regex {
		if r.re.MatchString(memo) {
			return Match{Discount: r.discount, Confidence: ConfidenceRegex, Source: SourceMemo}, true
		}
	}
	return Match{}, false
}

func (c *Classifier) keywordFallback(memo string, zeroAmount bool) (Match, bool) {
	for _, k := range c.fullKeywords {
		if textnorm.ContainsAny(memo, []string{k}) {
			return Match{Discount: keywordDiscount(k, types.CoachPaymentFull), Confidence: ConfidenceContains, Source: SourceKeyword}, true
		}
	}
	if zeroAmount && strings.TrimSpace(memo) != "" {
		return Match{Discount: keywordDiscount(memo, types.CoachPaymentFull), Confidence: ConfidenceContains, Source: SourceKeyword}, true
	}
	for _, k := range c.partialKeywords {
		if textnorm.ContainsAny(memo, []string{k}) {
			return Match{Discount: keywordDiscount(k, types.CoachPaymentPartial), Confidence: ConfidenceContains, Source: SourceKeyword}, true
		}
	}
	return Match{}, false
}

// keywordDiscount builds the synthetic definition reported for a keyword hit.
func keywordDiscount(keyword string, kind types.CoachPaymentType) types.Discount {
	return types.Discount{
		Code:             keyword,
		Name:             titleWords(keyword),
		CoachPaymentType: kind,
		MatchType:        types.MatchContains,
		Active:           true,
	}
}

// Lookup finds a discount by name or code, ignoring case. Inactive discounts
// are included so historic edits can still name them.
func (c *Classifier) Lookup(name string) (types.Discount, bool) {
	key := textnorm.Key(name)
	if key == "" {
		return types.Discount{}, false
	}
	for _, d := range c.all {
		if textnorm.Key(d.Name) == key || textnorm.Key(d.Code) == key {
			return d, true
		}
	}
	if c.fallback {
		if m, ok := c.keywordFallback(name, false); ok {
			return m.Discount, true
		}
	}
	return types.Discount{}, false
}

// ForPayment classifies a matched payment. The payment's own memo is tried
// first; when it names no discount, the discount line of the same invoice is
// tried. A partial discount without a configured percentage takes the
// percentage extracted from the invoice.
func (c *Classifier) ForPayment(p types.PaymentRecord, invoices map[string]InvoiceDiscount) (Match, bool) {
	inv, hasInv := invoices[p.Invoice]

	m, ok := c.ClassifyPayment(p.Memo, p.Amount)
	if !ok && hasInv {
		if m, ok = c.ClassifyPayment(inv.Memo, decimal.NewFromInt(-1)); ok {
			m.Source = SourceInvoice
		}
	}
	if !ok {
		return Match{}, false
	}

	if m.Discount.CoachPaymentType == types.CoachPaymentPartial && m.Discount.ApplicablePercentage.IsZero() && hasInv {
		m.Discount.ApplicablePercentage = inv.Percentage
	}
	return m, true
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
