// =============================================================================
// Class Payment Reconciler - Attendance / Payment Matcher
// =============================================================================
//
// The matcher pairs each attendance event with the payment that funded it.
// Attendance is processed in ledger order and every payment can be used once,
// so the result is deterministic for a given input.
//
// MATCHING PROCESS:
//   1. Payments that are invalid, non-positive, fee or tax lines, or held by a
//      reserved invoice are removed from the pool.
//   2. Direct match: same customer (exact folded name, then fuzzy), payment
//      on the same day, else within +/- DirectWindowDays. Ties go to the
//      closest day, then a memo agreeing with the membership, then ledger
//      order. A matched payment leaves the pool.
//   3. Allocation: an event still unmatched joins the allocation group of a
//      payment from the same customer within AllocationWindowDays, preferring
//      payments nobody has used. The payment amount is then shared across
//      the group in proportion to each event's expected price, so the shares
//      always add up to exactly the payment.
//
// Events with an unparseable date, and payments with an unparseable date or
// amount, never match and are reported as issues.
//
// =============================================================================

package matcher

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/class-payment-reconciler/internal/config"
	"github.com/ginjaninja78/class-payment-reconciler/internal/textnorm"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// Options tune the matcher.
type Options struct {
	DirectWindowDays     int
	AllocationWindowDays int
	FuzzyThreshold       float64
	FeeKeywords          []string
}

// OptionsFromConfig copies the matching section of the configuration.
func OptionsFromConfig(cfg config.MatchingConfig) Options {
	return Options{
		DirectWindowDays:     cfg.DirectWindowDays,
		AllocationWindowDays: cfg.AllocationWindowDays,
		FuzzyThreshold:       cfg.FuzzyNameThreshold,
		FeeKeywords:          cfg.FeeKeywords,
	}
}

// Request is the input of one matching pass.
type Request struct {
	Attendance []types.AttendanceRecord
	Payments   []types.PaymentRecord

	// Skip marks attendance events that take no part in matching, e.g.
	// preserved manual rows or events outside the date range. Optional.
	Skip []bool

	// ReservedInvoices are already spoken for and never matched.
	ReservedInvoices map[string]bool

	// MemoHints are, per attendance event, the strings a funding payment's
	// memo is expected to mention (membership, rule aliases). Optional.
	MemoHints [][]string

	// Weights are, per attendance event, the expected session price used to
	// share an allocated payment. Missing or zero weights share equally.
	Weights []decimal.Decimal
}

// Match is the outcome for one attendance event.
type Match struct {
	// Payment is the index into Request.Payments, or -1 when unmatched.
	Payment int
	Method  types.MatchMethod

	// Amount is the payment amount attributed to this event: the whole
	// payment for a direct match, a share for an allocation.
	Amount decimal.Decimal

	DayDistance int
	Fuzzy       bool
}

// Matched reports whether a payment was found.
func (m Match) Matched() bool {
	return m.Payment >= 0
}

// Issue is an input row that could not take part in matching.
type Issue struct {
	Source  string
	Row     int
	Value   string
	Message string
}

// Result is the outcome of a matching pass.
type Result struct {
	// Matches has one entry per attendance event.
	Matches []Match

	// Unconsumed lists the eligible payments no event used, in ledger order.
	Unconsumed []int

	Issues []Issue
}

// Matcher runs matching passes.
type Matcher struct {
	opts Options
}

// New creates a Matcher.
func New(opts Options) *Matcher {
	return &Matcher{opts: opts}
}

// pass holds the working state of one Match call.
type pass struct {
	opts Options
	req  Request

	eligible   []bool
	consumed   []bool
	byCustomer map[string][]int
	customers  []string
	similar    map[string][]string

	matches []Match
	groups  map[int][]int
}

// Match runs a full pass.
func (m *Matcher) Match(req Request) *Result {
	p := &pass{
		opts:       m.opts,
		req:        req,
		eligible:   make([]bool, len(req.Payments)),
		consumed:   make([]bool, len(req.Payments)),
		byCustomer: make(map[string][]int),
		similar:    make(map[string][]string),
		matches:    make([]Match, len(req.Attendance)),
		groups:     make(map[int][]int),
	}
	res := &Result{}

	p.buildPool(res)

	for i := range req.Attendance {
		p.matches[i] = Match{Payment: -1}
		if p.skipped(i) {
			continue
		}
		att := req.Attendance[i]
		if att.DateErr != nil {
			res.Issues = append(res.Issues, Issue{
				Source:  "attendance",
				Row:     att.Row,
				Value:   att.EventStartsAt,
				Message: fmt.Sprintf("event date not usable for matching: %v", att.DateErr),
			})
			continue
		}
		p.direct(i)
	}

	for i := range req.Attendance {
		if p.skipped(i) || req.Attendance[i].DateErr != nil || p.matches[i].Matched() {
			continue
		}
		p.allocate(i)
	}
	p.shareGroups()

	for j := range req.Payments {
		if p.eligible[j] && !p.consumed[j] {
			res.Unconsumed = append(res.Unconsumed, j)
		}
	}
	res.Matches = p.matches
	return res
}

// buildPool decides which payments can match and indexes them by customer.
func (p *pass) buildPool(res *Result) {
	for j, pay := range p.req.Payments {
		switch {
		case pay.Invalid != "":
			res.Issues = append(res.Issues, Issue{
				Source:  "payments",
				Row:     pay.Row,
				Value:   pay.Date + " / " + pay.Amount.String(),
				Message: "payment not usable for matching: " + pay.Invalid,
			})
			continue
		case !pay.Amount.IsPositive():
			continue
		case textnorm.ContainsAny(pay.Memo, p.opts.FeeKeywords):
			continue
		case pay.Invoice != "" && p.req.ReservedInvoices[pay.Invoice]:
			continue
		}

		p.eligible[j] = true
		key := textnorm.Customer(pay.Customer)
		if key == "" {
			continue
		}
		if _, seen := p.byCustomer[key]; !seen {
			p.customers = append(p.customers, key)
		}
		p.byCustomer[key] = append(p.byCustomer[key], j)
	}
	sort.Strings(p.customers)
}

func (p *pass) skipped(i int) bool {
	return i < len(p.req.Skip) && p.req.Skip[i]
}

// candidate is a payment under consideration for an event.
type candidate struct {
	payment int
	days    int
	memo    bool
	score   float64
}

// direct tries the exact name tier, then the fuzzy tier.
func (p *pass) direct(i int) {
	att := p.req.Attendance[i]
	key := textnorm.Customer(att.Customer)
	if key == "" {
		return
	}

	for _, fuzzy := range []bool{false, true} {
		var cands []candidate
		for _, name := range p.names(key, fuzzy) {
			for _, j := range p.byCustomer[name] {
				if p.consumed[j] {
					continue
				}
				days := types.DaysApart(att.EventTime, p.req.Payments[j].PaidAt)
				if days > p.opts.DirectWindowDays {
					continue
				}
				cands = append(cands, p.candidate(i, j, days, name, key))
			}
		}
		if best, ok := pickBest(cands); ok {
			p.consumed[best.payment] = true
			p.groups[best.payment] = []int{i}
			p.matches[i] = Match{
				Payment:     best.payment,
				Method:      types.MatchDirect,
				Amount:      p.req.Payments[best.payment].Amount,
				DayDistance: best.days,
				Fuzzy:       fuzzy,
			}
			return
		}
	}
}

// allocate attaches an unmatched event to a payment group. Unused payments
// are preferred over sharing one that already funds other events.
func (p *pass) allocate(i int) {
	att := p.req.Attendance[i]
	key := textnorm.Customer(att.Customer)
	if key == "" {
		return
	}

	for _, wantUnused := range []bool{true, false} {
		for _, fuzzy := range []bool{false, true} {
			var cands []candidate
			for _, name := range p.names(key, fuzzy) {
				for _, j := range p.byCustomer[name] {
					if p.consumed[j] == wantUnused {
						continue
					}
					days := types.DaysApart(att.EventTime, p.req.Payments[j].PaidAt)
					if days > p.opts.AllocationWindowDays {
						continue
					}
					cands = append(cands, p.candidate(i, j, days, name, key))
				}
			}
			if best, ok := pickBest(cands); ok {
				p.consumed[best.payment] = true
				p.groups[best.payment] = append(p.groups[best.payment], i)
				p.matches[i] = Match{
					Payment:     best.payment,
					Method:      types.MatchAllocated,
					DayDistance: best.days,
					Fuzzy:       fuzzy,
				}
				return
			}
		}
	}
}

// shareGroups splits each payment across the events that share it. A group of
// one keeps the whole amount and its original method.
func (p *pass) shareGroups() {
	for j, members := range p.groups {
		amount := p.req.Payments[j].Amount
		if len(members) == 1 {
			p.matches[members[0]].Amount = amount
			continue
		}

		sort.Ints(members)
		weights := make([]decimal.Decimal, len(members))
		total := decimal.Zero
		equal := false
		for k, i := range members {
			if i < len(p.req.Weights) && p.req.Weights[i].IsPositive() {
				weights[k] = p.req.Weights[i]
				total = total.Add(weights[k])
			} else {
				equal = true
			}
		}
		if equal {
			for k := range weights {
				weights[k] = decimal.NewFromInt(1)
			}
			total = decimal.NewFromInt(int64(len(members)))
		}

		remaining := amount
		for k, i := range members {
			share := remaining
			if k < len(members)-1 {
				share = types.Round2(amount.Mul(weights[k]).Div(total))
				remaining = remaining.Sub(share)
			}
			p.matches[i].Amount = share
			p.matches[i].Method = types.MatchAllocated
		}
	}
}

// names returns the customer keys to search: the exact key, or every other
// key similar enough to it.
func (p *pass) names(key string, fuzzy bool) []string {
	if !fuzzy {
		return []string{key}
	}
	if p.opts.FuzzyThreshold <= 0 || p.opts.FuzzyThreshold >= 1 || key == "" {
		return nil
	}
	if cached, ok := p.similar[key]; ok {
		return cached
	}
	var out []string
	for _, name := range p.customers {
		if name != key && textnorm.Similarity(name, key) >= p.opts.FuzzyThreshold {
			out = append(out, name)
		}
	}
	p.similar[key] = out
	return out
}

func (p *pass) candidate(i, j, days int, name, key string) candidate {
	c := candidate{payment: j, days: days, score: 1}
	if name != key {
		c.score = textnorm.Similarity(name, key)
	}
	memo := p.req.Payments[j].Memo
	hints := []string{p.req.Attendance[i].Membership}
	if i < len(p.req.MemoHints) {
		hints = append(hints, p.req.MemoHints[i]...)
	}
	for _, h := range hints {
		if textnorm.ContainsEither(memo, h) {
			c.memo = true
			break
		}
	}
	return c
}

// pickBest orders by day distance, memo agreement, name similarity and
// finally ledger order.
func pickBest(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(cands, func(a, b int) bool {
		x, y := cands[a], cands[b]
		if x.days != y.days {
			return x.days < y.days
		}
		if x.memo != y.memo {
			return x.memo
		}
		if x.score != y.score {
			return x.score > y.score
		}
		return x.payment < y.payment
	})
	return cands[0], true
}
