// Package rules resolves the pricing and split rule that applies to a
// session.
package rules

import (
	"strings"

	"github.com/ginjaninja78/class-payment-reconciler/internal/textnorm"
	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

// privateMarkers flag a class type as a private session.
var privateMarkers = []string{"private", "1-1", "1 to 1", "1-to-1", "one to one"}

// ClassifySessionType derives the session type from an offering/class type
// name.
func ClassifySessionType(classType string) types.SessionType {
	s := strings.ToLower(classType)
	for _, m := range privateMarkers {
		if strings.Contains(s, m) {
			return types.SessionPrivate
		}
	}
	return types.SessionGroup
}

// Resolver looks rules up by membership name. It is built once per run and
// never mutates the rules it holds.
type Resolver struct {
	rules     []types.Rule
	exact     map[string][]int
	canonical map[string][]int
	defaults  map[types.SessionType]int
	byID      map[string]int
}

// NewResolver indexes rules in sheet order. Earlier rules win ties.
func NewResolver(rules []types.Rule) *Resolver {
	r := &Resolver{
		rules:     rules,
		exact:     make(map[string][]int),
		canonical: make(map[string][]int),
		defaults:  make(map[types.SessionType]int),
		byID:      make(map[string]int),
	}
	for i, rule := range rules {
		if rule.ID != "" {
			if _, dup := r.byID[rule.ID]; !dup {
				r.byID[rule.ID] = i
			}
		}
		if rule.IsGlobalDefault() {
			if _, dup := r.defaults[rule.SessionType]; !dup {
				r.defaults[rule.SessionType] = i
			}
			continue
		}
		for _, name := range []string{rule.AttendanceAlias, rule.PackageName} {
			if k := textnorm.Key(name); k != "" {
				r.exact[k] = appendOnce(r.exact[k], i)
			}
			if k := textnorm.Canonical(name); k != "" {
				r.canonical[k] = appendOnce(r.canonical[k], i)
			}
		}
	}
	return r
}

// Resolve returns the rule for a membership and session type.
//
// Order:
//  1. attendance alias or package name equal to the membership, ignoring
//     case, preferring a rule of the same session type
//  2. the same comparison on canonical forms (punctuation, dashes and
//     common abbreviations folded)
//  3. the global default rule of the session type
//
// ok is false when nothing applies; the caller reports the package as not
// found.
func (r *Resolver) Resolve(membership string, st types.SessionType) (types.Rule, bool) {
	if i, ok := pick(r.exact[textnorm.Key(membership)], r.rules, st); ok {
		return r.rules[i], true
	}
	if c := textnorm.Canonical(membership); c != "" {
		if i, ok := pick(r.canonical[c], r.rules, st); ok {
			return r.rules[i], true
		}
	}
	if i, ok := r.defaults[st]; ok {
		return r.rules[i], true
	}
	return types.Rule{}, false
}

// ByID returns the rule with the given id.
func (r *Resolver) ByID(id string) (types.Rule, bool) {
	if i, ok := r.byID[id]; ok {
		return r.rules[i], true
	}
	return types.Rule{}, false
}

// Rules returns the indexed rules.
func (r *Resolver) Rules() []types.Rule {
	return r.rules
}

func pick(candidates []int, rules []types.Rule, st types.SessionType) (int, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	for _, i := range candidates {
		if rules[i].SessionType == st {
			return i, true
		}
	}
	return candidates[0], true
}

func appendOnce(list []int, i int) []int {
	if n := len(list); n > 0 && list[n-1] == i {
		return list
	}
	return append(list, i)
}
