package master

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

var (
	nonKeyChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
	underscores = regexp.MustCompile(`_+`)
)

// BaseKey derives the stable identity of an attendance event from its date,
// customer, membership, instructors, status and offering type. The same event
// always yields the same base key across runs.
func BaseKey(rec types.AttendanceRecord) string {
	date := rec.EventStartsAt
	if rec.DateErr == nil && !rec.EventTime.IsZero() {
		date = rec.EventTime.Format("2006-01-02")
	}
	raw := strings.Join([]string{
		date,
		rec.Customer,
		rec.Membership,
		rec.Instructors,
		rec.Status,
		rec.OfferingType,
	}, "_")
	return sanitizeKey(raw)
}

func sanitizeKey(s string) string {
	s = nonKeyChars.ReplaceAllString(s, "_")
	s = underscores.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// KeyGen issues unique keys for one run. Repeats of a base key get a
// sequence suffix in the order they are seen: K, K_2, K_3.
type KeyGen struct {
	counts    map[string]int
	issued    map[string]bool
	runMillis int64
}

// NewKeyGen creates a generator. runAt stamps the fallback keys of events
// whose identifying fields are all blank.
func NewKeyGen(runAt time.Time) *KeyGen {
	return &KeyGen{
		counts:    make(map[string]int),
		issued:    make(map[string]bool),
		runMillis: runAt.UnixMilli(),
	}
}

// Next returns the key for the attendance event at index.
func (g *KeyGen) Next(index int, rec types.AttendanceRecord) string {
	base := BaseKey(rec)
	if base == "" {
		base = fmt.Sprintf("row_%d_%d", index, g.runMillis)
	}

	for {
		g.counts[base]++
		key := base
		if n := g.counts[base]; n > 1 {
			key = fmt.Sprintf("%s_%d", base, n)
		}
		if !g.issued[key] {
			g.issued[key] = true
			return key
		}
	}
}
