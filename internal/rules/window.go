package rules

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Accepted transaction date layouts. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// entry is a transaction after normalization.
type entry struct {
	index  int
	at     time.Time
	amount decimal.Decimal
}

// densest returns the largest run of entries whose dates fit within window.
// Ties go to the earliest run. A non-positive window returns every entry.
func densest(entries []entry, window time.Duration) []entry {
	if window <= 0 || len(entries) == 0 {
		return entries
	}

	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].at.Equal(sorted[j].at) {
			return sorted[i].index < sorted[j].index
		}
		return sorted[i].at.Before(sorted[j].at)
	})

	best, start, left := 0, 0, 0
	for right := range sorted {
		for sorted[right].at.Sub(sorted[left].at) > window {
			left++
		}
		if n := right - left + 1; n > best {
			best, start = n, left
		}
	}
	return sorted[start : start+best]
}

func sum(entries []entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.amount)
	}
	return total
}

// span returns the time between the earliest and latest entry.
func span(entries []entry) time.Duration {
	if len(entries) < 2 {
		return 0
	}
	lo, hi := entries[0].at, entries[0].at
	for _, e := range entries[1:] {
		if e.at.Before(lo) {
			lo = e.at
		}
		if e.at.After(hi) {
			hi = e.at
		}
	}
	return hi.Sub(lo)
}
