package rules

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// formatAmount renders d with thousands separators and at most two decimals,
// e.g. 2700000 -> "2,700,000" and 9500.5 -> "9,500.50".
func formatAmount(d decimal.Decimal) string {
	d = d.Round(2)
	whole := d.Truncate(0)
	out := humanize.BigComma(whole.BigInt())
	if frac := d.Sub(whole).Abs(); !frac.IsZero() {
		out += strings.TrimPrefix(frac.StringFixed(2), "0")
	}
	return out
}

func money(ccy string, d decimal.Decimal) string {
	return ccy + " " + formatAmount(d)
}
