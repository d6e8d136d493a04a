// Package money finds and parses dollar amounts in page text.
package money

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Pattern matches "$1,234.56" and "$125.00": optional thousands separators,
// exactly two decimal digits.
var Pattern = regexp.MustCompile(`\$((?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2})\b`)

// Match is one currency substring found in text. Start and End are byte
// offsets of the full match including the dollar sign.
type Match struct {
	Text   string
	Amount decimal.Decimal
	Start  int
	End    int
}

// FindAll returns every currency substring in text, in order.
func FindAll(text string) []Match {
	idx := Pattern.FindAllStringSubmatchIndex(text, -1)
	out := make([]Match, 0, len(idx))
	for _, loc := range idx {
		amount, err := Parse(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		out = append(out, Match{
			Text:   text[loc[0]:loc[1]],
			Amount: amount,
			Start:  loc[0],
			End:    loc[1],
		})
	}
	return out
}

// FindFirst returns the first currency substring in text.
func FindFirst(text string) (Match, bool) {
	m := FindAll(text)
	if len(m) == 0 {
		return Match{}, false
	}
	return m[0], true
}

// Contains reports whether text has a currency substring.
func Contains(text string) bool {
	return Pattern.MatchString(text)
}

// Parse converts "1,234.56" or "$1,234.56" to a decimal.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}

// Format renders an amount as "$1,234.56".
func Format(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	out := "$" + b.String() + "." + frac
	if neg {
		return "-" + out
	}
	return out
}

// IsWhole reports whether d has no fractional cents.
func IsWhole(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

// Window returns up to radius bytes of text on either side of m, trimmed to
// rune boundaries and whitespace.
func Window(text string, m Match, radius int) string {
	start := max(m.Start-radius, 0)
	end := min(m.End+radius, len(text))
	for start < m.Start && !utf8.RuneStart(text[start]) {
		start++
	}
	for end > m.End && end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	return strings.TrimSpace(text[start:end])
}
