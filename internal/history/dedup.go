package history

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/money"
)

// DedupPolicy controls cross-page duplicate detection of update entries.
type DedupPolicy struct {
	// DetailsChars is how much of the details text joins date and amount in
	// the primary signature.
	DetailsChars int
	// Amounts above LargeAmount or below SmallAmount are specific enough
	// that the same date and amount alone marks a duplicate.
	LargeAmount decimal.Decimal
	SmallAmount decimal.Decimal
}

// DefaultDedupPolicy returns the stock policy.
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{
		DetailsChars: 50,
		LargeAmount:  decimal.NewFromInt(1000),
		SmallAmount:  decimal.NewFromInt(10),
	}
}

// Dedup keeps the first record of each (date, amount, details prefix)
// signature. For specific amounts the (date, amount) signature is checked
// too. Records with non-positive amounts are dropped.
func Dedup(recs []models.UpdateRecord, policy DedupPolicy) []models.UpdateRecord {
	if policy.DetailsChars <= 0 {
		policy.DetailsChars = DefaultDedupPolicy().DetailsChars
	}

	seen := make(map[string]struct{}, len(recs)*2)
	out := make([]models.UpdateRecord, 0, len(recs))

	for _, r := range recs {
		if !r.Amount.IsPositive() {
			continue
		}
		base := r.Date.String() + "|" + r.Amount.StringFixed(2)
		primary := "p|" + base + "|" + truncateRunes(r.Details, policy.DetailsChars)
		secondary := "s|" + base

		if _, dup := seen[primary]; dup {
			continue
		}
		if policy.specific(r.Amount) {
			if _, dup := seen[secondary]; dup {
				continue
			}
		}

		seen[primary] = struct{}{}
		seen[secondary] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (p DedupPolicy) specific(amount decimal.Decimal) bool {
	if !money.IsWhole(amount) {
		return true
	}
	if !p.LargeAmount.IsZero() && amount.GreaterThan(p.LargeAmount) {
		return true
	}
	return amount.IsPositive() && amount.LessThan(p.SmallAmount)
}

// SortByDate orders records most recent first with unknown dates last.
// Records on the same date keep their relative order.
func SortByDate(recs []models.UpdateRecord) []models.UpdateRecord {
	out := append([]models.UpdateRecord(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Date, out[j].Date
		switch {
		case a.Known() && b.Known():
			return a.After(b.Time)
		case a.Known():
			return true
		default:
			return false
		}
	})
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
