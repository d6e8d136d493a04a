package harvest

import (
	"github.com/shopspring/decimal"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/money"
)

// DedupPolicy controls which signatures identify a duplicate fee.
type DedupPolicy struct {
	// DescriptionChars is how much of the description joins the amount in
	// the primary signature.
	DescriptionChars int
	// AmountOnlyMinimum is the smallest non-whole amount that is unique on
	// its own. Smaller non-whole amounts (and all whole amounts) are too
	// common to deduplicate by amount alone.
	AmountOnlyMinimum decimal.Decimal
}

// DefaultDedupPolicy returns the stock policy.
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{DescriptionChars: 30, AmountOnlyMinimum: decimal.NewFromInt(100)}
}

// Dedup drops fees that repeat an earlier fee. Every fee has a primary
// signature (amount plus leading description); non-whole amounts are also
// matched by amount plus category, and by amount alone at or above
// AmountOnlyMinimum. The first occurrence wins, so callers sort first.
// Dedup(Dedup(x)) == Dedup(x).
func Dedup(fees []models.FeeRecord, policy DedupPolicy) []models.FeeRecord {
	if policy.DescriptionChars <= 0 {
		policy.DescriptionChars = DefaultDedupPolicy().DescriptionChars
	}

	seen := make(map[string]struct{}, len(fees)*3)
	has := func(k string) bool { _, ok := seen[k]; return ok }

	out := make([]models.FeeRecord, 0, len(fees))
	for _, f := range fees {
		amt := f.Amount.StringFixed(2)
		primary := "p|" + amt + "|" + truncateRunes(f.Description, policy.DescriptionChars)
		byCategory := "c|" + amt + "|" + f.Category
		byAmount := "a|" + amt

		whole := money.IsWhole(f.Amount)
		if has(primary) {
			continue
		}
		if !whole && has(byCategory) {
			continue
		}
		if !whole && f.Amount.GreaterThanOrEqual(policy.AmountOnlyMinimum) && has(byAmount) {
			continue
		}

		seen[primary] = struct{}{}
		seen[byCategory] = struct{}{}
		seen[byAmount] = struct{}{}
		out = append(out, f)
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
