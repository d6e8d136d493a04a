package harvest

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jamibilling/rdn-billing/internal/models"
)

var (
	dailyRatePattern   = regexp.MustCompile(`(?i)(\$\d+(?:\.\d{2})?)\s*(?:per|a|each)\s*day`)
	storageDaysPattern = regexp.MustCompile(`(?i)(\d+)\s*days?\s*(?:of|for)?\s*storage`)
	invoicePattern     = regexp.MustCompile(`(?i)\b(?:invoice|reference|ref)\s*(?:#|number|num|no\.?)?\s*:?\s*([A-Z0-9][A-Z0-9-]*)`)
)

// Extras finds the daily storage rate, storage days and invoice number
// mentioned anywhere in text.
func Extras(text string) models.CaseExtras {
	var ex models.CaseExtras

	if m := dailyRatePattern.FindStringSubmatch(text); m != nil {
		ex.DailyRate = m[1]
	}
	if m := storageDaysPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ex.StorageDays = n
		}
	}
	for _, m := range invoicePattern.FindAllStringSubmatch(text, -1) {
		if strings.ContainsAny(m[1], "0123456789") {
			ex.InvoiceNumber = strings.ToUpper(m[1])
			break
		}
	}

	return ex
}
