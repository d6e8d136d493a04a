package locator

import (
	"regexp"
	"strings"

	"github.com/jamibilling/rdn-billing/internal/money"
)

// Field names an identity field of a case.
type Field string

const (
	FieldClient     Field = "clientName"
	FieldLienHolder Field = "lienHolder"
	FieldOrderTo    Field = "orderTo"
	FieldRepoType   Field = "repoType"
)

// fieldSpec describes how a field is labelled on the case page.
type fieldSpec struct {
	field Field
	// labels are exact, lowercased label texts (trailing colon removed).
	labels []string
	// keywords mark header-like elements that label the field.
	keywords []string
	// exclude skips labels that merely mention a keyword.
	exclude []string
	// prefix strips a leaked label from the front of a value.
	prefix *regexp.Regexp
	// patterns run over the flattened page text; group 1 is the value.
	patterns []*regexp.Regexp
	// labelWords reject values that still contain the label itself.
	labelWords []string
}

var clientSpec = fieldSpec{
	field:    FieldClient,
	labels:   []string{"client", "client name"},
	keywords: []string{"client"},
	exclude:  []string{"acct", "account", "#"},
	prefix:   regexp.MustCompile(`(?i)^client(?:\s+name)?(?:\s*:\s*|\s+)`),
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?mi)\bclient(?:\s+name)?\s*:\s*(.+?)\s*(?:\b(?:lien\s*holder|order\s*to|collector|acct|account|file)\b.*)?$`),
		regexp.MustCompile(`(?mi)^client(?:\s+name)?:?\n(.+)$`),
	},
	labelWords: []string{"client"},
}

var lienHolderSpec = fieldSpec{
	field:    FieldLienHolder,
	labels:   []string{"lien holder", "lienholder", "lien holder name", "lienholder name"},
	keywords: []string{"lien holder", "lienholder"},
	exclude:  []string{"acct", "account", "#", "phone", "address"},
	prefix:   regexp.MustCompile(`(?i)^lien\s*holder(?:\s+name)?(?:\s*:\s*|\s+)`),
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?mi)\blien\s*holder(?:\s+name)?\s*:\s*(.+?)\s*(?:\b(?:client|order\s*to|collector|acct|account|file)\b.*)?$`),
		regexp.MustCompile(`(?mi)^lien\s*holder(?:\s+name)?:?\n(.+)$`),
	},
	labelWords: []string{"lien holder", "lienholder"},
}

var orderToSpec = fieldSpec{
	field:    FieldOrderTo,
	labels:   []string{"order to", "order type"},
	keywords: []string{"order to"},
	prefix:   regexp.MustCompile(`(?i)^order\s*to(?:\s*:\s*|\s+)`),
	patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?mi)\border\s*to\s*:?\s*(.+?)\s*(?:\b(?:client|lien\s*holder|collector|acct|account|file)\b.*)?$`),
		regexp.MustCompile(`(?mi)^order\s*to:?\n(.+)$`),
	},
	labelWords: []string{"order to"},
}

var placeholderValues = map[string]bool{
	"not found": true,
	"<empty>":   true,
	"n/a":       true,
	"none":      true,
	"-":         true,
}

// normalizeFor returns the cleanup applied to candidates of spec.
func normalizeFor(spec fieldSpec) func(string) string {
	return func(v string) string {
		v = strings.Join(strings.Fields(v), " ")
		if spec.prefix != nil {
			v = spec.prefix.ReplaceAllString(v, "")
		}
		return strings.TrimSpace(strings.Trim(v, ":|"))
	}
}

// saneFor returns the sanity predicate for candidates of spec.
func saneFor(spec fieldSpec) func(string) bool {
	return func(v string) bool {
		return isSane(v, spec.labelWords)
	}
}

func isSane(v string, labelWords []string) bool {
	if len(v) <= 2 || len(v) > 120 {
		return false
	}
	lower := strings.ToLower(v)
	if placeholderValues[lower] || strings.HasPrefix(lower, "not ") {
		return false
	}
	if strings.Trim(v, "0123456789 ,.-#/") == "" {
		return false
	}
	if strings.HasPrefix(v, "$") || money.Contains(v) {
		return false
	}
	for _, w := range labelWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	return true
}

// normLabel lowercases a label and drops surrounding punctuation.
func normLabel(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimSpace(strings.Trim(s, ":*"))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func equalsAny(s string, options []string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// mentionsRepo reports whether text names a repossession order type.
func mentionsRepo(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "repo") || strings.Contains(lower, "voluntary")
}

var voluntaryWord = regexp.MustCompile(`(?i)\bvoluntary\b`)

// canonicalRepoType maps free text to "Involuntary Repo" or "Voluntary Repo".
// A bare "repo" counts as involuntary. Anything else yields "".
func canonicalRepoType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "involuntary"):
		return "Involuntary Repo"
	case voluntaryWord.MatchString(lower):
		return "Voluntary Repo"
	case strings.Contains(lower, "repo"):
		return "Involuntary Repo"
	default:
		return ""
	}
}
