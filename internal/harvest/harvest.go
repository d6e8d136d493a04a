// Package harvest collects fee line items from a rendered case page.
//
// A structured pass reads fee tables and fee-classed sections; an
// unstructured pass scans the flattened page text for currency amounts near
// billing vocabulary and skips amounts the structured pass already covered.
// The combined list is filtered to positive amounts, sorted by amount
// descending and deduplicated.
package harvest

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/jamibilling/rdn-billing/internal/classifier"
	"github.com/jamibilling/rdn-billing/internal/htmlpage"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/money"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

var (
	tableHeaderKeywords = []string{"fee", "amount", "charge", "cost", "payment", "transaction"}
	feeSectionClass     = regexp.MustCompile(`(?i)fee|charge|cost|payment`)
	billingKeywords     = []string{"fee", "charge", "cost", "invoice", "bill", "payment", "paid", "due", "storage", "tow", "repo"}
	nearDuplicateCents  = decimal.RequireFromString("0.01")
)

// Config tunes the harvester.
type Config struct {
	// ContextRadius is how many characters around an amount form its context.
	ContextRadius int
	Dedup         DedupPolicy
}

// DefaultConfig returns the stock harvester configuration.
func DefaultConfig() Config {
	return Config{ContextRadius: 80, Dedup: DefaultDedupPolicy()}
}

// Result is the harvest of one page.
type Result struct {
	Fees   []models.FeeRecord
	Extras models.CaseExtras
}

// Harvester is safe for concurrent use.
type Harvester struct {
	cfg        Config
	classifier *classifier.Classifier
	log        *logger.Logger
}

// New creates a harvester.
func New(cfg Config, c *classifier.Classifier, log *logger.Logger) *Harvester {
	if cfg.ContextRadius <= 0 {
		cfg.ContextRadius = DefaultConfig().ContextRadius
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Harvester{cfg: cfg, classifier: c, log: log.WithComponent("harvester")}
}

// Harvest extracts fee records and billing extras from page.
func (h *Harvester) Harvest(page *htmlpage.Page) Result {
	structured := h.structured(page)
	scanned := h.unstructured(page, structured)

	all := make([]models.FeeRecord, 0, len(structured)+len(scanned))
	for _, f := range append(structured, scanned...) {
		if f.Amount.IsPositive() {
			all = append(all, f)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Amount.GreaterThan(all[j].Amount)
	})
	fees := Dedup(all, h.cfg.Dedup)

	h.log.Debug("fees harvested",
		"structured", len(structured),
		"page_scan", len(scanned),
		"kept", len(fees),
	)

	return Result{Fees: fees, Extras: Extras(page.Text())}
}

func (h *Harvester) structured(page *htmlpage.Page) []models.FeeRecord {
	var out []models.FeeRecord

	page.Find("table").Each(func(_ int, table *goquery.Selection) {
		if isFeeTable(table) {
			out = append(out, h.tableRows(table)...)
		}
	})

	page.Find("div, section").Each(func(_ int, sec *goquery.Selection) {
		if isFeeSection(sec) {
			out = append(out, h.sectionItems(sec)...)
		}
	})

	return out
}

func isFeeTable(table *goquery.Selection) bool {
	header := strings.ToLower(htmlpage.ElementText(table.Find("tr").First()))
	return containsAny(header, tableHeaderKeywords)
}

func isFeeSection(sel *goquery.Selection) bool {
	return feeSectionClass.MatchString(sel.AttrOr("class", ""))
}

func (h *Harvester) tableRows(table *goquery.Selection) []models.FeeRecord {
	var out []models.FeeRecord

	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 && row.Find("th").Length() > 0 {
			return
		}
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}

		rowText := htmlpage.ElementText(row)
		m, ok := money.FindFirst(rowText)
		if !ok || !m.Amount.IsPositive() {
			return
		}

		desc := rowText
		cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			t := htmlpage.ElementText(cell)
			if t != "" && !strings.Contains(t, "$") {
				desc = t
				return false
			}
			return true
		})

		out = append(out, h.record(desc, rowText, m, models.SourceTable))
	})

	return out
}

// sectionItems reads every amount of a fee section, ignoring content that
// belongs to nested fee sections or fee tables so each amount is read once.
func (h *Harvester) sectionItems(sec *goquery.Selection) []models.FeeRecord {
	own := sec.Clone()
	own.Find("div, section").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return isFeeSection(s)
	}).Remove()
	own.Find("table").FilterFunction(func(_ int, t *goquery.Selection) bool {
		return isFeeTable(t)
	}).Remove()

	text := htmlpage.FlattenText(own.Nodes...)
	matches := money.FindAll(text)
	var out []models.FeeRecord
	for i, m := range matches {
		if !m.Amount.IsPositive() {
			continue
		}
		ctx := contextAt(text, matches, i, h.cfg.ContextRadius)
		out = append(out, h.scanRecord(ctx, m, models.SourceSection))
	}
	return out
}

func (h *Harvester) unstructured(page *htmlpage.Page, structured []models.FeeRecord) []models.FeeRecord {
	text := page.Text()
	matches := money.FindAll(text)
	var out []models.FeeRecord

	for i, m := range matches {
		if !m.Amount.IsPositive() {
			continue
		}
		ctx := contextAt(text, matches, i, h.cfg.ContextRadius)
		if coveredBy(structured, m.Amount, ctx.window, leadingSnippet(text, m)) {
			continue
		}
		if !containsAny(strings.ToLower(ctx.window), billingKeywords) {
			continue
		}
		out = append(out, h.scanRecord(ctx, m, models.SourcePageScan))
	}
	return out
}

// amountContext is the text around one amount at three widths. lead is the
// amount's line up to and including the amount, own extends it to the end
// of the line, and window is the full context radius. lead and own never
// reach past a neighbouring amount.
type amountContext struct {
	lead   string
	own    string
	window string
}

func contextAt(text string, all []money.Match, i, radius int) amountContext {
	m := all[i]

	lo := max(m.Start-radius, 0)
	if i > 0 && all[i-1].End > lo {
		lo = all[i-1].End
	}
	hi := min(m.End+radius, len(text))
	if i+1 < len(all) && all[i+1].Start < hi {
		hi = all[i+1].Start
	}
	for lo < m.Start && !utf8.RuneStart(text[lo]) {
		lo++
	}
	for hi > m.End && hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi--
	}

	before := text[lo:m.Start]
	if nl := strings.LastIndexByte(before, '\n'); nl >= 0 {
		before = before[nl+1:]
	}
	after := text[m.End:hi]
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		after = after[:nl]
	}

	return amountContext{
		lead:   htmlpage.NormalizeSpace(before + m.Text),
		own:    htmlpage.NormalizeSpace(before + m.Text + after),
		window: htmlpage.NormalizeSpace(money.Window(text, m, radius)),
	}
}

// scanRecord classifies on the narrowest context that yields a category and
// falls back to the full window. Status comes from the amount's line, or from
// the window when the amount stands alone on its line. The window is the
// description.
func (h *Harvester) scanRecord(ctx amountContext, m money.Match, source string) models.FeeRecord {
	cls := h.classifier.Classify(ctx.lead)
	for _, wider := range []string{ctx.own, ctx.window} {
		if cls.Category != classifier.Unknown {
			break
		}
		cls = h.classifier.Classify(wider)
	}

	statusText := ctx.own
	if statusText == m.Text {
		statusText = ctx.window
	}
	status := h.classifier.ClassifyStatus(statusText)

	return h.build(ctx.window, ctx.window, m, source, cls, status)
}

// leadingSnippet is the match plus up to 20 characters of the same line
// before it, whitespace-normalized.
func leadingSnippet(text string, m money.Match) string {
	start := max(m.Start-20, 0)
	for start < m.Start && !utf8.RuneStart(text[start]) {
		start++
	}
	seg := text[start:m.End]
	if nl := strings.LastIndexByte(seg, '\n'); nl >= 0 {
		seg = seg[nl+1:]
	}
	return htmlpage.NormalizeSpace(seg)
}

// coveredBy reports whether a structured record already accounts for the
// amount found at window.
func coveredBy(structured []models.FeeRecord, amount decimal.Decimal, window, lead string) bool {
	w := htmlpage.NormalizeSpace(window)
	for _, s := range structured {
		if s.Amount.Sub(amount).Abs().GreaterThanOrEqual(nearDuplicateCents) {
			continue
		}
		raw := htmlpage.NormalizeSpace(s.RawText)
		if strings.Contains(w, raw) || strings.Contains(raw, w) || (lead != "" && strings.Contains(raw, lead)) {
			return true
		}
	}
	return false
}

func (h *Harvester) record(desc, raw string, m money.Match, source string) models.FeeRecord {
	return h.build(desc, raw, m, source, h.classifier.Classify(raw), h.classifier.ClassifyStatus(raw))
}

func (h *Harvester) build(desc, raw string, m money.Match, source string, cls classifier.Result, status string) models.FeeRecord {
	return models.FeeRecord{
		Description:   htmlpage.NormalizeSpace(desc),
		Amount:        m.Amount,
		AmountStr:     m.Text,
		Category:      cls.Category,
		CategoryColor: cls.Color,
		Status:        status,
		Confidence:    cls.Confidence,
		Source:        source,
		RawText:       raw,
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
