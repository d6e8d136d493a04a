package history

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/jamibilling/rdn-billing/internal/classifier"
	"github.com/jamibilling/rdn-billing/internal/htmlpage"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/money"
)

var (
	datePattern        = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	entryClassPattern  = regexp.MustCompile(`(?i)update|history|log|activity|row|line|record|entry|fee|transaction|payment`)
	storageDaysPattern = regexp.MustCompile(`(?i)\b(\d+)\s*days?\b`)
	dailyRatePattern   = regexp.MustCompile(`(?i)(\$\d+(?:\.\d{2})?)\s*(?:per|a|each)\s*day`)
	vehiclePattern     = regexp.MustCompile(`\b((?:19|20)\d{2})\s+([A-Za-z]{3,})\b`)
	headerWords        = []string{"date", "type", "amount", "detail"}
	vehicleStopWords   = map[string]bool{"repo": true, "repossession": true, "recovery": true, "fee": true, "fees": true, "storage": true, "days": true}
)

const (
	minEntryLen  = 10
	maxHeaderLen = 50
)

// Extractor reads fee-bearing update entries from one history page.
// Strategies run in order and a later one only runs when the earlier ones
// produced no records: Details definition lists, then entry-classed
// containers and table rows, then any element carrying both a date and an
// amount.
type Extractor struct {
	classifier *classifier.Classifier
}

// NewExtractor creates an extractor.
func NewExtractor(c *classifier.Classifier) *Extractor {
	return &Extractor{classifier: c}
}

// Extract returns the update records found on page, tagged with pageNum.
// Records without a positive amount are never returned.
func (e *Extractor) Extract(page *htmlpage.Page, pageNum int) []models.UpdateRecord {
	if recs := e.detailsLists(page, pageNum); len(recs) > 0 {
		return recs
	}
	if recs := e.entryContainers(page, pageNum); len(recs) > 0 {
		return recs
	}
	return e.datedElements(page, pageNum)
}

// detailsLists handles <dt>Details</dt><dd>...</dd> entries.
func (e *Extractor) detailsLists(page *htmlpage.Page, pageNum int) (out []models.UpdateRecord) {
	page.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		if !strings.Contains(strings.ToLower(dt.Text()), "details") {
			return
		}
		dd := detailsValue(dt)
		if dd.Length() == 0 {
			return
		}

		container := dt.Closest("dl, div, section")
		if container.Length() == 0 {
			container = dt.Parent()
		}
		dateText := datePattern.FindString(htmlpage.ElementText(container))

		ddText := htmlpage.ElementText(dd)
		typeText := updateType(container)

		if rec, ok := e.record(ddText, typeText, dateText, pageNum, models.SourceDetails); ok {
			out = append(out, rec)
		}
	})
	return out
}

// detailsValue finds the dd for a Details label: the next dd sibling, then
// the first dd of the parent, then of the grandparent.
func detailsValue(dt *goquery.Selection) *goquery.Selection {
	for s := dt.Next(); s.Length() > 0; s = s.Next() {
		if goquery.NodeName(s) == "dd" {
			return s
		}
		if goquery.NodeName(s) == "dt" {
			break
		}
	}
	if dd := dt.Parent().ChildrenFiltered("dd").First(); dd.Length() > 0 {
		return dd
	}
	return dt.Parent().Parent().ChildrenFiltered("dd").First()
}

func updateType(container *goquery.Selection) string {
	var out string
	container.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(dt.Text()), "update type") {
			if dd := dt.NextFiltered("dd"); dd.Length() > 0 {
				out = htmlpage.ElementText(dd)
			}
			return false
		}
		return true
	})
	return out
}

// entryContainers handles row/card layouts and plain table rows.
func (e *Extractor) entryContainers(page *htmlpage.Page, pageNum int) []models.UpdateRecord {
	cands := page.Find("div, tr, li").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) == "tr" {
			return !isHeaderRow(s)
		}
		return entryClassPattern.MatchString(s.AttrOr("class", ""))
	})
	return e.innermost(cands, pageNum, models.SourceRow)
}

// datedElements is the last resort: any element with a date and an amount.
func (e *Extractor) datedElements(page *htmlpage.Page, pageNum int) []models.UpdateRecord {
	cands := page.Find("div, p, li, span, td").FilterFunction(func(_ int, s *goquery.Selection) bool {
		text := htmlpage.ElementText(s)
		return datePattern.MatchString(text) && money.Contains(text)
	})
	return e.innermost(cands, pageNum, models.SourceGeneral)
}

// innermost builds records from candidates that carry an amount, skipping
// any candidate that contains another amount-bearing candidate.
func (e *Extractor) innermost(cands *goquery.Selection, pageNum int, source string) []models.UpdateRecord {
	type entry struct {
		sel  *goquery.Selection
		text string
	}

	var valid []entry
	cands.Each(func(_ int, s *goquery.Selection) {
		text := htmlpage.ElementText(s)
		if len(text) < minEntryLen || isHeaderText(text) || !money.Contains(text) {
			return
		}
		valid = append(valid, entry{sel: s, text: text})
	})

	nodes := make([]*html.Node, len(valid))
	for i, v := range valid {
		nodes[i] = v.sel.Nodes[0]
	}

	var out []models.UpdateRecord
	for i, v := range valid {
		if containsAnyNode(nodes[i], nodes) {
			continue
		}
		if rec, ok := e.record(v.text, "", nearestDate(v.sel, v.text), pageNum, source); ok {
			out = append(out, rec)
		}
	}
	return out
}

func containsAnyNode(parent *html.Node, nodes []*html.Node) bool {
	for _, n := range nodes {
		if n == parent {
			continue
		}
		for p := n.Parent; p != nil; p = p.Parent {
			if p == parent {
				return true
			}
		}
	}
	return false
}

// nearestDate returns the date in text, or the single date of one of the
// three closest ancestors.
func nearestDate(sel *goquery.Selection, text string) string {
	if d := datePattern.FindString(text); d != "" {
		return d
	}
	anc := sel.Parent()
	for i := 0; i < 3 && anc.Length() > 0; i++ {
		dates := datePattern.FindAllString(htmlpage.ElementText(anc), 2)
		switch len(dates) {
		case 1:
			return dates[0]
		case 2:
			return ""
		}
		anc = anc.Parent()
	}
	return ""
}

func isHeaderRow(tr *goquery.Selection) bool {
	return tr.Find("th").Length() > 0 && tr.Find("td").Length() == 0
}

func isHeaderText(text string) bool {
	if len(text) >= maxHeaderLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range headerWords {
		if strings.Contains(lower, w) {
			return !money.Contains(text)
		}
	}
	return false
}

func (e *Extractor) record(text, typeText, dateText string, pageNum int, source string) (models.UpdateRecord, bool) {
	m, ok := money.FindFirst(text)
	if !ok || !m.Amount.IsPositive() {
		return models.UpdateRecord{}, false
	}

	details := text
	if dateText != "" {
		details = strings.Replace(details, dateText, "", 1)
	}
	details = htmlpage.NormalizeSpace(strings.Replace(details, m.Text, "", 1))

	cls := e.classifier.Classify(text)
	if cls.Category == classifier.Unknown && typeText != "" {
		cls = e.classifier.Classify(typeText)
	}

	date, _ := models.ParseDate(dateText)
	return models.UpdateRecord{
		Date:              date,
		DateText:          dateText,
		Details:           details,
		Amount:            m.Amount,
		AmountStr:         m.Text,
		FeeType:           cls.Category,
		FeeTypeConfidence: cls.Confidence,
		FeeTypeColor:      cls.Color,
		Status:            e.classifier.ClassifyStatus(text),
		Page:              pageNum,
		Source:            source,
		Notes:             notesFrom(text, details),
	}, true
}

// notesFrom picks up storage days, a daily rate and, for repossession
// entries, the vehicle year and make. The vehicle is read from details so a
// date's year is never mistaken for a model year.
func notesFrom(text, details string) models.UpdateNotes {
	var n models.UpdateNotes

	if m := dailyRatePattern.FindStringSubmatch(text); m != nil {
		n.DailyRate = m[1]
	}
	if m := storageDaysPattern.FindStringSubmatch(text); m != nil {
		if d, err := strconv.Atoi(m[1]); err == nil {
			n.StorageDays = d
		}
	}

	lower := strings.ToLower(details)
	if strings.Contains(lower, "repo") || strings.Contains(lower, "recovery") {
		maxYear := time.Now().Year() + 2
		for _, m := range vehiclePattern.FindAllStringSubmatch(details, -1) {
			year, _ := strconv.Atoi(m[1])
			if year > maxYear || vehicleStopWords[strings.ToLower(m[2])] {
				continue
			}
			n.VehicleYear, n.VehicleMake = m[1], m[2]
			break
		}
	}
	return n
}
