package locator

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"

	"github.com/jamibilling/rdn-billing/internal/htmlpage"
	"github.com/jamibilling/rdn-billing/internal/resolve"
)

type pageStrategy = resolve.Strategy[*htmlpage.Page]

// Strategy names, also reported in resolution attempts.
const (
	StrategySession         = "session"
	StrategyDefinitionList  = "definition_list"
	StrategyStyledContainer = "styled_container"
	StrategyLabeledCell     = "labeled_cell"
	StrategyBadge           = "badge"
	StrategyStaticField     = "static_field"
	StrategyPageText        = "page_text"
	StrategyKnownClient     = "known_client"
)

// definitionList matches <dt>Label</dt><dd>Value</dd>.
func definitionList(spec fieldSpec) pageStrategy {
	return resolve.Func(StrategyDefinitionList, func(ctx context.Context, p *htmlpage.Page) resolve.Result {
		var cands []string
		p.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			if !equalsAny(normLabel(dt.Text()), spec.labels) {
				return
			}
			if dd := siblingDD(dt); dd.Length() > 0 {
				cands = append(cands, htmlpage.ElementText(dd))
				return
			}
			if dd := dt.Parent().ChildrenFiltered("dd").First(); dd.Length() > 0 {
				cands = append(cands, htmlpage.ElementText(dd))
			}
		})
		return resolve.Hit(cands...)
	})
}

// siblingDD returns the dd following dt, stopping at the next dt.
func siblingDD(dt *goquery.Selection) *goquery.Selection {
	for s := dt.Next(); s.Length() > 0; s = s.Next() {
		switch goquery.NodeName(s) {
		case "dd":
			return s
		case "dt":
			return s.Slice(0, 0)
		}
	}
	return dt.Slice(0, 0)
}

// styledContainer matches the grid layout where label and value sit inside a
// bootstrap column but are not siblings.
func styledContainer(spec fieldSpec) pageStrategy {
	return resolve.Func(StrategyStyledContainer, func(ctx context.Context, p *htmlpage.Page) resolve.Result {
		var cands []string
		p.Find("div.col-auto, div[class*='col-']").Each(func(_ int, col *goquery.Selection) {
			label := col.Find("dt, .label, .field-label").FilterFunction(func(_ int, s *goquery.Selection) bool {
				return equalsAny(normLabel(s.Text()), spec.labels)
			}).First()
			if label.Length() == 0 {
				return
			}
			if dd := col.Find("dd, .value, .field-value").First(); dd.Length() > 0 {
				cands = append(cands, htmlpage.ElementText(dd))
			}
		})
		return resolve.Hit(cands...)
	})
}

const maxLabelLen = 40

// labeledCell treats a short header-like element containing the keyword as a
// label and reads the value from the next sibling, the parent's next
// sibling, or the text after a colon inside the label itself.
func labeledCell(spec fieldSpec) pageStrategy {
	return resolve.Func(StrategyLabeledCell, func(ctx context.Context, p *htmlpage.Page) resolve.Result {
		var cands []string
		p.Find("th, td, strong, b, label").Each(func(_ int, el *goquery.Selection) {
			raw := htmlpage.ElementText(el)
			text := strings.ToLower(raw)
			if !containsAny(text, spec.keywords) || containsAny(text, spec.exclude) {
				return
			}

			if _, after, ok := strings.Cut(raw, ":"); ok && strings.TrimSpace(after) != "" {
				cands = append(cands, after)
			}
			if len(text) > maxLabelLen {
				return
			}
			if next := el.Next(); next.Length() > 0 {
				cands = append(cands, htmlpage.ElementText(next))
			} else if next := el.Parent().Next(); next.Length() > 0 {
				cands = append(cands, htmlpage.ElementText(next))
			}
		})
		return resolve.Hit(cands...)
	})
}

// badgeNearOrder finds short badge/button controls naming a repo type,
// preferring those inside a container that also says "Order To".
func badgeNearOrder(canonical bool) pageStrategy {
	return resolve.Func(StrategyBadge, func(ctx context.Context, p *htmlpage.Page) resolve.Result {
		var near, far []string
		p.Find("button, span, div, a, label").Each(func(_ int, s *goquery.Selection) {
			if !htmlpage.HasClass(s, "badge", "btn", "label", "tag", "success", "green", "primary") {
				return
			}
			text := htmlpage.ElementText(s)
			if len(text) > maxLabelLen || !mentionsRepo(text) {
				return
			}
			if canonical {
				text = canonicalRepoType(text)
			}
			if nearOrderLabel(s) {
				near = append(near, text)
			} else {
				far = append(far, text)
			}
		})
		return resolve.Hit(append(near, far...)...)
	})
}

// nearOrderLabel reports whether one of the three closest ancestors
// mentions "Order To".
func nearOrderLabel(s *goquery.Selection) bool {
	parent := s.Parent()
	for i := 0; i < 3 && parent.Length() > 0; i++ {
		if strings.Contains(strings.ToLower(htmlpage.ElementText(parent)), "order to") {
			return true
		}
		parent = parent.Parent()
	}
	return false
}

// staticOrderType reads the read-only order type field of the case form.
func staticOrderType() pageStrategy {
	return resolve.Func(StrategyStaticField, func(ctx context.Context, p *htmlpage.Page) resolve.Result {
		el := p.Find("#case_order_type_static").First()
		if el.Length() == 0 {
			return resolve.Miss()
		}
		return resolve.Hit(canonicalRepoType(htmlpage.ElementText(el)))
	})
}

// pageText runs the field's label-anchored patterns over the flattened text.
func pageText(spec fieldSpec) pageStrategy {
	return resolve.Func(StrategyPageText, func(ctx context.Context, p *htmlpage.Page) resolve.Result {
		text := p.Text()
		var cands []string
		for _, re := range spec.patterns {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				cands = append(cands, m[1])
			}
		}
		return resolve.Hit(cands...)
	})
}

// repoTypeText looks for the order type words anywhere on the page.
func repoTypeText() pageStrategy {
	return resolve.Func(StrategyPageText, func(ctx context.Context, p *htmlpage.Page) resolve.Result {
		lower := strings.ToLower(p.Text())
		switch {
		case strings.Contains(lower, "involuntary"):
			return resolve.Hit("Involuntary Repo")
		case voluntaryWord.MatchString(lower):
			return resolve.Hit("Voluntary Repo")
		}
		return resolve.Miss()
	})
}

// knownClient cross-checks the page against an allow-list of client names:
// a case-insensitive substring first, then a Jaro-Winkler match against
// short page lines.
func knownClient(known []string, minScore float64) pageStrategy {
	return resolve.Func(StrategyKnownClient, func(ctx context.Context, p *htmlpage.Page) resolve.Result {
		if len(known) == 0 {
			return resolve.Miss()
		}

		text := p.Text()
		lower := strings.ToLower(text)
		for _, name := range known {
			if strings.Contains(lower, strings.ToLower(name)) {
				return resolve.Hit(name)
			}
		}

		if minScore <= 0 {
			return resolve.Miss()
		}
		best, bestScore := "", 0.0
		for _, line := range strings.Split(text, "\n") {
			if len(line) > maxLabelLen {
				continue
			}
			line = strings.ToLower(line)
			for _, name := range known {
				score := matchr.JaroWinkler(line, strings.ToLower(name), false)
				if score >= minScore && score > bestScore {
					best, bestScore = name, score
				}
			}
		}
		return resolve.Hit(best)
	})
}
