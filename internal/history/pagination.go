package history

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jamibilling/rdn-billing/internal/htmlpage"
)

// ControlKind tells how a pagination control advances the view.
type ControlKind string

const (
	ControlNumbered ControlKind = "numbered"
	ControlNext     ControlKind = "next"
)

// Control is a clickable pagination element found in a page snapshot.
// Selector addresses the element in the live document.
type Control struct {
	Kind     ControlKind `json:"kind"`
	Page     int         `json:"page"`
	Selector string      `json:"selector"`
	Label    string      `json:"label"`
}

// StopReason explains why pagination ended.
type StopReason string

const (
	StopNone           StopReason = ""
	StopNoPagination   StopReason = "no_pagination"
	StopNoNext         StopReason = "no_next_control"
	StopNextDisabled   StopReason = "next_disabled"
	StopPageLimit      StopReason = "page_limit"
	StopActivateFailed StopReason = "activate_failed"
	StopSnapshotFailed StopReason = "snapshot_failed"
)

const paginationSelector = "ul.pagination, .pagination, nav[aria-label='pagination'], .pager, div.pages, .page-numbers"

var (
	allTexts    = []string{"all", "show all", "view all"}
	allHrefs    = []string{"page=all", "all=true", "showall", "show_all", "view=all"}
	nextTexts   = []string{"next", "»", "›", "next »", "next ›"}
	activeAttrs = []string{"active", "current", "selected"}
)

// Pagination finds the pagination container of page, or an empty selection.
func Pagination(page *htmlpage.Page) *goquery.Selection {
	return page.Find(paginationSelector).First()
}

// NextControl returns the control that leads to page target. A numbered
// control for target is preferred over a "next" control. Controls that
// would load every entry at once are never returned.
func NextControl(page *htmlpage.Page, target int) (Control, StopReason) {
	container := Pagination(page)
	if container.Length() == 0 {
		if rel := page.Find("a[rel='next']").First(); rel.Length() > 0 && !isAllControl(rel) {
			if isDisabled(rel) {
				return Control{}, StopNextDisabled
			}
			return control(ControlNext, target, rel), StopNone
		}
		return Control{}, StopNoPagination
	}

	if c, ok := numberedControl(container, target); ok {
		return c, StopNone
	}

	next := nextCandidates(container)
	if next.Length() == 0 {
		return Control{}, StopNoNext
	}
	enabled := next.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return !isDisabled(s)
	})
	if enabled.Length() == 0 {
		return Control{}, StopNextDisabled
	}
	return control(ControlNext, target, enabled.First()), StopNone
}

func numberedControl(container *goquery.Selection, target int) (Control, bool) {
	want := strconv.Itoa(target)
	var found *goquery.Selection

	container.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isAllControl(s) {
			return true
		}
		if htmlpage.ElementText(s) != want && s.AttrOr("data-page", "") != want {
			return true
		}
		if isActive(s) || isDisabled(s) {
			return true
		}
		found = s
		return false
	})

	if found == nil {
		return Control{}, false
	}
	return control(ControlNumbered, target, found), true
}

func nextCandidates(container *goquery.Selection) *goquery.Selection {
	return container.Find("a, button").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if isAllControl(s) {
			return false
		}
		if strings.EqualFold(s.AttrOr("rel", ""), "next") || htmlpage.HasClass(s, "next") {
			return true
		}
		if htmlpage.HasClass(s.Parent(), "next") {
			return true
		}
		text := strings.ToLower(htmlpage.ElementText(s))
		label := strings.ToLower(s.AttrOr("aria-label", ""))
		return equalsAny(text, nextTexts) || strings.HasPrefix(label, "next")
	})
}

func control(kind ControlKind, target int, s *goquery.Selection) Control {
	return Control{
		Kind:     kind,
		Page:     target,
		Selector: htmlpage.CSSPath(s),
		Label:    htmlpage.ElementText(s),
	}
}

// HasAllControl reports whether page offers a control that would load every
// entry on one page.
func HasAllControl(page *htmlpage.Page) bool {
	found := false
	page.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = isAllControl(s)
		return !found
	})
	return found
}

// OnAggregateView reports whether the current view is the "show all" view,
// which is detected by an active All control.
func OnAggregateView(page *htmlpage.Page) bool {
	found := false
	page.Find("a, button, li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !isActive(s) {
			return true
		}
		text := strings.ToLower(htmlpage.ElementText(s))
		href := strings.ToLower(s.AttrOr("href", ""))
		found = equalsAny(text, allTexts) || (href != "" && containsAny(href, allHrefs))
		return !found
	})
	return found
}

func isAllControl(s *goquery.Selection) bool {
	if strings.EqualFold(s.AttrOr("data-page", ""), "all") {
		return true
	}
	if equalsAny(strings.ToLower(htmlpage.ElementText(s)), allTexts) {
		return true
	}
	href := strings.ToLower(s.AttrOr("href", ""))
	return href != "" && containsAny(href, allHrefs)
}

func isActive(s *goquery.Selection) bool {
	if s.AttrOr("aria-current", "") == "page" {
		return true
	}
	return hasExactClass(s, activeAttrs...) || (goquery.NodeName(s.Parent()) == "li" && hasExactClass(s.Parent(), activeAttrs...))
}

func isDisabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if s.AttrOr("aria-disabled", "") == "true" {
		return true
	}
	return hasExactClass(s, "disabled") || (goquery.NodeName(s.Parent()) == "li" && hasExactClass(s.Parent(), "disabled"))
}

func hasExactClass(s *goquery.Selection, names ...string) bool {
	for _, c := range strings.Fields(strings.ToLower(s.AttrOr("class", ""))) {
		for _, n := range names {
			if c == n {
				return true
			}
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

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
