// Package htmlpage wraps a rendered portal page for DOM queries and
// line-oriented text scanning.
package htmlpage

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Page is a parsed snapshot of one rendered page.
type Page struct {
	URL string
	doc *goquery.Document

	textOnce sync.Once
	text     string
}

// Parse builds a Page from rendered HTML.
func Parse(rawHTML, url string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}
	return &Page{URL: url, doc: doc}, nil
}

// MustParse is Parse for fixtures; it panics on error.
func MustParse(rawHTML string) *Page {
	p, err := Parse(rawHTML, "")
	if err != nil {
		panic(err)
	}
	return p
}

// Doc returns the underlying document.
func (p *Page) Doc() *goquery.Document {
	return p.doc
}

// Find runs a CSS selector against the whole document.
func (p *Page) Find(selector string) *goquery.Selection {
	return p.doc.Find(selector)
}

// Text returns the flattened visible text of the page, one block per line.
func (p *Page) Text() string {
	p.textOnce.Do(func() {
		p.text = FlattenText(p.doc.Nodes...)
	})
	return p.text
}

// Title returns the document title.
func (p *Page) Title() string {
	return NormalizeSpace(p.doc.Find("title").First().Text())
}

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"template": true, "svg": true, "iframe": true,
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"tbody": true, "thead": true, "tfoot": true, "tr": true, "ul": true,
	"option": true, "caption": true,
}

var cellTags = map[string]bool{"td": true, "th": true}

// FlattenText renders nodes as text with block elements on their own lines,
// table cells separated by spaces, and whitespace collapsed within each line.
// Empty lines are dropped.
func FlattenText(nodes ...*html.Node) string {
	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if skipTags[tag] {
				return
			}
			if tag == "br" {
				b.WriteByte('\n')
				return
			}
			block, cell := blockTags[tag], cellTags[tag]
			if block {
				b.WriteByte('\n')
			} else if cell {
				b.WriteByte(' ')
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			if block {
				b.WriteByte('\n')
			} else if cell {
				b.WriteByte(' ')
			}
			return
		default:
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
	}

	for _, n := range nodes {
		walk(n)
	}

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = NormalizeSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// ElementText returns the flattened text of a selection on a single line.
func ElementText(sel *goquery.Selection) string {
	return NormalizeSpace(FlattenText(sel.Nodes...))
}

// NormalizeSpace collapses all whitespace runs to single spaces and trims.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CSSPath builds a selector that addresses the first node of sel by its
// position under <html>. It is stable for an unchanged DOM and usable both
// with goquery and document.querySelector.
func CSSPath(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}

	var parts []string
	for n := sel.Nodes[0]; n != nil && n.Type == html.ElementNode; n = n.Parent {
		tag := strings.ToLower(n.Data)
		if tag == "html" {
			parts = append(parts, "html")
			break
		}
		idx := 1
		for s := n.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode {
				idx++
			}
		}
		parts = append(parts, tag+":nth-child("+strconv.Itoa(idx)+")")
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// HasClass reports whether sel's class attribute contains any of the given
// substrings, case-insensitively.
func HasClass(sel *goquery.Selection, substrings ...string) bool {
	class := strings.ToLower(sel.AttrOr("class", ""))
	if class == "" {
		return false
	}
	for _, s := range substrings {
		if strings.Contains(class, s) {
			return true
		}
	}
	return false
}
