// Package classifier assigns fee categories and payment statuses to free text
// using an ordered keyword mapping.
package classifier

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unknown is returned when nothing matches.
const Unknown = "Unknown"

// UnknownColor is the display color of unclassified fees.
const UnknownColor = "#858796"

const (
	exactConfidence   = 1.0
	partialWeight     = 0.5
	partialConfidence = 0.9
	minPartialWordLen = 4
)

// Category is one entry of the fee mapping. Order matters: the first exact
// match wins and ties on partial score keep the earlier category.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Color    string   `yaml:"color"`
}

// Result is the outcome of classifying one text fragment.
type Result struct {
	Category   string
	Confidence float64
	Color      string
}

// StatusRule maps keywords to a payment status.
type StatusRule struct {
	Status   string
	Keywords []string
}

// DefaultCategories returns the built-in fee mapping.
func DefaultCategories() []Category {
	return []Category{
		{Name: "Storage", Keywords: []string{"storage fee", "daily storage", "impound fee", "lot fee"}, Color: "#4e73df"},
		{Name: "Repossession", Keywords: []string{"repo fee", "recovery fee", "tow fee", "involuntary repo"}, Color: "#e74a3b"},
		{Name: "Other", Keywords: []string{"other"}, Color: UnknownColor},
	}
}

// DefaultStatusRules returns the built-in status keywords in scan order.
// "not paid" and "unpaid" contain "paid", so text with either is reported
// as Paid.
func DefaultStatusRules() []StatusRule {
	return []StatusRule{
		{Status: "Paid", Keywords: []string{"paid", "payment received", "payment complete"}},
		{Status: "Not Paid", Keywords: []string{"not paid", "unpaid", "payment pending"}},
		{Status: "Approved", Keywords: []string{"approved", "accepted", "authorized"}},
		{Status: "Pending", Keywords: []string{"pending", "awaiting", "in process"}},
		{Status: "Denied", Keywords: []string{"denied", "rejected", "declined"}},
		{Status: "Waived", Keywords: []string{"waived", "forgiven", "no charge"}},
	}
}

// Classifier is safe for concurrent use once built.
type Classifier struct {
	categories []Category
	statuses   []StatusRule
}

// New builds a classifier over the given categories. A nil slice selects the
// defaults. Keywords are lowercased once here.
func New(categories []Category) (*Classifier, error) {
	if categories == nil {
		categories = DefaultCategories()
	}

	normalized := make([]Category, 0, len(categories))
	for i, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("category %d: name is required", i)
		}
		kw := make([]string, 0, len(c.Keywords))
		for _, k := range c.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		color := c.Color
		if color == "" {
			color = UnknownColor
		}
		normalized = append(normalized, Category{Name: c.Name, Keywords: kw, Color: color})
	}

	return &Classifier{categories: normalized, statuses: DefaultStatusRules()}, nil
}

// MustDefault returns a classifier over the built-in mapping.
func MustDefault() *Classifier {
	c, err := New(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Categories returns a copy of the ordered mapping.
func (c *Classifier) Categories() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Classify assigns a fee category to text.
func (c *Classifier) Classify(text string) Result {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return unknown()
	}

	for _, cat := range c.categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, kw) {
				return Result{Category: cat.Name, Confidence: exactConfidence, Color: cat.Color}
			}
		}
	}

	best := -1
	bestScore := 0.0
	for i, cat := range c.categories {
		score := 0.0
		for _, kw := range cat.Keywords {
			for _, word := range strings.Fields(kw) {
				if len(word) >= minPartialWordLen && strings.Contains(lower, word) {
					score += partialWeight
				}
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		return unknown()
	}
	return Result{
		Category:   c.categories[best].Name,
		Confidence: min(bestScore, partialConfidence),
		Color:      c.categories[best].Color,
	}
}

// ClassifyStatus returns the first status whose keyword appears in text.
func (c *Classifier) ClassifyStatus(text string) string {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return Unknown
	}
	for _, rule := range c.statuses {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Status
			}
		}
	}
	return Unknown
}

// ColorOf returns the display color of a category name.
func (c *Classifier) ColorOf(name string) string {
	for _, cat := range c.categories {
		if cat.Name == name {
			return cat.Color
		}
	}
	return UnknownColor
}

func unknown() Result {
	return Result{Category: Unknown, Confidence: 0, Color: UnknownColor}
}

type categoryFile struct {
	FeeCategories []Category `yaml:"fee_categories"`
}

// LoadCategories decodes an ordered category list from YAML. The document is
// either a bare list or a map with a fee_categories key.
func LoadCategories(r io.Reader) ([]Category, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories: %w", err)
	}

	var list []Category
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	var doc categoryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse categories: %w", err)
	}
	if len(doc.FeeCategories) == 0 {
		return nil, errors.New("no fee categories defined")
	}
	return doc.FeeCategories, nil
}

// LoadCategoriesFile reads LoadCategories input from disk.
func LoadCategoriesFile(path string) ([]Category, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open categories file: %w", err)
	}
	defer f.Close()
	return LoadCategories(f)
}
