package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := MustDefault()

	tests := []struct {
		name       string
		text       string
		category   string
		confidence float64
		color      string
	}{
		{"exact storage", "Storage Fee - 12 days at lot", "Storage", 1.0, "#4e73df"},
		{"exact repossession", "Involuntary Repo Fee $300.50", "Repossession", 1.0, "#e74a3b"},
		{"case insensitive", "TOW FEE", "Repossession", 1.0, "#e74a3b"},
		{"earlier category wins on exact", "repo fee plus storage fee", "Storage", 1.0, "#4e73df"},
		{"partial capped", "daily impound storage recovery", "Storage", 0.9, "#4e73df"},
		{"partial single word", "vehicle recovery", "Repossession", 0.5, "#e74a3b"},
		{"no match", "keys returned to customer", Unknown, 0, UnknownColor},
		{"empty", "   ", Unknown, 0, UnknownColor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.text)
			assert.Equal(t, tt.category, got.Category)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.color, got.Color)
		})
	}
}

func TestClassify_TieKeepsEarlierCategory(t *testing.T) {
	c, err := New([]Category{
		{Name: "First", Keywords: []string{"alpha beta"}},
		{Name: "Second", Keywords: []string{"alpha gamma"}},
	})
	require.NoError(t, err)

	got := c.Classify("alpha only")
	assert.Equal(t, "First", got.Category)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
	assert.Equal(t, UnknownColor, got.Color)
}

func TestClassify_ShortWordsIgnored(t *testing.T) {
	c, err := New([]Category{{Name: "Lot", Keywords: []string{"lot fee"}}})
	require.NoError(t, err)

	// "lot" and "fee" are three letters and never score.
	got := c.Classify("the fee for the lot")
	assert.Equal(t, Unknown, got.Category)
}

func TestClassifyStatus(t *testing.T) {
	c := MustDefault()

	tests := []struct {
		text string
		want string
	}{
		{"Payment received on 3/1", "Paid"},
		{"payment pending review", "Not Paid"},
		{"Invoice approved by client", "Approved"},
		{"awaiting documents", "Pending"},
		{"Request DECLINED", "Denied"},
		{"fee waived", "Waived"},
		{"no charge for keys", "Waived"},
		{"not paid yet", "Paid"},
		{"storage fee", Unknown},
		{"", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ClassifyStatus(tt.text))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]Category{{Name: " "}})
	require.Error(t, err)

	c, err := New([]Category{{Name: "Keys", Keywords: []string{"  KEY Fee "}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"key fee"}, c.Categories()[0].Keywords)
	assert.Equal(t, UnknownColor, c.ColorOf("Keys"))
	assert.Equal(t, "Keys", c.Classify("Key fee charged").Category)
}

func TestLoadCategories(t *testing.T) {
	t.Run("bare list", func(t *testing.T) {
		cats, err := LoadCategories(strings.NewReader(`
- name: Storage
  keywords: [storage fee]
  color: "#4e73df"
- name: Keys
  keywords: [key fee]
`))
		require.NoError(t, err)
		require.Len(t, cats, 2)
		assert.Equal(t, "Keys", cats[1].Name)
	})

	t.Run("wrapped document keeps order", func(t *testing.T) {
		cats, err := LoadCategories(strings.NewReader(`
fee_categories:
  - name: Zeta
    keywords: [zeta fee]
  - name: Alpha
    keywords: [alpha fee]
`))
		require.NoError(t, err)
		require.Len(t, cats, 2)
		assert.Equal(t, "Zeta", cats[0].Name)
		assert.Equal(t, "Alpha", cats[1].Name)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := LoadCategories(strings.NewReader("fee_categories: []"))
		require.Error(t, err)
	})
}
