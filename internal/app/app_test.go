package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/config"
	"github.com/jamibilling/rdn-billing/internal/feelookup"
	"github.com/jamibilling/rdn-billing/internal/session"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

func offlineConfig() *config.Config {
	return &config.Config{
		Portal: config.PortalConfig{
			LoginURL:        "https://login.example.com/public/login",
			CaseURLTemplate: "https://app.example.com/case2/?case_id={case_id}",
		},
		Browser: config.BrowserConfig{
			Headless:          true,
			NavigationTimeout: 5 * time.Second,
			ActionsPerSecond:  4,
		},
		Extraction: config.ExtractionConfig{
			MaxHistoryPages:    5,
			DefaultOrderType:   "Voluntary Repo",
			FallbackLienholder: "Standard",
			PlaceholderAmount:  "400.00",
		},
		Session: config.SessionConfig{Backend: "redis", TTL: time.Hour},
	}
}

func TestBuild_Offline(t *testing.T) {
	cfg := offlineConfig()
	a, err := Build(context.Background(), cfg, AllServices(), logger.Nop())
	require.NoError(t, err)

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Objects)
	assert.Nil(t, a.Bus)
	assert.Nil(t, a.Exporter)
	require.NotNil(t, a.Classifier)
	require.NotNil(t, a.Browser)

	_, isMemory := a.Sessions.(*session.MemoryStore)
	assert.True(t, isMemory, "redis backend without Redis falls back to memory")

	_, err = a.Fees.Lookup(context.Background(), "Acme", "First Bank", "")
	assert.ErrorIs(t, err, feelookup.ErrNoDatabase)

	res := a.Fees.LookupOrPlaceholder(context.Background(), "4417", "Acme", "First Bank", "")
	assert.True(t, res.Placeholder)
	assert.True(t, decimal.RequireFromString("400").Equal(res.Amount))
	assert.Equal(t, "Voluntary Repo", res.FeeTypeName)

	assert.NotNil(t, a.Cases(nil))
	assert.NoError(t, a.Close(context.Background()))
}

func TestBuild_InvalidPlaceholder(t *testing.T) {
	cfg := offlineConfig()
	cfg.Extraction.PlaceholderAmount = "three fifty"

	_, err := Build(context.Background(), cfg, Options{}, logger.Nop())
	assert.ErrorContains(t, err, "invalid placeholder amount")
}

func TestNewClassifier(t *testing.T) {
	t.Run("inline categories win", func(t *testing.T) {
		clf, err := NewClassifier(config.ExtractionConfig{
			CategoriesFile: "/does/not/exist.yaml",
			FeeCategories: []config.FeeCategoryConfig{
				{Name: "Keys", Keywords: []string{"key fee"}, Color: "#111"},
			},
		})
		require.NoError(t, err)
		cats := clf.Categories()
		require.Len(t, cats, 1)
		assert.Equal(t, "Keys", cats[0].Name)
	})

	t.Run("categories file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "categories.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
- name: Storage
  keywords: [storage]
  color: "#222"
- name: Transport
  keywords: [transport]
`), 0o600))

		clf, err := NewClassifier(config.ExtractionConfig{CategoriesFile: path})
		require.NoError(t, err)
		assert.Len(t, clf.Categories(), 2)
		assert.Equal(t, "Transport", clf.Classify("Transport to auction").Category)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewClassifier(config.ExtractionConfig{CategoriesFile: "/does/not/exist.yaml"})
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		clf, err := NewClassifier(config.ExtractionConfig{})
		require.NoError(t, err)
		assert.NotEmpty(t, clf.Categories())
	})

	t.Run("nameless category", func(t *testing.T) {
		_, err := NewClassifier(config.ExtractionConfig{
			FeeCategories: []config.FeeCategoryConfig{{Keywords: []string{"x"}}},
		})
		assert.Error(t, err)
	})
}

func TestBrowserConfig(t *testing.T) {
	cfg := offlineConfig()
	cfg.Browser.UserAgent = "rdn-test"
	cfg.Browser.WindowWidth = 1600
	cfg.Browser.WindowHeight = 900

	b := BrowserConfig(cfg)
	assert.Equal(t, "https://login.example.com/public/login", b.LoginURL)
	assert.Equal(t, "rdn-test", b.UserAgent)
	assert.Equal(t, 1600, b.WindowWidth)
	assert.Equal(t, 900, b.WindowHeight)
	assert.Equal(t, 5*time.Second, b.NavigationTimeout)
	assert.Equal(t, 4.0, b.ActionsPerSecond)
	assert.True(t, b.Headless)
}

func TestDedupThresholds(t *testing.T) {
	ext := config.ExtractionConfig{
		MaxHistoryPages: 7,
		Dedup: config.DedupConfig{
			FeeAmountOnlyMinimum: 250,
			UpdateLargeAmount:    5000,
		},
	}

	hc := HarvestConfig(ext)
	assert.True(t, decimal.NewFromInt(250).Equal(hc.Dedup.AmountOnlyMinimum))

	wc := HistoryConfig(ext)
	assert.Equal(t, 7, wc.MaxPages)
	assert.True(t, decimal.NewFromInt(5000).Equal(wc.Dedup.LargeAmount))
	assert.True(t, decimal.NewFromInt(10).Equal(wc.Dedup.SmallAmount), "zero keeps the default")

	def := HarvestConfig(config.ExtractionConfig{})
	assert.True(t, decimal.NewFromInt(100).Equal(def.Dedup.AmountOnlyMinimum))
}
