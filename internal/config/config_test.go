package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://secureauth.recoverydatabase.net/public/login", cfg.Portal.LoginURL)
	assert.Equal(t, 20, cfg.Extraction.MaxHistoryPages)
	assert.Equal(t, "Involuntary Repo", cfg.Extraction.DefaultOrderType)
	assert.Equal(t, "350.00", cfg.Extraction.PlaceholderAmount)
	assert.Equal(t, 50*time.Millisecond, cfg.Browser.ProbeTimeout)
	assert.Equal(t, 60*time.Second, cfg.Browser.CaptchaWait)
	assert.True(t, cfg.Browser.Headless)
	assert.Contains(t, cfg.Extraction.KnownClients, "Primeritus")
	assert.Equal(t, 100.0, cfg.Extraction.Dedup.FeeAmountOnlyMinimum)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("RDN_HIDE_BROWSER", "false")
	t.Setenv("RDN_NAVIGATION_TIMEOUT", "7")
	t.Setenv("RDN_KNOWN_CLIENTS", "Acme, Beta ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 7*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, []string{"Acme", "Beta"}, cfg.Extraction.KnownClients)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "template without placeholder",
			mutate:  func(c *Config) { c.Portal.CaseURLTemplate = "https://example.com/case" },
			wantErr: "{case_id}",
		},
		{
			name:    "zero page ceiling",
			mutate:  func(c *Config) { c.Extraction.MaxHistoryPages = 0 },
			wantErr: "max history pages",
		},
		{
			name:    "unknown session backend",
			mutate:  func(c *Config) { c.Session.Backend = "disk" },
			wantErr: "session backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SESSION_BACKEND", "memory")
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCaseURL(t *testing.T) {
	p := PortalConfig{CaseURLTemplate: "https://app.example.com/case2/?case_id={case_id}"}
	assert.Equal(t, "https://app.example.com/case2/?case_id=12345", p.CaseURL("12345"))
}

func TestApplyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
login_url: https://login.example.com/public/login
database:
  host: db.internal
  name: fees
extraction:
  max_history_pages: 5
  dedup:
    update_large_amount: 2500
fee_categories:
  - name: Storage
    keywords: ["storage fee", "lot fee"]
    color: "#4e73df"
  - name: Keys
    keywords: ["key fee"]
    color: "#1cc88a"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SESSION_BACKEND", "memory")
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyFile(path))

	assert.Equal(t, "https://login.example.com/public/login", cfg.Portal.LoginURL)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "fees", cfg.Database.Database)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5, cfg.Extraction.MaxHistoryPages)
	assert.Equal(t, 2500.0, cfg.Extraction.Dedup.UpdateLargeAmount)
	assert.Equal(t, 10.0, cfg.Extraction.Dedup.UpdateSmallAmount)

	require.Len(t, cfg.Extraction.FeeCategories, 2)
	assert.Equal(t, "Storage", cfg.Extraction.FeeCategories[0].Name)
	assert.Equal(t, []string{"key fee"}, cfg.Extraction.FeeCategories[1].Keywords)
}

func TestApplyFile_Missing(t *testing.T) {
	cfg := &Config{}
	err := cfg.ApplyFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
