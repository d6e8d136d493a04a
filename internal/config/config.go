// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NATS       NATSConfig
	Storage    StorageConfig
	Portal     PortalConfig
	Browser    BrowserConfig
	Extraction ExtractionConfig
	Session    SessionConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL  string
	Name string
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
	SignedURLTTL    time.Duration
}

// PortalConfig holds the RDN portal addresses.
type PortalConfig struct {
	LoginURL string
	// CaseURLTemplate contains a literal {case_id} placeholder.
	CaseURLTemplate string
}

// BrowserConfig holds headless browser configuration.
type BrowserConfig struct {
	Headless          bool
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	ProbeTimeout      time.Duration
	NavigationTimeout time.Duration
	CaptchaWait       time.Duration
	TaskTimeout       time.Duration
	ActionsPerSecond  float64
	RecordArtifacts   bool
}

// FeeCategoryConfig is one entry of the ordered fee category mapping.
type FeeCategoryConfig struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
	Color    string   `mapstructure:"color"`
}

// ExtractionConfig tunes the extraction pipeline.
type ExtractionConfig struct {
	MaxHistoryPages    int
	DefaultOrderType   string
	FallbackLienholder string
	PlaceholderAmount  string
	KnownClients       []string
	FuzzyClientScore   float64
	CategoriesFile     string
	FeeCategories      []FeeCategoryConfig
	Dedup              DedupConfig
}

// DedupConfig holds the amount thresholds of duplicate detection. A zero
// value keeps the package default.
type DedupConfig struct {
	FeeAmountOnlyMinimum float64
	UpdateLargeAmount    float64
	UpdateSmallAmount    float64
}

// SessionConfig selects where portal sessions are kept.
type SessionConfig struct {
	Backend string // redis or memory
	TTL     time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8080),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Minute),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "rdn_billing"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:  getEnv("NATS_URL", "nats://localhost:4222"),
			Name: getEnv("NATS_CLIENT_NAME", "rdn-billing"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
			BucketName:      getEnv("STORAGE_BUCKET", "rdn-billing"),
			UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
			SignedURLTTL:    getEnvAsDuration("STORAGE_SIGNED_URL_TTL", time.Hour),
		},
		Portal: PortalConfig{
			LoginURL:        getEnv("RDN_LOGIN_URL", "https://secureauth.recoverydatabase.net/public/login"),
			CaseURLTemplate: getEnv("RDN_CASE_URL_TEMPLATE", "https://app.recoverydatabase.net/alpha_rdn/module/default/case2/?case_id={case_id}"),
		},
		Browser: BrowserConfig{
			Headless:          getEnvAsBool("RDN_HIDE_BROWSER", true),
			UserAgent:         getEnv("RDN_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"),
			WindowWidth:       getEnvAsInt("RDN_WINDOW_WIDTH", 1280),
			WindowHeight:      getEnvAsInt("RDN_WINDOW_HEIGHT", 800),
			ProbeTimeout:      getEnvAsDuration("RDN_PROBE_TIMEOUT", 50*time.Millisecond),
			NavigationTimeout: getEnvAsDuration("RDN_NAVIGATION_TIMEOUT", 15*time.Second),
			CaptchaWait:       getEnvAsDuration("RDN_CAPTCHA_WAIT", 60*time.Second),
			TaskTimeout:       getEnvAsDuration("RDN_TASK_TIMEOUT", 5*time.Minute),
			ActionsPerSecond:  getEnvAsFloat("RDN_ACTIONS_PER_SECOND", 2),
			RecordArtifacts:   getEnvAsBool("RDN_RECORD_ARTIFACTS", true),
		},
		Extraction: ExtractionConfig{
			MaxHistoryPages:    getEnvAsInt("RDN_MAX_HISTORY_PAGES", 20),
			DefaultOrderType:   getEnv("RDN_DEFAULT_ORDER_TYPE", "Involuntary Repo"),
			FallbackLienholder: getEnv("RDN_FALLBACK_LIENHOLDER", "Standard"),
			PlaceholderAmount:  getEnv("RDN_PLACEHOLDER_AMOUNT", "350.00"),
			KnownClients:       getEnvAsList("RDN_KNOWN_CLIENTS", []string{"Primeritus", "IBEAM", "MasterTrak", "CarsArrive", "PAR North America"}),
			FuzzyClientScore:   getEnvAsFloat("RDN_FUZZY_CLIENT_SCORE", 0.93),
			CategoriesFile:     getEnv("RDN_CATEGORIES_FILE", ""),
			Dedup: DedupConfig{
				FeeAmountOnlyMinimum: getEnvAsFloat("RDN_FEE_DEDUP_MIN_AMOUNT", 100),
				UpdateLargeAmount:    getEnvAsFloat("RDN_UPDATE_DEDUP_LARGE_AMOUNT", 1000),
				UpdateSmallAmount:    getEnvAsFloat("RDN_UPDATE_DEDUP_SMALL_AMOUNT", 10),
			},
		},
		Session: SessionConfig{
			Backend: getEnv("SESSION_BACKEND", "redis"),
			TTL:     getEnvAsDuration("SESSION_TTL", 12*time.Hour),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
	}

	if path := getEnv("RDN_CONFIG_FILE", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if _, err := url.ParseRequestURI(c.Portal.LoginURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid login url: %w", err))
	}
	if !strings.Contains(c.Portal.CaseURLTemplate, "{case_id}") {
		errs = append(errs, errors.New("case url template must contain {case_id}"))
	}
	if c.Extraction.MaxHistoryPages < 1 {
		errs = append(errs, errors.New("max history pages must be at least 1"))
	}
	switch c.Session.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}
	for i, cat := range c.Extraction.FeeCategories {
		if cat.Name == "" {
			errs = append(errs, fmt.Errorf("fee category %d has no name", i))
		}
	}

	return errors.Join(errs...)
}

// CaseURL expands the case URL template for one case.
func (c *PortalConfig) CaseURL(caseID string) string {
	return strings.ReplaceAll(c.CaseURLTemplate, "{case_id}", url.QueryEscape(caseID))
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the Redis host:port pair.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("15s") or bare seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
