// Package app builds the billing pipeline from configuration. Backing
// services are optional: a service that is not configured or not reachable
// is logged and left nil, and the pipeline runs in limited mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamibilling/rdn-billing/internal/browser"
	"github.com/jamibilling/rdn-billing/internal/casework"
	"github.com/jamibilling/rdn-billing/internal/classifier"
	"github.com/jamibilling/rdn-billing/internal/config"
	"github.com/jamibilling/rdn-billing/internal/events"
	"github.com/jamibilling/rdn-billing/internal/export"
	"github.com/jamibilling/rdn-billing/internal/feelookup"
	"github.com/jamibilling/rdn-billing/internal/harvest"
	"github.com/jamibilling/rdn-billing/internal/history"
	"github.com/jamibilling/rdn-billing/internal/locator"
	"github.com/jamibilling/rdn-billing/internal/session"
	"github.com/jamibilling/rdn-billing/internal/storage"
	"github.com/jamibilling/rdn-billing/pkg/logger"
	"github.com/jamibilling/rdn-billing/pkg/shutdown"
)

// memorySessions bounds the in-process session store.
const memorySessions = 256

// Options selects which optional services Build connects to.
type Options struct {
	Database      bool
	Redis         bool
	ObjectStorage bool
	Events        bool
}

// AllServices connects to everything that is configured.
func AllServices() Options {
	return Options{Database: true, Redis: true, ObjectStorage: true, Events: true}
}

// App holds the wired components. Optional services are nil when
// unavailable.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	DB      *storage.PostgresDB
	FeeRepo *storage.FeeRepository
	Redis   *storage.RedisClientWrapper
	Cache   *storage.LookupCache
	Objects *storage.MinIOStorage
	Bus     *events.Bus

	Classifier *classifier.Classifier
	Fees       *feelookup.Resolver
	Sessions   session.Store
	Browser    *browser.Manager
	Exporter   *export.Uploader

	closers []closer
}

type closer struct {
	name string
	fn   shutdown.CleanupFunc
}

// Build connects the selected services and wires the pipeline. Only
// configuration errors are returned; unreachable services are logged.
func Build(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Default()
	}
	a := &App{Config: cfg, Log: log}

	if opts.Database {
		a.openDatabase(ctx)
	}
	if opts.Redis {
		a.openRedis(ctx)
	}
	if opts.ObjectStorage {
		a.openObjectStorage(ctx)
	}
	if opts.Events {
		a.openBus(ctx)
	}

	clf, err := NewClassifier(cfg.Extraction)
	if err != nil {
		return nil, err
	}
	a.Classifier = clf

	fees, err := a.newFeeResolver()
	if err != nil {
		return nil, err
	}
	a.Fees = fees

	a.Sessions = a.newSessionStore()

	var recorder *browser.Recorder
	if cfg.Browser.RecordArtifacts && a.Objects != nil {
		recorder = browser.NewRecorder(a.Objects, log)
	}
	a.Browser = browser.NewManager(BrowserConfig(cfg), recorder, log)

	if a.Objects != nil {
		a.Exporter = export.NewUploader(a.Objects, cfg.Storage.SignedURLTTL, log)
	}

	return a, nil
}

// Cases builds the case service. pub receives case events; nil selects
// the NATS bus when connected.
func (a *App) Cases(pub events.Publisher) *casework.Service {
	if pub == nil && a.Bus != nil {
		pub = a.Bus
	}
	cfg := a.Config

	return casework.New(casework.Deps{
		Browser:  casework.FromManager(a.Browser),
		Sessions: a.Sessions,
		Locator: locator.New(locator.Config{
			KnownClients:     cfg.Extraction.KnownClients,
			FuzzyClientScore: cfg.Extraction.FuzzyClientScore,
			DefaultOrderType: cfg.Extraction.DefaultOrderType,
		}, a.Log),
		Harvester: harvest.New(HarvestConfig(cfg.Extraction), a.Classifier, a.Log),
		Walker:    history.NewWalker(HistoryConfig(cfg.Extraction), a.Classifier, a.Log),
		Fees:      a.Fees,
		Events:    pub,
		CaseURL:   cfg.Portal.CaseURL,
	}, a.Log)
}

// HarvestConfig applies the configured fee dedup threshold to the
// harvester defaults.
func HarvestConfig(ext config.ExtractionConfig) harvest.Config {
	hc := harvest.DefaultConfig()
	if ext.Dedup.FeeAmountOnlyMinimum > 0 {
		hc.Dedup.AmountOnlyMinimum = decimal.NewFromFloat(ext.Dedup.FeeAmountOnlyMinimum)
	}
	return hc
}

// HistoryConfig applies the page limit and update dedup thresholds to the
// walker defaults.
func HistoryConfig(ext config.ExtractionConfig) history.Config {
	hc := history.DefaultConfig()
	if ext.MaxHistoryPages > 0 {
		hc.MaxPages = ext.MaxHistoryPages
	}
	if ext.Dedup.UpdateLargeAmount > 0 {
		hc.Dedup.LargeAmount = decimal.NewFromFloat(ext.Dedup.UpdateLargeAmount)
	}
	if ext.Dedup.UpdateSmallAmount > 0 {
		hc.Dedup.SmallAmount = decimal.NewFromFloat(ext.Dedup.UpdateSmallAmount)
	}
	return hc
}

// Close releases every connection in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Closers hands every open connection to register in order of opening,
// so that a shutdown handler, which runs last registered first, owns them.
func (a *App) Closers(register func(name string, fn shutdown.CleanupFunc)) {
	for _, c := range a.closers {
		register(c.name, c.fn)
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn shutdown.CleanupFunc) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openDatabase(ctx context.Context) {
	cfg := a.Config.Database
	if cfg.Host == "" {
		a.Log.Warn("database not configured, fee lookups disabled")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := storage.NewPostgres(ctx, storage.PostgresConfig{
		DSN:          cfg.DSN(),
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		a.Log.Warn("failed to connect to database, running in limited mode", "error", err)
		return
	}
	if err := db.EnsureSchema(ctx); err != nil {
		a.Log.Warn("failed to apply database schema", "error", err)
	}

	a.Log.Info("connected to database", "host", cfg.Host, "database", cfg.Database)
	a.DB = db
	a.FeeRepo = storage.NewFeeRepository(db)
	a.onClose("database", func(context.Context) error { return db.Close() })
}

func (a *App) openRedis(ctx context.Context) {
	cfg := a.Config.Redis
	if cfg.Host == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := storage.NewRedisClient(ctx, storage.RedisConfig{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		a.Log.Warn("failed to connect to Redis, using in-memory state", "error", err)
		return
	}

	a.Log.Info("connected to Redis", "addr", cfg.Addr())
	a.Redis = client
	a.Cache = storage.NewLookupCache(client, storage.DefaultLookupCacheConfig(), a.Log)
	a.onClose("redis", func(context.Context) error { return client.Close() })
}

func (a *App) openObjectStorage(ctx context.Context) {
	cfg := a.Config.Storage
	if cfg.Endpoint == "" {
		return
	}

	store, err := storage.NewMinIOStorage(storage.MinIOConfig{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		BucketName:      cfg.BucketName,
		UseSSL:          cfg.UseSSL,
		Region:          cfg.Region,
	})
	if err != nil {
		a.Log.Warn("failed to connect to object storage, running in limited mode", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.InitBucket(ctx); err != nil {
		a.Log.Warn("failed to initialize storage bucket", "error", err)
		return
	}

	a.Log.Info("connected to object storage", "endpoint", cfg.Endpoint, "bucket", cfg.BucketName)
	a.Objects = store
}

func (a *App) openBus(ctx context.Context) {
	cfg := a.Config.NATS
	if cfg.URL == "" {
		a.Log.Warn("NATS not configured, case events stay in-process")
		return
	}

	natsCfg := events.DefaultNATSConfig()
	natsCfg.URL = cfg.URL
	if cfg.Name != "" {
		natsCfg.Name = cfg.Name
	}

	bus, err := events.Connect(natsCfg, a.Log)
	if err != nil {
		a.Log.Warn("failed to connect to NATS, case events stay in-process", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := bus.SetupStream(ctx); err != nil {
		a.Log.Warn("failed to setup case event stream", "error", err)
	}

	a.Bus = bus
	a.onClose("nats", func(context.Context) error { return bus.Close() })
}

func (a *App) newFeeResolver() (*feelookup.Resolver, error) {
	cfg := a.Config.Extraction

	policy := feelookup.DefaultConfig()
	if cfg.FallbackLienholder != "" {
		policy.FallbackLienholder = cfg.FallbackLienholder
	}
	if cfg.DefaultOrderType != "" {
		policy.DefaultFeeType = cfg.DefaultOrderType
	}
	if cfg.PlaceholderAmount != "" {
		amount, err := decimal.NewFromString(cfg.PlaceholderAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid placeholder amount %q: %w", cfg.PlaceholderAmount, err)
		}
		policy.PlaceholderAmount = amount
	}

	// Typed nils must not reach the resolver's interfaces.
	var store feelookup.Store
	if a.FeeRepo != nil {
		store = a.FeeRepo
	}
	var cache feelookup.Cache
	if a.Cache != nil {
		cache = a.Cache
	}
	return feelookup.New(store, cache, policy, a.Log), nil
}

func (a *App) newSessionStore() session.Store {
	ttl := a.Config.Session.TTL
	if strings.EqualFold(a.Config.Session.Backend, "redis") {
		if a.Redis != nil {
			return session.NewRedisStore(a.Redis, ttl)
		}
		a.Log.Warn("Redis unavailable, keeping sessions in memory")
	}
	return session.NewMemoryStore(memorySessions, ttl)
}

// NewClassifier builds the fee classifier from the inline mapping, then
// the categories file, then the built-in defaults.
func NewClassifier(cfg config.ExtractionConfig) (*classifier.Classifier, error) {
	if len(cfg.FeeCategories) > 0 {
		cats := make([]classifier.Category, 0, len(cfg.FeeCategories))
		for _, c := range cfg.FeeCategories {
			cats = append(cats, classifier.Category{Name: c.Name, Keywords: c.Keywords, Color: c.Color})
		}
		clf, err := classifier.New(cats)
		if err != nil {
			return nil, fmt.Errorf("invalid fee categories: %w", err)
		}
		return clf, nil
	}

	if cfg.CategoriesFile != "" {
		cats, err := classifier.LoadCategoriesFile(cfg.CategoriesFile)
		if err != nil {
			return nil, err
		}
		return classifier.New(cats)
	}

	return classifier.MustDefault(), nil
}

// BrowserConfig maps the configuration onto the browser manager settings.
func BrowserConfig(cfg *config.Config) browser.Config {
	b := browser.DefaultConfig()
	if cfg.Portal.LoginURL != "" {
		b.LoginURL = cfg.Portal.LoginURL
	}
	b.Headless = cfg.Browser.Headless
	if cfg.Browser.UserAgent != "" {
		b.UserAgent = cfg.Browser.UserAgent
	}
	if cfg.Browser.WindowWidth > 0 && cfg.Browser.WindowHeight > 0 {
		b.WindowWidth = cfg.Browser.WindowWidth
		b.WindowHeight = cfg.Browser.WindowHeight
	}
	b.ProbeTimeout = cfg.Browser.ProbeTimeout
	b.NavigationTimeout = cfg.Browser.NavigationTimeout
	b.CaptchaWait = cfg.Browser.CaptchaWait
	if cfg.Browser.TaskTimeout > 0 {
		b.TaskTimeout = cfg.Browser.TaskTimeout
	}
	b.ActionsPerSecond = cfg.Browser.ActionsPerSecond
	return b
}
