// Package feelookup resolves the contracted repossession fee for a case from
// the fee-rate tables.
//
// A rate is looked up for the exact (client, lienholder, fee type) first.
// When the lienholder is unknown or has no rate, the designated fallback
// lienholder ("Standard") is used instead and the result is marked as a
// fallback. An unknown client or fee type has no fallback.
package feelookup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/storage"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

var (
	// ErrNotFound is returned when no rate exists in either tier.
	ErrNotFound = errors.New("fee not found")
	// ErrNoDatabase is returned when the resolver runs without a store.
	ErrNoDatabase = errors.New("fee database not configured")
)

// Store reads the fee-rate tables. Misses are reported with
// storage.ErrNotFound; any other error is a connectivity or query failure.
type Store interface {
	FindClient(ctx context.Context, name string) (storage.Client, error)
	FindLienholder(ctx context.Context, name string) (storage.Lienholder, error)
	FindFeeType(ctx context.Context, name string) (storage.FeeType, error)
	FindFeeDetail(ctx context.Context, clientID, lienholderID, feeTypeID int64) (storage.FeeDetail, error)
}

// Cache keeps resolved results. storage.LookupCache implements it.
type Cache interface {
	Get(ctx context.Context, client, lienholder, feeType string) (models.FeeLookupResult, bool)
	Set(ctx context.Context, client, lienholder, feeType string, res models.FeeLookupResult)
}

// Config holds the lookup policy constants.
type Config struct {
	FallbackLienholder string
	DefaultFeeType     string
	PlaceholderAmount  decimal.Decimal
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		FallbackLienholder: "Standard",
		DefaultFeeType:     "Involuntary Repo",
		PlaceholderAmount:  decimal.RequireFromString("350.00"),
	}
}

const (
	fallbackSuffix    = " (Standard Fallback)"
	noRecordMessage   = "No matching database record found. Using default amount."
	dbErrorMessage    = "Database error: %v. Using default amount."
	fallbackMessage   = "Lienholder '%s' specific fee not found. Using Standard amount."
	placeholderPrefix = "FD-"
)

// Resolver is safe for concurrent use.
type Resolver struct {
	store Store
	cache Cache
	cfg   Config
	log   *logger.Logger
}

// New creates a resolver. cache may be nil.
func New(store Store, cache Cache, cfg Config, log *logger.Logger) *Resolver {
	def := DefaultConfig()
	if cfg.FallbackLienholder == "" {
		cfg.FallbackLienholder = def.FallbackLienholder
	}
	if cfg.DefaultFeeType == "" {
		cfg.DefaultFeeType = def.DefaultFeeType
	}
	if cfg.PlaceholderAmount.IsZero() {
		cfg.PlaceholderAmount = def.PlaceholderAmount
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{store: store, cache: cache, cfg: cfg, log: log.WithComponent("fee_lookup")}
}

// FeeTypeFor returns feeType, or the default fee type when it is blank or
// unresolved.
func (r *Resolver) FeeTypeFor(feeType string) string {
	if strings.TrimSpace(feeType) == "" || models.IsNotFound(feeType) {
		return r.cfg.DefaultFeeType
	}
	return feeType
}

// Lookup resolves the rate for (client, lienholder, feeType). It returns an
// error wrapping ErrNotFound when neither tier has a rate, and the store
// error for any other failure.
func (r *Resolver) Lookup(ctx context.Context, client, lienholder, feeType string) (models.FeeLookupResult, error) {
	feeType = r.FeeTypeFor(feeType)
	log := r.log.WithContext(ctx).WithFields(map[string]any{
		"client":     client,
		"lienholder": lienholder,
		"fee_type":   feeType,
	})

	if r.store == nil {
		return models.FeeLookupResult{}, ErrNoDatabase
	}
	if strings.TrimSpace(client) == "" || models.IsNotFound(client) {
		return models.FeeLookupResult{}, fmt.Errorf("%w: client not resolved", ErrNotFound)
	}

	if r.cache != nil {
		if res, ok := r.cache.Get(ctx, client, lienholder, feeType); ok {
			log.Debug("fee lookup served from cache")
			return res, nil
		}
	}

	c, err := r.store.FindClient(ctx, client)
	if err != nil {
		return models.FeeLookupResult{}, miss(err, "client %q", client)
	}

	var lh *storage.Lienholder
	if strings.TrimSpace(lienholder) != "" && !models.IsNotFound(lienholder) {
		found, err := r.store.FindLienholder(ctx, lienholder)
		switch {
		case err == nil:
			lh = &found
		case errors.Is(err, storage.ErrNotFound):
			log.Warn("lienholder not found, trying fallback lienholder")
		default:
			return models.FeeLookupResult{}, fmt.Errorf("lienholder %q: %w", lienholder, err)
		}
	}

	ft, err := r.store.FindFeeType(ctx, feeType)
	if err != nil {
		return models.FeeLookupResult{}, miss(err, "fee type %q", feeType)
	}

	if lh != nil {
		fd, err := r.store.FindFeeDetail(ctx, c.ID, lh.ID, ft.ID)
		switch {
		case err == nil:
			res := resultFrom(fd)
			log.Info("fee found for lienholder", "fee_id", res.FeeID, "amount", res.Amount.StringFixed(2))
			r.remember(ctx, client, lienholder, feeType, res)
			return res, nil
		case !errors.Is(err, storage.ErrNotFound):
			return models.FeeLookupResult{}, fmt.Errorf("fee detail: %w", err)
		}
	}

	std, err := r.store.FindLienholder(ctx, r.cfg.FallbackLienholder)
	if err != nil {
		return models.FeeLookupResult{}, miss(err, "fallback lienholder %q", r.cfg.FallbackLienholder)
	}
	fd, err := r.store.FindFeeDetail(ctx, c.ID, std.ID, ft.ID)
	if err != nil {
		return models.FeeLookupResult{}, miss(err, "fee for %q with fallback lienholder", client)
	}

	res := resultFrom(fd)
	res.LienholderName = fd.LienholderName + fallbackSuffix
	res.IsFallback = true
	res.Message = fmt.Sprintf(fallbackMessage, lienholder)

	log.Info("fee found with fallback lienholder", "fee_id", res.FeeID, "amount", res.Amount.StringFixed(2))
	r.remember(ctx, client, lienholder, feeType, res)
	return res, nil
}

// LookupOrPlaceholder never fails: any lookup failure yields a placeholder
// result with the default amount and an explanatory message.
func (r *Resolver) LookupOrPlaceholder(ctx context.Context, caseID, client, lienholder, feeType string) models.FeeLookupResult {
	res, err := r.Lookup(ctx, client, lienholder, feeType)
	if err == nil {
		return res
	}

	msg := noRecordMessage
	if !errors.Is(err, ErrNotFound) {
		msg = fmt.Sprintf(dbErrorMessage, err)
	}
	r.log.WithContext(ctx).WithError(err).Warn("fee lookup failed, using placeholder")

	return r.Placeholder(caseID, client, lienholder, feeType, msg)
}

// Placeholder builds the synthetic result used when no rate is available.
func (r *Resolver) Placeholder(caseID, client, lienholder, feeType, message string) models.FeeLookupResult {
	if caseID == "" {
		caseID = "0000"
	}
	return models.FeeLookupResult{
		FeeID:          placeholderPrefix + caseID,
		ClientName:     client,
		LienholderName: lienholder,
		FeeTypeName:    r.FeeTypeFor(feeType),
		Amount:         r.cfg.PlaceholderAmount,
		IsFallback:     true,
		Placeholder:    true,
		Message:        message,
	}
}

func (r *Resolver) remember(ctx context.Context, client, lienholder, feeType string, res models.FeeLookupResult) {
	if r.cache != nil {
		r.cache.Set(ctx, client, lienholder, feeType, res)
	}
}

func resultFrom(fd storage.FeeDetail) models.FeeLookupResult {
	return models.FeeLookupResult{
		FeeID:          strconv.FormatInt(fd.ID, 10),
		ClientName:     fd.ClientName,
		LienholderName: fd.LienholderName,
		FeeTypeName:    fd.FeeTypeName,
		Amount:         fd.Amount,
	}
}

// miss maps a store miss to ErrNotFound and passes other errors through.
func miss(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
