package handlers

import (
	"context"
	"time"

	"github.com/jamibilling/rdn-billing/internal/export"
	"github.com/jamibilling/rdn-billing/internal/history"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/storage"
)

// CaseService defines the case operations exposed over HTTP.
type CaseService interface {
	Login(ctx context.Context, sessionID string, creds models.Credentials) (models.AuthResult, string, error)
	ExtractCase(ctx context.Context, sessionID, caseID string, progress func(history.Progress)) (*models.CaseRecord, error)
	LookupFee(ctx context.Context, sessionID, client, lienholder, feeType string) (models.FeeLookupResult, error)
	Result(ctx context.Context, sessionID string) (*models.CaseRecord, error)
	Logout(ctx context.Context, sessionID string) error
}

// ObjectStorage defines the object storage operations used for debug
// artifact listings.
type ObjectStorage interface {
	// Health checks storage connectivity.
	Health(ctx context.Context) error

	// GenerateSignedURL generates a presigned URL for downloading.
	GenerateSignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)

	// List returns the objects under prefix.
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// Exporter uploads the export sheets of a case.
type Exporter interface {
	Publish(ctx context.Context, rec *models.CaseRecord) ([]export.File, error)
}
