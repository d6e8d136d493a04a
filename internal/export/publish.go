package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/storage"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// File describes one uploaded export sheet.
type File struct {
	Sheet Sheet  `json:"sheet"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	URL   string `json:"url"`
	Rows  int    `json:"rows"`
}

// Uploader writes export sheets to object storage.
type Uploader struct {
	store  storage.ObjectStorage
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// NewUploader creates an uploader whose download links stay valid for ttl.
func NewUploader(store storage.ObjectStorage, ttl time.Duration, log *logger.Logger) *Uploader {
	if log == nil {
		log = logger.Nop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Uploader{store: store, ttl: ttl, logger: log.WithComponent("export"), now: time.Now}
}

// Publish uploads every sheet of rec and returns a signed download link
// for each.
func (u *Uploader) Publish(ctx context.Context, rec *models.CaseRecord) ([]File, error) {
	if rec == nil {
		return nil, fmt.Errorf("no case record to export")
	}
	at := u.now()
	files := make([]File, 0, len(Sheets))

	for _, sheet := range Sheets {
		t, err := Build(rec, sheet)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := WriteCSV(&buf, t); err != nil {
			return nil, err
		}

		name := Filename(rec.Identity.CaseID, sheet, at)
		objectPath := storage.ExportPath(rec.Identity.CaseID, name)
		if _, err := u.store.UploadBytes(ctx, buf.Bytes(), objectPath, "text/csv; charset=utf-8"); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", name, err)
		}
		url, err := u.store.GenerateSignedURL(ctx, objectPath, u.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to sign %s: %w", name, err)
		}

		files = append(files, File{Sheet: sheet, Name: name, Path: objectPath, URL: url, Rows: len(t.Rows)})
	}

	u.logger.WithCase(rec.Identity.CaseID).Info("export uploaded", "files", len(files))
	return files, nil
}
