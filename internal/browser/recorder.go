package browser

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jamibilling/rdn-billing/internal/storage"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

const uploadTimeout = 30 * time.Second

// Recorder uploads debug artifacts (page HTML, screenshots, JSON dumps) to
// object storage. Uploads run in the background and failures are only
// logged.
type Recorder struct {
	store storage.ObjectStorage
	log   *logger.Logger
	wg    sync.WaitGroup
}

// NewRecorder creates a recorder. A nil store yields a disabled recorder.
func NewRecorder(store storage.ObjectStorage, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{store: store, log: log.WithComponent("recorder")}
}

// Enabled reports whether artifacts are stored.
func (r *Recorder) Enabled() bool {
	return r != nil && r.store != nil
}

// Save stores an HTML snapshot and a screenshot named after name.
// Empty payloads are skipped.
func (r *Recorder) Save(ctx context.Context, caseID, name, html string, png []byte) {
	if !r.Enabled() {
		return
	}
	if html != "" {
		r.upload(ctx, storage.ArtifactPath(caseID, name+".html"), []byte(html), "text/html; charset=utf-8")
	}
	if len(png) > 0 {
		r.upload(ctx, storage.ArtifactPath(caseID, name+".png"), png, "image/png")
	}
}

// SaveJSON stores v as an indented JSON artifact.
func (r *Recorder) SaveJSON(ctx context.Context, caseID, name string, v any) {
	if !r.Enabled() {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		r.log.WithError(err).Warn("failed to encode artifact", "name", name)
		return
	}
	r.upload(ctx, storage.ArtifactPath(caseID, name+".json"), data, "application/json")
}

// Wait blocks until pending uploads finish.
func (r *Recorder) Wait() {
	if r != nil {
		r.wg.Wait()
	}
}

func (r *Recorder) upload(ctx context.Context, path string, data []byte, contentType string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
		defer cancel()
		if _, err := r.store.UploadBytes(upCtx, data, path, contentType); err != nil {
			r.log.WithError(err).Warn("failed to upload artifact", "path", path)
			return
		}
		r.log.Debug("artifact uploaded", "path", path, "bytes", len(data))
	}()
}

// record captures the current page for debugging. It never fails.
func (s *Session) record(ctx context.Context, name string) {
	if !s.rec.Enabled() || ctx.Err() != nil {
		return
	}
	var (
		html string
		png  []byte
	)
	if err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.CaptureScreenshot(&png),
	); err != nil {
		s.log.WithError(err).Debug("artifact capture failed", "name", name)
	}
	s.rec.Save(ctx, s.caseID, name, html, png)
}

// RecordJSON stores v as an artifact of the current case.
func (s *Session) RecordJSON(ctx context.Context, name string, v any) {
	s.rec.SaveJSON(ctx, s.caseID, name, v)
}
