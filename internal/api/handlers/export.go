package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jamibilling/rdn-billing/internal/casework"
	"github.com/jamibilling/rdn-billing/internal/export"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/storage"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// SignedURLExpiry is the default expiration time for signed URLs.
const SignedURLExpiry = 1 * time.Hour

// ExportResponse lists the uploaded export files.
type ExportResponse struct {
	CaseID string        `json:"case_id"`
	Files  []export.File `json:"files"`
}

// sessionCase loads the session's last result and checks that it is caseID.
func sessionCase(w http.ResponseWriter, r *http.Request, svc CaseService, log *logger.Logger) (*models.CaseRecord, bool) {
	caseID := strings.TrimSpace(chi.URLParam(r, "caseID"))
	rec, err := svc.Result(r.Context(), sessionIDOf(r))
	switch {
	case errors.Is(err, casework.ErrNoResult):
		RespondNotFound(w, "No case has been extracted in this session")
		return nil, false
	case err != nil:
		log.WithContext(r.Context()).WithError(err).Error("failed to load results")
		RespondInternalError(w, "")
		return nil, false
	case rec.Identity.CaseID != caseID:
		RespondNotFound(w, "Case "+caseID+" is not the last case extracted in this session")
		return nil, false
	}
	return rec, true
}

// HandleExportCSV returns a handler that streams one export sheet as CSV.
// GET /api/v1/cases/{caseID}/export?sheet=summary|fees|updates|fee-summary
func HandleExportCSV(svc CaseService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sheet, err := export.ParseSheet(r.URL.Query().Get("sheet"))
		if err != nil {
			RespondBadRequest(w, "Invalid sheet. Valid sheets: summary, fees, updates, fee-summary")
			return
		}
		rec, ok := sessionCase(w, r, svc, log)
		if !ok {
			return
		}

		tbl, err := export.Build(rec, sheet)
		if err != nil {
			RespondInternalError(w, "")
			return
		}

		name := export.Filename(rec.Identity.CaseID, sheet, time.Now())
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		w.WriteHeader(http.StatusOK)
		if err := export.WriteCSV(w, tbl); err != nil {
			log.WithContext(r.Context()).WithError(err).Warn("failed to stream export")
		}
	}
}

// HandleExportUpload returns a handler that uploads every export sheet to
// object storage and returns signed download links.
// POST /api/v1/cases/{caseID}/export
func HandleExportUpload(svc CaseService, exporter Exporter, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if exporter == nil {
			RespondServiceUnavailable(w, "Storage service not available")
			return
		}
		rec, ok := sessionCase(w, r, svc, log)
		if !ok {
			return
		}

		files, err := exporter.Publish(r.Context(), rec)
		if err != nil {
			log.WithContext(r.Context()).WithCase(rec.Identity.CaseID).WithError(err).Error("failed to upload export")
			RespondServiceUnavailable(w, "Failed to upload export files")
			return
		}
		RespondJSON(w, http.StatusOK, ExportResponse{CaseID: rec.Identity.CaseID, Files: files})
	}
}

// Artifact is a stored debug capture with a download link.
type Artifact struct {
	storage.ObjectInfo
	URL string `json:"url"`
}

// ArtifactsResponse lists the debug captures of a case.
type ArtifactsResponse struct {
	CaseID    string     `json:"case_id"`
	Artifacts []Artifact `json:"artifacts"`
}

// HandleDebugArtifacts returns a handler listing the HTML snapshots,
// screenshots and JSON dumps recorded while extracting a case.
// GET /api/v1/debug/{caseID}
func HandleDebugArtifacts(store ObjectStorage, expiry time.Duration, log *logger.Logger) http.HandlerFunc {
	if expiry <= 0 {
		expiry = SignedURLExpiry
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caseID := strings.TrimSpace(chi.URLParam(r, "caseID"))
		if caseID == "" {
			RespondBadRequest(w, "Case ID is required")
			return
		}
		if store == nil {
			RespondServiceUnavailable(w, "Storage service not available")
			return
		}

		objects, err := store.List(ctx, storage.ArtifactPrefix(caseID))
		if err != nil {
			log.WithContext(ctx).WithCase(caseID).WithError(err).Error("failed to list artifacts")
			RespondServiceUnavailable(w, "Failed to list artifacts")
			return
		}

		resp := ArtifactsResponse{CaseID: caseID, Artifacts: make([]Artifact, 0, len(objects))}
		for _, obj := range objects {
			url, err := store.GenerateSignedURL(ctx, obj.Key, expiry)
			if err != nil {
				log.WithContext(ctx).WithError(err).Warn("failed to sign artifact", "key", obj.Key)
				continue
			}
			resp.Artifacts = append(resp.Artifacts, Artifact{ObjectInfo: obj, URL: url})
		}
		RespondJSON(w, http.StatusOK, resp)
	}
}
