package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jamibilling/rdn-billing/internal/casework"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// SessionHeader carries the portal session id between requests.
const SessionHeader = "X-Session-ID"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// LoginRequestBody represents the incoming login request body.
type LoginRequestBody struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	SecurityCode     string `json:"securityCode"`
	CaseID           string `json:"caseId,omitempty"`
	IsSecondStep     bool   `json:"isSecondStep,omitempty"`
	VerificationCode string `json:"verificationCode,omitempty"`
}

// LoginResponse is returned by the login endpoint.
type LoginResponse struct {
	models.AuthResult
	SessionID string `json:"session_id"`
}

// FieldError reports one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateLoginRequest checks the fields required by each login step.
func ValidateLoginRequest(req *LoginRequestBody) []FieldError {
	var errs []FieldError
	if req.IsSecondStep {
		if strings.TrimSpace(req.VerificationCode) == "" {
			errs = append(errs, FieldError{Field: "verificationCode", Message: "Verification code is required"})
		}
		return errs
	}
	if strings.TrimSpace(req.Username) == "" {
		errs = append(errs, FieldError{Field: "username", Message: "Username is required"})
	}
	if req.Password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "Password is required"})
	}
	if strings.TrimSpace(req.SecurityCode) == "" {
		errs = append(errs, FieldError{Field: "securityCode", Message: "Security code is required"})
	}
	return errs
}

// HandleLogin returns a handler that signs the session into the portal.
// POST /api/v1/login
//
// A blank or unknown X-Session-ID starts a new session; its id is returned
// in the body and in the X-Session-ID response header. Rejected credentials
// and second-factor prompts are reported in the body with 200.
func HandleLogin(svc CaseService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		l := log.WithContext(ctx)

		var req LoginRequestBody
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			l.Warn("failed to decode login request", "error", err)
			RespondBadRequest(w, "Invalid request body")
			return
		}
		if errs := ValidateLoginRequest(&req); len(errs) > 0 {
			RespondValidationError(w, errs)
			return
		}

		res, sessionID, err := svc.Login(ctx, sessionIDOf(r), models.Credentials{
			Username:         strings.TrimSpace(req.Username),
			Password:         req.Password,
			SecurityCode:     strings.TrimSpace(req.SecurityCode),
			VerificationCode: strings.TrimSpace(req.VerificationCode),
			IsSecondStep:     req.IsSecondStep,
			CaseID:           strings.TrimSpace(req.CaseID),
		})
		if sessionID != "" {
			w.Header().Set(SessionHeader, sessionID)
		}
		if err != nil {
			l.WithError(err).Warn("login failed")
			RespondExtractionError(w, err)
			return
		}

		RespondJSON(w, http.StatusOK, LoginResponse{AuthResult: res, SessionID: sessionID})
	}
}

// HandleLogout returns a handler that forgets the session.
// DELETE /api/v1/session
func HandleLogout(svc CaseService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionIDOf(r)
		if id == "" {
			RespondBadRequest(w, "X-Session-ID header is required")
			return
		}
		if err := svc.Logout(r.Context(), id); err != nil {
			log.WithContext(r.Context()).WithError(err).Error("failed to delete session")
			RespondInternalError(w, "")
			return
		}
		RespondNoContent(w)
	}
}

// ExtractResponse wraps an extracted case.
type ExtractResponse struct {
	Case           *models.CaseRecord `json:"case"`
	TotalFees      string             `json:"totalFees"`
	ProcessingTime int64              `json:"processing_time_ms"`
}

// HandleExtract returns a handler that extracts one case.
// POST /api/v1/cases/{caseID}/extract
//
// Requires an authenticated X-Session-ID. Progress is streamed over /ws.
func HandleExtract(svc CaseService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()
		caseID := strings.TrimSpace(chi.URLParam(r, "caseID"))
		l := log.WithContext(ctx).WithCase(caseID)

		rec, err := svc.ExtractCase(ctx, sessionIDOf(r), caseID, nil)
		if err != nil {
			l.WithError(err).Warn("case extraction failed")
			RespondExtractionError(w, err)
			return
		}

		resp := ExtractResponse{
			Case:           rec,
			TotalFees:      rec.TotalFees().StringFixed(2),
			ProcessingTime: time.Since(start).Milliseconds(),
		}
		l.Info("case extracted",
			"fees", len(rec.Fees),
			"updates", len(rec.Updates),
			"processing_time_ms", resp.ProcessingTime,
		)
		RespondJSON(w, http.StatusOK, resp)
	}
}

// ResultsResponse is the last extracted case of a session.
type ResultsResponse struct {
	Case      *models.CaseRecord      `json:"case"`
	FeeLookup *models.FeeLookupResult `json:"feeLookup,omitempty"`
	TotalFees string                  `json:"totalFees"`
}

// HandleResults returns a handler for the session's last extraction.
// GET /api/v1/results
func HandleResults(svc CaseService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Result(r.Context(), sessionIDOf(r))
		if errors.Is(err, casework.ErrNoResult) {
			RespondNotFound(w, "No case has been extracted in this session")
			return
		}
		if err != nil {
			log.WithContext(r.Context()).WithError(err).Error("failed to load results")
			RespondInternalError(w, "")
			return
		}
		RespondJSON(w, http.StatusOK, ResultsResponse{
			Case:      rec,
			FeeLookup: rec.FeeLookup,
			TotalFees: rec.TotalFees().StringFixed(2),
		})
	}
}

func sessionIDOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}
