// Package casework runs the case pipeline: portal login, case page
// extraction, update-history walk and fee lookup, with per-session state.
//
// A failing step only ends the extraction when nothing usable was found;
// otherwise the step is reported as a warning on the case record.
package casework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamibilling/rdn-billing/internal/browser"
	"github.com/jamibilling/rdn-billing/internal/events"
	"github.com/jamibilling/rdn-billing/internal/feelookup"
	"github.com/jamibilling/rdn-billing/internal/harvest"
	"github.com/jamibilling/rdn-billing/internal/history"
	"github.com/jamibilling/rdn-billing/internal/htmlpage"
	"github.com/jamibilling/rdn-billing/internal/locator"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/session"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// ErrNoResult is returned when a session has not extracted a case yet.
var ErrNoResult = errors.New("no case has been extracted in this session")

// Portal is one open browser on the RDN portal. browser.Session
// implements it.
type Portal interface {
	history.Navigator
	Authenticate(ctx context.Context, creds models.Credentials) (models.AuthResult, error)
	RestoreCookies(ctx context.Context, cookies []models.Cookie) error
	OpenCase(ctx context.Context, caseURL string) (string, error)
	SetCase(caseID string)
	RecordJSON(ctx context.Context, name string, v any)
	Close()
}

// Browser opens portals.
type Browser interface {
	Open(ctx context.Context) (Portal, error)
}

type managerBrowser struct {
	m *browser.Manager
}

func (b managerBrowser) Open(ctx context.Context) (Portal, error) {
	s, err := b.m.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FromManager adapts a browser manager to Browser.
func FromManager(m *browser.Manager) Browser {
	return managerBrowser{m: m}
}

// FeeResolver looks up contracted fees.
type FeeResolver interface {
	Lookup(ctx context.Context, client, lienholder, feeType string) (models.FeeLookupResult, error)
	LookupOrPlaceholder(ctx context.Context, caseID, client, lienholder, feeType string) models.FeeLookupResult
}

// Deps are the collaborators of a Service.
type Deps struct {
	Browser   Browser
	Sessions  session.Store
	Locator   *locator.Locator
	Harvester *harvest.Harvester
	Walker    *history.Walker
	Fees      FeeResolver
	// Events may be nil.
	Events events.Publisher
	// CaseURL builds the portal URL of a case.
	CaseURL func(caseID string) string
}

// Service is safe for concurrent use. At most one extraction runs per
// session at a time.
type Service struct {
	deps Deps
	busy sync.Map
	log  *logger.Logger
}

// New creates a service.
func New(deps Deps, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{deps: deps, log: log.WithComponent("casework")}
}

// Login authenticates against the portal and stores the outcome in the
// session, creating one when sessionID is blank or unknown. A second-step
// login reuses the credentials kept from the first step. The returned
// session ID identifies the session for later calls.
func (s *Service) Login(ctx context.Context, sessionID string, creds models.Credentials) (models.AuthResult, string, error) {
	st, err := session.GetOrNew(ctx, s.deps.Sessions, sessionID)
	if err != nil {
		return models.AuthResult{}, sessionID, fmt.Errorf("failed to load session: %w", err)
	}
	log := s.log.WithContext(logger.ContextWithSession(ctx, st.ID))

	if creds.IsSecondStep {
		creds = mergeSecondStep(creds, st.Credentials)
	}

	portal, err := s.deps.Browser.Open(ctx)
	if err != nil {
		return models.AuthResult{}, st.ID, models.NewCatastrophicError("", fmt.Errorf("failed to open browser: %w", err))
	}
	defer portal.Close()

	res, err := portal.Authenticate(ctx, creds)
	if err != nil {
		log.WithError(err).Warn("portal login failed")
		return res, st.ID, err
	}

	if creds.CaseID != "" {
		st.LastCaseID = creds.CaseID
	}
	creds.CaseID = ""

	switch {
	case res.Success:
		st.Credentials = creds
		st.Credentials.VerificationCode = ""
		st.Cookies = res.Cookies
		st.Authenticated = true
	case res.RequiresSecondFactor:
		st.Credentials = creds
		st.Authenticated = false
	default:
		st.Authenticated = false
		st.Cookies = nil
	}
	st.UpdatedAt = time.Now().UTC()
	if err := s.deps.Sessions.Save(ctx, st); err != nil {
		return res, st.ID, fmt.Errorf("failed to save session: %w", err)
	}

	log.Info("portal login finished",
		"success", res.Success,
		"second_factor", res.RequiresSecondFactor,
		"reason", res.Reason,
	)
	s.publish(ctx, events.Login(st.ID, res))
	return res, st.ID, nil
}

// mergeSecondStep fills blank first-step fields from the stored credentials.
func mergeSecondStep(in, stored models.Credentials) models.Credentials {
	if in.Username == "" {
		in.Username = stored.Username
	}
	if in.Password == "" {
		in.Password = stored.Password
	}
	if in.SecurityCode == "" {
		in.SecurityCode = stored.SecurityCode
	}
	return in
}

// ExtractCase runs the full pipeline for caseID within an authenticated
// session. progress, when non-nil, is called after each history page.
func (s *Service) ExtractCase(ctx context.Context, sessionID, caseID string, progress func(history.Progress)) (*models.CaseRecord, error) {
	if caseID == "" {
		return nil, models.NewInvalidError("case id is required")
	}
	if _, running := s.busy.LoadOrStore(sessionID, struct{}{}); running {
		return nil, models.NewBusyError(sessionID)
	}
	defer s.busy.Delete(sessionID)

	ctx = logger.ContextWithCase(logger.ContextWithSession(ctx, sessionID), caseID)
	log := s.log.WithContext(ctx)

	st, err := s.deps.Sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, models.NewAuthError("no portal session, please log in first")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !st.Authenticated && !st.Credentials.Complete() {
		return nil, models.NewAuthError("portal session is not authenticated, please log in first")
	}

	started := time.Now()
	log.Info("case extraction started")

	portal, err := s.deps.Browser.Open(ctx)
	if err != nil {
		return nil, models.NewCatastrophicError(caseID, fmt.Errorf("failed to open browser: %w", err))
	}
	defer portal.Close()
	portal.SetCase(caseID)

	if err := portal.RestoreCookies(ctx, st.Cookies); err != nil {
		log.WithError(err).Warn("could not restore portal cookies")
	}

	caseURL := s.deps.CaseURL(caseID)
	html, err := s.openCase(ctx, portal, st, caseURL)
	if err != nil {
		return nil, err
	}

	page, err := htmlpage.Parse(html, caseURL)
	if err != nil {
		return nil, models.NewStructuralError("case page could not be parsed", map[string]any{"case_id": caseID, "error": err.Error()})
	}

	located := s.deps.Locator.Locate(ctx, page, caseID, locator.Hints{ClientName: st.ClientName(caseID)})
	st.RememberClient(caseID, located.LearnedClientName)
	id := located.Identity

	harvested := s.deps.Harvester.Harvest(page)

	rec := &models.CaseRecord{
		RunID:    uuid.New().String(),
		Identity: id,
		Fees:     harvested.Fees,
		Extras:   harvested.Extras,
	}

	walked, err := s.deps.Walker.Walk(ctx, portal, func(p history.Progress) {
		s.publish(ctx, events.Progress(sessionID, caseID, p.Page, p.Records, p.Total))
		if progress != nil {
			progress(p)
		}
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		log.WithError(err).Warn("update history skipped")
		rec.Warnings = append(rec.Warnings, err.Error())
	}
	rec.Updates = walked.Updates
	rec.PagesWalked = len(walked.PagesVisited)
	rec.Warnings = append(rec.Warnings, walked.Warnings...)
	if walked.SkippedAggregate > 0 {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("skipped %d aggregate history view(s)", walked.SkippedAggregate))
	}
	portal.RecordJSON(ctx, "all_updates_"+caseID, rec.Updates)

	lookup := s.deps.Fees.LookupOrPlaceholder(ctx, caseID, id.ClientName, id.LienHolder, id.RepoType)
	rec.FeeLookup = &lookup
	rec.ExtractedAt = time.Now().UTC()

	if !rec.HasData() {
		return nil, models.NewCatastrophicError(caseID, errors.New("no identity, fee or update data could be extracted"))
	}

	st.LastCaseID = caseID
	st.LastResult = rec
	st.UpdatedAt = rec.ExtractedAt
	if err := s.deps.Sessions.Save(ctx, st); err != nil {
		log.WithError(err).Warn("failed to save extraction result to session")
	}

	log.Info("case extraction finished",
		"run_id", rec.RunID,
		"fees", len(rec.Fees),
		"updates", len(rec.Updates),
		"pages", rec.PagesWalked,
		"warnings", len(rec.Warnings),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	s.publish(ctx, events.Extracted(sessionID, rec))
	return rec, nil
}

// openCase loads the case page, logging in again with the stored
// credentials when the portal session has expired.
func (s *Service) openCase(ctx context.Context, portal Portal, st *session.State, caseURL string) (string, error) {
	html, err := portal.OpenCase(ctx, caseURL)
	if !errors.Is(err, browser.ErrLoginRequired) {
		return html, err
	}

	if !st.Credentials.Complete() {
		st.Authenticated = false
		return "", models.NewAuthError("portal session expired, please log in again")
	}

	s.log.WithContext(ctx).Info("portal session expired, logging in again")
	creds := st.Credentials
	creds.IsSecondStep = false
	res, err := portal.Authenticate(ctx, creds)
	if err != nil {
		return "", err
	}
	if !res.Success {
		st.Authenticated = false
		if saveErr := s.deps.Sessions.Save(ctx, st); saveErr != nil {
			s.log.WithError(saveErr).Warn("failed to save session")
		}
		if res.RequiresSecondFactor {
			return "", models.NewSecondFactorError(res.Message)
		}
		if res.Reason == models.ReasonCaptcha {
			return "", models.NewCaptchaError(res.Message)
		}
		return "", models.NewAuthError(res.Message)
	}
	st.Cookies = res.Cookies
	st.Authenticated = true

	html, err = portal.OpenCase(ctx, caseURL)
	if errors.Is(err, browser.ErrLoginRequired) {
		return "", models.NewAuthError("portal rejected the session after logging in again")
	}
	return html, err
}

// LookupFee returns the contracted fee for the given names.
func (s *Service) LookupFee(ctx context.Context, sessionID, client, lienholder, feeType string) (models.FeeLookupResult, error) {
	res, err := s.deps.Fees.Lookup(ctx, client, lienholder, feeType)
	if errors.Is(err, feelookup.ErrNotFound) {
		return res, models.NewLookupError("no matching fee record", err)
	}
	if err != nil {
		return res, err
	}
	s.publish(ctx, events.Lookup(sessionID, "", res))
	return res, nil
}

// Result returns the last case extracted in the session.
func (s *Service) Result(ctx context.Context, sessionID string) (*models.CaseRecord, error) {
	st, err := s.deps.Sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if st.LastResult == nil {
		return nil, ErrNoResult
	}
	return st.LastResult, nil
}

// Logout forgets the session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.deps.Sessions.Delete(ctx, sessionID)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.Publish(ctx, e); err != nil {
		s.log.WithError(err).Debug("failed to publish event", "subject", e.Subject)
	}
}
