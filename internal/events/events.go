// Package events publishes case lifecycle events to NATS JetStream and to
// WebSocket clients.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamibilling/rdn-billing/internal/models"
)

// StreamCases is the JetStream stream holding every case event.
const StreamCases = "CASES"

// Subjects for event routing.
const (
	SubjectLogin     = "cases.login"
	SubjectExtracted = "cases.extracted"
	SubjectLookup    = "cases.lookup"
	SubjectProgress  = "cases.progress"
	SubjectAll       = "cases.>"
)

// Event is one case lifecycle notification.
type Event struct {
	EventID   string         `json:"event_id"`
	Subject   string         `json:"subject"`
	SessionID string         `json:"session_id,omitempty"`
	CaseID    string         `json:"case_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event with a generated ID.
func New(subject, sessionID, caseID string, data map[string]any) Event {
	return Event{
		EventID:   uuid.New().String(),
		Subject:   subject,
		SessionID: sessionID,
		CaseID:    caseID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Validate checks if the event has required fields.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if !strings.HasPrefix(e.Subject, "cases.") {
		return fmt.Errorf("subject %q is outside the cases stream", e.Subject)
	}
	return nil
}

// Login reports a login attempt. Credentials never appear in the event.
func Login(sessionID string, res models.AuthResult) Event {
	return New(SubjectLogin, sessionID, "", map[string]any{
		"success":                res.Success,
		"message":                res.Message,
		"requires_second_factor": res.RequiresSecondFactor,
		"reason":                 res.Reason,
	})
}

// Extracted summarizes a finished case extraction.
func Extracted(sessionID string, rec *models.CaseRecord) Event {
	data := map[string]any{
		"run_id":       rec.RunID,
		"client":       rec.Identity.ClientName,
		"lienholder":   rec.Identity.LienHolder,
		"repo_type":    rec.Identity.RepoType,
		"fee_count":    len(rec.Fees),
		"update_count": len(rec.Updates),
		"total_fees":   rec.TotalFees().StringFixed(2),
		"pages_walked": rec.PagesWalked,
		"warnings":     len(rec.Warnings),
	}
	if rec.FeeLookup != nil {
		data["contract_amount"] = rec.FeeLookup.Amount.StringFixed(2)
		data["contract_fallback"] = rec.FeeLookup.IsFallback
	}
	return New(SubjectExtracted, sessionID, rec.Identity.CaseID, data)
}

// Lookup reports a fee lookup.
func Lookup(sessionID, caseID string, res models.FeeLookupResult) Event {
	return New(SubjectLookup, sessionID, caseID, map[string]any{
		"fee_id":      res.FeeID,
		"client":      res.ClientName,
		"lienholder":  res.LienholderName,
		"fee_type":    res.FeeTypeName,
		"amount":      res.Amount.StringFixed(2),
		"is_fallback": res.IsFallback,
		"placeholder": res.Placeholder,
	})
}

// Progress reports one walked history page.
func Progress(sessionID, caseID string, page, records, total int) Event {
	return New(SubjectProgress, sessionID, caseID, map[string]any{
		"page":    page,
		"records": records,
		"total":   total,
	})
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Fanout publishes to every non-nil publisher and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
