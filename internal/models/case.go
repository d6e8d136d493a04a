// Package models holds the records produced by a case extraction.
package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NotFound marks an identity field no strategy could resolve.
const NotFound = "Not Found"

// Fee and update record sources.
const (
	SourceTable    = "table"
	SourceSection  = "section"
	SourcePageScan = "page_scan"
	SourceDetails  = "details"
	SourceRow      = "row"
	SourceGeneral  = "general"
)

// IsNotFound reports whether v is empty or the NotFound sentinel.
func IsNotFound(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, NotFound)
}

// CaseIdentity holds the resolved identity fields of one case.
type CaseIdentity struct {
	CaseID     string `json:"caseId"`
	ClientName string `json:"clientName"`
	LienHolder string `json:"lienHolder"`
	OrderTo    string `json:"orderTo"`
	RepoType   string `json:"repoType"`
}

// NewCaseIdentity returns an identity with every field unresolved.
func NewCaseIdentity(caseID string) CaseIdentity {
	return CaseIdentity{
		CaseID:     caseID,
		ClientName: NotFound,
		LienHolder: NotFound,
		OrderTo:    NotFound,
		RepoType:   NotFound,
	}
}

// FeeRecord is one monetary line item harvested from the case page.
type FeeRecord struct {
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	AmountStr     string          `json:"amountStr"`
	Category      string          `json:"category"`
	CategoryColor string          `json:"categoryColor"`
	Status        string          `json:"status"`
	Confidence    float64         `json:"confidence"`
	Source        string          `json:"source"`
	RawText       string          `json:"-"`
}

// UpdateNotes carries optional facts mentioned in an update entry.
type UpdateNotes struct {
	StorageDays int    `json:"storageDays,omitempty"`
	DailyRate   string `json:"dailyRate,omitempty"`
	VehicleYear string `json:"vehicleYear,omitempty"`
	VehicleMake string `json:"vehicleMake,omitempty"`
}

// Empty reports whether no note was captured.
func (n UpdateNotes) Empty() bool {
	return n == UpdateNotes{}
}

// UpdateRecord is one fee-bearing entry from the case update history.
type UpdateRecord struct {
	Date              CalendarDate    `json:"date"`
	DateText          string          `json:"dateText,omitempty"`
	Details           string          `json:"details"`
	Amount            decimal.Decimal `json:"amount"`
	AmountStr         string          `json:"amountStr"`
	FeeType           string          `json:"feeType"`
	FeeTypeConfidence float64         `json:"feeTypeConfidence"`
	FeeTypeColor      string          `json:"feeTypeColor"`
	Status            string          `json:"status"`
	Page              int             `json:"page"`
	Source            string          `json:"source"`
	Notes             UpdateNotes     `json:"notes,omitempty"`
}

// CaseExtras are page-level billing facts found alongside the fee list.
type CaseExtras struct {
	DailyRate     string `json:"dailyRate,omitempty"`
	StorageDays   int    `json:"storageDays,omitempty"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
}

// CaseRecord aggregates everything extracted for one case.
type CaseRecord struct {
	RunID       string           `json:"runId"`
	Identity    CaseIdentity     `json:"identity"`
	Fees        []FeeRecord      `json:"fees"`
	Updates     []UpdateRecord   `json:"updates"`
	FeeLookup   *FeeLookupResult `json:"feeLookup,omitempty"`
	Extras      CaseExtras       `json:"extras"`
	Warnings    []string         `json:"warnings,omitempty"`
	PagesWalked int              `json:"pagesWalked"`
	ExtractedAt time.Time        `json:"extractedAt"`
}

// TotalFees sums the harvested fee amounts.
func (r *CaseRecord) TotalFees() decimal.Decimal {
	total := decimal.Zero
	for _, f := range r.Fees {
		total = total.Add(f.Amount)
	}
	return total
}

// HasData reports whether the extraction produced anything usable.
func (r *CaseRecord) HasData() bool {
	if len(r.Fees) > 0 || len(r.Updates) > 0 {
		return true
	}
	id := r.Identity
	return !IsNotFound(id.ClientName) || !IsNotFound(id.LienHolder)
}

// CalendarDate is a parsed date or Unknown.
type CalendarDate struct {
	time.Time
}

// UnknownDate is the zero CalendarDate.
var UnknownDate = CalendarDate{}

// Known reports whether the date was parsed.
func (d CalendarDate) Known() bool {
	return !d.Time.IsZero()
}

// String renders YYYY-MM-DD or "Unknown".
func (d CalendarDate) String() string {
	if !d.Known() {
		return "Unknown"
	}
	return d.Format("2006-01-02")
}

// USString renders MM/DD/YYYY as shown on the portal, or "Unknown".
func (d CalendarDate) USString() string {
	if !d.Known() {
		return "Unknown"
	}
	return d.Format("01/02/2006")
}

// MarshalJSON implements json.Marshaler.
func (d CalendarDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *CalendarDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, ok := ParseDate(s)
	if !ok {
		*d = UnknownDate
		return nil
	}
	*d = parsed
	return nil
}

var dateLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02"}

// ParseDate parses MM/DD/YYYY (with or without leading zeros) or YYYY-MM-DD.
func ParseDate(s string) (CalendarDate, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return CalendarDate{Time: t}, true
		}
	}
	return UnknownDate, false
}
