// Package export renders an extracted case as CSV row sets: a summary, the
// harvested fees, the fee-bearing updates and totals per fee category.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamibilling/rdn-billing/internal/models"
)

// Sheet names one row set of an export.
type Sheet string

const (
	SheetSummary    Sheet = "summary"
	SheetFees       Sheet = "fees"
	SheetUpdates    Sheet = "updates"
	SheetFeeSummary Sheet = "fee-summary"
)

// Sheets lists every row set in export order.
var Sheets = []Sheet{SheetSummary, SheetFees, SheetUpdates, SheetFeeSummary}

// ErrUnknownSheet is returned for a sheet name that is not one of Sheets.
var ErrUnknownSheet = errors.New("unknown export sheet")

// ParseSheet validates a sheet name. An empty name selects the summary.
func ParseSheet(s string) (Sheet, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SheetSummary, nil
	}
	for _, sh := range Sheets {
		if string(sh) == s {
			return sh, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSheet, s)
}

// maxDetailsPerCategory bounds the fee descriptions listed per category.
const maxDetailsPerCategory = 3

// detailWidth truncates fee descriptions in the category summary.
const detailWidth = 50

// Table is a header plus rows of cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Build renders one sheet of rec.
func Build(rec *models.CaseRecord, sheet Sheet) (Table, error) {
	if rec == nil {
		return Table{}, errors.New("no case record to export")
	}
	switch sheet {
	case SheetSummary:
		return Summary(rec), nil
	case SheetFees:
		return Fees(rec), nil
	case SheetUpdates:
		return Updates(rec), nil
	case SheetFeeSummary:
		return FeeSummary(rec), nil
	}
	return Table{}, fmt.Errorf("%w: %q", ErrUnknownSheet, sheet)
}

// Summary lists the case identity, the contracted fee and the fee total.
func Summary(rec *models.CaseRecord) Table {
	id := rec.Identity
	rows := [][]string{
		{"Case ID", id.CaseID},
		{"Client Name", id.ClientName},
		{"Lien Holder", id.LienHolder},
		{"Order To", id.OrderTo},
		{"Repo Type", id.RepoType},
	}

	if ex := rec.Extras; ex.DailyRate != "" || ex.StorageDays > 0 || ex.InvoiceNumber != "" {
		rows = append(rows, []string{"", ""})
		if ex.DailyRate != "" {
			rows = append(rows, []string{"Daily Rate", ex.DailyRate})
		}
		if ex.StorageDays > 0 {
			rows = append(rows, []string{"Storage Days", strconv.Itoa(ex.StorageDays)})
		}
		if ex.InvoiceNumber != "" {
			rows = append(rows, []string{"Invoice Number", ex.InvoiceNumber})
		}
	}

	rows = append(rows, []string{"", ""}, []string{"Database Information", ""})
	if fl := rec.FeeLookup; fl != nil {
		rows = append(rows,
			[]string{"Fee ID", fl.FeeID},
			[]string{"Fee Type", fl.FeeTypeName},
			[]string{"Amount", money(fl.Amount)},
		)
		if fl.Message != "" {
			rows = append(rows, []string{"Lookup Note", fl.Message})
		}
	} else {
		rows = append(rows, []string{"Fee ID", models.NotFound})
	}

	rows = append(rows,
		[]string{"", ""},
		[]string{"Total Fees", money(rec.TotalFees())},
		[]string{"Pages Walked", strconv.Itoa(rec.PagesWalked)},
	)
	for _, w := range rec.Warnings {
		rows = append(rows, []string{"Warning", w})
	}

	return Table{Header: []string{"Item", "Value"}, Rows: rows}
}

// Fees lists every harvested fee.
func Fees(rec *models.CaseRecord) Table {
	t := Table{Header: []string{"Description", "Category", "Amount", "Status", "Source", "Confidence", "Notes"}}
	for _, f := range rec.Fees {
		t.Rows = append(t.Rows, []string{
			f.Description,
			f.Category,
			money(f.Amount),
			f.Status,
			f.Source,
			confidence(f.Confidence),
			"",
		})
	}
	return t
}

// Updates lists every fee-bearing update entry.
func Updates(rec *models.CaseRecord) Table {
	t := Table{Header: []string{"Date", "Details", "Fee Type", "Amount", "Status", "Confidence", "Page", "Additional Info"}}
	for _, u := range rec.Updates {
		date := u.Date.USString()
		if !u.Date.Known() && u.DateText != "" {
			date = u.DateText
		}
		t.Rows = append(t.Rows, []string{
			date,
			u.Details,
			u.FeeType,
			money(u.Amount),
			u.Status,
			confidence(u.FeeTypeConfidence),
			strconv.Itoa(u.Page),
			Notes(u.Notes),
		})
	}
	return t
}

// Notes joins the facts captured for an update entry.
func Notes(n models.UpdateNotes) string {
	var parts []string
	if n.DailyRate != "" {
		parts = append(parts, "Daily Rate: "+n.DailyRate)
	}
	if n.StorageDays > 0 {
		parts = append(parts, "Storage Days: "+strconv.Itoa(n.StorageDays))
	}
	if n.VehicleYear != "" && n.VehicleMake != "" {
		parts = append(parts, "Vehicle: "+n.VehicleYear+" "+n.VehicleMake)
	}
	return strings.Join(parts, "; ")
}

type categoryTotal struct {
	name    string
	total   decimal.Decimal
	count   int
	details []string
}

// FeeSummary totals the harvested fees per category, in order of first
// appearance, listing the first few fees of each.
func FeeSummary(rec *models.CaseRecord) Table {
	var order []*categoryTotal
	byName := make(map[string]*categoryTotal)

	for _, f := range rec.Fees {
		name := f.Category
		if name == "" {
			name = "Unknown"
		}
		ct, ok := byName[name]
		if !ok {
			ct = &categoryTotal{name: name, total: decimal.Zero}
			byName[name] = ct
			order = append(order, ct)
		}
		ct.total = ct.total.Add(f.Amount)
		ct.count++
		if len(ct.details) < maxDetailsPerCategory {
			ct.details = append(ct.details, fmt.Sprintf("%s... (%s)", truncate(f.Description, detailWidth), amountText(f)))
		}
	}

	t := Table{Header: []string{"Fee Category", "Total Amount", "Count", "Details"}}
	for _, ct := range order {
		t.Rows = append(t.Rows, []string{ct.name, money(ct.total), strconv.Itoa(ct.count), strings.Join(ct.details, "; ")})
	}
	return t
}

// Filename names an export file: JamiBilling_Case_<id>_<YYYYmmdd_HHMMSS>_<sheet>.csv.
func Filename(caseID string, sheet Sheet, at time.Time) string {
	return fmt.Sprintf("JamiBilling_Case_%s_%s_%s.csv", caseID, at.Format("20060102_150405"), sheet)
}

// WriteCSV writes t to w.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

// WriteDir writes every sheet of rec into dir and returns the file paths.
func WriteDir(dir string, rec *models.CaseRecord, at time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	paths := make([]string, 0, len(Sheets))
	for _, sheet := range Sheets {
		t, err := Build(rec, sheet)
		if err != nil {
			return paths, err
		}
		p := filepath.Join(dir, Filename(rec.Identity.CaseID, sheet, at))
		f, err := os.Create(p)
		if err != nil {
			return paths, fmt.Errorf("failed to create %s: %w", p, err)
		}
		werr := WriteCSV(f, t)
		cerr := f.Close()
		if werr != nil {
			return paths, werr
		}
		if cerr != nil {
			return paths, fmt.Errorf("failed to close %s: %w", p, cerr)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func amountText(f models.FeeRecord) string {
	if f.AmountStr != "" {
		return f.AmountStr
	}
	return "$" + money(f.Amount)
}

func confidence(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
