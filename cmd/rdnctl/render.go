package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jamibilling/rdn-billing/internal/export"
	"github.com/jamibilling/rdn-billing/internal/models"
)

// renderTable prints an export table with an optional title.
func renderTable(w io.Writer, title string, t export.Table) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if title != "" {
		tw.SetTitle(title)
	}

	header := make(table.Row, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range t.Rows {
		r := make(table.Row, len(row))
		for i, c := range row {
			r[i] = c
		}
		tw.AppendRow(r)
	}

	tw.SetStyle(table.StyleRounded)
	tw.Style().Title.Align = text.AlignCenter
	tw.Render()
}

// renderCase prints every sheet of a case record.
func renderCase(w io.Writer, rec *models.CaseRecord) error {
	for _, sheet := range export.Sheets {
		t, err := export.Build(rec, sheet)
		if err != nil {
			return err
		}
		if len(t.Rows) == 0 {
			continue
		}
		renderTable(w, sheetTitle(sheet), t)
		fmt.Fprintln(w)
	}
	return nil
}

func sheetTitle(s export.Sheet) string {
	switch s {
	case export.SheetSummary:
		return "Case Summary"
	case export.SheetFees:
		return "Fees"
	case export.SheetUpdates:
		return "Update History"
	case export.SheetFeeSummary:
		return "Fees by Category"
	default:
		return string(s)
	}
}

// renderLookup prints one fee lookup result.
func renderLookup(w io.Writer, res models.FeeLookupResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Fee ID", "Client", "Lienholder", "Fee Type", "Amount", "Note"})

	note := res.Message
	if res.IsFallback && note == "" {
		note = "standard lienholder rate"
	}
	tw.AppendRow(table.Row{res.FeeID, res.ClientName, res.LienholderName, res.FeeTypeName, "$" + res.Amount.StringFixed(2), note})

	tw.SetStyle(table.StyleRounded)
	tw.Render()
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
