package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/storage"
)

func sampleRecord() *models.CaseRecord {
	date, _ := models.ParseDate("03/14/2024")
	return &models.CaseRecord{
		RunID: "run-1",
		Identity: models.CaseIdentity{
			CaseID:     "4417",
			ClientName: "Acme Recovery",
			LienHolder: "First Bank",
			OrderTo:    "Involuntary Repo",
			RepoType:   "Involuntary Repo",
		},
		Fees: []models.FeeRecord{
			{Description: "Storage fee for 10 days", Amount: decimal.RequireFromString("250"), AmountStr: "$250.00", Category: "Storage Fee", Confidence: 1, Source: models.SourceTable},
			{Description: "Keys fee", Amount: decimal.RequireFromString("75.5"), AmountStr: "$75.50", Category: "Keys Fee", Confidence: 0.8, Source: models.SourceTable},
			{Description: strings.Repeat("x", 60), Amount: decimal.RequireFromString("25"), Category: "Storage Fee", Source: models.SourcePageScan},
		},
		Updates: []models.UpdateRecord{
			{Date: date, Details: "Vehicle in storage", Amount: decimal.RequireFromString("45"), FeeType: "Storage Fee", FeeTypeConfidence: 1, Status: "Approved", Page: 2,
				Notes: models.UpdateNotes{StorageDays: 3, DailyRate: "$15.00", VehicleYear: "2019", VehicleMake: "Honda"}},
			{Details: "Unknown date entry", DateText: "yesterday", Amount: decimal.RequireFromString("10")},
		},
		FeeLookup:   &models.FeeLookupResult{FeeID: "FD-1", FeeTypeName: "Involuntary Repo", Amount: decimal.RequireFromString("350")},
		Extras:      models.CaseExtras{DailyRate: "$15.00", InvoiceNumber: "INV-9"},
		PagesWalked: 2,
	}
}

func cell(t *testing.T, tbl Table, item string) string {
	t.Helper()
	for _, r := range tbl.Rows {
		if r[0] == item {
			return r[1]
		}
	}
	t.Fatalf("no row %q", item)
	return ""
}

func TestSummary(t *testing.T) {
	tbl := Summary(sampleRecord())

	assert.Equal(t, []string{"Item", "Value"}, tbl.Header)
	assert.Equal(t, "4417", cell(t, tbl, "Case ID"))
	assert.Equal(t, "First Bank", cell(t, tbl, "Lien Holder"))
	assert.Equal(t, "FD-1", cell(t, tbl, "Fee ID"))
	assert.Equal(t, "350.00", cell(t, tbl, "Amount"))
	assert.Equal(t, "350.50", cell(t, tbl, "Total Fees"))
	assert.Equal(t, "INV-9", cell(t, tbl, "Invoice Number"))
	for _, r := range tbl.Rows {
		assert.NotEqual(t, "Storage Days", r[0], "zero storage days is omitted")
	}
}

func TestSummary_NoLookup(t *testing.T) {
	rec := sampleRecord()
	rec.FeeLookup = nil
	rec.Warnings = []string{"update history unavailable"}

	tbl := Summary(rec)
	assert.Equal(t, models.NotFound, cell(t, tbl, "Fee ID"))
	assert.Equal(t, "update history unavailable", cell(t, tbl, "Warning"))
}

func TestUpdates(t *testing.T) {
	tbl := Updates(sampleRecord())
	require.Len(t, tbl.Rows, 2)

	first := tbl.Rows[0]
	assert.Equal(t, "03/14/2024", first[0])
	assert.Equal(t, "45.00", first[3])
	assert.Equal(t, "2", first[6])
	assert.Equal(t, "Daily Rate: $15.00; Storage Days: 3; Vehicle: 2019 Honda", first[7])

	second := tbl.Rows[1]
	assert.Equal(t, "yesterday", second[0])
	assert.Equal(t, "", second[7])
}

func TestNotes(t *testing.T) {
	tests := []struct {
		name  string
		notes models.UpdateNotes
		want  string
	}{
		{"empty", models.UpdateNotes{}, ""},
		{"storage only", models.UpdateNotes{StorageDays: 12}, "Storage Days: 12"},
		{"vehicle needs make", models.UpdateNotes{VehicleYear: "2019"}, ""},
		{"rate and vehicle", models.UpdateNotes{DailyRate: "$20.00", VehicleYear: "2020", VehicleMake: "Ford"}, "Daily Rate: $20.00; Vehicle: 2020 Ford"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Notes(tt.notes))
		})
	}
}

func TestFeeSummary(t *testing.T) {
	rec := sampleRecord()
	rec.Fees = append(rec.Fees,
		models.FeeRecord{Description: "Storage again", Amount: decimal.RequireFromString("5"), AmountStr: "$5.00", Category: "Storage Fee"},
		models.FeeRecord{Description: "Misc", Amount: decimal.RequireFromString("1"), AmountStr: "$1.00"},
	)

	tbl := FeeSummary(rec)
	require.Len(t, tbl.Rows, 3)

	storageRow := tbl.Rows[0]
	assert.Equal(t, "Storage Fee", storageRow[0])
	assert.Equal(t, "280.00", storageRow[1])
	assert.Equal(t, "3", storageRow[2])
	details := strings.Split(storageRow[3], "; ")
	require.Len(t, details, 3)
	assert.Equal(t, "Storage fee for 10 days... ($250.00)", details[0])
	assert.Equal(t, strings.Repeat("x", 50)+"... ($25.00)", details[1])

	assert.Equal(t, "Keys Fee", tbl.Rows[1][0])
	assert.Equal(t, "Unknown", tbl.Rows[2][0])
}

func TestParseSheet(t *testing.T) {
	s, err := ParseSheet("")
	require.NoError(t, err)
	assert.Equal(t, SheetSummary, s)

	s, err = ParseSheet(" Fee-Summary ")
	require.NoError(t, err)
	assert.Equal(t, SheetFeeSummary, s)

	_, err = ParseSheet("xlsx")
	assert.ErrorIs(t, err, ErrUnknownSheet)
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 14, 9, 5, 7, 0, time.UTC)
	assert.Equal(t, "JamiBilling_Case_4417_20240314_090507_fees.csv", Filename("4417", SheetFees, at))
}

func TestWriteCSV_QuotesCells(t *testing.T) {
	var buf bytes.Buffer
	tbl := Table{Header: []string{"A", "B"}, Rows: [][]string{{"has, comma", `has "quote"`}}}
	require.NoError(t, WriteCSV(&buf, tbl))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "B"}, {"has, comma", `has "quote"`}}, records)
}

func TestWriteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	at := time.Date(2024, 3, 14, 9, 5, 7, 0, time.UTC)

	paths, err := WriteDir(dir, sampleRecord(), at)
	require.NoError(t, err)
	require.Len(t, paths, len(Sheets))

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Description,Category,Amount"))
}

func TestBuild_NilRecord(t *testing.T) {
	_, err := Build(nil, SheetFees)
	assert.Error(t, err)
}

type memStore struct {
	objects map[string][]byte
	failAt  string
}

func (m *memStore) UploadBytes(_ context.Context, data []byte, path, _ string) (string, error) {
	if m.failAt != "" && strings.Contains(path, m.failAt) {
		return "", errors.New("bucket unavailable")
	}
	m.objects[path] = data
	return path, nil
}

func (m *memStore) Download(_ context.Context, path string) ([]byte, error) {
	return m.objects[path], nil
}

func (m *memStore) GenerateSignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "https://minio.local/" + path + "?sig=1", nil
}

func (m *memStore) List(context.Context, string) ([]storage.ObjectInfo, error) { return nil, nil }

func (m *memStore) Health(context.Context) error { return nil }

func TestUploader_Publish(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	u := NewUploader(store, 0, nil)
	u.now = func() time.Time { return time.Date(2024, 3, 14, 9, 5, 7, 0, time.UTC) }

	files, err := u.Publish(context.Background(), sampleRecord())
	require.NoError(t, err)
	require.Len(t, files, 4)

	assert.Equal(t, SheetFees, files[1].Sheet)
	assert.Equal(t, 3, files[1].Rows)
	assert.Equal(t, "exports/4417/JamiBilling_Case_4417_20240314_090507_fees.csv", files[1].Path)
	assert.Contains(t, files[1].URL, "sig=1")
	assert.Contains(t, string(store.objects[files[1].Path]), "Keys fee")
}

func TestUploader_PublishFailure(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}, failAt: "_updates"}
	u := NewUploader(store, time.Minute, nil)

	_, err := u.Publish(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
}
