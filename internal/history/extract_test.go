package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/classifier"
	"github.com/jamibilling/rdn-billing/internal/htmlpage"
	"github.com/jamibilling/rdn-billing/internal/models"
)

func extract(t *testing.T, html string) []models.UpdateRecord {
	t.Helper()
	return NewExtractor(classifier.MustDefault()).Extract(htmlpage.MustParse(html), 1)
}

func TestExtract_DetailsLists(t *testing.T) {
	recs := extract(t, `<html><body>
		<div class="update-item"><dl>
			<dt>Date</dt><dd>03/15/2024</dd>
			<dt>Update Type</dt><dd>Storage</dd>
			<dt>Details</dt><dd>Storage fee total $420.00 for 12 days at $35.00 per day</dd>
		</dl></div>
		<div class="update-item"><dl>
			<dt>Date</dt><dd>2024-03-10</dd>
			<dt>Details</dt><dd>Involuntary repo fee $300.50 billed, 2019 Honda Civic recovered</dd>
		</dl></div>
	</body></html>`)

	require.Len(t, recs, 2)

	storage := recs[0]
	assert.Equal(t, "2024-03-15", storage.Date.String())
	assert.Equal(t, "420", storage.Amount.String())
	assert.Equal(t, "$420.00", storage.AmountStr)
	assert.Equal(t, "Storage fee total for 12 days at $35.00 per day", storage.Details)
	assert.Equal(t, "Storage", storage.FeeType)
	assert.Equal(t, 1.0, storage.FeeTypeConfidence)
	assert.Equal(t, "Unknown", storage.Status)
	assert.Equal(t, 1, storage.Page)
	assert.Equal(t, models.SourceDetails, storage.Source)
	assert.Equal(t, 12, storage.Notes.StorageDays)
	assert.Equal(t, "$35.00", storage.Notes.DailyRate)

	repo := recs[1]
	assert.Equal(t, "2024-03-10", repo.Date.String())
	assert.Equal(t, "300.5", repo.Amount.String())
	assert.Equal(t, "Repossession", repo.FeeType)
	assert.Equal(t, "2019", repo.Notes.VehicleYear)
	assert.Equal(t, "Honda", repo.Notes.VehicleMake)
}

func TestExtract_TableRows(t *testing.T) {
	recs := extract(t, `<html><body><table class="history">
		<tr><th>Date</th><th>Description</th><th>Amount</th></tr>
		<tr><td>01/05/2024</td><td>Tow fee to storage lot</td><td>$85.00</td></tr>
		<tr><td>01/06/2024</td><td>Note added by agent</td><td>$0.00</td></tr>
	</table></body></html>`)

	require.Len(t, recs, 1)
	assert.Equal(t, "2024-01-05", recs[0].Date.String())
	assert.Equal(t, "Tow fee to storage lot", recs[0].Details)
	assert.Equal(t, "Repossession", recs[0].FeeType)
	assert.Equal(t, models.SourceRow, recs[0].Source)
}

func TestExtract_InnermostEntries(t *testing.T) {
	recs := extract(t, `<html><body>
		<div class="history-list">
			<div class="entry">02/01/2024 Storage fee $40.00</div>
			<div class="entry">02/02/2024 Lot fee $25.00 paid</div>
		</div>
	</body></html>`)

	require.Len(t, recs, 2)
	assert.Equal(t, "40", recs[0].Amount.String())
	assert.Equal(t, "25", recs[1].Amount.String())
	assert.Equal(t, "Paid", recs[1].Status)
}

func TestExtract_DateFromAncestor(t *testing.T) {
	recs := extract(t, `<html><body>
		<div class="day-group"><h4>05/01/2024</h4>
			<div class="entry">Storage fee $30.00</div>
		</div>
	</body></html>`)

	require.Len(t, recs, 1)
	assert.Equal(t, "2024-05-01", recs[0].Date.String())
	assert.Equal(t, "Storage fee", recs[0].Details)
}

func TestExtract_DatedElementsFallback(t *testing.T) {
	recs := extract(t, `<html><body>
		<p>On 04/01/2024 an impound fee of $150.00 was charged.</p>
		<p>No fee on this line</p>
	</body></html>`)

	require.Len(t, recs, 1)
	assert.Equal(t, "2024-04-01", recs[0].Date.String())
	assert.Equal(t, "Storage", recs[0].FeeType)
	assert.Equal(t, models.SourceGeneral, recs[0].Source)
	assert.Contains(t, recs[0].Details, "impound fee")
}

func TestExtract_NothingToFind(t *testing.T) {
	assert.Empty(t, extract(t, `<html><body><p>No updates yet.</p></body></html>`))
}

func TestNotesFrom(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.UpdateNotes
	}{
		{
			name: "storage days and rate",
			text: "Storage 15 days at $20.00 per day",
			want: models.UpdateNotes{StorageDays: 15, DailyRate: "$20.00"},
		},
		{
			name: "vehicle on repossession",
			text: "Repossession of 2018 Toyota Camry",
			want: models.UpdateNotes{VehicleYear: "2018", VehicleMake: "Toyota"},
		},
		{
			name: "implausible year",
			text: "Repo fee for 2099 Future",
			want: models.UpdateNotes{},
		},
		{
			name: "stopword after year",
			text: "2021 repo fee",
			want: models.UpdateNotes{},
		},
		{
			name: "vehicle ignored without repossession",
			text: "Storage for 2019 Honda",
			want: models.UpdateNotes{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, notesFrom(tt.text, tt.text))
		})
	}
}
