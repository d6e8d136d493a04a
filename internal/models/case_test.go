package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"03/14/2024", "2024-03-14", true},
		{"3/4/2024", "2024-03-04", true},
		{"2024-11-02", "2024-11-02", true},
		{"14/03/2024", "Unknown", false},
		{"", "Unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, d.String())
		})
	}
}

func TestCalendarDate_JSON(t *testing.T) {
	d, ok := ParseDate("01/05/2025")
	require.True(t, ok)

	b, err := json.Marshal(struct {
		A CalendarDate `json:"a"`
		B CalendarDate `json:"b"`
	}{A: d, B: UnknownDate})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"2025-01-05","b":"Unknown"}`, string(b))

	var back CalendarDate
	require.NoError(t, json.Unmarshal([]byte(`"2025-01-05"`), &back))
	assert.True(t, back.Equal(d.Time))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(""))
	assert.True(t, IsNotFound("  not found "))
	assert.False(t, IsNotFound("Acme Recovery LLC"))
}

func TestCaseRecord_TotalsAndHasData(t *testing.T) {
	rec := &CaseRecord{Identity: NewCaseIdentity("1"), ExtractedAt: time.Now()}
	assert.False(t, rec.HasData())

	rec.Fees = []FeeRecord{
		{Amount: decimal.RequireFromString("300.50")},
		{Amount: decimal.RequireFromString("125.00")},
	}
	assert.True(t, rec.HasData())
	assert.Equal(t, "425.5", rec.TotalFees().String())
}

func TestExtractionError(t *testing.T) {
	cause := errors.New("net::ERR_TIMED_OUT")
	err := NewNavigationError("https://portal/case", cause)

	assert.ErrorIs(t, err, cause)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNavigation, kind)
	assert.Equal(t, 502, err.Status)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
