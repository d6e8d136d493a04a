package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/classifier"
	"github.com/jamibilling/rdn-billing/internal/events"
	"github.com/jamibilling/rdn-billing/internal/export"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"login", "extract", "export", "lookup", "fees", "classify", "watch"} {
		assert.Contains(t, names, want)
	}

	extract, _, err := root.Find([]string{"extract"})
	require.NoError(t, err)
	assert.Error(t, extract.Args(extract, nil), "extract needs a case id")
	assert.NoError(t, extract.Args(extract, []string{"2051447"}))
}

func TestFormatEvent(t *testing.T) {
	e := events.Event{
		Subject:   events.SubjectProgress,
		SessionID: "s1",
		CaseID:    "4417",
		Timestamp: time.Date(2026, 3, 1, 12, 30, 0, 0, time.Local),
		Data:      map[string]any{"total": 7, "page": 2},
	}

	line := formatEvent(e)
	assert.True(t, strings.HasPrefix(line, "12:30:00  cases.progress"))
	assert.Contains(t, line, "case=4417  session=s1  page=2  total=7")
}

func TestWatchOptions_Matches(t *testing.T) {
	e := events.Event{SessionID: "s1", CaseID: "4417"}

	tests := []struct {
		name string
		opts WatchOptions
		want bool
	}{
		{"no filter", WatchOptions{}, true},
		{"same session", WatchOptions{SessionID: "s1"}, true},
		{"other session", WatchOptions{SessionID: "s2"}, false},
		{"same case", WatchOptions{CaseID: "4417"}, true},
		{"other case", WatchOptions{SessionID: "s1", CaseID: "1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.matches(e))
		})
	}
}

func TestClassifyAll(t *testing.T) {
	clf, err := classifier.New([]classifier.Category{
		{Name: "Storage Fee", Keywords: []string{"storage"}, Color: "#00f"},
	})
	require.NoError(t, err)

	got := classifyAll(clf, []string{"Storage 5 days", "Mystery"})
	require.Len(t, got, 2)
	assert.Equal(t, "Storage Fee", got[0].Category)
	assert.Equal(t, "#00f", got[0].Color)
	assert.NotEqual(t, "Storage Fee", got[1].Category)
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, "Fees", export.Table{
		Header: []string{"Description", "Amount"},
		Rows:   [][]string{{"Keys fee", "$75.00"}},
	})

	out := buf.String()
	assert.Contains(t, out, "Fees")
	assert.Contains(t, out, "DESCRIPTION")
	assert.Contains(t, out, "Keys fee")
	assert.Contains(t, out, "$75.00")
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	code, err := prompt(strings.NewReader(" 123456 \n"), &out, "Verification code: ")
	require.NoError(t, err)
	assert.Equal(t, "123456", code)
	assert.Equal(t, "Verification code: ", out.String())

	_, err = prompt(strings.NewReader("\n"), &out, "Verification code: ")
	assert.Error(t, err)
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("storage fee\n\n  keys fee  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"storage fee", "keys fee"}, lines)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
