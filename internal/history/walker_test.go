package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/classifier"
	"github.com/jamibilling/rdn-billing/internal/htmlpage"
)

// fakeNavigator serves canned history pages. Page 0 stands for the
// aggregate "show all" view.
type fakeNavigator struct {
	t         *testing.T
	start     int
	current   int
	page      func(n int) (string, bool)
	openErr   error
	failOn    int
	activated []Control
}

func (f *fakeNavigator) OpenHistory(ctx context.Context) error {
	f.current = f.start
	return f.openErr
}

func (f *fakeNavigator) Snapshot(ctx context.Context) (string, error) {
	html, ok := f.page(f.current)
	if !ok {
		return "", fmt.Errorf("page %d not served", f.current)
	}
	return html, nil
}

func (f *fakeNavigator) Activate(ctx context.Context, c Control) error {
	html, _ := f.page(f.current)
	el := htmlpage.MustParse(html).Find(c.Selector)
	require.Equal(f.t, 1, el.Length(), "selector %q must resolve", c.Selector)
	require.False(f.t, isAllControl(el), "the all control must never be activated")

	f.activated = append(f.activated, c)
	if c.Page == f.failOn {
		return errors.New("click intercepted")
	}
	f.current = c.Page
	return nil
}

type pagerOptions struct {
	numbered bool
	withAll  bool
	next     string // "", "enabled", "disabled"
}

func historyPage(n, total int, opts pagerOptions, entries ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"history-list\">")
	for _, e := range entries {
		b.WriteString(`<div class="entry">` + e + `</div>`)
	}
	b.WriteString(`</div><ul class="pagination"><li><a href="#">Previous</a></li>`)
	if opts.numbered {
		for i := 1; i <= total; i++ {
			class := ""
			if i == n {
				class = ` class="active"`
			}
			fmt.Fprintf(&b, `<li%s><a href="?page=%d">%d</a></li>`, class, i, i)
		}
	}
	if opts.withAll {
		b.WriteString(`<li><a href="?page=all" data-page="all">All</a></li>`)
	}
	switch opts.next {
	case "enabled":
		fmt.Fprintf(&b, `<li><a class="next" href="?page=%d">Next</a></li>`, n+1)
	case "disabled":
		b.WriteString(`<li class="disabled"><a class="next">Next</a></li>`)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

func entry(n int) string {
	return fmt.Sprintf("03/%02d/2024 Storage fee $%d.00", n, 10+n)
}

func newWalker(maxPages int) *Walker {
	return NewWalker(Config{MaxPages: maxPages, Dedup: DefaultDedupPolicy()}, classifier.MustDefault(), nil)
}

func TestWalk_FollowsNextAndStopsWhenItDisappears(t *testing.T) {
	nav := &fakeNavigator{t: t, start: 1, page: func(n int) (string, bool) {
		if n < 1 || n > 3 {
			return "", false
		}
		next := "enabled"
		if n == 3 {
			next = ""
		}
		return historyPage(n, 3, pagerOptions{next: next}, entry(n)), true
	}}

	var seen []Progress
	res, err := newWalker(20).Walk(context.Background(), nav, func(p Progress) { seen = append(seen, p) })
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, res.PagesVisited)
	assert.Equal(t, StopNoNext, res.StopReason)
	assert.Equal(t, Done, res.FinalState)
	require.Len(t, nav.activated, 2)
	for _, c := range nav.activated {
		assert.Equal(t, ControlNext, c.Kind)
	}
	assert.Equal(t, 2, nav.activated[0].Page)
	assert.Equal(t, 3, nav.activated[1].Page)

	require.Len(t, res.Updates, 3)
	assert.Equal(t, 3, res.Updates[0].Page)
	assert.Equal(t, "2024-03-03", res.Updates[0].Date.String())
	assert.Equal(t, 1, res.Updates[2].Page)

	require.Len(t, seen, 3)
	assert.Equal(t, Progress{Page: 3, Records: 1, Total: 3}, seen[2])
}

func TestWalk_NeverActivatesAllControl(t *testing.T) {
	nav := &fakeNavigator{t: t, start: 1, page: func(n int) (string, bool) {
		if n < 1 || n > 3 {
			return "", false
		}
		next := "enabled"
		if n == 3 {
			next = ""
		}
		return historyPage(n, 3, pagerOptions{numbered: true, withAll: true, next: next}, entry(n)), true
	}}

	res, err := newWalker(20).Walk(context.Background(), nav, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, res.PagesVisited)
	require.Len(t, nav.activated, 2)
	for _, c := range nav.activated {
		assert.Equal(t, ControlNumbered, c.Kind)
		assert.NotEqual(t, "All", c.Label)
	}
	assert.Len(t, res.Updates, 3)
}

func TestWalk_PageCeiling(t *testing.T) {
	nav := &fakeNavigator{t: t, start: 1, page: func(n int) (string, bool) {
		return historyPage(n, 0, pagerOptions{next: "enabled"}, entry(n%28+1)), true
	}}

	res, err := newWalker(20).Walk(context.Background(), nav, nil)
	require.NoError(t, err)

	assert.Len(t, res.PagesVisited, 20)
	assert.Equal(t, StopPageLimit, res.StopReason)
	assert.Len(t, nav.activated, 19)
}

func TestWalk_DisabledNext(t *testing.T) {
	nav := &fakeNavigator{t: t, start: 1, page: func(n int) (string, bool) {
		next := "enabled"
		if n == 2 {
			next = "disabled"
		}
		return historyPage(n, 0, pagerOptions{next: next}, entry(n)), true
	}}

	res, err := newWalker(20).Walk(context.Background(), nav, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, res.PagesVisited)
	assert.Equal(t, StopNextDisabled, res.StopReason)
}

func TestWalk_SkipsAggregateLanding(t *testing.T) {
	nav := &fakeNavigator{t: t, start: 0, page: func(n int) (string, bool) {
		switch n {
		case 0:
			return `<html><body><div class="entry">03/20/2024 Storage fee $999.99</div>
				<ul class="pagination">
					<li><a href="?page=1">1</a></li>
					<li><a href="?page=2">2</a></li>
					<li class="active"><a href="?page=all">All</a></li>
				</ul></body></html>`, true
		case 1, 2:
			next := "enabled"
			if n == 2 {
				next = ""
			}
			return historyPage(n, 2, pagerOptions{numbered: true, withAll: true, next: next}, entry(n)), true
		}
		return "", false
	}}

	res, err := newWalker(20).Walk(context.Background(), nav, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SkippedAggregate)
	assert.Equal(t, []int{1, 2}, res.PagesVisited)
	require.Len(t, res.Updates, 2)
	for _, u := range res.Updates {
		assert.NotEqual(t, "$999.99", u.AmountStr)
	}
}

func TestWalk_DeduplicatesAcrossPages(t *testing.T) {
	nav := &fakeNavigator{t: t, start: 1, page: func(n int) (string, bool) {
		switch n {
		case 1:
			return historyPage(1, 2, pagerOptions{next: "enabled"}, entry(1), entry(2)), true
		case 2:
			return historyPage(2, 2, pagerOptions{}, entry(2), entry(3)), true
		}
		return "", false
	}}

	res, err := newWalker(20).Walk(context.Background(), nav, nil)
	require.NoError(t, err)
	assert.Len(t, res.Updates, 3)
}

func TestWalk_OpenFailure(t *testing.T) {
	nav := &fakeNavigator{t: t, start: 1, openErr: errors.New("updates tab not found"), page: func(int) (string, bool) { return "", false }}

	res, err := newWalker(20).Walk(context.Background(), nav, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
	assert.Equal(t, Done, res.FinalState)
	assert.Empty(t, res.Updates)
}

func TestWalk_ActivationFailureKeepsPartialResult(t *testing.T) {
	nav := &fakeNavigator{t: t, start: 1, failOn: 2, page: func(n int) (string, bool) {
		return historyPage(n, 0, pagerOptions{next: "enabled"}, entry(n)), true
	}}

	res, err := newWalker(20).Walk(context.Background(), nav, nil)
	require.NoError(t, err)

	assert.Equal(t, StopActivateFailed, res.StopReason)
	assert.Len(t, res.Updates, 1)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "click intercepted")
}

func TestWalk_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nav := &fakeNavigator{t: t, start: 1, page: func(n int) (string, bool) {
		return historyPage(n, 0, pagerOptions{next: "enabled"}, entry(n)), true
	}}

	res, err := newWalker(20).Walk(ctx, nav, func(Progress) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Updates, 1)
	assert.Equal(t, Done, res.FinalState)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_navigated", NotNavigated.String())
	assert.Equal(t, "on_page", OnPage.String())
	assert.Equal(t, "done", Done.String())
}
