package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jamibilling/rdn-billing/internal/htmlpage"
)

const numberedPager = `<html><body>
	<div class="entry">03/01/2024 Storage fee $40.00</div>
	<ul class="pagination">
		<li class="active"><a href="?page=1">1</a></li>
		<li><a href="?page=2">2</a></li>
		<li><a href="?page=all" data-page="all">All</a></li>
		<li><a href="?page=2" class="next">Next</a></li>
	</ul>
</body></html>`

func TestNextControl(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		target    int
		wantKind  ControlKind
		wantLabel string
		wantStop  StopReason
	}{
		{
			name:      "numbered control preferred",
			html:      numberedPager,
			target:    2,
			wantKind:  ControlNumbered,
			wantLabel: "2",
		},
		{
			name:      "next when the number is missing",
			html:      numberedPager,
			target:    3,
			wantKind:  ControlNext,
			wantLabel: "Next",
		},
		{
			name: "disabled next",
			html: `<html><body><ul class="pagination">
				<li><a href="?page=1">Previous</a></li>
				<li class="disabled"><a class="next">Next</a></li>
			</ul></body></html>`,
			target:   3,
			wantStop: StopNextDisabled,
		},
		{
			name: "aria disabled next",
			html: `<html><body><div class="pager"><button aria-disabled="true">Next</button></div></body></html>`,
			target:   2,
			wantStop: StopNextDisabled,
		},
		{
			name:     "no pagination",
			html:     `<html><body><p>single page</p></body></html>`,
			target:   2,
			wantStop: StopNoPagination,
		},
		{
			name: "only the all control",
			html: `<html><body><ul class="pagination">
				<li class="active"><a href="?page=1">1</a></li>
				<li><a data-page="all" href="#">Show All</a></li>
			</ul></body></html>`,
			target:   2,
			wantStop: StopNoNext,
		},
		{
			name:      "rel next outside a container",
			html:      `<html><body><a rel="next" href="?p=2">Older entries</a></body></html>`,
			target:    2,
			wantKind:  ControlNext,
			wantLabel: "Older entries",
		},
		{
			name:      "data-page attribute",
			html:      `<html><body><nav aria-label="pagination"><a data-page="2" href="#">›</a></nav></body></html>`,
			target:    2,
			wantKind:  ControlNumbered,
			wantLabel: "›",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := htmlpage.MustParse(tt.html)
			c, stop := NextControl(page, tt.target)

			assert.Equal(t, tt.wantStop, stop)
			if tt.wantStop != StopNone {
				return
			}
			assert.Equal(t, tt.wantKind, c.Kind)
			assert.Equal(t, tt.wantLabel, c.Label)
			assert.Equal(t, tt.target, c.Page)
			assert.Equal(t, tt.wantLabel, htmlpage.ElementText(page.Find(c.Selector)))
		})
	}
}

func TestHasAllControl(t *testing.T) {
	assert.True(t, HasAllControl(htmlpage.MustParse(numberedPager)))
	assert.False(t, HasAllControl(htmlpage.MustParse(`<html><body><a href="?page=2">2</a></body></html>`)))
}

func TestOnAggregateView(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{name: "numbered view", html: numberedPager, want: false},
		{
			name: "active all item",
			html: `<html><body><ul class="pagination">
				<li><a href="?page=1">1</a></li>
				<li class="active"><a href="#">All</a></li>
			</ul></body></html>`,
			want: true,
		},
		{
			name: "active link to the aggregate view",
			html: `<html><body><div class="pagination"><a class="active" href="/case/1/updates?view=all">Everything</a></div></body></html>`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OnAggregateView(htmlpage.MustParse(tt.html)))
		})
	}
}
