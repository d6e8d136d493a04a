package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/jamibilling/rdn-billing/internal/history"
	"github.com/jamibilling/rdn-billing/internal/models"
)

const (
	idleQuiet      = 500 * time.Millisecond
	idlePoll       = 100 * time.Millisecond
	historyIdleMax = 15 * time.Second
	historySettle  = 3 * time.Second
	pageIdleMax    = 10 * time.Second
	pageSettle     = 2 * time.Second
)

var errNoHistoryTab = errors.New("updates tab not found")

// updatesTabSelectors are tried before any text match.
var updatesTabSelectors = []string{
	"#updates-tab",
	"a[href='#updates']",
	"a[data-toggle='tab'][href*='update']",
	"li.updates a",
	"[data-tab='updates']",
}

// historyTabWords are matched against tab labels when no Updates tab exists.
var historyTabWords = []string{"update", "history", "activity", "log"}

// OpenCase loads the case page at caseURL and returns its HTML. It returns
// ErrLoginRequired when the portal sends the browser to the login page.
func (s *Session) OpenCase(ctx context.Context, caseURL string) (string, error) {
	if err := s.navigate(ctx, caseURL); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.record(ctx, "case_page_error")
		return "", models.NewNavigationError(caseURL, err)
	}
	s.waitIdle(ctx, pageIdleMax, pageSettle)

	loc, err := s.Location(ctx)
	if err != nil {
		return "", models.NewNavigationError(caseURL, err)
	}
	if isLoginURL(loc, s.cfg.LoginURL) {
		s.log.Warn("case page redirected to login", "location", loc)
		return "", ErrLoginRequired
	}

	html, err := s.Snapshot(ctx)
	if err != nil {
		return "", models.NewNavigationError(caseURL, err)
	}
	s.record(ctx, "case_page_"+s.caseID)
	return html, nil
}

// OpenHistory switches the case page to its Updates tab.
func (s *Session) OpenHistory(ctx context.Context) error {
	s.record(ctx, "before_updates_tab_"+s.caseID)

	if err := s.pace(ctx); err != nil {
		return err
	}
	label, err := s.evalString(ctx, s.cfg.NavigationTimeout, clickTabScript(updatesTabSelectors, historyTabWords))
	if err != nil {
		return fmt.Errorf("failed to open updates tab: %w", err)
	}
	if label == "" {
		s.record(ctx, "no_updates_tab_"+s.caseID)
		return errNoHistoryTab
	}
	s.log.Debug("updates tab opened", "label", label)

	s.waitIdle(ctx, historyIdleMax, historySettle)
	s.page = 1
	s.record(ctx, "updates_tab_"+s.caseID)
	return ctx.Err()
}

// Activate clicks a pagination control and waits for the view to settle.
func (s *Session) Activate(ctx context.Context, c history.Control) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	ok, err := s.evalBool(ctx, s.cfg.NavigationTimeout, clickScript(c.Selector))
	if err != nil {
		return fmt.Errorf("failed to click %s control: %w", c.Kind, err)
	}
	if !ok {
		return fmt.Errorf("%s control %q not present", c.Kind, c.Label)
	}

	s.waitIdle(ctx, pageIdleMax, pageSettle)
	s.page = c.Page
	s.record(ctx, fmt.Sprintf("updates_%s_page%d", s.caseID, c.Page))
	return ctx.Err()
}

// waitIdle waits up to max for the network to go quiet and falls back to a
// fixed settle delay when it never does.
func (s *Session) waitIdle(ctx context.Context, max, settle time.Duration) {
	deadline := time.Now().Add(max)
	for time.Now().Before(deadline) {
		if s.idle.idleFor(idleQuiet, time.Now()) {
			return
		}
		if sleep(ctx, idlePoll) != nil {
			return
		}
	}
	s.log.Debug("network never went idle, using settle delay", "settle", settle)
	_ = sleep(ctx, settle)
}

// idleTracker counts in-flight requests from network events.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{inflight: make(map[network.RequestID]struct{}), last: time.Now()}
}

func (t *idleTracker) handle(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inflight, e.RequestID)
	default:
		return
	}
	t.last = time.Now()
}

// idleFor reports whether no request has been in flight for at least quiet.
func (t *idleTracker) idleFor(quiet time.Duration, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && now.Sub(t.last) >= quiet
}

// isLoginURL reports whether current is the login page or on the login host.
func isLoginURL(current, loginURL string) bool {
	cur, err := url.Parse(current)
	if err != nil || cur.Host == "" {
		return false
	}
	if login, err := url.Parse(loginURL); err == nil && login.Host != "" && strings.EqualFold(cur.Host, login.Host) {
		return true
	}
	p := strings.ToLower(cur.Path)
	return strings.Contains(p, "/login") || strings.Contains(p, "/signin")
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsStrings(ss []string) string {
	b, _ := json.Marshal(ss)
	return string(b)
}

func clickScript(selector string) string {
	return fmt.Sprintf(`(function(sel) {
		var el = document.querySelector(sel);
		if (!el) { return false; }
		el.click();
		return true;
	})(%s)`, jsString(selector))
}

// clickTabScript clicks the first Updates tab it can find and returns its
// label, or "" when there is none.
func clickTabScript(selectors, words []string) string {
	return fmt.Sprintf(`(function(sels, words) {
		function label(el) { return (el.innerText || el.textContent || '').trim(); }
		for (var i = 0; i < sels.length; i++) {
			var el = document.querySelector(sels[i]);
			if (el) { el.click(); return label(el) || sels[i]; }
		}
		var tabs = Array.from(document.querySelectorAll('a, button, li[role="tab"], [role="tab"]'));
		var exact = tabs.find(function(t) { return label(t).toLowerCase() === 'updates'; });
		if (exact) { exact.click(); return label(exact); }
		for (var j = 0; j < words.length; j++) {
			var t = tabs.find(function(t) {
				var l = label(t).toLowerCase();
				return l.length > 0 && l.length < 40 && l.indexOf(words[j]) !== -1;
			});
			if (t) { t.click(); return label(t); }
		}
		return '';
	})(%s, %s)`, jsStrings(selectors), jsStrings(words))
}
