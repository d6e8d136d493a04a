// Package browser drives the RDN portal through a headless Chrome instance.
//
// A Manager opens one browser with a single tab per task. The returned
// Session logs in, restores cookies, loads case pages and implements
// history.Navigator for the update-history walk. Closing the session always
// releases the browser, and cancelling the context passed to Open kills it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// ErrLoginRequired is returned when the portal redirects a case request to
// the login page.
var ErrLoginRequired = errors.New("portal session expired, login required")

// Config holds browser configuration.
type Config struct {
	LoginURL          string
	Headless          bool
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	ProbeTimeout      time.Duration
	NavigationTimeout time.Duration
	CaptchaWait       time.Duration
	TaskTimeout       time.Duration
	ActionsPerSecond  float64
}

// DefaultConfig returns the stock browser configuration.
func DefaultConfig() Config {
	return Config{
		LoginURL:          "https://secureauth.recoverydatabase.net/public/login",
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36",
		WindowWidth:       1280,
		WindowHeight:      800,
		ProbeTimeout:      50 * time.Millisecond,
		NavigationTimeout: 15 * time.Second,
		CaptchaWait:       60 * time.Second,
		TaskTimeout:       5 * time.Minute,
		ActionsPerSecond:  2,
	}
}

// maskWebdriver runs before any page script.
const maskWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Manager opens browser sessions.
type Manager struct {
	cfg      Config
	recorder *Recorder
	log      *logger.Logger
}

// NewManager creates a manager. A nil recorder disables debug artifacts.
func NewManager(cfg Config, recorder *Recorder, log *logger.Logger) *Manager {
	def := DefaultConfig()
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.CaptchaWait <= 0 {
		cfg.CaptchaWait = def.CaptchaWait
	}
	if cfg.ActionsPerSecond <= 0 {
		cfg.ActionsPerSecond = def.ActionsPerSecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{cfg: cfg, recorder: recorder, log: log.WithComponent("browser")}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Open starts a browser with one tab. The browser lives until Close is
// called or ctx ends.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.UserAgent(m.cfg.UserAgent),
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
	)

	taskCtx, taskCancel := ctx, context.CancelFunc(func() {})
	if m.cfg.TaskTimeout > 0 {
		taskCtx, taskCancel = context.WithTimeout(ctx, m.cfg.TaskTimeout)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(taskCtx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			m.log.Debug(fmt.Sprintf(format, args...))
		}),
	)

	s := &Session{
		ctx:     browserCtx,
		cfg:     m.cfg,
		limiter: rate.NewLimiter(rate.Limit(m.cfg.ActionsPerSecond), 1),
		rec:     m.recorder,
		idle:    newIdleTracker(),
		log:     m.log,
	}
	s.cancel = func() {
		browserCancel()
		allocCancel()
		taskCancel()
	}

	chromedp.ListenTarget(browserCtx, s.idle.handle)

	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(maskWebdriver).Do(ctx)
			return err
		}),
	)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	m.log.Debug("browser session opened", "headless", m.cfg.Headless)
	return s, nil
}

// Session is one browser with one tab. It is not safe for concurrent use.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     Config
	limiter *rate.Limiter
	rec     *Recorder
	idle    *idleTracker
	log     *logger.Logger
	caseID  string
	page    int
}

// Close releases the browser. It is safe to call more than once.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// SetCase tags the artifacts recorded from now on with caseID.
func (s *Session) SetCase(caseID string) {
	s.caseID = caseID
	s.page = 0
	s.log = s.log.WithCase(caseID)
}

// bind derives a chromedp context from the browser context that also ends
// when ctx ends or timeout elapses.
func (s *Session) bind(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var c context.CancelFunc
		runCtx, c = context.WithDeadline(runCtx, dl)
		prev := cancel
		cancel = func() { c(); prev() }
	}
	if timeout > 0 {
		var c context.CancelFunc
		runCtx, c = context.WithTimeout(runCtx, timeout)
		prev := cancel
		cancel = func() { c(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// run executes actions bounded by ctx and timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := s.bind(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// pace waits for the action limiter.
func (s *Session) pace(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Location returns the current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// Snapshot returns the rendered HTML of the current view.
func (s *Session) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

// evalBool evaluates a script returning a boolean.
func (s *Session) evalBool(ctx context.Context, timeout time.Duration, script string) (bool, error) {
	var ok bool
	err := s.run(ctx, timeout, chromedp.Evaluate(script, &ok))
	return ok, err
}

// evalString evaluates a script returning a string.
func (s *Session) evalString(ctx context.Context, timeout time.Duration, script string) (string, error) {
	var out string
	err := s.run(ctx, timeout, chromedp.Evaluate(script, &out))
	return out, err
}

// navigate loads url and waits for the body.
func (s *Session) navigate(ctx context.Context, url string) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	return s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}
