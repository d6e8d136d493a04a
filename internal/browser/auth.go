package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/resolve"
)

const (
	captchaSelector   = "iframe[src*='recaptcha'], iframe[title*='reCAPTCHA'], div.g-recaptcha"
	errorSelector     = ".error, .alert, .alert-danger, .message-error, #error-message"
	dashboardSelector = "nav, .dashboard, .header-menu, .welcome-message"
	codeInputSelector = "input[name='verificationCode'], input[name='code'], input[placeholder*='code'], input[placeholder*='verification'], input[type='number']"
)

// Login outcome messages.
const (
	msgLoginOK        = "Login successful"
	msgSecondFactor   = "Multi-factor authentication required - please provide a verification code"
	msgLoginFailed    = "Login appears to have failed - possibly incorrect credentials"
	msgCaptchaBlocked = "CAPTCHA detected - requires manual login with a visible browser"
	msgCodeRejected   = "Verification code was not accepted"
	msgMissingFields  = "Username, password and security code are required"
	msgMissingCode    = "A verification code is required for the second login step"
)

// loginField describes how to find one login input: by id, by name
// attribute, then by its position among the visible inputs.
type loginField struct {
	name     string
	ids      []string
	names    []string
	position int
}

var (
	usernameField = loginField{
		name:     "username",
		ids:      []string{"#username", "#user", "#login", "#email"},
		names:    []string{"input[name='username']", "input[name='user']", "input[name='login']", "input[type='email']"},
		position: 0,
	}
	passwordField = loginField{
		name:     "password",
		ids:      []string{"#password", "#pass"},
		names:    []string{"input[name='password']", "input[type='password']"},
		position: 1,
	}
	securityCodeField = loginField{
		name:     "security_code",
		ids:      []string{"#security_code", "#securityCode", "#security-code"},
		names:    []string{"input[name='security_code']", "input[name='securityCode']", "input[placeholder*='security' i]"},
		position: 2,
	}
	codeField = loginField{
		name:     "verification_code",
		ids:      []string{"#verificationCode", "#verification_code", "#code"},
		names:    strings.Split(codeInputSelector, ", "),
		position: -1,
	}
)

var submitSelectors = []string{
	"button[type='submit']",
	"input[type='submit']",
	"button#login",
	"button.login",
	"#submit",
}

// pageState is what the login flow inspects after submitting.
type pageState struct {
	URL       string `json:"url"`
	Dashboard bool   `json:"dashboard"`
	CodeInput bool   `json:"codeInput"`
	Captcha   bool   `json:"captcha"`
	Error     string `json:"error"`
}

type verdict int

const (
	verdictFailed verdict = iota
	verdictSuccess
	verdictSecondFactor
	verdictRejected
)

// assess decides the login outcome from the page state. Leaving the login
// host or showing dashboard markers counts as success.
func assess(st pageState, loginURL string) verdict {
	if st.Dashboard || !isLoginURL(st.URL, loginURL) {
		return verdictSuccess
	}
	if st.Error != "" {
		return verdictRejected
	}
	if st.CodeInput {
		return verdictSecondFactor
	}
	return verdictFailed
}

// Authenticate logs in to the portal. Outcomes caused by the credentials or
// the portal (rejection, second factor, CAPTCHA) are reported in the result
// with a nil error; the error is set only when the login page cannot be
// driven at all.
func (s *Session) Authenticate(ctx context.Context, creds models.Credentials) (models.AuthResult, error) {
	if creds.IsSecondStep {
		if strings.TrimSpace(creds.VerificationCode) == "" {
			return failure(models.ReasonInvalidInput, msgMissingCode), nil
		}
	}
	if !creds.Complete() {
		return failure(models.ReasonInvalidInput, msgMissingFields), nil
	}

	log := s.log.WithFields(map[string]any{"second_step": creds.IsSecondStep})
	log.Info("logging in to portal")

	if err := s.navigate(ctx, s.cfg.LoginURL); err != nil {
		if ctx.Err() != nil {
			return models.AuthResult{}, ctx.Err()
		}
		s.record(ctx, "login_page_error")
		return failure(models.ReasonNavigation, "Could not load the login page"), models.NewNavigationError(s.cfg.LoginURL, err)
	}
	s.record(ctx, "login_page")

	if blocked, err := s.handleCaptcha(ctx); err != nil {
		return models.AuthResult{}, err
	} else if blocked {
		return failure(models.ReasonCaptcha, msgCaptchaBlocked), nil
	}

	if st, err := s.state(ctx); err == nil && !isLoginURL(st.URL, s.cfg.LoginURL) {
		// Solved by hand during the CAPTCHA window.
		return s.succeed(ctx)
	}

	if err := s.fillCredentials(ctx, creds); err != nil {
		if ctx.Err() != nil {
			return models.AuthResult{}, ctx.Err()
		}
		s.record(ctx, "login_form_error")
		return failure(models.ReasonNavigation, "Could not locate the login form"), err
	}

	if err := s.submit(ctx, usernameField); err != nil {
		return models.AuthResult{}, err
	}
	s.record(ctx, "after_login_submit")
	s.clickInterstitial(ctx)

	st, err := s.state(ctx)
	if err != nil {
		return models.AuthResult{}, fmt.Errorf("failed to inspect page after login: %w", err)
	}

	switch assess(st, s.cfg.LoginURL) {
	case verdictSuccess:
		return s.succeed(ctx)
	case verdictRejected:
		log.Warn("portal rejected login", "banner", st.Error)
		return failure(models.ReasonBadCredentials, "Login failed: "+st.Error), nil
	case verdictSecondFactor:
		if !creds.IsSecondStep {
			log.Info("second factor required")
			return models.AuthResult{
				Message:              msgSecondFactor,
				RequiresSecondFactor: true,
				Reason:               models.ReasonSecondFactor,
			}, nil
		}
		return s.verifyCode(ctx, creds.VerificationCode)
	default:
		return failure(models.ReasonBadCredentials, msgLoginFailed), nil
	}
}

func failure(reason, msg string) models.AuthResult {
	return models.AuthResult{Success: false, Message: msg, Reason: reason}
}

// succeed captures cookies after a successful login.
func (s *Session) succeed(ctx context.Context) (models.AuthResult, error) {
	s.record(ctx, "login_success")
	cookies, err := s.Cookies(ctx)
	if err != nil {
		s.log.WithError(err).Warn("login succeeded but cookies could not be read")
	}
	s.log.Info("portal login succeeded", "cookie_count", len(cookies))
	return models.AuthResult{Success: true, Message: msgLoginOK, Cookies: cookies}, nil
}

// captchaOutcome is what a CAPTCHA check means for the login.
type captchaOutcome int

const (
	captchaAbsent captchaOutcome = iota
	captchaBlocked
	captchaWaited
)

// captchaGate applies the CAPTCHA policy. A headless browser cannot be
// solved by hand, so a present CAPTCHA blocks the login. A visible browser
// pauses for wait; the pause ends early with ctx.Err() on cancellation.
func captchaGate(ctx context.Context, present, headless bool, wait time.Duration, pause func(context.Context, time.Duration) error) (captchaOutcome, error) {
	switch {
	case !present:
		return captchaAbsent, nil
	case headless:
		return captchaBlocked, nil
	}
	if err := pause(ctx, wait); err != nil {
		return captchaWaited, err
	}
	return captchaWaited, nil
}

// handleCaptcha reports whether a CAPTCHA blocks the login. With a visible
// browser it gives the operator the configured window to solve it.
func (s *Session) handleCaptcha(ctx context.Context) (bool, error) {
	present, err := s.evalBool(ctx, s.cfg.NavigationTimeout, existsScript(captchaSelector))
	if err != nil {
		present = false
	}
	if present && !s.cfg.Headless {
		s.log.Warn("CAPTCHA detected, waiting for manual solve", "wait", s.cfg.CaptchaWait)
	}

	outcome, err := captchaGate(ctx, present, s.cfg.Headless, s.cfg.CaptchaWait, sleep)
	if err != nil {
		return false, err
	}
	if outcome == captchaBlocked {
		s.log.Warn("CAPTCHA detected in headless mode")
		s.record(ctx, "captcha_detected")
		return true, nil
	}
	return false, nil
}

// fillCredentials types the credentials into the located fields.
func (s *Session) fillCredentials(ctx context.Context, creds models.Credentials) error {
	fields := []struct {
		field    loginField
		value    string
		required bool
	}{
		{usernameField, creds.Username, true},
		{passwordField, creds.Password, true},
		{securityCodeField, creds.SecurityCode, false},
	}

	for _, f := range fields {
		sel, ok := s.locate(ctx, f.field)
		if !ok {
			if f.required {
				return models.NewStructuralError("login field not found", map[string]any{"field": f.field.name})
			}
			s.log.Warn("optional login field not found", "field", f.field.name)
			continue
		}
		if err := s.typeInto(ctx, sel, f.value); err != nil {
			return fmt.Errorf("failed to fill %s: %w", f.field.name, err)
		}
	}
	return nil
}

// locate resolves the selector of one login field.
func (s *Session) locate(ctx context.Context, f loginField) (string, bool) {
	strategies := []resolve.Strategy[*Session]{
		resolve.Func("id", probeSelectors(f.ids)),
		resolve.Func("name", probeSelectors(f.names)),
	}
	if f.position >= 0 {
		strategies = append(strategies, resolve.Func("position", probePosition(f.name, f.position)))
	}

	chain := resolve.NewChain(strategies, resolve.WithAttemptTimeout[*Session](s.cfg.ProbeTimeout))
	r := chain.Resolve(ctx, s)
	s.log.Debug("login field located", "field", f.name, "found", r.Found, "strategy", r.Strategy)
	return r.Value, r.Found
}

func probeSelectors(selectors []string) func(context.Context, *Session) resolve.Result {
	return func(ctx context.Context, s *Session) resolve.Result {
		sel, err := s.evalString(ctx, 0, firstVisibleScript(selectors))
		if err != nil {
			return resolve.Fail(err)
		}
		return resolve.Hit(sel)
	}
}

func probePosition(name string, position int) func(context.Context, *Session) resolve.Result {
	return func(ctx context.Context, s *Session) resolve.Result {
		sel, err := s.evalString(ctx, 0, positionalScript(name, position))
		if err != nil {
			return resolve.Fail(err)
		}
		return resolve.Hit(sel)
	}
}

func (s *Session) typeInto(ctx context.Context, sel, value string) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	return s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

// submit posts the form containing the field, then tries submit buttons,
// then presses Enter in the field.
func (s *Session) submit(ctx context.Context, within loginField) error {
	if err := s.pace(ctx); err != nil {
		return err
	}

	sel, _ := s.locate(ctx, within)
	submitted, err := s.evalBool(ctx, s.cfg.NavigationTimeout, submitFormScript(sel))
	if err == nil && !submitted {
		submitted, err = s.evalBool(ctx, s.cfg.NavigationTimeout, clickFirstScript(submitSelectors))
	}
	if (err != nil || !submitted) && sel != "" {
		err = s.run(ctx, s.cfg.NavigationTimeout, chromedp.SendKeys(sel, kb.Enter, chromedp.ByQuery))
		submitted = err == nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !submitted {
		return models.NewStructuralError("login form could not be submitted", nil)
	}

	s.waitIdle(ctx, s.cfg.NavigationTimeout, pageSettle)
	return ctx.Err()
}

// clickInterstitial dismisses a Continue/Next/Proceed page shown after login.
func (s *Session) clickInterstitial(ctx context.Context) {
	label, err := s.evalString(ctx, s.cfg.NavigationTimeout, interstitialScript)
	if err != nil || label == "" {
		return
	}
	s.log.Debug("clicked post-login interstitial", "label", label)
	s.waitIdle(ctx, s.cfg.NavigationTimeout, pageSettle)
}

// verifyCode enters the second-factor code and checks the result.
func (s *Session) verifyCode(ctx context.Context, code string) (models.AuthResult, error) {
	sel, ok := s.locate(ctx, codeField)
	if !ok {
		return failure(models.ReasonSecondFactor, msgSecondFactor), nil
	}
	if err := s.typeInto(ctx, sel, code); err != nil {
		return models.AuthResult{}, fmt.Errorf("failed to enter verification code: %w", err)
	}
	if err := s.submit(ctx, codeField); err != nil {
		return models.AuthResult{}, err
	}
	s.record(ctx, "after_verification_submit")
	s.clickInterstitial(ctx)

	st, err := s.state(ctx)
	if err != nil {
		return models.AuthResult{}, fmt.Errorf("failed to inspect page after verification: %w", err)
	}
	if assess(st, s.cfg.LoginURL) == verdictSuccess {
		return s.succeed(ctx)
	}
	if st.Error != "" {
		return failure(models.ReasonBadCredentials, msgCodeRejected+": "+st.Error), nil
	}
	return failure(models.ReasonBadCredentials, msgCodeRejected), nil
}

func (s *Session) state(ctx context.Context) (pageState, error) {
	var st pageState
	err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Evaluate(stateScript, &st))
	return st, err
}

func existsScript(selector string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
}

func firstVisibleScript(selectors []string) string {
	return fmt.Sprintf(`(function(sels) {
		for (var i = 0; i < sels.length; i++) {
			var el = document.querySelector(sels[i]);
			if (el && el.offsetParent !== null && !el.disabled) { return sels[i]; }
		}
		return '';
	})(%s)`, jsStrings(selectors))
}

// positionalScript tags the n-th visible text-like input so later actions
// can address it by attribute.
func positionalScript(name string, n int) string {
	return fmt.Sprintf(`(function(name, n) {
		var inputs = Array.from(document.querySelectorAll('input'))
			.filter(function(el) {
				var t = (el.type || 'text').toLowerCase();
				return el.offsetParent !== null && ['hidden', 'submit', 'button', 'checkbox', 'radio'].indexOf(t) === -1;
			});
		if (inputs.length <= n) { return ''; }
		inputs[n].setAttribute('data-rdn-field', name);
		return '[data-rdn-field="' + name + '"]';
	})(%s, %d)`, jsString(name), n)
}

func submitFormScript(fieldSelector string) string {
	return fmt.Sprintf(`(function(sel) {
		var field = sel ? document.querySelector(sel) : null;
		var form = (field && field.form) || document.querySelector('form');
		if (!form) { return false; }
		form.submit();
		return true;
	})(%s)`, jsString(fieldSelector))
}

func clickFirstScript(selectors []string) string {
	return fmt.Sprintf(`(function(sels) {
		for (var i = 0; i < sels.length; i++) {
			var el = document.querySelector(sels[i]);
			if (el && !el.disabled) { el.click(); return true; }
		}
		return false;
	})(%s)`, jsStrings(selectors))
}

const interstitialScript = `(function() {
	var words = ['continue', 'next', 'proceed'];
	var els = Array.from(document.querySelectorAll('button, input[type="submit"], a.btn, a.button'));
	for (var i = 0; i < els.length; i++) {
		var label = (els[i].innerText || els[i].value || '').trim();
		if (words.indexOf(label.toLowerCase()) !== -1 && els[i].offsetParent !== null) {
			els[i].click();
			return label;
		}
	}
	return '';
})()`

var stateScript = fmt.Sprintf(`(function() {
	function visibleText(sel) {
		var els = Array.from(document.querySelectorAll(sel));
		for (var i = 0; i < els.length; i++) {
			var t = (els[i].innerText || '').trim();
			if (t && els[i].offsetParent !== null) { return t.substring(0, 200); }
		}
		return '';
	}
	return {
		url: window.location.href,
		dashboard: document.querySelector(%s) !== null,
		codeInput: document.querySelector(%s) !== null,
		captcha: document.querySelector(%s) !== null,
		error: visibleText(%s)
	};
})()`, jsString(dashboardSelector), jsString(codeInputSelector), jsString(captchaSelector), jsString(errorSelector))
