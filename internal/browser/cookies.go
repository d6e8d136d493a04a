package browser

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jamibilling/rdn-billing/internal/models"
)

// Cookies returns the cookies of the browser.
func (s *Session) Cookies(ctx context.Context) ([]models.Cookie, error) {
	var out []models.Cookie
	err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = fromCDPCookies(cookies)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return out, nil
}

// RestoreCookies loads previously captured cookies into the browser.
func (s *Session) RestoreCookies(ctx context.Context, cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := toCDPCookies(cookies, time.Now())
	if len(params) == 0 {
		return nil
	}
	err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to restore cookies: %w", err)
	}
	s.log.Debug("cookies restored", "count", len(params))
	return nil
}

func fromCDPCookies(in []*network.Cookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(in))
	for _, c := range in {
		mc := models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			mc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		out = append(out, mc)
	}
	return out
}

// toCDPCookies converts stored cookies, dropping those already expired.
func toCDPCookies(in []models.Cookie, now time.Time) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(in))
	for _, c := range in {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		switch network.CookieSameSite(c.SameSite) {
		case network.CookieSameSiteStrict, network.CookieSameSiteLax, network.CookieSameSiteNone:
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &exp
		}
		out = append(out, p)
	}
	return out
}
