package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// sessionState is the on-disk shape of a persisted browser session. Expiry
// is kept so RestoreSession can prune stale cookies instead of feeding them
// back to the browser.
type sessionState struct {
	SavedAt time.Time       `json:"saved_at"`
	Cookies []sessionCookie `json:"cookies"`
}

type sessionCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

func (c sessionCookie) expired(now time.Time) bool {
	// Session cookies report a non-positive expiry; keep them.
	if c.Expires <= 0 {
		return false
	}
	return time.Unix(int64(c.Expires), 0).Before(now)
}

// SaveSession writes the browser's cookie jar to the configured session
// file.
func (f *Fetcher) SaveSession(ctx context.Context) error {
	if f.cfg.SessionFile == "" {
		return nil
	}
	var cookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("read browser cookies: %w", err)
	}

	state := sessionState{SavedAt: time.Now().UTC(), Cookies: make([]sessionCookie, 0, len(cookies))}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, sessionCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(f.cfg.SessionFile, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	f.logger.Info("Session saved",
		zap.String("path", f.cfg.SessionFile),
		zap.Int("cookies", len(state.Cookies)))
	return nil
}

// RestoreSession loads cookies from the session file and verifies they
// still grant access by visiting the site origin. It returns false when no
// usable session exists; that is not an error.
func (f *Fetcher) RestoreSession(ctx context.Context) (bool, error) {
	if f.cfg.SessionFile == "" {
		return false, nil
	}
	data, err := os.ReadFile(f.cfg.SessionFile)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session file: %w", err)
	}
	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		f.logger.Warn("Discarding unreadable session file", zap.Error(err))
		return false, nil
	}

	now := time.Now()
	params := make([]*network.CookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		if c.expired(now) {
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
		if c.Expires > 0 {
			expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expiry
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return false, nil
	}

	runCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.NavigationTimeout)
	defer cancel()
	runCtx = mergeCancel(runCtx, ctx)

	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return false, fmt.Errorf("install session cookies: %w", err)
	}

	// Verify by visiting the origin: a dead session bounces to the login
	// host.
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(f.cfg.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return false, fmt.Errorf("verify restored session: %w", err)
	}
	var location string
	if err := chromedp.Run(runCtx, chromedp.Location(&location)); err != nil {
		return false, err
	}
	if !f.isAuthenticatedLocation(location) {
		f.logger.Info("Saved session no longer valid", zap.String("landed_on", location))
		return false, nil
	}

	f.authenticated = true
	f.logger.Info("Session restored", zap.Int("cookies", len(params)))
	return true, nil
}
