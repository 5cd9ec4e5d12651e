// Package headless implements the authenticated page fetcher on a headless
// Chrome session driven by chromedp. One authenticated browser session is
// reused for the whole crawl.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/crawler"
)

// ErrNotAuthenticated is returned when a fetch is attempted before a
// successful sign-in or session restore.
var ErrNotAuthenticated = errors.New("fetcher is not authenticated")

// Config controls the headless fetcher.
type Config struct {
	// BaseURL is the site origin; authentication succeeds once the browser
	// lands back under it with no login page in the address.
	BaseURL string
	// SessionFile persists cookies between runs; empty disables persistence.
	SessionFile string
	UserAgent   string
	Headless    bool
	// NavigationTimeout bounds each page navigation.
	NavigationTimeout time.Duration
	// AuthTimeout bounds the whole SSO dance.
	AuthTimeout time.Duration
	// ExpandWait is how long to wait for a child list after clicking an
	// expand toggle.
	ExpandWait time.Duration
}

// Fetcher owns the browser session. It implements crawler.Fetcher and
// crawler.HierarchySource.
type Fetcher struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
	authenticated bool
	nodeSeq       int
}

// Selectors for the Microsoft sign-in form and the wiki page chrome. The
// sign-in ids are stable across tenants; the page chrome ones follow the
// wiki's quick-edit layout.
const (
	selEmailField      = `#i0116`
	selPasswordField   = `#i0118`
	selSubmitButton    = `#idSIButton9`
	selBreadcrumbLinks = `#quickedit-breadcrumbs li span a, ol#quickedit-breadcrumbs li a`
	selActionMenu      = `#action-menu-link`
	selViewSourceLink  = `#action-view-source-link`
)

// hierarchyContainerJS locates the root hierarchy list, trying the primary
// child_ul container first and falling back to alternate page structures.
const hierarchyContainerJS = `(() => {
	const selectors = [
		"ul[id^='child_ul']",
		"div.wiki-content ul",
		"div#content ul",
		"ul.content-tree",
	];
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (el) return sel;
	}
	return "";
})()`

// New starts the browser and returns the fetcher. The allocator lives for
// the process; callers must Close it on exit.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 120 * time.Second
	}
	if cfg.ExpandWait <= 0 {
		cfg.ExpandWait = time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so a broken Chrome install fails fast.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Fetcher{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// Close tears down the browser and allocator.
func (f *Fetcher) Close() {
	f.browserCancel()
	f.allocCancel()
}

// Authenticated reports whether a sign-in or session restore succeeded.
func (f *Fetcher) Authenticated() bool {
	return f.authenticated
}

// Authenticate drives the Microsoft SSO form: email, next, password, sign
// in, and the optional "stay signed in" prompt. Success means the browser is
// back under the site origin with no login page in the address.
func (f *Fetcher) Authenticate(ctx context.Context, email, password string) error {
	runCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.AuthTimeout)
	defer cancel()
	runCtx = mergeCancel(runCtx, ctx)

	if err := chromedp.Run(runCtx, chromedp.Navigate(f.cfg.BaseURL)); err != nil {
		return fmt.Errorf("navigate to site: %w", err)
	}

	// The site redirects unauthenticated visitors to the Microsoft login
	// host on its own.
	if err := f.waitForLocation(runCtx, isMicrosoftLogin); err != nil {
		return fmt.Errorf("microsoft login page did not appear: %w", err)
	}

	steps := []chromedp.Action{
		chromedp.WaitVisible(selEmailField, chromedp.ByQuery),
		chromedp.SendKeys(selEmailField, email, chromedp.ByQuery),
		chromedp.Click(selSubmitButton, chromedp.ByQuery),
		chromedp.WaitVisible(selPasswordField, chromedp.ByQuery),
		chromedp.SendKeys(selPasswordField, password, chromedp.ByQuery),
		chromedp.Click(selSubmitButton, chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, steps...); err != nil {
		return fmt.Errorf("submit credentials: %w", err)
	}

	// "Stay signed in?" shows the same submit button id; absence is fine.
	f.dismissStaySignedIn(runCtx)

	if err := f.waitForLocation(runCtx, f.isAuthenticatedLocation); err != nil {
		return fmt.Errorf("redirect back to site never completed: %w", err)
	}

	f.authenticated = true
	f.logger.Info("Authenticated with site SSO")
	if f.cfg.SessionFile != "" {
		if err := f.SaveSession(runCtx); err != nil {
			f.logger.Warn("Could not save session", zap.Error(err))
		}
	}
	return nil
}

func (f *Fetcher) dismissStaySignedIn(ctx context.Context) {
	promptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(promptCtx,
		chromedp.WaitVisible(selSubmitButton, chromedp.ByQuery),
		chromedp.Click(selSubmitButton, chromedp.ByQuery),
	)
	if err != nil {
		f.logger.Debug("No stay-signed-in prompt", zap.Error(err))
	}
}

func isMicrosoftLogin(location string) bool {
	lower := strings.ToLower(location)
	return strings.Contains(lower, "login.microsoftonline.com") ||
		strings.Contains(lower, "login.microsoft.com") ||
		strings.Contains(lower, "account.microsoft.com")
}

func (f *Fetcher) isAuthenticatedLocation(location string) bool {
	return strings.HasPrefix(location, f.cfg.BaseURL) &&
		!strings.Contains(strings.ToLower(location), "login")
}

// waitForLocation polls the address bar until pred matches or the context
// finishes.
func (f *Fetcher) waitForLocation(ctx context.Context, pred func(string) bool) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		var location string
		if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
			return err
		}
		if pred(location) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for location (last %q): %w", location, ctx.Err())
		case <-ticker.C:
		}
	}
}

// FetchPage retrieves one authenticated page: breadcrumb trail from the
// rendered view, raw markup from the "view source" alternate view when the
// page offers one, else the rendered page itself.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (crawler.Page, error) {
	if !f.authenticated {
		return crawler.Page{}, ErrNotAuthenticated
	}
	runCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.NavigationTimeout)
	defer cancel()
	runCtx = mergeCancel(runCtx, ctx)

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return crawler.Page{}, fmt.Errorf("navigate %s: %w", url, err)
	}

	breadcrumbs := f.readBreadcrumbs(runCtx, url)
	raw, err := f.readRawHTML(runCtx, url)
	if err != nil {
		return crawler.Page{}, err
	}

	return crawler.Page{URL: url, RawHTML: raw, Breadcrumbs: breadcrumbs}, nil
}

// readBreadcrumbs is best-effort; absence is not an error.
func (f *Fetcher) readBreadcrumbs(ctx context.Context, url string) []string {
	js := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(a => a.innerText.trim()).filter(t => t.length > 0)`, selBreadcrumbLinks)
	var crumbs []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &crumbs)); err != nil {
		f.logger.Debug("No breadcrumbs", zap.String("url", url), zap.Error(err))
		return nil
	}
	return crumbs
}

// readRawHTML prefers the action-menu "view source" href; on any failure it
// falls back to the rendered page markup.
func (f *Fetcher) readRawHTML(ctx context.Context, url string) (string, error) {
	var html string

	sourceHref, err := f.viewSourceHref(ctx)
	if err == nil && sourceHref != "" {
		err = chromedp.Run(ctx,
			chromedp.Navigate(sourceHref),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err == nil {
			return html, nil
		}
		f.logger.Debug("View source fetch failed, using rendered page",
			zap.String("url", url), zap.Error(err))
		// Re-navigate: the failed view-source attempt may have left the tab
		// elsewhere.
		if err := chromedp.Run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			return "", fmt.Errorf("re-navigate %s: %w", url, err)
		}
	}

	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page markup %s: %w", url, err)
	}
	return html, nil
}

func (f *Fetcher) viewSourceHref(ctx context.Context) (string, error) {
	js := fmt.Sprintf(`(() => {
		const menu = document.querySelector(%q);
		if (menu) menu.click();
		const link = document.querySelector(%q);
		return link ? link.href : "";
	})()`, selActionMenu, selViewSourceLink)
	var href string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &href)); err != nil {
		return "", err
	}
	return href, nil
}

// mergeCancel ties the chromedp run context to the caller's cancellation.
func mergeCancel(runCtx, callerCtx context.Context) context.Context {
	merged, cancel := context.WithCancel(runCtx)
	go func() {
		select {
		case <-callerCtx.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged
}
