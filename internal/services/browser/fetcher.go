package browser

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/emulation"
	"github.com/ternarybob/colligo/internal/services/extraction"
)

// listTotalSelectors are the places the remote surface reports how many
// entries the relationship list holds.
var listTotalSelectors = []string{
	"span.list-total",
	"header.list-header h1",
	".conn-count",
}

var digitsPattern = regexp.MustCompile(`[\d,]+`)

// loginPath appears in the location whenever the surface bounces an
// unauthenticated request back to its login page.
const loginPath = "/login"

// Fetcher is the chromedp page fetcher: it restores the vaulted cookie jar
// into a tab bound to the session's egress identity, navigates to the cursor
// position, scrolls through the emulation layer, and captures the rendered
// markup. The decrypted credential is used within a single call and not
// retained.
type Fetcher struct {
	cfg      common.ExtractionConfig
	browser  common.BrowserConfig
	pool     *Pool
	emulator *emulation.Emulator
	router   interfaces.IdentityRouter
	logger   arbor.ILogger
}

// NewFetcher creates the chromedp-backed page fetcher.
func NewFetcher(cfg common.ExtractionConfig, browser common.BrowserConfig, pool *Pool, emulator *emulation.Emulator, router interfaces.IdentityRouter, logger arbor.ILogger) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		browser:  browser,
		pool:     pool,
		emulator: emulator,
		router:   router,
		logger:   logger,
	}
}

// FetchPage retrieves one slice of the relationship list at the cursor.
func (f *Fetcher) FetchPage(ctx context.Context, session *models.Session, cred *models.Credential, cursor models.Cursor) (*extraction.Page, error) {
	identity, err := f.router.Bind(session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to bind egress identity: %w", err)
	}

	tabCtx, release, err := f.pool.Acquire(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire browser: %w", err)
	}
	defer release()

	surface := NewSurface(tabCtx, f.emulator, f.browser, f.logger)

	if err := surface.SetCookies(ctx, cred.Cookies); err != nil {
		return nil, fmt.Errorf("failed to restore session cookies: %w", err)
	}

	pageURL, err := f.pageURL(cursor)
	if err != nil {
		return nil, err
	}
	if err := surface.Navigate(ctx, pageURL); err != nil {
		return nil, err
	}

	// A bounce to the login surface means the cookies stopped being honored.
	// That is a classification for the health monitor, not a fetch error.
	current, err := surface.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	if strings.Contains(current, loginPath) {
		return &extraction.Page{
			Observation: models.Observation{
				Kind:       models.ObservationLoginRedirect,
				URL:        current,
				ObservedAt: time.Now(),
			},
		}, nil
	}

	// Lazy-loading surfaces only materialize entries as the viewport reaches
	// them; the gesture goes through the emulation layer like everything
	// else.
	if err := surface.Scroll(ctx, 2400); err != nil {
		return nil, err
	}

	html, err := surface.OuterHTML(ctx)
	if err != nil {
		return nil, err
	}

	page := &extraction.Page{
		HTML: html,
		Observation: models.Observation{
			Kind:       models.ObservationContentRendered,
			URL:        current,
			ObservedAt: time.Now(),
		},
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		page.Observation.Kind = models.ObservationUnrecognized
		return page, nil
	}
	if doc.Find("li").Length() == 0 {
		page.Observation.Kind = models.ObservationUnrecognized
	}
	page.ReportedTotal = reportedTotal(doc)

	return page, nil
}

// pageURL resolves the list URL for a cursor position.
func (f *Fetcher) pageURL(cursor models.Cursor) (string, error) {
	u, err := url.Parse(f.cfg.ListURL)
	if err != nil {
		return "", fmt.Errorf("invalid list URL %q: %w", f.cfg.ListURL, err)
	}
	q := u.Query()
	if cursor.PageOffset > 0 {
		q.Set("page", strconv.Itoa(cursor.PageOffset+1))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// reportedTotal pulls the surface's own claim of the list size, 0 when none
// of the known selectors carries a number.
func reportedTotal(doc *goquery.Document) int {
	for _, selector := range listTotalSelectors {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text == "" {
			continue
		}
		match := digitsPattern.FindString(text)
		if match == "" {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(match, ",", ""))
		if err == nil && n > 0 {
			return n
		}
	}
	return 0
}
