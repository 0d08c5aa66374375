package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/emulation"
)

// Surface drives one browser tab. Every pointer move, click, and keystroke
// goes through the emulation layer; there are no instantaneous field writes
// or teleporting clicks.
type Surface struct {
	browserCtx context.Context
	emulator   *emulation.Emulator
	cfg        common.BrowserConfig
	logger     arbor.ILogger

	// pointer is the emulated cursor's current viewport position; paths
	// start from wherever the previous gesture ended.
	pointer emulation.Point
}

// NewSurface wraps a tab context from the pool.
func NewSurface(browserCtx context.Context, emulator *emulation.Emulator, cfg common.BrowserConfig, logger arbor.ILogger) *Surface {
	return &Surface{
		browserCtx: browserCtx,
		emulator:   emulator,
		cfg:        cfg,
		logger:     logger,
		pointer:    emulation.Point{X: 120, Y: 160},
	}
}

// Navigate loads a URL and lets the page settle.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if s.cfg.RenderWaitTime > 0 {
		if err := sleep(ctx, s.cfg.RenderWaitTime); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether the selector matches anything on the current page.
func (s *Surface) Exists(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return false, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	return len(nodes) > 0, nil
}

// Click moves the pointer along an emulated trajectory to the element's
// center and clicks it.
func (s *Surface) Click(ctx context.Context, selector string) error {
	target, err := s.elementCenter(ctx, selector)
	if err != nil {
		return err
	}

	path := s.emulator.PointerPath(s.pointer, target)
	for _, step := range path {
		if err := sleep(ctx, step.Delay); err != nil {
			return err
		}
		if err := s.dispatchMouse(ctx, input.MouseMoved, step.Pos, 0); err != nil {
			return fmt.Errorf("failed to move pointer: %w", err)
		}
		s.pointer = step.Pos
	}

	if err := s.dispatchMouse(ctx, input.MousePressed, target, 1); err != nil {
		return fmt.Errorf("failed to press at %q: %w", selector, err)
	}
	if err := sleep(ctx, 40*time.Millisecond); err != nil {
		return err
	}
	if err := s.dispatchMouse(ctx, input.MouseReleased, target, 1); err != nil {
		return fmt.Errorf("failed to release at %q: %w", selector, err)
	}
	s.pointer = target
	return nil
}

// Type clicks the field to focus it, then enters the text with emulated
// per-character timing.
func (s *Surface) Type(ctx context.Context, selector, text string) error {
	if err := s.Click(ctx, selector); err != nil {
		return err
	}

	for _, stroke := range s.emulator.Keystrokes(text) {
		if err := sleep(ctx, stroke.Delay); err != nil {
			return err
		}
		runCtx, cancel := s.bound(ctx)
		err := chromedp.Run(runCtx, chromedp.KeyEvent(string(stroke.Rune)))
		cancel()
		if err != nil {
			return fmt.Errorf("failed to type into %q: %w", selector, err)
		}
	}
	return nil
}

// Scroll performs an emulated scroll gesture of the given total distance.
func (s *Surface) Scroll(ctx context.Context, totalDeltaY int) error {
	for _, step := range s.emulator.ScrollPlan(totalDeltaY) {
		if err := sleep(ctx, step.Delay); err != nil {
			return err
		}
		runCtx, cancel := s.bound(ctx)
		err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseWheel, s.pointer.X, s.pointer.Y).
				WithDeltaX(0).
				WithDeltaY(float64(step.DeltaY)).
				Do(ctx)
		}))
		cancel()
		if err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
	}
	return nil
}

// CurrentURL returns the page's current location.
func (s *Surface) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	var location string
	if err := chromedp.Run(runCtx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return location, nil
}

// OuterHTML captures the rendered markup of the whole document.
func (s *Surface) OuterHTML(ctx context.Context) (string, error) {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page markup: %w", err)
	}
	return html, nil
}

// Cookies captures the browser's cookie jar for vaulting.
func (s *Surface) Cookies(ctx context.Context) ([]models.Cookie, error) {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	var captured []models.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			cookie := models.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: string(c.SameSite),
			}
			if c.Expires > 0 {
				cookie.Expires = time.Unix(int64(c.Expires), 0)
			}
			captured = append(captured, cookie)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture cookies: %w", err)
	}
	return captured, nil
}

// SetCookies restores a vaulted cookie jar into the browser. Individual
// rejected cookies are skipped; navigation decides whether what remains is
// enough.
func (s *Surface) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	return chromedp.Run(runCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				param := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly)
				if !c.Expires.IsZero() && c.Expires.After(time.Now()) {
					expires := cdp.TimeSinceEpoch(c.Expires)
					param = param.WithExpires(&expires)
				}
				switch c.SameSite {
				case "Strict", "strict":
					param = param.WithSameSite(network.CookieSameSiteStrict)
				case "Lax", "lax":
					param = param.WithSameSite(network.CookieSameSiteLax)
				case "None", "none":
					param = param.WithSameSite(network.CookieSameSiteNone)
				}
				if err := param.Do(ctx); err != nil {
					s.logger.Warn().
						Err(err).
						Str("cookie_name", c.Name).
						Str("domain", c.Domain).
						Msg("Failed to restore cookie")
				}
			}
			return nil
		}),
	)
}

// elementCenter resolves a selector to the viewport coordinates of its
// center.
func (s *Surface) elementCenter(ctx context.Context, selector string) (emulation.Point, error) {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	var rect []float64
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return [];
		const r = el.getBoundingClientRect();
		return [r.left + r.width / 2, r.top + r.height / 2];
	})()`, selector)

	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &rect)); err != nil {
		return emulation.Point{}, fmt.Errorf("failed to locate %q: %w", selector, err)
	}
	if len(rect) != 2 {
		return emulation.Point{}, fmt.Errorf("element %q not found on page", selector)
	}
	return emulation.Point{X: rect[0], Y: rect[1]}, nil
}

func (s *Surface) dispatchMouse(ctx context.Context, eventType input.MouseType, pos emulation.Point, clickCount int64) error {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	return chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := input.DispatchMouseEvent(eventType, pos.X, pos.Y)
		if eventType == input.MousePressed || eventType == input.MouseReleased {
			params = params.WithButton(input.Left).WithClickCount(clickCount)
		}
		return params.Do(ctx)
	}))
}

// bound derives a tab-scoped context that also honors the caller's deadline
// and cancellation.
func (s *Surface) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
