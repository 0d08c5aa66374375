package auth

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Selectors for the target platform's login surface. Variant detection is
// structural: the machine inspects which of these are present rather than
// guessing which form was served.
const (
	selRememberedAccount = "button.remembered-account__entry"
	selUsernameField     = "input[name='session_key']"
	selPasswordField     = "input[name='session_password']"
	selSubmitButton      = "button[type='submit']"
	selChallengeInput    = "input[name='verification_code']"
	selChallengeSubmit   = "button.challenge__submit"
)

// loginPathFragment appears in the URL whenever the platform bounces an
// unauthenticated request back to the login surface.
const loginPathFragment = "/login"

// Surface is the automated browser page the state machine drives. The
// chromedp implementation routes every field write and click through the
// behavioral emulation layer; tests substitute a scripted fake.
type Surface interface {
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Exists reports whether a selector is present on the current page.
	Exists(ctx context.Context, selector string) (bool, error)
	// Click moves the pointer to the element along an emulated trajectory and
	// clicks it.
	Click(ctx context.Context, selector string) error
	// Type enters text into the element with emulated keystroke timing. Never
	// an instantaneous field write.
	Type(ctx context.Context, selector, text string) error
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Cookies captures the browser's cookie jar for vaulting.
	Cookies(ctx context.Context) ([]models.Cookie, error)
	// SetCookies restores a vaulted cookie jar before navigation.
	SetCookies(ctx context.Context, cookies []models.Cookie) error
}

// SurfaceFactory opens a fresh surface. The release function tears the
// underlying page down; callers must invoke it when the machine finishes.
type SurfaceFactory func(ctx context.Context) (Surface, func(), error)
