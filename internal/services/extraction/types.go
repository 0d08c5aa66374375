package extraction

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Page is one fetched slice of the paginated relationship list.
type Page struct {
	// HTML is the rendered markup of the list slice at the cursor position.
	HTML string
	// ReportedTotal is the total record count the remote surface claims, 0
	// when the surface did not report one. Used to revise the job's target.
	ReportedTotal int
	// Observation classifies what actually happened during the fetch; it is
	// handed to the health monitor before any extraction is attempted.
	Observation models.Observation
}

// PageFetcher retrieves the next page of the target list for a session. The
// chromedp implementation restores the vaulted cookie jar, navigates with the
// session's sticky egress identity, and scrolls through the emulation layer;
// tests substitute a scripted feed.
//
// The decrypted credential is passed in for the scope of this single
// interaction only and must not be retained by implementations.
type PageFetcher interface {
	FetchPage(ctx context.Context, session *models.Session, cred *models.Credential, cursor models.Cursor) (*Page, error)
}
