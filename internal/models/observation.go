package models

import "time"

// ObservationKind classifies what a page interaction actually produced.
type ObservationKind string

const (
	// ObservationContentRendered means the expected content structure was
	// present and parseable.
	ObservationContentRendered ObservationKind = "content_rendered"
	// ObservationLoginRedirect means the surface bounced to its login page;
	// the session's cookies are no longer honored.
	ObservationLoginRedirect ObservationKind = "login_redirect"
	// ObservationNetworkError covers timeouts, connection resets, and 5xx
	// responses.
	ObservationNetworkError ObservationKind = "network_error"
	// ObservationUnrecognized means the page loaded but matched no known
	// structure.
	ObservationUnrecognized ObservationKind = "unrecognized"
)

// Observation is the outcome signal a page interaction feeds to the health
// monitor.
type Observation struct {
	Kind       ObservationKind `json:"kind"`
	URL        string          `json:"url,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}
