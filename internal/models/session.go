package models

import "time"

// SessionStatus is the lifecycle state of an authenticated session.
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusPaused  SessionStatus = "paused"
	SessionStatusExpired SessionStatus = "expired"
)

// SessionHealth is the monitor's running judgement of a session.
type SessionHealth string

const (
	SessionHealthHealthy  SessionHealth = "healthy"
	SessionHealthDegraded SessionHealth = "degraded"
	SessionHealthInvalid  SessionHealth = "invalid"
)

// Session is an authenticated identity bound to a tenant. The credential
// blob is AES-256-GCM ciphertext produced by the vault; it is never stored
// or serialized in plaintext and is excluded from JSON responses.
type Session struct {
	ID              string        `json:"id" badgerhold:"key"`
	TenantID        string        `json:"tenant_id" badgerhold:"index"`
	CredentialBlob  []byte        `json:"-"`
	Status          SessionStatus `json:"status" badgerhold:"index"`
	Health          SessionHealth `json:"health"`
	ExpiresAt       time.Time     `json:"expires_at"`
	ExtractionCount int           `json:"extraction_count"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsExpired reports whether the session is past its TTL ceiling. Expiry is
// absolute from creation; renewal does not move it.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Extractable reports whether an extraction iteration may run against this
// session right now.
func (s *Session) Extractable(now time.Time) bool {
	return s.Status == SessionStatusActive &&
		s.Health != SessionHealthInvalid &&
		!s.IsExpired(now)
}
