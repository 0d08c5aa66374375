package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// CredentialVault encrypts and persists session artifacts at rest. The
// encryption key is process-wide configuration, never embedded with the
// ciphertext.
type CredentialVault interface {
	// Store encrypts the credential, creates the session row, and returns the
	// new session id.
	Store(ctx context.Context, tenantID string, cred *models.Credential) (string, error)
	// Update re-encrypts a renewed credential for an existing session without
	// touching ExpiresAt. The TTL is an absolute ceiling renewal cannot extend.
	Update(ctx context.Context, sessionID string, cred *models.Credential) error
	// Load decrypts and returns the credential. Returns ErrNotFound for a
	// missing session and for one past its TTL, even when ciphertext is
	// technically present.
	Load(ctx context.Context, sessionID string) (*models.Credential, error)
	// Invalidate marks the session expired. The ciphertext is retained for
	// audit but never again loadable.
	Invalidate(ctx context.Context, sessionID string) error
}

// Authenticator drives login against the target platform to a validated
// session, or to a terminal failure.
type Authenticator interface {
	// Establish runs the full state machine for a tenant's login input and
	// returns the established session.
	Establish(ctx context.Context, tenantID string, username, password string) (*models.Session, error)
	// Renew re-enters the state machine for an existing session using the
	// vaulted login identity. A no-op returning the session unchanged when it
	// is already established and healthy.
	Renew(ctx context.Context, sessionID string) (*models.Session, error)
	// SubmitChallenge delivers an externally obtained step-up code to a
	// machine blocked at the challenge gate.
	SubmitChallenge(sessionID, code string) error
}

// HealthMonitor classifies a session's live status from observed behavior.
type HealthMonitor interface {
	Classify(ctx context.Context, sessionID string, obs models.Observation) models.SessionHealth
	Health(sessionID string) models.SessionHealth
	// Reset restores a session to healthy after a completed re-authentication.
	Reset(ctx context.Context, sessionID string)
}

// IdentityRouter assigns one consistent network egress identity per session
// for the session's lifetime.
type IdentityRouter interface {
	Bind(sessionID string) (string, error)
	Bound(sessionID string) (string, bool)
	Release(sessionID string)
}

// EventPublisher broadcasts operator-facing events (job progress, session
// transitions) to connected clients.
type EventPublisher interface {
	Publish(eventType string, payload map[string]interface{})
}
