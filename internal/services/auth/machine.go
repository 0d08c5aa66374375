package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// State is a named position in the authentication state machine. The machine
// is an explicit FSM so its re-entrant, resumable nature is a first-class
// contract instead of an artifact of nested callbacks.
type State string

const (
	StateIdle           State = "idle"
	StateDetectVariant  State = "detect_variant"
	StateRemembered     State = "remembered_account_prompt"
	StatePasswordOnly   State = "password_only_form"
	StateFullForm       State = "full_credentials_form"
	StateChallengeCheck State = "challenge_check"
	StateChallengeGate  State = "challenge_gate"
	StateEstablished    State = "established"
	StateFailed         State = "failed"
)

// Service drives login through its observed variants to a validated session,
// or to a terminal failure. It implements interfaces.Authenticator.
type Service struct {
	cfg      common.AuthConfig
	vault    interfaces.CredentialVault
	sessions interfaces.SessionStorage
	monitor  interfaces.HealthMonitor
	router   interfaces.IdentityRouter
	surfaces SurfaceFactory
	locks    *common.SessionLocks
	logger   arbor.ILogger

	mu      sync.Mutex
	pending map[string]chan string // challenge gate mailboxes, keyed by session or tenant
}

// NewService creates the authentication state machine service.
func NewService(cfg common.AuthConfig, vault interfaces.CredentialVault, sessions interfaces.SessionStorage, monitor interfaces.HealthMonitor, router interfaces.IdentityRouter, surfaces SurfaceFactory, locks *common.SessionLocks, logger arbor.ILogger) *Service {
	return &Service{
		cfg:      cfg,
		vault:    vault,
		sessions: sessions,
		monitor:  monitor,
		router:   router,
		surfaces: surfaces,
		locks:    locks,
		logger:   logger,
		pending:  make(map[string]chan string),
	}
}

// Establish runs the machine for a tenant's login input. When the tenant
// already holds an established, healthy, unexpired session the call is a
// no-op returning that session rather than re-authenticating.
func (s *Service) Establish(ctx context.Context, tenantID, username, password string) (*models.Session, error) {
	if existing := s.establishedSession(ctx, tenantID); existing != nil {
		s.logger.Debug().
			Str("tenant_id", tenantID).
			Str("session_id", existing.ID).
			Msg("Session already established, skipping authentication")
		return existing, nil
	}

	cred := &models.Credential{Username: username, Password: password}

	result, err := s.run(ctx, "tenant:"+tenantID, cred)
	if err != nil {
		return nil, err
	}

	sessionID, err := s.vault.Store(ctx, tenantID, result)
	if err != nil {
		return nil, fmt.Errorf("failed to vault credential: %w", err)
	}

	// Sticky egress binding is made at session birth and reused for the
	// session's whole lifetime.
	if _, err := s.router.Bind(sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to bind egress identity")
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("session_id", sessionID).
		Msg("Session established")

	return session, nil
}

// Renew re-enters the machine for an existing session using the vaulted login
// identity, serialized against any extraction iteration for the same session.
// Renewal refreshes the credential blob and health but never extends the
// session's TTL ceiling.
func (s *Service) Renew(ctx context.Context, sessionID string) (*models.Session, error) {
	s.locks.Lock(sessionID, "authenticator")
	defer s.locks.Unlock(sessionID)

	return s.renewLocked(ctx, sessionID)
}

// RenewLocked renews a session whose lock the caller already holds. The job
// runner uses this from inside its own critical section so re-authentication
// is linearized with the job's iterations.
func (s *Service) RenewLocked(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.renewLocked(ctx, sessionID)
}

func (s *Service) renewLocked(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Idempotent-safe: an already-established healthy session is returned
	// unchanged.
	if !session.IsExpired(time.Now()) && session.Health == models.SessionHealthHealthy {
		return session, nil
	}

	// TTL is an absolute ceiling. A session past it cannot be renewed, only
	// replaced via a fresh Establish.
	cred, err := s.vault.Load(ctx, sessionID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			return nil, models.NewPipelineError(models.ErrorKindAuthStructural, "renew",
				fmt.Errorf("session %s is past its TTL and cannot be renewed", sessionID))
		}
		return nil, err
	}

	result, err := s.run(ctx, sessionID, cred)
	if err != nil {
		return nil, err
	}

	if err := s.vault.Update(ctx, sessionID, result); err != nil {
		return nil, fmt.Errorf("failed to vault renewed credential: %w", err)
	}

	s.monitor.Reset(ctx, sessionID)

	session, err = s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("session_id", sessionID).Msg("Session renewed")
	return session, nil
}

// SubmitChallenge delivers an externally obtained step-up code to a machine
// blocked at the challenge gate. The key is the session id for renewals, or
// "tenant:<id>" for an initial Establish.
func (s *Service) SubmitChallenge(key, code string) error {
	s.mu.Lock()
	ch, ok := s.pending[key]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending challenge for %s", key)
	}

	select {
	case ch <- code:
		return nil
	default:
		return fmt.Errorf("challenge for %s already answered", key)
	}
}

// run executes the state machine over a fresh surface and returns the
// credential to vault. gateKey identifies this attempt to SubmitChallenge.
func (s *Service) run(ctx context.Context, gateKey string, cred *models.Credential) (*models.Credential, error) {
	surface, release, err := s.surfaces(ctx)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "open surface", err)
	}
	defer release()

	state := StateIdle
	for {
		s.logger.Debug().Str("state", string(state)).Msg("Authentication state")

		switch state {
		case StateIdle:
			if len(cred.Cookies) > 0 {
				if err := surface.SetCookies(ctx, cred.Cookies); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to restore cookie jar, proceeding without")
				}
			}
			if err := s.navigateWithRetry(ctx, surface, s.cfg.LoginURL); err != nil {
				return nil, err
			}
			state = StateDetectVariant

		case StateDetectVariant:
			state, err = s.detectVariant(ctx, surface)
			if err != nil {
				return nil, err
			}

		case StateRemembered:
			// The platform remembered the account: a single affordance click,
			// then only the password is requested.
			if err := surface.Click(ctx, selRememberedAccount); err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "remembered account", err)
			}
			if err := surface.Type(ctx, selPasswordField, cred.Password); err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "password entry", err)
			}
			if err := surface.Click(ctx, selSubmitButton); err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "submit", err)
			}
			state = StateChallengeCheck

		case StatePasswordOnly:
			if err := surface.Type(ctx, selPasswordField, cred.Password); err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "password entry", err)
			}
			if err := surface.Click(ctx, selSubmitButton); err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "submit", err)
			}
			state = StateChallengeCheck

		case StateFullForm:
			if err := surface.Type(ctx, selUsernameField, cred.Username); err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "username entry", err)
			}
			if err := surface.Type(ctx, selPasswordField, cred.Password); err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "password entry", err)
			}
			if err := surface.Click(ctx, selSubmitButton); err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "submit", err)
			}
			state = StateChallengeCheck

		case StateChallengeCheck:
			challenged, err := surface.Exists(ctx, selChallengeInput)
			if err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "challenge check", err)
			}
			if challenged {
				state = StateChallengeGate
			} else {
				state = StateEstablished
			}

		case StateChallengeGate:
			if err := s.awaitChallenge(ctx, gateKey, surface); err != nil {
				return nil, err
			}
			state = StateEstablished

		case StateEstablished:
			// Confirm the platform did not bounce the submission back to the
			// login surface before declaring victory.
			current, err := surface.CurrentURL(ctx)
			if err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "verify destination", err)
			}
			if strings.Contains(current, loginPathFragment) {
				return nil, models.NewPipelineError(models.ErrorKindAuthStructural, "verify destination",
					fmt.Errorf("credentials rejected: still on login surface at %s", current))
			}

			cookies, err := surface.Cookies(ctx)
			if err != nil {
				return nil, models.NewPipelineError(models.ErrorKindTransientNetwork, "capture cookies", err)
			}

			return &models.Credential{
				Username:   cred.Username,
				Password:   cred.Password,
				Cookies:    cookies,
				Tokens:     cred.Tokens,
				UserAgent:  cred.UserAgent,
				CapturedAt: time.Now(),
			}, nil

		default:
			return nil, models.NewPipelineError(models.ErrorKindAuthStructural, "state machine",
				fmt.Errorf("unexpected state %s", state))
		}
	}
}

// detectVariant inspects the presented surface and selects exactly one login
// branch. Selection is structural: the remembered-account affordance wins,
// then a password field without a username field, then the full form. No
// known variant is a terminal failure.
func (s *Service) detectVariant(ctx context.Context, surface Surface) (State, error) {
	remembered, err := surface.Exists(ctx, selRememberedAccount)
	if err != nil {
		return StateFailed, models.NewPipelineError(models.ErrorKindTransientNetwork, "detect variant", err)
	}
	if remembered {
		return StateRemembered, nil
	}

	hasPassword, err := surface.Exists(ctx, selPasswordField)
	if err != nil {
		return StateFailed, models.NewPipelineError(models.ErrorKindTransientNetwork, "detect variant", err)
	}
	hasUsername, err := surface.Exists(ctx, selUsernameField)
	if err != nil {
		return StateFailed, models.NewPipelineError(models.ErrorKindTransientNetwork, "detect variant", err)
	}

	switch {
	case hasPassword && !hasUsername:
		return StatePasswordOnly, nil
	case hasPassword && hasUsername:
		return StateFullForm, nil
	default:
		return StateFailed, models.NewPipelineError(models.ErrorKindAuthStructural, "detect variant",
			fmt.Errorf("no known login variant matched the presented surface"))
	}
}

// awaitChallenge blocks at the challenge gate for an externally supplied code
// within the configured timeout, then submits it through the surface.
func (s *Service) awaitChallenge(ctx context.Context, gateKey string, surface Surface) error {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.pending[gateKey] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, gateKey)
		s.mu.Unlock()
	}()

	s.logger.Info().
		Str("gate", gateKey).
		Dur("timeout", s.cfg.ChallengeTimeout).
		Msg("Step-up challenge presented, awaiting code")

	timer := time.NewTimer(s.cfg.ChallengeTimeout)
	defer timer.Stop()

	select {
	case code := <-ch:
		if err := surface.Type(ctx, selChallengeInput, code); err != nil {
			return models.NewPipelineError(models.ErrorKindTransientNetwork, "challenge entry", err)
		}
		if err := surface.Click(ctx, selChallengeSubmit); err != nil {
			return models.NewPipelineError(models.ErrorKindTransientNetwork, "challenge submit", err)
		}
		return nil
	case <-timer.C:
		return models.NewPipelineError(models.ErrorKindAuthStructural, "challenge gate",
			fmt.Errorf("challenge unresolved within %s", s.cfg.ChallengeTimeout))
	case <-ctx.Done():
		return models.NewPipelineError(models.ErrorKindTransientNetwork, "challenge gate", ctx.Err())
	}
}

// navigateWithRetry retries transient navigation failures a bounded number of
// times with linear backoff before surfacing the failure.
func (s *Service) navigateWithRetry(ctx context.Context, surface Surface, url string) error {
	attempts := s.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * s.cfg.RetryBackoff
			s.logger.Debug().
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Retrying navigation after backoff")

			select {
			case <-ctx.Done():
				return models.NewPipelineError(models.ErrorKindTransientNetwork, "navigate", ctx.Err())
			case <-time.After(backoff):
			}
		}

		if lastErr = surface.Navigate(ctx, url); lastErr == nil {
			return nil
		}
	}

	return models.NewPipelineError(models.ErrorKindTransientNetwork, "navigate",
		fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr))
}

// establishedSession returns the tenant's newest active healthy session, or
// nil when none qualifies.
func (s *Service) establishedSession(ctx context.Context, tenantID string) *models.Session {
	sessions, err := s.sessions.ListSessions(ctx, &interfaces.ListOptions{TenantID: tenantID})
	if err != nil {
		return nil
	}
	now := time.Now()
	for _, session := range sessions {
		if session.Status == models.SessionStatusActive &&
			session.Health == models.SessionHealthHealthy &&
			!session.IsExpired(now) {
			return session
		}
	}
	return nil
}
