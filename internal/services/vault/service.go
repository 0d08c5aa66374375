package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service is the credential vault: it encrypts session artifacts with
// AES-256-GCM under a process-wide key and persists them as sessions. The key
// lives in configuration only; it is never written beside the ciphertext and
// plaintext credentials are never logged.
type Service struct {
	aead       cipher.AEAD
	sessions   interfaces.SessionStorage
	sessionTTL time.Duration
	logger     arbor.ILogger
}

// NewService creates a credential vault from the configured hex key.
func NewService(cfg *common.VaultConfig, sessionTTL time.Duration, sessions interfaces.SessionStorage, logger arbor.ILogger) (*Service, error) {
	key, err := hex.DecodeString(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault AEAD: %w", err)
	}

	return &Service{
		aead:       aead,
		sessions:   sessions,
		sessionTTL: sessionTTL,
		logger:     logger,
	}, nil
}

// Store encrypts the credential, creates the session row with a fresh TTL,
// and returns the new session id.
func (s *Service) Store(ctx context.Context, tenantID string, cred *models.Credential) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenant ID is required")
	}

	blob, err := s.seal(cred)
	if err != nil {
		return "", err
	}

	now := time.Now()
	session := &models.Session{
		ID:             common.NewSessionID(),
		TenantID:       tenantID,
		CredentialBlob: blob,
		Status:         models.SessionStatusActive,
		Health:         models.SessionHealthHealthy,
		ExpiresAt:      now.Add(s.sessionTTL),
		CreatedAt:      now,
	}

	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("tenant_id", tenantID).
		Str("expires_at", session.ExpiresAt.Format(time.RFC3339)).
		Msg("Credential stored")

	return session.ID, nil
}

// Update re-encrypts a renewed credential for an existing session. ExpiresAt
// is left untouched: the TTL is an absolute ceiling renewal cannot extend.
func (s *Service) Update(ctx context.Context, sessionID string, cred *models.Credential) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsExpired(time.Now()) {
		return interfaces.ErrNotFound
	}

	blob, err := s.seal(cred)
	if err != nil {
		return err
	}

	session.CredentialBlob = blob
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to persist renewed credential: %w", err)
	}

	s.logger.Info().Str("session_id", sessionID).Msg("Credential renewed")
	return nil
}

// Load decrypts and returns the credential for a session. A session past its
// TTL reports ErrNotFound even though the ciphertext is technically present —
// the TTL invariant is enforced here at the read boundary rather than relying
// on callers to check timestamps.
func (s *Service) Load(ctx context.Context, sessionID string) (*models.Credential, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(time.Now()) {
		return nil, interfaces.ErrNotFound
	}

	cred, err := s.open(session.CredentialBlob)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Invalidate marks the session expired. The ciphertext stays for audit but is
// never again loadable.
func (s *Service) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.sessions.UpdateStatus(ctx, sessionID, models.SessionStatusExpired); err != nil {
		return err
	}
	s.logger.Info().Str("session_id", sessionID).Msg("Session invalidated")
	return nil
}

// seal encrypts a credential to nonce||ciphertext.
func (s *Service) seal(cred *models.Credential) ([]byte, error) {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a nonce||ciphertext blob.
func (s *Service) open(blob []byte) (*models.Credential, error) {
	if len(blob) < s.aead.NonceSize() {
		return nil, fmt.Errorf("credential blob too short")
	}

	nonce, ciphertext := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	var cred models.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}
