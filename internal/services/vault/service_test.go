package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

type fakeSessionStorage struct {
	sessions map[string]*models.Session
}

func newFakeSessionStorage() *fakeSessionStorage {
	return &fakeSessionStorage{sessions: make(map[string]*models.Session)}
}

func (f *fakeSessionStorage) SaveSession(_ context.Context, session *models.Session) error {
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionStorage) GetSession(_ context.Context, id string) (*models.Session, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStorage) ListSessions(_ context.Context, _ *interfaces.ListOptions) ([]*models.Session, error) {
	var out []*models.Session
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSessionStorage) UpdateHealth(_ context.Context, id string, health models.SessionHealth) error {
	session, ok := f.sessions[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	session.Health = health
	return nil
}

func (f *fakeSessionStorage) UpdateStatus(_ context.Context, id string, status models.SessionStatus) error {
	session, ok := f.sessions[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	session.Status = status
	return nil
}

func (f *fakeSessionStorage) AddExtractionCount(_ context.Context, id string, n int) error {
	return nil
}

func (f *fakeSessionStorage) ListExpiredActive(_ context.Context, now time.Time) ([]*models.Session, error) {
	var out []*models.Session
	for _, s := range f.sessions {
		if s.Status == models.SessionStatusActive && s.IsExpired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestService(t *testing.T, storage interfaces.SessionStorage, ttl time.Duration) *Service {
	t.Helper()
	svc, err := NewService(&common.VaultConfig{Key: testKey}, ttl, storage, arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func testCredential() *models.Credential {
	return &models.Credential{
		Username:   "jane@example.com",
		Password:   "hunter2-secret",
		UserAgent:  "Mozilla/5.0",
		CapturedAt: time.Now().UTC().Truncate(time.Second),
		Cookies: []models.Cookie{
			{Name: "auth_token", Value: "tok-abc", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true},
		},
	}
}

func TestService_StoreAndLoad(t *testing.T) {
	storage := newFakeSessionStorage()
	svc := newTestService(t, storage, time.Hour)
	ctx := context.Background()

	sessionID, err := svc.Store(ctx, "tenant-a", testCredential())
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if sessionID == "" {
		t.Fatal("Expected a session ID")
	}

	t.Run("Load round-trips the credential", func(t *testing.T) {
		cred, err := svc.Load(ctx, sessionID)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cred.Username != "jane@example.com" || cred.Password != "hunter2-secret" {
			t.Error("Expected decrypted credential to match the original")
		}
		if len(cred.Cookies) != 1 || cred.Cookies[0].Value != "tok-abc" {
			t.Error("Expected cookies to survive the round trip")
		}
	})

	t.Run("Session row holds only ciphertext", func(t *testing.T) {
		session := storage.sessions[sessionID]
		if bytes.Contains(session.CredentialBlob, []byte("hunter2-secret")) {
			t.Error("Plaintext password found inside the stored blob")
		}
		if bytes.Contains(session.CredentialBlob, []byte("jane@example.com")) {
			t.Error("Plaintext username found inside the stored blob")
		}
		if bytes.Contains(session.CredentialBlob, []byte(testKey)) {
			t.Error("Key material found inside the stored blob")
		}
	})

	t.Run("Session metadata is populated", func(t *testing.T) {
		session := storage.sessions[sessionID]
		if session.TenantID != "tenant-a" {
			t.Errorf("Expected tenant-a, got %s", session.TenantID)
		}
		if session.Status != models.SessionStatusActive || session.Health != models.SessionHealthHealthy {
			t.Error("Expected new session to be active and healthy")
		}
		if !session.ExpiresAt.After(time.Now()) {
			t.Error("Expected a future expiry")
		}
	})

	t.Run("Missing tenant is rejected", func(t *testing.T) {
		if _, err := svc.Store(ctx, "", testCredential()); err == nil {
			t.Error("Expected error for empty tenant ID")
		}
	})
}

func TestService_Update(t *testing.T) {
	storage := newFakeSessionStorage()
	svc := newTestService(t, storage, time.Hour)
	ctx := context.Background()

	sessionID, err := svc.Store(ctx, "tenant-a", testCredential())
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	originalExpiry := storage.sessions[sessionID].ExpiresAt

	renewed := testCredential()
	renewed.Cookies[0].Value = "tok-renewed"
	if err := svc.Update(ctx, sessionID, renewed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	t.Run("Renewed artifact is loadable", func(t *testing.T) {
		cred, err := svc.Load(ctx, sessionID)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cred.Cookies[0].Value != "tok-renewed" {
			t.Errorf("Expected renewed cookie value, got %s", cred.Cookies[0].Value)
		}
	})

	t.Run("Renewal does not extend the TTL ceiling", func(t *testing.T) {
		if !storage.sessions[sessionID].ExpiresAt.Equal(originalExpiry) {
			t.Error("Expected ExpiresAt untouched by renewal")
		}
	})

	t.Run("Expired session refuses renewal", func(t *testing.T) {
		storage.sessions[sessionID].ExpiresAt = time.Now().Add(-time.Minute)
		if err := svc.Update(ctx, sessionID, renewed); !errors.Is(err, interfaces.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for expired session, got %v", err)
		}
	})
}

func TestService_LoadPastTTL(t *testing.T) {
	storage := newFakeSessionStorage()
	svc := newTestService(t, storage, time.Hour)
	ctx := context.Background()

	sessionID, err := svc.Store(ctx, "tenant-a", testCredential())
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	storage.sessions[sessionID].ExpiresAt = time.Now().Add(-time.Minute)
	if _, err := svc.Load(ctx, sessionID); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected ErrNotFound past the TTL, got %v", err)
	}
}

func TestService_Invalidate(t *testing.T) {
	storage := newFakeSessionStorage()
	svc := newTestService(t, storage, time.Hour)
	ctx := context.Background()

	sessionID, err := svc.Store(ctx, "tenant-a", testCredential())
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if err := svc.Invalidate(ctx, sessionID); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if storage.sessions[sessionID].Status != models.SessionStatusExpired {
		t.Error("Expected session marked expired")
	}
}

func TestNewService_KeyValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"Empty key", ""},
		{"Non-hex key", "zz0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1ezz"},
		{"Short key", "0001020304"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(&common.VaultConfig{Key: tt.key}, time.Hour, newFakeSessionStorage(), arbor.NewLogger())
			if err == nil {
				t.Error("Expected key validation error")
			}
		})
	}
}
