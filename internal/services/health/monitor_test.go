package health

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

type fakeSessionStorage struct {
	health map[string]models.SessionHealth
}

func newFakeSessionStorage() *fakeSessionStorage {
	return &fakeSessionStorage{health: make(map[string]models.SessionHealth)}
}

func (f *fakeSessionStorage) SaveSession(_ context.Context, _ *models.Session) error { return nil }
func (f *fakeSessionStorage) GetSession(_ context.Context, _ string) (*models.Session, error) {
	return nil, interfaces.ErrNotFound
}
func (f *fakeSessionStorage) ListSessions(_ context.Context, _ *interfaces.ListOptions) ([]*models.Session, error) {
	return nil, nil
}
func (f *fakeSessionStorage) UpdateHealth(_ context.Context, id string, health models.SessionHealth) error {
	f.health[id] = health
	return nil
}
func (f *fakeSessionStorage) UpdateStatus(_ context.Context, _ string, _ models.SessionStatus) error {
	return nil
}
func (f *fakeSessionStorage) AddExtractionCount(_ context.Context, _ string, _ int) error {
	return nil
}
func (f *fakeSessionStorage) ListExpiredActive(_ context.Context, _ time.Time) ([]*models.Session, error) {
	return nil, nil
}

func obs(kind models.ObservationKind) models.Observation {
	return models.Observation{Kind: kind, ObservedAt: time.Now()}
}

func TestMonitor_Classify(t *testing.T) {
	ctx := context.Background()

	t.Run("Login redirect invalidates immediately", func(t *testing.T) {
		storage := newFakeSessionStorage()
		m := NewMonitor(storage, arbor.NewLogger())

		got := m.Classify(ctx, "ses_1", obs(models.ObservationLoginRedirect))
		if got != models.SessionHealthInvalid {
			t.Errorf("Expected invalid, got %s", got)
		}
		if storage.health["ses_1"] != models.SessionHealthInvalid {
			t.Error("Expected the transition to be persisted")
		}
	})

	t.Run("Network error degrades a healthy session", func(t *testing.T) {
		storage := newFakeSessionStorage()
		m := NewMonitor(storage, arbor.NewLogger())

		got := m.Classify(ctx, "ses_1", obs(models.ObservationNetworkError))
		if got != models.SessionHealthDegraded {
			t.Errorf("Expected degraded, got %s", got)
		}
	})

	t.Run("Unrecognized content degrades a healthy session", func(t *testing.T) {
		m := NewMonitor(newFakeSessionStorage(), arbor.NewLogger())

		got := m.Classify(ctx, "ses_1", obs(models.ObservationUnrecognized))
		if got != models.SessionHealthDegraded {
			t.Errorf("Expected degraded, got %s", got)
		}
	})

	t.Run("Network error does not promote invalid to degraded", func(t *testing.T) {
		m := NewMonitor(newFakeSessionStorage(), arbor.NewLogger())

		m.Classify(ctx, "ses_1", obs(models.ObservationLoginRedirect))
		got := m.Classify(ctx, "ses_1", obs(models.ObservationNetworkError))
		if got != models.SessionHealthInvalid {
			t.Errorf("Expected invalid to stick, got %s", got)
		}
	})

	t.Run("Degraded recovers only after a streak of successes", func(t *testing.T) {
		m := NewMonitor(newFakeSessionStorage(), arbor.NewLogger())

		m.Classify(ctx, "ses_1", obs(models.ObservationNetworkError))
		for i := 0; i < upgradeStreak-1; i++ {
			if got := m.Classify(ctx, "ses_1", obs(models.ObservationContentRendered)); got != models.SessionHealthDegraded {
				t.Fatalf("Expected degraded after %d successes, got %s", i+1, got)
			}
		}
		if got := m.Classify(ctx, "ses_1", obs(models.ObservationContentRendered)); got != models.SessionHealthHealthy {
			t.Errorf("Expected healthy after %d successes, got %s", upgradeStreak, got)
		}
	})

	t.Run("Failure mid-streak resets the counter", func(t *testing.T) {
		m := NewMonitor(newFakeSessionStorage(), arbor.NewLogger())

		m.Classify(ctx, "ses_1", obs(models.ObservationNetworkError))
		m.Classify(ctx, "ses_1", obs(models.ObservationContentRendered))
		m.Classify(ctx, "ses_1", obs(models.ObservationContentRendered))
		m.Classify(ctx, "ses_1", obs(models.ObservationNetworkError))

		for i := 0; i < upgradeStreak-1; i++ {
			if got := m.Classify(ctx, "ses_1", obs(models.ObservationContentRendered)); got != models.SessionHealthDegraded {
				t.Fatalf("Expected degraded while the streak rebuilds, got %s", got)
			}
		}
	})

	t.Run("Invalid does not self-heal from observations", func(t *testing.T) {
		m := NewMonitor(newFakeSessionStorage(), arbor.NewLogger())

		m.Classify(ctx, "ses_1", obs(models.ObservationLoginRedirect))
		for i := 0; i < upgradeStreak+2; i++ {
			if got := m.Classify(ctx, "ses_1", obs(models.ObservationContentRendered)); got != models.SessionHealthInvalid {
				t.Fatalf("Expected invalid to persist, got %s", got)
			}
		}
	})
}

func TestMonitor_Reset(t *testing.T) {
	ctx := context.Background()
	storage := newFakeSessionStorage()
	m := NewMonitor(storage, arbor.NewLogger())

	m.Classify(ctx, "ses_1", obs(models.ObservationLoginRedirect))
	m.Reset(ctx, "ses_1")

	if got := m.Health("ses_1"); got != models.SessionHealthHealthy {
		t.Errorf("Expected healthy after reset, got %s", got)
	}
	if storage.health["ses_1"] != models.SessionHealthHealthy {
		t.Error("Expected the reset to be persisted")
	}
}

func TestMonitor_HealthAndForget(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(newFakeSessionStorage(), arbor.NewLogger())

	t.Run("Unknown sessions read healthy", func(t *testing.T) {
		if got := m.Health("ses_unknown"); got != models.SessionHealthHealthy {
			t.Errorf("Expected healthy default, got %s", got)
		}
	})

	t.Run("Forget drops tracked state", func(t *testing.T) {
		m.Classify(ctx, "ses_1", obs(models.ObservationLoginRedirect))
		m.Forget("ses_1")
		if got := m.Health("ses_1"); got != models.SessionHealthHealthy {
			t.Errorf("Expected healthy after forget, got %s", got)
		}
	})
}
