package health

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// upgradeStreak is the number of consecutive successful observations required
// before a degraded session reads healthy again. Prevents flapping.
const upgradeStreak = 3

type sessionState struct {
	health    models.SessionHealth
	successes int
}

// Monitor classifies a session's live status from the outcome of its most
// recent interactions. Trust is never assumed to persist between actions: a
// single redirect-to-login observation downgrades the session to invalid
// immediately, regardless of how recently it was established.
type Monitor struct {
	mu       sync.Mutex
	states   map[string]*sessionState
	sessions interfaces.SessionStorage
	logger   arbor.ILogger
}

// NewMonitor creates a session health monitor backed by session storage for
// persisting transitions.
func NewMonitor(sessions interfaces.SessionStorage, logger arbor.ILogger) *Monitor {
	return &Monitor{
		states:   make(map[string]*sessionState),
		sessions: sessions,
		logger:   logger,
	}
}

// Classify folds an observation into the session's health and persists any
// transition. The returned value is the health after the observation.
func (m *Monitor) Classify(ctx context.Context, sessionID string, obs models.Observation) models.SessionHealth {
	m.mu.Lock()
	state, ok := m.states[sessionID]
	if !ok {
		state = &sessionState{health: models.SessionHealthHealthy}
		m.states[sessionID] = state
	}
	prev := state.health

	switch obs.Kind {
	case models.ObservationLoginRedirect:
		// Immediate downgrade. Never takes multiple bad observations.
		state.health = models.SessionHealthInvalid
		state.successes = 0
	case models.ObservationNetworkError, models.ObservationUnrecognized:
		state.successes = 0
		if state.health == models.SessionHealthHealthy {
			state.health = models.SessionHealthDegraded
		}
	case models.ObservationContentRendered:
		switch state.health {
		case models.SessionHealthDegraded:
			state.successes++
			if state.successes >= upgradeStreak {
				state.health = models.SessionHealthHealthy
				state.successes = 0
			}
		case models.SessionHealthInvalid:
			// Invalid does not self-heal from observations; only a completed
			// re-authentication (Reset) restores trust.
		default:
			state.successes = 0
		}
	}

	next := state.health
	m.mu.Unlock()

	if next != prev {
		m.logger.Info().
			Str("session_id", sessionID).
			Str("observation", string(obs.Kind)).
			Str("from", string(prev)).
			Str("to", string(next)).
			Msg("Session health transition")

		if err := m.sessions.UpdateHealth(ctx, sessionID, next); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist health transition")
		}
	}

	return next
}

// Health returns the monitor's current reading for a session.
func (m *Monitor) Health(sessionID string) models.SessionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[sessionID]; ok {
		return state.health
	}
	return models.SessionHealthHealthy
}

// Reset restores a session to healthy after a completed re-authentication.
func (m *Monitor) Reset(ctx context.Context, sessionID string) {
	m.mu.Lock()
	m.states[sessionID] = &sessionState{health: models.SessionHealthHealthy}
	m.mu.Unlock()

	if err := m.sessions.UpdateHealth(ctx, sessionID, models.SessionHealthHealthy); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist health reset")
	}
}

// Forget drops in-memory state for a destroyed session.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
}
