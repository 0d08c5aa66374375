package egress

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// DirectIdentity is returned when the configured pool is empty: every session
// egresses from the host's own address.
const DirectIdentity = "direct"

// Router assigns network egress identities to sessions. A binding is sticky:
// once made, the same identity is reused for the session's whole lifetime, so
// the remote platform observes one consistent origin per session. Identity
// hopping mid-session is itself a strong anomaly signal.
type Router struct {
	mu       sync.Mutex
	pool     []string
	bindings map[string]string // session id -> identity
	inUse    map[string]int    // identity -> binding count
	logger   arbor.ILogger
}

// NewRouter creates an identity router over the configured pool.
func NewRouter(identities []string, logger arbor.ILogger) *Router {
	return &Router{
		pool:     append([]string(nil), identities...),
		bindings: make(map[string]string),
		inUse:    make(map[string]int),
		logger:   logger,
	}
}

// Bind returns the session's sticky identity, selecting the least-loaded pool
// entry on first bind. With an empty pool every session binds to direct
// egress.
func (r *Router) Bind(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if identity, ok := r.bindings[sessionID]; ok {
		return identity, nil
	}

	identity := DirectIdentity
	if len(r.pool) > 0 {
		identity = r.pool[0]
		for _, candidate := range r.pool[1:] {
			if r.inUse[candidate] < r.inUse[identity] {
				identity = candidate
			}
		}
	}

	r.bindings[sessionID] = identity
	r.inUse[identity]++

	r.logger.Info().
		Str("session_id", sessionID).
		Str("identity", identity).
		Msg("Egress identity bound")

	return identity, nil
}

// Bound returns the current binding without creating one.
func (r *Router) Bound(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.bindings[sessionID]
	return identity, ok
}

// Release frees the identity when the session is destroyed. The binding is
// exclusive to its session until then.
func (r *Router) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.bindings[sessionID]
	if !ok {
		return
	}
	delete(r.bindings, sessionID)
	if r.inUse[identity] > 0 {
		r.inUse[identity]--
	}

	r.logger.Debug().
		Str("session_id", sessionID).
		Str("identity", identity).
		Msg("Egress identity released")
}
