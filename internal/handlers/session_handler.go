package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/auth"
)

// SessionHandler handles session lifecycle API requests. Credentials pass
// through request bodies into the vault and never appear in responses or
// logs.
type SessionHandler struct {
	authService *auth.Service
	vault       interfaces.CredentialVault
	sessions    interfaces.SessionStorage
	router      interfaces.IdentityRouter
	logger      arbor.ILogger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(authService *auth.Service, vault interfaces.CredentialVault, sessions interfaces.SessionStorage, router interfaces.IdentityRouter, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		authService: authService,
		vault:       vault,
		sessions:    sessions,
		router:      router,
		logger:      logger,
	}
}

type connectRequest struct {
	TenantID string `json:"tenant_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ConnectSessionHandler establishes an authenticated session for a tenant.
// POST /api/sessions
func (h *SessionHandler) ConnectSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TenantID == "" || req.Username == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "tenant_id, username and password are required")
		return
	}

	session, err := h.authService.Establish(r.Context(), req.TenantID, req.Username, req.Password)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("tenant_id", req.TenantID).
			Msg("Failed to establish session")
		if models.IsKind(err, models.ErrorKindAuthStructural) {
			WriteError(w, http.StatusUnprocessableEntity, "Authentication failed: "+err.Error())
			return
		}
		WriteError(w, http.StatusBadGateway, "Authentication failed: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, session)
}

// ListSessionsHandler returns sessions, optionally filtered by tenant.
// GET /api/sessions?tenant_id=acme&limit=50&offset=0
func (h *SessionHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetListParams(r)
	opts := &interfaces.ListOptions{
		Limit:    limit,
		Offset:   offset,
		TenantID: r.URL.Query().Get("tenant_id"),
	}

	sessions, err := h.sessions.ListSessions(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sessions")
		WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	})
}

// SessionRoutesHandler dispatches /api/sessions/{id} and subpaths.
func (h *SessionHandler) SessionRoutesHandler(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 3 || pathParts[2] == "" {
		WriteError(w, http.StatusBadRequest, "Session ID is required")
		return
	}
	sessionID := pathParts[2]

	// POST /api/sessions/{id}/renew
	if len(pathParts) == 4 && pathParts[3] == "renew" {
		h.renewSession(w, r, sessionID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getSession(w, r, sessionID)
	case http.MethodDelete:
		h.deleteSession(w, r, sessionID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionHandler) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to get session")
		WriteError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

// deleteSession invalidates the vault entry and releases the session's
// egress identity.
func (h *SessionHandler) deleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.vault.Invalidate(r.Context(), sessionID); err != nil {
		if err == interfaces.ErrNotFound {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to invalidate session")
		WriteError(w, http.StatusInternalServerError, "Failed to invalidate session")
		return
	}
	h.router.Release(sessionID)

	h.logger.Info().Str("session_id", sessionID).Msg("Session invalidated")
	WriteSuccess(w, "Session invalidated")
}

// renewSession forces a re-authentication of the session.
func (h *SessionHandler) renewSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	session, err := h.authService.Renew(r.Context(), sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to renew session")
		if models.IsKind(err, models.ErrorKindAuthStructural) {
			WriteError(w, http.StatusUnprocessableEntity, "Renewal failed: "+err.Error())
			return
		}
		WriteError(w, http.StatusBadGateway, "Renewal failed: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

type challengeRequest struct {
	Key  string `json:"key"`
	Code string `json:"code"`
}

// SubmitChallengeHandler delivers a step-up verification code to an
// authentication attempt waiting at the challenge gate.
// POST /api/sessions/challenge
func (h *SessionHandler) SubmitChallengeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Key == "" || req.Code == "" {
		WriteError(w, http.StatusBadRequest, "key and code are required")
		return
	}

	if err := h.authService.SubmitChallenge(req.Key, req.Code); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteSuccess(w, "Challenge code delivered")
}
