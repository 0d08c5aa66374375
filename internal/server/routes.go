package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Sessions (vault + authentication state machine)
	mux.HandleFunc("/api/sessions", s.handleSessionsRoute)                                // GET (list), POST (connect)
	mux.HandleFunc("/api/sessions/challenge", s.app.SessionHandler.SubmitChallengeHandler) // POST - resolve step-up challenge
	mux.HandleFunc("/api/sessions/", s.app.SessionHandler.SessionRoutesHandler)           // GET/DELETE /{id}, POST /{id}/renew

	// API routes - Extraction jobs
	mux.HandleFunc("/api/extraction-jobs", s.app.JobHandler.JobsHandler)       // GET (list), POST (create)
	mux.HandleFunc("/api/extraction-jobs/", s.app.JobHandler.JobRoutesHandler) // GET /{id}, POST /{id}/cancel

	// API routes - Extracted records
	mux.HandleFunc("/api/records", s.app.RecordHandler.ListRecordsHandler)

	// API routes - Logs
	mux.HandleFunc("/api/logs/recent", s.app.WSHandler.GetRecentLogsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleSessionsRoute dispatches the sessions collection route
func (s *Server) handleSessionsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.SessionHandler.ListSessionsHandler(w, r)
	case http.MethodPost:
		s.app.SessionHandler.ConnectSessionHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
