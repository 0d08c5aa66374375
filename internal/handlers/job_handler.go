package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/services/extraction"
)

// JobHandler handles extraction job API requests.
type JobHandler struct {
	runner     *extraction.Service
	jobStorage interfaces.JobStorage
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(runner *extraction.Service, jobStorage interfaces.JobStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		runner:     runner,
		jobStorage: jobStorage,
		logger:     logger,
	}
}

type createJobRequest struct {
	SessionID string `json:"session_id"`
}

// JobsHandler dispatches the collection route.
// GET /api/extraction-jobs (list), POST /api/extraction-jobs (create)
func (h *JobHandler) JobsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listJobs(w, r)
	case http.MethodPost:
		h.createJob(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *JobHandler) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		WriteError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	job, err := h.runner.CreateJob(r.Context(), req.SessionID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("Failed to create job")
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// listJobs returns jobs filtered by state, session, or tenant.
// GET /api/extraction-jobs?state=running&session_id=...&tenant_id=...&limit=50&offset=0
func (h *JobHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := GetListParams(r)

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		jobs, err := h.jobStorage.ListJobsBySession(ctx, sessionID)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to list jobs for session")
			WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"jobs":  jobs,
			"count": len(jobs),
		})
		return
	}

	opts := &interfaces.ListOptions{
		Limit:    limit,
		Offset:   offset,
		TenantID: r.URL.Query().Get("tenant_id"),
		State:    r.URL.Query().Get("state"),
	}

	jobs, err := h.jobStorage.ListJobs(ctx, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	total, err := h.jobStorage.CountJobs(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count jobs")
		total = len(jobs)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":        jobs,
		"total_count": total,
		"limit":       limit,
		"offset":      offset,
	})
}

// JobRoutesHandler dispatches /api/extraction-jobs/{id} and subpaths.
func (h *JobHandler) JobRoutesHandler(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 3 || pathParts[2] == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}
	jobID := pathParts[2]

	// POST /api/extraction-jobs/{id}/cancel
	if len(pathParts) == 4 && pathParts[3] == "cancel" {
		h.cancelJob(w, r, jobID)
		return
	}

	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	h.getJob(w, r, jobID)
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobStorage.GetJob(r.Context(), jobID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// cancelJob requests cancellation; it takes effect between iterations so the
// job's cursor stays consistent.
func (h *JobHandler) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	job, err := h.jobStorage.GetJob(r.Context(), jobID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	if job.State.Terminal() {
		WriteError(w, http.StatusConflict, "Job already finished")
		return
	}

	h.runner.CancelJob(jobID)
	WriteSuccess(w, "Cancellation requested; takes effect at the next iteration boundary")
}
