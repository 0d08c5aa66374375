package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// RecordHandler serves the extracted relationship records.
type RecordHandler struct {
	records interfaces.RecordStorage
	logger  arbor.ILogger
}

// NewRecordHandler creates a new record handler.
func NewRecordHandler(records interfaces.RecordStorage, logger arbor.ILogger) *RecordHandler {
	return &RecordHandler{records: records, logger: logger}
}

// ListRecordsHandler returns a tenant's extracted records, newest first.
// GET /api/records?tenant_id=acme&limit=50&offset=0
func (h *RecordHandler) ListRecordsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		WriteError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	limit, offset := GetListParams(r)
	opts := &interfaces.ListOptions{
		Limit:    limit,
		Offset:   offset,
		TenantID: tenantID,
	}

	records, err := h.records.ListRecords(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to list records")
		WriteError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}

	total, err := h.records.CountRecords(r.Context(), tenantID)
	if err != nil {
		h.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to count records")
		total = len(records)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records":     records,
		"total_count": total,
		"limit":       limit,
		"offset":      offset,
	})
}
