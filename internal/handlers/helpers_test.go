package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireMethod(t *testing.T) {
	t.Run("Matching method passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/extraction-jobs", nil)
		if !RequireMethod(w, r, http.MethodPost) {
			t.Error("Expected the matching method to pass")
		}
	})

	t.Run("Mismatched method is rejected with 405", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/extraction-jobs", nil)
		if RequireMethod(w, r, http.MethodPost) {
			t.Error("Expected the mismatched method to fail")
		}
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", w.Code)
		}
	})
}

func TestWriteJSONAndError(t *testing.T) {
	t.Run("WriteJSON sets the content type and status", func(t *testing.T) {
		w := httptest.NewRecorder()
		if err := WriteJSON(w, http.StatusCreated, map[string]string{"id": "job_1"}); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}
		if w.Code != http.StatusCreated {
			t.Errorf("Expected 201, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}
	})

	t.Run("WriteError wraps the message in the standard envelope", func(t *testing.T) {
		w := httptest.NewRecorder()
		if err := WriteError(w, http.StatusConflict, "job already terminal"); err != nil {
			t.Fatalf("WriteError failed: %v", err)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body["status"] != "error" || body["error"] != "job already terminal" {
			t.Errorf("Unexpected envelope: %v", body)
		}
	})
}

func TestGetListParams(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		limit  int
		offset int
	}{
		{"Defaults", "", 50, 0},
		{"Explicit values", "limit=10&offset=20", 10, 20},
		{"Limit capped at 500", "limit=9999", 50, 0},
		{"Negative values ignored", "limit=-1&offset=-5", 50, 0},
		{"Non-numeric ignored", "limit=abc&offset=xyz", 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/records?"+tt.query, nil)
			limit, offset := GetListParams(r)
			if limit != tt.limit || offset != tt.offset {
				t.Errorf("Expected (%d, %d), got (%d, %d)", tt.limit, tt.offset, limit, offset)
			}
		})
	}
}
