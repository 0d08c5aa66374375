package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// JobState is the lifecycle state of an extraction job.
type JobState string

const (
	JobStateQueued          JobState = "queued"
	JobStateRunning         JobState = "running"
	JobStatePausedForReauth JobState = "paused_for_reauth"
	JobStateCompleted       JobState = "completed"
	JobStateFailed          JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Cursor is the resumable position within the target list. It is persisted
// after every iteration so a job can resume from exactly where it stopped,
// and travels over the API as an opaque token.
type Cursor struct {
	PageOffset  int `json:"page_offset"`
	ScrollDepth int `json:"scroll_depth"`
	SeenCount   int `json:"seen_count"`
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Encode. An empty token is the
// zero cursor.
func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	if token == "" {
		return c, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("invalid cursor token: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("invalid cursor token: %w", err)
	}
	return c, nil
}

// ExtractionJob is one harvest of a session's target list. Cursor and the
// counters form a durable checkpoint written after every iteration.
type ExtractionJob struct {
	ID                    string    `json:"id" badgerhold:"key"`
	SessionID             string    `json:"session_id" badgerhold:"index"`
	TenantID              string    `json:"tenant_id" badgerhold:"index"`
	State                 JobState  `json:"state" badgerhold:"index"`
	Cursor                Cursor    `json:"cursor"`
	TargetTotal           int       `json:"target_total"`
	RecordsFound          int       `json:"records_found"`
	ConsecutiveEmptyIters int       `json:"consecutive_empty_iters"`
	FailedIterations      int       `json:"failed_iterations"`
	ReauthCount           int       `json:"reauth_count"`
	LastObservation       string    `json:"last_observation,omitempty"`
	Error                 string    `json:"error,omitempty"`
	StartedAt             time.Time `json:"started_at,omitempty"`
	CompletedAt           time.Time `json:"completed_at,omitempty"`
	LastProgress          time.Time `json:"last_progress,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Exhausted reports whether the stopping rule has been met: the target count
// has been reached, or the configured number of consecutive iterations
// produced no new records.
func (j *ExtractionJob) Exhausted(emptyThreshold int) bool {
	if j.TargetTotal > 0 && j.RecordsFound >= j.TargetTotal {
		return true
	}
	return emptyThreshold > 0 && j.ConsecutiveEmptyIters >= emptyThreshold
}

// Idle reports whether the job has gone the whole window without forward
// progress.
func (j *ExtractionJob) Idle(now time.Time, window time.Duration) bool {
	if window <= 0 || j.LastProgress.IsZero() {
		return false
	}
	return now.Sub(j.LastProgress) > window
}
