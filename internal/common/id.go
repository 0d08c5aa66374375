package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique session ID with the "ses_" prefix
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewJobID generates a unique extraction job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}
