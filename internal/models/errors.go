package models

import (
	"errors"
	"fmt"
)

// ErrorKind partitions pipeline failures by how they must be handled.
type ErrorKind string

const (
	// ErrorKindTransientNetwork is retryable with backoff.
	ErrorKindTransientNetwork ErrorKind = "transient_network"
	// ErrorKindSessionInvalidated means the session's cookies stopped being
	// honored; recovery is re-authentication, not retry.
	ErrorKindSessionInvalidated ErrorKind = "session_invalidated"
	// ErrorKindAuthStructural means the login surface changed shape or the
	// credentials were rejected; no retry can help.
	ErrorKindAuthStructural ErrorKind = "auth_structural"
	// ErrorKindExtractionStructural means a page rendered but no strategy
	// could read it; the page is skipped, the job continues.
	ErrorKindExtractionStructural ErrorKind = "extraction_structural"
)

// PipelineError tags a failure with its handling kind and the operation that
// produced it.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError wraps err with its handling kind.
func NewPipelineError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the handling kind of err. Untagged errors default to
// transient so unknown failures get the conservative retry path.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindTransientNetwork
}

// IsKind reports whether err carries the given handling kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Kind == kind
}
