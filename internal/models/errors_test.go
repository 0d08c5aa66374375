package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestPipelineError(t *testing.T) {
	base := errors.New("connection reset")
	err := NewPipelineError(ErrorKindTransientNetwork, "fetch page", base)

	t.Run("Error message carries kind and operation", func(t *testing.T) {
		msg := err.Error()
		if msg != "transient_network: fetch page: connection reset" {
			t.Errorf("Unexpected message: %s", msg)
		}
	})

	t.Run("Unwraps to the cause", func(t *testing.T) {
		if !errors.Is(err, base) {
			t.Error("Expected the cause to be reachable through Unwrap")
		}
	})

	t.Run("Kind survives further wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("iteration failed: %w", err)
		if !IsKind(wrapped, ErrorKindTransientNetwork) {
			t.Error("Expected the kind to be detectable through wrapping")
		}
		if IsKind(wrapped, ErrorKindAuthStructural) {
			t.Error("Expected only the tagged kind to match")
		}
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{
			"Tagged structural",
			NewPipelineError(ErrorKindAuthStructural, "login", errors.New("no variant matched")),
			ErrorKindAuthStructural,
		},
		{
			"Tagged invalidation",
			NewPipelineError(ErrorKindSessionInvalidated, "fetch", errors.New("redirected to login")),
			ErrorKindSessionInvalidated,
		},
		{
			"Untagged defaults to transient",
			errors.New("something odd"),
			ErrorKindTransientNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %s, want %s", got, tt.kind)
			}
		})
	}
}
