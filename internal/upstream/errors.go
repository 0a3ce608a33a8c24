package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies an upstream failure for retry and accounting
// decisions. Transient failures are worth one retry; auth failures are
// terminal for the run; rate-limited failures are terminal for the call
// but expected to clear by the next invocation.
type FailureKind string

const (
	FailureTransient   FailureKind = "transient"
	FailureAuth        FailureKind = "auth"
	FailureRateLimited FailureKind = "rate_limited"
)

// PlatformError wraps a failure from the publishing platform.
type PlatformError struct {
	Kind   FailureKind
	Op     string
	Status int
	Err    error
}

func (e *PlatformError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("platform %s: %s (status %d)", e.Op, e.Kind, e.Status)
	}
	return fmt.Sprintf("platform %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// GenerationError wraps a failure from the content producer.
type GenerationError struct {
	Kind   FailureKind
	Tier   string
	Status int
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generation (%s): %s (status %d)", e.Tier, e.Kind, e.Status)
	}
	return fmt.Sprintf("generation (%s): %s: %v", e.Tier, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// EmbeddingError wraps a failure from the embedding service. Callers
// treat it as a degradation signal, never a hard stop.
type EmbeddingError struct {
	Status int
	Err    error
}

func (e *EmbeddingError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedding service status %d", e.Status)
	}
	return fmt.Sprintf("embedding service: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP response code onto a failure kind.
func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	default:
		return FailureTransient
	}
}

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind == FailureTransient
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind == FailureTransient
	}
	return false
}
