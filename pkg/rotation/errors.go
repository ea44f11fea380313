package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/rotator/pkg/secretstore"
)

// Precondition errors reject an attempt before any mutation.
var (
	ErrInvalidRequest   = errors.New("invalid rotation request")
	ErrRotationDisabled = errors.New("rotation is not enabled for secret")
	ErrUnknownVersion   = errors.New("version has no stage in secret")
	ErrNotPending       = errors.New("version is not staged PENDING")
	ErrUnknownStep      = errors.New("unknown rotation step")
)

// State-consistency errors mean the store is in a state the protocol cannot
// continue from.
var (
	ErrNoCurrentSecret         = errors.New("secret has no CURRENT value")
	ErrNoCurrentVersionFound   = errors.New("no version of secret holds CURRENT")
	ErrMultipleCurrentVersions = errors.New("more than one version of secret holds CURRENT")
	ErrMissingMetadata         = errors.New("secret metadata has no version staging")
)

// ErrEmptyCandidate is returned, wrapped in a DownstreamError, when a strategy
// generates an empty value.
var ErrEmptyCandidate = errors.New("strategy generated an empty secret value")

// Kind classifies rotation errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindPrecondition
	KindState
	KindDownstream
	KindTransient
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindState:
		return "state"
	case KindDownstream:
		return "downstream"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Retryable reports whether retrying the same attempt unchanged may succeed.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindDownstream
}

// DownstreamError wraps a failure from a Strategy. The original error stays
// reachable through errors.Is and errors.As.
type DownstreamError struct {
	Step     Step
	Strategy string
	Err      error
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s strategy failed during %s: %v", e.Strategy, e.Step, e.Err)
}

// Unwrap returns the strategy's error.
func (e *DownstreamError) Unwrap() error {
	return e.Err
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var downstream *DownstreamError
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrRotationDisabled),
		errors.Is(err, ErrUnknownVersion),
		errors.Is(err, ErrNotPending),
		errors.Is(err, ErrUnknownStep):
		return KindPrecondition
	case errors.Is(err, ErrNoCurrentSecret),
		errors.Is(err, ErrNoCurrentVersionFound),
		errors.Is(err, ErrMultipleCurrentVersions),
		errors.Is(err, ErrMissingMetadata):
		return KindState
	case errors.As(err, &downstream):
		return KindDownstream
	case secretstore.IsStoreError(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransient
	default:
		return KindUnknown
	}
}
