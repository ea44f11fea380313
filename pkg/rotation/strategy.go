package rotation

import (
	"context"
	"fmt"

	"github.com/systmms/rotator/pkg/secretstore"
)

// Target identifies the secret version a strategy acts on, together with the
// store holding it.
type Target struct {
	Store    secretstore.Client
	SecretID string
	Token    string
}

// Strategy supplies the downstream-service-specific phases. One implementation
// exists per kind of credential (database user, API key, ...).
//
// Every method may be invoked more than once for the same Target and must
// tolerate that: SetSecret must not fail or do harm when the candidate is
// already applied, and TestSecret must return an error whenever the candidate
// cannot be proven to work.
type Strategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string

	// GenerateSecret produces a new candidate value. It is called only when no
	// PENDING value exists for the token yet.
	GenerateSecret(ctx context.Context, t Target) (string, error)

	// SetSecret applies the PENDING value to the downstream service.
	SetSecret(ctx context.Context, t Target) error

	// TestSecret verifies the PENDING value against the downstream service.
	TestSecret(ctx context.Context, t Target) error
}

// Current returns the CURRENT value of the target secret.
func (t Target) Current(ctx context.Context) (secretstore.SecretValue, error) {
	return t.Store.GetSecretValue(ctx, t.SecretID, secretstore.ValueSelector{Stage: secretstore.StageCurrent})
}

// Pending returns the value staged PENDING at the target token.
func (t Target) Pending(ctx context.Context) (secretstore.SecretValue, error) {
	return t.Store.GetSecretValue(ctx, t.SecretID, secretstore.ValueSelector{
		VersionID: t.Token,
		Stage:     secretstore.StagePending,
	})
}

// Previous returns the PREVIOUS value of the target secret.
func (t Target) Previous(ctx context.Context) (secretstore.SecretValue, error) {
	return t.Store.GetSecretValue(ctx, t.SecretID, secretstore.ValueSelector{Stage: secretstore.StagePrevious})
}

// String renders the target for logs.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.SecretID, t.Token)
}
