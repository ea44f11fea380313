package rotation

import (
	"context"
	"fmt"

	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

// createSecret ensures a PENDING value exists for the token. An existing value
// is never overwritten.
func (o *Orchestrator) createSecret(ctx context.Context, req Request, target Target, log *logging.Logger) (Outcome, error) {
	log.Info("createSecret started")

	current, err := target.Current(ctx)
	switch {
	case secretstore.IsNotFound(err):
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoCurrentSecret, req.SecretID)
	case err != nil:
		return Outcome{}, fmt.Errorf("read CURRENT of %s: %w", req.SecretID, err)
	case current.Value == "":
		return Outcome{}, fmt.Errorf("%w: %s has an empty CURRENT value", ErrNoCurrentSecret, req.SecretID)
	}

	if done, err := o.pendingExists(ctx, target); err != nil {
		return Outcome{}, err
	} else if done {
		log.Info("PENDING value already staged, skipping generation")
		return o.outcome(req, ActionSkipped, "PENDING value already staged"), nil
	}

	value, err := o.strategy.GenerateSecret(ctx, target)
	if err != nil {
		return Outcome{}, &DownstreamError{Step: StepCreate, Strategy: o.strategy.Name(), Err: err}
	}
	if value == "" {
		return Outcome{}, &DownstreamError{Step: StepCreate, Strategy: o.strategy.Name(), Err: ErrEmptyCandidate}
	}
	log.Debug("generated candidate %s", logging.Secret(value))

	err = o.store.PutSecretValue(ctx, req.SecretID, req.Token, value, secretstore.StagePending)
	if secretstore.IsConflict(err) {
		// A concurrent invocation for the same token wrote first. Its value
		// stands as long as the store now reports it.
		if done, lookupErr := o.pendingExists(ctx, target); lookupErr == nil && done {
			log.Warn("concurrent createSecret staged PENDING first, keeping its value")
			return o.outcome(req, ActionSkipped, "PENDING value staged concurrently"), nil
		}
		return Outcome{}, fmt.Errorf("stage PENDING for %s: %w", req.Token, err)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("stage PENDING for %s: %w", req.Token, err)
	}

	log.Info("createSecret completed, new value staged PENDING")
	return o.outcome(req, ActionExecuted, ""), nil
}

// pendingExists reports whether a value is already staged PENDING at the
// target token. Only a not-found lookup means "not yet".
func (o *Orchestrator) pendingExists(ctx context.Context, target Target) (bool, error) {
	_, err := target.Pending(ctx)
	switch {
	case err == nil:
		return true, nil
	case secretstore.IsNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("read PENDING of %s: %w", target, err)
	}
}
