package rotation

import (
	"context"
	"fmt"
	"strings"

	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

// finishSecret moves CURRENT onto the token in one store call, removing it from
// the version that held it.
func (o *Orchestrator) finishSecret(ctx context.Context, req Request, log *logging.Logger) (Outcome, error) {
	log.Info("finishSecret started")

	meta, err := o.store.DescribeSecret(ctx, req.SecretID)
	if err != nil {
		return Outcome{}, fmt.Errorf("describe secret %s: %w", req.SecretID, err)
	}
	if len(meta.Versions) == 0 {
		return Outcome{}, fmt.Errorf("%w: %s", ErrMissingMetadata, req.SecretID)
	}

	// Scan every version: map order is not meaningful, and the token may sort
	// after the old CURRENT holder.
	var holders []string
	for _, versionID := range meta.CurrentVersions() {
		if versionID == req.Token {
			log.Info("version already holds CURRENT, skipping stage move")
			return o.outcome(req, ActionSkipped, "version already CURRENT"), nil
		}
		holders = append(holders, versionID)
	}

	switch len(holders) {
	case 0:
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoCurrentVersionFound, req.SecretID)
	case 1:
	default:
		return Outcome{}, fmt.Errorf("%w: %s (%s)", ErrMultipleCurrentVersions, req.SecretID, strings.Join(holders, ", "))
	}

	currentVersion := holders[0]
	if err := o.store.UpdateSecretVersionStage(ctx, req.SecretID, secretstore.StageCurrent, req.Token, currentVersion); err != nil {
		return Outcome{}, fmt.Errorf("move CURRENT from %s to %s: %w", currentVersion, req.Token, err)
	}

	log.Info("finishSecret completed, CURRENT moved from %s to %s", currentVersion, req.Token)
	return o.outcome(req, ActionExecuted, ""), nil
}
