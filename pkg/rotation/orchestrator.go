package rotation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

// Orchestrator validates rotation requests against the store's staging
// metadata and runs the requested phase. It holds no state between calls and
// is safe for concurrent use.
type Orchestrator struct {
	store    secretstore.Client
	strategy Strategy
	logger   *logging.Logger
	metrics  Metrics
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New creates an Orchestrator for store driven by strategy.
func New(store secretstore.Client, strategy Strategy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		strategy: strategy,
		logger:   logging.Discard(),
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Strategy returns the injected strategy.
func (o *Orchestrator) Strategy() Strategy {
	return o.strategy
}

// Handle runs exactly one rotation phase for req.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Outcome, error) {
	req.Step = Step(strings.TrimSpace(string(req.Step)))
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}

	log := o.logger.With(map[string]string{
		"secret": req.SecretID,
		"token":  req.Token,
		"step":   string(req.Step),
	})

	start := o.now()
	o.metrics.StepStarted(req.Step, o.strategy.Name())

	outcome, err := o.dispatch(ctx, req, log)
	if err != nil {
		log.Error("%s failed (%s): %v", req.Step, KindOf(err), err)
	}
	o.metrics.StepCompleted(req.Step, o.strategy.Name(), outcome.Action, err, o.now().Sub(start))
	return outcome, err
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request, log *logging.Logger) (Outcome, error) {
	meta, err := o.store.DescribeSecret(ctx, req.SecretID)
	if err != nil {
		return Outcome{}, fmt.Errorf("describe secret %s: %w", req.SecretID, err)
	}

	if !meta.RotationEnabled {
		return Outcome{}, fmt.Errorf("%w %s", ErrRotationDisabled, req.SecretID)
	}

	stages, ok := meta.Stages(req.Token)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s not found in %s", ErrUnknownVersion, req.Token, req.SecretID)
	}

	if stages.Has(secretstore.StageCurrent) {
		log.Info("version already holds CURRENT, nothing to do for %s", req.Step)
		return o.outcome(req, ActionSkipped, "version already CURRENT"), nil
	}

	if !stages.Has(secretstore.StagePending) {
		return Outcome{}, fmt.Errorf("%w: %s has stages %s in %s", ErrNotPending, req.Token, stages, req.SecretID)
	}

	step, err := ParseStep(string(req.Step))
	if err != nil {
		return Outcome{}, err
	}
	req.Step = step
	target := Target{Store: o.store, SecretID: req.SecretID, Token: req.Token}

	switch step {
	case StepCreate:
		return o.createSecret(ctx, req, target, log)
	case StepSet:
		return o.delegate(req, log, func() error { return o.strategy.SetSecret(ctx, target) })
	case StepTest:
		return o.delegate(req, log, func() error { return o.strategy.TestSecret(ctx, target) })
	case StepFinish:
		return o.finishSecret(ctx, req, log)
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownStep, req.Step)
	}
}

// delegate runs a strategy-owned phase.
func (o *Orchestrator) delegate(req Request, log *logging.Logger, fn func() error) (Outcome, error) {
	log.Info("%s started with strategy %s", req.Step, o.strategy.Name())
	if err := fn(); err != nil {
		return Outcome{}, &DownstreamError{Step: req.Step, Strategy: o.strategy.Name(), Err: err}
	}
	log.Info("%s completed", req.Step)
	return o.outcome(req, ActionExecuted, ""), nil
}

func (o *Orchestrator) outcome(req Request, action Action, reason string) Outcome {
	return Outcome{
		SecretID: req.SecretID,
		Token:    req.Token,
		Step:     req.Step,
		Action:   action,
		Reason:   reason,
	}
}
