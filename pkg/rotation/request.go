package rotation

import (
	"fmt"
	"strings"
)

// Step names one phase of the rotation protocol.
type Step string

const (
	// StepCreate stages a new candidate value as PENDING.
	StepCreate Step = "createSecret"

	// StepSet applies the PENDING value to the downstream service.
	StepSet Step = "setSecret"

	// StepTest verifies the PENDING value against the downstream service.
	StepTest Step = "testSecret"

	// StepFinish moves CURRENT onto the PENDING version.
	StepFinish Step = "finishSecret"
)

// Steps lists the phases in protocol order.
func Steps() []Step {
	return []Step{StepCreate, StepSet, StepTest, StepFinish}
}

// ParseStep returns the Step named by s, or ErrUnknownStep.
func ParseStep(s string) (Step, error) {
	step := Step(strings.TrimSpace(s))
	if !step.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
	}
	return step, nil
}

// Valid reports whether the step is one of the four phases.
func (s Step) Valid() bool {
	switch s {
	case StepCreate, StepSet, StepTest, StepFinish:
		return true
	default:
		return false
	}
}

// String returns the step name.
func (s Step) String() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText trims the name but keeps unknown steps; the dispatcher rejects
// them only once it knows the version is not already CURRENT.
func (s *Step) UnmarshalText(text []byte) error {
	*s = Step(strings.TrimSpace(string(text)))
	return nil
}

// Request is one rotation attempt. The JSON shape matches the event the secret
// store sends to rotation handlers.
type Request struct {
	SecretID string `json:"SecretId" yaml:"secretId"`
	Token    string `json:"ClientRequestToken" yaml:"clientRequestToken"`
	Step     Step   `json:"Step" yaml:"step"`
}

// Validate checks the request carries a secret and a token. The step is checked
// by the dispatcher so that replays against completed versions succeed
// whatever step they name.
func (r Request) Validate() error {
	var missing []string
	if strings.TrimSpace(r.SecretID) == "" {
		missing = append(missing, "SecretId")
	}
	if strings.TrimSpace(r.Token) == "" {
		missing = append(missing, "ClientRequestToken")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Action records what a phase did.
type Action string

const (
	// ActionExecuted means the phase performed its work.
	ActionExecuted Action = "executed"

	// ActionSkipped means the phase found its work already done.
	ActionSkipped Action = "skipped"
)

// Outcome describes a successful invocation so replays can be told apart from
// fresh executions.
type Outcome struct {
	SecretID string `json:"secretId"`
	Token    string `json:"token"`
	Step     Step   `json:"step"`
	Action   Action `json:"action"`
	Reason   string `json:"reason,omitempty"`
}
