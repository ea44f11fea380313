// Package memstore is an in-memory secretstore.Client with the same
// conditional-write and atomic stage-move semantics as a managed store. It
// backs tests and local dry runs seeded from a YAML fixture.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/rotator/pkg/secretstore"
)

// Operation names used for call counting and fault injection.
const (
	OpDescribeSecret           = "DescribeSecret"
	OpGetSecretValue           = "GetSecretValue"
	OpPutSecretValue           = "PutSecretValue"
	OpUpdateSecretVersionStage = "UpdateSecretVersionStage"
)

type version struct {
	value    string
	hasValue bool
	stages   secretstore.StageSet
}

type secret struct {
	name            string
	rotationEnabled bool
	versions        map[string]*version
}

// Store is a thread-safe in-memory secret store.
type Store struct {
	name string

	mu      sync.Mutex
	secrets map[string]*secret
	calls   map[string]int
	faults  map[string]error
}

// New creates an empty store.
func New(name string) *Store {
	if name == "" {
		name = "memory"
	}
	return &Store{
		name:    name,
		secrets: make(map[string]*secret),
		calls:   make(map[string]int),
		faults:  make(map[string]error),
	}
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// CreateSecret registers an empty secret.
func (s *Store) CreateSecret(secretID string, rotationEnabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[secretID] = &secret{
		name:            secretID,
		rotationEnabled: rotationEnabled,
		versions:        make(map[string]*version),
	}
}

// SetRotationEnabled toggles the rotation flag of an existing secret.
func (s *Store) SetRotationEnabled(secretID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sec, ok := s.secrets[secretID]; ok {
		sec.rotationEnabled = enabled
	}
}

// Seed writes a version directly, bypassing conditional-write checks. Stages
// are taken from other versions the way a managed store would.
func (s *Store) Seed(secretID, versionID, value string, stages ...secretstore.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.secretLocked(secretID)
	v := sec.version(versionID)
	v.value, v.hasValue = value, true
	for _, stage := range stages {
		sec.attach(stage, versionID)
	}
}

// BeginRotation stages versionID as PENDING without a value, which is what a
// managed store does before it invokes createSecret.
func (s *Store) BeginRotation(secretID, versionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.secretLocked(secretID)
	sec.version(versionID)
	sec.attach(secretstore.StagePending, versionID)
}

// FailNext makes the next call to op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ResetCalls clears the call counters.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// DescribeSecret implements secretstore.Client.
func (s *Store) DescribeSecret(ctx context.Context, secretID string) (secretstore.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpDescribeSecret, secretID); err != nil {
		return secretstore.Metadata{}, err
	}

	sec, ok := s.secrets[secretID]
	if !ok {
		return secretstore.Metadata{}, secretstore.NotFoundError{Store: s.name, SecretID: secretID}
	}

	meta := secretstore.Metadata{
		ARN:             arn(secretID),
		Name:            sec.name,
		RotationEnabled: sec.rotationEnabled,
		Versions:        make(map[string]secretstore.StageSet),
	}
	for id, v := range sec.versions {
		if len(v.stages) > 0 || v.hasValue {
			meta.Versions[id] = v.stages.Clone()
		}
	}
	return meta, nil
}

// GetSecretValue implements secretstore.Client.
func (s *Store) GetSecretValue(ctx context.Context, secretID string, sel secretstore.ValueSelector) (secretstore.SecretValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpGetSecretValue, secretID); err != nil {
		return secretstore.SecretValue{}, err
	}

	notFound := secretstore.NotFoundError{Store: s.name, SecretID: secretID, Selector: sel}

	sec, ok := s.secrets[secretID]
	if !ok {
		return secretstore.SecretValue{}, secretstore.NotFoundError{Store: s.name, SecretID: secretID}
	}

	versionID := sel.VersionID
	if versionID == "" {
		stage := sel.Stage
		if stage == "" {
			stage = secretstore.StageCurrent
		}
		versionID = sec.holder(stage)
		if versionID == "" {
			return secretstore.SecretValue{}, notFound
		}
	}

	v, ok := sec.versions[versionID]
	if !ok || !v.hasValue {
		return secretstore.SecretValue{}, notFound
	}
	if sel.Stage != "" && !v.stages.Has(sel.Stage) {
		return secretstore.SecretValue{}, notFound
	}

	return secretstore.SecretValue{
		ARN:       arn(secretID),
		Name:      sec.name,
		VersionID: versionID,
		Value:     v.value,
		Stages:    v.stages.Clone(),
	}, nil
}

// PutSecretValue implements secretstore.Client with put-if-absent semantics
// keyed by versionID.
func (s *Store) PutSecretValue(ctx context.Context, secretID, versionID, value string, stages ...secretstore.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpPutSecretValue, secretID); err != nil {
		return err
	}

	sec, ok := s.secrets[secretID]
	if !ok {
		return secretstore.NotFoundError{Store: s.name, SecretID: secretID}
	}

	if v, ok := sec.versions[versionID]; ok && v.hasValue {
		if v.value != value {
			return secretstore.ConflictError{Store: s.name, SecretID: secretID, VersionID: versionID}
		}
		return nil
	}

	v := sec.version(versionID)
	v.value, v.hasValue = value, true
	for _, stage := range stages {
		sec.attach(stage, versionID)
	}
	return nil
}

// UpdateSecretVersionStage implements secretstore.Client. The whole move
// happens under one lock.
func (s *Store) UpdateSecretVersionStage(ctx context.Context, secretID string, stage secretstore.Stage, moveTo, removeFrom string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpUpdateSecretVersionStage, secretID); err != nil {
		return err
	}

	sec, ok := s.secrets[secretID]
	if !ok {
		return secretstore.NotFoundError{Store: s.name, SecretID: secretID}
	}

	holder := sec.holder(stage)
	if removeFrom != "" && holder != removeFrom {
		return fmt.Errorf("stage %s is not attached to version %s", stage, removeFrom)
	}
	if moveTo != "" {
		if _, ok := sec.versions[moveTo]; !ok {
			return secretstore.NotFoundError{Store: s.name, SecretID: secretID, Selector: secretstore.ValueSelector{VersionID: moveTo}}
		}
		if holder != "" && holder != moveTo && removeFrom == "" {
			return fmt.Errorf("stage %s is attached to version %s; pass it as the version to remove from", stage, holder)
		}
		sec.attach(stage, moveTo)
		return nil
	}

	if removeFrom != "" {
		sec.versions[removeFrom].stages.Remove(stage)
	}
	return nil
}

func (s *Store) enter(ctx context.Context, op, secretID string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return secretstore.StoreError{Store: s.name, Op: op, SecretID: secretID, Err: err}
	}
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

func (s *Store) secretLocked(secretID string) *secret {
	sec, ok := s.secrets[secretID]
	if !ok {
		sec = &secret{name: secretID, rotationEnabled: true, versions: make(map[string]*version)}
		s.secrets[secretID] = sec
	}
	return sec
}

func (sec *secret) version(versionID string) *version {
	v, ok := sec.versions[versionID]
	if !ok {
		v = &version{stages: secretstore.NewStageSet()}
		sec.versions[versionID] = v
	}
	return v
}

// holder returns the version carrying stage, or "".
func (sec *secret) holder(stage secretstore.Stage) string {
	for id, v := range sec.versions {
		if v.stages.Has(stage) {
			return id
		}
	}
	return ""
}

// attach puts stage on versionID, taking it off whichever version had it. A
// version losing CURRENT becomes PREVIOUS.
func (sec *secret) attach(stage secretstore.Stage, versionID string) {
	old := sec.holder(stage)
	if old == versionID {
		return
	}
	if old != "" {
		sec.versions[old].stages.Remove(stage)
		if stage == secretstore.StageCurrent {
			if prev := sec.holder(secretstore.StagePrevious); prev != "" {
				sec.versions[prev].stages.Remove(secretstore.StagePrevious)
			}
			sec.versions[old].stages.Add(secretstore.StagePrevious)
		}
	}
	v := sec.version(versionID)
	v.stages.Add(stage)
	if stage == secretstore.StageCurrent {
		v.stages.Remove(secretstore.StagePending)
	}
}

func arn(secretID string) string {
	return "arn:memory:secretsmanager:local:000000000000:secret:" + secretID
}
