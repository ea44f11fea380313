package secretstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Stage is a stage label attached to a secret version.
type Stage string

const (
	// StageCurrent marks the active credential.
	StageCurrent Stage = "CURRENT"

	// StagePending marks the rotation candidate.
	StagePending Stage = "PENDING"

	// StagePrevious marks the credential that CURRENT replaced.
	StagePrevious Stage = "PREVIOUS"
)

// ParseStage normalizes a label. Well-known labels, and the Secrets Manager
// labels AWSCURRENT, AWSPENDING and AWSPREVIOUS, are matched
// case-insensitively; anything else is returned verbatim as a custom stage.
func ParseStage(label string) Stage {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case string(StageCurrent), "AWSCURRENT":
		return StageCurrent
	case string(StagePending), "AWSPENDING":
		return StagePending
	case string(StagePrevious), "AWSPREVIOUS":
		return StagePrevious
	default:
		return Stage(label)
	}
}

// IsCustom reports whether the stage is outside the rotation protocol's labels.
func (s Stage) IsCustom() bool {
	switch s {
	case StageCurrent, StagePending, StagePrevious:
		return false
	default:
		return true
	}
}

// String returns the label.
func (s Stage) String() string {
	return string(s)
}

// StageSet is the set of stage labels held by one version.
type StageSet map[Stage]struct{}

// NewStageSet builds a set from the given stages.
func NewStageSet(stages ...Stage) StageSet {
	set := make(StageSet, len(stages))
	for _, s := range stages {
		set[s] = struct{}{}
	}
	return set
}

// Has reports whether the set contains stage.
func (s StageSet) Has(stage Stage) bool {
	_, ok := s[stage]
	return ok
}

// Add inserts stage into the set.
func (s StageSet) Add(stage Stage) {
	s[stage] = struct{}{}
}

// Remove deletes stage from the set.
func (s StageSet) Remove(stage Stage) {
	delete(s, stage)
}

// Stages returns the labels in sorted order.
func (s StageSet) Stages() []Stage {
	out := make([]Stage, 0, len(s))
	for stage := range s {
		out = append(out, stage)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set as "{CURRENT,PENDING}".
func (s StageSet) String() string {
	labels := make([]string, 0, len(s))
	for _, stage := range s.Stages() {
		labels = append(labels, string(stage))
	}
	return "{" + strings.Join(labels, ",") + "}"
}

// Clone returns an independent copy.
func (s StageSet) Clone() StageSet {
	out := make(StageSet, len(s))
	for stage := range s {
		out[stage] = struct{}{}
	}
	return out
}

// Metadata is a snapshot of a secret's rotation state. It is never cached:
// every invocation reads it fresh from the store.
type Metadata struct {
	ARN             string
	Name            string
	RotationEnabled bool

	// Versions maps each version ID to its stage labels.
	Versions map[string]StageSet
}

// Stages returns the labels for versionID and whether the version is known.
func (m Metadata) Stages(versionID string) (StageSet, bool) {
	stages, ok := m.Versions[versionID]
	return stages, ok
}

// CurrentVersions returns every version holding CURRENT, sorted. The whole map
// is scanned so the result never depends on iteration order.
func (m Metadata) CurrentVersions() []string {
	var out []string
	for versionID, stages := range m.Versions {
		if stages.Has(StageCurrent) {
			out = append(out, versionID)
		}
	}
	sort.Strings(out)
	return out
}

// SecretValue is one version of a secret as returned by the store.
type SecretValue struct {
	ARN       string
	Name      string
	VersionID string
	Value     string
	Stages    StageSet
}

// ValueSelector picks a version by ID, by stage, or both. When both are set the
// version must carry the stage.
type ValueSelector struct {
	VersionID string
	Stage     Stage
}

// String renders the selector for logs and errors.
func (s ValueSelector) String() string {
	switch {
	case s.VersionID != "" && s.Stage != "":
		return fmt.Sprintf("version %s with stage %s", s.VersionID, s.Stage)
	case s.VersionID != "":
		return "version " + s.VersionID
	case s.Stage != "":
		return "stage " + string(s.Stage)
	default:
		return "stage " + string(StageCurrent)
	}
}

// Client is the Store Client consumed by the rotation orchestrator.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Name identifies the store in logs and errors.
	Name() string

	// DescribeSecret returns the rotation flag and version staging for secretID.
	DescribeSecret(ctx context.Context, secretID string) (Metadata, error)

	// GetSecretValue returns the version matched by sel. An empty selector
	// selects CURRENT.
	GetSecretValue(ctx context.Context, secretID string, sel ValueSelector) (SecretValue, error)

	// PutSecretValue stores value under versionID with the given stages. It is
	// put-if-absent keyed by versionID.
	PutSecretValue(ctx context.Context, secretID, versionID, value string, stages ...Stage) error

	// UpdateSecretVersionStage atomically moves stage onto moveTo and removes it
	// from removeFrom. Either version ID may be empty.
	UpdateSecretVersionStage(ctx context.Context, secretID string, stage Stage, moveTo, removeFrom string) error
}

// PasswordSpec configures server-side password generation.
type PasswordSpec struct {
	Length             int
	ExcludeCharacters  string
	ExcludePunctuation bool
	ExcludeNumbers     bool
	IncludeSpace       bool
}

// PasswordGenerator is an optional capability of stores that can generate
// credential material themselves.
type PasswordGenerator interface {
	GetRandomPassword(ctx context.Context, spec PasswordSpec) (string, error)
}

// NotFoundError indicates that no secret or version matched a lookup.
type NotFoundError struct {
	Store    string
	SecretID string
	Selector ValueSelector
}

// Error implements the error interface.
func (e NotFoundError) Error() string {
	if e.Selector == (ValueSelector{}) {
		return fmt.Sprintf("secret %s not found in store %s", e.SecretID, e.Store)
	}
	return fmt.Sprintf("secret %s has no %s in store %s", e.SecretID, e.Selector, e.Store)
}

// ConflictError indicates a conditional write lost against an existing version
// that holds a different value.
type ConflictError struct {
	Store     string
	SecretID  string
	VersionID string
}

// Error implements the error interface.
func (e ConflictError) Error() string {
	return fmt.Sprintf("secret %s already has a different value for version %s in store %s",
		e.SecretID, e.VersionID, e.Store)
}

// AuthError indicates the store rejected the caller's credentials.
type AuthError struct {
	Store   string
	Message string
}

// Error implements the error interface.
func (e AuthError) Error() string {
	return fmt.Sprintf("authentication failed for store %s: %s", e.Store, e.Message)
}

// StoreError wraps a transport or service failure. Callers treat it as
// transient; retrying is the invocation trigger's business.
type StoreError struct {
	Store    string
	Op       string
	SecretID string
	Err      error
}

// Error implements the error interface.
func (e StoreError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Store, e.Op, e.SecretID, e.Err)
}

// Unwrap returns the underlying error.
func (e StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}

// IsStoreError reports whether err is or wraps a StoreError.
func IsStoreError(err error) bool {
	var se StoreError
	return errors.As(err, &se)
}
