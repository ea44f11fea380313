package secretstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  Stage
	}{
		{"CURRENT", StageCurrent},
		{"current", StageCurrent},
		{" Pending ", StagePending},
		{"PREVIOUS", StagePrevious},
		{"AWSCURRENT", StageCurrent},
		{"AWSPENDING", StagePending},
		{"awsprevious", StagePrevious},
		{"blue", Stage("blue")},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseStage(tt.label))
		})
	}
}

func TestStage_IsCustom(t *testing.T) {
	t.Parallel()

	assert.False(t, StageCurrent.IsCustom())
	assert.False(t, StagePending.IsCustom())
	assert.False(t, StagePrevious.IsCustom())
	assert.True(t, Stage("blue").IsCustom())
}

func TestStageSet(t *testing.T) {
	t.Parallel()

	set := NewStageSet(StagePending, StageCurrent)
	assert.True(t, set.Has(StageCurrent))
	assert.True(t, set.Has(StagePending))
	assert.False(t, set.Has(StagePrevious))
	assert.Equal(t, "{CURRENT,PENDING}", set.String())

	clone := set.Clone()
	clone.Remove(StageCurrent)
	clone.Add(StagePrevious)
	assert.True(t, set.Has(StageCurrent), "clone must not alias the original")
	assert.Equal(t, []Stage{StagePending, StagePrevious}, clone.Stages())

	assert.Equal(t, "{}", NewStageSet().String())
}

func TestMetadata_CurrentVersions(t *testing.T) {
	t.Parallel()

	meta := Metadata{
		Versions: map[string]StageSet{
			"v3": NewStageSet(StageCurrent),
			"v1": NewStageSet(StagePrevious),
			"v2": NewStageSet(StagePending),
		},
	}
	assert.Equal(t, []string{"v3"}, meta.CurrentVersions())

	meta.Versions["v0"] = NewStageSet(StageCurrent)
	assert.Equal(t, []string{"v0", "v3"}, meta.CurrentVersions())

	stages, ok := meta.Stages("v2")
	assert.True(t, ok)
	assert.True(t, stages.Has(StagePending))

	_, ok = meta.Stages("missing")
	assert.False(t, ok)

	assert.Empty(t, Metadata{}.CurrentVersions())
}

func TestValueSelector_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stage CURRENT", ValueSelector{}.String())
	assert.Equal(t, "stage PENDING", ValueSelector{Stage: StagePending}.String())
	assert.Equal(t, "version v2", ValueSelector{VersionID: "v2"}.String())
	assert.Equal(t, "version v2 with stage PENDING",
		ValueSelector{VersionID: "v2", Stage: StagePending}.String())
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	nf := NotFoundError{Store: "mem", SecretID: "db/app", Selector: ValueSelector{Stage: StagePending}}
	wrapped := fmt.Errorf("lookup: %w", nf)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Contains(t, nf.Error(), "has no stage PENDING")
	assert.Contains(t, NotFoundError{Store: "mem", SecretID: "db/app"}.Error(), "not found")

	conflict := ConflictError{Store: "mem", SecretID: "db/app", VersionID: "v2"}
	assert.True(t, IsConflict(fmt.Errorf("put: %w", conflict)))

	cause := errors.New("connection reset")
	se := StoreError{Store: "mem", Op: "DescribeSecret", SecretID: "db/app", Err: cause}
	assert.True(t, IsStoreError(fmt.Errorf("describe: %w", se)))
	assert.ErrorIs(t, se, cause)
	assert.False(t, IsStoreError(cause))
}
