package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/pkg/secretstore"
)

func TestParseStep(t *testing.T) {
	t.Parallel()

	for _, step := range Steps() {
		got, err := ParseStep(" " + string(step) + " ")
		require.NoError(t, err)
		assert.Equal(t, step, got)
	}

	_, err := ParseStep("CreateSecret")
	assert.ErrorIs(t, err, ErrUnknownStep, "step names are case-sensitive")

	_, err = ParseStep("")
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestRequest_JSONShape(t *testing.T) {
	t.Parallel()

	const event = `{"SecretId":"arn:aws:secretsmanager:us-east-1:123456789012:secret:db/app","ClientRequestToken":"c0ffee","Step":"setSecret"}`

	var req Request
	require.NoError(t, json.Unmarshal([]byte(event), &req))
	assert.Equal(t, "arn:aws:secretsmanager:us-east-1:123456789012:secret:db/app", req.SecretID)
	assert.Equal(t, "c0ffee", req.Token)
	assert.Equal(t, StepSet, req.Step)
	assert.NoError(t, req.Validate())
}

func TestStep_TextUnmarshal(t *testing.T) {
	t.Parallel()

	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"SecretId":"db/app","ClientRequestToken":"v2","Step":" createSecret\n"}`), &req))
	assert.Equal(t, StepCreate, req.Step)

	require.NoError(t, json.Unmarshal([]byte(`{"Step":"rollback"}`), &req))
	assert.Equal(t, Step("rollback"), req.Step, "unknown steps are left to the dispatcher")

	out, err := json.Marshal(Request{SecretID: "db/app", Token: "v2", Step: StepFinish})
	require.NoError(t, err)
	assert.JSONEq(t, `{"SecretId":"db/app","ClientRequestToken":"v2","Step":"finishSecret"}`, string(out))
}

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	err := Request{Step: StepCreate}.Validate()
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "SecretId, ClientRequestToken")

	err = Request{SecretID: "db/app", Token: "  "}.Validate()
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.NoError(t, Request{SecretID: "db/app", Token: "v2"}.Validate(), "step is checked by the dispatcher")
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"disabled", fmt.Errorf("%w db/app", ErrRotationDisabled), KindPrecondition},
		{"unknown version", ErrUnknownVersion, KindPrecondition},
		{"not pending", ErrNotPending, KindPrecondition},
		{"unknown step", ErrUnknownStep, KindPrecondition},
		{"no current secret", ErrNoCurrentSecret, KindState},
		{"no current version", ErrNoCurrentVersionFound, KindState},
		{"missing metadata", ErrMissingMetadata, KindState},
		{"two current", ErrMultipleCurrentVersions, KindState},
		{"downstream", &DownstreamError{Step: StepTest, Strategy: "sql", Err: errors.New("auth")}, KindDownstream},
		{"store", fmt.Errorf("describe: %w", secretstore.StoreError{Err: errors.New("reset")}), KindTransient},
		{"deadline", fmt.Errorf("put: %w", context.DeadlineExceeded), KindTransient},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_StringAndRetryable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "precondition", KindPrecondition.String())
	assert.Equal(t, "state", KindState.String())
	assert.Equal(t, "downstream", KindDownstream.String())
	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "unknown", KindUnknown.String())

	assert.True(t, KindTransient.Retryable())
	assert.True(t, KindDownstream.Retryable())
	assert.False(t, KindPrecondition.Retryable())
	assert.False(t, KindState.Retryable())
}

func TestDownstreamError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := &DownstreamError{Step: StepSet, Strategy: "sql", Err: cause}
	assert.Equal(t, "sql strategy failed during setSecret: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}
