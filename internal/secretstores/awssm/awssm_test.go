package awssm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/internal/secretstores/awssm"
	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/rotation/strategies"
	"github.com/systmms/rotator/pkg/secretstore"
	"github.com/systmms/rotator/tests/fakes"
)

func newStore(t *testing.T, fake *fakes.FakeSecretsManagerClient) *awssm.Store {
	t.Helper()

	store, err := awssm.New(context.Background(), awssm.Config{Name: "aws-test", Region: "eu-west-1"},
		awssm.WithAPI(fake),
		awssm.WithIdentityAPI(&fakes.FakeSTSClient{Account: "123456789012", Arn: "arn:aws:iam::123456789012:role/rotator", UserID: "AROAEXAMPLE"}),
	)
	require.NoError(t, err)
	return store
}

func rotatingFake() *fakes.FakeSecretsManagerClient {
	fake := fakes.NewFakeSecretsManagerClient()
	fake.AddSecretString("db/app", "old-password")
	fake.AddVersion("db/app", "v2", nil, awssm.LabelPending)
	return fake
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	store, err := awssm.New(context.Background(), awssm.Config{},
		awssm.WithAPI(fakes.NewFakeSecretsManagerClient()), awssm.WithIdentityAPI(&fakes.FakeSTSClient{}))
	require.NoError(t, err)
	assert.Equal(t, "aws-secretsmanager", store.Name())
	assert.Equal(t, awssm.DefaultRegion, store.Region())
}

func TestLabelMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AWSCURRENT", awssm.Label(secretstore.StageCurrent))
	assert.Equal(t, "AWSPENDING", awssm.Label(secretstore.StagePending))
	assert.Equal(t, "AWSPREVIOUS", awssm.Label(secretstore.StagePrevious))
	assert.Equal(t, "blue", awssm.Label(secretstore.Stage("blue")))

	assert.Equal(t, secretstore.StageCurrent, awssm.StageOf("AWSCURRENT"))
	assert.Equal(t, secretstore.Stage("blue"), awssm.StageOf("blue"))
}

func TestDescribeSecret(t *testing.T) {
	t.Parallel()

	store := newStore(t, rotatingFake())
	meta, err := store.DescribeSecret(context.Background(), "db/app")
	require.NoError(t, err)

	assert.True(t, meta.RotationEnabled)
	assert.Equal(t, "arn:aws:secretsmanager:us-east-1:123456789012:secret:db/app", meta.ARN)
	assert.True(t, meta.Versions["v1"].Has(secretstore.StageCurrent))
	assert.True(t, meta.Versions["v2"].Has(secretstore.StagePending))

	_, err = store.DescribeSecret(context.Background(), "missing")
	assert.True(t, secretstore.IsNotFound(err))
}

func TestGetSecretValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newStore(t, rotatingFake())

	current, err := store.GetSecretValue(ctx, "db/app", secretstore.ValueSelector{})
	require.NoError(t, err)
	assert.Equal(t, "old-password", current.Value)
	assert.Equal(t, "v1", current.VersionID)
	assert.True(t, current.Stages.Has(secretstore.StageCurrent))

	_, err = store.GetSecretValue(ctx, "db/app", secretstore.ValueSelector{VersionID: "v2", Stage: secretstore.StagePending})
	assert.True(t, secretstore.IsNotFound(err), "a staged token without a value is not found")
}

func TestPutSecretValue_ClientRequestToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := rotatingFake()
	store := newStore(t, fake)

	require.NoError(t, store.PutSecretValue(ctx, "db/app", "v2", "new", secretstore.StagePending))
	require.NoError(t, store.PutSecretValue(ctx, "db/app", "v2", "new", secretstore.StagePending))

	err := store.PutSecretValue(ctx, "db/app", "v2", "other", secretstore.StagePending)
	assert.True(t, secretstore.IsConflict(err))

	assert.Equal(t, []string{"AWSPENDING"}, fake.Labels("db/app", "v2"))
	assert.Equal(t, []string{"AWSCURRENT"}, fake.Labels("db/app", "v1"))
}

func TestPutSecretValue_SendsTokenAndLabels(t *testing.T) {
	t.Parallel()

	fake := rotatingFake()
	var got *secretsmanager.PutSecretValueInput
	fake.PutSecretValueFunc = func(_ context.Context, params *secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error) {
		got = params
		return &secretsmanager.PutSecretValueOutput{}, nil
	}

	require.NoError(t, newStore(t, fake).PutSecretValue(context.Background(), "db/app", "c0ffee", "value", secretstore.StagePending))
	require.NotNil(t, got)
	assert.Equal(t, "c0ffee", aws.ToString(got.ClientRequestToken))
	assert.Equal(t, []string{"AWSPENDING"}, got.VersionStages)
}

func TestUpdateSecretVersionStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := rotatingFake()
	store := newStore(t, fake)
	require.NoError(t, store.PutSecretValue(ctx, "db/app", "v2", "new", secretstore.StagePending))

	var got *secretsmanager.UpdateSecretVersionStageInput
	inner := fake.UpdateSecretVersionStage
	fake.UpdateSecretVersionStageFunc = func(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
		got = params
		fake.UpdateSecretVersionStageFunc = nil
		return inner(ctx, params)
	}

	require.NoError(t, store.UpdateSecretVersionStage(ctx, "db/app", secretstore.StageCurrent, "v2", "v1"))
	assert.Equal(t, "AWSCURRENT", aws.ToString(got.VersionStage))
	assert.Equal(t, "v2", aws.ToString(got.MoveToVersionId))
	assert.Equal(t, "v1", aws.ToString(got.RemoveFromVersionId))

	assert.Equal(t, []string{"AWSCURRENT"}, fake.Labels("db/app", "v2"))
	assert.Equal(t, []string{"AWSPREVIOUS"}, fake.Labels("db/app", "v1"))

	err := store.UpdateSecretVersionStage(ctx, "db/app", secretstore.StageCurrent, "v1", "v9")
	assert.True(t, secretstore.IsStoreError(err), "invalid parameter surfaces as a store error")
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := rotatingFake()
	fake.AddError("denied", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"})
	fake.AddError("flaky", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "rate exceeded"})
	store := newStore(t, fake)

	_, err := store.DescribeSecret(ctx, "denied")
	var auth secretstore.AuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, "aws-test", auth.Store)

	_, err = store.DescribeSecret(ctx, "flaky")
	require.True(t, secretstore.IsStoreError(err))
	var apiErr smithy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ThrottlingException", apiErr.ErrorCode())
	assert.Equal(t, rotation.KindTransient, rotation.KindOf(err))
}

func TestGetRandomPassword(t *testing.T) {
	t.Parallel()

	fake := rotatingFake()
	fake.RandomPassword = "Zq9-generated"
	store := newStore(t, fake)

	password, err := store.GetRandomPassword(context.Background(), secretstore.PasswordSpec{
		Length:            40,
		ExcludeCharacters: "/@\"",
		ExcludeNumbers:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Zq9-generated", password)

	require.Len(t, fake.PasswordRequests, 1)
	req := fake.PasswordRequests[0]
	assert.Equal(t, int64(40), aws.ToInt64(req.PasswordLength))
	assert.Equal(t, "/@\"", aws.ToString(req.ExcludeCharacters))
	assert.True(t, aws.ToBool(req.ExcludeNumbers))
	assert.False(t, aws.ToBool(req.ExcludePunctuation))
}

func TestCallerIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	id, err := newStore(t, rotatingFake()).CallerIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id.Account)
	assert.Equal(t, "arn:aws:iam::123456789012:role/rotator", id.ARN)

	store, err := awssm.New(ctx, awssm.Config{}, awssm.WithAPI(rotatingFake()), awssm.WithIdentityAPI(&fakes.FakeSTSClient{
		Err: &smithy.GenericAPIError{Code: "ExpiredTokenException", Message: "token expired"},
	}))
	require.NoError(t, err)
	_, err = store.CallerIdentity(ctx)
	var auth secretstore.AuthError
	assert.ErrorAs(t, err, &auth)

	store, err = awssm.New(ctx, awssm.Config{}, awssm.WithAPI(rotatingFake()), awssm.WithIdentityAPI(&fakes.FakeSTSClient{
		Err: errors.New("dial tcp: i/o timeout"),
	}))
	require.NoError(t, err)
	_, err = store.CallerIdentity(ctx)
	assert.ErrorContains(t, err, "get caller identity")
}

func TestFullRotationAgainstFake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := rotatingFake()
	fake.RandomPassword = "from-secrets-manager"
	store := newStore(t, fake)
	orch := rotation.New(store, strategies.NewRandom(strategies.RandomOptions{}))

	for _, step := range rotation.Steps() {
		_, err := orch.Handle(ctx, rotation.Request{SecretID: "db/app", Token: "v2", Step: step})
		require.NoError(t, err, step)
	}
	for _, step := range rotation.Steps() {
		outcome, err := orch.Handle(ctx, rotation.Request{SecretID: "db/app", Token: "v2", Step: step})
		require.NoError(t, err, step)
		assert.Equal(t, rotation.ActionSkipped, outcome.Action, "replay of %s", step)
	}

	assert.Equal(t, 1, fake.CallCount("PutSecretValue"))
	assert.Equal(t, 1, fake.CallCount("UpdateSecretVersionStage"))
	assert.Equal(t, []string{"AWSCURRENT"}, fake.Labels("db/app", "v2"))
	assert.Equal(t, []string{"AWSPREVIOUS"}, fake.Labels("db/app", "v1"))

	current, err := store.GetSecretValue(ctx, "db/app", secretstore.ValueSelector{})
	require.NoError(t, err)
	assert.Equal(t, "from-secrets-manager", current.Value)
}
