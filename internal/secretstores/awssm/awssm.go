// Package awssm implements secretstore.Client on AWS Secrets Manager.
package awssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/systmms/rotator/pkg/secretstore"
)

// DefaultRegion is used when neither configuration nor environment names one.
const DefaultRegion = "us-east-1"

// Staging labels used by Secrets Manager.
const (
	LabelCurrent  = "AWSCURRENT"
	LabelPending  = "AWSPENDING"
	LabelPrevious = "AWSPREVIOUS"
)

// API is the subset of the Secrets Manager client used by Store.
type API interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
	GetRandomPassword(ctx context.Context, params *secretsmanager.GetRandomPasswordInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetRandomPasswordOutput, error)
}

// IdentityAPI is the subset of the STS client used by CallerIdentity.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Config selects the account, region and endpoint of the store.
type Config struct {
	Name            string
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
}

// Store is a secretstore.Client backed by Secrets Manager.
type Store struct {
	name     string
	region   string
	endpoint string
	client   API
	identity IdentityAPI
}

// Option configures a Store.
type Option func(*Store)

// WithAPI sets the Secrets Manager client (for testing).
func WithAPI(client API) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithIdentityAPI sets the STS client (for testing).
func WithIdentityAPI(client IdentityAPI) Option {
	return func(s *Store) {
		s.identity = client
	}
}

// New creates a Store. Clients not injected through options are built from the
// default AWS credential chain.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{
		name:     cfg.Name,
		region:   cfg.Region,
		endpoint: cfg.Endpoint,
	}
	if s.name == "" {
		s.name = "aws-secretsmanager"
	}
	if s.region == "" {
		s.region = DefaultRegion
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.client != nil && s.identity != nil {
		return s, nil
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(s.region)}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if s.client == nil {
		var clientOpts []func(*secretsmanager.Options)
		if s.endpoint != "" {
			endpoint := s.endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}
	if s.identity == nil {
		s.identity = sts.NewFromConfig(awsCfg)
	}
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Region returns the configured region.
func (s *Store) Region() string {
	return s.region
}

// DescribeSecret implements secretstore.Client.
func (s *Store) DescribeSecret(ctx context.Context, secretID string) (secretstore.Metadata, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return secretstore.Metadata{}, s.handleError(err, "DescribeSecret", secretID, secretstore.ValueSelector{})
	}

	meta := secretstore.Metadata{
		ARN:             aws.ToString(out.ARN),
		Name:            aws.ToString(out.Name),
		RotationEnabled: aws.ToBool(out.RotationEnabled),
		Versions:        make(map[string]secretstore.StageSet, len(out.VersionIdsToStages)),
	}
	for versionID, labels := range out.VersionIdsToStages {
		meta.Versions[versionID] = stageSet(labels)
	}
	return meta, nil
}

// GetSecretValue implements secretstore.Client.
func (s *Store) GetSecretValue(ctx context.Context, secretID string, sel secretstore.ValueSelector) (secretstore.SecretValue, error) {
	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)}
	if sel.VersionID != "" {
		input.VersionId = aws.String(sel.VersionID)
	}
	if sel.Stage != "" {
		input.VersionStage = aws.String(Label(sel.Stage))
	}
	if sel.VersionID == "" && sel.Stage == "" {
		input.VersionStage = aws.String(LabelCurrent)
	}

	out, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return secretstore.SecretValue{}, s.handleError(err, "GetSecretValue", secretID, sel)
	}

	value := aws.ToString(out.SecretString)
	if out.SecretString == nil && out.SecretBinary != nil {
		value = string(out.SecretBinary)
	}

	return secretstore.SecretValue{
		ARN:       aws.ToString(out.ARN),
		Name:      aws.ToString(out.Name),
		VersionID: aws.ToString(out.VersionId),
		Value:     value,
		Stages:    stageSet(out.VersionStages),
	}, nil
}

// PutSecretValue implements secretstore.Client. versionID is sent as the
// client request token, so Secrets Manager accepts a repeat with the same value
// and rejects a different one.
func (s *Store) PutSecretValue(ctx context.Context, secretID, versionID, value string, stages ...secretstore.Stage) error {
	input := &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(secretID),
		ClientRequestToken: aws.String(versionID),
		SecretString:       aws.String(value),
	}
	for _, stage := range stages {
		input.VersionStages = append(input.VersionStages, Label(stage))
	}

	_, err := s.client.PutSecretValue(ctx, input)
	if err != nil {
		var exists *types.ResourceExistsException
		if errors.As(err, &exists) {
			return secretstore.ConflictError{Store: s.name, SecretID: secretID, VersionID: versionID}
		}
		return s.handleError(err, "PutSecretValue", secretID, secretstore.ValueSelector{VersionID: versionID})
	}
	return nil
}

// UpdateSecretVersionStage implements secretstore.Client.
func (s *Store) UpdateSecretVersionStage(ctx context.Context, secretID string, stage secretstore.Stage, moveTo, removeFrom string) error {
	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(Label(stage)),
	}
	if moveTo != "" {
		input.MoveToVersionId = aws.String(moveTo)
	}
	if removeFrom != "" {
		input.RemoveFromVersionId = aws.String(removeFrom)
	}

	if _, err := s.client.UpdateSecretVersionStage(ctx, input); err != nil {
		return s.handleError(err, "UpdateSecretVersionStage", secretID, secretstore.ValueSelector{VersionID: moveTo})
	}
	return nil
}

// GetRandomPassword implements secretstore.PasswordGenerator.
func (s *Store) GetRandomPassword(ctx context.Context, spec secretstore.PasswordSpec) (string, error) {
	input := &secretsmanager.GetRandomPasswordInput{
		ExcludePunctuation: aws.Bool(spec.ExcludePunctuation),
		ExcludeNumbers:     aws.Bool(spec.ExcludeNumbers),
		IncludeSpace:       aws.Bool(spec.IncludeSpace),
	}
	if spec.Length > 0 {
		input.PasswordLength = aws.Int64(int64(spec.Length))
	}
	if spec.ExcludeCharacters != "" {
		input.ExcludeCharacters = aws.String(spec.ExcludeCharacters)
	}

	out, err := s.client.GetRandomPassword(ctx, input)
	if err != nil {
		return "", s.handleError(err, "GetRandomPassword", "", secretstore.ValueSelector{})
	}
	return aws.ToString(out.RandomPassword), nil
}

// Identity describes the principal the store authenticates as.
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// CallerIdentity asks STS who the configured credentials belong to.
func (s *Store) CallerIdentity(ctx context.Context) (Identity, error) {
	out, err := s.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if isAuthError(err) {
			return Identity{}, secretstore.AuthError{Store: s.name, Message: err.Error()}
		}
		return Identity{}, fmt.Errorf("get caller identity: %w", err)
	}
	return Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

// handleError converts SDK errors to store errors.
func (s *Store) handleError(err error, op, secretID string, sel secretstore.ValueSelector) error {
	if isNotFoundError(err) {
		return secretstore.NotFoundError{Store: s.name, SecretID: secretID, Selector: sel}
	}
	if isAuthError(err) {
		return secretstore.AuthError{Store: s.name, Message: err.Error()}
	}
	return secretstore.StoreError{Store: s.name, Op: op, SecretID: secretID, Err: err}
}

// Label maps a stage to its Secrets Manager staging label. Custom stages pass
// through unchanged.
func Label(stage secretstore.Stage) string {
	switch stage {
	case secretstore.StageCurrent:
		return LabelCurrent
	case secretstore.StagePending:
		return LabelPending
	case secretstore.StagePrevious:
		return LabelPrevious
	default:
		return string(stage)
	}
}

// StageOf maps a Secrets Manager staging label to a stage.
func StageOf(label string) secretstore.Stage {
	return secretstore.ParseStage(label)
}

func stageSet(labels []string) secretstore.StageSet {
	set := secretstore.NewStageSet()
	for _, label := range labels {
		set.Add(StageOf(label))
	}
	return set
}

func isNotFoundError(err error) bool {
	var resourceNotFound *types.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}

func isAuthError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "AccessDeniedException", "AccessDenied", "UnrecognizedClientException",
		"InvalidClientTokenId", "InvalidSignatureException", "ExpiredTokenException":
		return true
	default:
		return false
	}
}
