package fakes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const (
	awsCurrent  = "AWSCURRENT"
	awsPending  = "AWSPENDING"
	awsPrevious = "AWSPREVIOUS"
)

// FakeSecretsManagerClient is an in-memory Secrets Manager with the service's
// version staging rules: client request tokens are idempotent, a staging label
// sits on at most one version, and moving AWSCURRENT leaves AWSPREVIOUS behind.
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*SecretData
	// Errors maps secret names to errors to return
	Errors map[string]error
	// Calls counts invocations per operation name
	Calls map[string]int
	// RandomPassword is returned by GetRandomPassword when set
	RandomPassword string
	// PasswordRequests records GetRandomPassword inputs
	PasswordRequests []*secretsmanager.GetRandomPasswordInput

	// DescribeSecretFunc allows custom behavior for DescribeSecret
	DescribeSecretFunc func(ctx context.Context, params *secretsmanager.DescribeSecretInput) (*secretsmanager.DescribeSecretOutput, error)
	// PutSecretValueFunc allows custom behavior for PutSecretValue
	PutSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error)
	// UpdateSecretVersionStageFunc allows custom behavior for UpdateSecretVersionStage
	UpdateSecretVersionStageFunc func(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput) (*secretsmanager.UpdateSecretVersionStageOutput, error)
}

// SecretData holds the data for a fake secret
type SecretData struct {
	RotationEnabled bool
	Versions        map[string]*VersionData
}

// VersionData holds one secret version. A nil Value means the version only
// carries labels, as right after RotateSecret.
type VersionData struct {
	Value  *string
	Labels []string
}

// NewFakeSecretsManagerClient creates an empty fake.
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]*SecretData),
		Errors:  make(map[string]error),
		Calls:   make(map[string]int),
	}
}

// AddSecret registers a secret with no versions.
func (f *FakeSecretsManagerClient) AddSecret(name string, rotationEnabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = &SecretData{RotationEnabled: rotationEnabled, Versions: make(map[string]*VersionData)}
}

// AddSecretString registers a rotation-enabled secret whose version v1 holds
// value as AWSCURRENT.
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.AddSecret(name, true)
	f.AddVersion(name, "v1", aws.String(value), awsCurrent)
}

// AddVersion adds a version and moves labels onto it.
func (f *FakeSecretsManagerClient) AddVersion(name, versionID string, value *string, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := f.Secrets[name]
	data.Versions[versionID] = &VersionData{Value: value}
	for _, label := range labels {
		data.move(label, versionID)
	}
}

// AddError configures the fake to return an error for a specific secret
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// CallCount returns how many times op was invoked.
func (f *FakeSecretsManagerClient) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// Labels returns the sorted labels of a version.
func (f *FakeSecretsManagerClient) Labels(name, versionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.Secrets[name].Versions[versionID]
	if !ok {
		return nil
	}
	labels := append([]string(nil), v.Labels...)
	sort.Strings(labels)
	return labels
}

// DescribeSecret fakes the DescribeSecret operation
func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if f.DescribeSecretFunc != nil {
		return f.DescribeSecretFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.lookup("DescribeSecret", name)
	if err != nil {
		return nil, err
	}

	stages := make(map[string][]string, len(data.Versions))
	for id, v := range data.Versions {
		if len(v.Labels) > 0 || v.Value != nil {
			stages[id] = append([]string(nil), v.Labels...)
		}
	}

	return &secretsmanager.DescribeSecretOutput{
		ARN:                aws.String(arn(name)),
		Name:               aws.String(name),
		RotationEnabled:    aws.Bool(data.RotationEnabled),
		VersionIdsToStages: stages,
	}, nil
}

// GetSecretValue fakes the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.lookup("GetSecretValue", name)
	if err != nil {
		return nil, err
	}

	versionID := aws.ToString(params.VersionId)
	label := aws.ToString(params.VersionStage)
	if versionID == "" {
		if label == "" {
			label = awsCurrent
		}
		versionID = data.holder(label)
	}

	v, ok := data.Versions[versionID]
	if !ok || v.Value == nil || (label != "" && !contains(v.Labels, label)) {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret value for VersionId: %s, VersionStage: %s", versionID, label)),
		}
	}

	return &secretsmanager.GetSecretValueOutput{
		ARN:           aws.String(arn(name)),
		Name:          aws.String(name),
		SecretString:  v.Value,
		VersionId:     aws.String(versionID),
		VersionStages: append([]string(nil), v.Labels...),
	}, nil
}

// PutSecretValue fakes the PutSecretValue operation. ClientRequestToken is the
// version ID; labels default to AWSCURRENT.
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if f.PutSecretValueFunc != nil {
		return f.PutSecretValueFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.lookup("PutSecretValue", name)
	if err != nil {
		return nil, err
	}

	versionID := aws.ToString(params.ClientRequestToken)
	out := &secretsmanager.PutSecretValueOutput{
		ARN:       aws.String(arn(name)),
		Name:      aws.String(name),
		VersionId: aws.String(versionID),
	}

	if v, ok := data.Versions[versionID]; ok && v.Value != nil {
		if aws.ToString(v.Value) != aws.ToString(params.SecretString) {
			return nil, &types.ResourceExistsException{
				Message: aws.String(fmt.Sprintf("You can't modify an existing version, you can only create a new version. VersionId: %s", versionID)),
			}
		}
		out.VersionStages = append([]string(nil), v.Labels...)
		return out, nil
	}

	v, ok := data.Versions[versionID]
	if !ok {
		v = &VersionData{}
		data.Versions[versionID] = v
	}
	v.Value = aws.String(aws.ToString(params.SecretString))

	labels := params.VersionStages
	if len(labels) == 0 {
		labels = []string{awsCurrent}
	}
	for _, label := range labels {
		data.move(label, versionID)
	}
	out.VersionStages = append([]string(nil), v.Labels...)
	return out, nil
}

// UpdateSecretVersionStage fakes the UpdateSecretVersionStage operation
func (f *FakeSecretsManagerClient) UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	if f.UpdateSecretVersionStageFunc != nil {
		return f.UpdateSecretVersionStageFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.lookup("UpdateSecretVersionStage", name)
	if err != nil {
		return nil, err
	}

	label := aws.ToString(params.VersionStage)
	moveTo := aws.ToString(params.MoveToVersionId)
	removeFrom := aws.ToString(params.RemoveFromVersionId)
	holder := data.holder(label)

	if removeFrom != "" && holder != removeFrom {
		return nil, &types.InvalidParameterException{
			Message: aws.String(fmt.Sprintf("The staging label %s is not attached to version %s", label, removeFrom)),
		}
	}

	if moveTo != "" {
		if _, ok := data.Versions[moveTo]; !ok {
			return nil, &types.ResourceNotFoundException{
				Message: aws.String("Secrets Manager can't find the specified secret version: " + moveTo),
			}
		}
		if holder != "" && holder != moveTo && removeFrom == "" {
			return nil, &types.InvalidParameterException{
				Message: aws.String(fmt.Sprintf("The staging label %s is currently attached to version %s. You must specify it as RemoveFromVersionId", label, holder)),
			}
		}
		data.move(label, moveTo)
	} else if removeFrom != "" {
		v := data.Versions[removeFrom]
		v.Labels = without(v.Labels, label)
	}

	return &secretsmanager.UpdateSecretVersionStageOutput{
		ARN:  aws.String(arn(name)),
		Name: aws.String(name),
	}, nil
}

// GetRandomPassword fakes the GetRandomPassword operation
func (f *FakeSecretsManagerClient) GetRandomPassword(ctx context.Context, params *secretsmanager.GetRandomPasswordInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetRandomPasswordOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls["GetRandomPassword"]++
	f.PasswordRequests = append(f.PasswordRequests, params)

	password := f.RandomPassword
	if password == "" {
		length := int(aws.ToInt64(params.PasswordLength))
		if length == 0 {
			length = 32
		}
		password = strings.Repeat("x", length)
	}
	return &secretsmanager.GetRandomPasswordOutput{RandomPassword: aws.String(password)}, nil
}

func (f *FakeSecretsManagerClient) lookup(op, name string) (*SecretData, error) {
	f.Calls[op]++

	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	data, exists := f.Secrets[name]
	if !exists {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}
	return data, nil
}

func (d *SecretData) holder(label string) string {
	for id, v := range d.Versions {
		if contains(v.Labels, label) {
			return id
		}
	}
	return ""
}

// move attaches label to versionID, detaching it from its previous holder.
func (d *SecretData) move(label, versionID string) {
	old := d.holder(label)
	if old == versionID {
		return
	}
	if old != "" {
		d.Versions[old].Labels = without(d.Versions[old].Labels, label)
		if label == awsCurrent {
			if prev := d.holder(awsPrevious); prev != "" {
				d.Versions[prev].Labels = without(d.Versions[prev].Labels, awsPrevious)
			}
			d.Versions[old].Labels = append(d.Versions[old].Labels, awsPrevious)
		}
	}
	v := d.Versions[versionID]
	v.Labels = append(v.Labels, label)
	if label == awsCurrent {
		v.Labels = without(v.Labels, awsPending)
	}
}

func contains(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func without(labels []string, label string) []string {
	out := labels[:0]
	for _, l := range labels {
		if l != label {
			out = append(out, l)
		}
	}
	return out
}

func arn(name string) string {
	return "arn:aws:secretsmanager:us-east-1:123456789012:secret:" + name
}

// FakeSTSClient returns a fixed caller identity.
type FakeSTSClient struct {
	Account string
	Arn     string
	UserID  string
	Err     error
}

// GetCallerIdentity fakes the GetCallerIdentity operation
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.Arn),
		UserId:  aws.String(f.UserID),
	}, nil
}
