package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/secretstore"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// RotationError wraps an error from a rotation step with a suggestion chosen
// by its kind. UserErrors and ConfigErrors pass through unchanged.
func RotationError(step rotation.Step, err error) error {
	if err == nil {
		return nil
	}
	var ue UserError
	var ce ConfigError
	if errors.As(err, &ue) || errors.As(err, &ce) {
		return err
	}

	kind := rotation.KindOf(err)
	return UserError{
		Message:    fmt.Sprintf("%s failed (%s)", step, kind),
		Details:    err.Error(),
		Suggestion: rotationSuggestion(err, kind),
		Err:        err,
	}
}

func rotationSuggestion(err error, kind rotation.Kind) string {
	switch {
	case errors.Is(err, rotation.ErrInvalidRequest):
		return "Pass both --secret-id and --token, or an event with SecretId and ClientRequestToken"
	case errors.Is(err, rotation.ErrRotationDisabled):
		return "Enable rotation on the secret before invoking a rotation step"
	case errors.Is(err, rotation.ErrUnknownVersion):
		return "The token must name a version the store has staged for this secret"
	case errors.Is(err, rotation.ErrNotPending):
		return "The token is not staged as PENDING. Start a new rotation so the store stages it"
	case errors.Is(err, rotation.ErrUnknownStep):
		return "Use one of: createSecret, setSecret, testSecret, finishSecret"
	case errors.Is(err, rotation.ErrNoCurrentSecret):
		return "Store an initial value for the secret before rotating it"
	case errors.Is(err, rotation.ErrMultipleCurrentVersions), errors.Is(err, rotation.ErrNoCurrentVersionFound):
		return "Repair the version staging so exactly one version holds CURRENT"
	}

	var auth secretstore.AuthError
	if errors.As(err, &auth) {
		return StoreSuggestion(auth.Store, err)
	}

	switch kind {
	case rotation.KindDownstream:
		return "The strategy could not reach the downstream service. Check its connectivity and credentials, then retry the same step"
	case rotation.KindTransient:
		if s := StoreSuggestion("", err); s != "" {
			return s
		}
		return "The store call failed. Retry the same step; completed work is not repeated"
	}
	return ""
}

// StoreSuggestion returns a hint for a store failure, or "".
func StoreSuggestion(store string, err error) string {
	errStr := err.Error()

	if strings.HasPrefix(store, "aws") || strings.Contains(errStr, "secretsmanager") {
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:DescribeSecret, GetSecretValue, PutSecretValue and UpdateSecretVersionStage"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") {
			return "Verify the secret name and region. List secrets with: 'aws secretsmanager list-secrets'"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}
	}

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and store configuration"
	}

	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if rotation.KindOf(err).Retryable() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "json:") || strings.Contains(errStr, "invalid character") {
		return UserError{
			Message:    "Invalid JSON format",
			Suggestion: "The rotation event must be a JSON object with SecretId, ClientRequestToken and Step",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
