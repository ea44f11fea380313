package strategies

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/secretstore"
)

const (
	// DefaultPasswordLength matches the store's own generator default.
	DefaultPasswordLength = 32

	// DefaultPasswordField is the JSON key replaced in structured secrets.
	DefaultPasswordField = "password"

	lowercase   = "abcdefghijklmnopqrstuvwxyz"
	uppercase   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits      = "0123456789"
	punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// RandomOptions configures password generation.
type RandomOptions struct {
	Length             int
	ExcludeCharacters  string
	ExcludePunctuation bool
	ExcludeNumbers     bool
	IncludeSpace       bool

	// Field is the JSON key replaced when the CURRENT value is a JSON object.
	Field string

	Logger *logging.Logger
}

func (o RandomOptions) withDefaults() RandomOptions {
	if o.Length <= 0 {
		o.Length = DefaultPasswordLength
	}
	if o.Field == "" {
		o.Field = DefaultPasswordField
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// Spec converts the options to a store password request.
func (o RandomOptions) Spec() secretstore.PasswordSpec {
	o = o.withDefaults()
	return secretstore.PasswordSpec{
		Length:             o.Length,
		ExcludeCharacters:  o.ExcludeCharacters,
		ExcludePunctuation: o.ExcludePunctuation,
		ExcludeNumbers:     o.ExcludeNumbers,
		IncludeSpace:       o.IncludeSpace,
	}
}

// Random rotates secrets that have no downstream service: a new password is
// generated and staged, and set/test only check the staged value is usable.
type Random struct {
	opts   RandomOptions
	logger *logging.Logger
}

// NewRandom creates a random strategy.
func NewRandom(opts RandomOptions) *Random {
	opts = opts.withDefaults()
	return &Random{opts: opts, logger: opts.Logger}
}

// Name returns the strategy name.
func (r *Random) Name() string {
	return "random"
}

// GenerateSecret returns a fresh password. When the CURRENT value is a JSON
// object only the password field is replaced.
func (r *Random) GenerateSecret(ctx context.Context, t rotation.Target) (string, error) {
	password, err := newPassword(ctx, t.Store, r.opts.Spec())
	if err != nil {
		return "", err
	}

	current, err := t.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("read CURRENT value: %w", err)
	}

	value, structured, err := replaceField(current.Value, r.opts.Field, password)
	if err != nil {
		return "", err
	}
	if structured {
		r.logger.Debug("Replaced %q in structured secret %s", r.opts.Field, t)
	}
	return value, nil
}

// SetSecret has no downstream to update; it only checks the PENDING value.
func (r *Random) SetSecret(ctx context.Context, t rotation.Target) error {
	return requirePending(ctx, t)
}

// TestSecret checks the PENDING value is readable and non-empty.
func (r *Random) TestSecret(ctx context.Context, t rotation.Target) error {
	return requirePending(ctx, t)
}

func requirePending(ctx context.Context, t rotation.Target) error {
	pending, err := t.Pending(ctx)
	if err != nil {
		return fmt.Errorf("read PENDING value: %w", err)
	}
	if pending.Value == "" {
		return fmt.Errorf("PENDING value of %s is empty", t)
	}
	return nil
}

// newPassword asks the store for a password when it can generate one, and
// falls back to crypto/rand otherwise.
func newPassword(ctx context.Context, store secretstore.Client, spec secretstore.PasswordSpec) (string, error) {
	if gen, ok := store.(secretstore.PasswordGenerator); ok {
		password, err := gen.GetRandomPassword(ctx, spec)
		if err != nil {
			return "", fmt.Errorf("generate password with %s: %w", store.Name(), err)
		}
		return password, nil
	}
	return GeneratePassword(spec)
}

// GeneratePassword draws spec.Length characters uniformly from the allowed set.
func GeneratePassword(spec secretstore.PasswordSpec) (string, error) {
	length := spec.Length
	if length <= 0 {
		length = DefaultPasswordLength
	}

	charset := Charset(spec)
	if charset == "" {
		return "", fmt.Errorf("password character set is empty after exclusions")
	}

	limit := big.NewInt(int64(len(charset)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		b.WriteByte(charset[n.Int64()])
	}
	return b.String(), nil
}

// Charset returns the characters a password for spec may contain.
func Charset(spec secretstore.PasswordSpec) string {
	set := lowercase + uppercase
	if !spec.ExcludeNumbers {
		set += digits
	}
	if !spec.ExcludePunctuation {
		set += punctuation
	}
	if spec.IncludeSpace {
		set += " "
	}
	if spec.ExcludeCharacters == "" {
		return set
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(spec.ExcludeCharacters, r) {
			return -1
		}
		return r
	}, set)
}

// replaceField sets field to password when value is a JSON object and returns
// the re-encoded object. Any other value is replaced wholesale.
func replaceField(value, field, password string) (string, bool, error) {
	trimmed := bytes.TrimSpace([]byte(value))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return password, false, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return password, false, nil
	}

	encoded, err := json.Marshal(password)
	if err != nil {
		return "", true, err
	}
	doc[field] = encoded

	out, err := json.Marshal(doc)
	if err != nil {
		return "", true, fmt.Errorf("encode structured secret: %w", err)
	}
	return string(out), true, nil
}
