package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	rerrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the configuration format version written by this release.
const CurrentVersion = 1

// Store types.
const (
	StoreAWS    = "aws"
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Defaults applied before the file and the environment.
const (
	DefaultRegion         = "us-east-1"
	DefaultStrategy       = "random"
	DefaultPasswordLength = 32
	DefaultPasswordField  = "password"
	DefaultTimeoutMs      = 30000
	DefaultServerAddr     = ":8080"
	DefaultMetricsPath    = "/metrics"
)

// Environment variables overlaid on the file.
const (
	EnvRegion            = "AWS_REGION"
	EnvEndpoint          = "SECRETS_MANAGER_ENDPOINT"
	EnvStrategy          = "ROTATOR_STRATEGY"
	EnvStore             = "ROTATOR_STORE"
	EnvExcludeCharacters = "EXCLUDE_CHARACTERS"
	EnvPasswordLength    = "PASSWORD_LENGTH"
)

//go:embed schema.json
var schemaJSON string

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition

	// LookupEnv reads the environment overlay; os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)
}

// Definition represents the rotator.yaml structure
type Definition struct {
	Version  int            `yaml:"version"`
	Store    StoreConfig    `yaml:"store"`
	Strategy StrategyConfig `yaml:"strategy"`
	Server   ServerConfig   `yaml:"server"`
}

// StoreConfig selects and configures the secret store.
type StoreConfig struct {
	Type      string `yaml:"type"`
	Name      string `yaml:"name,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Profile   string `yaml:"profile,omitempty"`
	Fixture   string `yaml:"fixture,omitempty"` // memory: YAML fixture to seed from
	Path      string `yaml:"path,omitempty"`    // sqlite: database file
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
}

// StrategyConfig selects the rotation strategy.
type StrategyConfig struct {
	Name      string         `yaml:"name"`
	TimeoutMs int            `yaml:"timeout_ms,omitempty"`
	Password  PasswordConfig `yaml:"password"`
}

// PasswordConfig controls candidate generation.
type PasswordConfig struct {
	Length             int    `yaml:"length"`
	ExcludeCharacters  string `yaml:"exclude_characters,omitempty"`
	ExcludePunctuation bool   `yaml:"exclude_punctuation,omitempty"`
	ExcludeNumbers     bool   `yaml:"exclude_numbers,omitempty"`
	IncludeSpace       bool   `yaml:"include_space,omitempty"`
	Field              string `yaml:"field,omitempty"`
}

// ServerConfig configures `rotator serve`.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// Defaults returns the definition used when no file is given.
func Defaults() Definition {
	return Definition{
		Version: CurrentVersion,
		Store: StoreConfig{
			Type:      StoreAWS,
			Region:    DefaultRegion,
			TimeoutMs: DefaultTimeoutMs,
		},
		Strategy: StrategyConfig{
			Name:      DefaultStrategy,
			TimeoutMs: DefaultTimeoutMs,
			Password: PasswordConfig{
				Length: DefaultPasswordLength,
				Field:  DefaultPasswordField,
			},
		},
		Server: ServerConfig{
			Addr:        DefaultServerAddr,
			MetricsPath: DefaultMetricsPath,
		},
	}
}

// Load reads the configuration file, if any, then applies the environment.
// Without a Path the defaults are used.
func (c *Config) Load() error {
	def := Defaults()

	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return rerrors.ConfigError{
					Field:      "path",
					Value:      c.Path,
					Message:    "configuration file not found",
					Suggestion: "Check the --config path, or omit it to use defaults and environment variables",
				}
			}
			return rerrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}

		if err := parse(data, &def); err != nil {
			return err
		}
	}

	if err := applyEnv(&def, c.lookup()); err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = &def
	if c.Logger != nil {
		c.Logger.Debug("Loaded configuration: store=%s strategy=%s", def.Store.Type, def.Strategy.Name)
	}
	return nil
}

func (c *Config) lookup() func(string) (string, bool) {
	if c.LookupEnv != nil {
		return c.LookupEnv
	}
	return os.LookupEnv
}

// parse validates data against the schema and decodes it over def.
func parse(data []byte, def *Definition) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return rerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		return nil
	}

	if err := validateSchema(raw); err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, def); err != nil {
		return rerrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: err.Error(),
		}
	}
	return nil
}

func validateSchema(doc interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return rerrors.ConfigError{
		Message:    "schema validation failed:\n  - " + strings.Join(messages, "\n  - "),
		Suggestion: "Fix the listed fields in your rotator.yaml",
	}
}

func applyEnv(def *Definition, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRegion); ok && v != "" {
		def.Store.Region = v
	}
	if v, ok := lookup(EnvEndpoint); ok && v != "" {
		def.Store.Endpoint = v
	}
	if v, ok := lookup(EnvStore); ok && v != "" {
		def.Store.Type = v
	}
	if v, ok := lookup(EnvStrategy); ok && v != "" {
		def.Strategy.Name = v
	}
	if v, ok := lookup(EnvExcludeCharacters); ok {
		def.Strategy.Password.ExcludeCharacters = v
	}
	if v, ok := lookup(EnvPasswordLength); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return rerrors.ConfigError{
				Field:      EnvPasswordLength,
				Value:      v,
				Message:    "must be an integer",
				Suggestion: "Set PASSWORD_LENGTH to a positive number such as 32",
			}
		}
		def.Strategy.Password.Length = n
	}
	return nil
}

// Validate checks the settings the schema cannot express.
func (d Definition) Validate() error {
	if d.Version > CurrentVersion {
		return rerrors.ConfigError{
			Field:      "version",
			Value:      d.Version,
			Message:    "unsupported configuration version",
			Suggestion: fmt.Sprintf("Set 'version: %d' at the top of your rotator.yaml file", CurrentVersion),
		}
	}

	switch d.Store.Type {
	case StoreAWS, StoreMemory:
	case StoreSQLite:
		if d.Store.Path == "" {
			return rerrors.ConfigError{
				Field:      "store.path",
				Message:    "sqlite store requires a database path",
				Suggestion: "Add 'path: ./rotator.db' under 'store:'",
			}
		}
	default:
		return rerrors.ConfigError{
			Field:      "store.type",
			Value:      d.Store.Type,
			Message:    "unknown store type",
			Suggestion: "Use one of: aws, memory, sqlite",
		}
	}

	if d.Strategy.Name == "" {
		return rerrors.ConfigError{
			Field:      "strategy.name",
			Message:    "no rotation strategy selected",
			Suggestion: "Run 'rotator strategies' to list available strategies",
		}
	}
	if d.Strategy.Password.Length <= 0 {
		return rerrors.ConfigError{
			Field:      "strategy.password.length",
			Value:      d.Strategy.Password.Length,
			Message:    "password length must be positive",
			Suggestion: "Set a length such as 32",
		}
	}
	return nil
}

// Timeout returns the store call timeout.
func (s StoreConfig) Timeout() time.Duration {
	return millis(s.TimeoutMs)
}

// Timeout returns the strategy's downstream timeout.
func (s StrategyConfig) Timeout() time.Duration {
	return millis(s.TimeoutMs)
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}
