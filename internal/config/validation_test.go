package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/internal/logging"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rotator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	config := &Config{Logger: logging.Discard(), LookupEnv: noEnv}
	require.NoError(t, config.Load())

	def := config.Definition
	assert.Equal(t, StoreAWS, def.Store.Type)
	assert.Equal(t, "us-east-1", def.Store.Region)
	assert.Equal(t, "random", def.Strategy.Name)
	assert.Equal(t, 32, def.Strategy.Password.Length)
	assert.Equal(t, "password", def.Strategy.Password.Field)
	assert.Equal(t, ":8080", def.Server.Addr)
	assert.Equal(t, 30*time.Second, def.Strategy.Timeout())
}

func TestConfig_Load_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `version: 1
store:
  type: sqlite
  path: /tmp/rotator.db
  timeout_ms: 2500
strategy:
  name: sql
  password:
    length: 24
    exclude_characters: "/@\"'\\"
    exclude_punctuation: true
server:
  addr: ":9000"
`)

	config := &Config{Path: path, Logger: logging.Discard(), LookupEnv: noEnv}
	require.NoError(t, config.Load())

	def := config.Definition
	assert.Equal(t, StoreSQLite, def.Store.Type)
	assert.Equal(t, "/tmp/rotator.db", def.Store.Path)
	assert.Equal(t, 2500*time.Millisecond, def.Store.Timeout())
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "us-east-1", def.Store.Region)
	assert.Equal(t, "/metrics", def.Server.MetricsPath)
	assert.Equal(t, "password", def.Strategy.Password.Field)

	assert.Equal(t, "sql", def.Strategy.Name)
	assert.Equal(t, 24, def.Strategy.Password.Length)
	assert.Equal(t, `/@"'\`, def.Strategy.Password.ExcludeCharacters)
	assert.True(t, def.Strategy.Password.ExcludePunctuation)
	assert.Equal(t, ":9000", def.Server.Addr)
}

func TestConfig_Load_EmptyFile(t *testing.T) {
	t.Parallel()

	config := &Config{Path: writeConfig(t, ""), LookupEnv: noEnv}
	require.NoError(t, config.Load())
	assert.Equal(t, Defaults(), *config.Definition)
}

func TestConfig_EnvOverlay(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `store:
  type: aws
  region: eu-west-1
strategy:
  name: random
`)

	config := &Config{
		Path: path,
		LookupEnv: envMap(map[string]string{
			EnvRegion:            "ap-southeast-2",
			EnvEndpoint:          "http://localhost:4566",
			EnvStrategy:          "sql",
			EnvExcludeCharacters: "/@",
			EnvPasswordLength:    "48",
		}),
	}
	require.NoError(t, config.Load())

	def := config.Definition
	assert.Equal(t, "ap-southeast-2", def.Store.Region)
	assert.Equal(t, "http://localhost:4566", def.Store.Endpoint)
	assert.Equal(t, "sql", def.Strategy.Name)
	assert.Equal(t, "/@", def.Strategy.Password.ExcludeCharacters)
	assert.Equal(t, 48, def.Strategy.Password.Length)
}

func TestConfig_Validation_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		env      map[string]string
		errorMsg string
	}{
		{
			name:     "invalid yaml",
			content:  "store:\n  type: aws\n  bad syntax here [[[\n",
			errorMsg: "invalid YAML syntax",
		},
		{
			name:     "unknown store type",
			content:  "store:\n  type: vault\n",
			errorMsg: "schema validation failed",
		},
		{
			name:     "unknown top-level key",
			content:  "providers:\n  vault: {}\n",
			errorMsg: "schema validation failed",
		},
		{
			name:     "length out of range",
			content:  "strategy:\n  password:\n    length: 0\n",
			errorMsg: "schema validation failed",
		},
		{
			name:     "unsupported version",
			content:  "version: 999\n",
			errorMsg: "unsupported configuration version",
		},
		{
			name:     "sqlite without path",
			content:  "store:\n  type: sqlite\n",
			errorMsg: "sqlite store requires a database path",
		},
		{
			name:     "non-numeric length from env",
			content:  "version: 1\n",
			env:      map[string]string{EnvPasswordLength: "long"},
			errorMsg: "must be an integer",
		},
		{
			name:     "unknown store from env",
			content:  "version: 1\n",
			env:      map[string]string{EnvStore: "vault"},
			errorMsg: "unknown store type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config := &Config{Path: writeConfig(t, tt.content), LookupEnv: envMap(tt.env)}
			err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
			assert.Nil(t, config.Definition)
		})
	}
}

func TestConfig_Validation_MissingFile(t *testing.T) {
	t.Parallel()

	config := &Config{Path: "/nonexistent/path/to/rotator.yaml", LookupEnv: noEnv}
	err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}
