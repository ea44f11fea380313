package secretstores

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/secretstores/awssm"
	"github.com/systmms/rotator/internal/secretstores/memstore"
	"github.com/systmms/rotator/internal/secretstores/sqlitestore"
	"github.com/systmms/rotator/pkg/secretstore"
)

// Factory builds a store from its configuration.
type Factory func(ctx context.Context, cfg config.StoreConfig) (secretstore.Client, error)

// Registry manages secret store creation and registration
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the aws, memory and sqlite stores.
// awsOpts are passed to every AWS store it builds.
func NewRegistry(awsOpts ...awssm.Option) *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register(config.StoreMemory, newMemoryStore)
	r.Register(config.StoreSQLite, newSQLiteStore)
	r.Register(config.StoreAWS, func(ctx context.Context, cfg config.StoreConfig) (secretstore.Client, error) {
		store, err := awssm.New(ctx, awssm.Config{
			Name:     cfg.Name,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Profile:  cfg.Profile,
		}, awsOpts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	})

	return r
}

// Register adds or replaces the factory for storeType.
func (r *Registry) Register(storeType string, factory Factory) {
	r.factories[storeType] = factory
}

// CreateSecretStore creates a secret store instance from configuration
func (r *Registry) CreateSecretStore(ctx context.Context, cfg config.StoreConfig) (secretstore.Client, error) {
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown secret store type: %s", cfg.Type)
	}
	return factory(ctx, cfg)
}

// GetSupportedTypes returns the registered store types, sorted.
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a secret store type is supported
func (r *Registry) IsSupported(storeType string) bool {
	_, ok := r.factories[storeType]
	return ok
}

func newMemoryStore(_ context.Context, cfg config.StoreConfig) (secretstore.Client, error) {
	store := memstore.New(cfg.Name)
	if cfg.Fixture != "" {
		if err := store.LoadFile(cfg.Fixture); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newSQLiteStore(ctx context.Context, cfg config.StoreConfig) (secretstore.Client, error) {
	store, err := sqlitestore.OpenStore(ctx, cfg.Name, cfg.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// WithTimeout bounds every call on store by timeout. A store that can
// generate passwords keeps that capability.
func WithTimeout(store secretstore.Client, timeout time.Duration) secretstore.Client {
	if timeout <= 0 {
		return store
	}
	tc := timeoutClient{inner: store, timeout: timeout}
	if gen, ok := store.(secretstore.PasswordGenerator); ok {
		return timeoutGenerator{timeoutClient: tc, gen: gen}
	}
	return tc
}

type timeoutClient struct {
	inner   secretstore.Client
	timeout time.Duration
}

func (c timeoutClient) Name() string { return c.inner.Name() }

func (c timeoutClient) DescribeSecret(ctx context.Context, secretID string) (secretstore.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.DescribeSecret(ctx, secretID)
}

func (c timeoutClient) GetSecretValue(ctx context.Context, secretID string, sel secretstore.ValueSelector) (secretstore.SecretValue, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.GetSecretValue(ctx, secretID, sel)
}

func (c timeoutClient) PutSecretValue(ctx context.Context, secretID, versionID, value string, stages ...secretstore.Stage) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.PutSecretValue(ctx, secretID, versionID, value, stages...)
}

func (c timeoutClient) UpdateSecretVersionStage(ctx context.Context, secretID string, stage secretstore.Stage, moveTo, removeFrom string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.UpdateSecretVersionStage(ctx, secretID, stage, moveTo, removeFrom)
}

type timeoutGenerator struct {
	timeoutClient
	gen secretstore.PasswordGenerator
}

func (g timeoutGenerator) GetRandomPassword(ctx context.Context, spec secretstore.PasswordSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.gen.GetRandomPassword(ctx, spec)
}
