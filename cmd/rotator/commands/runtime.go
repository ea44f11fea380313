package commands

import (
	"context"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/systmms/rotator/internal/config"
	rerrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/secretstores"
	"github.com/systmms/rotator/internal/secretstores/awssm"
	"github.com/systmms/rotator/internal/secretstores/memstore"
	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/rotation/strategies"
	"github.com/systmms/rotator/pkg/secretstore"
)

// Options holds the global flags that override the configuration file.
type Options struct {
	Store     string
	StorePath string
	Fixture   string
	Strategy  string

	// AWSOptions are passed to the AWS store; tests inject fake clients here.
	AWSOptions []awssm.Option

	// StrategyOptions are passed to the built-in strategies.
	StrategyOptions *strategies.Options
}

// AddFlags registers the override flags.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.Store, "store", "", "Secret store: aws, memory, sqlite (overrides config)")
	flags.StringVar(&o.StorePath, "store-path", "", "SQLite database path (overrides config)")
	flags.StringVar(&o.Fixture, "fixture", "", "YAML fixture to seed the memory store from")
	flags.StringVar(&o.Strategy, "strategy", "", "Rotation strategy (overrides config)")
}

func (o *Options) apply(def *config.Definition) {
	if o.Store != "" {
		def.Store.Type = o.Store
	}
	if o.StorePath != "" {
		def.Store.Path = o.StorePath
	}
	if o.Fixture != "" {
		def.Store.Fixture = o.Fixture
	}
	if o.Strategy != "" {
		def.Strategy.Name = o.Strategy
	}
}

// runtime is what a command needs to invoke rotation phases.
type runtime struct {
	def      *config.Definition
	store    secretstore.Client
	registry *rotation.Registry
	strategy rotation.Strategy
	closers  []func() error
}

// loadDefinition loads the configuration and applies flag overrides.
func loadDefinition(cfg *config.Config, opts *Options) (*config.Definition, error) {
	if cfg.Definition == nil {
		if err := cfg.Load(); err != nil {
			return nil, err
		}
	}
	def := *cfg.Definition
	opts.apply(&def)
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, opts *Options) (*runtime, error) {
	def, err := loadDefinition(cfg, opts)
	if err != nil {
		return nil, err
	}

	rt := &runtime{def: def}

	rt.store, err = rt.openStore(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	rt.registry, err = newRegistry(cfg, opts, def)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.strategy, err = rt.registry.Lookup(def.Strategy.Name)
	if err != nil {
		_ = rt.Close()
		return nil, rerrors.ConfigError{
			Field:      "strategy.name",
			Value:      def.Strategy.Name,
			Message:    err.Error(),
			Suggestion: "Run 'rotator strategies' to list available strategies",
		}
	}
	return rt, nil
}

func newRegistry(cfg *config.Config, opts *Options, def *config.Definition) (*rotation.Registry, error) {
	sopts := strategyOptions(def)
	if opts.StrategyOptions != nil {
		sopts = *opts.StrategyOptions
	}
	return strategies.NewRegistry(cfg.Logger, sopts)
}

func strategyOptions(def *config.Definition) strategies.Options {
	pw := def.Strategy.Password
	return strategies.Options{
		Password: strategies.RandomOptions{
			Length:             pw.Length,
			ExcludeCharacters:  pw.ExcludeCharacters,
			ExcludePunctuation: pw.ExcludePunctuation,
			ExcludeNumbers:     pw.ExcludeNumbers,
			IncludeSpace:       pw.IncludeSpace,
			Field:              pw.Field,
		},
		Timeout: def.Strategy.Timeout(),
	}
}

func (rt *runtime) openStore(ctx context.Context, cfg *config.Config, opts *Options) (secretstore.Client, error) {
	sc := rt.def.Store

	store, err := secretstores.NewRegistry(opts.AWSOptions...).CreateSecretStore(ctx, sc)
	if err != nil {
		switch sc.Type {
		case config.StoreMemory:
			return nil, rerrors.UserError{
				Message:    "Failed to load memory store fixture",
				Details:    err.Error(),
				Suggestion: "Check the --fixture path and its YAML",
				Err:        err,
			}
		case config.StoreSQLite:
			return nil, rerrors.UserError{
				Message:    "Failed to open SQLite store",
				Details:    err.Error(),
				Suggestion: "Check that the directory of store.path is writable",
				Err:        err,
			}
		case config.StoreAWS:
			return nil, rerrors.UserError{
				Message:    "Failed to create AWS Secrets Manager client",
				Details:    err.Error(),
				Suggestion: rerrors.StoreSuggestion("aws", err),
				Err:        err,
			}
		}
		return nil, err
	}

	if closer, ok := store.(io.Closer); ok {
		rt.closers = append(rt.closers, closer.Close)
	}
	if aws, isAWS := store.(*awssm.Store); isAWS {
		cfg.Logger.Debug("Using AWS Secrets Manager in %s", aws.Region())
	}
	return store, nil
}

func (rt *runtime) orchestrator(cfg *config.Config, extra ...rotation.Option) *rotation.Orchestrator {
	opts := append([]rotation.Option{rotation.WithLogger(cfg.Logger)}, extra...)
	return rotation.New(secretstores.WithTimeout(rt.store, rt.def.Store.Timeout()), rt.strategy, opts...)
}

// Close releases the store.
func (rt *runtime) Close() error {
	var first error
	for _, closeFn := range rt.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}

// saveFixture writes a fixture-backed memory store back to its file so that
// consecutive invocations see each other's work.
func (rt *runtime) saveFixture() error {
	store, isMem := rt.store.(*memstore.Store)
	if !isMem || rt.def.Store.Fixture == "" {
		return nil
	}
	if err := store.SaveFile(rt.def.Store.Fixture); err != nil {
		return rerrors.UserError{
			Message:    "Failed to write memory store fixture",
			Details:    err.Error(),
			Suggestion: "Check that the fixture file is writable",
			Err:        err,
		}
	}
	return nil
}

func okMark() string   { return color.GreenString("✓") }
func failMark() string { return color.RedString("✗") }
func skipMark() string { return color.YellowString("↷") }
func hintMark() string { return color.CyanString("→") }

func marker(action rotation.Action) string {
	if action == rotation.ActionSkipped {
		return skipMark()
	}
	return okMark()
}
