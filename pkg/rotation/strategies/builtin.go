// Package strategies holds the reference rotation strategies: "random" for
// secrets with no downstream service and "sql" for single-user database
// credentials on PostgreSQL or MySQL.
package strategies

import (
	"time"

	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
)

// Options configures the built-in strategies.
type Options struct {
	Password RandomOptions

	// Open overrides how the sql strategy connects to databases.
	Open OpenFunc

	// Timeout bounds each downstream database call.
	Timeout time.Duration
}

// Register adds the built-in strategies to reg.
func Register(reg *rotation.Registry, opts Options) error {
	err := reg.Register("random", func(logger *logging.Logger) (rotation.Strategy, error) {
		password := opts.Password
		password.Logger = logger
		return NewRandom(password), nil
	})
	if err != nil {
		return err
	}

	return reg.Register("sql", func(logger *logging.Logger) (rotation.Strategy, error) {
		return NewSQL(SQLOptions{Password: opts.Password, Open: opts.Open, Timeout: opts.Timeout, Logger: logger}), nil
	})
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry(logger *logging.Logger, opts Options) (*rotation.Registry, error) {
	reg := rotation.NewRegistry(logger)
	if err := Register(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}
