package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	rerrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/secretstores/memstore"
	"github.com/systmms/rotator/internal/secretstores/sqlitestore"
)

func NewStoreCommand(cfg *config.Config, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and prepare local secret stores",
		Long: `Inspect a secret's version staging, and prepare the local memory and SQLite
stores for rotation runs.`,
	}

	cmd.AddCommand(
		newStoreShowCommand(cfg, opts),
		newStoreImportCommand(cfg, opts),
		newStoreBeginCommand(cfg, opts),
	)
	return cmd
}

func newStoreShowCommand(cfg *config.Config, opts *Options) *cobra.Command {
	var secretID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the versions and stages of a secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			meta, err := rt.store.DescribeSecret(cmd.Context(), secretID)
			if err != nil {
				return rerrors.UserError{
					Message:    fmt.Sprintf("Failed to describe %s", secretID),
					Details:    err.Error(),
					Suggestion: rerrors.StoreSuggestion(rt.store.Name(), err),
					Err:        err,
				}
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Secret: %s\nRotation enabled: %t\n\n", meta.Name, meta.RotationEnabled)

			ids := make([]string, 0, len(meta.Versions))
			for id := range meta.Versions {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "VERSION\tSTAGES\n")
			_, _ = fmt.Fprintf(w, "-------\t------\n")
			for _, id := range ids {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", id, meta.Versions[id])
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&secretID, "secret-id", "", "Secret ARN or name (required)")
	_ = cmd.MarkFlagRequired("secret-id")
	return cmd
}

func newStoreImportCommand(cfg *config.Config, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FIXTURE",
		Short: "Load a YAML fixture into the SQLite store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(cfg, opts)
			if err != nil {
				return err
			}
			if def.Store.Type != config.StoreSQLite {
				return rerrors.UserError{
					Message:    fmt.Sprintf("Cannot import into a %s store", def.Store.Type),
					Suggestion: "Use --store sqlite --store-path <file>, or pass the fixture to the memory store with --fixture",
				}
			}

			fx, err := readFixtureFile(args[0])
			if err != nil {
				return err
			}

			store, err := sqlitestore.OpenStore(cmd.Context(), def.Store.Name, def.Store.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Import(cmd.Context(), fx); err != nil {
				return rerrors.UserError{
					Message:    "Failed to import fixture into SQLite store",
					Details:    err.Error(),
					Suggestion: "Each stage may be attached to only one version per secret",
					Err:        err,
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s Imported %d secret(s) into %s\n", okMark(), len(fx.Secrets), def.Store.Path)
			return nil
		},
	}
	return cmd
}

// beginner is implemented by stores that can start a rotation themselves.
type beginner interface {
	BeginRotation(ctx context.Context, secretID, versionID string) error
}

type memBeginner struct{ *memstore.Store }

func (m memBeginner) BeginRotation(_ context.Context, secretID, versionID string) error {
	m.Store.BeginRotation(secretID, versionID)
	return nil
}

func newStoreBeginCommand(cfg *config.Config, opts *Options) *cobra.Command {
	var secretID, token string

	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Stage a new version as PENDING, as the store does before invoking createSecret",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			var b beginner
			switch store := rt.store.(type) {
			case *memstore.Store:
				b = memBeginner{store}
			case beginner:
				b = store
			default:
				return rerrors.UserError{
					Message:    fmt.Sprintf("Store %s starts rotations itself", rt.store.Name()),
					Suggestion: "Use 'aws secretsmanager rotate-secret' to start a rotation on AWS",
				}
			}

			if _, err := rt.store.DescribeSecret(cmd.Context(), secretID); err != nil {
				return rerrors.UserError{
					Message:    fmt.Sprintf("Secret %s not found", secretID),
					Details:    err.Error(),
					Suggestion: "Import the secret first with 'rotator store import'",
					Err:        err,
				}
			}
			if err := b.BeginRotation(cmd.Context(), secretID, token); err != nil {
				return err
			}
			if err := rt.saveFixture(); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s Staged %s as PENDING for %s\n  %s Next: rotator run --secret-id %s --token %s\n",
				okMark(), token, secretID, hintMark(), secretID, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secretID, "secret-id", "", "Secret ARN or name (required)")
	cmd.Flags().StringVar(&token, "token", "", "Version ID to stage (required)")
	_ = cmd.MarkFlagRequired("secret-id")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func readFixtureFile(path string) (memstore.Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return memstore.Fixture{}, rerrors.SimplifyError(err)
	}
	defer func() { _ = f.Close() }()

	fx, err := memstore.ReadFixture(f)
	if err != nil {
		return memstore.Fixture{}, rerrors.UserError{
			Message:    "Invalid store fixture",
			Details:    strings.TrimPrefix(err.Error(), "failed to parse store fixture: "),
			Suggestion: "A fixture lists secrets with id, rotationEnabled and versions",
			Err:        err,
		}
	}
	return fx, nil
}
