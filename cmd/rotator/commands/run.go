package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	rerrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/pkg/rotation"
)

func NewRunCommand(cfg *config.Config, opts *Options) *cobra.Command {
	var (
		secretID string
		token    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all four phases for a staged version",
		Long: `Run createSecret, setSecret, testSecret and finishSecret in order for a
token the store has already staged PENDING. Each phase goes through the same
dispatcher as 'rotator step', so a run interrupted part-way can be repeated.`,
		Example: `  rotator store begin --secret-id db/app --token v2 --store sqlite --store-path ./rotator.db
  rotator run --secret-id db/app --token v2 --store sqlite --store-path ./rotator.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			orch := rt.orchestrator(cfg)
			out := cmd.OutOrStdout()

			for _, step := range rotation.Steps() {
				outcome, err := orch.Handle(cmd.Context(), rotation.Request{SecretID: secretID, Token: token, Step: step})
				if err != nil {
					_, _ = fmt.Fprintf(out, "%s %s failed\n", failMark(), step)
					_ = rt.saveFixture()
					return rerrors.RotationError(step, err)
				}
				if err := printOutcome(out, outcome, "text"); err != nil {
					return err
				}
			}

			if err := rt.saveFixture(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "%s Rotation of %s to version %s complete\n", okMark(), secretID, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secretID, "secret-id", "", "Secret ARN or name (required)")
	cmd.Flags().StringVar(&token, "token", "", "Client request token of the PENDING version (required)")
	_ = cmd.MarkFlagRequired("secret-id")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}
