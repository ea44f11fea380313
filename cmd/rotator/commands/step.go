package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	rerrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/pkg/rotation"
)

func NewStepCommand(cfg *config.Config, opts *Options) *cobra.Command {
	var (
		req       rotation.Request
		step      string
		eventFile string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "step",
		Short: "Run one rotation phase",
		Long: `Run exactly one rotation phase for a secret version.

The phase is named with --step, or read from a JSON event in the shape the
secret store sends to rotation handlers:

  {"SecretId": "db/app", "ClientRequestToken": "v2", "Step": "createSecret"}

Flags given alongside --event override its fields. Replaying a phase that
already completed succeeds without repeating its work.`,
		Example: `  # Stage a new candidate for version v2
  rotator step --secret-id db/app --token v2 --step createSecret

  # Run the phase described by an event on stdin
  echo '{"SecretId":"db/app","ClientRequestToken":"v2","Step":"setSecret"}' | rotator step --event -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventFile != "" {
				event, err := readEvent(cmd.InOrStdin(), eventFile)
				if err != nil {
					return err
				}
				if req.SecretID == "" {
					req.SecretID = event.SecretID
				}
				if req.Token == "" {
					req.Token = event.Token
				}
				if step == "" {
					step = string(event.Step)
				}
			}
			if err := req.Step.UnmarshalText([]byte(step)); err != nil {
				return err
			}

			if output != "text" && output != "json" {
				return rerrors.UserError{
					Message:    fmt.Sprintf("Invalid --output value: %s", output),
					Suggestion: "Valid values are: text, json",
				}
			}

			rt, err := newRuntime(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			outcome, err := rt.orchestrator(cfg).Handle(cmd.Context(), req)
			if saveErr := rt.saveFixture(); saveErr != nil && err == nil {
				err = saveErr
			}
			if err != nil {
				return rerrors.RotationError(req.Step, err)
			}

			return printOutcome(cmd.OutOrStdout(), outcome, output)
		},
	}

	cmd.Flags().StringVar(&req.SecretID, "secret-id", "", "Secret ARN or name")
	cmd.Flags().StringVar(&req.Token, "token", "", "Client request token (version ID)")
	cmd.Flags().StringVar(&step, "step", "", "Phase: createSecret, setSecret, testSecret, finishSecret")
	cmd.Flags().StringVar(&eventFile, "event", "", "JSON event file, or - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")

	return cmd
}

func readEvent(stdin io.Reader, path string) (rotation.Request, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return rotation.Request{}, rerrors.SimplifyError(err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var event rotation.Request
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return rotation.Request{}, rerrors.SimplifyError(fmt.Errorf("decode rotation event: %w", err))
	}
	return event, nil
}

func printOutcome(w io.Writer, outcome rotation.Outcome, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}

	line := fmt.Sprintf("%s %s %s for %s (version %s)", marker(outcome.Action), outcome.Step, outcome.Action, outcome.SecretID, outcome.Token)
	if outcome.Reason != "" {
		line += "\n  " + hintMark() + " " + outcome.Reason
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
