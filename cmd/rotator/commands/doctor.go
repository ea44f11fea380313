package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	rerrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/secretstores/awssm"
	"github.com/systmms/rotator/pkg/secretstore"
)

func NewDoctorCommand(cfg *config.Config, opts *Options) *cobra.Command {
	var (
		verbose  bool
		secretID string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and store connectivity",
		Long: `Verify that rotator is properly configured and can reach its store.

This command checks:
- Configuration file validity
- Store construction and, for AWS, the caller identity
- The selected rotation strategy
- With --secret-id, that the secret exists, has rotation enabled and
  exactly one version staged CURRENT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var results []CheckResult

			def, err := loadDefinition(cfg, opts)
			if err != nil {
				results = append(results, CheckResult{Name: "config", Status: "error", Error: err.Error()})
				displayCheckResults(out, results, verbose)
				return fmt.Errorf("failed to load config: %w", err)
			}
			results = append(results, CheckResult{
				Name:    "config",
				Status:  "healthy",
				Message: fmt.Sprintf("store=%s strategy=%s", def.Store.Type, def.Strategy.Name),
			})

			rt, err := newRuntime(ctx, cfg, opts)
			if err != nil {
				results = append(results, CheckResult{Name: "store", Status: "error", Error: err.Error()})
				displayCheckResults(out, results, verbose)
				return summarize(out, results)
			}
			defer func() { _ = rt.Close() }()

			results = append(results, CheckResult{
				Name:    "strategy",
				Status:  "healthy",
				Message: rt.strategy.Name(),
			})

			if aws, isAWS := rt.store.(*awssm.Store); isAWS {
				results = append(results, checkIdentity(ctx, aws))
			}
			if secretID != "" {
				results = append(results, checkSecret(ctx, rt.store, secretID))
			}

			displayCheckResults(out, results, verbose)
			return summarize(out, results)
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for failed checks")
	cmd.Flags().StringVar(&secretID, "secret-id", "", "Also check a secret's rotation state")

	return cmd
}

// CheckResult is the outcome of one doctor check.
type CheckResult struct {
	Name        string
	Status      string // healthy, warning, error
	Message     string
	Error       string
	Suggestions []string
}

func checkIdentity(ctx context.Context, store *awssm.Store) CheckResult {
	result := CheckResult{Name: "identity"}
	id, err := store.CallerIdentity(ctx)
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
		result.Suggestions = []string{
			rerrors.StoreSuggestion(store.Name(), err),
			"Verify with: aws sts get-caller-identity",
		}
		return result
	}
	result.Status = "healthy"
	result.Message = fmt.Sprintf("%s (account %s)", id.ARN, id.Account)
	return result
}

func checkSecret(ctx context.Context, store secretstore.Client, secretID string) CheckResult {
	result := CheckResult{Name: "secret"}

	meta, err := store.DescribeSecret(ctx, secretID)
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
		if s := rerrors.StoreSuggestion(store.Name(), err); s != "" {
			result.Suggestions = append(result.Suggestions, s)
		}
		return result
	}

	current := meta.CurrentVersions()
	switch {
	case len(current) != 1:
		result.Status = "error"
		result.Error = fmt.Sprintf("%s has %d versions staged CURRENT", secretID, len(current))
		result.Suggestions = []string{"Repair the version staging so exactly one version holds CURRENT"}
	case !meta.RotationEnabled:
		result.Status = "warning"
		result.Message = fmt.Sprintf("%s has rotation disabled", secretID)
		result.Suggestions = []string{"Enable rotation on the secret before invoking rotation phases"}
	default:
		result.Status = "healthy"
		result.Message = fmt.Sprintf("%s rotation enabled, CURRENT is %s", secretID, current[0])
	}
	return result
}

// displayCheckResults shows check results in a formatted table
func displayCheckResults(out io.Writer, results []CheckResult, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")

	for _, result := range results {
		message := result.Message
		if result.Error != "" {
			message = result.Error
		}

		status := result.Status
		switch result.Status {
		case "healthy":
			status = okMark() + " " + status
		case "error":
			status = failMark() + " " + status
		default:
			status = skipMark() + " " + status
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", result.Name, status, message)
	}
	_ = w.Flush()

	if !verbose {
		return
	}
	for _, result := range results {
		if result.Status == "healthy" || len(result.Suggestions) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(out, "\n%s suggestions:\n", result.Name)
		for _, suggestion := range result.Suggestions {
			if suggestion != "" {
				_, _ = fmt.Fprintf(out, "  %s %s\n", hintMark(), suggestion)
			}
		}
	}
}

func summarize(out io.Writer, results []CheckResult) error {
	healthy := 0
	failed := 0
	for _, result := range results {
		switch result.Status {
		case "healthy":
			healthy++
		case "error":
			failed++
		}
	}

	_, _ = fmt.Fprintf(out, "\nSummary: %d/%d checks healthy\n", healthy, len(results))
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
