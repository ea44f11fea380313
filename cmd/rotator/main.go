package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/systmms/rotator/cmd/rotator/commands"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}
	opts := &commands.Options{}

	rootCmd := &cobra.Command{
		Use:   "rotator",
		Short: "Rotate secrets through the four-phase staging protocol",
		Long: `rotator runs secret rotation phases (createSecret, setSecret, testSecret,
finishSecret) against a version-staged secret store. Each invocation runs
exactly one phase and is safe to repeat.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor || color.NoColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (defaults and environment only when empty)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	opts.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		commands.NewStepCommand(cfg, opts),
		commands.NewRunCommand(cfg, opts),
		commands.NewServeCommand(cfg, opts),
		commands.NewDoctorCommand(cfg, opts),
		commands.NewStrategiesCommand(cfg, opts),
		commands.NewStoreCommand(cfg, opts),
	)

	return rootCmd.ExecuteContext(ctx)
}
