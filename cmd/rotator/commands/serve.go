package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/rotation/metrics"
	"github.com/systmms/rotator/internal/server"
	"github.com/systmms/rotator/pkg/rotation"
)

func NewServeCommand(cfg *config.Config, opts *Options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve rotation phases over HTTP",
		Long: `Serve rotation phases over HTTP until interrupted.

  POST /rotate     run one phase for a JSON rotation event
  GET  /healthz    liveness
  GET  /metrics    Prometheus metrics
  GET  /health     metrics server health`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if addr == "" {
				addr = rt.def.Server.Addr
			}

			srv := metrics.NewServer(metrics.ServerConfig{
				Addr: addr,
				Path: rt.def.Server.MetricsPath,
			}, cfg.Logger)

			orch := rt.orchestrator(cfg, rotation.WithMetrics(metrics.New()))
			srv.Handle("/", server.NewRouter(server.Deps{Orchestrator: orch, Logger: cfg.Logger}))

			cfg.Logger.Info("Serving strategy %s on store %s", rt.strategy.Name(), rt.store.Name())
			return srv.Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")

	return cmd
}
