package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
)

func NewStrategiesCommand(cfg *config.Config, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List available rotation strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(cfg, opts)
			if err != nil {
				return err
			}
			registry, err := newRegistry(cfg, opts, def)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tDESCRIPTION\tSELECTED\n")
			_, _ = fmt.Fprintf(w, "----\t-----------\t--------\n")
			for _, name := range registry.Names() {
				selected := ""
				if name == def.Strategy.Name {
					selected = "*"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, strategyDescription(name), selected)
			}
			return w.Flush()
		},
	}

	return cmd
}

// strategyDescription returns a description for a strategy name
func strategyDescription(name string) string {
	descriptions := map[string]string{
		"random": "Random password with no downstream service",
		"sql":    "Single-user PostgreSQL or MySQL password via ALTER USER",
	}

	if desc, exists := descriptions[name]; exists {
		return desc
	}
	return "No description available"
}
