package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"analytics-hub-backend/internal/app"
	"analytics-hub-backend/internal/config"
)

func validateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%s)\n", cfg.Environment)
			for _, src := range cfg.LoadedFrom {
				fmt.Fprintf(out, "  source: %s\n", src)
			}
			fmt.Fprintf(out, "  listen: %s\n", cfg.Server.Addr())
			fmt.Fprintf(out, "  alert rules: %d\n", len(app.AlertThresholds(cfg.Alerts)))
			return nil
		},
	}
}
