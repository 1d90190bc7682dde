// Command api runs the analytics hub observability service.
package main

import (
	"os"

	"github.com/spf13/cobra"

	appErrors "analytics-hub-backend/pkg/errors"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "analytics-hub",
		Short: "Observability core for the analytics hub",
		Long: `analytics-hub serves health, metrics and alert endpoints for the
analytics hub and evaluates alert rules in the background.

Quick start:
  analytics-hub serve                      # Start the HTTP server
  analytics-hub validate-config -c app.yml # Check a configuration file
  analytics-hub status --url http://localhost:8000`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (defaults to $CONFIG_FILE or ./config)")

	cmd.AddCommand(serveCmd(&configFile))
	cmd.AddCommand(validateCmd(&configFile))
	cmd.AddCommand(statusCmd())
	return cmd
}

func main() {
	root := rootCmd()
	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for bad configuration or input, 3 when the service or a
// dependency cannot be reached and 1 otherwise.
func exitCode(err error) int {
	switch {
	case appErrors.IsValidation(err):
		return 2
	case appErrors.IsUnavailable(err), appErrors.IsNotFound(err):
		return 3
	}
	return 1
}
