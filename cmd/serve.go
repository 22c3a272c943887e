// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/diligence-cli/internal/observability"
	"github.com/xkilldash9x/diligence-cli/internal/server"
)

// newServeCmd creates the `serve` command: the dashboard API server with the
// live status websocket.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the dashboard API and the live agent status stream",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("server.listen_addr", cmd.Flags().Lookup("listen"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the listen address now that the flag is bound.
			appConfig.Server.ListenAddr = viper.GetString("server.listen_addr")

			comps, err := initializeComponents(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			srv, err := server.New(appConfig.Server, comps.Orchestrator, comps.Uploads, comps.Registry, logger)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}

	serveCmd.Flags().StringP("listen", "l", "", "Listen address for the dashboard API (overrides config/env)")

	return serveCmd
}
