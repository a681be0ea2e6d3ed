// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Starts the HTTP API used by the web front end. The server runs until
interrupted, then finishes in-flight jobs within server.shutdown_timeout.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
				return err
			}
			// Re-read so the flag wins over the file.
			a.cfg.Server.Addr = a.v.GetString("server.addr")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withComponents(ctx, func(c *service.Components) error {
				a.logger.Info("Starting API server.", zap.String("addr", c.Config.Server.Addr))
				if err := c.API().Run(ctx); err != nil {
					return fmt.Errorf("api server: %w", err)
				}
				return nil
			})
		},
	}
	serveCmd.Flags().String("addr", ":8000", "Listen address")
	return serveCmd
}
