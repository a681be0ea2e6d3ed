// File: cmd/token.go
package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/api"
)

func newTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin token for the export endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := a.cfg.Server.AdminSecret
			if secret == "" {
				return errors.New("server.admin_secret is not set (FORMPILOT_ADMIN_SECRET)")
			}
			token, err := api.IssueToken(secret, api.AdminSubject, ttl, time.Now())
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", token)
			return nil
		},
	}
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return tokenCmd
}
