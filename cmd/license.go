// File: cmd/license.go
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/license"
	"github.com/xkilldash9x/formpilot/internal/service"
)

func (a *app) openGate() (*license.Gate, error) {
	store, err := service.OpenMemory(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return service.NewGate(a.cfg, store, a.logger), nil
}

func newLicenseCmd(a *app) *cobra.Command {
	licenseCmd := &cobra.Command{
		Use:   "license",
		Short: "Validate or inspect the license",
	}

	licenseCmd.AddCommand(&cobra.Command{
		Use:   "validate KEY",
		Short: "Activate a license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := a.openGate()
			if err != nil {
				return err
			}
			expiry, err := gate.Validate(args[0])
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "License valid until %s\n", expiry.Local().Format(time.DateTime))
			return nil
		},
	})

	licenseCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := a.openGate()
			if err != nil {
				return err
			}
			st := gate.Status()
			switch {
			case st.Key == "":
				printf(cmd.OutOrStdout(), "No license.\n")
			case st.Authorized:
				printf(cmd.OutOrStdout(), "%s valid until %s\n", st.Key, st.Expiry.Local().Format(time.DateTime))
			default:
				printf(cmd.OutOrStdout(), "%s expired\n", st.Key)
			}
			return nil
		},
	})
	return licenseCmd
}
