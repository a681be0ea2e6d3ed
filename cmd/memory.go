// File: cmd/memory.go
package cmd

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/service"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

func newMemoryCmd(a *app) *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and edit remembered field values",
	}

	memoryCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the field-memory record as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := service.OpenMemory(a.cfg, a.logger)
			if err != nil {
				return err
			}
			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(store.Load())
		},
	})

	memoryCmd.AddCommand(&cobra.Command{
		Use:   "forget FIELD VALUE",
		Short: "Remove a remembered value (setor, atividade or intervencao)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := service.OpenMemory(a.cfg, a.logger)
			if err != nil {
				return err
			}
			if err := store.Forget(submission.Field(args[0]), args[1]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Removed %q from %s.\n", args[1], args[0])
			return nil
		},
	})

	memoryCmd.AddCommand(&cobra.Command{
		Use:   "lookup INTERVENTION",
		Short: "Show the remembered CS and submission count of an intervention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := service.OpenMemory(a.cfg, a.logger)
			if err != nil {
				return err
			}
			cs, count := store.Load().InterventionSummary(args[0])
			if cs == "" {
				cs = "-"
			}
			printf(cmd.OutOrStdout(), "CS: %s  Count: %d\n", cs, count)
			return nil
		},
	})
	return memoryCmd
}
