// File: cmd/export.go
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/records"
	"github.com/xkilldash9x/formpilot/internal/service"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the submission audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f, err := records.ParseFormat(format)
			if err != nil {
				return err
			}
			// The audit store lives next to field memory.
			store, err := service.OpenMemory(a.cfg, a.logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			recorder, err := records.Open(ctx, a.cfg.Records, filepath.Dir(store.Path()), a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := recorder.Close(); cerr != nil {
					a.logger.Warn("Failed to close submission records.", zap.Error(cerr))
				}
			}()

			recs, err := recorder.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, ferr := os.Create(output)
				if ferr != nil {
					return fmt.Errorf("failed to create %s: %w", output, ferr)
				}
				defer func() {
					if cerr := file.Close(); cerr != nil && err == nil {
						err = cerr
					}
				}()
				w = file
			}
			if err := records.Export(w, f, recs); err != nil {
				return err
			}
			a.logger.Info("Exported submissions.", zap.Int("count", len(recs)), zap.String("format", format))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (json or csv)")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return exportCmd
}
