// File: cmd/logs.go
package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		follow  bool
		fromEnd bool
	)
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the JSON log file (logger.log_file)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Logger.LogFile
			if path == "" {
				return errors.New("logger.log_file is not set")
			}
			cfg := tail.Config{
				Follow:    follow,
				ReOpen:    follow,
				MustExist: true,
				Logger:    tail.DiscardingLogger,
			}
			if fromEnd {
				cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
			}
			t, err := tail.TailFile(path, cfg)
			if err != nil {
				return fmt.Errorf("failed to tail log file: %w", err)
			}
			defer t.Cleanup()
			defer func() { _ = t.Stop() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						return nil
					}
					if line.Err != nil {
						a.logger.Sugar().Warnf("Error reading log file: %v", line.Err)
						continue
					}
					printf(out, "%s\n", line.Text)
				}
			}
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	logsCmd.Flags().BoolVar(&fromEnd, "from-end", false, "skip existing lines")
	return logsCmd
}
