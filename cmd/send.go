// File: cmd/send.go
package cmd

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/service"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

// flagName maps a payload field to its command-line flag.
func flagName(f submission.Field) string {
	return strings.ReplaceAll(string(f), "_", "-")
}

// addPayloadFlags registers one string flag per payload field.
func addPayloadFlags(fs *pflag.FlagSet) {
	for _, f := range submission.Fields {
		fs.String(flagName(f), "", "value for "+string(f)+" (defaults to the last submitted value)")
	}
}

// payloadInput merges explicitly set flags over the remembered last values.
func payloadInput(fs *pflag.FlagSet, last map[string]string) submission.Input {
	in := make(submission.Input, len(submission.Fields))
	for _, f := range submission.Fields {
		in[f] = last[string(f)]
		if flag := fs.Lookup(flagName(f)); flag != nil && flag.Changed {
			in[f] = flag.Value.String()
		}
	}
	return in
}

// followEvents prints log and progress events until the returned stop
// function is called.
func followEvents(w io.Writer, bus *events.Bus) (stop func()) {
	ch, unsubscribe := bus.Subscribe(events.TopicLog, events.TopicProgress)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	show := func(msg events.Message) {
		switch p := msg.Payload.(type) {
		case events.Log:
			printf(w, "[%s] %s\n", p.Level, p.Message)
		case events.Progress:
			if p.Date == "" {
				break
			}
			printf(w, "[%d/%d] %s sent\n", p.Index+1, p.Total, p.Date)
		}
		bus.Acknowledge(msg)
	}
	go func() {
		defer wg.Done()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				show(msg)
			case <-done:
				// Publish is synchronous, so everything the run produced
				// is already buffered.
				for {
					select {
					case msg, ok := <-ch:
						if !ok {
							return
						}
						show(msg)
					default:
						return
					}
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
		unsubscribe()
	}
}

func newSendCmd(a *app) *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Submit the form once",
		Long: `Fills and submits the form once. Fields not given as flags are taken
from the values of the last successful submission.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withComponents(ctx, func(c *service.Components) error {
				p, err := submission.Build(payloadInput(cmd.Flags(), c.Memory.Load().LastValues))
				if err != nil {
					return err
				}
				stop := followEvents(cmd.OutOrStdout(), c.Bus)
				res, err := c.Engine.Send(ctx, p)
				stop()
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "Sent. %s count: %d\n", p.Intervention, res.Count)
				return nil
			})
		},
	}
	addPayloadFlags(sendCmd.Flags())
	return sendCmd
}

func newBatchCmd(a *app) *cobra.Command {
	var count int
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit the form repeatedly with rotating dates",
		Long: `Submits the form --count times in one browser tab. Item i is dated i days
before --data (today when not given). The first failure stops the batch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withComponents(ctx, func(c *service.Components) error {
				in := payloadInput(cmd.Flags(), c.Memory.Load().LastValues)
				if !cmd.Flags().Changed(flagName(submission.FieldDate)) {
					in[submission.FieldDate] = time.Now().Format(submission.DateLayout)
				}
				p, err := submission.Build(in)
				if err != nil {
					return err
				}
				return runBatch(ctx, cmd.OutOrStdout(), c, p, count)
			})
		},
	}
	addPayloadFlags(batchCmd.Flags())
	batchCmd.Flags().IntVarP(&count, "count", "n", 0, "number of submissions (default batch.size)")
	return batchCmd
}

func runBatch(ctx context.Context, w io.Writer, c *service.Components, p submission.Payload, count int) error {
	stop := followEvents(w, c.Bus)
	res, err := c.Engine.SendBatch(ctx, p, count)
	stop()
	if err != nil {
		printf(w, "Batch stopped after %d of %d.\n", res.Sent, res.Total)
		return err
	}
	printf(w, "Batch complete: %d sent. %s count: %d\n", res.Sent, p.Intervention, res.Count)
	return nil
}
