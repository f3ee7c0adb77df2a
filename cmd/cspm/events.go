package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/events"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/output"
)

func newEventsCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Process resource change events",
	}
	cmd.AddCommand(newEventsHandleCmd(rt, opts))
	return cmd
}

func newEventsHandleCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "handle [file]",
		Short: "Route a CloudTrail event, direct invocation or SQS batch from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, args)
			if err != nil {
				return err
			}
			msgs, err := events.Split(payload)
			if err != nil {
				return err
			}

			a, err := newApp(cmd, rt, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(ctx)
			if err := a.loadAWS(ctx); err != nil {
				return err
			}

			router := events.NewRouter(a.auditor, a.repo, a.publisher, a.cfg.Events.Concurrency, a.logger)
			sum := router.HandleBatch(ctx, msgs)
			if a.jsonOutput() {
				if err := output.WriteJSON(a.out, sum); err != nil {
					return err
				}
			} else {
				for _, r := range sum.Results {
					line := fmt.Sprintf("%s: %d %s", r.MessageID, r.StatusCode, r.Action)
					if r.Error != nil {
						line += " (" + r.Error.Message + ")"
					}
					fmt.Fprintln(a.out, line)
				}
				fmt.Fprintf(a.out, "%d succeeded, %d failed\n", sum.Succeeded, sum.Failed)
			}
			if sum.Failed > 0 {
				return errUnhealthy
			}
			return nil
		},
	}
}

// readPayload reads the named file, or stdin when no file or "-" is given.
func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	return data, nil
}
