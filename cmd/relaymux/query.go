package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:     "query",
	Short:   "Query events known to the server",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		evs, err := relayClient.Query(ctx, filter)
		if err != nil {
			return fmt.Errorf("querying events: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), evs)
		}
		printEventTable(cmd.OutOrStdout(), evs)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream events matching a filter as they arrive",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		sinceLast := watchSinceLastOpened(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		return relayClient.Subscribe(ctx, filter, sinceLast, func(ev *model.Event) {
			if jsonOutput {
				// One compact object per line.
				fmt.Fprintln(out, compactJSON(ev))
				return
			}
			printEventLine(out, ev)
		})
	},
}

func init() {
	addFilterFlags(queryCmd)
	queryCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")

	addFilterFlags(watchCmd)
	watchCmd.Flags().Bool("since-last-opened", true, "only ask relays for events newer than the server's previous session")
}

// watchSinceLastOpened honors an explicit --since-last-opened, then the
// active remote's default.
func watchSinceLastOpened(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("since-last-opened") {
		v, _ := cmd.Flags().GetBool("since-last-opened")
		return v
	}
	return activeRemote().sinceLastOpened()
}
