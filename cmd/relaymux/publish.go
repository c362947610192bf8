package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:     "publish",
	Short:   "Publish an event through the server",
	GroupID: "events",
	Long: `Publish an event through the server. The event is indexed and delivered to
matching subscriptions; with --broadcast it is also sent to the server's relays.

The event is built from flags, or read as JSON with --event (use "-" for stdin).
A missing id is computed from the event's canonical serialization.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := buildEvent(cmd, time.Now())
		if err != nil {
			return err
		}
		broadcast, _ := cmd.Flags().GetBool("broadcast")

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		res, err := relayClient.Publish(ctx, ev, broadcast)
		if err != nil {
			return fmt.Errorf("publishing event: %w", err)
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, res)
		}
		fmt.Fprintf(out, "published %s\n", res.ID)
		if broadcast {
			fmt.Fprintf(out, "accepted by %d relays\n", res.Relays)
		}
		return nil
	},
}

// buildEvent assembles the event described by publishCmd's flags.
func buildEvent(cmd *cobra.Command, now time.Time) (*model.Event, error) {
	flags := cmd.Flags()

	if src, _ := flags.GetString("event"); src != "" {
		data := []byte(src)
		if src == "-" {
			var err error
			if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return nil, fmt.Errorf("reading event: %w", err)
			}
		}
		ev, err := model.ParseEvent(data)
		if err != nil {
			return nil, fmt.Errorf("invalid --event: %w", err)
		}
		if ev.ID == "" {
			ev.ID = ev.ComputeID()
		}
		return ev, nil
	}

	ev := &model.Event{Tags: [][]string{}}
	ev.Author, _ = flags.GetString("author")
	if ev.Author == "" {
		return nil, fmt.Errorf("--author is required")
	}
	ev.Kind, _ = flags.GetInt("kind")
	ev.Content, _ = flags.GetString("content")
	ev.Sig, _ = flags.GetString("sig")
	ev.CreatedAt = now.Unix()
	if flags.Changed("created-at") {
		ev.CreatedAt, _ = flags.GetInt64("created-at")
	}

	tags, _ := flags.GetStringArray("tag")
	for _, t := range tags {
		name, rest, ok := strings.Cut(t, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --tag %q (want name=value[,extra...])", t)
		}
		ev.Tags = append(ev.Tags, append([]string{name}, strings.Split(rest, ",")...))
	}

	ev.ID, _ = flags.GetString("id")
	if ev.ID == "" {
		ev.ID = ev.ComputeID()
	}
	return ev, nil
}

func addPublishFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("event", "", `full event as JSON ("-" reads stdin)`)
	f.String("author", "", "author pubkey")
	f.Int("kind", model.KindNote, "event kind")
	f.String("content", "", "event content")
	f.StringArray("tag", nil, "tag as name=value[,extra...] (repeatable)")
	f.Int64("created-at", 0, "creation time as unix seconds (default now)")
	f.String("id", "", "event id (default computed)")
	f.String("sig", "", "signature, passed through unverified")
	f.Bool("broadcast", false, "also send the event to the server's relays")
}

func init() {
	addPublishFlags(publishCmd)
}
