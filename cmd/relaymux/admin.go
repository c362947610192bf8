package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/events"
	"github.com/alfredjeanlab/relaymux/internal/flags"
	"github.com/alfredjeanlab/relaymux/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show server health, watermark and subscription counters",
	GroupID: "admin",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		health, err := relayClient.Health(ctx)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		admin := adminClient()
		wm, err := admin.Watermark(ctx)
		if err != nil {
			return fmt.Errorf("reading watermark: %w", err)
		}
		subs, err := admin.Subscriptions(ctx)
		if err != nil {
			return fmt.Errorf("listing subscriptions: %w", err)
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]any{
				"status":        health,
				"watermark":     wm,
				"stats":         subs.Stats,
				"subscriptions": subs.Subscriptions,
			})
		}

		state := ui.RenderOK(health)
		if health != "ok" {
			state = ui.RenderFail(health)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "health:\t%s\n", state)
		if wm > 0 {
			fmt.Fprintf(w, "last opened:\t%s\n", formatTime(wm))
		} else {
			fmt.Fprintf(w, "last opened:\t%s\n", ui.RenderMuted("never"))
		}
		fmt.Fprintf(w, "subscriptions:\t%d\n", subs.Stats.Subscriptions)
		fmt.Fprintf(w, "delivered:\t%d\n", subs.Stats.Delivered)
		fmt.Fprintf(w, "duplicates:\t%d\n", subs.Stats.Duplicates)
		if err := w.Flush(); err != nil {
			return err
		}
		for _, s := range subs.Subscriptions {
			fmt.Fprintf(out, "  #%d %s\n", s.ID, ui.RenderMuted(s.Filter.String()))
		}
		if health != "ok" {
			return fmt.Errorf("unhealthy: %s", health)
		}
		return nil
	},
}

var relaysCmd = &cobra.Command{
	Use:     "relays",
	Short:   "Show the server's relay roster",
	GroupID: "admin",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, _ := cmd.Flags().GetDuration("stale")
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		relays, err := adminClient().Relays(ctx, int(stale.Seconds()))
		if err != nil {
			return fmt.Errorf("listing relays: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), relays)
		}
		if len(relays) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no relays seen")
			return nil
		}
		printRelayTable(cmd.OutOrStdout(), relays)
		return nil
	},
}

var flagsCmd = &cobra.Command{
	Use:     "flags",
	Short:   "Show or change the server's runtime flags",
	GroupID: "admin",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := adminClient().GetFlags(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading flags: %w", err)
		}
		return printFlags(cmd, f)
	},
}

var flagsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change flags on one server over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		admin := adminClient()
		f, err := admin.GetFlags(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading flags: %w", err)
		}
		applyFlagChanges(cmd, &f)
		if f, err = admin.SetFlags(cmd.Context(), f); err != nil {
			return fmt.Errorf("updating flags: %w", err)
		}
		return printFlags(cmd, f)
	},
}

var flagsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Broadcast flags to every server listening on the NATS flag bus",
	Long: `Broadcast flags to every server listening on the NATS flag bus.

The pushed flags start from --file when given, otherwise from the defaults,
with the flag options applied on top. Servers replace their flags wholesale.`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = os.Getenv("RELAYMUX_NATS_URL")
		}
		if natsURL == "" {
			natsURL = activeRemote().NATSURL
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL: pass --nats, set RELAYMUX_NATS_URL or configure the remote")
		}

		f := flags.Defaults()
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			var err error
			if f, err = flags.LoadFile(path); err != nil {
				return err
			}
		}
		applyFlagChanges(cmd, &f)

		pub, err := events.NewNATSPublisher(natsURL)
		if err != nil {
			return err
		}
		defer pub.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, events.SubjectFlags, f); err != nil {
			return fmt.Errorf("pushing flags: %w", err)
		}
		if err := pub.Flush(); err != nil {
			return fmt.Errorf("pushing flags: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "flags pushed to %s\n", events.SubjectFlags)
		return printFlags(cmd, f)
	},
}

func addFlagOptions(cmd *cobra.Command) {
	cmd.Flags().Bool("logging", false, "log subscription activity")
	cmd.Flags().Bool("specialized-relays", false, "route metadata kinds to the specialized relay subset")
	cmd.Flags().Bool("external-pool", false, "subscribe through the relay pool instead of direct relay subscriptions")
}

// applyFlagChanges copies explicitly given flag options onto f.
func applyFlagChanges(cmd *cobra.Command, f *flags.Flags) {
	fs := cmd.Flags()
	if fs.Changed("logging") {
		f.LoggingEnabled, _ = fs.GetBool("logging")
	}
	if fs.Changed("specialized-relays") {
		f.UseSpecializedRelaySubset, _ = fs.GetBool("specialized-relays")
	}
	if fs.Changed("external-pool") {
		f.UseExternalPool, _ = fs.GetBool("external-pool")
	}
}

func printFlags(cmd *cobra.Command, f flags.Flags) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, f)
	}
	onOff := func(b bool) string {
		if b {
			return ui.RenderOK("on")
		}
		return ui.RenderMuted("off")
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "logging:\t%s\n", onOff(f.LoggingEnabled))
	fmt.Fprintf(w, "specialized-relays:\t%s\n", onOff(f.UseSpecializedRelaySubset))
	fmt.Fprintf(w, "external-pool:\t%s\n", onOff(f.UseExternalPool))
	return w.Flush()
}

func init() {
	relaysCmd.Flags().Duration("stale", 0, "hide relays idle longer than this (default: server default)")

	addFlagOptions(flagsSetCmd)
	addFlagOptions(flagsPushCmd)
	flagsPushCmd.Flags().String("nats", "", "NATS URL of the flag bus")
	flagsPushCmd.Flags().String("file", "", "TOML flags file to start from")

	flagsCmd.AddCommand(flagsSetCmd)
	flagsCmd.AddCommand(flagsPushCmd)
}
