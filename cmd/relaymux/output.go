package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/alfredjeanlab/relaymux/internal/presence"
	"github.com/alfredjeanlab/relaymux/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// oneLine flattens s and cuts it to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04:05")
}

func printEventTable(w io.Writer, evs []*model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tAUTHOR\tCREATED\tCONTENT")
	for _, ev := range evs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shorten(ev.ID, 12),
			ui.KindLabel(ev.Kind),
			shorten(ev.Author, 12),
			formatTime(ev.CreatedAt),
			oneLine(ev.Content, 60),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d events\n", len(evs))
}

// printEventLine writes one streamed event.
func printEventLine(w io.Writer, ev *model.Event) {
	fmt.Fprintf(w, "%s %s kind=%s %s %s\n",
		ui.RenderMuted(formatTime(ev.CreatedAt)),
		shorten(ev.ID, 12),
		ui.KindLabel(ev.Kind),
		ui.RenderAccent(shorten(ev.Author, 12)),
		oneLine(ev.Content, 80),
	)
}

func printRelayTable(w io.Writer, relays []presence.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RELAY\tSTATE\tEVENTS\tIDLE\tLAST ERROR")
	for _, r := range relays {
		idle := (time.Duration(r.IdleSecs) * time.Second).String()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Relay, ui.RelayState(r.Connected, r.Reaped), r.EventCount, idle, r.LastError)
	}
	tw.Flush()
}

// compactJSON renders v on one line, for streamed output.
func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}
