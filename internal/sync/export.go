// Package sync exports the persistent event store as JSONL to external
// destinations (S3-compatible buckets, git repositories) on a schedule.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/alfredjeanlab/relaymux/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int       `json:"event_count"`
	Since      *int64    `json:"since,omitempty"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every stored event with created_at >= since (all events
// when since is nil) to w, oldest first with ids breaking ties.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer, since *int64) (int, error) {
	events, err := s.QueryEvents(ctx, model.Filter{Since: since})
	if err != nil {
		return 0, fmt.Errorf("query events: %w", err)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt < events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		EventCount: len(events),
		Since:      since,
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	for _, ev := range events {
		if err := enc.Encode(record{Type: "event", Data: ev}); err != nil {
			return 0, fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
	}

	return len(events), nil
}
