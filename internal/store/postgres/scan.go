package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var (
		ev   model.Event
		tags []byte
	)
	if err := row.Scan(&ev.ID, &ev.Author, &ev.Kind, &ev.CreatedAt, &tags, &ev.Content, &ev.Sig); err != nil {
		return nil, err
	}
	ev.Tags = [][]string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &ev.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", ev.ID, err)
		}
		if ev.Tags == nil {
			ev.Tags = [][]string{}
		}
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan events: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

// tagsJSON encodes tags for the jsonb column; nil becomes [].
func tagsJSON(tags [][]string) ([]byte, error) {
	if tags == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return b, nil
}
