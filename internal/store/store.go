package store

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// Store defines the persistence interface for events.
type Store interface {
	// Events
	SaveEvents(ctx context.Context, events []*model.Event) (int, error) // returns how many were new
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	QueryEvents(ctx context.Context, filter model.Filter) ([]*model.Event, error)
	CountEvents(ctx context.Context) (int, error)

	// Key-value state (watermark, export cursors)
	GetValue(ctx context.Context, key string) (json.RawMessage, error)
	PutValue(ctx context.Context, key string, value json.RawMessage) error

	// Lifecycle
	Close() error
}
