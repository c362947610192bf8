// Package client provides a transport-agnostic interface for the relaymux
// service, with HTTP/JSON and gRPC implementations.
package client

import (
	"context"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// RelayClient is the interface relaymux CLI commands use to communicate with
// a relaymux server. It is implemented by HTTPClient (default) and GRPCClient.
type RelayClient interface {
	Health(ctx context.Context) (string, error)

	// Query returns stored events matching filter, newest first.
	Query(ctx context.Context, filter model.Filter) ([]*model.Event, error)

	// Publish ingests ev on the server, also sending it to relays when
	// broadcast is set.
	Publish(ctx context.Context, ev *model.Event, broadcast bool) (*PublishResult, error)

	// Subscribe calls fn for every event matching filter until ctx is done or
	// the server ends the stream. It returns nil when ctx is cancelled.
	Subscribe(ctx context.Context, filter model.Filter, sinceLastOpened bool, fn func(*model.Event)) error

	Close() error
}

// PublishResult is the response from Publish.
type PublishResult struct {
	ID     string `json:"id"`
	Relays int    `json:"relays"` // relays that accepted a broadcast
}
