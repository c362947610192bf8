package pubsub

import "github.com/alfredjeanlab/relaymux/internal/model"

// Callback receives events matching a subscription's filter.
type Callback func(ev *model.Event)

// Unsubscribe tears a subscription down. Calling it more than once is a no-op.
type Unsubscribe func()

// Deliverer is the single ingestion point every tier pushes events into.
type Deliverer interface {
	Ingest(ev *model.Event)
}

// LocalIndex is the in-memory tier.
type LocalIndex interface {
	// Find returns indexed events matching filter, honouring filter.Limit.
	Find(filter model.Filter) []*model.Event
	// Add indexes ev and reports whether its id was unseen.
	Add(ev *model.Event) bool
}

// PersistentStore is the local durable tier. A scan runs in the background
// and pushes its matches into the Deliverer it was started with.
type PersistentStore interface {
	SubscribeBackgroundScan(filter model.Filter)
}

// Recorder persists events as they are ingested. Record must not block.
type Recorder interface {
	Record(ev *model.Event)
}

// RelayTransport manages the physical relay connections.
type RelayTransport interface {
	// Subscribe opens filters on relays (nil lets the transport choose) with
	// at most limit concurrent underlying subscriptions, calling onEvent for
	// every event received. It must not block on network I/O.
	Subscribe(filters []model.Filter, relays []string, onEvent func(*model.Event), limit int) Unsubscribe
	// DefaultRelays is the statically configured relay set.
	DefaultRelays() []string
}

// WatermarkSource yields the previous session's end time.
type WatermarkSource interface {
	Watermark() int64
}

func noopUnsubscribe() {}
