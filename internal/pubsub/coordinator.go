// Package pubsub multiplexes event subscriptions across the memory index,
// the persistent store and the relay pool.
//
// The Coordinator owns the subscription registry and is the single fan-in
// point for every tier: the index answers eagerly at subscribe time, the
// store scans in the background and relays stream live, and everything they
// find is pushed through Ingest, which dedups via the index and then hands
// the event to Handle for dispatch.
//
// Concurrency: registry access is guarded by mu and dispatch is serialized by
// dispatchMu, so events arriving from many relay goroutines reach callbacks
// one at a time. Eager index matches are delivered on the subscribing
// goroutine before Subscribe returns, under the subscription's own lock, so a
// callback never runs on two goroutines at once and sees the whole snapshot
// before any live event. Callbacks must not call Ingest or Handle
// synchronously; they may Subscribe and Unsubscribe.
package pubsub

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/alfredjeanlab/relaymux/internal/flags"
	"github.com/alfredjeanlab/relaymux/internal/model"
)

// Subscription is a registered interest. Only the Coordinator mutates it.
type Subscription struct {
	ID       uint64
	Filter   model.Filter
	callback Callback
	active   atomic.Bool

	// cbMu serializes callback invocations.
	cbMu sync.Mutex
}

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Config wires the Coordinator's collaborators. Every field is optional; a
// missing tier is simply skipped.
type Config struct {
	Index     LocalIndex
	Store     PersistentStore
	Recorder  Recorder
	Transport RelayTransport
	Watermark WatermarkSource
	Flags     *flags.Cell

	SpecializedRelays []string
	MaxSubscriptions  int

	Logger *slog.Logger
}

// Coordinator is the subscription registry, tier coordinator and event router.
type Coordinator struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64

	dispatchMu sync.Mutex

	index    LocalIndex
	store    PersistentStore
	recorder Recorder
	pool     *RelayPool
	flags    *flags.Cell
	logger   *slog.Logger

	delivered atomic.Uint64
	dupes     atomic.Uint64
}

// New creates a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cell := cfg.Flags
	if cell == nil {
		cell = flags.NewCell(flags.Defaults())
	}
	c := &Coordinator{
		subs:     make(map[uint64]*Subscription),
		index:    cfg.Index,
		store:    cfg.Store,
		recorder: cfg.Recorder,
		flags:    cell,
		logger:   logger,
	}
	if cfg.Transport != nil {
		c.pool = NewRelayPool(RelayPoolConfig{
			Transport:         cfg.Transport,
			Watermark:         cfg.Watermark,
			SpecializedRelays: cfg.SpecializedRelays,
			MaxSubscriptions:  cfg.MaxSubscriptions,
			Logger:            logger,
		}, c)
	}
	return c
}

// Flags returns the coordinator's flag cell.
func (c *Coordinator) Flags() *flags.Cell {
	return c.flags
}

// Subscribe registers cb for events matching filter and returns its
// Unsubscribe. Pre-existing matches in the memory index are delivered to cb
// before Subscribe returns. The store scan and the relay subscription are
// opened whether or not cb is nil: a nil cb warms the caches without
// delivering anything. With sinceLastOpened, relays are only asked for
// events newer than the previous session.
//
// Subscribe never fails; filters are not validated here.
func (c *Coordinator) Subscribe(filter model.Filter, cb Callback, sinceLastOpened bool) Unsubscribe {
	f := c.flags.Load()

	var sub *Subscription
	if cb != nil {
		sub = &Subscription{Filter: filter.Clone(), callback: cb}
		sub.active.Store(true)

		// Registration and the index snapshot happen under one lock so an
		// event racing in through Ingest is seen by exactly one of them. The
		// callback lock is taken first so that event waits for the snapshot.
		var existing []*model.Event
		sub.cbMu.Lock()
		c.mu.Lock()
		c.nextID++
		sub.ID = c.nextID
		c.subs[sub.ID] = sub
		if c.index != nil {
			existing = c.index.Find(sub.Filter)
		}
		c.mu.Unlock()

		for _, ev := range existing {
			if !sub.active.Load() {
				break
			}
			cb(ev)
		}
		sub.cbMu.Unlock()
	}

	if c.store != nil {
		c.store.SubscribeBackgroundScan(filter.Clone())
	}

	unsubRelays := c.pool.Open([]model.Filter{filter}, sinceLastOpened, f)

	if f.LoggingEnabled {
		id := uint64(0)
		if sub != nil {
			id = sub.ID
		}
		c.logger.Info("pubsub: subscribed", "id", id, "filter", filter.String(), "delivers", cb != nil)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubRelays()
			if sub != nil {
				sub.active.Store(false)
				c.mu.Lock()
				delete(c.subs, sub.ID)
				c.mu.Unlock()
			}
		})
	}
}

// Ingest is the Deliverer every tier pushes into. Events already present in
// the memory index are dropped; new ones are recorded and dispatched.
func (c *Coordinator) Ingest(ev *model.Event) {
	c.ingest(ev, true)
}

// Replay returns the Deliverer for events read back from the persistent
// store. They are deduped and dispatched like Ingest but not recorded again.
func (c *Coordinator) Replay() Deliverer {
	return replaySink{c}
}

type replaySink struct{ c *Coordinator }

func (r replaySink) Ingest(ev *model.Event) { r.c.ingest(ev, false) }

func (c *Coordinator) ingest(ev *model.Event, record bool) {
	if ev == nil {
		return
	}
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	if c.index != nil && !c.index.Add(ev) {
		c.mu.Unlock()
		c.dupes.Add(1)
		return
	}
	subs := c.matchingLocked(ev)
	c.mu.Unlock()

	if record && c.recorder != nil {
		c.recorder.Record(ev)
	}
	c.dispatch(ev, subs)
}

// Handle invokes the callback of every active subscription whose filter
// matches ev. It does not dedup; use Ingest for tier deliveries. Handle
// shares Ingest's dispatch lock.
func (c *Coordinator) Handle(ev *model.Event) {
	if ev == nil {
		return
	}
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	subs := c.matchingLocked(ev)
	c.mu.Unlock()
	c.dispatch(ev, subs)
}

func (c *Coordinator) dispatch(ev *model.Event, subs []*Subscription) {
	for _, sub := range subs {
		sub.cbMu.Lock()
		// Unsubscribed since the snapshot: drop silently.
		if sub.active.Load() {
			sub.callback(ev)
			c.delivered.Add(1)
		}
		sub.cbMu.Unlock()
	}
}

func (c *Coordinator) matchingLocked(ev *model.Event) []*Subscription {
	var out []*Subscription
	for _, sub := range c.subs {
		if sub.Filter.Matches(ev) {
			out = append(out, sub)
		}
	}
	// Registration order keeps dispatch deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	Subscriptions int    `json:"subscriptions"`
	NextID        uint64 `json:"next_id"`
	Delivered     uint64 `json:"delivered"`
	Duplicates    uint64 `json:"duplicates"`
}

// Stats returns current counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	n, next := len(c.subs), c.nextID+1
	c.mu.Unlock()
	return Stats{
		Subscriptions: n,
		NextID:        next,
		Delivered:     c.delivered.Load(),
		Duplicates:    c.dupes.Load(),
	}
}

// Subscriptions returns the active subscriptions ordered by id.
func (c *Coordinator) Subscriptions() []*Subscription {
	c.mu.Lock()
	out := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		out = append(out, sub)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
