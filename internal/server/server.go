package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/events"
	"github.com/alfredjeanlab/relaymux/internal/flags"
	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/alfredjeanlab/relaymux/internal/presence"
	"github.com/alfredjeanlab/relaymux/internal/pubsub"
)

// subscriberBuffer is how many events a streaming client may fall behind
// before further events are dropped for it.
const subscriberBuffer = 256

// Snapshot answers one-shot queries from a tier.
type Snapshot interface {
	Find(filter model.Filter) []*model.Event
}

// Querier is the persistent tier as seen by one-shot queries.
type Querier interface {
	QueryEvents(ctx context.Context, filter model.Filter) ([]*model.Event, error)
}

// Broadcaster sends events out to relays.
type Broadcaster interface {
	Publish(ctx context.Context, ev *model.Event, relays []string) (int, error)
}

// Config wires a RelayServer. Coordinator is required.
type Config struct {
	Coordinator *pubsub.Coordinator
	Index       Snapshot
	Store       Querier
	Broadcaster Broadcaster
	Presence    *presence.Tracker
	Watermark   pubsub.WatermarkSource

	// FlagsFile, when set, receives every flag update made over the API.
	FlagsFile string
	// Bus announces flag updates made over the API on events.SubjectFlags.
	// Nil means events.NoopPublisher.
	Bus events.Publisher
	// RejectEmptyFilters refuses filters that constrain nothing.
	RejectEmptyFilters bool

	Logger *slog.Logger
}

// RelayServer exposes the coordinator over HTTP and gRPC.
type RelayServer struct {
	coord       *pubsub.Coordinator
	index       Snapshot
	store       Querier
	broadcaster Broadcaster
	Presence    *presence.Tracker
	watermark   pubsub.WatermarkSource
	flagsFile   string
	bus         events.Publisher
	rejectEmpty bool
	logger      *slog.Logger
}

// New returns a RelayServer for cfg.
func New(cfg Config) *RelayServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = &events.NoopPublisher{}
	}
	return &RelayServer{
		coord:       cfg.Coordinator,
		index:       cfg.Index,
		store:       cfg.Store,
		broadcaster: cfg.Broadcaster,
		Presence:    cfg.Presence,
		watermark:   cfg.Watermark,
		flagsFile:   cfg.FlagsFile,
		bus:         bus,
		rejectEmpty: cfg.RejectEmptyFilters,
		logger:      logger,
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// checkFilter applies the boundary rules for filters arriving from clients.
// An empty filter is legal unless the server is hardened.
func (s *RelayServer) checkFilter(f *model.Filter) error {
	if f.IsEmpty() {
		if s.rejectEmpty {
			return inputError("filter must constrain at least one field")
		}
		if f.Limit < 0 {
			return inputError("limit must not be negative")
		}
		return nil
	}
	if err := f.Validate(); err != nil {
		return inputError(err.Error())
	}
	return nil
}

// query returns stored events matching filter, newest first. The memory index
// and the persistent store are merged and deduplicated by id.
func (s *RelayServer) query(ctx context.Context, filter model.Filter) ([]*model.Event, error) {
	if err := s.checkFilter(&filter); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []*model.Event
	add := func(evs []*model.Event) {
		for _, ev := range evs {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}

	if s.index != nil {
		add(s.index.Find(filter))
	}
	if s.store != nil {
		evs, err := s.store.QueryEvents(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("query store: %w", err)
		}
		add(evs)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	if out == nil {
		out = []*model.Event{}
	}
	return out, nil
}

// publish ingests ev locally and, with broadcast, sends it to the default
// relays. It returns how many relays accepted the event.
func (s *RelayServer) publish(ctx context.Context, ev *model.Event, broadcast bool) (int, error) {
	if ev == nil {
		return 0, inputError("event is required")
	}
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	if err := model.ValidateEvent(ev); err != nil {
		return 0, inputError(err.Error())
	}

	s.coord.Ingest(ev)

	if !broadcast {
		return 0, nil
	}
	if s.broadcaster == nil {
		return 0, inputError("broadcast is not available: no relay transport")
	}
	n, err := s.broadcaster.Publish(ctx, ev, nil)
	if err != nil {
		return 0, fmt.Errorf("broadcast: %w", err)
	}
	return n, nil
}

// stream is one client's live subscription.
type stream struct {
	// Snapshot is the memory index's answer at subscribe time, in delivery
	// order. It is sent in full before anything from C.
	Snapshot []*model.Event
	C        <-chan *model.Event

	unsubscribe pubsub.Unsubscribe
	dropped     atomic.Int64

	mu      sync.Mutex
	live    bool
	pending []*model.Event
}

func (st *stream) Close() { st.unsubscribe() }

// subscribe registers a coordinator subscription for a streaming client.
// Eager matches are collected into Snapshot; later events feed a buffered
// channel and are dropped for the client when it is full, so a slow consumer
// never stalls dispatch.
func (s *RelayServer) subscribe(filter model.Filter, sinceLastOpened bool) (*stream, error) {
	if err := s.checkFilter(&filter); err != nil {
		return nil, err
	}
	ch := make(chan *model.Event, subscriberBuffer)
	st := &stream{C: ch}
	st.unsubscribe = s.coord.Subscribe(filter, func(ev *model.Event) {
		st.mu.Lock()
		if !st.live {
			st.pending = append(st.pending, ev)
			st.mu.Unlock()
			return
		}
		st.mu.Unlock()
		select {
		case ch <- ev:
		default:
			if n := st.dropped.Add(1); n == 1 || n%100 == 0 {
				s.logger.Warn("subscriber is slow, dropping events", "dropped", n)
			}
		}
	}, sinceLastOpened)

	st.mu.Lock()
	st.live = true
	st.Snapshot, st.pending = st.pending, nil
	st.mu.Unlock()
	return st, nil
}

// setFlags replaces the runtime flags, persisting them when a flags file is
// configured, and announces them to peers on the bus.
func (s *RelayServer) setFlags(ctx context.Context, f flags.Flags) error {
	if s.flagsFile != "" {
		if err := flags.SaveFile(s.flagsFile, f); err != nil {
			return fmt.Errorf("save flags: %w", err)
		}
	}
	s.coord.Flags().Store(f)
	if err := s.bus.Publish(ctx, events.SubjectFlags, f); err != nil {
		s.logger.Warn("failed to announce flags", "err", err)
	}
	return nil
}

// roster returns the relay presence roster.
func (s *RelayServer) roster(stale time.Duration) []presence.Entry {
	if s.Presence == nil {
		return []presence.Entry{}
	}
	entries := s.Presence.Roster(stale)
	if entries == nil {
		entries = []presence.Entry{}
	}
	return entries
}

func (s *RelayServer) currentWatermark() int64 {
	if s.watermark == nil {
		return 0
	}
	return s.watermark.Watermark()
}
