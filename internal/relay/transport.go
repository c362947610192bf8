// Package relay is the physical relay transport: each relay is a NATS
// endpoint that carries events as JSON on per-kind subjects.
//
// Subscribe never blocks on the network. Connections are dialled and
// subscriptions opened on a background goroutine, and a relay that cannot be
// reached is logged, recorded in the presence roster and skipped. Filters are
// evaluated locally since NATS only routes by subject, which lets a
// subscription trade per-kind subjects for the wildcard to stay under its
// ceiling of live NATS subscriptions.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/relaymux/internal/events"
	"github.com/alfredjeanlab/relaymux/internal/idgen"
	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/alfredjeanlab/relaymux/internal/presence"
	"github.com/alfredjeanlab/relaymux/internal/pubsub"
)

// DefaultDialTimeout bounds each relay connection attempt.
const DefaultDialTimeout = 5 * time.Second

// Config configures a Transport.
type Config struct {
	// Relays is the default relay set.
	Relays []string
	// SubjectPrefix defaults to events.SubjectRelayEvents.
	SubjectPrefix string
	DialTimeout   time.Duration
	Presence      *presence.Tracker
	Logger        *slog.Logger
	// Options are appended to the connection options for every relay.
	Options []nats.Option
}

// Transport implements pubsub.RelayTransport over NATS.
type Transport struct {
	defaults []string
	prefix   string
	timeout  time.Duration
	presence *presence.Tracker
	logger   *slog.Logger
	opts     []nats.Option

	mu     sync.Mutex
	conns  map[string]*nats.Conn
	closed bool
}

var _ pubsub.RelayTransport = (*Transport)(nil)

// New returns a transport. Nothing is dialled until first use.
func New(cfg Config) *Transport {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = events.SubjectRelayEvents
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		defaults: slices.Clone(cfg.Relays),
		prefix:   prefix,
		timeout:  timeout,
		presence: cfg.Presence,
		logger:   logger,
		opts:     cfg.Options,
		conns:    make(map[string]*nats.Conn),
	}
}

// DefaultRelays returns the configured relay set.
func (t *Transport) DefaultRelays() []string {
	return slices.Clone(t.defaults)
}

// ConnectedRelays returns the relays with a live connection, sorted.
func (t *Transport) ConnectedRelays() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for url, nc := range t.conns {
		if nc.IsConnected() {
			out = append(out, url)
		}
	}
	sort.Strings(out)
	return out
}

// subscription is one logical relay subscription and the NATS
// subscriptions backing it.
type subscription struct {
	label   string
	filters []model.Filter
	onEvent func(*model.Event)

	// slots holds one token per live NATS subscription; nil means unbounded.
	slots chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// Subscribe opens filters on relays. A nil relay set means every relay the
// transport is connected to, or the defaults when none are connected yet.
//
// At most limit underlying NATS subscriptions are live at once. When the
// relay set times the per-kind subjects would exceed it, each relay gets the
// wildcard subject instead. Relays beyond the ceiling wait for a slot, which
// only frees when an earlier relay fails to open.
func (t *Transport) Subscribe(filters []model.Filter, relays []string, onEvent func(*model.Event), limit int) pubsub.Unsubscribe {
	if relays == nil {
		relays = t.ConnectedRelays()
		if len(relays) == 0 {
			relays = t.DefaultRelays()
		}
	}
	s := &subscription{
		label:   idgen.MustSubscriptionLabel(),
		filters: filters,
		onEvent: onEvent,
		done:    make(chan struct{}),
	}
	subjects := t.subjects(filters)
	if limit > 0 {
		s.slots = make(chan struct{}, limit)
		if len(subjects) > 1 && len(relays)*len(subjects) > limit {
			subjects = []string{events.AllKindsSubject(t.prefix)}
		}
	}

	go t.open(s, relays, subjects, limit)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.closed = true
			subs := s.subs
			s.subs = nil
			s.mu.Unlock()
			close(s.done)
			for _, sub := range subs {
				_ = sub.Unsubscribe()
			}
			t.logger.Debug("relay: closed subscription", "label", s.label, "subscriptions", len(subs))
		})
	}
}

func (t *Transport) open(s *subscription, relays, subjects []string, limit int) {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, url := range relays {
		for _, subject := range subjects {
			g.Go(func() error {
				if !s.acquire() {
					return nil
				}
				if err := t.openOne(s, url, subject); err != nil {
					s.release()
					t.logger.Warn("relay: subscribe failed", "relay", url, "subject", subject, "label", s.label, "err", err)
					t.presence.Record(presence.Activity{Relay: url, Kind: presence.ActivityError, Err: err})
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (t *Transport) openOne(s *subscription, url, subject string) error {
	nc, err := t.conn(url)
	if err != nil {
		return err
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		t.handle(s, url, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = sub.Unsubscribe()
		return nil
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (t *Transport) handle(s *subscription, url string, data []byte) {
	if s.isClosed() {
		return
	}
	ev, err := model.ParseEvent(data)
	if err != nil {
		t.logger.Debug("relay: dropping malformed event", "relay", url, "err", err)
		return
	}
	if !model.MatchesAny(s.filters, ev) {
		return
	}
	t.presence.Record(presence.Activity{Relay: url, Kind: presence.ActivityEvent})
	s.onEvent(ev)
}

// acquire takes a live-subscription slot, waiting for one to free up. It
// reports false once the subscription is closed.
func (s *subscription) acquire() bool {
	if s.slots == nil {
		return !s.isClosed()
	}
	select {
	case s.slots <- struct{}{}:
		if s.isClosed() {
			return false
		}
		return true
	case <-s.done:
		return false
	}
}

func (s *subscription) release() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// subjects narrows the NATS interest to per-kind subjects when every filter
// names its kinds, and falls back to the wildcard otherwise.
func (t *Transport) subjects(filters []model.Filter) []string {
	kinds := map[int]struct{}{}
	for _, f := range filters {
		if f.Kinds == nil {
			return []string{events.AllKindsSubject(t.prefix)}
		}
		for _, k := range f.Kinds {
			kinds[k] = struct{}{}
		}
	}
	if len(filters) == 0 {
		return []string{events.AllKindsSubject(t.prefix)}
	}
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, events.KindSubject(t.prefix, k))
	}
	sort.Strings(out)
	return out
}

// conn returns the cached connection to url, dialling it on first use.
func (t *Transport) conn(url string) (*nats.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("relay: transport closed")
	}
	if nc, ok := t.conns[url]; ok && !nc.IsClosed() {
		t.mu.Unlock()
		return nc, nil
	}
	t.mu.Unlock()

	opts := append(events.DefaultOptions(),
		nats.Name("relaymux"),
		nats.Timeout(t.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			t.presence.Record(presence.Activity{Relay: url, Kind: presence.ActivityDisconnect, Err: err})
			t.logger.Warn("relay: disconnected", "relay", url, "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			t.presence.Record(presence.Activity{Relay: url, Kind: presence.ActivityConnect})
			t.logger.Info("relay: reconnected", "relay", url)
		}),
	)
	opts = append(opts, t.opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay %s: %w", url, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		nc.Close()
		return nil, errors.New("relay: transport closed")
	}
	// Another goroutine may have dialled the same relay meanwhile.
	if existing, ok := t.conns[url]; ok && !existing.IsClosed() {
		nc.Close()
		return existing, nil
	}
	t.conns[url] = nc
	t.presence.Record(presence.Activity{Relay: url, Kind: presence.ActivityConnect})
	t.logger.Info("relay: connected", "relay", url)
	return nc, nil
}

// Publish sends ev to relays (the defaults when nil) and returns how many
// accepted it. An error is returned only when none did.
func (t *Transport) Publish(ctx context.Context, ev *model.Event, relays []string) (int, error) {
	if ev == nil {
		return 0, errors.New("relay: nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshaling event: %w", err)
	}
	if relays == nil {
		relays = t.DefaultRelays()
	}
	if len(relays) == 0 {
		return 0, errors.New("relay: no relays configured")
	}
	subject := events.KindSubject(t.prefix, ev.Kind)

	var (
		mu   sync.Mutex
		ok   int
		errs []error
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, url := range relays {
		g.Go(func() error {
			err := t.publishOne(ctx, url, subject, data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				ok++
			}
			return nil
		})
	}
	_ = g.Wait()

	if ok == 0 {
		return 0, errors.Join(errs...)
	}
	for _, err := range errs {
		t.logger.Warn("relay: publish failed", "id", ev.ID, "err", err)
	}
	return ok, nil
}

func (t *Transport) publishOne(ctx context.Context, url, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nc, err := t.conn(url)
	if err != nil {
		return err
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", url, err)
	}
	if err := nc.FlushTimeout(t.timeout); err != nil {
		return fmt.Errorf("flushing %s: %w", url, err)
	}
	return nil
}

// Close drops every relay connection. Subscriptions stop receiving.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	conns := t.conns
	t.conns = map[string]*nats.Conn{}
	t.mu.Unlock()
	for _, nc := range conns {
		nc.Close()
	}
	return nil
}
