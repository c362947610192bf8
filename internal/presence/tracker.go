// Package presence tracks relay connection health for the relay roster.
//
// The relay transport records every connect, disconnect and received event
// here. A background reaper marks relays that have gone quiet as dead so the
// roster served at GET /v1/relays reflects what is actually streaming.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Activity kinds recorded by the transport.
const (
	ActivityConnect    = "connect"
	ActivityDisconnect = "disconnect"
	ActivityEvent      = "event"
	ActivityError      = "error"
)

// Entry is a snapshot of one relay's presence.
type Entry struct {
	Relay        string    `json:"relay"`
	Connected    bool      `json:"connected"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	LastActivity string    `json:"last_activity"`
	LastError    string    `json:"last_error,omitempty"`
	IdleSecs     float64   `json:"idle_secs"`
	EventCount   int64     `json:"event_count"`
	Reaped       bool      `json:"reaped,omitempty"`
	ReapedAt     time.Time `json:"reaped_at,omitempty"`
}

// Activity is a single observation about a relay.
type Activity struct {
	Relay string
	Kind  string // one of the Activity* constants
	Err   error
}

// ReaperConfig configures the background dead-relay reaper.
type ReaperConfig struct {
	// DeadThreshold is how long a relay may go without activity before it is
	// marked dead. Default: 5 minutes.
	DeadThreshold time.Duration

	// EvictAfter is how long a reaped relay stays in the roster.
	// Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper runs. Default: 30 seconds.
	SweepInterval time.Duration

	// OnDead is called outside the lock for each relay newly marked dead.
	OnDead func(relay string)
}

// Tracker maintains the in-memory relay roster.
type Tracker struct {
	mu     sync.RWMutex
	relays map[string]*relayState
	now    func() time.Time
	logger *slog.Logger

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type relayState struct {
	firstSeen    time.Time
	lastSeen     time.Time
	lastActivity string
	lastError    string
	connected    bool
	eventCount   int64
	reaped       bool
	reapedAt     time.Time
}

// New creates a tracker. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		relays: make(map[string]*relayState),
		now:    time.Now,
		logger: logger,
	}
}

// Record updates the relay's state from a.
func (t *Tracker) Record(a Activity) {
	if t == nil || a.Relay == "" {
		return
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.relays[a.Relay]
	if !ok {
		state = &relayState{firstSeen: now}
		t.relays[a.Relay] = state
	}

	if state.reaped && a.Kind != ActivityDisconnect {
		t.logger.Info("presence: relay back", "relay", a.Relay)
		state.reaped = false
		state.reapedAt = time.Time{}
	}

	state.lastSeen = now
	state.lastActivity = a.Kind
	switch a.Kind {
	case ActivityConnect:
		state.connected = true
		state.lastError = ""
	case ActivityDisconnect:
		state.connected = false
	case ActivityEvent:
		state.connected = true
		state.eventCount++
	}
	if a.Err != nil {
		state.lastError = a.Err.Error()
	}
}

// Roster returns every tracked relay, most recently active first. Relays idle
// for longer than staleThreshold are skipped; 0 includes all.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.relays))
	for relay, state := range t.relays {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		entries = append(entries, Entry{
			Relay:        relay,
			Connected:    state.connected,
			FirstSeen:    state.firstSeen,
			LastSeen:     state.lastSeen,
			LastActivity: state.lastActivity,
			LastError:    state.lastError,
			IdleSecs:     idle.Seconds(),
			EventCount:   state.eventCount,
			Reaped:       state.reaped,
			ReapedAt:     state.reapedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].Relay < entries[j].Relay
	})
	return entries
}

// StartReaper launches the reaper goroutine. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = 5 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	t.logger.Info("presence: reaper started",
		"dead_threshold", cfg.DeadThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()
	var newlyDead []string

	t.mu.Lock()
	for relay, state := range t.relays {
		if state.reaped {
			if !state.reapedAt.IsZero() && now.Sub(state.reapedAt) > cfg.EvictAfter {
				delete(t.relays, relay)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.DeadThreshold {
			state.reaped = true
			state.reapedAt = now
			state.connected = false
			newlyDead = append(newlyDead, relay)
		}
	}
	t.mu.Unlock()

	sort.Strings(newlyDead)
	for _, relay := range newlyDead {
		t.logger.Info("presence: relay marked dead", "relay", relay, "threshold", cfg.DeadThreshold)
		if cfg.OnDead != nil {
			cfg.OnDead(relay)
		}
	}
}
