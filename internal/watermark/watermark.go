// Package watermark tracks the "last opened" session timestamp.
//
// The tracker reads the persisted value once at startup and immediately
// writes the current time back. Advancing at session start rather than at
// clean shutdown means a crash can skip events from the crashed session on
// the next cold start; in exchange short repeated sessions never re-fetch
// the whole backlog.
package watermark

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store persists the watermark across restarts.
type Store interface {
	// Get returns the stored watermark. Implementations return ErrNotFound
	// (or any error) when nothing usable is stored.
	Get(ctx context.Context) (int64, error)
	Put(ctx context.Context, ts int64) error
}

// Tracker holds the watermark read at startup.
type Tracker struct {
	last int64
}

// Open reads the previous watermark from store and persists now() as the new
// one. It never fails: a missing, unreadable or negative value yields 0
// ("fetch everything") and write errors are only logged.
func Open(ctx context.Context, store Store, now func() time.Time, logger *slog.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	var last int64
	if v, err := store.Get(ctx); err != nil {
		logger.Info("watermark: no previous session, fetching full history", "err", err)
	} else if v < 0 {
		logger.Warn("watermark: ignoring negative value", "value", v)
	} else {
		last = v
	}

	next := now().Unix()
	if err := store.Put(ctx, next); err != nil {
		logger.Warn("watermark: failed to persist session start", "err", err)
	}

	logger.Info("watermark: session opened", "last_opened", last, "now", next)
	return &Tracker{last: last}
}

// Fixed returns a tracker pinned to ts without touching any store.
func Fixed(ts int64) *Tracker {
	return &Tracker{last: ts}
}

// Watermark returns the end of the previous session as unix seconds.
func (t *Tracker) Watermark() int64 {
	return t.last
}

// MemoryStore keeps the watermark in memory.
type MemoryStore struct {
	mu    sync.Mutex
	value int64
	set   bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return 0, ErrNotFound
	}
	return m.value, nil
}

func (m *MemoryStore) Put(_ context.Context, ts int64) error {
	m.mu.Lock()
	m.value, m.set = ts, true
	m.mu.Unlock()
	return nil
}
