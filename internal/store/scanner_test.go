package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// memStore is a minimal in-memory Store for scanner tests.
type memStore struct {
	mu       sync.Mutex
	events   map[string]*model.Event
	batches  int
	queryErr error
	kv       map[string]json.RawMessage
}

func newMemStore() *memStore {
	return &memStore{events: map[string]*model.Event{}, kv: map[string]json.RawMessage{}}
}

func (m *memStore) SaveEvents(_ context.Context, events []*model.Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	n := 0
	for _, ev := range events {
		if _, ok := m.events[ev.ID]; !ok {
			m.events[ev.ID] = ev
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return ev, nil
}

func (m *memStore) QueryEvents(_ context.Context, filter model.Filter) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []*model.Event
	for _, ev := range m.events {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (m *memStore) CountEvents(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), nil
}

func (m *memStore) GetValue(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return v, nil
}

func (m *memStore) PutValue(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *memStore) Close() error { return nil }

type sinkRecorder struct {
	mu  sync.Mutex
	ids []string
	ch  chan struct{}
}

func newSinkRecorder() *sinkRecorder { return &sinkRecorder{ch: make(chan struct{}, 100)} }

func (r *sinkRecorder) Ingest(ev *model.Event) {
	r.mu.Lock()
	r.ids = append(r.ids, ev.ID)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *sinkRecorder) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestScanner_BackgroundScanOldestFirst(t *testing.T) {
	st := newMemStore()
	st.events["a"] = &model.Event{ID: "a", Kind: 1, CreatedAt: 30}
	st.events["b"] = &model.Event{ID: "b", Kind: 1, CreatedAt: 10}
	st.events["c"] = &model.Event{ID: "c", Kind: 0, CreatedAt: 20}

	sc := NewScanner(st, ScannerConfig{Logger: quiet})
	sink := newSinkRecorder()
	sc.Start(context.Background(), sink)
	defer sc.Stop()

	sc.SubscribeBackgroundScan(model.Filter{Kinds: []int{1}})
	got := sink.wait(t, 2)
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("scan delivered %v, want [b a]", got)
	}
}

func TestScanner_ScanErrorIsLogged(t *testing.T) {
	st := newMemStore()
	st.queryErr = errors.New("connection refused")
	st.events["a"] = &model.Event{ID: "a"}

	sc := NewScanner(st, ScannerConfig{Logger: quiet})
	sink := newSinkRecorder()
	sc.Start(context.Background(), sink)

	sc.SubscribeBackgroundScan(model.Filter{})
	sc.Stop()

	if len(sink.ids) != 0 {
		t.Fatalf("failed scan delivered %v", sink.ids)
	}
}

func TestScanner_ScanBeforeStartIsSkipped(t *testing.T) {
	st := newMemStore()
	st.events["a"] = &model.Event{ID: "a"}
	sc := NewScanner(st, ScannerConfig{Logger: quiet})
	sc.SubscribeBackgroundScan(model.Filter{})
	sc.Stop()
}

func TestScanner_RecordBatchesAndFlushesOnStop(t *testing.T) {
	st := newMemStore()
	sc := NewScanner(st, ScannerConfig{BatchSize: 2, FlushInterval: time.Hour, Logger: quiet})
	sc.Start(context.Background(), newSinkRecorder())

	for _, id := range []string{"e1", "e2", "e3", "e1"} {
		sc.Record(&model.Event{ID: id})
	}
	sc.Record(nil)
	sc.Stop()

	if n, _ := st.CountEvents(context.Background()); n != 3 {
		t.Fatalf("stored %d events, want 3", n)
	}
	if got := sc.Stats().Saved; got != 3 {
		t.Fatalf("Saved = %d, want 3", got)
	}
	if st.batches != 2 {
		t.Fatalf("batches = %d, want 2", st.batches)
	}
}

func TestScanner_RecordFlushesOnInterval(t *testing.T) {
	st := newMemStore()
	sc := NewScanner(st, ScannerConfig{FlushInterval: 10 * time.Millisecond, Logger: quiet})
	sc.Start(context.Background(), newSinkRecorder())
	defer sc.Stop()

	sc.Record(&model.Event{ID: "e1"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := st.GetEvent(context.Background(), "e1"); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("event never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScanner_RecordDropsWhenFull(t *testing.T) {
	st := newMemStore()
	sc := NewScanner(st, ScannerConfig{QueueSize: 2, Logger: quiet})

	// Not started: nothing drains the queue.
	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		sc.Record(&model.Event{ID: id})
	}
	stats := sc.Stats()
	if stats.Dropped != 2 || stats.Pending != 2 {
		t.Fatalf("stats = %+v, want 2 dropped and 2 pending", stats)
	}
}

func TestScanner_StopIsIdempotent(t *testing.T) {
	sc := NewScanner(newMemStore(), ScannerConfig{Logger: quiet})
	sc.Start(context.Background(), nil)
	sc.Stop()
	sc.Stop()
	sc.SubscribeBackgroundScan(model.Filter{})
}
